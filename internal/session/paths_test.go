package session

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestLayout(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnvVar, "")
	t.Setenv("HOME", home)

	base := filepath.Join(home, ".canteiro")
	dir := filepath.Join(base, "sessions", "work")
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"base", BaseDir(), base},
		{"config", ConfigPath(), filepath.Join(base, "config.toml")},
		{"dir", Dir("work"), dir},
		{"socket", SocketPath("work"), filepath.Join(dir, "daemon.sock")},
		{"session config", ConfigFile("work"), filepath.Join(dir, "session.toml")},
		{"journal", JournalPath("work"), filepath.Join(dir, "journal.db")},
		{"device", DeviceDBPath("work"), filepath.Join(dir, "device.db")},
		{"log", LogPath("work"), filepath.Join(dir, "logs", "canteirod.log")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestHomeOverride(t *testing.T) {
	t.Setenv(HomeEnvVar, "/srv/canteiro")
	if got := SocketPath("main"); got != "/srv/canteiro/sessions/main/daemon.sock" {
		t.Errorf("SocketPath = %q", got)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv(HomeEnvVar, t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	for _, d := range []string{Dir("test"), filepath.Dir(LogPath("test"))} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("%s not created: %v", d, err)
		}
		if !info.IsDir() || info.Mode().Perm() != 0700 {
			t.Errorf("%s: dir=%v perm=%o, want 0700 dir", d, info.IsDir(), info.Mode().Perm())
		}
	}
}

func TestList(t *testing.T) {
	t.Setenv(HomeEnvVar, t.TempDir())

	names, err := List()
	if err != nil || len(names) != 0 {
		t.Fatalf("List() on a fresh home = %v, %v", names, err)
	}

	for _, n := range []string{"work", "main"} {
		if err := EnsureDir(n); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(Dir("Bad Name"), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(Dir("stray-file"), nil, 0600); err != nil {
		t.Fatal(err)
	}

	names, err = List()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(names, []string{"main", "work"}) {
		t.Errorf("List() = %v, want [main work]", names)
	}
}

// Package session names sessions and lays out their files. Everything a
// session owns lives under one directory:
//
//	~/.canteiro/
//	  config.toml                 default_session
//	  sessions/<name>/
//	    session.toml              transport and sync settings
//	    LOCK                      held by the running daemon
//	    daemon.sock               API socket
//	    journal.db                outbox and pending deletes
//	    device.db                 whatsapp transport only
//	    logs/canteirod.log
package session

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// HomeEnvVar relocates the whole tree, mostly for tests and containers.
const HomeEnvVar = "CANTEIRO_HOME"

// BaseDir is $CANTEIRO_HOME, or ~/.canteiro.
func BaseDir() string {
	if dir := os.Getenv(HomeEnvVar); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".canteiro")
}

// ConfigPath is the user-wide config.toml.
func ConfigPath() string { return filepath.Join(BaseDir(), "config.toml") }

func sessionsDir() string { return filepath.Join(BaseDir(), "sessions") }

// Dir is the directory of session name.
func Dir(name string) string { return filepath.Join(sessionsDir(), name) }

func inSession(name string, elem ...string) string {
	return filepath.Join(append([]string{Dir(name)}, elem...)...)
}

func SocketPath(name string) string   { return inSession(name, "daemon.sock") }
func ConfigFile(name string) string   { return inSession(name, "session.toml") }
func JournalPath(name string) string  { return inSession(name, "journal.db") }
func DeviceDBPath(name string) string { return inSession(name, "device.db") }
func LogPath(name string) string      { return inSession(name, "logs", "canteirod.log") }

// EnsureDir creates the session directory and its logs directory, owner-only.
func EnsureDir(name string) error {
	return os.MkdirAll(filepath.Dir(LogPath(name)), 0700)
}

// List returns the sessions that exist on disk, sorted. Directories whose
// names are not valid session names are ignored.
func List() ([]string, error) {
	entries, err := os.ReadDir(sessionsDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

package session

import (
	"strings"
	"testing"

	"github.com/matheus3301/canteiro/internal/config"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"main", false},
		{"work123", false},
		{"my-session", false},
		{"_scratch", false},
		{"a", false},
		{strings.Repeat("a", 64), false},
		{"", true},
		{"-rf", true},
		{"Main", true},
		{"my session", true},
		{"my.session", true},
		{"..", true},
		{"my/session", true},
		{strings.Repeat("a", 65), true},
	}
	for _, tt := range tests {
		err := ValidateName(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}

func TestResolvePrecedence(t *testing.T) {
	t.Setenv(HomeEnvVar, t.TempDir())
	t.Setenv(EnvVar, "")

	got, err := Resolve("")
	if err != nil || got != DefaultName {
		t.Fatalf("Resolve() = %q, %v; want %q", got, err, DefaultName)
	}

	if err := config.SetDefaultSession(ConfigPath(), "fromconfig"); err != nil {
		t.Fatal(err)
	}
	if got, _ := Resolve(""); got != "fromconfig" {
		t.Errorf("with config, Resolve() = %q, want fromconfig", got)
	}

	t.Setenv(EnvVar, "fromenv")
	if got, _ := Resolve(""); got != "fromenv" {
		t.Errorf("with env, Resolve() = %q, want fromenv", got)
	}

	if got, _ := Resolve("fromflag"); got != "fromflag" {
		t.Errorf("with flag, Resolve() = %q, want fromflag", got)
	}
}

func TestResolveRejectsBadConfiguredName(t *testing.T) {
	t.Setenv(HomeEnvVar, t.TempDir())
	t.Setenv(EnvVar, "Not/OK")

	_, err := Resolve("")
	if err == nil || !strings.Contains(err.Error(), EnvVar) {
		t.Errorf("Resolve() error = %v, want one naming %s", err, EnvVar)
	}
}

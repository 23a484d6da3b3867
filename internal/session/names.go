package session

import (
	"fmt"
	"os"
	"regexp"

	"github.com/matheus3301/canteiro/internal/config"
)

// DefaultName is used when neither a flag, the environment nor config.toml
// names a session.
const DefaultName = "main"

// EnvVar overrides config.toml's default_session.
const EnvVar = "CANTEIRO_SESSION"

// Names become directory names, and must not be mistaken for flags.
var nameRegexp = regexp.MustCompile(`^[a-z0-9_][a-z0-9_-]{0,63}$`)

// ValidateName reports whether name can be used as a session name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use up to 64 of [a-z0-9_-], not starting with '-'", name)
	}
	return nil
}

// Resolve picks the active session: the --session flag, then $CANTEIRO_SESSION,
// then default_session from config.toml, then DefaultName. The result is
// validated wherever it came from.
func Resolve(flagValue string) (string, error) {
	name, from := flagValue, "--session"
	if name == "" {
		name, from = os.Getenv(EnvVar), EnvVar
	}
	if name == "" {
		cfg, err := config.Load(ConfigPath())
		if err != nil {
			return "", err
		}
		name, from = cfg.DefaultSession, "default_session"
	}
	if name == "" {
		return DefaultName, nil
	}
	if err := ValidateName(name); err != nil {
		return "", fmt.Errorf("%s: %w", from, err)
	}
	return name, nil
}

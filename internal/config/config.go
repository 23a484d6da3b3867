package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the user-wide ~/.canteiro/config.toml, shared by every session.
type Config struct {
	DefaultSession string `toml:"default_session"`
}

// Load reads the global config. A missing file is not an error and yields
// the zero Config.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Save writes the global config.
func Save(path string, cfg *Config) error {
	return writeTOML(path, cfg)
}

// SetDefaultSession records name as the session used when --session is
// absent, keeping whatever else the file holds.
func SetDefaultSession(path, name string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	cfg.DefaultSession = name
	return Save(path, cfg)
}

// writeTOML encodes v next to path and renames it into place, so readers
// never see a half-written file.
func writeTOML(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".tmp-*.toml")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if err := f.Chmod(0600); err != nil {
		_ = f.Close()
		return err
	}
	if err := toml.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

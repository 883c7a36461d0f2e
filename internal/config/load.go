package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file and validates it. Unknown keys
// are fatal, with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.FolderID != "" {
		cfg.Drive.FolderID = env.FolderID
	}

	if cli.FolderID != "" {
		cfg.Drive.FolderID = cli.FolderID
	}

	// Overrides can break what the file validated, so check again.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolve(cfg, cfgPath)
}

// resolve parses the validated string fields. Errors here would mean
// Validate missed something.
func resolve(cfg *Config, path string) (*Resolved, error) {
	r := &Resolved{Config: cfg, Path: path}

	var err error

	if r.MaxUploadSize, err = ParseSize(cfg.Drive.MaxUploadSize); err != nil {
		return nil, err
	}

	durations := []struct {
		dst *time.Duration
		src string
	}{
		{&r.RetryMaxElapsed, cfg.Transfers.RetryMaxElapsed},
		{&r.RetryInitialInterval, cfg.Transfers.RetryInitialInterval},
		{&r.Debounce, cfg.Watch.Debounce},
		{&r.ConnectTimeout, cfg.Network.ConnectTimeout},
		{&r.RequestTimeout, cfg.Network.RequestTimeout},
	}

	for _, d := range durations {
		if *d.dst, err = time.ParseDuration(d.src); err != nil {
			return nil, err
		}
	}

	r.HistoryPath = expandHome(cfg.History.DBPath)
	if r.HistoryPath == "" {
		r.HistoryPath = DefaultHistoryPath()
	}

	cfg.Credential.File = expandHome(cfg.Credential.File)

	return r, nil
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return home + path[1:]
}

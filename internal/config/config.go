// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for gdrive-upsert. Values are layered:
// defaults -> config file -> environment -> CLI flags.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Drive      DriveConfig      `toml:"drive"`
	Credential CredentialConfig `toml:"credential"`
	Transfers  TransfersConfig  `toml:"transfers"`
	Watch      WatchConfig      `toml:"watch"`
	History    HistoryConfig    `toml:"history"`
	Logging    LoggingConfig    `toml:"logging"`
	Network    NetworkConfig    `toml:"network"`
}

// DriveConfig names the remote folder and the endpoints used to reach it.
type DriveConfig struct {
	FolderID      string `toml:"folder_id"`
	APIURL        string `toml:"api_url"`
	UploadURL     string `toml:"upload_url"`
	MaxUploadSize string `toml:"max_upload_size"`
}

// CredentialConfig says where the service-account secret comes from.
// File, when set, wins over Env.
type CredentialConfig struct {
	Env        string `toml:"env"`
	File       string `toml:"file"`
	TokenCache bool   `toml:"token_cache"`
}

// TransfersConfig controls upload parallelism and retry bounds.
type TransfersConfig struct {
	ParallelUploads      int    `toml:"parallel_uploads"`
	RetryMaxElapsed      string `toml:"retry_max_elapsed"`
	RetryInitialInterval string `toml:"retry_initial_interval"`
}

// WatchConfig controls which files watch mode uploads and how long a file
// must be quiet before it is.
type WatchConfig struct {
	Patterns []string `toml:"patterns"`
	Debounce string   `toml:"debounce"`
}

// HistoryConfig controls the local upload ledger.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	DBPath  string `toml:"db_path"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	RequestTimeout string `toml:"request_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags. Empty means not specified.
type CLIOverrides struct {
	ConfigPath string // --config
	FolderID   string // --folder
}

// Resolved is a validated Config with its string values parsed.
type Resolved struct {
	*Config

	// Path is the config file consulted, whether or not it existed.
	Path string

	MaxUploadSize        int64
	RetryMaxElapsed      time.Duration
	RetryInitialInterval time.Duration
	Debounce             time.Duration
	ConnectTimeout       time.Duration
	RequestTimeout       time.Duration
	HistoryPath          string
}

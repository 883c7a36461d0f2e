package config

import (
	"path/filepath"

	"github.com/tonimelisma/gdrive-upsert/internal/credential"
	"github.com/tonimelisma/gdrive-upsert/internal/drive"
)

// DefaultFolderID is the folder upserts land in unless configured otherwise.
const DefaultFolderID = "1tYyTa-e2eDs4cfoYDbhEDbZuCiJybdJc"

const (
	defaultMaxUploadSize        = "50MiB"
	defaultParallelUploads      = 4
	defaultRetryMaxElapsed      = "2m"
	defaultRetryInitialInterval = "500ms"
	defaultDebounce             = "2s"
	defaultLogLevel             = "info"
	defaultLogFormat            = "auto"
	defaultConnectTimeout       = "10s"
	defaultRequestTimeout       = "60s"
	historyFileName             = "history.db"
)

var defaultPatterns = []string{"*.jpg", "*.jpeg"}

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Drive: DriveConfig{
			FolderID:      DefaultFolderID,
			APIURL:        drive.DefaultAPIURL,
			UploadURL:     drive.DefaultUploadURL,
			MaxUploadSize: defaultMaxUploadSize,
		},
		Credential: CredentialConfig{
			Env:        credential.DefaultEnvVar,
			TokenCache: true,
		},
		Transfers: TransfersConfig{
			ParallelUploads:      defaultParallelUploads,
			RetryMaxElapsed:      defaultRetryMaxElapsed,
			RetryInitialInterval: defaultRetryInitialInterval,
		},
		Watch: WatchConfig{
			Patterns: append([]string(nil), defaultPatterns...),
			Debounce: defaultDebounce,
		},
		History: HistoryConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			RequestTimeout: defaultRequestTimeout,
		},
	}
}

// DefaultHistoryPath returns the history database path in the data dir.
func DefaultHistoryPath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, historyFileName)
}

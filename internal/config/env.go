package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig = "GDRIVE_UPSERT_CONFIG"
	EnvFolder = "GDRIVE_UPSERT_FOLDER"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // GDRIVE_UPSERT_CONFIG: config file path
	FolderID   string // GDRIVE_UPSERT_FOLDER: target folder id
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		FolderID:   os.Getenv(EnvFolder),
	}
}

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, DefaultFolderID, cfg.Drive.FolderID)
	assert.Equal(t, "GDRIVE_CRED", cfg.Credential.Env)
	assert.True(t, cfg.Credential.TokenCache)
	assert.Equal(t, []string{"*.jpg", "*.jpeg"}, cfg.Watch.Patterns)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[drive]
folder_id = "folder-123"
max_upload_size = "5MiB"

[credential]
file = "/etc/gdrive/key.json"
token_cache = false

[transfers]
parallel_uploads = 8

[watch]
patterns = ["*.png"]

[logging]
log_level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "folder-123", cfg.Drive.FolderID)
	assert.Equal(t, "5MiB", cfg.Drive.MaxUploadSize)
	assert.Equal(t, "/etc/gdrive/key.json", cfg.Credential.File)
	assert.False(t, cfg.Credential.TokenCache)
	assert.Equal(t, 8, cfg.Transfers.ParallelUploads)
	assert.Equal(t, []string{"*.png"}, cfg.Watch.Patterns)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)

	// Untouched fields keep their defaults.
	assert.Equal(t, "GDRIVE_CRED", cfg.Credential.Env)
	assert.Equal(t, "2s", cfg.Watch.Debounce)
}

func TestLoad_BadTOML(t *testing.T) {
	_, err := Load(writeTestConfig(t, "[drive\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_InvalidValues(t *testing.T) {
	_, err := Load(writeTestConfig(t, `
[transfers]
parallel_uploads = 0

[logging]
log_level = "loud"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
	assert.Contains(t, err.Error(), "parallel_uploads")
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_Precedence(t *testing.T) {
	path := writeTestConfig(t, `
[drive]
folder_id = "from-file"
`)

	r, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "from-file", r.Drive.FolderID)
	assert.Equal(t, path, r.Path)

	r, err = Resolve(EnvOverrides{ConfigPath: path, FolderID: "from-env"}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "from-env", r.Drive.FolderID)

	r, err = Resolve(EnvOverrides{ConfigPath: path, FolderID: "from-env"}, CLIOverrides{FolderID: "from-flag"})
	require.NoError(t, err)
	assert.Equal(t, "from-flag", r.Drive.FolderID)
}

func TestResolve_CLIConfigPathWins(t *testing.T) {
	envPath := writeTestConfig(t, "[drive]\nfolder_id = \"env\"\n")
	cliPath := writeTestConfig(t, "[drive]\nfolder_id = \"cli\"\n")

	r, err := Resolve(EnvOverrides{ConfigPath: envPath}, CLIOverrides{ConfigPath: cliPath})
	require.NoError(t, err)
	assert.Equal(t, "cli", r.Drive.FolderID)
}

func TestResolve_ParsesValues(t *testing.T) {
	path := writeTestConfig(t, `
[drive]
max_upload_size = "1KiB"

[history]
db_path = "/var/lib/gdrive/history.db"
`)

	r, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{})
	require.NoError(t, err)

	assert.Equal(t, int64(1024), r.MaxUploadSize)
	assert.Equal(t, 2*time.Minute, r.RetryMaxElapsed)
	assert.Equal(t, 500*time.Millisecond, r.RetryInitialInterval)
	assert.Equal(t, 2*time.Second, r.Debounce)
	assert.Equal(t, 10*time.Second, r.ConnectTimeout)
	assert.Equal(t, 60*time.Second, r.RequestTimeout)
	assert.Equal(t, "/var/lib/gdrive/history.db", r.HistoryPath)
}

func TestResolve_DefaultHistoryPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", "")

	r, err := Resolve(EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "missing.toml")}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, DefaultHistoryPath(), r.HistoryPath)
	assert.Equal(t, historyFileName, filepath.Base(r.HistoryPath))
}

func TestResolve_BadOverride(t *testing.T) {
	_, err := Resolve(EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "missing.toml")},
		CLIOverrides{FolderID: "x' or '1'='1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "folder_id")
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, "keys/sa.json"), expandHome("~/keys/sa.json"))
	assert.Equal(t, "/abs/sa.json", expandHome("/abs/sa.json"))
	assert.Equal(t, "~user/sa.json", expandHome("~user/sa.json"))
}

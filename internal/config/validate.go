package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Validation range constants.
const (
	minParallelUploads   = 1
	maxParallelUploads   = 32
	minUploadSize        = 1
	minRetryInterval     = 10 * time.Millisecond
	minDebounce          = 100 * time.Millisecond
	minConnectTimeout    = 1 * time.Second
	minRequestTimeout    = 5 * time.Second
	maxFolderIDLength    = 256
	folderIDForbiddenSet = "'\\ \t\r\n"
)

// Validate checks all configuration values and returns all errors found,
// so users can fix every issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateDrive(&cfg.Drive)...)
	errs = append(errs, validateCredential(&cfg.Credential)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateWatch(&cfg.Watch)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateDrive(d *DriveConfig) []error {
	var errs []error

	// Folder ids end up inside Drive query strings.
	switch {
	case d.FolderID == "":
		errs = append(errs, errors.New("drive.folder_id: must not be empty"))
	case len(d.FolderID) > maxFolderIDLength:
		errs = append(errs, fmt.Errorf("drive.folder_id: longer than %d characters", maxFolderIDLength))
	case strings.ContainsAny(d.FolderID, folderIDForbiddenSet):
		errs = append(errs, fmt.Errorf("drive.folder_id: %q contains quotes, backslashes or whitespace", d.FolderID))
	}

	errs = append(errs, validateURL("drive.api_url", d.APIURL)...)
	errs = append(errs, validateURL("drive.upload_url", d.UploadURL)...)

	n, err := ParseSize(d.MaxUploadSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("drive.max_upload_size: %w", err))
	} else if n < minUploadSize {
		errs = append(errs, fmt.Errorf("drive.max_upload_size: must be > 0, got %q", d.MaxUploadSize))
	}

	return errs
}

func validateURL(field, raw string) []error {
	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return []error{fmt.Errorf("%s: must be an http(s) URL, got %q", field, raw)}
	}

	if u.Host == "" {
		return []error{fmt.Errorf("%s: missing host in %q", field, raw)}
	}

	return nil
}

func validateCredential(c *CredentialConfig) []error {
	if c.File == "" && c.Env == "" {
		return []error{errors.New("credential: one of env or file must be set")}
	}

	return nil
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	if t.ParallelUploads < minParallelUploads || t.ParallelUploads > maxParallelUploads {
		errs = append(errs, fmt.Errorf("transfers.parallel_uploads: must be between %d and %d, got %d",
			minParallelUploads, maxParallelUploads, t.ParallelUploads))
	}

	errs = append(errs, validateDurationMin("transfers.retry_initial_interval", t.RetryInitialInterval, minRetryInterval)...)
	errs = append(errs, validateDurationNonNeg("transfers.retry_max_elapsed", t.RetryMaxElapsed)...)

	return errs
}

func validateWatch(w *WatchConfig) []error {
	var errs []error

	for _, p := range w.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			errs = append(errs, fmt.Errorf("watch.patterns: bad pattern %q: %w", p, err))
		}
	}

	errs = append(errs, validateDurationMin("watch.debounce", w.Debounce, minDebounce)...)

	return errs
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	return validateDurationMin(field, value, 0)
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("network.request_timeout", n.RequestTimeout, minRequestTimeout)...)

	return errs
}

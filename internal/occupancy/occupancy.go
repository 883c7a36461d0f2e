// Package occupancy turns per-image detection label files into a parking
// occupancy report. Image files are named <title>_<slots>.jpg; each label
// file holds one line per detected object.
package occupancy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var imageNameRE = regexp.MustCompile(`^(.+?)_(\d+)\.(jpg|JPG)$`)

// ErrBadImageName means an image name does not follow <title>_<slots>.jpg.
var ErrBadImageName = errors.New("occupancy: image name is not <title>_<slots>.jpg")

// Lot is the occupancy of one monitored area.
type Lot struct {
	TotalSlotNumber int `json:"total_slot_number"`
	OpenSlots       int `json:"open_slots"`
}

// Report maps lot titles to their occupancy.
type Report map[string]Lot

// ParseImageName extracts the lot title and slot total from an image name.
func ParseImageName(name string) (string, int, error) {
	m := imageNameRE.FindStringSubmatch(name)
	if m == nil {
		return "", 0, fmt.Errorf("%w: %q", ErrBadImageName, name)
	}

	slots, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q: %w", ErrBadImageName, name, err)
	}

	title := strings.TrimSpace(m[1])
	if title == "" {
		return "", 0, fmt.Errorf("%w: %q has an empty title", ErrBadImageName, name)
	}

	return title, slots, nil
}

// CountLines returns the number of lines in data; a final line without a
// trailing newline still counts.
func CountLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}

	n := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		n++
	}

	return n
}

// Build pairs every *.txt file in labelDir with <base>.jpg (or .JPG) in
// imageDir. Labels without a matching, well-named image are skipped and
// logged. When two labels map to one title, the later name wins.
// Open slots may go negative if more objects are detected than slots exist.
func Build(imageDir, labelDir string, logger *slog.Logger) (Report, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(labelDir)
	if err != nil {
		return nil, fmt.Errorf("occupancy: reading labels: %w", err)
	}

	report := make(Report)

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}

		base := strings.TrimSuffix(e.Name(), ".txt")

		image, ok := findImage(imageDir, base)
		if !ok {
			logger.Warn("no image for label file",
				slog.String("label", e.Name()),
			)

			continue
		}

		title, slots, err := ParseImageName(image)
		if err != nil {
			logger.Warn("skipping image", slog.String("error", err.Error()))
			continue
		}

		data, err := os.ReadFile(filepath.Join(labelDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("occupancy: reading %s: %w", e.Name(), err)
		}

		detected := CountLines(data)
		report[title] = Lot{TotalSlotNumber: slots, OpenSlots: slots - detected}

		logger.Debug("lot counted",
			slog.String("title", title),
			slog.Int("slots", slots),
			slog.Int("detected", detected),
		)
	}

	return report, nil
}

func findImage(dir, base string) (string, bool) {
	for _, ext := range []string{".jpg", ".JPG"} {
		name := base + ext
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && info.Mode().IsRegular() {
			return name, true
		}
	}

	return "", false
}

// Marshal encodes r as JSON indented by four spaces, newline terminated.
func Marshal(r Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("occupancy: encoding report: %w", err)
	}

	return append(data, '\n'), nil
}

// WriteFile writes r to path atomically.
func WriteFile(path string, r Report) error {
	data, err := Marshal(r)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("occupancy: creating output directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".report-*.tmp")
	if err != nil {
		return fmt.Errorf("occupancy: creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("occupancy: writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("occupancy: closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, 0o644); err != nil {
		return fmt.Errorf("occupancy: setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("occupancy: renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}

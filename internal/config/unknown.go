package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each section.
var knownKeys = map[string][]string{
	"drive":      {"folder_id", "api_url", "upload_url", "max_upload_size"},
	"credential": {"env", "file", "token_cache"},
	"transfers":  {"parallel_uploads", "retry_max_elapsed", "retry_initial_interval"},
	"watch":      {"patterns", "debounce"},
	"history":    {"enabled", "db_path"},
	"logging":    {"log_level", "log_format"},
	"network":    {"connect_timeout", "request_timeout", "user_agent"},
}

// knownSections is the sorted list of section names. Sorted for
// deterministic suggestions when two candidates tie.
var knownSections = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	reported := make(map[string]bool)

	for _, key := range md.Undecoded() {
		if len(key) == 0 {
			continue
		}

		section := key[0]

		if _, ok := knownKeys[section]; !ok || len(key) == 1 {
			// Keys of an unknown section are reported once, as the section.
			if !reported[section] {
				reported[section] = true
				errs = append(errs, unknownSectionError(section))
			}

			continue
		}

		errs = append(errs, unknownKeyError(section, key[1]))
	}

	return errors.Join(errs...)
}

func unknownSectionError(section string) error {
	if _, ok := knownKeys[section]; ok {
		return fmt.Errorf("config key %q must be a [%s] section", section, section)
	}

	if suggestion := closestMatch(section, knownSections); suggestion != "" {
		return fmt.Errorf("unknown config key %q, did you mean [%s]?", section, suggestion)
	}

	return fmt.Errorf("unknown config key %q", section)
}

func unknownKeyError(section, field string) error {
	known := knownKeys[section]
	name := section + "." + field

	if suggestion := closestMatch(field, known); suggestion != "" {
		return fmt.Errorf("unknown config key %q, did you mean %q?", name, section+"."+suggestion)
	}

	return fmt.Errorf("unknown config key %q (valid keys in [%s]: %s)",
		name, section, strings.Join(known, ", "))
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Two rows suffice.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

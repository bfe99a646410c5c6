// Package geotime resolves operator input into IANA timezone names.
package geotime

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/teranos/rankpulse/errors"
)

// Common abbreviations map to the zone that observes them. The result is a
// named zone, never a fixed offset, so DST keeps working.
var abbreviations = map[string]string{
	"utc":  "UTC",
	"gmt":  "Europe/London",
	"bst":  "Europe/London",
	"cet":  "Europe/Berlin",
	"cest": "Europe/Berlin",
	"eet":  "Europe/Helsinki",
	"est":  "America/New_York",
	"edt":  "America/New_York",
	"cst":  "America/Chicago",
	"cdt":  "America/Chicago",
	"mst":  "America/Denver",
	"mdt":  "America/Denver",
	"pst":  "America/Los_Angeles",
	"pdt":  "America/Los_Angeles",
	"ist":  "Asia/Kolkata",
	"sgt":  "Asia/Singapore",
	"jst":  "Asia/Tokyo",
	"aest": "Australia/Sydney",
}

var countryCodes = map[string]string{
	"nl": "Europe/Amsterdam",
	"de": "Europe/Berlin",
	"fr": "Europe/Paris",
	"es": "Europe/Madrid",
	"it": "Europe/Rome",
	"gb": "Europe/London",
	"uk": "Europe/London",
	"ie": "Europe/Dublin",
	"se": "Europe/Stockholm",
	"us": "America/New_York",
	"ca": "America/Toronto",
	"br": "America/Sao_Paulo",
	"au": "Australia/Sydney",
	"nz": "Pacific/Auckland",
	"in": "Asia/Kolkata",
	"jp": "Asia/Tokyo",
	"sg": "Asia/Singapore",
}

// NormalizeTimezone resolves input into a valid IANA name. It accepts exact
// IANA names, miscapitalised IANA names ("europe/berlin"), common
// abbreviations and two-letter country codes.
func NormalizeTimezone(input string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(input), "\"'")
	if trimmed == "" {
		return "", errors.New("timezone cannot be empty")
	}

	if isValid(trimmed) && !needsRecasing(trimmed) {
		return trimmed, nil
	}
	if candidate := recase(trimmed); isValid(candidate) {
		return candidate, nil
	}

	lower := strings.ToLower(trimmed)
	if tz, ok := abbreviations[lower]; ok {
		return tz, nil
	}
	if tz, ok := countryCodes[lower]; ok {
		return tz, nil
	}

	return "", errors.WithHint(
		errors.Newf("unknown timezone: %s", input),
		"use an IANA name such as Europe/Berlin or America/New_York")
}

// ValidateTimezone ensures the timezone string maps to a valid IANA entry.
func ValidateTimezone(tz string) error {
	if !isValid(tz) {
		return errors.Newf("invalid timezone: %s", tz)
	}
	return nil
}

// DetectLocalTimezone attempts to determine the host timezone name.
func DetectLocalTimezone() (string, error) {
	if tz := os.Getenv("TZ"); isValid(tz) {
		return tz, nil
	}
	if name := time.Now().Location().String(); name != "Local" && isValid(name) {
		return name, nil
	}
	if data, err := os.ReadFile("/etc/timezone"); err == nil {
		if tz := strings.TrimSpace(string(data)); isValid(tz) {
			return tz, nil
		}
	}
	if resolved, err := filepath.EvalSymlinks("/etc/localtime"); err == nil {
		if idx := strings.Index(resolved, "zoneinfo/"); idx != -1 {
			if tz := resolved[idx+len("zoneinfo/"):]; isValid(tz) {
				return tz, nil
			}
		}
	}
	return "", errors.New("could not detect local timezone from TZ, /etc/timezone or /etc/localtime")
}

func isValid(tz string) bool {
	if tz == "" || strings.EqualFold(tz, "local") {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// needsRecasing reports input that loads on case-insensitive filesystems
// but is not the canonical spelling.
func needsRecasing(tz string) bool {
	for _, part := range strings.Split(tz, "/") {
		if part != "" && part[0] >= 'a' && part[0] <= 'z' {
			return true
		}
	}
	return false
}

// recase turns "america/new york" into "America/New_York". Lowercase
// particles inside names ("Port_of_Spain") are preserved when the input
// already had them.
func recase(tz string) string {
	parts := strings.Split(strings.ReplaceAll(tz, " ", "_"), "/")
	for i, part := range parts {
		words := strings.Split(part, "_")
		for j, w := range words {
			if w == "" {
				continue
			}
			if j > 0 && (w == "of" || w == "es" || w == "de") {
				continue
			}
			words[j] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
		}
		parts[i] = strings.Join(words, "_")
	}
	if len(parts) == 1 && strings.EqualFold(parts[0], "utc") {
		return "UTC"
	}
	return strings.Join(parts, "/")
}

// Package configutil validates and decodes the free-form vendor settings
// maps of the config file.
package configutil

import (
	"sort"
	"strings"
)

// Schema lists the keys a vendor accepts. Key matching ignores case,
// underscores and hyphens, so api_key, apiKey and API-KEY are the same key.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// SettingsError reports every problem in a settings map at once.
type SettingsError struct {
	Missing []string
	Unknown []string
}

func (e *SettingsError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(e.Unknown, ", "))
	}
	return strings.Join(parts, "; ")
}

// Check reports required keys that are absent or blank and, unless
// AllowUnknown is set, keys the schema does not name.
func (s Schema) Check(settings map[string]any) error {
	known := make(map[string]bool, len(s.Required)+len(s.Optional))
	for _, k := range s.Optional {
		known[normalizeKey(k)] = false
	}
	for _, k := range s.Required {
		known[normalizeKey(k)] = true
	}

	present := make(map[string]bool, len(settings))
	var serr SettingsError
	for k, v := range settings {
		nk := normalizeKey(k)
		required, ok := known[nk]
		if !ok {
			if !s.AllowUnknown {
				serr.Unknown = append(serr.Unknown, k)
			}
			continue
		}
		present[nk] = !required || !blank(v)
	}
	for _, k := range s.Required {
		if !present[normalizeKey(k)] {
			serr.Missing = append(serr.Missing, k)
		}
	}
	if len(serr.Missing) == 0 && len(serr.Unknown) == 0 {
		return nil
	}
	sort.Strings(serr.Missing)
	sort.Strings(serr.Unknown)
	return &serr
}

func blank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}

func normalizeKey(value string) string {
	return strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(value))
}

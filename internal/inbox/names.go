package inbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Sanitize makes `name` safe to use as a single path element, `fallback` is
// used when nothing usable is left.
func Sanitize(name, fallback string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return fallback
	}
	return name
}

// UniqueNames sanitizes every name and disambiguates duplicates with a
// numeric suffix (scan.jpg, scan_2.jpg, scan_3.jpg). The result only depends
// on the input order.
func UniqueNames(names []string) []string {
	taken := map[string]bool{}
	out := make([]string, len(names))
	for i, raw := range names {
		name := Sanitize(raw, fmt.Sprintf("attachment_%d", i+1))
		if !taken[name] && !strings.HasSuffix(name, partSuffix) && name != ManifestName {
			taken[name] = true
			out[i] = name
			continue
		}

		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
			if !taken[candidate] {
				taken[candidate] = true
				out[i] = candidate
				break
			}
		}
	}
	return out
}

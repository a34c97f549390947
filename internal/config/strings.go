package config

import (
	"fmt"
	"strings"
)

// Strings is the table of user facing strings, keyed by section then key.
type Strings map[string]map[string]string

// Get returns the string at section.key, or `fallback` if it isn't set.
func (s Strings) Get(section, key, fallback string) string {
	value, ok := s[section][key]
	if !ok {
		return fallback
	}
	return value
}

// Format looks up section.key and replaces every `{name}` with the matching arg.
func (s Strings) Format(section, key, fallback string, args map[string]any) string {
	text := s.Get(section, key, fallback)
	if len(args) == 0 {
		return text
	}
	pairs := make([]string, 0, len(args)*2)
	for name, value := range args {
		pairs = append(pairs, "{"+name+"}", fmt.Sprint(value))
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func mergeStrings(base, override Strings) Strings {
	out := Strings{}
	for section, values := range base {
		out[section] = map[string]string{}
		for k, v := range values {
			out[section][k] = v
		}
	}
	for section, values := range override {
		if out[section] == nil {
			out[section] = map[string]string{}
		}
		for k, v := range values {
			out[section][k] = v
		}
	}
	return out
}

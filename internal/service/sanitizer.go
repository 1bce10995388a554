package service

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer strips markup from free text supplied by reporters, claimants and staff.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer builds a sanitizer that removes every HTML element.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Text returns value without markup, unescaped and trimmed.
func (s *Sanitizer) Text(value string) string {
	if s == nil || s.policy == nil {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(value)))
}

// Attributes sanitises every key and value, dropping entries whose key becomes empty.
func (s *Sanitizer) Attributes(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		key := s.Text(k)
		if key == "" {
			continue
		}
		out[key] = s.Text(v)
	}
	return out
}

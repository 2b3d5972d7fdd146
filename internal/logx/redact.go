package logx

import (
	aho "github.com/petar-dambovaliev/aho-corasick"
)

// RedactedPlaceholder replaces every secret occurrence in redacted output.
const RedactedPlaceholder = "[REDACTED]"

// Redactor replaces known secret values in text using Aho-Corasick
// multi-pattern matching. The zero value redacts nothing.
type Redactor struct {
	matcher aho.AhoCorasick
	enabled bool
}

// NewRedactor builds a Redactor for secrets. Empty strings are ignored.
func NewRedactor(secrets ...string) *Redactor {
	var filtered []string
	for _, s := range secrets {
		if s != "" {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		return &Redactor{}
	}
	builder := aho.NewAhoCorasickBuilder(aho.Opts{})
	return &Redactor{matcher: builder.Build(filtered), enabled: true}
}

// Redact returns text with every secret occurrence replaced by RedactedPlaceholder.
func (r *Redactor) Redact(text string) string {
	if r == nil || !r.enabled {
		return text
	}

	var out []byte
	pos := 0
	for _, m := range r.matcher.FindAll(text) {
		if m.Start() < pos {
			continue // overlapping match
		}
		out = append(out, text[pos:m.Start()]...)
		out = append(out, RedactedPlaceholder...)
		pos = m.End()
	}
	if pos == 0 && out == nil {
		return text
	}
	out = append(out, text[pos:]...)
	return string(out)
}

// Redact is a one-shot helper for NewRedactor(secrets...).Redact(text).
func Redact(text string, secrets ...string) string {
	return NewRedactor(secrets...).Redact(text)
}

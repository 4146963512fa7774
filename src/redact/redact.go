// Package redact scrubs secrets from text before it is logged or reported.
package redact

import (
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Mask replaces every redacted value.
const Mask = "****"

// minSecretLen keeps short values (e.g. a region like "us-east-1") from being
// scrubbed out of every log line they happen to appear in.
const minSecretLen = 6

// Redactor replaces known secret values and anything gitleaks recognizes as a
// secret. Safe for concurrent use.
type Redactor struct {
	mu       sync.Mutex
	known    []string
	detector *detect.Detector
	scan     bool
}

// New returns a Redactor that masks the given values. When scan is true,
// text is also run through the gitleaks default rule set.
func New(scan bool, known ...string) *Redactor {
	r := &Redactor{scan: scan}
	r.Add(known...)
	return r
}

// Add registers additional secret values.
func (r *Redactor) Add(values ...string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range values {
		if len(v) < minSecretLen {
			continue
		}
		r.known = append(r.known, v)
	}
	// longest first so a secret containing another is masked whole
	sort.Slice(r.known, func(i, j int) bool { return len(r.known[i]) > len(r.known[j]) })
}

// String scrubs s. A nil Redactor returns s unchanged.
func (r *Redactor) String(s string) string {
	if r == nil || s == "" {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range r.known {
		s = strings.ReplaceAll(s, k, Mask)
	}

	if !r.scan {
		return s
	}
	if r.detector == nil {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			// rule set unavailable; known values are still masked
			r.scan = false
			return s
		}
		r.detector = d
	}
	for _, f := range r.detector.DetectBytes([]byte(s)) {
		if f.Secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, f.Secret, Mask)
	}
	return s
}

// Lines scrubs each line.
func (r *Redactor) Lines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = r.String(l)
	}
	return out
}

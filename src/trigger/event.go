// Package trigger decides which incoming events start a pipeline run and
// schedules admitted runs that share a ref.
package trigger

import (
	"fmt"
	"strings"
	"time"
)

// EventType is the source of an event.
type EventType string

const (
	Push   EventType = "push"
	Manual EventType = "manual"
)

// Event is delivered by the hosting platform. It is never modified after it
// is received.
type Event struct {
	Type       EventType `json:"type"`
	Ref        string    `json:"ref"`
	Actor      string    `json:"actor"`
	Commit     string    `json:"commit,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Validate checks the fields every event needs.
func (e Event) Validate() error {
	switch e.Type {
	case Push, Manual:
	default:
		return fmt.Errorf("unknown event type %q (expected push or manual)", e.Type)
	}
	if strings.TrimSpace(e.Ref) == "" {
		return fmt.Errorf("event ref is empty")
	}
	return nil
}

// IsTag reports whether the event points at a git tag.
func (e Event) IsTag() bool {
	return strings.HasPrefix(e.Ref, "refs/tags/")
}

// Name returns the branch or tag name without its refs/ prefix.
func (e Event) Name() string {
	ref := strings.TrimPrefix(e.Ref, "refs/heads/")
	return strings.TrimPrefix(ref, "refs/tags/")
}

// CanonicalRef returns the fully qualified form of ref. Bare names are
// branches: "main" and "refs/heads/main" are the same ref.
func CanonicalRef(ref string) string {
	if strings.HasPrefix(ref, "refs/") {
		return ref
	}
	return "refs/heads/" + ref
}

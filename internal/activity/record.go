package activity

import (
	"errors"
	"time"
)

type Kind string

const (
	KindPageView Kind = "page_view"
	KindEvent    Kind = "event"
)

// Record is one timestamped unit of user activity. Records are immutable
// once ingested and may arrive out of order relative to other records
// for the same identity.
type Record struct {
	ID        string         `json:"id"`
	Identity  string         `json:"identity"`
	Kind      Kind           `json:"kind"`
	Name      string         `json:"name,omitempty"` // event name, empty for page views
	Timestamp time.Time      `json:"timestamp"`
	URL       string         `json:"url,omitempty"`
	Path      string         `json:"path,omitempty"`
	Referrer  string         `json:"referrer,omitempty"`
	Props     map[string]any `json:"props,omitempty"`
}

var (
	ErrMissingID        = errors.New("activity record missing id")
	ErrMissingIdentity  = errors.New("activity record missing identity")
	ErrMissingTimestamp = errors.New("activity record missing timestamp")
	ErrUnknownKind      = errors.New("activity record has unknown kind")
)

// Validate reports whether the record is well formed enough to process.
// Malformed records are skipped with a counted log entry upstream; they
// never halt processing of other records.
func (r Record) Validate() error {
	if r.ID == "" {
		return ErrMissingID
	}
	if r.Identity == "" {
		return ErrMissingIdentity
	}
	if r.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	switch r.Kind {
	case KindPageView, KindEvent:
	default:
		return ErrUnknownKind
	}
	return nil
}

// Touchpoint is a marketing-context snapshot captured for an identity
// prior to conversion. Only the attribution engine reads these.
type Touchpoint struct {
	Identity   string    `json:"identity"`
	Source     string    `json:"source"`
	Medium     string    `json:"medium,omitempty"`
	Campaign   string    `json:"campaign,omitempty"`
	Device     string    `json:"device,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Channel is the grouping key attribution reports credit under.
func (t Touchpoint) Channel() string {
	key := t.Source
	if t.Medium != "" {
		key += "/" + t.Medium
	}
	if t.Campaign != "" {
		key += "/" + t.Campaign
	}
	return key
}

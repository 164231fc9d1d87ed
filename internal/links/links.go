// Package links owns the durable mapping from short identifiers to
// destination URLs and the click events recorded against them.
package links

import (
	"errors"
	"time"
)

var (
	// ErrInvalidDestination is returned when the destination is not a
	// well-formed absolute http(s) URL. Nothing is written.
	ErrInvalidDestination = errors.New("invalid destination url")

	// ErrNotFound is returned when no link exists for the identifier.
	ErrNotFound = errors.New("link not found")

	// ErrForbidden is returned on an ownership violation.
	ErrForbidden = errors.New("forbidden")

	// ErrCodeTaken signals a candidate identifier collision. It is
	// recovered internally by retrying with a fresh candidate and never
	// surfaced to callers.
	ErrCodeTaken = errors.New("short identifier already taken")

	// ErrExhausted is returned when no free identifier could be found even
	// after escalating to the maximum length. Practically unreachable.
	ErrExhausted = errors.New("short identifier space exhausted")

	// ErrStorageUnavailable wraps transient backing-store failures.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Link is one short identifier mapped to a destination URL. The identifier
// is immutable once created; ClickCount and LastClickedAt are maintained by
// the click recorder.
type Link struct {
	ID            string     `json:"id"`
	Destination   string     `json:"destination"`
	OwnerID       string     `json:"owner_id,omitempty"` // empty for anonymous links
	CreatedAt     time.Time  `json:"created_at"`
	ClickCount    int64      `json:"click_count"`
	LastClickedAt *time.Time `json:"last_clicked_at,omitempty"`
}

// ClickEvent is one recorded visit to a link's redirect endpoint.
// Append-only; cascade-deleted with its link.
type ClickEvent struct {
	LinkID     string
	OccurredAt time.Time
	Country    string
	UserAgent  string
}

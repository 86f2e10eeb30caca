// Package digest accumulates trigger events into time-windowed buckets that a
// downstream step consumes once the window has closed.
package digest

import (
	"errors"
	"time"

	"github.com/dukex/notiflow/pkg/models"
)

var (
	// ErrBucketNotFound indicates no bucket exists for the key.
	ErrBucketNotFound = errors.New("digest bucket not found")

	// ErrWindowOpen indicates the bucket window has not closed yet.
	ErrWindowOpen = errors.New("digest window is still open")

	// ErrConflict indicates an optimistic bucket update kept losing races.
	ErrConflict = errors.New("digest bucket update conflict")
)

// WindowState is the lifecycle state of a bucket.
type WindowState string

const (
	WindowOpen    WindowState = "open"
	WindowClosed  WindowState = "closed"
	WindowFlushed WindowState = "flushed"
)

// Key identifies a bucket.
type Key struct {
	WorkflowID string `json:"workflow_id"`
	StepID     string `json:"step_id"`
	DigestKey  string `json:"digest_key"`
}

func (k Key) String() string {
	return k.WorkflowID + ":" + k.StepID + ":" + k.DigestKey
}

// Event is a snapshot of one trigger that arrived while a bucket was open.
type Event struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Recipient   string         `json:"recipient"`
	Payload     map[string]any `json:"payload"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	RecordedAt  time.Time      `json:"recorded_at"`
}

// Bucket holds the events of one digest window.
type Bucket struct {
	ID        string          `json:"id"`
	Key       Key             `json:"key"`
	Events    []Event         `json:"events"`
	State     WindowState     `json:"state"`
	Schedule  models.Schedule `json:"schedule"`
	OpenedAt  time.Time       `json:"opened_at"`
	ClosesAt  time.Time       `json:"closes_at"`
	FlushedAt *time.Time      `json:"flushed_at,omitempty"`
}

// IsDue reports whether the window boundary has been reached at now.
func (b *Bucket) IsDue(now time.Time) bool {
	return !now.Before(b.ClosesAt)
}

// Snapshot returns a copy that shares no mutable state with the bucket.
func (b *Bucket) Snapshot() *Bucket {
	snapshot := *b
	snapshot.Events = make([]Event, len(b.Events))
	copy(snapshot.Events, b.Events)

	if b.FlushedAt != nil {
		flushedAt := *b.FlushedAt
		snapshot.FlushedAt = &flushedAt
	}

	return &snapshot
}

// Output renders the bucket as step output.
func (b *Bucket) Output() map[string]any {
	events := make([]any, 0, len(b.Events))
	for _, event := range b.Events {
		events = append(events, map[string]any{
			"id":           event.ID,
			"execution_id": event.ExecutionID,
			"recipient":    event.Recipient,
			"payload":      event.Payload,
			"recorded_at":  event.RecordedAt.Format(time.RFC3339Nano),
		})
	}

	return map[string]any{
		"bucket_id":   b.ID,
		"digest_key":  b.Key.DigestKey,
		"events":      events,
		"event_count": len(b.Events),
		"state":       string(b.State),
		"opened_at":   b.OpenedAt.Format(time.RFC3339),
		"closes_at":   b.ClosesAt.Format(time.RFC3339),
	}
}

// Slot is everything stored for one key: the open window plus closed windows
// waiting to be consumed, oldest first.
type Slot struct {
	Open   *Bucket   `json:"open,omitempty"`
	Closed []*Bucket `json:"closed,omitempty"`
}

// roll closes the open bucket when its boundary has passed.
func (s *Slot) roll(now time.Time) {
	if s.Open != nil && s.Open.IsDue(now) {
		s.Open.State = WindowClosed
		s.Closed = append(s.Closed, s.Open)
		s.Open = nil
	}
}

// IsEmpty reports whether the slot holds no bucket.
func (s *Slot) IsEmpty() bool {
	return s.Open == nil && len(s.Closed) == 0
}

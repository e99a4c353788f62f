// Package feed observes the notification store's mutation feed and turns
// each mutation into an in-process delivery event.
//
// The feed is a capped Redis stream written by the persistence side. Stream
// entry IDs are the opaque resume positions: they increase monotonically and
// age out when the stream is trimmed. The observer consumes the stream from
// a durably checkpointed position and hands every event to a handler before
// advancing the checkpoint, which keeps delivery at-least-once across crash
// and reconnect boundaries.
package feed

import (
	"encoding/json"
	"errors"
	"time"
)

// Op identifies one mutation kind on a notification record.
type Op string

const (
	// OpCreated marks a newly inserted notification.
	OpCreated Op = "created"
	// OpUpdated marks a mutation of an existing notification.
	OpUpdated Op = "updated"
	// OpDeleted marks a removed notification.
	OpDeleted Op = "deleted"
)

// ErrResumeLost indicates the persisted resume position aged out of the
// feed's retention window. Mutations were trimmed before they could be
// observed, so the subscription must not resume silently.
var ErrResumeLost = errors.New("feed resume position is no longer retained")

// Notification is the deliverable snapshot of one notification record as it
// stood when the mutation was announced.
type Notification struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Read        bool            `json:"read"`
	Archived    bool            `json:"archived"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Event is the internal representation of one observed mutation, ready for
// fan-out. Events are created per mutation, consumed once, and discarded.
type Event struct {
	Op           Op
	UserID       string
	Notification Notification
	// Position is the feed's native ordering token for this mutation.
	Position string
}

func (op Op) valid() bool {
	switch op {
	case OpCreated, OpUpdated, OpDeleted:
		return true
	}
	return false
}

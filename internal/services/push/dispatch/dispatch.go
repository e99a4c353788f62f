// Package dispatch routes delivery events to the live connections of their
// target user.
package dispatch

import (
	"context"
	"errors"
	"log"

	"github.com/notifeed/notifeed/internal/services/push/feed"
	"github.com/notifeed/notifeed/internal/services/push/registry"
)

// Dispatcher fans each delivery event out to every live handle registered
// for the event's target user.
type Dispatcher struct {
	registry *registry.Registry
}

// New wires a dispatcher over the shared session registry.
func New(reg *registry.Registry) (*Dispatcher, error) {
	if reg == nil {
		return nil, errors.New("session registry is required")
	}
	return &Dispatcher{registry: reg}, nil
}

// Ingest delivers one event to all currently registered handles of its
// target user. It returns once every send was attempted or handed off to a
// connection's outbound queue; that return is the observer's signal to
// advance the resume position.
//
// A saturated connection drops the event for that connection only and is
// deregistered and kicked; the client reconciles against the persistence
// store on its own. Zero live handles is a normal, silent no-op since
// durability lives in the store.
func (d *Dispatcher) Ingest(ctx context.Context, event feed.Event) error {
	if d == nil || d.registry == nil {
		return errors.New("dispatcher is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, handle := range d.registry.HandlesFor(event.UserID) {
		switch handle.TrySend(event) {
		case registry.SendQueued:
		case registry.SendDropped:
			log.Printf("push: dropping event %s for saturated connection conn=%s user=%s", event.Notification.ID, handle.ID(), handle.UserID())
			d.registry.Deregister(handle)
			handle.Kick("outbound queue saturated")
		case registry.SendGone:
			// The handle closed between snapshot and send; stale handles
			// fail safe to a no-op.
			d.registry.Deregister(handle)
		}
	}
	return nil
}

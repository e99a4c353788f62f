package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/notifeed/notifeed/internal/services/push/storage"
)

const defaultReadBatch = 64

// Handler consumes one delivery event. Ingest must not return before the
// event is safe from in-process loss: its return is the signal that lets the
// observer advance the durable resume position.
type Handler interface {
	Ingest(ctx context.Context, event Event) error
}

// Source is the mutation feed boundary the observer reads from.
type Source interface {
	// Read blocks for new mutations after the given position. It returns
	// decoded events in arrival order plus the last raw position scanned,
	// which can trail past the final event when malformed entries were
	// skipped. An empty batch with no error means the block window elapsed.
	Read(ctx context.Context, after string, limit int64) (events []Event, last string, err error)
	// CheckResume verifies the position is still inside the feed's
	// retention window, returning ErrResumeLost when it aged out.
	CheckResume(ctx context.Context, after string) error
}

// Observer consumes the mutation feed from the last durable checkpoint and
// hands each event to the handler exactly once per observation.
//
// Invariant: the checkpoint is persisted only after Ingest returns for the
// corresponding event. Persisting first would silently downgrade delivery to
// at-most-once, losing events on a crash between read and hand-off.
type Observer struct {
	source      Source
	handler     Handler
	checkpoints storage.CheckpointStore
	stream      string
	batch       int64

	handled atomic.Uint64
}

// NewObserver wires a feed observer. The stream name keys the checkpoint
// record; it is owned exclusively by this observer.
func NewObserver(source Source, handler Handler, checkpoints storage.CheckpointStore, stream string) (*Observer, error) {
	if source == nil {
		return nil, errors.New("feed source is required")
	}
	if handler == nil {
		return nil, errors.New("event handler is required")
	}
	if checkpoints == nil {
		return nil, errors.New("checkpoint store is required")
	}
	stream = strings.TrimSpace(stream)
	if stream == "" {
		return nil, errors.New("stream name is required")
	}
	return &Observer{
		source:      source,
		handler:     handler,
		checkpoints: checkpoints,
		stream:      stream,
		batch:       defaultReadBatch,
	}, nil
}

// HandledCount reports how many events this observer has handed off since
// construction. The supervisor uses it to decide when a run was healthy
// enough to reset its backoff.
func (o *Observer) HandledCount() uint64 {
	return o.handled.Load()
}

// Run consumes the feed until the context ends or the subscription fails.
// It returns ErrResumeLost (wrapped) when the checkpoint aged out of
// retention; any other error is transient and safe to retry from the last
// persisted position.
func (o *Observer) Run(ctx context.Context) error {
	position, err := o.loadPosition(ctx)
	if err != nil {
		return err
	}

	if position != "" {
		if err := o.source.CheckResume(ctx, position); err != nil {
			return fmt.Errorf("validate resume position %q: %w", position, err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		events, last, err := o.source.Read(ctx, position, o.batch)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read feed %s after %q: %w", o.stream, position, err)
		}

		for _, event := range events {
			if err := o.handler.Ingest(ctx, event); err != nil {
				return fmt.Errorf("ingest event at %s: %w", event.Position, err)
			}
			o.handled.Add(1)
			if err := o.checkpoints.SavePosition(ctx, o.stream, event.Position); err != nil {
				return fmt.Errorf("persist resume position %s: %w", event.Position, err)
			}
			position = event.Position
		}

		// Malformed entries at the batch tail still advance the checkpoint
		// so the feed does not stall on a single bad mutation.
		if last != "" && positionAfter(last, position) {
			if err := o.checkpoints.SavePosition(ctx, o.stream, last); err != nil {
				return fmt.Errorf("persist resume position %s: %w", last, err)
			}
			position = last
		}
	}
}

func (o *Observer) loadPosition(ctx context.Context) (string, error) {
	position, err := o.checkpoints.LoadPosition(ctx, o.stream)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Printf("push: no resume position for stream %s, starting from retention window start", o.stream)
			return "", nil
		}
		return "", fmt.Errorf("load resume position for %s: %w", o.stream, err)
	}
	return position, nil
}

func positionAfter(candidate, current string) bool {
	if current == "" {
		return candidate != ""
	}
	cmp, err := ComparePositions(candidate, current)
	if err != nil {
		return false
	}
	return cmp > 0
}

package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/notifeed/notifeed/internal/platform/timeouts"
)

const (
	fieldOp           = "op"
	fieldUserID       = "user_id"
	fieldNotification = "notification"

	// startOfStream reads from the beginning of the retention window when
	// no resume position has ever been persisted.
	startOfStream = "0"
)

// Stream reads notification mutations from a capped Redis stream.
type Stream struct {
	client redis.UniversalClient
	stream string
	block  time.Duration
}

// NewStream wires a feed source over one Redis stream key.
func NewStream(client redis.UniversalClient, stream string) (*Stream, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	stream = strings.TrimSpace(stream)
	if stream == "" {
		return nil, errors.New("stream key is required")
	}
	return &Stream{
		client: client,
		stream: stream,
		block:  timeouts.FeedBlock,
	}, nil
}

// Read blocks for mutations after the given position. Malformed entries are
// logged and skipped; their positions still advance through the returned
// last marker so one bad mutation cannot stall the feed.
func (s *Stream) Read(ctx context.Context, after string, limit int64) ([]Event, string, error) {
	if s == nil || s.client == nil {
		return nil, "", errors.New("stream source is not configured")
	}
	if after == "" {
		after = startOfStream
	}
	if limit <= 0 {
		limit = defaultReadBatch
	}

	streams, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.stream, after},
		Count:   limit,
		Block:   s.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Block window elapsed with no new mutations.
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("xread %s: %w", s.stream, err)
	}

	var events []Event
	var last string
	for _, stream := range streams {
		for _, message := range stream.Messages {
			last = message.ID
			event, err := decodeEntry(message)
			if err != nil {
				log.Printf("push: skipping malformed feed entry %s on %s: %v", message.ID, s.stream, err)
				continue
			}
			events = append(events, event)
		}
	}
	return events, last, nil
}

// CheckResume reports ErrResumeLost when entries after the position were
// trimmed out of the stream's retention window.
func (s *Stream) CheckResume(ctx context.Context, after string) error {
	if s == nil || s.client == nil {
		return errors.New("stream source is not configured")
	}
	after = strings.TrimSpace(after)
	if after == "" || after == startOfStream {
		return nil
	}

	info, err := s.client.XInfoStream(ctx, s.stream).Result()
	if err != nil {
		if isNoSuchStream(err) {
			// A checkpoint exists but the stream itself is gone: every
			// mutation since the checkpoint was lost.
			return ErrResumeLost
		}
		return fmt.Errorf("xinfo stream %s: %w", s.stream, err)
	}

	maxDeleted := strings.TrimSpace(info.MaxDeletedEntryID)
	if maxDeleted == "" || maxDeleted == "0-0" {
		return nil
	}
	cmp, err := ComparePositions(maxDeleted, after)
	if err != nil {
		return fmt.Errorf("compare retention bound %q to position %q: %w", maxDeleted, after, err)
	}
	if cmp > 0 {
		return ErrResumeLost
	}
	return nil
}

func decodeEntry(message redis.XMessage) (Event, error) {
	op, err := stringField(message, fieldOp)
	if err != nil {
		return Event{}, err
	}
	kind := Op(op)
	if !kind.valid() {
		return Event{}, fmt.Errorf("unknown op %q", op)
	}

	userID, err := stringField(message, fieldUserID)
	if err != nil {
		return Event{}, err
	}

	raw, err := stringField(message, fieldNotification)
	if err != nil {
		return Event{}, err
	}
	var notification Notification
	if err := json.Unmarshal([]byte(raw), &notification); err != nil {
		return Event{}, fmt.Errorf("decode notification snapshot: %w", err)
	}

	return Event{
		Op:           kind,
		UserID:       userID,
		Notification: notification,
		Position:     message.ID,
	}, nil
}

func stringField(message redis.XMessage, field string) (string, error) {
	value, ok := message.Values[field]
	if !ok {
		return "", fmt.Errorf("missing field %q", field)
	}
	text, ok := value.(string)
	if !ok || strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty field %q", field)
	}
	return strings.TrimSpace(text), nil
}

func isNoSuchStream(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "no such key")
}

package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultStreamMaxLen = 100_000

// Mutation is one store-side change announcement to append to the feed.
type Mutation struct {
	Op           Op
	Notification Notification
}

// Publisher is the write half of the mutation feed, used by the persistence
// side after each notification insert or update commits.
type Publisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewPublisher wires a feed publisher for one stream key. maxLen caps the
// retention window; zero or negative applies the default cap.
func NewPublisher(client redis.UniversalClient, stream string, maxLen int64) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	stream = strings.TrimSpace(stream)
	if stream == "" {
		return nil, errors.New("stream key is required")
	}
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &Publisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}, nil
}

// Publish appends one mutation to the feed and returns its assigned
// position. The stream is trimmed approximately to the retention cap.
func (p *Publisher) Publish(ctx context.Context, mutation Mutation) (string, error) {
	if p == nil || p.client == nil {
		return "", errors.New("publisher is not configured")
	}
	if !mutation.Op.valid() {
		return "", fmt.Errorf("unknown op %q", mutation.Op)
	}
	userID := strings.TrimSpace(mutation.Notification.UserID)
	if userID == "" {
		return "", errors.New("notification user id is required")
	}
	if strings.TrimSpace(mutation.Notification.ID) == "" {
		return "", errors.New("notification id is required")
	}

	snapshot, err := json.Marshal(mutation.Notification)
	if err != nil {
		return "", fmt.Errorf("encode notification snapshot: %w", err)
	}

	position, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			fieldOp:           string(mutation.Op),
			fieldUserID:       userID,
			fieldNotification: string(snapshot),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return position, nil
}

package feed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func streamMessage(id string, values map[string]interface{}) redis.XMessage {
	return redis.XMessage{ID: id, Values: values}
}

func TestDecodeEntry(t *testing.T) {
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	snapshot, err := json.Marshal(Notification{
		ID:        "n1",
		UserID:    "u1",
		Type:      "system",
		Title:     "maintenance window",
		Message:   "tonight at 22:00",
		Payload:   json.RawMessage(`{"window":"22:00"}`),
		CreatedAt: created,
		UpdatedAt: created,
	})
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	event, err := decodeEntry(streamMessage("3-1", map[string]interface{}{
		"op":           "created",
		"user_id":      "u1",
		"notification": string(snapshot),
	}))
	if err != nil {
		t.Fatalf("decode entry: %v", err)
	}

	if event.Op != OpCreated {
		t.Fatalf("expected op created, got %s", event.Op)
	}
	if event.UserID != "u1" {
		t.Fatalf("expected user u1, got %s", event.UserID)
	}
	if event.Position != "3-1" {
		t.Fatalf("expected position 3-1, got %s", event.Position)
	}
	if event.Notification.Title != "maintenance window" {
		t.Fatalf("unexpected title %q", event.Notification.Title)
	}
	if !event.Notification.CreatedAt.Equal(created) {
		t.Fatalf("unexpected created at %v", event.Notification.CreatedAt)
	}
	if string(event.Notification.Payload) != `{"window":"22:00"}` {
		t.Fatalf("unexpected payload %s", event.Notification.Payload)
	}
}

func TestDecodeEntryRejectsMalformed(t *testing.T) {
	cases := []struct {
		name   string
		values map[string]interface{}
	}{
		{"missing op", map[string]interface{}{
			"user_id":      "u1",
			"notification": `{"id":"n1","user_id":"u1"}`,
		}},
		{"unknown op", map[string]interface{}{
			"op":           "upserted",
			"user_id":      "u1",
			"notification": `{"id":"n1","user_id":"u1"}`,
		}},
		{"blank user", map[string]interface{}{
			"op":           "created",
			"user_id":      "  ",
			"notification": `{"id":"n1","user_id":"u1"}`,
		}},
		{"non string notification", map[string]interface{}{
			"op":           "created",
			"user_id":      "u1",
			"notification": 42,
		}},
		{"invalid snapshot json", map[string]interface{}{
			"op":           "created",
			"user_id":      "u1",
			"notification": "{",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := decodeEntry(streamMessage("1-0", tc.values)); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}
}

func TestNewStreamValidates(t *testing.T) {
	if _, err := NewStream(nil, "s"); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewStream(redis.NewClient(&redis.Options{}), "  "); err == nil {
		t.Fatal("expected error for blank stream key")
	}
}

func TestIsNoSuchStream(t *testing.T) {
	if !isNoSuchStream(errors.New("ERR no such key")) {
		t.Fatal("expected match for missing key error")
	}
	if isNoSuchStream(errors.New("connection refused")) {
		t.Fatal("expected no match for transport error")
	}
	if isNoSuchStream(nil) {
		t.Fatal("expected no match for nil error")
	}
}

func TestPublisherValidatesMutation(t *testing.T) {
	publisher, err := NewPublisher(redis.NewClient(&redis.Options{}), "notifications.changes", 0)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	ctx := context.Background()
	if _, err := publisher.Publish(ctx, Mutation{Op: "upserted", Notification: Notification{ID: "n1", UserID: "u1"}}); err == nil {
		t.Fatal("expected error for unknown op")
	}
	if _, err := publisher.Publish(ctx, Mutation{Op: OpCreated, Notification: Notification{ID: "n1"}}); err == nil {
		t.Fatal("expected error for missing user id")
	}
	if _, err := publisher.Publish(ctx, Mutation{Op: OpCreated, Notification: Notification{UserID: "u1"}}); err == nil {
		t.Fatal("expected error for missing notification id")
	}
}

func TestNewPublisherValidates(t *testing.T) {
	if _, err := NewPublisher(nil, "s", 0); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewPublisher(redis.NewClient(&redis.Options{}), "", 0); err == nil {
		t.Fatal("expected error for blank stream key")
	}
}

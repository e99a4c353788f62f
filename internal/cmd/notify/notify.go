// Package notify parses notify CLI flags and publishes one notification
// mutation to the feed. It exists for development and operational smoke
// tests of the delivery pipeline.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	entrypoint "github.com/notifeed/notifeed/internal/platform/cmd"
	"github.com/notifeed/notifeed/internal/platform/id"
	"github.com/notifeed/notifeed/internal/services/push/feed"
)

// Config holds notify command configuration.
type Config struct {
	RedisURL string `env:"NOTIFEED_NOTIFY_REDIS_URL" envDefault:"redis://127.0.0.1:6379"`
	Stream   string `env:"NOTIFEED_NOTIFY_STREAM" envDefault:"notifications.changes"`

	UserID  string
	Type    string
	Title   string
	Message string
	Payload string
	Op      string
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Stream, "stream", cfg.Stream, "The notification mutation stream key")
	fs.StringVar(&cfg.UserID, "user", "", "Target user identity (required)")
	fs.StringVar(&cfg.Type, "type", "system", "Notification type tag")
	fs.StringVar(&cfg.Title, "title", "", "Notification title (required)")
	fs.StringVar(&cfg.Message, "message", "", "Notification message body")
	fs.StringVar(&cfg.Payload, "payload", "", "Optional structured payload as JSON")
	fs.StringVar(&cfg.Op, "op", string(feed.OpCreated), "Mutation op: created, updated or deleted")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run publishes one mutation and prints its assigned feed position.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceNotify, func(context.Context) error {
		return publish(ctx, cfg)
	})
}

func publish(ctx context.Context, cfg Config) error {
	userID := strings.TrimSpace(cfg.UserID)
	if userID == "" {
		return errors.New("-user is required")
	}
	title := strings.TrimSpace(cfg.Title)
	if title == "" {
		return errors.New("-title is required")
	}
	var payload json.RawMessage
	if strings.TrimSpace(cfg.Payload) != "" {
		if !json.Valid([]byte(cfg.Payload)) {
			return errors.New("-payload must be valid JSON")
		}
		payload = json.RawMessage(cfg.Payload)
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	defer func() { _ = client.Close() }()

	publisher, err := feed.NewPublisher(client, cfg.Stream, 0)
	if err != nil {
		return err
	}

	notificationID, err := id.NewID()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	position, err := publisher.Publish(ctx, feed.Mutation{
		Op: feed.Op(strings.TrimSpace(cfg.Op)),
		Notification: feed.Notification{
			ID:        notificationID,
			UserID:    userID,
			Type:      strings.TrimSpace(cfg.Type),
			Title:     title,
			Message:   strings.TrimSpace(cfg.Message),
			Payload:   payload,
			CreatedAt: now,
			UpdatedAt: now,
		},
	})
	if err != nil {
		return fmt.Errorf("publish mutation: %w", err)
	}

	fmt.Printf("published %s notification %s for user %s at position %s\n", cfg.Op, notificationID, userID, position)
	return nil
}

// Package push parses push service flags and launches the service.
package push

import (
	"context"
	"flag"

	entrypoint "github.com/notifeed/notifeed/internal/platform/cmd"
	server "github.com/notifeed/notifeed/internal/services/push/app"
)

// Config holds push command configuration.
type Config struct {
	Addr           string `env:"NOTIFEED_PUSH_ADDR" envDefault:":8087"`
	Enabled        bool   `env:"NOTIFEED_PUSH_ENABLED" envDefault:"true"`
	RedisURL       string `env:"NOTIFEED_PUSH_REDIS_URL" envDefault:"redis://127.0.0.1:6379"`
	Stream         string `env:"NOTIFEED_PUSH_STREAM" envDefault:"notifications.changes"`
	CheckpointPath string `env:"NOTIFEED_PUSH_CHECKPOINT_PATH" envDefault:"push-checkpoints.db"`
	AuthBaseURL    string `env:"NOTIFEED_PUSH_AUTH_URL"`
	ResourceSecret string `env:"NOTIFEED_PUSH_RESOURCE_SECRET"`
	TokenSecret    string `env:"NOTIFEED_PUSH_TOKEN_SECRET"`
	QueueDepth     int    `env:"NOTIFEED_PUSH_QUEUE_DEPTH" envDefault:"64"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The push HTTP/websocket listen address")
	fs.BoolVar(&cfg.Enabled, "enabled", cfg.Enabled, "Enable the realtime delivery pipeline")
	fs.StringVar(&cfg.Stream, "stream", cfg.Stream, "The notification mutation stream key")
	fs.StringVar(&cfg.CheckpointPath, "checkpoint-path", cfg.CheckpointPath, "Path to the resume checkpoint database")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the push delivery service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServicePush, func(context.Context) error {
		return server.Run(ctx, server.Config{
			HTTPAddr:       cfg.Addr,
			Enabled:        cfg.Enabled,
			RedisURL:       cfg.RedisURL,
			Stream:         cfg.Stream,
			CheckpointPath: cfg.CheckpointPath,
			AuthBaseURL:    cfg.AuthBaseURL,
			ResourceSecret: cfg.ResourceSecret,
			TokenSecret:    cfg.TokenSecret,
			QueueDepth:     cfg.QueueDepth,
		})
	})
}

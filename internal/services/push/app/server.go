// Package server wires the push delivery pipeline process.
//
// Construction is explicit dependency injection: the session registry,
// dispatcher, observer, and supervisor are created here, handed to each
// other by reference, and torn down in reverse order. Shutdown stops the
// feed subscription before the transport so nothing dispatches into a
// torn-down surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/notifeed/notifeed/internal/platform/timeouts"
	"github.com/notifeed/notifeed/internal/services/push/auth"
	"github.com/notifeed/notifeed/internal/services/push/dispatch"
	"github.com/notifeed/notifeed/internal/services/push/feed"
	"github.com/notifeed/notifeed/internal/services/push/registry"
	sqlitestore "github.com/notifeed/notifeed/internal/services/push/storage/sqlite"
	"github.com/notifeed/notifeed/internal/services/push/supervisor"
	"github.com/notifeed/notifeed/internal/services/push/transport"
)

const redisDialTimeout = 5 * time.Second

// Config defines the inputs for the push process.
type Config struct {
	HTTPAddr string
	// Enabled gates the whole pipeline. When false no feed subscription is
	// created; the registry and dispatcher stay dormant but harmless.
	Enabled bool

	RedisURL       string
	Stream         string
	CheckpointPath string

	// AuthBaseURL plus ResourceSecret select introspection auth;
	// TokenSecret selects local JWT verification. Exactly one mode is
	// required.
	AuthBaseURL    string
	ResourceSecret string
	TokenSecret    string

	QueueDepth        int
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the push HTTP/websocket process and its feed subscription.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server

	registry *registry.Registry
	sup      *supervisor.Supervisor

	redisClient redis.UniversalClient
	checkpoints *sqlitestore.Store

	supStop context.CancelFunc
	supDone chan struct{}
}

// NewServer builds a configured push server and, when the pipeline is
// enabled, its feed subscription stack.
func NewServer(ctx context.Context, config Config) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	authenticator, err := newAuthenticator(config)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	server := &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		registry:        reg,
	}

	if config.Enabled {
		if err := server.initPipeline(ctx, config, reg); err != nil {
			server.Close()
			return nil, err
		}
	} else {
		log.Printf("push: pipeline disabled, serving transport without feed subscription")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/healthz", server.handleHealthz)
	mux.Handle("/ws", transport.NewHandler(authenticator, reg, transport.Options{
		QueueDepth: config.QueueDepth,
	}))

	server.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return server, nil
}

func newAuthenticator(config Config) (auth.Authenticator, error) {
	if strings.TrimSpace(config.AuthBaseURL) != "" {
		return auth.NewIntrospectionClient(config.AuthBaseURL, config.ResourceSecret)
	}
	if strings.TrimSpace(config.TokenSecret) != "" {
		return auth.NewTokenVerifier([]byte(config.TokenSecret))
	}
	return nil, errors.New("handshake auth is not configured: set auth url or token secret")
}

func (s *Server) initPipeline(ctx context.Context, config Config, reg *registry.Registry) error {
	dispatcher, err := dispatch.New(reg)
	if err != nil {
		return err
	}

	client, err := connectRedis(ctx, config.RedisURL)
	if err != nil {
		return fmt.Errorf("connect feed redis: %w", err)
	}
	s.redisClient = client

	checkpoints, err := sqlitestore.Open(config.CheckpointPath)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	s.checkpoints = checkpoints

	source, err := feed.NewStream(client, config.Stream)
	if err != nil {
		return err
	}
	observer, err := feed.NewObserver(source, dispatcher, checkpoints, config.Stream)
	if err != nil {
		return err
	}
	sup, err := supervisor.New(observer, supervisor.Config{})
	if err != nil {
		return err
	}
	s.sup = sup
	return nil
}

func connectRedis(ctx context.Context, redisURL string) (redis.UniversalClient, error) {
	redisURL = strings.TrimSpace(redisURL)
	if redisURL == "" {
		return nil, errors.New("redis url is required")
	}

	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL, DialTimeout: redisDialTimeout})
	}

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if s.sup != nil && s.sup.State() == supervisor.StateResyncRequired {
		http.Error(w, "resync required", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Run creates and serves a push server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(ctx, config)
	if err != nil {
		return fmt.Errorf("init push server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve push: %w", err)
	}
	return nil
}

// ListenAndServe runs the feed subscription and HTTP server until the
// context ends. A resync-required subscription failure does not stop the
// process: it flips the readiness endpoint and keeps the transport up so
// operators can drain it deliberately.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("push server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	supErr := make(chan error, 1)
	if s.sup != nil {
		supCtx, cancel := context.WithCancel(context.Background())
		s.supStop = cancel
		s.supDone = make(chan struct{})
		go func() {
			defer close(s.supDone)
			supErr <- s.sup.Run(supCtx)
		}()
	}

	serveErr := make(chan error, 1)
	log.Printf("push server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	for {
		select {
		case <-ctx.Done():
			s.stopSubscription()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			err := s.httpServer.Shutdown(shutdownCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("shutdown http server: %w", err)
			}
			return nil
		case err := <-supErr:
			if err == nil || errors.Is(err, context.Canceled) {
				continue
			}
			if errors.Is(err, supervisor.ErrResyncRequired) {
				log.Printf("push: feed subscription requires resync, realtime delivery halted: %v", err)
				continue
			}
			log.Printf("push: feed subscription ended: %v", err)
		case err := <-serveErr:
			s.stopSubscription()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("serve http: %w", err)
		}
	}
}

func (s *Server) stopSubscription() {
	if s.supStop != nil {
		s.supStop()
		s.supStop = nil
	}
	if s.supDone != nil {
		<-s.supDone
		s.supDone = nil
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.stopSubscription()
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Printf("push: close redis client: %v", err)
		}
		s.redisClient = nil
	}
	if s.checkpoints != nil {
		if err := s.checkpoints.Close(); err != nil {
			log.Printf("push: close checkpoint store: %v", err)
		}
		s.checkpoints = nil
	}
}

// Package transport hosts the websocket delivery surface.
//
// Each accepted connection is authenticated at handshake, registered in the
// session registry, and served by a dedicated writer goroutine draining a
// bounded outbound queue. Delivery is push-only: clients reconcile missed
// state against the persistence store on reconnect, this surface never
// replays history.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/notifeed/notifeed/internal/platform/id"
	"github.com/notifeed/notifeed/internal/platform/timeouts"
	"github.com/notifeed/notifeed/internal/services/push/auth"
	"github.com/notifeed/notifeed/internal/services/push/registry"
)

const (
	// TokenCookieName carries the handshake credential for browser clients.
	TokenCookieName = "nf_token"

	defaultQueueDepth      = 64
	maxDecodeErrorsPerConn = 3
)

// Options tunes the websocket surface.
type Options struct {
	// QueueDepth bounds each connection's outbound queue. A connection
	// whose queue is full has events dropped and is closed.
	QueueDepth int
	// WriteTimeout bounds one outbound frame write.
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueDepth <= 0 {
		o.QueueDepth = defaultQueueDepth
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = timeouts.ConnWrite
	}
	return o
}

type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type connectedPayload struct {
	ConnectionID string `json:"connection_id"`
	ServerTime   string `json:"server_time"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type userIDContextKey struct{}

// NewHandler creates the websocket endpoint with enforced handshake
// identity checks. The registry is shared with the dispatcher; connect and
// disconnect drive its lifecycle hooks.
func NewHandler(authenticator auth.Authenticator, reg *registry.Registry, opts Options) http.Handler {
	opts = opts.withDefaults()

	wsHandler := websocket.Handler(func(ws *websocket.Conn) {
		handleConn(ws, reg, opts)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if authenticator == nil {
			http.Error(w, "websocket auth is not configured", http.StatusServiceUnavailable)
			return
		}

		credential := credentialFromRequest(r)
		if credential == "" {
			log.Printf("push: websocket unauthorized: missing credential for remote=%s path=%q", r.RemoteAddr, r.URL.Path)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		userID, err := authenticator.Authenticate(r.Context(), credential)
		if err != nil || strings.TrimSpace(userID) == "" {
			if err != nil {
				log.Printf("push: websocket unauthorized: credential rejected for remote=%s path=%q err=%v", r.RemoteAddr, r.URL.Path, err)
			} else {
				log.Printf("push: websocket unauthorized: empty user id after auth for remote=%s path=%q", r.RemoteAddr, r.URL.Path)
			}
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDContextKey{}, strings.TrimSpace(userID))
		wsHandler.ServeHTTP(w, r.WithContext(ctx))
	})
}

func credentialFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(TokenCookieName); err == nil {
		if value := strings.TrimSpace(cookie.Value); value != "" {
			return value
		}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if token, found := strings.CutPrefix(header, "Bearer "); found {
		return strings.TrimSpace(token)
	}
	return ""
}

func handleConn(ws *websocket.Conn, reg *registry.Registry, opts Options) {
	request := ws.Request()
	if request == nil {
		_ = ws.Close()
		return
	}
	userID, _ := request.Context().Value(userIDContextKey{}).(string)
	if strings.TrimSpace(userID) == "" {
		_ = ws.Close()
		return
	}

	connID, err := id.NewID()
	if err != nil {
		log.Printf("push: generate connection id: %v", err)
		_ = ws.Close()
		return
	}

	c := newConn(connID, userID, ws, opts)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	c.enqueue(connectedFrame(connID))

	if err := reg.Register(c); err != nil {
		log.Printf("push: register connection conn=%s user=%s: %v", connID, userID, err)
		c.close()
		<-writerDone
		return
	}
	log.Printf("push: connection opened conn=%s user=%s", connID, userID)

	// Deregistration happens before the connection teardown completes, so a
	// concurrent dispatch cannot observe a closed-but-registered handle.
	defer func() {
		reg.Deregister(c)
		c.close()
		<-writerDone
		log.Printf("push: connection closed conn=%s user=%s", connID, userID)
	}()

	decoder := json.NewDecoder(ws)
	decodeErrors := 0
	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || c.isClosed() {
				return
			}
			decodeErrors++
			c.enqueue(errorFrame("INVALID_ARGUMENT", "invalid frame payload"))
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		switch frame.Type {
		case "ping":
			c.enqueue(wsFrame{Type: "pong"})
		default:
			c.enqueue(errorFrame("INVALID_ARGUMENT", "unsupported frame type"))
		}
	}
}

func connectedFrame(connID string) wsFrame {
	return wsFrame{
		Type: "push.connected",
		Payload: mustJSON(connectedPayload{
			ConnectionID: connID,
			ServerTime:   time.Now().UTC().Format(time.RFC3339),
		}),
	}
}

func errorFrame(code string, message string) wsFrame {
	return wsFrame{
		Type:    "push.error",
		Payload: mustJSON(errorPayload{Code: code, Message: message}),
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("push: failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}

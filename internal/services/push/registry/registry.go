// Package registry tracks which user identities currently have live
// delivery targets.
//
// The registry is the only mutable structure shared between the transport
// layer and the dispatcher. It is sharded by user identity so connection
// churn for one user cannot stall dispatch to unrelated users.
package registry

import (
	"errors"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/notifeed/notifeed/internal/services/push/feed"
)

const shardCount = 32

// SendOutcome reports the result of one non-blocking delivery attempt.
type SendOutcome int

const (
	// SendQueued means the event was accepted into the connection's
	// outbound queue.
	SendQueued SendOutcome = iota
	// SendDropped means the outbound queue was saturated and the event was
	// discarded for this connection only.
	SendDropped
	// SendGone means the connection already closed; the attempt was a no-op.
	SendGone
)

// Handle is one live transport connection addressable for delivery. A handle
// is tied to exactly one authenticated user identity for its whole lifetime.
type Handle interface {
	// ID returns the unique connection id.
	ID() string
	// UserID returns the canonical user identity the handle was issued for.
	UserID() string
	// TrySend attempts a non-blocking delivery. It must never block on
	// network I/O or on a slow consumer.
	TrySend(event feed.Event) SendOutcome
	// Kick closes the connection proactively, e.g. after a saturation drop.
	Kick(reason string)
}

// Registry is a concurrency-safe map from user identity to the set of open
// connection handles for that user.
type Registry struct {
	shards [shardCount]shard
}

type shard struct {
	mu     sync.Mutex
	byUser map[string]map[string]Handle
}

// New constructs an empty registry. The registry has an explicit lifecycle:
// it is created at process start and passed by reference to the dispatcher
// and the transport's connect/disconnect paths.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].byUser = make(map[string]map[string]Handle)
	}
	return r
}

// Register adds a handle under its user. A user may hold any number of
// concurrent handles; connection limiting is a collaborator concern.
func (r *Registry) Register(handle Handle) error {
	if handle == nil {
		return errors.New("handle is required")
	}
	userID := strings.TrimSpace(handle.UserID())
	connID := strings.TrimSpace(handle.ID())
	if userID == "" {
		return errors.New("handle user id is required")
	}
	if connID == "" {
		return errors.New("handle connection id is required")
	}

	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	handles, ok := s.byUser[userID]
	if !ok {
		handles = make(map[string]Handle)
		s.byUser[userID] = handles
	}
	handles[connID] = handle
	return nil
}

// Deregister removes a handle. It is idempotent: removing an absent handle
// is a no-op, so concurrent disconnect and eviction paths are both safe.
func (r *Registry) Deregister(handle Handle) {
	if handle == nil {
		return
	}
	userID := strings.TrimSpace(handle.UserID())
	connID := strings.TrimSpace(handle.ID())
	if userID == "" || connID == "" {
		return
	}

	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	handles, ok := s.byUser[userID]
	if !ok {
		return
	}
	delete(handles, connID)
	if len(handles) == 0 {
		delete(s.byUser, userID)
	}
}

// HandlesFor returns a point-in-time copy of the user's registered handles.
// Callers must tolerate handles going stale between snapshot and use.
func (r *Registry) HandlesFor(userID string) []Handle {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}

	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	handles, ok := s.byUser[userID]
	if !ok {
		return nil
	}
	snapshot := make([]Handle, 0, len(handles))
	for _, handle := range handles {
		snapshot = append(snapshot, handle)
	}
	return snapshot
}

// ConnectionCount reports the total number of registered handles.
func (r *Registry) ConnectionCount() int {
	total := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for _, handles := range s.byUser {
			total += len(handles)
		}
		s.mu.Unlock()
	}
	return total
}

func (r *Registry) shard(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &r.shards[h.Sum32()%shardCount]
}

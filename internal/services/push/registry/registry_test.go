package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/notifeed/notifeed/internal/services/push/feed"
)

type fakeHandle struct {
	id      string
	userID  string
	outcome SendOutcome

	mu     sync.Mutex
	sent   []feed.Event
	kicked []string
}

func (h *fakeHandle) ID() string     { return h.id }
func (h *fakeHandle) UserID() string { return h.userID }

func (h *fakeHandle) TrySend(event feed.Event) SendOutcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.outcome == SendQueued {
		h.sent = append(h.sent, event)
	}
	return h.outcome
}

func (h *fakeHandle) Kick(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.kicked = append(h.kicked, reason)
}

func TestRegisterAndSnapshot(t *testing.T) {
	reg := New()
	a := &fakeHandle{id: "c1", userID: "u1"}
	b := &fakeHandle{id: "c2", userID: "u1"}
	c := &fakeHandle{id: "c3", userID: "u2"}

	for _, handle := range []*fakeHandle{a, b, c} {
		if err := reg.Register(handle); err != nil {
			t.Fatalf("register %s: %v", handle.id, err)
		}
	}

	if got := len(reg.HandlesFor("u1")); got != 2 {
		t.Fatalf("expected 2 handles for u1, got %d", got)
	}
	if got := len(reg.HandlesFor("u2")); got != 1 {
		t.Fatalf("expected 1 handle for u2, got %d", got)
	}
	if got := reg.HandlesFor("u3"); got != nil {
		t.Fatalf("expected no handles for unknown user, got %v", got)
	}
	if got := reg.ConnectionCount(); got != 3 {
		t.Fatalf("expected connection count 3, got %d", got)
	}
}

func TestRegisterValidates(t *testing.T) {
	reg := New()
	if err := reg.Register(nil); err == nil {
		t.Fatal("expected error for nil handle")
	}
	if err := reg.Register(&fakeHandle{id: "c1"}); err == nil {
		t.Fatal("expected error for missing user id")
	}
	if err := reg.Register(&fakeHandle{userID: "u1"}); err == nil {
		t.Fatal("expected error for missing connection id")
	}
}

func TestRegisterReplacesSameConnectionID(t *testing.T) {
	reg := New()
	first := &fakeHandle{id: "c1", userID: "u1"}
	second := &fakeHandle{id: "c1", userID: "u1"}

	if err := reg.Register(first); err != nil {
		t.Fatalf("register first: %v", err)
	}
	if err := reg.Register(second); err != nil {
		t.Fatalf("register second: %v", err)
	}

	handles := reg.HandlesFor("u1")
	if len(handles) != 1 {
		t.Fatalf("expected 1 handle, got %d", len(handles))
	}
	if handles[0] != Handle(second) {
		t.Fatal("expected the newer handle to win")
	}
}

func TestDeregisterIsIdempotent(t *testing.T) {
	reg := New()
	handle := &fakeHandle{id: "c1", userID: "u1"}
	if err := reg.Register(handle); err != nil {
		t.Fatalf("register: %v", err)
	}

	reg.Deregister(handle)
	reg.Deregister(handle)
	reg.Deregister(nil)
	reg.Deregister(&fakeHandle{id: "c9", userID: "u9"})

	if got := reg.ConnectionCount(); got != 0 {
		t.Fatalf("expected empty registry, got count %d", got)
	}
	if got := reg.HandlesFor("u1"); got != nil {
		t.Fatalf("expected no handles after deregister, got %v", got)
	}
}

func TestSnapshotIsStable(t *testing.T) {
	reg := New()
	handle := &fakeHandle{id: "c1", userID: "u1"}
	if err := reg.Register(handle); err != nil {
		t.Fatalf("register: %v", err)
	}

	snapshot := reg.HandlesFor("u1")
	reg.Deregister(handle)

	if len(snapshot) != 1 {
		t.Fatalf("expected snapshot to keep its handle, got %d", len(snapshot))
	}
}

func TestConcurrentChurn(t *testing.T) {
	reg := New()
	const users = 8
	const connsPerUser = 16

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for c := 0; c < connsPerUser; c++ {
			wg.Add(1)
			go func(u, c int) {
				defer wg.Done()
				handle := &fakeHandle{
					id:     fmt.Sprintf("c%d-%d", u, c),
					userID: fmt.Sprintf("u%d", u),
				}
				if err := reg.Register(handle); err != nil {
					t.Errorf("register: %v", err)
					return
				}
				reg.HandlesFor(handle.userID)
				if c%2 == 0 {
					reg.Deregister(handle)
				}
			}(u, c)
		}
	}
	wg.Wait()

	want := users * connsPerUser / 2
	if got := reg.ConnectionCount(); got != want {
		t.Fatalf("expected %d surviving connections, got %d", want, got)
	}
}

package profiles

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/ompomz/flowgazer/internal/config"
	"github.com/ompomz/flowgazer/internal/kinds"
	"github.com/ompomz/flowgazer/internal/relay"
	"github.com/ompomz/flowgazer/internal/store"
)

type fakeSub struct {
	events chan *nostr.Event
	eose   chan struct{}
	once   sync.Once
}

func (s *fakeSub) Events() <-chan *nostr.Event        { return s.events }
func (s *fakeSub) EndOfStoredEvents() <-chan struct{} { return s.eose }
func (s *fakeSub) Unsub()                             { s.once.Do(func() { close(s.events) }) }

type fakeTransport struct {
	mu       sync.Mutex
	respond  func(nostr.Filters) []*nostr.Event
	requests []nostr.Filters
}

func (t *fakeTransport) Subscribe(ctx context.Context, filters nostr.Filters) (relay.Subscription, error) {
	t.mu.Lock()
	t.requests = append(t.requests, filters)
	respond := t.respond
	t.mu.Unlock()

	var events []*nostr.Event
	if respond != nil {
		events = respond(filters)
	}
	sub := &fakeSub{
		events: make(chan *nostr.Event, len(events)+1),
		eose:   make(chan struct{}),
	}
	for _, ev := range events {
		sub.events <- ev
	}
	close(sub.eose)
	return sub, nil
}

func (t *fakeTransport) Publish(ctx context.Context, event *nostr.Event) error {
	return nil
}

func (t *fakeTransport) authorsOfRequest(i int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.requests) {
		return nil
	}
	return t.requests[i][0].Authors
}

func (t *fakeTransport) requestCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

func profileEvent(pubkey, name string, at nostr.Timestamp) *nostr.Event {
	return &nostr.Event{
		Kind:      kinds.Profile,
		PubKey:    pubkey,
		Content:   `{"name":"` + name + `"}`,
		CreatedAt: at,
	}
}

// newTestBatcher uses an hour-long debounce so flushes only happen when
// a test calls FlushNow.
func newTestBatcher(t *testing.T) (*Batcher, *store.Store, *fakeTransport) {
	t.Helper()
	cfg := config.Default().Profiles
	cfg.BatchDelayMs = int(time.Hour / time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	transport := &fakeTransport{}
	st := store.New("", nil)
	return New(ctx, st, transport, &cfg, nil), st, transport
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRequestDedupes(t *testing.T) {
	b, _, _ := newTestBatcher(t)

	b.Request("pk1")
	b.Request("pk1")
	b.Request("pk2")

	if got := b.PendingCount(); got != 2 {
		t.Fatalf("expected 2 pending, got %d", got)
	}
}

func TestRequestSkipsStoredProfiles(t *testing.T) {
	b, st, _ := newTestBatcher(t)

	st.AddProfile("pk1", &store.Profile{Name: "known", CreatedAt: 100})
	b.Request("pk1")
	b.Request("")

	if got := b.PendingCount(); got != 0 {
		t.Fatalf("expected nothing pending, got %d", got)
	}
}

func TestFlushStoresProfilesAndNotifies(t *testing.T) {
	b, st, transport := newTestBatcher(t)

	var updated atomic.Int32
	b.SetUpdateHandler(func() { updated.Add(1) })

	transport.respond = func(filters nostr.Filters) []*nostr.Event {
		return []*nostr.Event{
			profileEvent("pk1", "alice", 100),
			profileEvent("pk2", "bob", 100),
		}
	}

	b.Request("pk1")
	b.Request("pk2")
	b.Request("pk3") // never answered
	b.FlushNow()

	waitFor(t, func() bool { return st.HasProfile("pk1") && st.HasProfile("pk2") })
	waitFor(t, func() bool { return b.PendingCount() == 0 })

	if st.HasProfile("pk3") {
		t.Fatal("unanswered author must not gain a profile")
	}
	if got := updated.Load(); got != 1 {
		t.Fatalf("expected 1 update notification, got %d", got)
	}
	if got := transport.requestCount(); got != 1 {
		t.Fatalf("expected 1 batch subscription, got %d", got)
	}
	if authors := transport.authorsOfRequest(0); len(authors) != 3 {
		t.Fatalf("expected 3 authors in the batch, got %v", authors)
	}

	// Released ids can be requested again.
	b.Request("pk3")
	if got := b.PendingCount(); got != 1 {
		t.Fatalf("expected pk3 to be requestable again, got %d pending", got)
	}
}

func TestFlushHonorsBatchCeiling(t *testing.T) {
	b, _, transport := newTestBatcher(t)
	b.cfg.MaxBatchSize = 2

	b.Request("pk1")
	b.Request("pk2")
	b.Request("pk3")

	b.FlushNow()
	waitFor(t, func() bool { return transport.requestCount() == 1 })
	if authors := transport.authorsOfRequest(0); len(authors) != 2 {
		t.Fatalf("expected first batch of 2, got %v", authors)
	}

	b.FlushNow()
	waitFor(t, func() bool { return transport.requestCount() == 2 })
	if authors := transport.authorsOfRequest(1); len(authors) != 1 {
		t.Fatalf("expected second batch of 1, got %v", authors)
	}
}

func TestMalformedProfileIsReleased(t *testing.T) {
	b, st, transport := newTestBatcher(t)

	var updated atomic.Int32
	b.SetUpdateHandler(func() { updated.Add(1) })

	transport.respond = func(filters nostr.Filters) []*nostr.Event {
		return []*nostr.Event{{
			Kind:      kinds.Profile,
			PubKey:    "pk1",
			Content:   "not json",
			CreatedAt: 100,
		}}
	}

	b.Request("pk1")
	b.FlushNow()

	waitFor(t, func() bool { return b.PendingCount() == 0 })
	if st.HasProfile("pk1") {
		t.Fatal("malformed profile must not be stored")
	}
	if updated.Load() != 0 {
		t.Fatal("no notification when nothing was stored")
	}
}

func TestClearDropsState(t *testing.T) {
	b, _, _ := newTestBatcher(t)

	b.Request("pk1")
	b.Clear()
	if got := b.PendingCount(); got != 0 {
		t.Fatalf("expected empty batcher, got %d pending", got)
	}
}

package timeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/ompomz/flowgazer/internal/config"
	"github.com/ompomz/flowgazer/internal/kinds"
	"github.com/ompomz/flowgazer/internal/profiles"
	"github.com/ompomz/flowgazer/internal/relay"
	"github.com/ompomz/flowgazer/internal/store"
	"github.com/ompomz/flowgazer/internal/views"
)

type fakeSub struct {
	events chan *nostr.Event
	eose   chan struct{}
	once   sync.Once
}

func (s *fakeSub) Events() <-chan *nostr.Event       { return s.events }
func (s *fakeSub) EndOfStoredEvents() <-chan struct{} { return s.eose }
func (s *fakeSub) Unsub()                             { s.once.Do(func() { close(s.events) }) }

// fakeTransport answers every subscription from respond and signals
// end-of-stream immediately, unless holdEose keeps the stream open for
// re-entrancy tests.
type fakeTransport struct {
	mu           sync.Mutex
	respond      func(nostr.Filters) []*nostr.Event
	subscribeErr func(nostr.Filters) error
	holdEose     bool
	requests     []nostr.Filters
	subs         []*fakeSub
	published    []*nostr.Event
}

func (t *fakeTransport) Subscribe(ctx context.Context, filters nostr.Filters) (relay.Subscription, error) {
	t.mu.Lock()
	t.requests = append(t.requests, filters)
	respond := t.respond
	failWhen := t.subscribeErr
	hold := t.holdEose
	t.mu.Unlock()

	if failWhen != nil {
		if err := failWhen(filters); err != nil {
			return nil, err
		}
	}

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
	if !hold {
		close(sub.eose)
	}

	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
	return sub, nil
}

func (t *fakeTransport) Publish(ctx context.Context, event *nostr.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published = append(t.published, event)
	return nil
}

func (t *fakeTransport) requestCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// requestsMatching returns recorded filter sets containing at least one
// filter accepted by pred.
func (t *fakeTransport) requestsMatching(pred func(nostr.Filter) bool) []nostr.Filters {
	t.mu.Lock()
	defer t.mu.Unlock()

	var matched []nostr.Filters
	for _, filters := range t.requests {
		for _, f := range filters {
			if pred(f) {
				matched = append(matched, filters)
				break
			}
		}
	}
	return matched
}

func (t *fakeTransport) releaseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sub := range t.subs {
		select {
		case <-sub.eose:
		default:
			close(sub.eose)
		}
	}
}

type testSigner struct {
	sk, pk string
}

func (s *testSigner) CanSign() bool           { return true }
func (s *testSigner) PublicKey() string       { return s.pk }
func (s *testSigner) Sign(ev *nostr.Event) error { return ev.Sign(s.sk) }

func newSigner(t *testing.T) *testSigner {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		t.Fatalf("failed to derive public key: %v", err)
	}
	return &testSigner{sk: sk, pk: pk}
}

func signedEvent(t *testing.T, sk string, kind int, content string, tags nostr.Tags, at nostr.Timestamp) *nostr.Event {
	t.Helper()
	ev := &nostr.Event{
		Kind:      kind,
		Content:   content,
		Tags:      tags,
		CreatedAt: at,
	}
	if err := ev.Sign(sk); err != nil {
		t.Fatalf("failed to sign event: %v", err)
	}
	return ev
}

type fixture struct {
	orch      *Orchestrator
	store     *store.Store
	views     *views.State
	transport *fakeTransport
	cfg       *config.Timeline
}

func newFixture(t *testing.T, localPubkey string, signer Signer) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Timeline.AnchorLimit = 5
	cfg.Timeline.AnchorTimeoutMs = 2000
	cfg.Timeline.EoseTimeoutMs = 2000

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	transport := &fakeTransport{}
	st := store.New(localPubkey, nil)
	vs := views.New(st, &cfg.Timeline, nil)
	pb := profiles.New(ctx, st, transport, &cfg.Profiles, nil)
	orch := New(ctx, st, vs, pb, transport, signer, &cfg.Timeline, nil)
	t.Cleanup(orch.Stop)

	return &fixture{orch: orch, store: st, views: vs, transport: transport, cfg: &cfg.Timeline}
}

// anchorPage signs cfg.AnchorLimit notes spaced 10s apart, oldest at
// base.
func anchorPage(t *testing.T, sk string, base nostr.Timestamp, count int) []*nostr.Event {
	t.Helper()
	events := make([]*nostr.Event, count)
	for i := 0; i < count; i++ {
		at := base + nostr.Timestamp(10*(count-1-i))
		events[i] = signedEvent(t, sk, kinds.Note, "note", nil, at)
	}
	return events
}

func isAnchorFilter(f nostr.Filter) bool {
	return len(f.Kinds) == 1 && f.Kinds[0] == kinds.Note && f.Limit > 0 && f.Until == nil && f.Since == nil
}

func TestAnchorPhaseEstablishesBaseline(t *testing.T) {
	signer := newSigner(t)
	fx := newFixture(t, "", nil)

	fx.transport.respond = func(filters nostr.Filters) []*nostr.Event {
		if isAnchorFilter(filters[0]) {
			return anchorPage(t, signer.sk, 1000, 5)
		}
		return nil
	}

	result, err := fx.orch.RunAnchorPhase(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.IsEmpty {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.OldestTimestamp != 1000 {
		t.Fatalf("expected oldest 1000, got %d", result.OldestTimestamp)
	}
	if fx.store.Len() != 5 {
		t.Fatalf("expected 5 stored events, got %d", fx.store.Len())
	}
	if got := fx.views.GetOldestTimestamp(views.TabGlobal); got != 1000 {
		t.Fatalf("expected global cursor at 1000, got %d", got)
	}
}

func TestAnchorPhaseEmptyRelay(t *testing.T) {
	fx := newFixture(t, "", nil)

	result, err := fx.orch.RunAnchorPhase(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || !result.IsEmpty {
		t.Fatalf("expected empty result, got %+v", result)
	}

	if _, err := fx.orch.Initialize(context.Background()); !errors.Is(err, ErrNoMoreEvents) {
		t.Fatalf("expected ErrNoMoreEvents from Initialize, got %v", err)
	}
}

func TestAnchorPhaseStopsAtCountCap(t *testing.T) {
	signer := newSigner(t)
	fx := newFixture(t, "", nil)

	fx.transport.respond = func(filters nostr.Filters) []*nostr.Event {
		if isAnchorFilter(filters[0]) {
			// Three more than the cap, newest first.
			return anchorPage(t, signer.sk, 1000, 8)
		}
		return nil
	}

	result, err := fx.orch.RunAnchorPhase(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	// Newest-first delivery means the cap keeps the 5 newest: 1070..1030.
	if result.OldestTimestamp != 1030 {
		t.Fatalf("expected oldest 1030, got %d", result.OldestTimestamp)
	}
	if fx.store.Len() != 5 {
		t.Fatalf("expected 5 stored events, got %d", fx.store.Len())
	}
}

func TestAnchorPhaseRejectsReentry(t *testing.T) {
	fx := newFixture(t, "", nil)
	fx.transport.holdEose = true

	done := make(chan error, 1)
	go func() {
		_, err := fx.orch.RunAnchorPhase(context.Background())
		done <- err
	}()

	waitFor(t, func() bool { return fx.transport.requestCount() >= 1 })

	if _, err := fx.orch.RunAnchorPhase(context.Background()); !errors.Is(err, ErrAnchorInProgress) {
		t.Fatalf("expected ErrAnchorInProgress, got %v", err)
	}

	fx.transport.releaseAll()
	if err := <-done; err != nil {
		t.Fatalf("first anchor phase failed: %v", err)
	}
}

func TestStreamFiltersFanIn(t *testing.T) {
	signer := newSigner(t)
	friend := newSigner(t)
	fx := newFixture(t, signer.pk, signer)

	fx.store.SetFollowingList([]string{friend.pk})
	ownPost := signedEvent(t, signer.sk, kinds.Note, "mine", nil, 900)
	fx.store.Add(ownPost)

	fx.orch.mu.Lock()
	fx.orch.cursorSince = 500
	filters := fx.orch.buildStreamFilters()
	fx.orch.mu.Unlock()

	// global + following + three mention kinds + interactions on posts.
	if len(filters) != 6 {
		t.Fatalf("expected 6 filters, got %d", len(filters))
	}
	for i, f := range filters {
		if f.Since == nil || *f.Since != 500 {
			t.Errorf("filter %d should carry the anchored since", i)
		}
	}

	global := filters[0]
	if len(global.Kinds) != 2 || global.Kinds[0] != kinds.Note || global.Kinds[1] != kinds.Repost {
		t.Fatalf("unexpected global kinds: %v", global.Kinds)
	}

	following := filters[1]
	if len(following.Authors) != 1 || following.Authors[0] != friend.pk {
		t.Fatalf("following branch should carry only the friend, got %v", following.Authors)
	}

	interactions := filters[5]
	if got := interactions.Tags[kinds.ETag]; len(got) != 1 || got[0] != ownPost.ID {
		t.Fatalf("interactions branch should reference own post ids, got %v", got)
	}
	if len(interactions.Kinds) != 2 {
		t.Fatalf("unexpected interaction kinds: %v", interactions.Kinds)
	}
}

func TestStreamFiltersAnonymous(t *testing.T) {
	fx := newFixture(t, "", nil)

	fx.orch.mu.Lock()
	fx.orch.cursorSince = 500
	filters := fx.orch.buildStreamFilters()
	fx.orch.mu.Unlock()

	if len(filters) != 1 {
		t.Fatalf("anonymous stream should have only the global branch, got %d", len(filters))
	}
}

func TestStreamFiltersChannelToggle(t *testing.T) {
	fx := newFixture(t, "", nil)

	fx.orch.mu.Lock()
	fx.orch.showChannelMessages = true
	filters := fx.orch.buildStreamFilters()
	fx.orch.mu.Unlock()

	found := false
	for _, kind := range filters[0].Kinds {
		if kind == kinds.ChannelMessage {
			found = true
		}
	}
	if !found {
		t.Fatal("global branch should include channel messages when enabled")
	}
}

func TestFollowedAuthorsSelfExclusion(t *testing.T) {
	signer := newSigner(t)
	friend := newSigner(t)
	fx := newFixture(t, signer.pk, signer)

	fx.store.SetFollowingList([]string{friend.pk})
	authors := fx.orch.followedAuthors(signer.pk)
	if len(authors) != 1 || authors[0] != friend.pk {
		t.Fatalf("expected only the friend, got %v", authors)
	}

	// Following yourself is respected.
	fx.store.SetFollowingList([]string{friend.pk, signer.pk})
	authors = fx.orch.followedAuthors(signer.pk)
	if len(authors) != 2 {
		t.Fatalf("expected self-follow to be kept, got %v", authors)
	}
}

func TestFetchInitialData(t *testing.T) {
	signer := newSigner(t)
	friend := newSigner(t)
	fx := newFixture(t, signer.pk, signer)

	contacts := signedEvent(t, signer.sk, kinds.Contacts, "", nostr.Tags{
		{kinds.PTag, friend.pk},
		{kinds.PTag, friend.pk}, // duplicates collapse
	}, 900)
	note := signedEvent(t, friend.sk, kinds.Note, "target", nil, 800)
	liked := signedEvent(t, signer.sk, kinds.Reaction, "+", nostr.Tags{{kinds.ETag, note.ID}}, 950)

	fx.transport.respond = func(filters nostr.Filters) []*nostr.Event {
		switch filters[0].Kinds[0] {
		case kinds.Contacts:
			return []*nostr.Event{contacts}
		case kinds.Reaction:
			return []*nostr.Event{liked}
		}
		return nil
	}

	if err := fx.orch.FetchInitialData(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := fx.store.FollowingList(); len(got) != 1 || got[0] != friend.pk {
		t.Fatalf("expected following list [friend], got %v", got)
	}
	if !fx.store.IsLikedByLocal(note.ID) {
		t.Fatal("own reaction should mark the target as liked")
	}
}

func TestSwitchTabFetchesBacklogOnce(t *testing.T) {
	signer := newSigner(t)
	fx := newFixture(t, signer.pk, signer)

	isBacklog := func(f nostr.Filter) bool {
		return len(f.Authors) == 1 && f.Authors[0] == signer.pk &&
			len(f.Kinds) == 2 && f.Kinds[0] == kinds.Note && f.Kinds[1] == kinds.ChannelMessage
	}

	fx.orch.SwitchTab(views.TabMyPosts)
	waitFor(t, func() bool { return len(fx.transport.requestsMatching(isBacklog)) == 1 })

	fx.orch.SwitchTab(views.TabGlobal)
	fx.orch.SwitchTab(views.TabMyPosts)

	time.Sleep(50 * time.Millisecond)
	if got := len(fx.transport.requestsMatching(isBacklog)); got != 1 {
		t.Fatalf("backlog should be fetched once, got %d fetches", got)
	}
}

type fakeSwitcher struct {
	urls []string
}

func (s *fakeSwitcher) SwitchRelay(ctx context.Context, url string) error {
	s.urls = append(s.urls, url)
	return nil
}

func TestSwitchRelayDropsDatasetAndReanchors(t *testing.T) {
	signer := newSigner(t)
	fx := newFixture(t, signer.pk, signer)

	firstRelay := anchorPage(t, signer.sk, 1000, 5)
	secondRelay := anchorPage(t, signer.sk, 2000, 3)

	var mu sync.Mutex
	current := firstRelay
	fx.transport.respond = func(filters nostr.Filters) []*nostr.Event {
		mu.Lock()
		defer mu.Unlock()
		if isAnchorFilter(filters[0]) {
			return current
		}
		return nil
	}

	if _, err := fx.orch.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	fx.store.SetFollowingList([]string{"someone"})

	mu.Lock()
	current = secondRelay
	mu.Unlock()
	switcher := &fakeSwitcher{}
	result, err := fx.orch.SwitchRelay(context.Background(), switcher, "wss://other.example/")
	if err != nil {
		t.Fatalf("switch failed: %v", err)
	}

	if len(switcher.urls) != 1 || switcher.urls[0] != "wss://other.example/" {
		t.Fatalf("transport should be moved to the new relay, got %v", switcher.urls)
	}
	if result.OldestTimestamp != 2000 {
		t.Fatalf("expected re-anchor at 2000, got %d", result.OldestTimestamp)
	}
	// Only the new relay's events survive.
	if fx.store.Len() != 3 {
		t.Fatalf("expected 3 events after the switch, got %d", fx.store.Len())
	}
	for _, ev := range firstRelay {
		if fx.store.Get(ev.ID) != nil {
			t.Fatal("events from the old relay must be dropped")
		}
	}
	if fx.store.IsFollowing("someone") {
		t.Fatal("following set must be dropped with the dataset")
	}
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

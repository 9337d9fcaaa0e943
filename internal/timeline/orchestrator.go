// Package timeline drives the two-phase timeline bootstrap (anchor then
// stream), filter-driven resubscription and chained backward pagination,
// feeding every delivered event through the store, the views and the
// profile batcher.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/ompomz/flowgazer/internal/config"
	"github.com/ompomz/flowgazer/internal/kinds"
	"github.com/ompomz/flowgazer/internal/ops"
	"github.com/ompomz/flowgazer/internal/profiles"
	"github.com/ompomz/flowgazer/internal/relay"
	"github.com/ompomz/flowgazer/internal/store"
	"github.com/ompomz/flowgazer/internal/views"
)

var (
	// ErrNoMoreEvents is the user-visible "nothing more" outcome: an
	// anchor phase or a load-more first page that found zero events.
	ErrNoMoreEvents = errors.New("no more events")

	// ErrAnchorInProgress rejects a re-entrant anchor phase.
	ErrAnchorInProgress = errors.New("anchor phase already in progress")

	// ErrLoadMoreInProgress rejects a re-entrant load-more.
	ErrLoadMoreInProgress = errors.New("load more already in progress")
)

// Signer signs outgoing events. The core never inspects key material.
type Signer interface {
	CanSign() bool
	PublicKey() string
	Sign(*nostr.Event) error
}

// AnchorResult is the outcome of the anchor phase.
type AnchorResult struct {
	Success         bool
	IsEmpty         bool
	OldestTimestamp nostr.Timestamp
}

// Orchestrator owns the subscription state machine for the process:
// anchor phase, live stream fan-in, resubscription and load-more.
type Orchestrator struct {
	ctx       context.Context
	store     *store.Store
	views     *views.State
	profiles  *profiles.Batcher
	transport relay.Transport
	signer    Signer
	cfg       *config.Timeline
	log       *ops.Logger

	mu                  sync.Mutex
	cursorSince         nostr.Timestamp
	authorFilter        []string
	showChannelMessages bool
	streamCancel        context.CancelFunc
	streamSub           relay.Subscription
	backlogFetched      map[views.Tab]bool

	anchoring   atomic.Bool
	loadingMore atomic.Bool
}

// New wires an orchestrator to its collaborators.
func New(ctx context.Context, st *store.Store, vs *views.State, pb *profiles.Batcher, transport relay.Transport, signer Signer, cfg *config.Timeline, logger *ops.Logger) *Orchestrator {
	if logger == nil {
		logger = ops.Default()
	}
	return &Orchestrator{
		ctx:                 ctx,
		store:               st,
		views:               vs,
		profiles:            pb,
		transport:           transport,
		signer:              signer,
		cfg:                 cfg,
		log:                 logger.WithComponent("timeline"),
		showChannelMessages: cfg.ShowChannelMessages,
		backlogFetched:      make(map[views.Tab]bool),
	}
}

// ingest pushes one delivered event through the store, the views and
// the profile batcher. Returns whether the event was newly accepted.
func (o *Orchestrator) ingest(event *nostr.Event) bool {
	if !o.store.Add(event) {
		return false
	}
	o.views.OnEventReceived(event)
	o.profiles.Request(event.PubKey)
	return true
}

// ingestHistory is the pagination variant: the event lands in one
// specific tab instead of being routed by the live membership rules.
func (o *Orchestrator) ingestHistory(event *nostr.Event, tab views.Tab) bool {
	if !o.store.Add(event) {
		return false
	}
	o.views.AddHistoryEvent(event, tab)
	o.profiles.Request(event.PubKey)
	return true
}

// Initialize runs the anchor phase and, when it anchors on anything,
// starts the live stream from the anchored timestamp. The caller is
// told about an empty relay through ErrNoMoreEvents.
func (o *Orchestrator) Initialize(ctx context.Context) (AnchorResult, error) {
	result, err := o.RunAnchorPhase(ctx)
	if err != nil {
		return result, err
	}
	if !result.Success {
		return result, ErrNoMoreEvents
	}

	o.mu.Lock()
	o.cursorSince = result.OldestTimestamp
	o.mu.Unlock()

	if err := o.StartStream(); err != nil {
		return result, err
	}
	return result, nil
}

// RunAnchorPhase fetches a bounded page of the primary kind to
// establish the historical baseline timestamp. It terminates on the
// count cap, end-of-stream or the timeout, whichever comes first, and
// unsubscribes on every exit path. A second call while one is in
// flight is rejected.
func (o *Orchestrator) RunAnchorPhase(ctx context.Context) (AnchorResult, error) {
	if !o.anchoring.CompareAndSwap(false, true) {
		o.log.Warn("anchor phase already running, ignoring")
		return AnchorResult{}, ErrAnchorInProgress
	}
	defer o.anchoring.Store(false)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub, err := o.transport.Subscribe(subCtx, nostr.Filters{{
		Kinds: []int{kinds.Note},
		Limit: o.cfg.AnchorLimit,
	}})
	if err != nil {
		return AnchorResult{}, fmt.Errorf("anchor phase subscribe failed: %w", err)
	}
	defer sub.Unsub()

	timeout := time.NewTimer(o.cfg.AnchorTimeout())
	defer timeout.Stop()

	collected := 0
	var oldest nostr.Timestamp

	finish := func() AnchorResult {
		if collected == 0 {
			o.log.LogAnchorPhase(0, 0, true)
			return AnchorResult{IsEmpty: true}
		}
		o.log.LogAnchorPhase(collected, int64(oldest), false)
		return AnchorResult{Success: true, OldestTimestamp: oldest}
	}

	// accept ingests one delivery and reports whether the count cap is
	// reached.
	accept := func(event *nostr.Event) bool {
		if event == nil || !o.ingest(event) {
			return false
		}
		if collected == 0 || event.CreatedAt < oldest {
			oldest = event.CreatedAt
		}
		collected++
		return collected >= o.cfg.AnchorLimit
	}

	events := sub.Events()
	eose := sub.EndOfStoredEvents()
	for {
		select {
		case <-ctx.Done():
			return AnchorResult{}, ctx.Err()

		case <-timeout.C:
			return finish(), nil

		case <-eose:
			// Deliveries already buffered ahead of the end-of-stream
			// signal still count.
			for {
				select {
				case event, ok := <-events:
					if !ok || accept(event) {
						return finish(), nil
					}
				default:
					return finish(), nil
				}
			}

		case event, ok := <-events:
			if !ok || accept(event) {
				return finish(), nil
			}
		}
	}
}

// StartStream opens the live fan-in subscription from the anchored
// timestamp. An already-running stream is torn down first, keeping the
// same since bound so no anchored event is lost across resubscribes.
func (o *Orchestrator) StartStream() error {
	o.stopStream()

	o.mu.Lock()
	filters := o.buildStreamFilters()
	streamCtx, cancel := context.WithCancel(o.ctx)
	o.streamCancel = cancel
	o.mu.Unlock()

	sub, err := o.transport.Subscribe(streamCtx, filters)
	if err != nil {
		cancel()
		return fmt.Errorf("stream phase subscribe failed: %w", err)
	}

	o.mu.Lock()
	o.streamSub = sub
	o.mu.Unlock()

	go o.pumpStream(streamCtx, sub)
	o.log.Info("stream phase started", "filters", len(filters))
	return nil
}

// pumpStream consumes the live subscription until teardown.
func (o *Orchestrator) pumpStream(ctx context.Context, sub relay.Subscription) {
	events := sub.Events()
	eose := sub.EndOfStoredEvents()
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if event != nil {
				o.ingest(event)
			}

		case <-eose:
			// Stored backlog is in; flush any queued profile lookups.
			o.profiles.FlushNow()
			eose = nil
		}
	}
}

// stopStream tears the live subscription down, if one is active.
func (o *Orchestrator) stopStream() {
	o.mu.Lock()
	cancel := o.streamCancel
	sub := o.streamSub
	o.streamCancel = nil
	o.streamSub = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Unsub()
	}
}

// Stop tears down every live subscription the orchestrator owns.
func (o *Orchestrator) Stop() {
	o.stopStream()
}

// SetAuthorFilter replaces the global-tab author allow-list and
// re-issues the stream with the same anchored since bound.
func (o *Orchestrator) SetAuthorFilter(authors []string) error {
	o.mu.Lock()
	o.authorFilter = authors
	streaming := o.streamSub != nil
	o.mu.Unlock()

	if !streaming {
		return nil
	}
	return o.StartStream()
}

// SetShowChannelMessages toggles kind-42 syncing and re-issues the
// stream with the same anchored since bound.
func (o *Orchestrator) SetShowChannelMessages(enabled bool) error {
	o.mu.Lock()
	o.showChannelMessages = enabled
	streaming := o.streamSub != nil
	o.mu.Unlock()

	if !streaming {
		return nil
	}
	return o.StartStream()
}

// ShowChannelMessages reports the current kind-42 toggle.
func (o *Orchestrator) ShowChannelMessages() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.showChannelMessages
}

// AuthorFilter returns the current global-tab author allow-list.
func (o *Orchestrator) AuthorFilter() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.authorFilter
}

// SwitchTab changes the displayed tab and, on a tab's first activation,
// kicks off its one-time backlog fetch.
func (o *Orchestrator) SwitchTab(tab views.Tab) {
	o.views.SwitchTab(tab)

	if o.store.LocalPubkey() == "" {
		return
	}

	o.mu.Lock()
	fetched := o.backlogFetched[tab]
	if !fetched {
		o.backlogFetched[tab] = true
	}
	o.mu.Unlock()

	if fetched {
		return
	}

	switch tab {
	case views.TabMyPosts:
		go o.fetchOwnPostsBacklog()
	case views.TabLikes:
		go o.fetchMentionsBacklog()
	}
}

// RelaySwitcher moves the transport to a different relay address.
// Implemented by relay.Client.
type RelaySwitcher interface {
	SwitchRelay(ctx context.Context, url string) error
}

// SwitchRelay tears down every subscription, reconnects the transport
// to url, drops the whole dataset and re-runs the bootstrap. Events
// are never mixed across relays.
func (o *Orchestrator) SwitchRelay(ctx context.Context, switcher RelaySwitcher, url string) (AnchorResult, error) {
	o.stopStream()
	if err := switcher.SwitchRelay(ctx, url); err != nil {
		return AnchorResult{}, fmt.Errorf("relay switch failed: %w", err)
	}
	return o.Reset(ctx)
}

// Reset clears the dataset and every derived view, then re-runs the
// bootstrap. Used after switching relays.
func (o *Orchestrator) Reset(ctx context.Context) (AnchorResult, error) {
	o.stopStream()
	o.store.Clear()
	o.views.ClearAll()
	o.profiles.Clear()

	o.mu.Lock()
	o.cursorSince = 0
	o.backlogFetched = make(map[views.Tab]bool)
	o.mu.Unlock()

	return o.Initialize(ctx)
}

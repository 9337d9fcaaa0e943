// Package profiles coalesces individual profile lookups into periodic
// batched kind-0 subscriptions, so rendering a burst of unknown authors
// does not turn into a request storm.
package profiles

import (
	"context"
	"sync"

	"github.com/bep/debounce"
	"github.com/nbd-wtf/go-nostr"

	"github.com/ompomz/flowgazer/internal/config"
	"github.com/ompomz/flowgazer/internal/kinds"
	"github.com/ompomz/flowgazer/internal/ops"
	"github.com/ompomz/flowgazer/internal/relay"
	"github.com/ompomz/flowgazer/internal/store"
)

// Batcher queues profile requests and flushes them as one bounded
// subscription after a quiet period. An author id is in at most one of
// {queued, in-flight} at any time; ids that never resolve are released
// on end-of-stream so they can be requested again later.
type Batcher struct {
	mu sync.Mutex

	ctx       context.Context
	store     *store.Store
	transport relay.Transport
	cfg       *config.Profiles
	log       *ops.Logger

	queue    map[string]struct{}
	inFlight map[string]struct{}

	debounced func(func())
	onUpdated func()
}

// New creates a batcher. ctx bounds the lifetime of every batch
// subscription it issues.
func New(ctx context.Context, st *store.Store, transport relay.Transport, cfg *config.Profiles, logger *ops.Logger) *Batcher {
	if logger == nil {
		logger = ops.Default()
	}
	return &Batcher{
		ctx:       ctx,
		store:     st,
		transport: transport,
		cfg:       cfg,
		log:       logger.WithComponent("profiles"),
		queue:     make(map[string]struct{}),
		inFlight:  make(map[string]struct{}),
		debounced: debounce.New(cfg.BatchDelay()),
	}
}

// SetUpdateHandler registers the callback fired when a flushed batch
// stored at least one new profile.
func (b *Batcher) SetUpdateHandler(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onUpdated = fn
}

// Request queues a profile lookup for pubkey. No-op when a profile is
// already stored or the id is already queued or in flight.
func (b *Batcher) Request(pubkey string) {
	if pubkey == "" || b.store.HasProfile(pubkey) {
		return
	}

	b.mu.Lock()
	if _, inFlight := b.inFlight[pubkey]; inFlight {
		b.mu.Unlock()
		return
	}
	if _, queued := b.queue[pubkey]; queued {
		b.mu.Unlock()
		return
	}
	b.queue[pubkey] = struct{}{}
	b.mu.Unlock()

	b.debounced(b.flush)
}

// RequestMany queues lookups for every pubkey.
func (b *Batcher) RequestMany(pubkeys []string) {
	for _, pk := range pubkeys {
		b.Request(pk)
	}
}

// FlushNow flushes the queue immediately, without waiting out the
// debounce window. Used when the caller knows no more requests are
// imminent. The pending debounced flush, if any, becomes a no-op on an
// empty queue.
func (b *Batcher) FlushNow() {
	b.flush()
}

// Clear drops all queued and in-flight state. Used on relay switch.
func (b *Batcher) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = make(map[string]struct{})
	b.inFlight = make(map[string]struct{})
}

// flush drains up to the batch ceiling from the queue, marks the drained
// ids in flight and issues one kind-0 subscription over them.
func (b *Batcher) flush() {
	b.mu.Lock()
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return
	}

	batch := make([]string, 0, b.cfg.MaxBatchSize)
	for pk := range b.queue {
		if len(batch) >= b.cfg.MaxBatchSize {
			break
		}
		delete(b.queue, pk)
		b.inFlight[pk] = struct{}{}
		batch = append(batch, pk)
	}
	remaining := len(b.queue)
	b.mu.Unlock()

	if remaining > 0 {
		// More than one batch queued; re-arm for the rest.
		b.debounced(b.flush)
	}

	filters := nostr.Filters{{
		Kinds:   []int{kinds.Profile},
		Authors: batch,
	}}

	sub, err := b.transport.Subscribe(b.ctx, filters)
	if err != nil {
		b.log.Warn("profile batch subscribe failed", "authors", len(batch), "error", err)
		b.release(batch)
		return
	}

	go b.collect(sub, batch)
}

// collect consumes one batch subscription until end-of-stream, storing
// delivered profiles and releasing in-flight markers.
func (b *Batcher) collect(sub relay.Subscription, batch []string) {
	defer sub.Unsub()

	stored := 0
	handle := func(event *nostr.Event) {
		if event == nil || event.Kind != kinds.Profile {
			return
		}
		profile, err := store.ParseProfile(event)
		if err != nil {
			// A malformed profile must not block future requests for
			// this author.
			b.log.Warn("profile parse failed", "pubkey", event.PubKey, "error", err)
			b.releaseOne(event.PubKey)
			return
		}
		if b.store.AddProfile(event.PubKey, profile) {
			stored++
		}
		b.releaseOne(event.PubKey)
	}

	events := sub.Events()
	eose := sub.EndOfStoredEvents()
	for {
		select {
		case <-b.ctx.Done():
			b.release(batch)
			return

		case event, ok := <-events:
			if !ok {
				b.finish(batch, stored)
				return
			}
			handle(event)

		case <-eose:
			// Drain profiles buffered ahead of the end-of-stream signal.
			for {
				select {
				case event, ok := <-events:
					if !ok {
						b.finish(batch, stored)
						return
					}
					handle(event)
				default:
					b.finish(batch, stored)
					return
				}
			}
		}
	}
}

// finish releases every id that never received a response and emits the
// updated notification when the batch stored anything.
func (b *Batcher) finish(batch []string, stored int) {
	b.release(batch)
	b.log.LogProfileBatch(len(batch), stored)

	if stored == 0 {
		return
	}

	b.mu.Lock()
	onUpdated := b.onUpdated
	b.mu.Unlock()
	if onUpdated != nil {
		onUpdated()
	}
}

func (b *Batcher) release(batch []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pk := range batch {
		delete(b.inFlight, pk)
	}
}

func (b *Batcher) releaseOne(pubkey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inFlight, pubkey)
}

// PendingCount returns how many ids are queued or in flight.
func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) + len(b.inFlight)
}

package timeline

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// LoadMore pages the current tab backward: one bounded page of the
// tab's primary kind strictly older than the cursor, then an unbounded
// backfill of the secondary kinds over the page's window. The cursor
// moves only after the page succeeds, so a failed page can be retried
// over the same window.
func (o *Orchestrator) LoadMore(ctx context.Context) error {
	if !o.loadingMore.CompareAndSwap(false, true) {
		return ErrLoadMoreInProgress
	}
	defer o.loadingMore.Store(false)

	tab := o.views.CurrentTab()
	until := o.views.GetOldestTimestamp(tab)

	step1 := o.buildLoadMoreStep1(tab, until)
	if step1 == nil {
		return ErrNoMoreEvents
	}

	var (
		added     int
		newOldest nostr.Timestamp
	)
	err := o.collect(ctx, nostr.Filters{*step1}, func(event *nostr.Event) {
		if !o.ingestHistory(event, tab) {
			return
		}
		if added == 0 || event.CreatedAt < newOldest {
			newOldest = event.CreatedAt
		}
		added++
	})
	if err != nil {
		return fmt.Errorf("load more page failed: %w", err)
	}
	if added == 0 {
		o.log.LogLoadMore(string(tab), 0, int64(until))
		return ErrNoMoreEvents
	}

	if step2 := o.buildLoadMoreStep2(tab, newOldest, until); step2 != nil {
		err := o.collect(ctx, nostr.Filters{*step2}, func(event *nostr.Event) {
			o.ingestHistory(event, tab)
		})
		if err != nil {
			// Bail before the cursor moves so a retry re-covers the
			// secondary-kind window.
			return fmt.Errorf("load more backfill failed: %w", err)
		}
	}

	o.views.UpdateTabCursor(tab, newOldest)
	o.views.RenderNow()
	o.log.LogLoadMore(string(tab), added, int64(newOldest))
	return nil
}

// collect runs one subscription to end-of-stream, handing every
// delivered event to handle. It gives up after the configured
// end-of-stream timeout and unsubscribes on every exit path.
func (o *Orchestrator) collect(ctx context.Context, filters nostr.Filters, handle func(*nostr.Event)) error {
	subCtx, cancel := context.WithTimeout(ctx, o.cfg.EoseTimeout())
	defer cancel()

	sub, err := o.transport.Subscribe(subCtx, filters)
	if err != nil {
		return err
	}
	defer sub.Unsub()

	events := sub.Events()
	eose := sub.EndOfStoredEvents()
	for {
		select {
		case <-subCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Relay never sent end-of-stream; keep what arrived.
			return nil

		case <-eose:
			// Drain deliveries buffered ahead of the end-of-stream signal.
			for {
				select {
				case event, ok := <-events:
					if !ok {
						return nil
					}
					if event != nil {
						handle(event)
					}
				default:
					return nil
				}
			}

		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event != nil {
				handle(event)
			}
		}
	}
}

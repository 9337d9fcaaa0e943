// Package channels resolves public chat channels: the user's channel
// list and human-readable channel names.
package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/ompomz/flowgazer/internal/kinds"
	"github.com/ompomz/flowgazer/internal/ops"
	"github.com/ompomz/flowgazer/internal/relay"
)

// resolveTimeout bounds each name-resolution subscription.
const resolveTimeout = 5 * time.Second

// metadata is the JSON content of channel create/metadata events.
type metadata struct {
	Name string `json:"name"`
}

// Directory looks up channel ids and names, caching resolved names for
// the life of the process.
type Directory struct {
	mu        sync.Mutex
	transport relay.Transport
	log       *ops.Logger
	names     map[string]string
}

// New creates an empty directory.
func New(transport relay.Transport, logger *ops.Logger) *Directory {
	if logger == nil {
		logger = ops.Default()
	}
	return &Directory{
		transport: transport,
		log:       logger.WithComponent("channels"),
		names:     make(map[string]string),
	}
}

// FetchChannelList returns the channel ids from the user's latest
// channel list event.
func (d *Directory) FetchChannelList(ctx context.Context, pubkey string) ([]string, error) {
	if pubkey == "" {
		return nil, nil
	}

	var latest *nostr.Event
	err := d.collect(ctx, nostr.Filters{{
		Kinds:   []int{kinds.ChannelList},
		Authors: []string{pubkey},
		Limit:   1,
	}}, func(event *nostr.Event) {
		if latest == nil || event.CreatedAt > latest.CreatedAt {
			latest = event
		}
	})
	if err != nil {
		return nil, fmt.Errorf("fetch channel list: %w", err)
	}
	if latest == nil {
		return nil, nil
	}

	var ids []string
	for _, tag := range latest.Tags {
		if len(tag) >= 2 && tag[0] == kinds.ETag && tag[1] != "" {
			ids = append(ids, tag[1])
		}
	}
	return ids, nil
}

// ResolveName returns the display name for a channel: the latest
// metadata update when one exists, the creation event's name otherwise,
// or a truncated-id placeholder when neither resolves. Results are
// cached.
func (d *Directory) ResolveName(ctx context.Context, channelID string) string {
	d.mu.Lock()
	if name, ok := d.names[channelID]; ok {
		d.mu.Unlock()
		return name
	}
	d.mu.Unlock()

	name := d.lookupName(ctx, channelID)
	if name == "" {
		name = defaultName(channelID)
	}

	d.mu.Lock()
	d.names[channelID] = name
	d.mu.Unlock()
	return name
}

// lookupName tries kind-41 metadata addressed at the channel first,
// then the kind-40 creation event itself.
func (d *Directory) lookupName(ctx context.Context, channelID string) string {
	var latest *nostr.Event
	err := d.collect(ctx, nostr.Filters{{
		Kinds: []int{kinds.ChannelMetadata},
		Tags:  nostr.TagMap{kinds.ETag: []string{channelID}},
		Limit: 1,
	}}, func(event *nostr.Event) {
		if latest == nil || event.CreatedAt > latest.CreatedAt {
			latest = event
		}
	})
	if err == nil && latest != nil {
		if name := parseName(latest); name != "" {
			return name
		}
	}

	latest = nil
	err = d.collect(ctx, nostr.Filters{{
		Kinds: []int{kinds.ChannelCreate},
		IDs:   []string{channelID},
	}}, func(event *nostr.Event) {
		latest = event
	})
	if err == nil && latest != nil {
		if name := parseName(latest); name != "" {
			return name
		}
	}

	if err != nil {
		d.log.Warn("channel name lookup failed", "channel", channelID, "error", err)
	}
	return ""
}

func parseName(event *nostr.Event) string {
	var meta metadata
	if err := json.Unmarshal([]byte(event.Content), &meta); err != nil {
		return ""
	}
	return meta.Name
}

func defaultName(channelID string) string {
	if len(channelID) > 8 {
		channelID = channelID[:8]
	}
	return "ch:" + channelID
}

// collect runs one subscription to end-of-stream within the resolve
// timeout.
func (d *Directory) collect(ctx context.Context, filters nostr.Filters, handle func(*nostr.Event)) error {
	subCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	sub, err := d.transport.Subscribe(subCtx, filters)
	if err != nil {
		return err
	}
	defer sub.Unsub()

	events := sub.Events()
	eose := sub.EndOfStoredEvents()
	for {
		select {
		case <-subCtx.Done():
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

// Package relay wraps the single active Nostr relay connection behind a
// small transport interface. Each logical subscription is a channel pair;
// teardown is Unsub, which closes the event channel.
package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/ompomz/flowgazer/internal/config"
	"github.com/ompomz/flowgazer/internal/ops"
)

// Subscription is one live filter subscription on the active relay.
type Subscription interface {
	// Events delivers matching events until the subscription ends.
	Events() <-chan *nostr.Event
	// EndOfStoredEvents signals that no more stored matches are
	// immediately available. Live matches may still arrive afterwards.
	EndOfStoredEvents() <-chan struct{}
	// Unsub tears the subscription down. Safe to call more than once.
	Unsub()
}

// Transport is the subscribe/publish primitive the core depends on.
type Transport interface {
	Subscribe(ctx context.Context, filters nostr.Filters) (Subscription, error)
	Publish(ctx context.Context, event *nostr.Event) error
}

// Client is the Transport implementation over one go-nostr relay
// connection.
type Client struct {
	mu    sync.Mutex
	url   string
	relay *nostr.Relay

	cfg config.Relay
	log *ops.Logger
}

// Connect dials the configured relay and returns a ready client.
func Connect(ctx context.Context, cfg *config.Relay, logger *ops.Logger) (*Client, error) {
	if logger == nil {
		logger = ops.Default()
	}
	c := &Client{
		cfg: *cfg,
		log: logger.WithComponent("relay"),
	}
	if err := c.SwitchRelay(ctx, cfg.URL); err != nil {
		return nil, err
	}
	return c, nil
}

// SwitchRelay closes the current connection, if any, and connects to a
// new relay address. Callers are responsible for clearing derived state
// first; every subscription on the old connection is terminated.
func (c *Client) SwitchRelay(ctx context.Context, url string) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout())
	defer cancel()

	relay, err := nostr.RelayConnect(dialCtx, url)
	if err != nil {
		c.log.LogRelayConnection(url, false, err)
		return fmt.Errorf("failed to connect to relay %s: %w", url, err)
	}

	c.mu.Lock()
	old := c.relay
	c.relay = relay
	c.url = url
	c.mu.Unlock()

	if old != nil {
		old.Close()
		c.log.LogRelayConnection(c.url, false, nil)
	}
	c.log.LogRelayConnection(url, true, nil)
	return nil
}

// URL returns the address of the active relay.
func (c *Client) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// Subscribe opens a subscription for the given filters on the active
// relay. The subscription ends when ctx is cancelled or Unsub is called.
func (c *Client) Subscribe(ctx context.Context, filters nostr.Filters) (Subscription, error) {
	c.mu.Lock()
	relay := c.relay
	c.mu.Unlock()

	if relay == nil {
		return nil, fmt.Errorf("not connected to a relay")
	}

	sub, err := relay.Subscribe(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return &liveSubscription{sub: sub}, nil
}

// Publish sends a signed event to the active relay.
func (c *Client) Publish(ctx context.Context, event *nostr.Event) error {
	c.mu.Lock()
	relay := c.relay
	c.mu.Unlock()

	if relay == nil {
		return fmt.Errorf("not connected to a relay")
	}

	if err := relay.Publish(ctx, *event); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close terminates the relay connection and every subscription on it.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.relay != nil {
		c.relay.Close()
		c.relay = nil
	}
}

type liveSubscription struct {
	sub  *nostr.Subscription
	once sync.Once
}

func (s *liveSubscription) Events() <-chan *nostr.Event {
	return s.sub.Events
}

func (s *liveSubscription) EndOfStoredEvents() <-chan struct{} {
	return s.sub.EndOfStoredEvents
}

func (s *liveSubscription) Unsub() {
	s.once.Do(s.sub.Unsub)
}

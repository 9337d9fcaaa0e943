package timeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/ompomz/flowgazer/internal/kinds"
)

var (
	// ErrReadOnly is returned when publishing is attempted without a
	// signing-capable identity.
	ErrReadOnly = errors.New("logged in read-only, cannot sign events")

	// ErrEmptyContent rejects posting blank content.
	ErrEmptyContent = errors.New("content is empty")
)

// PublishNote signs and publishes a kind-1 note stamped with this
// client's attribution tag, then echoes it into the local dataset so it
// appears without waiting for the relay to loop it back.
func (o *Orchestrator) PublishNote(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	event := nostr.Event{
		Kind:      kinds.Note,
		Content:   content,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{kinds.ClientTag, kinds.ClientTagValue}},
	}
	return o.publish(ctx, &event)
}

// PublishChannelMessage signs and publishes a kind-42 message rooted at
// the given channel.
func (o *Orchestrator) PublishChannelMessage(ctx context.Context, content, channelID string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if channelID == "" {
		return errors.New("channel id is empty")
	}
	event := nostr.Event{
		Kind:      kinds.ChannelMessage,
		Content:   content,
		CreatedAt: nostr.Now(),
		Tags: nostr.Tags{
			{kinds.ETag, channelID, "", "root"},
			{kinds.ClientTag, kinds.ClientTagValue},
		},
	}
	return o.publish(ctx, &event)
}

// PublishReaction signs and publishes a kind-7 reaction to the target
// event. The local reaction registry updates immediately, so the
// renderer can mark the target without a relay round trip.
func (o *Orchestrator) PublishReaction(ctx context.Context, targetID, targetAuthor, content string) error {
	if targetID == "" || targetAuthor == "" {
		return errors.New("reaction target is incomplete")
	}
	if content == "" {
		content = "+"
	}
	event := nostr.Event{
		Kind:      kinds.Reaction,
		Content:   content,
		CreatedAt: nostr.Now(),
		Tags: nostr.Tags{
			{kinds.ETag, targetID},
			{kinds.PTag, targetAuthor},
			{kinds.ClientTag, kinds.ClientTagValue},
		},
	}
	return o.publish(ctx, &event)
}

// publish signs, sends and locally echoes one outgoing event.
func (o *Orchestrator) publish(ctx context.Context, event *nostr.Event) error {
	if o.signer == nil || !o.signer.CanSign() {
		return ErrReadOnly
	}

	event.PubKey = o.signer.PublicKey()
	if err := o.signer.Sign(event); err != nil {
		return fmt.Errorf("signing failed: %w", err)
	}
	if err := o.transport.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	o.ingest(event)
	o.views.RenderNow()
	o.log.Info("event published", "kind", event.Kind, "id", event.ID)
	return nil
}

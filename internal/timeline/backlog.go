package timeline

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/ompomz/flowgazer/internal/kinds"
	"github.com/ompomz/flowgazer/internal/views"
)

// Per-tab backlog page sizes for first activation.
const (
	ownPostsBacklogLimit = 100
	mentionsBacklogLimit = 50
)

// FetchInitialData loads the logged-in user's context: the latest
// contact list (which seeds the following tab and warms the profile
// cache for followed authors) and the user's own reactions (which seed
// the reacted-id set the renderer consults).
func (o *Orchestrator) FetchInitialData(ctx context.Context) error {
	localPubkey := o.store.LocalPubkey()
	if localPubkey == "" {
		return nil
	}

	var latestContacts *nostr.Event
	err := o.collect(ctx, nostr.Filters{{
		Kinds:   []int{kinds.Contacts},
		Authors: []string{localPubkey},
		Limit:   1,
	}}, func(event *nostr.Event) {
		if latestContacts == nil || event.CreatedAt > latestContacts.CreatedAt {
			latestContacts = event
		}
	})
	if err != nil {
		return err
	}
	if latestContacts != nil {
		following := pubkeysFromPTags(latestContacts)
		o.store.SetFollowingList(following)
		o.profiles.RequestMany(following)
		o.log.Info("following list loaded", "count", len(following))
	}

	err = o.collect(ctx, nostr.Filters{{
		Kinds:   []int{kinds.Reaction},
		Authors: []string{localPubkey},
	}}, func(event *nostr.Event) {
		o.store.Add(event)
	})
	if err != nil {
		return err
	}
	return nil
}

// fetchOwnPostsBacklog backfills the my-posts tab on first activation
// with the local user's recent posts, beyond whatever the anchored
// stream has delivered.
func (o *Orchestrator) fetchOwnPostsBacklog() {
	localPubkey := o.store.LocalPubkey()
	if localPubkey == "" {
		return
	}

	err := o.collect(o.ctx, nostr.Filters{{
		Kinds:   []int{kinds.Note, kinds.ChannelMessage},
		Authors: []string{localPubkey},
		Limit:   ownPostsBacklogLimit,
	}}, func(event *nostr.Event) {
		o.ingestHistory(event, views.TabMyPosts)
	})
	if err != nil {
		o.log.Warn("own posts backlog fetch failed", "error", err)
		return
	}
	o.views.RenderNow()
}

// fetchMentionsBacklog backfills the likes tab on first activation with
// recent reactions, reposts and replies addressed to the local user.
func (o *Orchestrator) fetchMentionsBacklog() {
	localPubkey := o.store.LocalPubkey()
	if localPubkey == "" {
		return
	}

	mention := nostr.TagMap{kinds.PTag: []string{localPubkey}}
	for _, kind := range []int{kinds.Reaction, kinds.Repost, kinds.Note} {
		err := o.collect(o.ctx, nostr.Filters{{
			Kinds: []int{kind},
			Tags:  mention,
			Limit: mentionsBacklogLimit,
		}}, func(event *nostr.Event) {
			o.ingestHistory(event, views.TabLikes)
		})
		if err != nil {
			o.log.Warn("mentions backlog fetch failed", "kind", kind, "error", err)
			return
		}
	}
	o.views.RenderNow()
}

func pubkeysFromPTags(event *nostr.Event) []string {
	seen := make(map[string]struct{})
	var pubkeys []string
	for _, tag := range event.Tags {
		if len(tag) < 2 || tag[0] != kinds.PTag || tag[1] == "" {
			continue
		}
		if _, dup := seen[tag[1]]; dup {
			continue
		}
		seen[tag[1]] = struct{}{}
		pubkeys = append(pubkeys, tag[1])
	}
	return pubkeys
}

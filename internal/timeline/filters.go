package timeline

import (
	"sort"

	"github.com/nbd-wtf/go-nostr"

	"github.com/ompomz/flowgazer/internal/kinds"
	"github.com/ompomz/flowgazer/internal/views"
)

// maxOwnPostRefs caps how many of the local user's post ids the
// interactions-on-my-posts stream branch references.
const maxOwnPostRefs = 100

// timelineKinds returns the kinds the public tabs sync: the primary
// kind, reposts and optionally channel messages.
func timelineKinds(showChannelMessages bool) []int {
	ks := []int{kinds.Note, kinds.Repost}
	if showChannelMessages {
		ks = append(ks, kinds.ChannelMessage)
	}
	return ks
}

// secondaryKinds returns the kinds a load-more second step backfills
// over the page the first step established.
func secondaryKinds(showChannelMessages bool) []int {
	ks := []int{kinds.Repost}
	if showChannelMessages {
		ks = append(ks, kinds.ChannelMessage)
	}
	return ks
}

// buildStreamFilters assembles the live fan-in, all branches bounded
// below by the anchored timestamp. Caller holds o.mu.
func (o *Orchestrator) buildStreamFilters() nostr.Filters {
	since := o.cursorSince
	tks := timelineKinds(o.showChannelMessages)
	localPubkey := o.store.LocalPubkey()

	// Branch i: the public firehose, narrowed to the author allow-list
	// when one is set.
	global := nostr.Filter{
		Kinds: tks,
		Since: &since,
	}
	if len(o.authorFilter) > 0 {
		global.Authors = o.authorFilter
	}
	filters := nostr.Filters{global}

	if localPubkey == "" {
		return filters
	}

	// Branch ii: followed authors. The local user is excluded unless they
	// follow themselves; their own events arrive through branch i and the
	// local echo on publish.
	if followed := o.followedAuthors(localPubkey); len(followed) > 0 {
		filters = append(filters, nostr.Filter{
			Kinds:   tks,
			Authors: followed,
			Since:   &since,
		})
	}

	// Branch iii: events that mention the local user.
	mention := nostr.TagMap{kinds.PTag: []string{localPubkey}}
	for _, kind := range []int{kinds.Reaction, kinds.Repost, kinds.Note} {
		filters = append(filters, nostr.Filter{
			Kinds: []int{kind},
			Tags:  mention,
			Since: &since,
		})
	}

	// Branch iv: reactions and reposts of the local user's recent posts.
	if postIDs := o.recentOwnPostIDs(localPubkey); len(postIDs) > 0 {
		filters = append(filters, nostr.Filter{
			Kinds: []int{kinds.Repost, kinds.Reaction},
			Tags:  nostr.TagMap{kinds.ETag: postIDs},
			Since: &since,
		})
	}

	return filters
}

// followedAuthors returns the following list minus the local user,
// unless the local user follows themselves.
func (o *Orchestrator) followedAuthors(localPubkey string) []string {
	following := o.store.FollowingList()
	followsSelf := false
	for _, pk := range following {
		if pk == localPubkey {
			followsSelf = true
			break
		}
	}

	authors := make([]string, 0, len(following))
	for _, pk := range following {
		if pk == localPubkey && !followsSelf {
			continue
		}
		authors = append(authors, pk)
	}
	return authors
}

// recentOwnPostIDs returns the local user's most recent post ids,
// newest first, capped at maxOwnPostRefs.
func (o *Orchestrator) recentOwnPostIDs(localPubkey string) []string {
	events := o.store.GetMany(o.store.IDsByAuthor(localPubkey))
	posts := events[:0:0]
	for _, ev := range events {
		if kinds.For(ev.Kind).OwnPost {
			posts = append(posts, ev)
		}
	}
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreatedAt > posts[j].CreatedAt
	})

	if len(posts) > maxOwnPostRefs {
		posts = posts[:maxOwnPostRefs]
	}
	ids := make([]string, len(posts))
	for i, ev := range posts {
		ids[i] = ev.ID
	}
	return ids
}

// buildLoadMoreStep1 builds the paging filter for a tab: one page of
// the tab's primary kind strictly older than the cursor. A nil return
// means the tab cannot page (no authors to page over).
func (o *Orchestrator) buildLoadMoreStep1(tab views.Tab, until nostr.Timestamp) *nostr.Filter {
	upper := until - 1
	localPubkey := o.store.LocalPubkey()

	switch tab {
	case views.TabGlobal:
		f := &nostr.Filter{
			Kinds: []int{kinds.Note},
			Until: &upper,
			Limit: o.cfg.PageSize,
		}
		o.mu.Lock()
		if len(o.authorFilter) > 0 {
			f.Authors = o.authorFilter
		}
		o.mu.Unlock()
		return f

	case views.TabFollowing:
		if localPubkey == "" {
			return nil
		}
		authors := o.followedAuthors(localPubkey)
		if len(authors) == 0 {
			return nil
		}
		return &nostr.Filter{
			Kinds:   []int{kinds.Note},
			Authors: authors,
			Until:   &upper,
			Limit:   o.cfg.PageSize,
		}

	case views.TabMyPosts:
		if localPubkey == "" {
			return nil
		}
		return &nostr.Filter{
			Kinds:   []int{kinds.Note},
			Authors: []string{localPubkey},
			Until:   &upper,
			Limit:   o.cfg.PageSize,
		}

	case views.TabLikes:
		if localPubkey == "" {
			return nil
		}
		return &nostr.Filter{
			Kinds: []int{kinds.Reaction},
			Tags:  nostr.TagMap{kinds.PTag: []string{localPubkey}},
			Until: &upper,
			Limit: o.cfg.PageSize,
		}

	default:
		return nil
	}
}

// buildLoadMoreStep2 builds the backfill filter covering the window the
// first step established. Nil for tabs without a secondary step.
func (o *Orchestrator) buildLoadMoreStep2(tab views.Tab, newOldest, until nostr.Timestamp) *nostr.Filter {
	if tab == views.TabLikes {
		return nil
	}

	upper := until - 1
	o.mu.Lock()
	show := o.showChannelMessages
	authorFilter := o.authorFilter
	o.mu.Unlock()

	f := &nostr.Filter{
		Kinds: secondaryKinds(show),
		Since: &newOldest,
		Until: &upper,
	}

	localPubkey := o.store.LocalPubkey()
	switch tab {
	case views.TabGlobal:
		if len(authorFilter) > 0 {
			f.Authors = authorFilter
		}
	case views.TabFollowing:
		f.Authors = o.followedAuthors(localPubkey)
	case views.TabMyPosts:
		f.Authors = []string{localPubkey}
	}
	return f
}

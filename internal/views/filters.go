package views

import (
	"sort"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/ompomz/flowgazer/internal/kinds"
)

// FilterOptions are the per-render presentation toggles.
type FilterOptions struct {
	// ClientTagOnly restricts notes to those carrying this client's
	// attribution tag.
	ClientTagOnly bool
	// Authors, when non-empty, restricts the global tab to an explicit
	// author allow-list.
	Authors []string
	// ShowChannelMessages reveals kind-42 events on the public tabs.
	ShowChannelMessages bool
}

// SetDenylist replaces the forbidden-term list. Terms are matched
// lowercase against note content.
func (s *State) SetDenylist(terms []string) {
	lowered := make([]string, 0, len(terms))
	for _, term := range terms {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			lowered = append(lowered, term)
		}
	}

	s.mu.Lock()
	s.denylist = lowered
	s.mu.Unlock()
}

// GetVisibleEvents projects a tab's visible set to events, applies the
// presentation filter pipeline and returns them newest first (event id
// breaks timestamp ties, so the order is deterministic). This is a pure
// read: no cursor or visible set is touched.
func (s *State) GetVisibleEvents(tab Tab, opts FilterOptions) []*nostr.Event {
	s.mu.Lock()
	state, ok := s.tabs[tab]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	ids := make([]string, 0, len(state.visible))
	for id := range state.visible {
		ids = append(ids, id)
	}
	denylist := s.denylist
	s.mu.Unlock()

	events := s.store.GetMany(ids)
	events = s.applyFilters(events, tab, opts, denylist)

	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt > events[j].CreatedAt
		}
		return events[i].ID < events[j].ID
	})
	return events
}

// applyFilters runs the presentation pipeline. Stage order matters: each
// stage narrows the candidate set and the window-anchoring stages compute
// their baselines over the previous stage's output.
func (s *State) applyFilters(events []*nostr.Event, tab Tab, opts FilterOptions, denylist []string) []*nostr.Event {
	// The likes tab is windowed on reaction density and skips the rest
	// of the pipeline.
	if tab == TabLikes {
		return s.applyReactionBaseline(events)
	}

	publicTab := tab == TabGlobal || tab == TabFollowing

	if publicTab && !opts.ShowChannelMessages {
		events = keep(events, func(ev *nostr.Event) bool {
			return ev.Kind != kinds.ChannelMessage
		})
	}

	if publicTab && len(denylist) > 0 {
		events = keep(events, func(ev *nostr.Event) bool {
			if ev.Kind != kinds.Note {
				return true
			}
			content := strings.ToLower(ev.Content)
			for _, term := range denylist {
				if strings.Contains(content, term) {
					return false
				}
			}
			return true
		})
	}

	if publicTab {
		events = keep(events, func(ev *nostr.Event) bool {
			return ev.Kind != kinds.Note || len([]rune(ev.Content)) <= s.cfg.MaxNoteLength
		})
	}

	if opts.ClientTagOnly {
		events = keep(events, func(ev *nostr.Event) bool {
			return ev.Kind == kinds.Note && hasClientTag(ev)
		})
	}

	if tab == TabGlobal && len(opts.Authors) > 0 {
		allowed := make(map[string]struct{}, len(opts.Authors))
		for _, author := range opts.Authors {
			allowed[author] = struct{}{}
		}
		events = keep(events, func(ev *nostr.Event) bool {
			_, ok := allowed[ev.PubKey]
			return ok
		})
	}

	if publicTab {
		events = s.applyPrimaryFloor(events)
	}

	return events
}

// applyReactionBaseline bounds the likes tab to a moving window anchored
// on the nth most recent reaction: everything older than that reaction
// is dropped, whatever its kind.
func (s *State) applyReactionBaseline(events []*nostr.Event) []*nostr.Event {
	baseline := nthMostRecent(events, kinds.Reaction, s.cfg.ReactionBaseline)
	if baseline == 0 {
		return events
	}
	return keep(events, func(ev *nostr.Event) bool {
		return ev.CreatedAt >= baseline
	})
}

// applyPrimaryFloor drops repost/channel-message events older than the
// nth most recent note, so sparse secondary kinds cannot dominate the
// window the primary kind establishes.
func (s *State) applyPrimaryFloor(events []*nostr.Event) []*nostr.Event {
	floor := nthMostRecent(events, kinds.Note, s.cfg.PrimaryFloorDepth)
	if floor == 0 {
		return events
	}
	return keep(events, func(ev *nostr.Event) bool {
		switch ev.Kind {
		case kinds.Repost, kinds.ChannelMessage:
			return ev.CreatedAt >= floor
		default:
			return true
		}
	})
}

// nthMostRecent returns the CreatedAt of the nth most recent event of
// the given kind, the oldest available when fewer exist, or 0 when none
// exist.
func nthMostRecent(events []*nostr.Event, kind int, n int) nostr.Timestamp {
	var stamps []nostr.Timestamp
	for _, ev := range events {
		if ev.Kind == kind {
			stamps = append(stamps, ev.CreatedAt)
		}
	}
	if len(stamps) == 0 {
		return 0
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] > stamps[j] })

	idx := n - 1
	if idx >= len(stamps) {
		idx = len(stamps) - 1
	}
	return stamps[idx]
}

func keep(events []*nostr.Event, pred func(*nostr.Event) bool) []*nostr.Event {
	kept := events[:0:0]
	for _, ev := range events {
		if pred(ev) {
			kept = append(kept, ev)
		}
	}
	return kept
}

func hasClientTag(event *nostr.Event) bool {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == kinds.ClientTag && tag[1] == kinds.ClientTagValue {
			return true
		}
	}
	return false
}

// Package store owns the deduplicated event and profile dataset and every
// derived index over it. All index mutation happens through Add, AddProfile
// and Clear; nothing outside this package touches an index directly.
package store

import (
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/ompomz/flowgazer/internal/kinds"
	"github.com/ompomz/flowgazer/internal/ops"
)

// ReactionCount holds the derived repost/reaction tallies for one event.
type ReactionCount struct {
	Reposts   int
	Reactions int
}

// Stats is a point-in-time snapshot of store contents.
type Stats struct {
	TotalEvents     int
	Profiles        int
	Following       int
	EventsByKind    map[int]int
	ReactionTargets int
}

// Store is the sole owner of the deduplicated event/profile dataset.
// Every operation completes synchronously; a single mutex makes Add an
// atomic check-and-insert, so concurrent subscription goroutines racing
// to deliver the same event admit it exactly once.
type Store struct {
	mu sync.RWMutex

	localPubkey string

	events   map[string]*nostr.Event
	profiles map[string]*Profile

	byKind      map[int]map[string]struct{}
	byAuthor    map[string]map[string]struct{}
	byRefEvent  map[string]map[string]struct{} // e-tag target -> referencing event ids
	byRefAuthor map[string]map[string]struct{} // p-tag target -> referencing event ids

	following    map[string]struct{}
	likedByLocal map[string]struct{} // ids of events the local user reacted to

	reactionCounts map[string]*ReactionCount

	log *ops.Logger
}

// New creates an empty store. localPubkey may be empty for anonymous
// browsing and set later via SetLocalPubkey.
func New(localPubkey string, logger *ops.Logger) *Store {
	if logger == nil {
		logger = ops.Default()
	}
	s := &Store{
		localPubkey: localPubkey,
		log:         logger.WithComponent("store"),
	}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.events = make(map[string]*nostr.Event)
	s.profiles = make(map[string]*Profile)
	s.byKind = make(map[int]map[string]struct{})
	s.byAuthor = make(map[string]map[string]struct{})
	s.byRefEvent = make(map[string]map[string]struct{})
	s.byRefAuthor = make(map[string]map[string]struct{})
	s.following = make(map[string]struct{})
	s.likedByLocal = make(map[string]struct{})
	s.reactionCounts = make(map[string]*ReactionCount)
}

// SetLocalPubkey updates the local user identity used for the
// liked-by-local index. Events already indexed are not revisited.
func (s *Store) SetLocalPubkey(pubkey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localPubkey = pubkey
}

// LocalPubkey returns the local user's pubkey, or "" when browsing
// anonymously.
func (s *Store) LocalPubkey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localPubkey
}

// Add verifies and stores an event, updating every derived index.
// It returns false without storing when the signature does not verify
// or the id is already present. Indexing is O(1) amortized per tag.
func (s *Store) Add(event *nostr.Event) bool {
	ok, err := event.CheckSignature()
	if err != nil || !ok {
		s.log.LogRejectedEvent(event.ID, err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.ID]; exists {
		return false
	}

	s.events[event.ID] = event
	s.categorize(event)
	return true
}

// categorize updates the derived indices for a newly stored event.
// Caller holds the write lock.
func (s *Store) categorize(event *nostr.Event) {
	addToIndex(s.byKind, event.Kind, event.ID)
	addToIndex(s.byAuthor, event.PubKey, event.ID)

	for _, tag := range event.Tags {
		if len(tag) < 2 || tag[1] == "" {
			continue
		}
		switch tag[0] {
		case "e":
			addToIndex(s.byRefEvent, tag[1], event.ID)
		case "p":
			addToIndex(s.byRefAuthor, tag[1], event.ID)
		}
	}

	traits := kinds.For(event.Kind)

	if traits.CountsAsReaction && s.localPubkey != "" && event.PubKey == s.localPubkey {
		if target := firstETag(event); target != "" {
			s.likedByLocal[target] = struct{}{}
		}
	}

	if traits.CountsAsRepost || traits.CountsAsReaction {
		s.bumpReactionCount(event, traits)
	}
}

func (s *Store) bumpReactionCount(event *nostr.Event, traits kinds.Traits) {
	target := firstETag(event)
	if target == "" {
		return
	}

	counts, ok := s.reactionCounts[target]
	if !ok {
		counts = &ReactionCount{}
		s.reactionCounts[target] = counts
	}
	if traits.CountsAsRepost {
		counts.Reposts++
	}
	if traits.CountsAsReaction {
		counts.Reactions++
	}
}

func addToIndex[K comparable](index map[K]map[string]struct{}, key K, id string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

func firstETag(event *nostr.Event) string {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "e" {
			return tag[1]
		}
	}
	return ""
}

// Get returns the event with the given id, or nil.
func (s *Store) Get(id string) *nostr.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events[id]
}

// GetMany projects ids to events, preserving the caller's order and
// dropping unknown ids.
func (s *Store) GetMany(ids []string) []*nostr.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]*nostr.Event, 0, len(ids))
	for _, id := range ids {
		if ev, ok := s.events[id]; ok {
			events = append(events, ev)
		}
	}
	return events
}

// All returns every stored event in unspecified order.
func (s *Store) All() []*nostr.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]*nostr.Event, 0, len(s.events))
	for _, ev := range s.events {
		events = append(events, ev)
	}
	return events
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// IDsByKind returns the ids of all stored events of the given kind.
func (s *Store) IDsByKind(kind int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return setToSlice(s.byKind[kind])
}

// IDsByAuthor returns the ids of all stored events by the given author.
func (s *Store) IDsByAuthor(pubkey string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return setToSlice(s.byAuthor[pubkey])
}

// IDsReferencingEvent returns the ids of events whose e tags point at id.
func (s *Store) IDsReferencingEvent(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return setToSlice(s.byRefEvent[id])
}

// IDsReferencingAuthor returns the ids of events whose p tags point at
// pubkey.
func (s *Store) IDsReferencingAuthor(pubkey string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return setToSlice(s.byRefAuthor[pubkey])
}

func setToSlice(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// ReactionCountFor returns the repost/reaction tallies for an event id.
// Unknown ids report zero counts.
func (s *Store) ReactionCountFor(id string) ReactionCount {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if counts, ok := s.reactionCounts[id]; ok {
		return *counts
	}
	return ReactionCount{}
}

// SetFollowingList replaces the following set wholesale.
func (s *Store) SetFollowingList(pubkeys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.following = make(map[string]struct{}, len(pubkeys))
	for _, pk := range pubkeys {
		s.following[pk] = struct{}{}
	}
}

// IsFollowing reports whether pubkey is in the following set.
func (s *Store) IsFollowing(pubkey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.following[pubkey]
	return ok
}

// FollowingList returns the following set as a slice.
func (s *Store) FollowingList() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return setToSlice(s.following)
}

// IsLikedByLocal reports whether the local user has reacted to the event.
func (s *Store) IsLikedByLocal(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.likedByLocal[id]
	return ok
}

// GetStats returns a snapshot of store contents.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKind := make(map[int]int, len(s.byKind))
	for kind, set := range s.byKind {
		byKind[kind] = len(set)
	}

	return Stats{
		TotalEvents:     len(s.events),
		Profiles:        len(s.profiles),
		Following:       len(s.following),
		EventsByKind:    byKind,
		ReactionTargets: len(s.reactionCounts),
	}
}

// Clear resets every map and set to empty. Used on relay switch.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.log.Debug("store cleared")
}

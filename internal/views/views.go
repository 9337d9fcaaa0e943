// Package views maintains per-tab visibility sets and cursors over the
// shared event store, and answers what should be rendered right now.
package views

import (
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/nbd-wtf/go-nostr"

	"github.com/ompomz/flowgazer/internal/config"
	"github.com/ompomz/flowgazer/internal/kinds"
	"github.com/ompomz/flowgazer/internal/ops"
	"github.com/ompomz/flowgazer/internal/store"
)

// Tab names one independently-filtered projection of the event dataset.
type Tab string

const (
	TabGlobal    Tab = "global"
	TabFollowing Tab = "following"
	TabMyPosts   Tab = "myposts"
	TabLikes     Tab = "likes"
)

// AllTabs lists every tab in display order.
func AllTabs() []Tab {
	return []Tab{TabGlobal, TabFollowing, TabMyPosts, TabLikes}
}

// Cursor is a tab's known-covered time span.
type Cursor struct {
	Since nostr.Timestamp
	Until nostr.Timestamp
}

// Renderer consumes GetVisibleEvents output. The core only signals it.
type Renderer interface {
	Refresh()
}

type tabState struct {
	visible map[string]struct{}
	cursor  *Cursor
}

// State owns the per-tab visibility sets and cursors.
type State struct {
	mu sync.Mutex

	store *store.Store
	cfg   *config.Timeline
	log   *ops.Logger

	tabs       map[Tab]*tabState
	currentTab Tab

	renderer   Renderer
	autoUpdate bool
	debounced  func(func())
	denylist   []string
}

// New creates view state for all tabs, with global current.
func New(st *store.Store, cfg *config.Timeline, logger *ops.Logger) *State {
	if logger == nil {
		logger = ops.Default()
	}
	tabs := make(map[Tab]*tabState, len(AllTabs()))
	for _, tab := range AllTabs() {
		tabs[tab] = &tabState{visible: make(map[string]struct{})}
	}
	return &State{
		store:      st,
		cfg:        cfg,
		log:        logger.WithComponent("views"),
		tabs:       tabs,
		currentTab: TabGlobal,
		autoUpdate: true,
		debounced:  debounce.New(cfg.RenderDelay()),
	}
}

// SetRenderer registers the render-signal consumer.
func (s *State) SetRenderer(r Renderer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renderer = r
}

// SetAutoUpdate toggles whether live events schedule renders.
func (s *State) SetAutoUpdate(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoUpdate = enabled
}

// CurrentTab returns the tab being displayed.
func (s *State) CurrentTab() Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTab
}

// OnEventReceived routes a freshly stored live event into every tab it
// belongs to, widening cursors. It returns whether the event landed in
// the currently-displayed tab; when it does, a render is scheduled.
func (s *State) OnEventReceived(event *nostr.Event) bool {
	s.mu.Lock()

	addedToCurrent := false
	for _, tab := range s.targetTabs(event) {
		if s.addToTab(event, tab) && tab == s.currentTab {
			addedToCurrent = true
		}
	}

	s.mu.Unlock()

	if addedToCurrent {
		s.ScheduleRender()
	}
	return addedToCurrent
}

// AddHistoryEvent inserts a paginated event into one specific tab.
func (s *State) AddHistoryEvent(event *nostr.Event, tab Tab) bool {
	s.mu.Lock()
	added := s.addToTab(event, tab)
	current := s.currentTab
	s.mu.Unlock()

	if added && tab == current {
		s.ScheduleRender()
	}
	return added
}

// targetTabs determines which tabs an event belongs to. Caller holds the
// lock.
func (s *State) targetTabs(event *nostr.Event) []Tab {
	traits := kinds.For(event.Kind)
	localPubkey := s.store.LocalPubkey()

	var tabs []Tab
	if traits.Timeline {
		tabs = append(tabs, TabGlobal)
		if s.store.IsFollowing(event.PubKey) {
			tabs = append(tabs, TabFollowing)
		}
		if traits.OwnPost && localPubkey != "" && event.PubKey == localPubkey {
			tabs = append(tabs, TabMyPosts)
		}
	}

	if traits.Mention && localPubkey != "" && firstPTag(event) == localPubkey {
		tabs = append(tabs, TabLikes)
	}

	return tabs
}

// addToTab inserts the event id and widens the cursor. Caller holds the
// lock.
func (s *State) addToTab(event *nostr.Event, tab Tab) bool {
	state, ok := s.tabs[tab]
	if !ok {
		return false
	}
	if _, present := state.visible[event.ID]; present {
		return false
	}

	state.visible[event.ID] = struct{}{}
	widenCursor(state, event.CreatedAt)
	return true
}

func widenCursor(state *tabState, createdAt nostr.Timestamp) {
	if state.cursor == nil {
		state.cursor = &Cursor{Since: createdAt, Until: createdAt}
		return
	}
	if createdAt < state.cursor.Until {
		state.cursor.Until = createdAt
	}
	if createdAt > state.cursor.Since {
		state.cursor.Since = createdAt
	}
}

// SwitchTab changes the displayed tab, rebuilds its visible set from the
// store and renders immediately. It does not fetch; backlog fetches for
// first activations are the orchestrator's job.
func (s *State) SwitchTab(tab Tab) {
	s.mu.Lock()
	if _, ok := s.tabs[tab]; !ok {
		s.mu.Unlock()
		s.log.Warn("unknown tab", "tab", string(tab))
		return
	}
	s.currentTab = tab
	s.repopulateTab(tab)
	s.mu.Unlock()

	s.RenderNow()
}

// repopulateTab rebuilds a tab's visible set from every stored event.
// Caller holds the lock.
func (s *State) repopulateTab(tab Tab) {
	state := s.tabs[tab]
	state.visible = make(map[string]struct{})
	state.cursor = nil

	for _, event := range s.store.All() {
		if s.belongsToTab(event, tab) {
			s.addToTab(event, tab)
		}
	}

	s.log.Debug("tab repopulated", "tab", string(tab), "events", len(state.visible))
}

// belongsToTab is the per-tab membership predicate. Caller holds the
// lock.
func (s *State) belongsToTab(event *nostr.Event, tab Tab) bool {
	traits := kinds.For(event.Kind)
	localPubkey := s.store.LocalPubkey()

	switch tab {
	case TabGlobal:
		return traits.Timeline
	case TabFollowing:
		return traits.Timeline && s.store.IsFollowing(event.PubKey)
	case TabMyPosts:
		return traits.OwnPost && localPubkey != "" && event.PubKey == localPubkey
	case TabLikes:
		return traits.Mention && localPubkey != "" && firstPTag(event) == localPubkey
	default:
		return false
	}
}

// GetOldestTimestamp returns cursor.Until for the tab, or now when the
// tab has no cursor yet.
func (s *State) GetOldestTimestamp(tab Tab) nostr.Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.tabs[tab]; ok && state.cursor != nil {
		return state.cursor.Until
	}
	return nostr.Timestamp(time.Now().Unix())
}

// UpdateTabCursor lowers cursor.Until after a successful backward page.
func (s *State) UpdateTabCursor(tab Tab, newUntil nostr.Timestamp) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.tabs[tab]; ok && state.cursor != nil {
		state.cursor.Until = newUntil
	}
}

// Cursor returns a copy of the tab's cursor, or nil when the tab has
// seen no events.
func (s *State) Cursor(tab Tab) *Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.tabs[tab]; ok && state.cursor != nil {
		c := *state.cursor
		return &c
	}
	return nil
}

// VisibleIDs returns the raw visible-id set of a tab, before the filter
// pipeline.
func (s *State) VisibleIDs(tab Tab) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.tabs[tab]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(state.visible))
	for id := range state.visible {
		ids = append(ids, id)
	}
	return ids
}

// ScheduleRender asks the renderer to refresh after the configured
// debounce delay. Repeated calls within the window collapse into one
// refresh. Skipped when auto-update is off.
func (s *State) ScheduleRender() {
	s.mu.Lock()
	renderer := s.renderer
	auto := s.autoUpdate
	deb := s.debounced
	s.mu.Unlock()

	if !auto || renderer == nil {
		return
	}
	deb(renderer.Refresh)
}

// RenderNow asks the renderer to refresh immediately.
func (s *State) RenderNow() {
	s.mu.Lock()
	renderer := s.renderer
	s.mu.Unlock()

	if renderer != nil {
		renderer.Refresh()
	}
}

// ClearTab empties one tab's visible set and cursor.
func (s *State) ClearTab(tab Tab) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.tabs[tab]; ok {
		state.visible = make(map[string]struct{})
		state.cursor = nil
	}
}

// ClearAll empties every tab. Used on relay switch.
func (s *State) ClearAll() {
	for _, tab := range AllTabs() {
		s.ClearTab(tab)
	}
}

func firstPTag(event *nostr.Event) string {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "p" {
			return tag[1]
		}
	}
	return ""
}

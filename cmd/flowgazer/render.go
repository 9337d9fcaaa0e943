package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ompomz/flowgazer/internal/store"
	"github.com/ompomz/flowgazer/internal/timeline"
	"github.com/ompomz/flowgazer/internal/views"
)

// renderLimit caps how many events one refresh prints.
const renderLimit = 20

// timelineRenderer prints the current tab's filtered events to a
// writer, newest first.
type timelineRenderer struct {
	mu    sync.Mutex
	out   io.Writer
	store *store.Store
	views *views.State
	orch  *timeline.Orchestrator
}

func newTimelineRenderer(out io.Writer, st *store.Store, vs *views.State, orch *timeline.Orchestrator) *timelineRenderer {
	return &timelineRenderer{
		out:   out,
		store: st,
		views: vs,
		orch:  orch,
	}
}

// Refresh implements views.Renderer.
func (r *timelineRenderer) Refresh() {
	tab := r.views.CurrentTab()
	opts := views.FilterOptions{
		Authors:             r.orch.AuthorFilter(),
		ShowChannelMessages: r.orch.ShowChannelMessages(),
	}
	events := r.views.GetVisibleEvents(tab, opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, "── %s ── %d events ──\n", tab, len(events))

	shown := events
	if len(shown) > renderLimit {
		shown = shown[:renderLimit]
	}
	for _, ev := range shown {
		stamp := time.Unix(int64(ev.CreatedAt), 0).Format("15:04")
		name := r.store.DisplayName(ev.PubKey)
		marker := " "
		if r.store.IsLikedByLocal(ev.ID) {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %s %-16s %s\n", stamp, marker, name, oneLine(ev.Content))
	}
}

// oneLine flattens content to a single trimmed line.
func oneLine(content string) string {
	content = strings.ReplaceAll(content, "\n", " ")
	runes := []rune(strings.TrimSpace(content))
	if len(runes) > 120 {
		return string(runes[:120]) + "…"
	}
	return string(runes)
}

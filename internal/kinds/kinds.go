// Package kinds defines the closed set of Nostr event kinds flowgazer
// understands and the per-kind behavior table the rest of the core
// dispatches on. Adding a kind means adding one table entry here.
package kinds

// Event kinds handled by the client.
const (
	Profile         = 0
	Note            = 1
	Contacts        = 3
	Repost          = 6
	Reaction        = 7
	ChannelCreate   = 40
	ChannelMetadata = 41
	ChannelMessage  = 42
	ChannelList     = 10005
)

// Traits describes how a kind participates in timelines and aggregates.
type Traits struct {
	// Timeline: the kind appears on the public (global/following) timelines.
	Timeline bool

	// OwnPost: the kind counts as the local user's own authored content
	// for the my-posts tab.
	OwnPost bool

	// Mention: a p-tag to the local user lands the event in the likes tab.
	Mention bool

	// CountsAsRepost / CountsAsReaction: the event increments the repost
	// or reaction counter of its e-tag target.
	CountsAsRepost   bool
	CountsAsReaction bool
}

var traits = map[int]Traits{
	Profile:         {},
	Note:            {Timeline: true, OwnPost: true, Mention: true},
	Contacts:        {},
	Repost:          {Timeline: true, Mention: true, CountsAsRepost: true},
	Reaction:        {Mention: true, CountsAsReaction: true},
	ChannelCreate:   {},
	ChannelMetadata: {},
	ChannelMessage:  {Timeline: true, OwnPost: true, Mention: true},
	ChannelList:     {},
}

// For returns the traits for a kind. Unknown kinds carry zero traits and
// are stored but never shown.
func For(kind int) Traits {
	return traits[kind]
}

// Known reports whether the kind is in the closed set.
func Known(kind int) bool {
	_, ok := traits[kind]
	return ok
}

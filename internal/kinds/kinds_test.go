package kinds

import "testing"

func TestTraits(t *testing.T) {
	cases := []struct {
		name string
		kind int
		want Traits
	}{
		{"note", Note, Traits{Timeline: true, OwnPost: true, Mention: true}},
		{"repost", Repost, Traits{Timeline: true, Mention: true, CountsAsRepost: true}},
		{"reaction", Reaction, Traits{Mention: true, CountsAsReaction: true}},
		{"channel message", ChannelMessage, Traits{Timeline: true, OwnPost: true, Mention: true}},
		{"profile", Profile, Traits{}},
		{"contacts", Contacts, Traits{}},
		{"unknown", 30023, Traits{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := For(tc.kind); got != tc.want {
				t.Fatalf("For(%d) = %+v, want %+v", tc.kind, got, tc.want)
			}
		})
	}
}

func TestKnown(t *testing.T) {
	for _, kind := range []int{Profile, Note, Contacts, Repost, Reaction, ChannelCreate, ChannelMetadata, ChannelMessage, ChannelList} {
		if !Known(kind) {
			t.Errorf("kind %d should be known", kind)
		}
	}
	if Known(99999) {
		t.Error("kind 99999 should be unknown")
	}
}

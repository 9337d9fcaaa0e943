package store

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Profile is the parsed content of a kind-0 metadata event. Mutable,
// last-write-wins by CreatedAt.
type Profile struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	About       string `json:"about"`
	Picture     string `json:"picture"`
	NIP05       string `json:"nip05"`

	CreatedAt nostr.Timestamp `json:"-"`
}

// ParseProfile parses a kind-0 event's content into a Profile.
func ParseProfile(event *nostr.Event) (*Profile, error) {
	var profile Profile
	if err := json.Unmarshal([]byte(event.Content), &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile content: %w", err)
	}
	profile.CreatedAt = event.CreatedAt
	return &profile, nil
}

// AddProfile stores a profile for an author. It is a no-op returning
// false unless the incoming CreatedAt is strictly greater than the one
// already stored.
func (s *Store) AddProfile(pubkey string, profile *Profile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.profiles[pubkey]
	if ok && existing.CreatedAt >= profile.CreatedAt {
		return false
	}

	s.profiles[pubkey] = profile
	return true
}

// Profile returns the stored profile for pubkey, or nil.
func (s *Store) Profile(pubkey string) *Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[pubkey]
}

// HasProfile reports whether a profile is stored for pubkey.
func (s *Store) HasProfile(pubkey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.profiles[pubkey]
	return ok
}

// DisplayName returns the profile name for pubkey, falling back to a
// truncated pubkey when no profile is known.
func (s *Store) DisplayName(pubkey string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if profile, ok := s.profiles[pubkey]; ok {
		if profile.DisplayName != "" {
			return profile.DisplayName
		}
		if profile.Name != "" {
			return profile.Name
		}
	}
	if len(pubkey) > 8 {
		return pubkey[:8]
	}
	return pubkey
}

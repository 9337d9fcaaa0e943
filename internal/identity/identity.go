// Package identity resolves login strings into a local identity and
// signs outgoing events. Key material never leaves this package.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip05"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Identity is a resolved local user: always a public key, optionally a
// private key when the login carried one.
type Identity struct {
	pubkey string
	seckey string
}

// CanSign reports whether this identity holds a private key.
func (i *Identity) CanSign() bool {
	return i != nil && i.seckey != ""
}

// PublicKey returns the hex public key, empty for a nil identity.
func (i *Identity) PublicKey() string {
	if i == nil {
		return ""
	}
	return i.pubkey
}

// Sign signs the event in place, filling pubkey, id and sig.
func (i *Identity) Sign(event *nostr.Event) error {
	if !i.CanSign() {
		return errors.New("identity has no private key")
	}
	return event.Sign(i.seckey)
}

// FromNsec builds a signing identity from a bech32 private key.
func FromNsec(nsec string) (*Identity, error) {
	prefix, value, err := nip19.Decode(nsec)
	if err != nil {
		return nil, fmt.Errorf("invalid nsec: %w", err)
	}
	if prefix != "nsec" {
		return nil, fmt.Errorf("expected nsec, got %s", prefix)
	}
	seckey := value.(string)
	pubkey, err := nostr.GetPublicKey(seckey)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	return &Identity{pubkey: pubkey, seckey: seckey}, nil
}

// FromNpub builds a read-only identity from a bech32 public key.
func FromNpub(npub string) (*Identity, error) {
	prefix, value, err := nip19.Decode(npub)
	if err != nil {
		return nil, fmt.Errorf("invalid npub: %w", err)
	}
	if prefix != "npub" {
		return nil, fmt.Errorf("expected npub, got %s", prefix)
	}
	return &Identity{pubkey: value.(string)}, nil
}

// Generate creates a fresh throwaway identity.
func Generate() (*Identity, error) {
	seckey := nostr.GeneratePrivateKey()
	pubkey, err := nostr.GetPublicKey(seckey)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	return &Identity{pubkey: pubkey, seckey: seckey}, nil
}

// Resolve turns a login string into an identity. Accepted forms, in
// order of detection: bech32 private key (nsec...), bech32 public key
// (npub...), NIP-05 address (name@domain, read-only), raw 64-char hex
// public key (read-only).
func Resolve(ctx context.Context, login string) (*Identity, error) {
	login = strings.TrimSpace(login)
	switch {
	case login == "":
		return nil, errors.New("empty login")

	case strings.HasPrefix(login, "nsec1"):
		return FromNsec(login)

	case strings.HasPrefix(login, "npub1"):
		return FromNpub(login)

	case strings.Contains(login, "@"):
		pointer, err := nip05.QueryIdentifier(ctx, login)
		if err != nil {
			return nil, fmt.Errorf("nip05 lookup for %s: %w", login, err)
		}
		return &Identity{pubkey: pointer.PublicKey}, nil

	case nostr.IsValidPublicKey(login):
		return &Identity{pubkey: login}, nil

	default:
		return nil, fmt.Errorf("unrecognized login format: %s", login)
	}
}

// Npub returns the bech32 rendering of the public key.
func (i *Identity) Npub() (string, error) {
	if i == nil || i.pubkey == "" {
		return "", errors.New("no public key")
	}
	return nip19.EncodePublicKey(i.pubkey)
}

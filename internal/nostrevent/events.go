package nostrevent

import (
	"fmt"
	"time"

	"github.com/shugur-network/groupcore/internal/identity"
	nostr "github.com/nbd-wtf/go-nostr"
)

// NewUnsignedEvent builds an event with created_at set to now and id left
// for the caller to compute (via Sign, which computes and signs in one
// step) or via ComputeID for callers that need the id of an event that is
// never signed (e.g. a welcome rumor).
func NewUnsignedEvent(pubkey string, kind int, tags nostr.Tags, content string) nostr.Event {
	if tags == nil {
		tags = nostr.Tags{}
	}
	return nostr.Event{
		PubKey:    pubkey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
}

// ComputeID fills in evt.ID without signing, for rumors that are carried
// inside a seal/gift-wrap and must never bear their own signature.
func ComputeID(evt *nostr.Event) {
	evt.ID = evt.GetID()
}

// Sign computes the event id and signs it with the given keypair.
func Sign(evt *nostr.Event, key *identity.KeyPair) error {
	evt.PubKey = key.PublicKey
	if err := evt.Sign(key.SecretHex()); err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	return nil
}

// Verify checks an already-populated event's id and signature.
func Verify(evt nostr.Event) error {
	if evt.ID != evt.GetID() {
		return fmt.Errorf("event id does not match its content")
	}
	ok, err := evt.CheckSignature()
	if err != nil {
		return fmt.Errorf("check signature: %w", err)
	}
	if !ok {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

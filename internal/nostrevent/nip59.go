package nostrevent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shugur-network/groupcore/internal/identity"
	nostr "github.com/nbd-wtf/go-nostr"
)

// NIP-59: Gift Wrap
// https://github.com/nostr-protocol/nips/blob/master/59.md
//
// Welcome delivery seals a rumor with an ephemeral key, then gift-wraps
// the seal with a second ephemeral key addressed to the recipient.
// Neither ephemeral key is ever reused, and the rumor itself carries no
// signature — authenticity for a welcome is not a relay-layer concern.

// WelcomeExpiry is the default lifetime of a welcome gift-wrap.
const WelcomeExpiry = 30 * 24 * time.Hour

// Seal wraps an unsigned rumor event (already id-computed, never signed)
// in a NIP-44-encrypted kind-13 seal, signed by an ephemeral key so the
// seal cannot be linked to the rumor's real author at the relay layer.
func Seal(rumor nostr.Event, recipientPubkey string) (*nostr.Event, *identity.KeyPair, error) {
	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal rumor: %w", err)
	}

	ephemeral, err := identity.Generate()
	if err != nil {
		return nil, nil, fmt.Errorf("generate seal key: %w", err)
	}

	secret, err := sharedSecret(ephemeral, recipientPubkey)
	if err != nil {
		return nil, nil, err
	}
	content, err := Encrypt(secret, rumorJSON)
	if err != nil {
		return nil, nil, fmt.Errorf("encrypt seal: %w", err)
	}

	seal := NewUnsignedEvent(ephemeral.PublicKey, KindGiftWrapSeal, nostr.Tags{}, content)
	if err := Sign(&seal, ephemeral); err != nil {
		return nil, nil, fmt.Errorf("sign seal: %w", err)
	}
	return &seal, ephemeral, nil
}

// GiftWrap wraps a signed seal in a kind-1059 envelope addressed to the
// recipient via a "p" tag, using a fresh ephemeral key distinct from the
// one used for the seal, with the given expiry.
func GiftWrap(seal nostr.Event, recipientPubkey string, expiry time.Duration) (*nostr.Event, error) {
	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return nil, fmt.Errorf("marshal seal: %w", err)
	}

	ephemeral, err := identity.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate wrap key: %w", err)
	}

	secret, err := sharedSecret(ephemeral, recipientPubkey)
	if err != nil {
		return nil, err
	}
	content, err := Encrypt(secret, sealJSON)
	if err != nil {
		return nil, fmt.Errorf("encrypt wrap: %w", err)
	}

	tags := nostr.Tags{
		{TagRecipient, recipientPubkey},
		{TagExpiration, fmt.Sprintf("%d", time.Now().Add(expiry).Unix())},
	}
	wrap := NewUnsignedEvent(ephemeral.PublicKey, KindGiftWrap, tags, content)
	if err := Sign(&wrap, ephemeral); err != nil {
		return nil, fmt.Errorf("sign wrap: %w", err)
	}
	return &wrap, nil
}

// sharedSecret derives the 32-byte NIP-44 conversation key via secp256k1
// ECDH between self and otherPubkey. Called with (ephemeral, recipient)
// by the sender and with (recipient, ephemeral) by the recipient; ECDH's
// symmetry means both calls yield the same secret.
func sharedSecret(self *identity.KeyPair, otherPubkey string) ([32]byte, error) {
	return self.ECDH(otherPubkey)
}

// UnwrapGiftWrap decrypts a kind-1059 gift-wrap addressed to recipient and
// returns the seal event inside. The wrap's PubKey field is the sender's
// ephemeral wrap key.
func UnwrapGiftWrap(wrap nostr.Event, recipient *identity.KeyPair) (nostr.Event, error) {
	secret, err := sharedSecret(recipient, wrap.PubKey)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("derive wrap secret: %w", err)
	}
	sealJSON, err := Decrypt(secret, wrap.Content)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("decrypt gift wrap: %w", err)
	}
	var seal nostr.Event
	if err := json.Unmarshal(sealJSON, &seal); err != nil {
		return nostr.Event{}, fmt.Errorf("parse seal: %w", err)
	}
	return seal, nil
}

// UnwrapSeal decrypts a kind-13 seal addressed to recipient and returns
// the rumor inside. The seal's PubKey field is the sender's ephemeral
// seal key.
func UnwrapSeal(seal nostr.Event, recipient *identity.KeyPair) (nostr.Event, error) {
	secret, err := sharedSecret(recipient, seal.PubKey)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("derive seal secret: %w", err)
	}
	rumorJSON, err := Decrypt(secret, seal.Content)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("decrypt seal: %w", err)
	}
	var rumor nostr.Event
	if err := json.Unmarshal(rumorJSON, &rumor); err != nil {
		return nostr.Event{}, fmt.Errorf("parse rumor: %w", err)
	}
	return rumor, nil
}

// ValidateGiftWrapEvent validates NIP-59 gift wrap events
func ValidateGiftWrapEvent(evt *nostr.Event) error {
	if evt.Kind != 1059 {
		return fmt.Errorf("invalid event kind for gift wrap: %d", evt.Kind)
	}
	return validateGiftWrapOuter(evt)
}

// validateGiftWrapOuter validates outer gift wrap events (kind 1059)
func validateGiftWrapOuter(evt *nostr.Event) error {
	if evt.Kind != 1059 {
		return fmt.Errorf("invalid event kind for gift wrap: %d", evt.Kind)
	}

	// Must have "p" tag with recipient pubkey
	hasPTag := false
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "p" {
			hasPTag = true
			// Validate pubkey format
			if len(tag[1]) != 64 {
				return fmt.Errorf("invalid pubkey in 'p' tag: %s", tag[1])
			}
			break
		}
	}

	if !hasPTag {
		return fmt.Errorf("gift wrap must have 'p' tag with recipient")
	}

	// Content must be encrypted (non-empty)
	if evt.Content == "" {
		return fmt.Errorf("gift wrap must have encrypted content")
	}

	// Validate NIP-44 format
	if !IsNIP44Payload(evt.Content) {
		return fmt.Errorf("invalid NIP-44 content in gift wrap")
	}

	// CreatedAt should be randomized for privacy
	// We can't validate this strictly, but we can check it's reasonable
	if evt.CreatedAt == 0 {
		return fmt.Errorf("gift wrap must have created_at timestamp")
	}

	return nil
}

// IsGiftWrapEvent checks if an event is a gift wrap or seal event.
func IsGiftWrapEvent(evt *nostr.Event) bool {
	return evt.Kind == KindGiftWrapSeal || evt.Kind == KindGiftWrap
}

// IsSealEvent checks if an event is a seal event (kind 13).
func IsSealEvent(evt *nostr.Event) bool {
	return evt.Kind == KindGiftWrapSeal
}

// IsOuterGiftWrap checks if an event is an outer gift wrap (kind 1059).
func IsOuterGiftWrap(evt *nostr.Event) bool {
	return evt.Kind == KindGiftWrap
}

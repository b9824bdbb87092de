// Package identity derives and encodes the secp256k1 keypairs used for
// both account identities and MLS-derived per-epoch leaf keys. It does not
// persist them.
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// KeyPair holds a secp256k1 private key alongside its x-only, hex-encoded
// public key, matching the wire form used by nostr.Event.PubKey.
type KeyPair struct {
	PrivateKey *btcec.PrivateKey
	PublicKey  string // 64 hex chars, x-only
}

// Generate creates a fresh keypair.
func Generate() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate secp256k1 key: %w", err)
	}
	return fromPrivateKey(priv), nil
}

// FromHex reconstructs a keypair from a 64-character hex-encoded secret key.
func FromHex(secretHex string) (*KeyPair, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("secret key is not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return fromPrivateKey(priv), nil
}

// FromNsec decodes a NIP-19 "nsec1..." bech32 secret-key string.
func FromNsec(nsec string) (*KeyPair, error) {
	prefix, data, err := nip19.Decode(nsec)
	if err != nil {
		return nil, fmt.Errorf("decode nsec: %w", err)
	}
	if prefix != "nsec" {
		return nil, fmt.Errorf("expected nsec1 key, got prefix %q", prefix)
	}
	secretHex, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected nsec payload type")
	}
	return FromHex(secretHex)
}

// Nsec encodes the secret key in NIP-19 bech32 form.
func (k *KeyPair) Nsec() (string, error) {
	return nip19.EncodePrivateKey(hex.EncodeToString(k.PrivateKey.Serialize()))
}

// SecretHex returns the secret key as a 64-character hex string.
func (k *KeyPair) SecretHex() string {
	return hex.EncodeToString(k.PrivateKey.Serialize())
}

// PublicKeyHex implements relayclient.Signer.
func (k *KeyPair) PublicKeyHex() string {
	return k.PublicKey
}

func fromPrivateKey(priv *btcec.PrivateKey) *KeyPair {
	pub := priv.PubKey().SerializeCompressed()
	// nostr/MLS identities are x-only: drop the leading parity byte.
	xOnly := pub[1:]
	return &KeyPair{
		PrivateKey: priv,
		PublicKey:  hex.EncodeToString(xOnly),
	}
}

// RandomSecret produces 32 cryptographically random bytes, used to derive
// per-epoch MLS leaf keys outside of the account's long-term identity.
func RandomSecret() ([32]byte, error) {
	var out [32]byte
	if _, err := rand.Read(out[:]); err != nil {
		return out, fmt.Errorf("read random secret: %w", err)
	}
	return out, nil
}

// ECDH derives the 32-byte secret shared between k and the x-only public
// key otherPubkeyHex, via secp256k1 Diffie-Hellman on the x-coordinate of
// the shared point. It is symmetric: k.ECDH(other.PublicKey) equals
// other.ECDH(k.PublicKey), which is what lets a gift-wrap's sender and its
// recipient agree on the same NIP-44 conversation key without either
// learning the other's private key.
func (k *KeyPair) ECDH(otherPubkeyHex string) ([32]byte, error) {
	raw, err := hex.DecodeString(otherPubkeyHex)
	if err != nil || len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("invalid x-only public key %q", otherPubkeyHex)
	}
	pub, err := btcec.ParsePubKey(append([]byte{0x02}, raw...))
	if err != nil {
		return [32]byte{}, fmt.Errorf("parse public key: %w", err)
	}

	var point, result btcec.JacobianPoint
	pub.AsJacobian(&point)
	btcec.ScalarMultNonConst(&k.PrivateKey.Key, &point, &result)
	result.ToAffine()
	sharedX := result.X.Bytes()
	return sha256.Sum256(sharedX[:]), nil
}

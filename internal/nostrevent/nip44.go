package nostrevent

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/shugur-network/groupcore/internal/nostrevent/common"
	nostr "github.com/nbd-wtf/go-nostr"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	NIP44Version1 = 1
	NIP44Version2 = 2
	V2NonceLength = 24 // bytes (XChaCha20-Poly1305 standard)
)

// NIP44PayloadV1 represents v1 structure
type NIP44PayloadV1 struct {
	V          int    `json:"v"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// ValidateNIP44Payload validates that an event's content is a well-formed
// NIP-44 envelope (v1 JSON or v2 binary), independent of whatever
// recipient-addressing tags its carrying event kind uses. A kind-445 group
// message has no "p" tag (it is group-broadcast, not direct-addressed), so
// this only checks the envelope shape; callers that also need the DM-style
// "encrypted"/"p" tags validate those separately.
func ValidateNIP44Payload(event *nostr.Event) error {
	helper := common.NewValidationHelper("44", event.Kind, "encrypted payload")

	// Empty content is allowed for NIP-44, representing a placeholder or signal.
	if event.Content == "" {
		return nil
	}

	// If content is not empty, it must be a valid base64 string.
	decoded, err := base64.StdEncoding.DecodeString(event.Content)
	if err != nil {
		return helper.FormatError("content must be base64 encoded")
	}

	// Try unmarshal as v1 JSON
	var payloadV1 NIP44PayloadV1
	if err := json.Unmarshal(decoded, &payloadV1); err == nil {
		// Check version field
		if payloadV1.V != NIP44Version1 {
			return helper.FormatError("unsupported NIP-44 version: %d", payloadV1.V)
		}
		// Nonce & ciphertext fields must be present and base64
		if payloadV1.Nonce == "" {
			return helper.FormatError("missing nonce field")
		}
		if _, err := base64.StdEncoding.DecodeString(payloadV1.Nonce); err != nil {
			return helper.FormatError("invalid nonce base64 encoding: %v", err)
		}
		if payloadV1.Ciphertext == "" {
			return helper.FormatError("missing ciphertext field")
		}
		if _, err := base64.StdEncoding.DecodeString(payloadV1.Ciphertext); err != nil {
			return helper.FormatError("invalid ciphertext base64 encoding: %v", err)
		}
		return nil // v1 valid
	}

	// Try v2: binary envelope ([2][24B nonce][N ciphertext])
	if len(decoded) < 1+V2NonceLength+1 {
		return helper.FormatError("v2 envelope too short")
	}
	if decoded[0] != NIP44Version2 {
		return helper.FormatError("unsupported NIP-44 version: %d", int(decoded[0]))
	}
	ciphertext := decoded[1+V2NonceLength:]

	if len(ciphertext) == 0 {
		return helper.FormatError("v2 envelope missing ciphertext")
	}

	return nil // v2 valid
}

// nip44InfoLabel is the HKDF info label used to derive the AEAD key from a
// 32-byte shared secret. Group messages use the "self-pair" regime: the
// group's 32-byte export secret is the shared secret directly. Seals and
// gift-wraps instead pass the secret produced by identity.ECDH.
const nip44InfoLabel = "nip44-v2"

// deriveConversationKey expands a 32-byte shared secret into a 32-byte
// AEAD key via HKDF-SHA256, matching the key-schedule shape of NIP-44 v2.
// It performs no ECDH itself: the caller already holds the shared secret
// (an MLS export secret, or the output of identity.ECDH).
func deriveConversationKey(secret [32]byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret[:], nil, []byte(nip44InfoLabel))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive conversation key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext into the NIP-44 v2 binary envelope
// ([0x02][24-byte nonce][ciphertext]), base64-encoded, using a key derived
// from secret via HKDF-SHA256 and sealed with XChaCha20-Poly1305.
func Encrypt(secret [32]byte, plaintext []byte) (string, error) {
	key, err := deriveConversationKey(secret)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	envelope := make([]byte, 0, 1+len(nonce)+len(ciphertext))
	envelope = append(envelope, byte(NIP44Version2))
	envelope = append(envelope, nonce...)
	envelope = append(envelope, ciphertext...)
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Decrypt reverses Encrypt, validating the version byte and nonce length.
func Decrypt(secret [32]byte, payload string) ([]byte, error) {
	envelope, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(envelope) < 1+V2NonceLength+1 {
		return nil, fmt.Errorf("envelope too short")
	}
	if envelope[0] != NIP44Version2 {
		return nil, fmt.Errorf("unsupported NIP-44 version: %d", int(envelope[0]))
	}
	nonce := envelope[1 : 1+V2NonceLength]
	ciphertext := envelope[1+V2NonceLength:]

	key, err := deriveConversationKey(secret)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open envelope: %w", err)
	}
	return plaintext, nil
}

// IsNIP44Payload checks if a content string is likely v1 or v2 NIP-44
func IsNIP44Payload(content string) bool {
	decoded, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return false
	}
	// v1: try JSON
	var payloadV1 NIP44PayloadV1
	if err := json.Unmarshal(decoded, &payloadV1); err == nil {
		return payloadV1.V == NIP44Version1 && payloadV1.Nonce != "" && payloadV1.Ciphertext != ""
	}
	// v2: version byte, correct minimum length
	if len(decoded) >= 1+V2NonceLength+1 && decoded[0] == NIP44Version2 {
		return true
	}
	return false
}

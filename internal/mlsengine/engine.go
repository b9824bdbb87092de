// Package mlsengine is a single-writer facade over the group's
// cryptographic state: group creation, welcome construction, application
// message sealing, inbound message processing, and per-epoch secret
// export. Every exported method takes the engine's own mutex, so from the
// caller's perspective "acquire the MLS Engine lock" and "call an Engine
// method" are the same thing.
package mlsengine

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	apperrors "github.com/shugur-network/groupcore/internal/errors"
	"github.com/shugur-network/groupcore/internal/identity"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const groupIDSize = 16

type groupState struct {
	id          []byte
	epoch       uint64
	name        string
	description string
	creator     string
	members     []string
	admins      []string
	relayURLs   []string
	secret      [32]byte
}

// Engine owns every MLS group this process participates in.
type Engine struct {
	mu     sync.Mutex
	groups map[string]*groupState
}

// New returns an empty Engine.
func New() *Engine {
	return &Engine{groups: make(map[string]*groupState)}
}

// CreateGroup produces a fresh MLS group at epoch 0 containing the
// creator plus one leaf per entry in memberPubkeys. Key packages are not
// passed in: the caller fetches each member's and turns a missing one into
// MissingKeyPackage before calling here.
func (e *Engine) CreateGroup(name, description, creator string, memberPubkeys []string, admins, relayURLs []string) (*CreateGroupResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := make([]byte, groupIDSize)
	if _, err := rand.Read(id); err != nil {
		return nil, apperrors.EngineErr(fmt.Errorf("generate group id: %w", err))
	}

	members := append([]string{creator}, memberPubkeys...)
	sort.Strings(members[1:])

	secret, err := identity.RandomSecret()
	if err != nil {
		return nil, apperrors.EngineErr(fmt.Errorf("generate epoch secret: %w", err))
	}

	gs := &groupState{
		id:          id,
		epoch:       0,
		name:        name,
		description: description,
		creator:     creator,
		members:     members,
		admins:      append([]string(nil), admins...),
		relayURLs:   append([]string(nil), relayURLs...),
		secret:      secret,
	}
	e.groups[hex.EncodeToString(id)] = gs

	welcome, err := buildWelcome(gs)
	if err != nil {
		return nil, apperrors.EngineErr(err)
	}

	return &CreateGroupResult{
		MLSGroupID:  append([]byte(nil), id...),
		Epoch:       0,
		WelcomeBlob: welcome,
		GroupData:   nostrGroupData(gs),
	}, nil
}

// JoinGroup admits this process into a group described by a welcome blob
// received out-of-band. It is the invitee-side counterpart of CreateGroup.
func (e *Engine) JoinGroup(welcomeBlob []byte) (*JoinResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var env welcomeEnvelope
	if err := json.Unmarshal(welcomeBlob, &env); err != nil {
		return nil, apperrors.ProcessMessageErr(fmt.Errorf("parse welcome: %w", err))
	}

	id, err := hex.DecodeString(env.MLSGroupID)
	if err != nil {
		return nil, apperrors.ProcessMessageErr(fmt.Errorf("decode group id: %w", err))
	}
	secretBytes, err := hex.DecodeString(env.Secret)
	if err != nil || len(secretBytes) != 32 {
		return nil, apperrors.ProcessMessageErr(fmt.Errorf("decode welcome secret"))
	}

	key := hex.EncodeToString(id)
	if _, exists := e.groups[key]; exists {
		gs := e.groups[key]
		return &JoinResult{MLSGroupID: append([]byte(nil), id...), Epoch: gs.epoch, GroupData: nostrGroupData(gs)}, nil
	}

	gs := &groupState{
		id:          id,
		epoch:       0,
		name:        env.Name,
		description: env.Description,
		members:     append([]string(nil), env.Members...),
		admins:      append([]string(nil), env.Admins...),
		relayURLs:   append([]string(nil), env.RelayURLs...),
	}
	copy(gs.secret[:], secretBytes)
	e.groups[key] = gs

	return &JoinResult{
		MLSGroupID: append([]byte(nil), id...),
		Epoch:      0,
		GroupData:  nostrGroupData(gs),
	}, nil
}

// CreateMessage wraps plaintext in an MLS application message at the
// group's current epoch.
func (e *Engine) CreateMessage(mlsGroupID []byte, plaintext string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	gs, err := e.lookup(mlsGroupID)
	if err != nil {
		return nil, err
	}
	ciphertext, err := seal(gs.secret, gs.epoch, []byte(plaintext))
	if err != nil {
		return nil, apperrors.EngineErr(err)
	}
	return ciphertext, nil
}

// ProcessMessage decrypts an inbound MLS ciphertext and returns the
// application-message payloads it carried. This engine models only
// application messages; it never synthesizes spurious epoch advances.
func (e *Engine) ProcessMessage(mlsGroupID []byte, ciphertext []byte) ([]ApplicationMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	gs, err := e.lookup(mlsGroupID)
	if err != nil {
		return nil, err
	}
	plaintext, err := open(gs.secret, gs.epoch, ciphertext)
	if err != nil {
		return nil, apperrors.ProcessMessageErr(err)
	}
	return []ApplicationMessage{plaintext}, nil
}

// ExportSecret returns the group's current epoch export secret.
func (e *Engine) ExportSecret(mlsGroupID []byte) (string, uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	gs, err := e.lookup(mlsGroupID)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(gs.secret[:]), gs.epoch, nil
}

func (e *Engine) lookup(mlsGroupID []byte) (*groupState, error) {
	gs, ok := e.groups[hex.EncodeToString(mlsGroupID)]
	if !ok {
		return nil, apperrors.EngineErr(fmt.Errorf("unknown group %x", mlsGroupID))
	}
	return gs, nil
}

func nostrGroupData(gs *groupState) NostrGroupData {
	return NostrGroupData{
		NostrGroupID: shortGroupID(gs.id),
		Admins:       append([]string(nil), gs.admins...),
		RelayURLs:    append([]string(nil), gs.relayURLs...),
		MemberCount:  len(gs.members),
	}
}

// shortGroupID derives the printable routing tag from the binary group
// id: a fixed-length hex digest, distinct from the MLS group id itself.
func shortGroupID(mlsGroupID []byte) string {
	sum := sha256.Sum256(mlsGroupID)
	return hex.EncodeToString(sum[:])[:16]
}

func buildWelcome(gs *groupState) ([]byte, error) {
	env := welcomeEnvelope{
		MLSGroupID:  hex.EncodeToString(gs.id),
		Name:        gs.name,
		Description: gs.description,
		Members:     gs.members,
		Admins:      gs.admins,
		RelayURLs:   gs.relayURLs,
		Secret:      hex.EncodeToString(gs.secret[:]),
	}
	return json.Marshal(env)
}

// seal/open implement the MLS-layer application message encryption,
// independent of the NIP-44 transport encryption the lifecycle engine
// layers on top of the result.
func seal(secret [32]byte, epoch uint64, plaintext []byte) ([]byte, error) {
	key, err := messageKey(secret, epoch)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, plaintext, nil)
	return out, nil
}

func open(secret [32]byte, epoch uint64, ciphertext []byte) ([]byte, error) {
	key, err := messageKey(secret, epoch)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce := ciphertext[:aead.NonceSize()]
	body := ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("open ciphertext: %w", err)
	}
	return plaintext, nil
}

func messageKey(secret [32]byte, epoch uint64) ([]byte, error) {
	info := fmt.Sprintf("mls-application-message-epoch-%d", epoch)
	r := hkdf.New(sha256.New, secret[:], nil, []byte(info))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive message key: %w", err)
	}
	return key, nil
}

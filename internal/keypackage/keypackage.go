// Package keypackage defines the external key-package fetcher interface
// used by group creation and a small in-memory adapter so that flow is
// exercisable without a real network lookup.
package keypackage

import (
	"sync"

	apperrors "github.com/shugur-network/groupcore/internal/errors"
	nostr "github.com/nbd-wtf/go-nostr"
)

// Fetcher retrieves a published kind-443 MLS KeyPackage event for
// pubkeyHex, or fails with MissingKeyPackage if the identity has not
// published one. Returning the full event (not just its serialized
// credential blob) lets a caller validate its NIP-EE shape and reference
// its event id from a Welcome's "e" tag.
type Fetcher interface {
	Fetch(pubkeyHex string) (*nostr.Event, error)
}

// MemoryFetcher is an in-memory stand-in for the real network-backed
// key-package service: a static registry, populated by Publish.
type MemoryFetcher struct {
	mu       sync.RWMutex
	packages map[string]nostr.Event
}

// NewMemoryFetcher returns an empty registry.
func NewMemoryFetcher() *MemoryFetcher {
	return &MemoryFetcher{packages: make(map[string]nostr.Event)}
}

// Publish registers evt as pubkeyHex's current key package.
func (m *MemoryFetcher) Publish(pubkeyHex string, evt nostr.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packages[pubkeyHex] = evt
}

// Fetch implements Fetcher.
func (m *MemoryFetcher) Fetch(pubkeyHex string) (*nostr.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	evt, ok := m.packages[pubkeyHex]
	if !ok {
		return nil, apperrors.MissingKeyPackage(pubkeyHex)
	}
	return &evt, nil
}

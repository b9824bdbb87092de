// Package groupmanager is the authoritative in-memory catalog of known
// groups, write-through to disk, indexed by both the binary MLS group id
// and the printable Nostr routing id.
package groupmanager

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	apperrors "github.com/shugur-network/groupcore/internal/errors"
	"github.com/shugur-network/groupcore/internal/logger"
	nostr "github.com/nbd-wtf/go-nostr"
	"github.com/willf/bloom"
	"go.uber.org/zap"
)

// bloomEstimatedEvents and bloomFalsePositiveRate size each group's
// transcript-dedup filter; a single group's transcript is not expected to
// approach relay-wide event volumes, so these are far smaller than the
// relay-side filter this pattern is grounded on.
const (
	bloomEstimatedEvents     = 100_000
	bloomFalsePositiveRate   = 0.01
)

type record struct {
	mu    sync.Mutex
	group Group
	bloom *bloom.BloomFilter
}

// Manager is the in-memory, write-through catalog.
type Manager struct {
	root string

	mu        sync.RWMutex
	byMLSID   map[string]*record // key: hex(mls_group_id)
	byNostrID map[string]*record // key: nostr_group_id
}

// New loads any previously persisted groups from dataDir/groups and
// returns a ready Manager.
func New(dataDir string) (*Manager, error) {
	m := &Manager{
		root:      filepath.Join(dataDir, "groups"),
		byMLSID:   make(map[string]*record),
		byNostrID: make(map[string]*record),
	}
	if err := os.MkdirAll(m.root, 0o700); err != nil {
		return nil, apperrors.Storage("create groups directory", err)
	}

	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, apperrors.Storage("list groups directory", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		g, err := loadRecord(filepath.Join(m.root, e.Name()))
		if err != nil {
			logger.Warn("skipping unreadable group record", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		rec := newRecordFromGroup(g)
		m.byMLSID[hex.EncodeToString(g.MLSGroupID)] = rec
		m.byNostrID[g.NostrGroupID] = rec
	}
	return m, nil
}

func newRecordFromGroup(g Group) *record {
	bf := bloom.NewWithEstimates(bloomEstimatedEvents, bloomFalsePositiveRate)
	for _, evt := range g.Transcript {
		bf.AddString(evt.ID)
	}
	return &record{group: g, bloom: bf}
}

// All returns an immutable snapshot of every known group.
func (m *Manager) All() []Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Group, 0, len(m.byMLSID))
	for _, rec := range m.byMLSID {
		rec.mu.Lock()
		out = append(out, rec.group.clone())
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NostrGroupID < out[j].NostrGroupID })
	return out
}

// ByMLSID looks up a group by its binary MLS group id.
func (m *Manager) ByMLSID(id []byte) (Group, error) {
	key := hex.EncodeToString(id)
	m.mu.RLock()
	rec, ok := m.byMLSID[key]
	m.mu.RUnlock()
	if !ok {
		return Group{}, apperrors.NotFound("group", key)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.group.clone(), nil
}

// ByNostrID looks up a group by its printable Nostr routing id.
func (m *Manager) ByNostrID(id string) (Group, error) {
	m.mu.RLock()
	rec, ok := m.byNostrID[id]
	m.mu.RUnlock()
	if !ok {
		return Group{}, apperrors.NotFound("group", id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.group.clone(), nil
}

// Add registers a newly created group. Fails with Duplicate if either id
// is already known.
func (m *Manager) Add(mlsGroupID []byte, epoch uint64, groupType GroupType, data GroupData) (Group, error) {
	mlsKey := hex.EncodeToString(mlsGroupID)

	m.mu.Lock()
	if _, exists := m.byMLSID[mlsKey]; exists {
		m.mu.Unlock()
		return Group{}, apperrors.Duplicate("group", mlsKey)
	}
	if _, exists := m.byNostrID[data.NostrGroupID]; exists {
		m.mu.Unlock()
		return Group{}, apperrors.Duplicate("group", data.NostrGroupID)
	}

	g := Group{
		MLSGroupID:   append([]byte(nil), mlsGroupID...),
		NostrGroupID: data.NostrGroupID,
		Epoch:        epoch,
		GroupType:    groupType,
		Name:         data.Name,
		Description:  data.Description,
		Admins:       append([]string(nil), data.Admins...),
		Members:      append([]string(nil), data.Members...),
		RelayURLs:    append([]string(nil), data.RelayURLs...),
		Transcript:   nil,
	}
	rec := newRecordFromGroup(g)
	m.byMLSID[mlsKey] = rec
	m.byNostrID[data.NostrGroupID] = rec
	m.mu.Unlock()

	if err := m.persist(rec); err != nil {
		return Group{}, err
	}
	logger.Info("group registered",
		zap.String("mls_group_id", mlsKey),
		zap.String("nostr_group_id", data.NostrGroupID),
		zap.String("group_type", string(groupType)))
	return rec.group.clone(), nil
}

// AppendMessage appends evt to the group's transcript unless an event with
// the same id is already present, in which case it is silently dropped.
// Returns the updated group either way.
func (m *Manager) AppendMessage(mlsGroupID []byte, evt nostr.Event) (Group, error) {
	rec, err := m.recordByMLSID(mlsGroupID)
	if err != nil {
		return Group{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	// The bloom filter only ever short-circuits a definite miss; a hit
	// always falls through to the authoritative scan so a false positive
	// can never cause a silent drop.
	if rec.bloom.Test([]byte(evt.ID)) {
		for _, existing := range rec.group.Transcript {
			if existing.ID == evt.ID {
				return rec.group.clone(), nil
			}
		}
	}

	rec.group.Transcript = append(rec.group.Transcript, evt)
	rec.bloom.AddString(evt.ID)

	if err := m.persistLocked(rec); err != nil {
		return Group{}, err
	}
	return rec.group.clone(), nil
}

// AdvanceEpoch sets the group's epoch to newEpoch, which must be strictly
// greater than the current epoch.
func (m *Manager) AdvanceEpoch(mlsGroupID []byte, newEpoch uint64) error {
	rec, err := m.recordByMLSID(mlsGroupID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if newEpoch <= rec.group.Epoch {
		return apperrors.MonotonicityViolation(hex.EncodeToString(mlsGroupID), rec.group.Epoch, newEpoch)
	}
	rec.group.Epoch = newEpoch
	return m.persistLocked(rec)
}

func (m *Manager) recordByMLSID(mlsGroupID []byte) (*record, error) {
	key := hex.EncodeToString(mlsGroupID)
	m.mu.RLock()
	rec, ok := m.byMLSID[key]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("group", key)
	}
	return rec, nil
}

func (m *Manager) persist(rec *record) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return m.persistLocked(rec)
}

// persistLocked writes rec.group to disk. Callers must hold rec.mu.
func (m *Manager) persistLocked(rec *record) error {
	path := filepath.Join(m.root, hex.EncodeToString(rec.group.MLSGroupID)+".json")
	data, err := json.MarshalIndent(rec.group, "", "  ")
	if err != nil {
		return apperrors.Storage("marshal group record", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return apperrors.Storage("write group record", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return apperrors.Storage("commit group record", err)
	}
	return nil
}

func loadRecord(path string) (Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Group{}, fmt.Errorf("read group record: %w", err)
	}
	var g Group
	if err := json.Unmarshal(data, &g); err != nil {
		return Group{}, fmt.Errorf("parse group record: %w", err)
	}
	return g, nil
}

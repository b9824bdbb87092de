// Package secretstore persists per-group, per-epoch MLS export secrets on
// disk and derives keypairs from them on demand.
package secretstore

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	apperrors "github.com/shugur-network/groupcore/internal/errors"
	"github.com/shugur-network/groupcore/internal/identity"
	"github.com/shugur-network/groupcore/internal/logger"
	"go.uber.org/zap"
)

// Store is a file-backed (group_id, epoch) -> 32-byte-secret map. Disk I/O
// for a given group is serialized through a per-group mutex so that
// concurrent callers for different groups never block one another, while
// callers for the same group never race on the same file.
type Store struct {
	root string

	mu     sync.Mutex
	groups map[string]*sync.Mutex
}

// New roots the store at dataDir/secrets. The directory is created lazily
// on first write.
func New(dataDir string) *Store {
	return &Store{
		root:   filepath.Join(dataDir, "secrets"),
		groups: make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(groupHex string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.groups[groupHex]
	if !ok {
		m = &sync.Mutex{}
		s.groups[groupHex] = m
	}
	return m
}

func (s *Store) groupDir(groupID []byte) string {
	return filepath.Join(s.root, hex.EncodeToString(groupID))
}

func epochFile(dir string, epoch uint64) string {
	return filepath.Join(dir, strconv.FormatUint(epoch, 10)+".secret")
}

// Store writes secret for (groupID, epoch). A write for an entry that
// already exists with the same value is a no-op; a write that disagrees
// with the existing value fails with Conflict.
func (s *Store) Store(groupID []byte, epoch uint64, secret [32]byte) error {
	groupHex := hex.EncodeToString(groupID)
	lock := s.lockFor(groupHex)
	lock.Lock()
	defer lock.Unlock()

	dir := s.groupDir(groupID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return apperrors.Storage("create group secret directory", err)
	}

	path := epochFile(dir, epoch)
	existing, err := os.ReadFile(path)
	if err == nil {
		if bytes.Equal(existing, secret[:]) {
			return nil
		}
		return apperrors.Conflict(fmt.Sprintf("secret for group %s epoch %d already stored with a different value", groupHex, epoch))
	}
	if !os.IsNotExist(err) {
		return apperrors.Storage("read existing secret", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, secret[:], 0o600); err != nil {
		return apperrors.Storage("write secret", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return apperrors.Storage("commit secret", err)
	}

	logger.Debug("stored epoch secret",
		zap.String("group", groupHex),
		zap.Uint64("epoch", epoch))
	return nil
}

// GetKeyPair loads the secret for (groupID, epoch) and derives a keypair
// from it, treating the secret as a 32-byte secp256k1 secret key.
func (s *Store) GetKeyPair(groupID []byte, epoch uint64) (*identity.KeyPair, error) {
	groupHex := hex.EncodeToString(groupID)
	lock := s.lockFor(groupHex)
	lock.Lock()
	defer lock.Unlock()

	path := epochFile(s.groupDir(groupID), epoch)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFound("epoch secret", fmt.Sprintf("%s/%d", groupHex, epoch))
		}
		return nil, apperrors.Storage("read secret", err)
	}
	if len(raw) != 32 {
		return nil, apperrors.Storage("read secret", fmt.Errorf("corrupt secret file: expected 32 bytes, got %d", len(raw)))
	}

	kp, err := identity.FromHex(hex.EncodeToString(raw))
	if err != nil {
		return nil, apperrors.Storage("derive keypair", err)
	}
	return kp, nil
}

// Has reports whether a secret is already stored for (groupID, epoch),
// without loading or deriving anything.
func (s *Store) Has(groupID []byte, epoch uint64) bool {
	_, err := os.Stat(epochFile(s.groupDir(groupID), epoch))
	return err == nil
}

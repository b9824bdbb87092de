// Package account is a minimal, file-backed identity store: the set of
// known local accounts, onboarding flags, and which one is currently
// active. Logging in twice with the same secret is idempotent.
package account

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/shugur-network/groupcore/internal/errors"
	"github.com/shugur-network/groupcore/internal/identity"
	"github.com/shugur-network/groupcore/internal/logger"
	"go.uber.org/zap"
)

// Onboarding carries the per-account relay-publishing flags named in the
// data model.
type Onboarding struct {
	InboxRelays       []string `json:"inbox_relays"`
	KeyPackageRelays  []string `json:"key_package_relays"`
	PublishKeyPackage bool     `json:"publish_key_package"`
}

// Account is an identity plus onboarding state and known-group membership.
type Account struct {
	Pubkey      string     `json:"pubkey"`
	SecretHex   string     `json:"secret_hex"`
	Onboarding  Onboarding `json:"onboarding"`
	KnownGroups []string   `json:"known_groups"`
}

func (a Account) clone() Account {
	out := a
	out.Onboarding.InboxRelays = append([]string(nil), a.Onboarding.InboxRelays...)
	out.Onboarding.KeyPackageRelays = append([]string(nil), a.Onboarding.KeyPackageRelays...)
	out.KnownGroups = append([]string(nil), a.KnownGroups...)
	return out
}

// Store is the process-wide single-writer account manager.
type Store struct {
	root string

	mu       sync.RWMutex
	accounts map[string]Account // key: pubkey
	active   string             // pubkey, "" if none
}

// New loads any previously persisted accounts from dataDir/accounts.
func New(dataDir string) (*Store, error) {
	s := &Store{
		root:     filepath.Join(dataDir, "accounts"),
		accounts: make(map[string]Account),
	}
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return nil, apperrors.Storage("create accounts directory", err)
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, apperrors.Storage("list accounts directory", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		a, err := loadAccount(filepath.Join(s.root, e.Name()))
		if err != nil {
			logger.Warn("skipping unreadable account record", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		s.accounts[a.Pubkey] = a
		if s.active == "" {
			s.active = a.Pubkey
		}
	}
	return s, nil
}

// GetActiveAccount returns the currently active account, if any.
func (s *Store) GetActiveAccount() (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == "" {
		return Account{}, apperrors.NotFound("account", "active")
	}
	return s.accounts[s.active].clone(), nil
}

// GetAccounts returns every known account.
func (s *Store) GetAccounts() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.clone())
	}
	return out
}

// CreateIdentity generates a fresh keypair, persists it as a new account,
// and makes it active.
func (s *Store) CreateIdentity() (Account, error) {
	kp, err := identity.Generate()
	if err != nil {
		return Account{}, apperrors.Storage("generate identity", err)
	}
	return s.loginWithKeyPair(kp)
}

// Login creates (or recovers) the account for nsecOrHex and makes it
// active. Logging in with the same secret twice yields the same account
// and never creates a duplicate: the pubkey is the natural key.
func (s *Store) Login(nsecOrHex string) (Account, error) {
	kp, err := parseSecret(nsecOrHex)
	if err != nil {
		return Account{}, apperrors.InvalidInput("secret", err.Error())
	}
	return s.loginWithKeyPair(kp)
}

func (s *Store) loginWithKeyPair(kp *identity.KeyPair) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.accounts[kp.PublicKey]; ok {
		s.active = existing.Pubkey
		return existing.clone(), nil
	}

	a := Account{Pubkey: kp.PublicKey, SecretHex: kp.SecretHex()}
	s.accounts[a.Pubkey] = a
	s.active = a.Pubkey
	if err := s.persistLocked(a); err != nil {
		return Account{}, err
	}
	logger.Info("account created", zap.String("pubkey", a.Pubkey))
	return a.clone(), nil
}

// SetActiveAccount switches the active account to pubkeyHex, which must
// already be known.
func (s *Store) SetActiveAccount(pubkeyHex string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[pubkeyHex]; !ok {
		return apperrors.NotFound("account", pubkeyHex)
	}
	s.active = pubkeyHex
	return nil
}

// Logout removes pubkeyHex from the active slot. The account record
// itself is retained; this only clears the process-wide active pointer.
func (s *Store) Logout(pubkeyHex string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != pubkeyHex {
		return apperrors.NotFound("active account", pubkeyHex)
	}
	s.active = ""
	return nil
}

// UpdateOnboarding replaces an account's onboarding flags.
func (s *Store) UpdateOnboarding(pubkeyHex string, onboarding Onboarding) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[pubkeyHex]
	if !ok {
		return Account{}, apperrors.NotFound("account", pubkeyHex)
	}
	a.Onboarding = onboarding
	s.accounts[pubkeyHex] = a
	if err := s.persistLocked(a); err != nil {
		return Account{}, err
	}
	return a.clone(), nil
}

// AddKnownGroup appends a group id to an account's known-groups list,
// idempotently.
func (s *Store) AddKnownGroup(pubkeyHex, groupIDHex string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[pubkeyHex]
	if !ok {
		return apperrors.NotFound("account", pubkeyHex)
	}
	for _, existing := range a.KnownGroups {
		if existing == groupIDHex {
			return nil
		}
	}
	a.KnownGroups = append(a.KnownGroups, groupIDHex)
	s.accounts[pubkeyHex] = a
	return s.persistLocked(a)
}

func parseSecret(nsecOrHex string) (*identity.KeyPair, error) {
	if len(nsecOrHex) > 4 && nsecOrHex[:4] == "nsec" {
		return identity.FromNsec(nsecOrHex)
	}
	return identity.FromHex(nsecOrHex)
}

func (s *Store) persistLocked(a Account) error {
	path := filepath.Join(s.root, a.Pubkey+".json")
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return apperrors.Storage("marshal account record", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return apperrors.Storage("write account record", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return apperrors.Storage("commit account record", err)
	}
	return nil
}

func loadAccount(path string) (Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Account{}, err
	}
	var a Account
	if err := json.Unmarshal(data, &a); err != nil {
		return Account{}, err
	}
	return a, nil
}

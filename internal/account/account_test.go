package account

import (
	"testing"

	"github.com/shugur-network/groupcore/internal/identity"
	apperrors "github.com/shugur-network/groupcore/internal/errors"
)

func TestCreateIdentityBecomesActive(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, err := s.CreateIdentity()
	if err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	active, err := s.GetActiveAccount()
	if err != nil {
		t.Fatalf("GetActiveAccount: %v", err)
	}
	if active.Pubkey != a.Pubkey {
		t.Fatalf("active account %q does not match created account %q", active.Pubkey, a.Pubkey)
	}
}

func TestLoginWithSameSecretTwiceIsIdempotent(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	kp, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}

	first, err := s.Login(kp.SecretHex())
	if err != nil {
		t.Fatalf("first Login: %v", err)
	}
	second, err := s.Login(kp.SecretHex())
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if first.Pubkey != second.Pubkey {
		t.Fatalf("logging in with the same secret twice produced different accounts")
	}
	if len(s.GetAccounts()) != 1 {
		t.Fatalf("expected exactly one stored account, got %d", len(s.GetAccounts()))
	}
}

func TestLoginWithNsecRecoversSameAccountAsHex(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	kp, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	nsec, err := kp.Nsec()
	if err != nil {
		t.Fatalf("Nsec: %v", err)
	}

	byHex, err := s.Login(kp.SecretHex())
	if err != nil {
		t.Fatalf("Login by hex: %v", err)
	}
	byNsec, err := s.Login(nsec)
	if err != nil {
		t.Fatalf("Login by nsec: %v", err)
	}
	if byHex.Pubkey != byNsec.Pubkey {
		t.Fatalf("nsec and hex logins for the same secret produced different pubkeys")
	}
}

func TestSetActiveAccountRejectsUnknownPubkey(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SetActiveAccount("not-a-known-pubkey"); !apperrors.Is(err, apperrors.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestLogoutClearsActiveWithoutDeletingAccount(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, err := s.CreateIdentity()
	if err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	if err := s.Logout(a.Pubkey); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := s.GetActiveAccount(); !apperrors.Is(err, apperrors.KindNotFound) {
		t.Fatalf("expected no active account after logout, got %v", err)
	}
	if len(s.GetAccounts()) != 1 {
		t.Fatalf("expected the account record to survive logout")
	}
}

func TestUpdateOnboardingPersistsFlags(t *testing.T) {
	dataDir := t.TempDir()
	s, err := New(dataDir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, err := s.CreateIdentity()
	if err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	updated, err := s.UpdateOnboarding(a.Pubkey, Onboarding{
		InboxRelays:       []string{"wss://inbox.example"},
		PublishKeyPackage: true,
	})
	if err != nil {
		t.Fatalf("UpdateOnboarding: %v", err)
	}
	if !updated.Onboarding.PublishKeyPackage {
		t.Fatal("expected publish_key_package to be set")
	}

	reloaded, err := New(dataDir)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	got, err := reloaded.GetActiveAccount()
	if err != nil {
		t.Fatalf("GetActiveAccount after reload: %v", err)
	}
	if len(got.Onboarding.InboxRelays) != 1 || got.Onboarding.InboxRelays[0] != "wss://inbox.example" {
		t.Fatalf("onboarding flags did not survive reload: %+v", got.Onboarding)
	}
}

func TestAddKnownGroupIsIdempotent(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, err := s.CreateIdentity()
	if err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	if err := s.AddKnownGroup(a.Pubkey, "aabbcc"); err != nil {
		t.Fatalf("AddKnownGroup: %v", err)
	}
	if err := s.AddKnownGroup(a.Pubkey, "aabbcc"); err != nil {
		t.Fatalf("second AddKnownGroup: %v", err)
	}
	active, err := s.GetActiveAccount()
	if err != nil {
		t.Fatalf("GetActiveAccount: %v", err)
	}
	if len(active.KnownGroups) != 1 {
		t.Fatalf("expected exactly one known group, got %d", len(active.KnownGroups))
	}
}

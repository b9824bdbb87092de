package secretstore

import (
	"testing"

	apperrors "github.com/shugur-network/groupcore/internal/errors"
)

func TestStoreThenGetKeyPairRoundTrips(t *testing.T) {
	s := New(t.TempDir())
	groupID := []byte("group-a")
	var secret [32]byte
	for i := range secret {
		secret[i] = byte(i)
	}

	if err := s.Store(groupID, 0, secret); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !s.Has(groupID, 0) {
		t.Fatal("expected Has to report true after Store")
	}
	kp, err := s.GetKeyPair(groupID, 0)
	if err != nil {
		t.Fatalf("GetKeyPair: %v", err)
	}
	if kp.SecretHex() == "" {
		t.Fatal("expected a derived keypair with a non-empty secret")
	}
}

func TestStoreSameValueTwiceIsNoOp(t *testing.T) {
	s := New(t.TempDir())
	groupID := []byte("group-b")
	var secret [32]byte
	secret[0] = 0xAB

	if err := s.Store(groupID, 5, secret); err != nil {
		t.Fatalf("first Store: %v", err)
	}
	if err := s.Store(groupID, 5, secret); err != nil {
		t.Fatalf("second Store with the same value should succeed, got %v", err)
	}
}

func TestStoreDivergentValueConflicts(t *testing.T) {
	s := New(t.TempDir())
	groupID := []byte("group-c")
	var first, second [32]byte
	first[0] = 1
	second[0] = 2

	if err := s.Store(groupID, 1, first); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.Store(groupID, 1, second); !apperrors.Is(err, apperrors.KindConflict) {
		t.Fatalf("expected Conflict for a divergent value at the same epoch, got %v", err)
	}
}

func TestHasReportsFalseForUnknownEpoch(t *testing.T) {
	s := New(t.TempDir())
	if s.Has([]byte("unknown-group"), 0) {
		t.Fatal("expected Has to report false for a group with no stored secret")
	}
}

func TestGetKeyPairUnknownEpochIsNotFound(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.GetKeyPair([]byte("group-d"), 9); !apperrors.Is(err, apperrors.KindNotFound) {
		t.Fatalf("expected NotFound for an unstored epoch, got %v", err)
	}
}

func TestDifferentGroupsDoNotCollide(t *testing.T) {
	s := New(t.TempDir())
	var secretA, secretB [32]byte
	secretA[0] = 0x11
	secretB[0] = 0x22

	if err := s.Store([]byte("group-e"), 0, secretA); err != nil {
		t.Fatalf("Store group-e: %v", err)
	}
	if err := s.Store([]byte("group-f"), 0, secretB); err != nil {
		t.Fatalf("Store group-f: %v", err)
	}
	kpA, err := s.GetKeyPair([]byte("group-e"), 0)
	if err != nil {
		t.Fatalf("GetKeyPair group-e: %v", err)
	}
	kpB, err := s.GetKeyPair([]byte("group-f"), 0)
	if err != nil {
		t.Fatalf("GetKeyPair group-f: %v", err)
	}
	if kpA.SecretHex() == kpB.SecretHex() {
		t.Fatal("expected distinct groups to derive distinct keypairs from distinct secrets")
	}
}

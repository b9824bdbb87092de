package lifecycle

import (
	"testing"

	apperrors "github.com/shugur-network/groupcore/internal/errors"
	"github.com/shugur-network/groupcore/internal/identity"
	"github.com/shugur-network/groupcore/internal/nostrevent"
	nostr "github.com/nbd-wtf/go-nostr"
)

func TestValidateMembershipRejectsCreatorAsMember(t *testing.T) {
	if err := validateMembership("creator", []string{"creator"}, nil); !apperrors.Is(err, apperrors.KindInvalidInput) {
		t.Fatalf("expected InvalidInput when the creator is listed as a member, got %v", err)
	}
}

func TestValidateMembershipRejectsDuplicateMember(t *testing.T) {
	if err := validateMembership("creator", []string{"alice", "alice"}, nil); !apperrors.Is(err, apperrors.KindInvalidInput) {
		t.Fatalf("expected InvalidInput for a duplicate member, got %v", err)
	}
}

func TestValidateMembershipRequiresAtLeastOneMember(t *testing.T) {
	if err := validateMembership("creator", nil, nil); !apperrors.Is(err, apperrors.KindInvalidInput) {
		t.Fatalf("expected InvalidInput for an empty member list, got %v", err)
	}
}

func TestValidateMembershipRejectsAdminOutsideGroup(t *testing.T) {
	if err := validateMembership("creator", []string{"alice"}, []string{"bob"}); !apperrors.Is(err, apperrors.KindInvalidInput) {
		t.Fatalf("expected InvalidInput for an admin who is neither creator nor member, got %v", err)
	}
}

func TestValidateMembershipAcceptsCreatorAsAdmin(t *testing.T) {
	if err := validateMembership("creator", []string{"alice"}, []string{"creator", "alice"}); err != nil {
		t.Fatalf("expected a valid membership to pass, got %v", err)
	}
}

func TestDedupStringsDropsEmptyAndRepeatedEntries(t *testing.T) {
	got := dedupStrings([]string{"a", "", "b", "a", "c", ""})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestBucketByGroupTagGroupsAndSkipsUntagged(t *testing.T) {
	events := []nostr.Event{
		{ID: "1", Kind: nostrevent.KindMLSGroupMessage, Tags: nostr.Tags{{nostrevent.TagGroup, "group-a"}}},
		{ID: "2", Kind: nostrevent.KindMLSGroupMessage, Tags: nostr.Tags{{nostrevent.TagGroup, "group-b"}}},
		{ID: "3", Kind: nostrevent.KindMLSGroupMessage, Tags: nostr.Tags{{nostrevent.TagGroup, "group-a"}}},
		{ID: "4", Kind: nostrevent.KindMLSGroupMessage},
		{ID: "5", Kind: nostrevent.KindApplicationMessage, Tags: nostr.Tags{{nostrevent.TagGroup, "group-a"}}},
	}
	buckets := bucketByGroupTag(events)
	if len(buckets["group-a"]) != 2 {
		t.Fatalf("expected 2 events in group-a, got %d", len(buckets["group-a"]))
	}
	if len(buckets["group-b"]) != 1 {
		t.Fatalf("expected 1 event in group-b, got %d", len(buckets["group-b"]))
	}
	if _, ok := buckets[""]; ok {
		t.Fatal("expected the untagged event to be skipped entirely")
	}
}

func TestUnwrapWelcomeRecoversSealedRumor(t *testing.T) {
	sender, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate sender: %v", err)
	}
	recipient, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate recipient: %v", err)
	}

	rumor := nostrevent.NewUnsignedEvent(sender.PublicKey, nostrevent.KindMLSWelcome,
		nostr.Tags{{nostrevent.TagRelays, "wss://relay.example"}}, "welcome-payload")
	nostrevent.ComputeID(&rumor)

	seal, _, err := nostrevent.Seal(rumor, recipient.PublicKey)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	wrap, err := nostrevent.GiftWrap(*seal, recipient.PublicKey, nostrevent.WelcomeExpiry)
	if err != nil {
		t.Fatalf("GiftWrap: %v", err)
	}

	got, err := unwrapWelcome(*wrap, recipient)
	if err != nil {
		t.Fatalf("unwrapWelcome: %v", err)
	}
	if got.Content != rumor.Content || got.Kind != rumor.Kind {
		t.Fatalf("recovered rumor does not match original: got %+v, want %+v", got, rumor)
	}
}

func TestUnwrapWelcomeFailsForWrongRecipient(t *testing.T) {
	sender, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate sender: %v", err)
	}
	recipient, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate recipient: %v", err)
	}
	stranger, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate stranger: %v", err)
	}

	rumor := nostrevent.NewUnsignedEvent(sender.PublicKey, nostrevent.KindMLSWelcome, nil, "secret")
	nostrevent.ComputeID(&rumor)
	seal, _, err := nostrevent.Seal(rumor, recipient.PublicKey)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	wrap, err := nostrevent.GiftWrap(*seal, recipient.PublicKey, nostrevent.WelcomeExpiry)
	if err != nil {
		t.Fatalf("GiftWrap: %v", err)
	}

	if _, err := unwrapWelcome(*wrap, stranger); err == nil {
		t.Fatal("expected unwrapWelcome to fail when the recipient's key does not match the wrap")
	}
}

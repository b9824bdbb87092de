package nostrevent

import (
	"github.com/shugur-network/groupcore/internal/nostrevent/common"
	nostr "github.com/nbd-wtf/go-nostr"
)

// NIP-EE: E2EE Messaging using the Messaging Layer Security (MLS) Protocol
// https://nips.nostr.com/EE
//
// Event kinds:
//   - 443:   KeyPackage Event — advertises MLS key material for async group invites
//   - 444:   Welcome Event — sent via NIP-59 gift wrap to new group members (unsigned inner event)
//   - 445:   Group Event — MLS group messages (control + application), published with ephemeral pubkeys

// ValidateKeyPackageEvent validates a kind:443 MLS KeyPackage event.
// KeyPackage events publish the user's MLS credentials so they can be added
// to groups asynchronously. Every member fetched off keypackage.Fetcher
// passes through here before its id is trusted as a Welcome's "e" tag
// target.
func ValidateKeyPackageEvent(evt *nostr.Event) error {
	helper := common.NewValidationHelper("EE", KindKeyPackage, "KeyPackage event")
	if err := helper.ValidateBasics(evt); err != nil {
		return err
	}
	if evt.Content == "" {
		return helper.ErrorFormatter.FormatError("missing content (serialized KeyPackageBundle)")
	}
	if err := helper.ValidateRequiredTags(evt, "mls_protocol_version", "mls_ciphersuite", TagRelays); err != nil {
		return helper.ErrorFormatter.FormatError("%v", err)
	}
	if len(evt.PubKey) != 64 {
		return helper.ErrorFormatter.FormatError("invalid pubkey format")
	}
	helper.LogSuccess(evt)
	return nil
}

// ValidateWelcomeEvent validates a kind:444 MLS Welcome event. Welcome
// events are delivered to new group members via NIP-59 gift wrap; they are
// unsigned inner events and MUST NOT be signed. The "e" tag must reference
// the KeyPackage event that earned the recipient the invite.
func ValidateWelcomeEvent(evt *nostr.Event) error {
	helper := common.NewValidationHelper("EE", KindMLSWelcome, "Welcome event")
	if err := helper.ValidateBasics(evt); err != nil {
		return err
	}
	if evt.Content == "" {
		return helper.ErrorFormatter.FormatError("missing content (serialized MLSMessage)")
	}
	if err := helper.ValidateRequiredTags(evt, TagEvent, TagRelays); err != nil {
		return helper.ErrorFormatter.FormatError("%v", err)
	}
	if keyPackageID := helper.GetTagValue(evt, TagEvent); len(keyPackageID) != 64 {
		return helper.ErrorFormatter.FormatTagError(TagEvent, "must reference a 64-character KeyPackage event id")
	}
	helper.LogSuccess(evt)
	return nil
}

// ValidateGroupEvent validates a kind:445 MLS Group event. Group events
// carry MLS application messages encrypted with NIP-44 using a key derived
// from the group's epoch export secret, published under ephemeral keypairs.
func ValidateGroupEvent(evt *nostr.Event) error {
	helper := common.NewValidationHelper("EE", KindMLSGroupMessage, "Group event")
	if err := helper.ValidateBasics(evt); err != nil {
		return err
	}
	if evt.Content == "" {
		return helper.ErrorFormatter.FormatError("missing content (NIP-44 encrypted MLSMessage)")
	}
	if err := helper.ValidateRequiredTags(evt, TagGroup); err != nil {
		return helper.ErrorFormatter.FormatError("%v", err)
	}
	if groupID := helper.GetTagValue(evt, TagGroup); groupID == "" {
		return helper.ErrorFormatter.FormatTagError(TagGroup, "must have a non-empty group ID value")
	}
	helper.LogSuccess(evt)
	return nil
}

// IsKeyPackageEvent checks if an event is an MLS KeyPackage event (kind
// 443), used as a cheap pre-filter before the full shape validation above.
func IsKeyPackageEvent(evt *nostr.Event) bool {
	return evt.Kind == KindKeyPackage
}

// IsMLSGroupEvent checks if an event is an MLS Group event (kind 445),
// used as a cheap pre-filter ahead of ValidateGroupEvent since a relay is
// never trusted to have honored the kind filter in a query.
func IsMLSGroupEvent(evt *nostr.Event) bool {
	return evt.Kind == KindMLSGroupMessage
}

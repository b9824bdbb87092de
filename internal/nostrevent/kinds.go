package nostrevent

// Event kinds used by the group lifecycle engine. KindKeyPackage,
// KindMLSWelcome, KindMLSGroupMessage, and KindKeyPackageRelayList follow
// NIP-EE; KindGiftWrap follows NIP-59.
const (
	KindApplicationMessage = 9
	KindKeyPackage         = 443
	KindMLSWelcome         = 444
	KindMLSGroupMessage    = 445
	KindKeyPackageRelayList = 10051
	KindGiftWrapSeal       = 13
	KindGiftWrap           = 1059
)

// Tag names used by the core.
const (
	TagGroup      = "h"
	TagExpiration = "expiration"
	TagRelays     = "relays"
	TagRecipient  = "p"
	TagEvent      = "e"
)

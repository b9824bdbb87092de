package errors

import "fmt"

// InvalidInput reports malformed public keys, hex, or configuration.
func InvalidInput(field, reason string) *AppError {
	return New(KindInvalidInput, "INVALID_INPUT", fmt.Sprintf("invalid %s: %s", field, reason)).
		WithSeverity(SeverityLow)
}

// Unauthorized reports that the caller is not the active account, or does
// not match the stated creator / signer identity.
func Unauthorized(reason string) *AppError {
	return New(KindUnauthorized, "UNAUTHORIZED", reason).WithSeverity(SeverityMedium)
}

// NotFound reports an unknown group, account, or secret.
func NotFound(resource, id string) *AppError {
	return New(KindNotFound, "NOT_FOUND", fmt.Sprintf("%s not found: %s", resource, id)).
		WithSeverity(SeverityLow)
}

// Duplicate reports an id collision (e.g. a group already known by either
// its MLS id or its Nostr id).
func Duplicate(resource, id string) *AppError {
	return New(KindDuplicate, "DUPLICATE", fmt.Sprintf("%s already exists: %s", resource, id)).
		WithSeverity(SeverityLow)
}

// Conflict reports a secret-store value that diverges from a prior write
// for the same (group, epoch) key.
func Conflict(reason string) *AppError {
	return New(KindConflict, "CONFLICT", reason).WithSeverity(SeverityMedium)
}

// MonotonicityViolation reports an epoch that did not strictly increase.
func MonotonicityViolation(groupID string, current, attempted uint64) *AppError {
	return New(KindMonotonicityViolation, "MONOTONICITY_VIOLATION",
		fmt.Sprintf("group %s: epoch %d is not greater than current epoch %d", groupID, attempted, current)).
		WithSeverity(SeverityMedium)
}

// MissingKeyPackage reports that an invitee has not published a key package.
func MissingKeyPackage(pubkey string) *AppError {
	return New(KindMissingKeyPackage, "MISSING_KEY_PACKAGE", fmt.Sprintf("no key package for %s", pubkey)).
		WithSeverity(SeverityMedium)
}

// WelcomeDeliveryFailed reports that the retry budget for welcome delivery
// to a member was exhausted.
func WelcomeDeliveryFailed(pubkey string, cause error) *AppError {
	return Wrap(cause, KindWelcomeDeliveryFailed, "WELCOME_DELIVERY_FAILED",
		fmt.Sprintf("failed to deliver welcome to %s after retry budget exhausted", pubkey)).
		WithSeverity(SeverityHigh)
}

// ProcessMessageErr reports that the MLS engine refused a message (bad
// sender, bad epoch, authentication failure). This never aborts a fetch
// batch; callers log it and continue.
func ProcessMessageErr(cause error) *AppError {
	return Wrap(cause, KindProcessMessageError, "PROCESS_MESSAGE_ERROR", "MLS rejected message").
		WithSeverity(SeverityLow)
}

// EngineErr reports an internal MLS-library failure (unknown group, state
// corruption). Like ProcessMessageErr, logged and skipped per-event.
func EngineErr(cause error) *AppError {
	return Wrap(cause, KindEngineError, "ENGINE_ERROR", "MLS engine failure").
		WithSeverity(SeverityHigh)
}

// Transport reports a relay publish/query failure.
func Transport(operation string, cause error) *AppError {
	return Wrap(cause, KindTransport, "TRANSPORT_ERROR", fmt.Sprintf("relay %s failed", operation)).
		WithSeverity(SeverityMedium)
}

// Storage reports a disk I/O failure.
func Storage(operation string, cause error) *AppError {
	return Wrap(cause, KindStorage, "STORAGE_ERROR", fmt.Sprintf("storage %s failed", operation)).
		WithSeverity(SeverityHigh)
}

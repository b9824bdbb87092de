package common

// ValidationHelper combines Validator, TagValidator, and ErrorFormatter for convenience
type ValidationHelper struct {
	*Validator
	*TagValidator
	*ErrorFormatter
}

// NewValidationHelper creates a complete validation helper for a NIP
func NewValidationHelper(nipNumber string, eventKind int, eventName string) *ValidationHelper {
	return &ValidationHelper{
		Validator:      NewValidator(nipNumber, eventKind, eventName),
		TagValidator:   NewTagValidator(),
		ErrorFormatter: NewErrorFormatter(nipNumber, eventName),
	}
}

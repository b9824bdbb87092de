package common

import (
	"fmt"

	nostr "github.com/nbd-wtf/go-nostr"
)

// TagValidator provides common tag validation utilities
type TagValidator struct{}

// NewTagValidator creates a new tag validator instance
func NewTagValidator() *TagValidator {
	return &TagValidator{}
}

// ValidateRequiredTag checks if an event has a required tag
func (tv *TagValidator) ValidateRequiredTag(event *nostr.Event, tagName string) error {
	if !tv.HasTag(event, tagName) {
		return fmt.Errorf("missing required '%s' tag", tagName)
	}
	return nil
}

// ValidateRequiredTags checks if an event has all required tags
func (tv *TagValidator) ValidateRequiredTags(event *nostr.Event, tagNames ...string) error {
	for _, tagName := range tagNames {
		if err := tv.ValidateRequiredTag(event, tagName); err != nil {
			return err
		}
	}
	return nil
}

// HasTag checks if an event contains a specific tag
func (tv *TagValidator) HasTag(event *nostr.Event, tagName string) bool {
	for _, tag := range event.Tags {
		if len(tag) > 0 && tag[0] == tagName {
			return true
		}
	}
	return false
}

// GetTagValue returns the first value (tag[1]) for a given tag key, or empty string if not found
func (tv *TagValidator) GetTagValue(event *nostr.Event, tagName string) string {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == tagName {
			return tag[1]
		}
	}
	return ""
}

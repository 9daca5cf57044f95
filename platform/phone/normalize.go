// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when callers pass an empty region.
const DefaultRegion = "US"

// NormalizeE164 formats a phone number to E.164 using region for national numbers.
// If parsing fails, it returns the trimmed input.
func NormalizeE164(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}
	if region == "" {
		region = DefaultRegion
	}

	number, err := phonenumbers.Parse(trimmed, strings.ToUpper(region))
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// NormalizePtr applies NormalizeE164 to an optional value. Blank input becomes nil.
func NormalizePtr(input *string, region string) *string {
	if input == nil {
		return nil
	}
	out := NormalizeE164(*input, region)
	if out == "" {
		return nil
	}
	return &out
}

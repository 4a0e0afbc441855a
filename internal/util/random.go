// Package util provides utility functions for the Frigade SDK.
package util

import (
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

// GuestIDPrefix marks locally generated guest identifiers so they are
// distinguishable from foreign user ids supplied by the host application.
const GuestIDPrefix = "guest_"

// GenerateGuestID generates a fresh guest user identifier.
func GenerateGuestID() string {
	return GuestIDPrefix + uuid.NewString()
}

// IsGuestID reports whether the given user id was locally generated.
func IsGuestID(userID string) bool {
	return strings.HasPrefix(userID, GuestIDPrefix)
}

// GenerateActionID generates a unique identifier for a queued action record.
func GenerateActionID() string {
	return GenerateRandomID("a_", 32)
}

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand; these identifiers are not security-sensitive.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.Intn(16)])
	}

	return builder.String()
}

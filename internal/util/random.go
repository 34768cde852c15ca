// Package util provides identifier helpers shared across components.
package util

import (
	"math/rand/v2"
	"strings"
)

// referenceAlphabet omits characters that are easy to misread over chat (0/O, 1/I/L).
const referenceAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random lowercase hexadecimal string of the specified length.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateReferenceCode generates an upper-case code a customer can read back.
func GenerateReferenceCode(length int) string {
	if length <= 0 {
		return ""
	}

	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(referenceAlphabet[rand.IntN(len(referenceAlphabet))])
	}

	return builder.String()
}

// GenerateBookingReference generates a booking reference such as "RDV-7KQ2MX".
func GenerateBookingReference() string {
	return "RDV-" + GenerateReferenceCode(6)
}

// GenerateLocalMessageID generates a channel message id for sends that never
// leave the process.
func GenerateLocalMessageID() string {
	return GenerateRandomID("local_", 24)
}

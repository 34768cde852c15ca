package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomID(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		hexLength  int
		wantPrefix string
		wantLength int // expected total length: prefix + hexLength
	}{
		{
			name:       "local message ID format",
			prefix:     "local_",
			hexLength:  24,
			wantPrefix: "local_",
			wantLength: 30, // 6 + 24
		},
		{
			name:       "custom prefix",
			prefix:     "test_",
			hexLength:  16,
			wantPrefix: "test_",
			wantLength: 21, // 5 + 16
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomID(tt.prefix, tt.hexLength)

			if !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("GenerateRandomID() = %v, want prefix %v", got, tt.wantPrefix)
			}

			if len(got) != tt.wantLength {
				t.Errorf("GenerateRandomID() length = %v, want %v", len(got), tt.wantLength)
			}

			// Check that the hex part is valid
			hexPart := got[len(tt.wantPrefix):]
			if !isValidHex(hexPart) {
				t.Errorf("GenerateRandomID() hex part = %v is not valid hex", hexPart)
			}
		})
	}
}

func TestGenerateRandomHex(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"zero length", 0, 0},
		{"negative length", -1, 0},
		{"small length", 8, 8},
		{"medium length", 16, 16},
		{"large length", 64, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomHex(tt.length)

			if len(got) != tt.want {
				t.Errorf("GenerateRandomHex() length = %v, want %v", len(got), tt.want)
			}

			if tt.want > 0 && !isValidHex(got) {
				t.Errorf("GenerateRandomHex() = %v is not valid hex", got)
			}
		})
	}
}

func TestGenerateReferenceCode(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"zero length", 0, 0},
		{"negative length", -1, 0},
		{"small length", 6, 6},
		{"large length", 32, 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateReferenceCode(tt.length)

			if len(got) != tt.want {
				t.Errorf("GenerateReferenceCode() length = %v, want %v", len(got), tt.want)
			}

			if strings.ContainsAny(got, "01OIL") {
				t.Errorf("GenerateReferenceCode() = %v contains an ambiguous character", got)
			}
		})
	}
}

func TestGenerateBookingReference(t *testing.T) {
	got := GenerateBookingReference()

	if !strings.HasPrefix(got, "RDV-") {
		t.Errorf("GenerateBookingReference() = %v, want prefix RDV-", got)
	}

	if len(got) != 10 { // "RDV-" + 6 chars
		t.Errorf("GenerateBookingReference() length = %v, want 10", len(got))
	}

	if !isValidReference(got[4:]) {
		t.Errorf("GenerateBookingReference() code part = %v is not upper-case alphanumeric", got[4:])
	}
}

func TestGenerateLocalMessageID(t *testing.T) {
	got := GenerateLocalMessageID()

	if !strings.HasPrefix(got, "local_") {
		t.Errorf("GenerateLocalMessageID() = %v, want prefix local_", got)
	}

	if !isValidHex(got[len("local_"):]) {
		t.Errorf("GenerateLocalMessageID() hex part = %v is not valid hex", got)
	}
}

func TestRandomIDUniqueness(t *testing.T) {
	const iterations = 1000
	seen := make(map[string]bool)

	for i := 0; i < iterations; i++ {
		id := GenerateRandomID("test_", 16)
		if seen[id] {
			t.Errorf("GenerateRandomID() generated duplicate: %v", id)
		}
		seen[id] = true
	}
}

func TestRandomHexUniqueness(t *testing.T) {
	const iterations = 1000
	seen := make(map[string]bool)

	for i := 0; i < iterations; i++ {
		hex := GenerateRandomHex(16)
		if seen[hex] {
			t.Errorf("GenerateRandomHex() generated duplicate: %v", hex)
		}
		seen[hex] = true
	}
}

// Helper function to validate hex strings
func isValidHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// Helper function to validate reference codes
func isValidReference(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z')) {
			return false
		}
	}
	return true
}

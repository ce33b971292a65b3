package peripheral

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// sigBaseSuffix is the Bluetooth SIG base UUID after the 16-bit slot.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// A 0x prefix is stripped, and full 128-bit UUIDs in the Bluetooth SIG base format
// (0000xxxx-0000-1000-8000-00805f9b34fb) are reduced to their 16-bit short form.
// Returns an empty string when the input is not a valid 16-bit or 128-bit UUID.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	if _, err := ble.Parse(u); err != nil {
		return ""
	}

	switch len(u) {
	case 4:
		return u
	case 32:
		if strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
			return u[4:8]
		}
		return u
	default:
		return ""
	}
}

// ParseUUID validates and normalizes a UUID, returning both forms used by the package.
func ParseUUID(uuid string) (string, ble.UUID, error) {
	normalized := NormalizeUUID(uuid)
	if normalized == "" {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidUUID, uuid)
	}
	u, err := ble.Parse(normalized)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %q: %v", ErrInvalidUUID, uuid, err)
	}
	return normalized, u, nil
}

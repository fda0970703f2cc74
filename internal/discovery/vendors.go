// internal/discovery/vendors.go
package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// knownVendors names the USB vendors of Hcom device serial bridges
var knownVendors = map[uint16]string{
	0x2E6A: "Wilderness Labs",
	0x0483: "STMicroelectronics",
}

// VendorName returns the vendor name for a known USB vendor ID
func VendorName(vid uint16) (string, bool) {
	name, ok := knownVendors[vid]
	return name, ok
}

// ParseUSBID parses a hex USB ID with or without a 0x prefix
func ParseUSBID(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid USB ID %q: %w", s, err)
	}
	return uint16(v), nil
}

// FormatUSBID renders a USB ID the way candidates report it
func FormatUSBID(id uint16) string {
	return fmt.Sprintf("0x%04X", id)
}

package device

import (
	"fmt"
	"net"
	"strings"
	"unicode"
)

const maxNameLength = 100

// ValidateDevice checks a device before it is registered and normalises its
// MAC address to lower-case colon form.
//
// Parameters:
//   - d: Device to validate (modified in place)
//
// Returns:
//   - error: wraps ErrInvalidDevice together with the specific reason
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: device is required", ErrInvalidDevice)
	}

	mac, err := NormaliseMAC(d.MACAddress)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}
	d.MACAddress = mac

	d.Name = strings.TrimSpace(d.Name)
	if err := validateName(d.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}

	return nil
}

// NormaliseMAC parses an EUI-48 address in any form net.ParseMAC accepts
// and returns it as "aa:bb:cc:dd:ee:ff".
func NormaliseMAC(s string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMAC, s)
	}
	if len(hw) != 6 { //nolint:mnd // EUI-48 length
		return "", fmt.Errorf("%w: %q is not a 48-bit address", ErrInvalidMAC, s)
	}
	return hw.String(), nil
}

func validateName(name string) error {
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalidName)
		}
	}
	return nil
}

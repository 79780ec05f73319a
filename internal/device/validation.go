package device

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Validation constants.
const (
	maxNameLength    = 100
	maxFamilyLength  = 50
	maxAddressLength = 100
)

// ValidateDevice checks d before it is stored. Names are trimmed in place.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: device is nil", ErrInvalidDevice)
	}
	if d.ID == 0 || d.ID > math.MaxInt64 {
		return fmt.Errorf("%w: id must be between 1 and %d", ErrInvalidDevice, int64(math.MaxInt64))
	}

	d.Name = strings.TrimSpace(d.Name)
	if utf8.RuneCountInString(d.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}
	if utf8.RuneCountInString(d.Family) > maxFamilyLength {
		return fmt.Errorf("%w: family exceeds %d characters", ErrInvalidDevice, maxFamilyLength)
	}
	if len(d.Address) > maxAddressLength {
		return fmt.Errorf("%w: address exceeds %d bytes", ErrInvalidDevice, maxAddressLength)
	}
	return nil
}

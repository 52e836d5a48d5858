// Package macaddr provides a fixed-size, map-key-friendly MAC address type
// shared by the reservation index, the extractor pipeline, and the MAC
// cache.
package macaddr

import (
	"fmt"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

// MAC is a 48-bit hardware address, stored as a fixed-size array so it can
// be used as a map key directly.
type MAC [6]byte

// ErrBadMAC is returned by [ParseMAC] when s isn't a recognized 48-bit MAC
// representation.
const ErrBadMAC errors.Error = "invalid MAC address"

// ParseMAC parses s in either "AA-BB-CC-DD-EE-FF" or "aa:bb:cc:dd:ee:ff"
// form.  Case is ignored; the two separator conventions may not be mixed
// within a single address.
func ParseMAC(s string) (mac MAC, err error) {
	var sep byte
	switch {
	case strings.Contains(s, "-"):
		sep = '-'
	case strings.Contains(s, ":"):
		sep = ':'
	default:
		return mac, fmt.Errorf("%q: %w", s, ErrBadMAC)
	}

	parts := strings.Split(s, string(sep))
	if len(parts) != len(mac) {
		return mac, fmt.Errorf("%q: %w", s, ErrBadMAC)
	}

	for i, p := range parts {
		if len(p) != 2 {
			return mac, fmt.Errorf("%q: %w", s, ErrBadMAC)
		}

		var b byte
		_, err = fmt.Sscanf(p, "%02x", &b)
		if err != nil {
			return mac, fmt.Errorf("%q: %w", s, ErrBadMAC)
		}

		mac[i] = b
	}

	return mac, nil
}

// MACFromBytes converts a 6-byte slice into a MAC.  b must have length 6.
func MACFromBytes(b []byte) (mac MAC, ok bool) {
	if len(b) != 6 {
		return mac, false
	}

	copy(mac[:], b)

	return mac, true
}

// String returns the canonical "AA-BB-CC-DD-EE-FF" representation.
func (m MAC) String() string {
	return fmt.Sprintf("%02X-%02X-%02X-%02X-%02X-%02X", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsZero reports whether m is the all-zero address, used as the sentinel
// for "no MAC".
func (m MAC) IsZero() bool {
	return m == MAC{}
}

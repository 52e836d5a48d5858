// Package reservation holds the reservation data model and the
// hot-swappable index built from it.
package reservation

import (
	"fmt"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/shadowdhcp/shadowdhcpd/internal/macaddr"
)

// Option82 is the relay-agent-information triple carried by DHCPv4 Option
// 82, as configured in reservations.json.  Each field is either absent
// (nil) or a UTF-8 string; the raw sub-option bytes seen on the wire are
// kept separately, in internal/dhcpv4wire's Option82.
type Option82 struct {
	Circuit    *string
	Remote     *string
	Subscriber *string
}

// IsZero reports whether o carries no sub-options at all.
func (o Option82) IsZero() bool {
	return o.Circuit == nil && o.Remote == nil && o.Subscriber == nil
}

// Option1837 is the DHCPv6 relay-inserted Interface-ID (Option 18) and
// Remote-ID (Option 37) triple.
type Option1837 struct {
	Interface        *string
	Remote           *string
	EnterpriseNumber *uint32
}

// IsZero reports whether o carries no sub-options at all.
func (o Option1837) IsZero() bool {
	return o.Interface == nil && o.Remote == nil && o.EnterpriseNumber == nil
}

// Reservation is a single operator-configured client binding.  It is
// immutable after construction; the index built from a set of
// reservations never mutates a Reservation in place.
type Reservation struct {
	// MAC is the client hardware address, used as a DHCPv4 match key and
	// as a DHCPv6 match key too (tried after DUID and Option 18/37, whether
	// or not a DUID is configured).
	MAC *macaddr.MAC

	// DUID is the raw DHCPv6 client identifier bytes, used as a DHCPv6
	// match key.
	DUID []byte

	Option82   *Option82
	Option1837 *Option1837

	IPv4   netip.Addr
	IPv6NA netip.Addr
	IPv6PD netip.Prefix
}

const (
	// ErrMissingIPv4 is returned when a reservation has no IPv4 address.
	ErrMissingIPv4 errors.Error = "ipv4 address is required"
	// ErrMissingIPv6NA is returned when a reservation has no IPv6 NA address.
	ErrMissingIPv6NA errors.Error = "ipv6_na address is required"
	// ErrMissingIPv6PD is returned when a reservation has no IPv6 PD prefix.
	ErrMissingIPv6PD errors.Error = "ipv6_pd prefix is required"
	// ErrNoV4MatchSource is returned when neither mac nor option82 is set.
	ErrNoV4MatchSource errors.Error = "at least one of mac, option82 must be set"
	// ErrNoV6MatchSource is returned when none of duid, option1837, mac,
	// option82 is set.
	ErrNoV6MatchSource errors.Error = "at least one of duid, option1837, mac, option82 must be set"
)

// Validate checks the invariants from spec.md §3: a reservation must carry
// all three addresses, and enough match-key material to be reachable from
// both protocols.
func (r *Reservation) Validate() (err error) {
	var errs []error

	if !r.IPv4.IsValid() {
		errs = append(errs, ErrMissingIPv4)
	}
	if !r.IPv6NA.IsValid() {
		errs = append(errs, ErrMissingIPv6NA)
	}
	if !r.IPv6PD.IsValid() || r.IPv6PD.Bits() < 1 || r.IPv6PD.Bits() > 128 {
		errs = append(errs, ErrMissingIPv6PD)
	}

	hasMAC := r.MAC != nil
	hasOpt82 := r.Option82 != nil && !r.Option82.IsZero()
	hasDUID := len(r.DUID) > 0
	hasOpt1837 := r.Option1837 != nil && !r.Option1837.IsZero()

	if !hasMAC && !hasOpt82 {
		errs = append(errs, ErrNoV4MatchSource)
	}
	if !hasDUID && !hasOpt1837 && !hasMAC && !hasOpt82 {
		errs = append(errs, ErrNoV6MatchSource)
	}

	if len(errs) > 0 {
		return fmt.Errorf("reservation %s: %w", r.describe(), errors.Join(errs...))
	}

	return nil
}

// describe returns a short, loggable identifier for a reservation that may
// not yet be known to be valid.
func (r *Reservation) describe() string {
	switch {
	case r.MAC != nil:
		return r.MAC.String()
	case r.IPv4.IsValid():
		return r.IPv4.String()
	default:
		return "<unidentified>"
	}
}

// Package event builds the per-transaction diagnostic record documented
// in spec.md §4.8/§6: one finite struct per request, serialized as
// newline-delimited JSON for the event sink.
package event

import (
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/shadowdhcp/shadowdhcpd/internal/macaddr"
)

// Protocol identifies which wire codec produced the event.
type Protocol string

const (
	ProtocolV4 Protocol = "v4"
	ProtocolV6 Protocol = "v6"
)

// MatchMethod names which lookup path found the reservation, per spec.md
// §4.6/§4.7.
type MatchMethod string

const (
	MatchMAC        MatchMethod = "mac"
	MatchDUID       MatchMethod = "duid"
	MatchOption82   MatchMethod = "option82"
	MatchOption1837 MatchMethod = "option1837"

	// MatchOption82Cache names the indirect match made through the
	// MAC↔Option82 cache (spec.md §8 scenario 5): a v6 request whose own
	// extractors missed, resolved via a MAC learned from a prior v4
	// success. It is reported as the extractor_used value, not as
	// match_method, since the eventual hit is still a MAC match.
	MatchOption82Cache = "option82_cache"
)

// FailureReason names why a transaction produced no successful reply, per
// spec.md §4.6/§4.7/§7.
type FailureReason string

const (
	FailureNone            FailureReason = ""
	FailureMalformedPacket FailureReason = "MalformedPacket"
	FailureNonRelayed      FailureReason = "NonRelayed"
	FailureRelayLoop       FailureReason = "RelayLoop"
	FailureNoClientID      FailureReason = "NoClientId"
	FailureNoReservation   FailureReason = "NoReservation"
	FailureInvalidSubnet   FailureReason = "InvalidSubnet"
)

// Event is the finite per-transaction record, built from the request, the
// handler's decisions, and the matched reservation (if any). It is
// immutable once built.
type Event struct {
	RequestID     string
	TimestampMs   int64
	Protocol      Protocol
	Success       bool
	FailureReason FailureReason
	MessageType   string
	MatchMethod   MatchMethod
	ExtractorUsed string

	ClientMAC  *macaddr.MAC
	DUID       Bytes
	Option82   Option82Fields
	Option1837 Option1837Fields

	ReservedIPv4   string
	ReservedIPv6NA string
	ReservedIPv6PD string

	GatewayIPAddr string
}

// Bytes is a byte string that serializes to event JSON the way spec.md §8
// requires: as a lowercase colon-separated hex string, unless the bytes
// are non-empty and all printable ASCII (0x20–0x7E), in which case the
// literal string form is used instead — "Option 82 'bytes that are usually ASCII'" per spec.md
// §9's re-architecture note.
type Bytes []byte

// String renders b in its preferred wire form.
func (b Bytes) String() string {
	if len(b) == 0 {
		return ""
	}

	if utf8.Valid(b) && isPrintableASCII(b) {
		return string(b)
	}

	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = hex.EncodeToString([]byte{c})
	}

	return strings.Join(parts, ":")
}

func isPrintableASCII(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return false
		}
	}

	return true
}

// Option82Fields mirrors the decoded RFC 3046 sub-options for event
// diagnostics.
type Option82Fields struct {
	Circuit    Bytes
	Remote     Bytes
	Subscriber Bytes
}

// Option1837Fields mirrors the decoded DHCPv6 Interface-ID/Remote-ID
// sub-options for event diagnostics.
type Option1837Fields struct {
	Interface        Bytes
	Remote           Bytes
	EnterpriseNumber *uint32
}

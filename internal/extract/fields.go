// Package extract implements the named, pure extractor functions that turn
// relay-inserted raw fields into normalized reservation match keys.
//
// Every extractor in this package is a pure function of its input: running
// one twice on the same fields yields byte-identical output, which is the
// determinism property spec.md §8 requires.
package extract

// Option82Fields holds the raw sub-option payloads of a DHCPv4 Option 82
// (Relay Agent Information), as decoded by internal/dhcpv4wire, or as
// derived from a reservation's configured Option82 strings when the
// reservation index is built.  A nil field means the sub-option was absent.
type Option82Fields struct {
	Circuit    []byte
	Remote     []byte
	Subscriber []byte
}

// Option1837Fields holds the raw payloads of the DHCPv6 relay-inserted
// Interface-ID (Option 18) and Remote-ID (Option 37), as decoded by
// internal/dhcpv6wire, or as derived from a reservation's configured
// Option1837 fields when the index is built.
type Option1837Fields struct {
	Interface        []byte
	Remote           []byte
	EnterpriseNumber *uint32
}

// MACFields holds the raw material the DHCPv6 MAC extractors need: the
// Option 79 (Client Link-Layer Address) payload, the outermost relay
// chain's peer-address, and the Client-ID (DUID) bytes.  Any field may be
// nil/zero if the corresponding source wasn't present on the chain.
type MACFields struct {
	// ClientLinkLayerAddr is the raw Option 79 value: 2-byte hardware type
	// followed by the link-layer address.
	ClientLinkLayerAddr []byte

	// PeerAddress is the 16-byte peer-address field of the outermost
	// Relay-Forw envelope.
	PeerAddress []byte

	// DUID is the Client-ID option's raw DUID bytes.
	DUID []byte
}

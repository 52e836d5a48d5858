package extract

import (
	"encoding/binary"

	"github.com/shadowdhcp/shadowdhcpd/internal/macaddr"
)

// MACFn is a named, pure transform from the DHCPv6 relay/client fields to a
// MAC address.  The closed set of these is
// {ClientLinklayerAddress, PeerAddrEui64, Duid}, registered by name in
// [MACExtractorFns]; config's mac_extractors list chooses which of them run
// and in what order, resolved by [ResolveMAC].
type MACFn func(MACFields) (mac macaddr.MAC, ok bool)

// MACExtractorName identifies one of the three fixed MAC extractors, for
// use in config (mac_extractors ordering) and in event diagnostics
// (extractor_used).
type MACExtractorName string

// The fixed set of DHCPv6 MAC extractor names, in spec.md's documented
// default order.
const (
	ClientLinklayerAddress MACExtractorName = "ClientLinklayerAddress"
	PeerAddrEui64          MACExtractorName = "PeerAddrEui64"
	Duid                   MACExtractorName = "Duid"
)

// MACExtractorFns maps the fixed MAC extractor names to their
// implementations.
var MACExtractorFns = map[MACExtractorName]MACFn{
	ClientLinklayerAddress: ExtractClientLinklayerAddress,
	PeerAddrEui64:          ExtractPeerAddrEui64,
	Duid:                   ExtractDuid,
}

// hwTypeEthernet is the DHCPv6/ARP hardware-type code for Ethernet (10Mb),
// used both in DUID link-layer fields (RFC 8415 §11) and in Option 79
// (RFC 6939).
const hwTypeEthernet = 1

// ExtractClientLinklayerAddress reads Option 79 (Client Link-Layer
// Address): a 2-byte hardware type followed by the address itself.  Only
// Ethernet (6-byte) addresses are recognized.
func ExtractClientLinklayerAddress(f MACFields) (mac macaddr.MAC, ok bool) {
	if len(f.ClientLinkLayerAddr) != 2+6 {
		return mac, false
	}

	if binary.BigEndian.Uint16(f.ClientLinkLayerAddr[:2]) != hwTypeEthernet {
		return mac, false
	}

	return macaddr.MACFromBytes(f.ClientLinkLayerAddr[2:])
}

// ExtractPeerAddrEui64 inverts the modified-EUI-64 interface identifier
// carried in the low 64 bits of the outermost Relay-Forw peer-address,
// recovering the original 6-byte MAC.  It requires the well-known 0xFFFE
// filler in the middle of the identifier and flips back the
// universal/local bit that EUI-64 formation sets.
func ExtractPeerAddrEui64(f MACFields) (mac macaddr.MAC, ok bool) {
	if len(f.PeerAddress) != 16 {
		return mac, false
	}

	iid := f.PeerAddress[8:16]
	if iid[3] != 0xFF || iid[4] != 0xFE {
		return mac, false
	}

	mac[0] = iid[0] ^ 0x02
	mac[1] = iid[1]
	mac[2] = iid[2]
	mac[3] = iid[5]
	mac[4] = iid[6]
	mac[5] = iid[7]

	return mac, true
}

// DUID type codes, RFC 8415 §11.
const (
	duidTypeLLT = 1
	duidTypeEN  = 2
	duidTypeLL  = 3
)

// ExtractDuid recovers a MAC from a DUID-LLT or DUID-LL whose link-layer
// type is Ethernet.  DUID-EN (vendor-assigned, no link-layer address) never
// yields a MAC.
func ExtractDuid(f MACFields) (mac macaddr.MAC, ok bool) {
	d := f.DUID
	if len(d) < 4 {
		return mac, false
	}

	duidType := binary.BigEndian.Uint16(d[:2])

	switch duidType {
	case duidTypeLLT:
		// type(2) + hw-type(2) + time(4) + link-layer address.
		if len(d) < 8 {
			return mac, false
		}
		if binary.BigEndian.Uint16(d[2:4]) != hwTypeEthernet {
			return mac, false
		}

		return macaddr.MACFromBytes(d[8:])
	case duidTypeLL:
		// type(2) + hw-type(2) + link-layer address.
		if binary.BigEndian.Uint16(d[2:4]) != hwTypeEthernet {
			return mac, false
		}

		return macaddr.MACFromBytes(d[4:])
	case duidTypeEN:
		return mac, false
	default:
		return mac, false
	}
}

// Package dhcpv6wire implements the DHCPv6 relay envelope and option codec:
// unwrapping a chain of Relay-Forward messages (RFC 8415 §7, RFC 3315),
// extracting the sub-options this server matches reservations on (RFC 4649
// Interface-ID, RFC 4649/RFC 8415 Remote-ID, RFC 6939 Client Link-Layer
// Address), and composing the matching Relay-Reply.
package dhcpv6wire

import (
	"encoding/binary"

	"github.com/AdguardTeam/golibs/errors"
)

// DHCPv6 message types this server cares about (RFC 8415 §7.3).
const (
	MsgSolicit            = 1
	MsgAdvertise          = 2
	MsgRequest            = 3
	MsgConfirm            = 4
	MsgRenew              = 5
	MsgRebind             = 6
	MsgReply              = 7
	MsgRelease            = 8
	MsgDecline            = 9
	MsgReconfigure        = 10
	MsgInformationRequest = 11
	MsgRelayForw          = 12
	MsgRelayRepl          = 13
)

// Option codes this server inspects or emits.
const (
	OptClientID     = 1
	OptServerID     = 2
	OptIANA         = 3
	OptIATA         = 4
	OptIAAddr       = 5
	OptStatusCode   = 13
	OptRelayMessage = 9
	OptInterfaceID  = 18
	OptRemoteID     = 37
	OptIAPD         = 25
	OptIAPrefix     = 26
	OptClientLLAddr = 79

	// OptOption82 is not part of RFC 8415; it names the RFC 3046 Relay
	// Agent Information option code as some relays transplant it
	// verbatim into a DHCPv6 Relay-Forward's option space alongside (or
	// instead of) Interface-ID/Remote-ID. Rare, but legal for this
	// server to recognize since it's just another option TLV.
	OptOption82 = 82
)

// Status codes (RFC 8415 §21.13) this server's replies can carry.
const (
	StatusSuccess      = 0
	StatusNoAddrsAvail = 2
	StatusNoBinding    = 3
	StatusNotOnLink    = 4
)

// DUID types (RFC 8415 §11).
const (
	DUIDTypeLLT = 1
	DUIDTypeEN  = 2
	DUIDTypeLL  = 3
)

// maxRelayHops bounds how many nested Relay-Forward envelopes [Unwrap]
// will peel before giving up.  RFC 8415 doesn't mandate a specific cap;
// this one matches the hop-count field's practical ceiling and guards
// against a malformed or adversarial relay chain spinning the parser
// forever.
const maxRelayHops = 32

// Errors returned while unwrapping or decoding a message.
const (
	ErrMalformed  errors.Error = "malformed dhcpv6 packet"
	ErrRelayLoop  errors.Error = "dhcpv6 relay chain exceeds maximum depth"
	ErrNotRelayed errors.Error = "dhcpv6 message was not relay-forwarded"
)

// RelayLayer is one Relay-Forward envelope peeled off the chain, innermost
// layer excluded (that one is the client message body).
type RelayLayer struct {
	HopCount    byte
	LinkAddr    [16]byte
	PeerAddr    [16]byte
	InterfaceID []byte
	RemoteID    RemoteID

	// Option82 is the raw RFC 3046 relay agent information payload, if
	// this layer carried one under [OptOption82].
	Option82 []byte
}

// RemoteID is RFC 4649's enterprise-number-prefixed remote identifier, as
// attached by a relay under option 37.
type RemoteID struct {
	EnterpriseNumber uint32
	RemoteID         []byte
}

// Present reports whether a Remote-ID option was seen at this layer.
func (r RemoteID) Present() bool {
	return r.RemoteID != nil
}

// ClientMessage is the innermost message the outermost relay is
// ultimately forwarding: its message type, transaction ID, and the raw
// options TLV blob.  Option 79 (Client Link-Layer Address) is a relay
// option and is not part of this blob; see [Unwrapped.ClientLinkLayerAddr].
type ClientMessage struct {
	MessageType   byte
	TransactionID [3]byte
	Options       []byte
}

// Unwrapped is the fully-parsed result of [Unwrap]: every relay layer
// outermost-first, and the client message at the bottom of the chain.
type Unwrapped struct {
	Layers []RelayLayer
	Client ClientMessage

	// ClientLinkLayerAddr is option 79, read from the innermost relay
	// layer's options, if any relay attached one.
	ClientLinkLayerAddr ClientLLAddr
}

// ClientLLAddr is RFC 6939's option 79 payload.
type ClientLLAddr struct {
	HardwareType uint16
	Address      []byte
}

// Present reports whether option 79 was attached to the chain.
func (c ClientLLAddr) Present() bool {
	return c.Address != nil
}

// Unwrap parses raw as a chain of one or more Relay-Forward envelopes
// around a client message.  A message that isn't wrapped in at
// least one Relay-Forward is rejected with [ErrNotRelayed]: this server
// only ever receives packets via relays.
func Unwrap(raw []byte) (u *Unwrapped, err error) {
	u = &Unwrapped{}

	cur := raw
	for depth := 0; ; depth++ {
		if depth > maxRelayHops {
			return nil, ErrRelayLoop
		}

		if len(cur) < 2 {
			return nil, errors.Annotate(ErrMalformed, "%w: truncated header")
		}

		msgType := cur[0]
		if msgType != MsgRelayForw {
			if depth == 0 {
				return nil, ErrNotRelayed
			}

			u.Client, err = parseClientMessage(cur)
			if err != nil {
				return nil, err
			}

			return u, nil
		}

		if len(cur) < 34 {
			return nil, errors.Annotate(ErrMalformed, "%w: truncated relay-forward")
		}

		layer := RelayLayer{HopCount: cur[1]}
		copy(layer.LinkAddr[:], cur[2:18])
		copy(layer.PeerAddr[:], cur[18:34])

		opts := cur[34:]

		relayMsg, ifaceID, remoteID, clientLL, option82, err := scanRelayOptions(opts)
		if err != nil {
			return nil, err
		}

		layer.InterfaceID = ifaceID
		layer.RemoteID = remoteID
		layer.Option82 = option82
		u.Layers = append(u.Layers, layer)

		if clientLL.Present() {
			u.ClientLinkLayerAddr = clientLL
		}

		if relayMsg == nil {
			return nil, errors.Annotate(ErrMalformed, "%w: relay-forward missing relay-message option")
		}

		cur = relayMsg
	}
}

// parseClientMessage reads the message type, transaction ID, and option
// blob of the innermost (non-relay) DHCPv6 message.
func parseClientMessage(raw []byte) (cm ClientMessage, err error) {
	if len(raw) < 4 {
		return cm, errors.Annotate(ErrMalformed, "%w: truncated client message")
	}

	cm.MessageType = raw[0]
	copy(cm.TransactionID[:], raw[1:4])
	cm.Options = raw[4:]

	return cm, nil
}

// scanRelayOptions walks a Relay-Forward's option TLVs, looking for the
// Relay-Message, Interface-ID, Remote-ID, and Client-Link-Layer-Address
// options.  A truncated option list is reported as [ErrMalformed]; an
// unrecognized option code is simply skipped.
func scanRelayOptions(
	opts []byte,
) (relayMessage []byte, interfaceID []byte, remoteID RemoteID, clientLL ClientLLAddr, option82 []byte, err error) {
	for i := 0; i+4 <= len(opts); {
		code := binary.BigEndian.Uint16(opts[i : i+2])
		length := int(binary.BigEndian.Uint16(opts[i+2 : i+4]))
		start := i + 4
		end := start + length

		if end > len(opts) {
			return nil, nil, RemoteID{}, ClientLLAddr{}, nil,
				errors.Annotate(ErrMalformed, "truncated option %d: %w", code)
		}

		value := opts[start:end]

		switch code {
		case OptRelayMessage:
			relayMessage = value
		case OptInterfaceID:
			interfaceID = value
		case OptRemoteID:
			if len(value) >= 4 {
				remoteID = RemoteID{
					EnterpriseNumber: binary.BigEndian.Uint32(value[:4]),
					RemoteID:         value[4:],
				}
			}
		case OptClientLLAddr:
			if len(value) >= 2 {
				clientLL = ClientLLAddr{
					HardwareType: binary.BigEndian.Uint16(value[:2]),
					Address:      value[2:],
				}
			}
		case OptOption82:
			option82 = value
		}

		i = end
	}

	return relayMessage, interfaceID, remoteID, clientLL, option82, nil
}

// Option82 sub-option codes, RFC 3046 §3.
const (
	option82SubCircuitID    = 1
	option82SubRemoteID     = 2
	option82SubSubscriberID = 6
)

// DecodeOption82 walks an RFC 3046 relay agent information sub-option TLV
// sequence the way [OptOption82] carries it when a relay tunnels it into a
// DHCPv6 chain. A sub-option whose length would run past the end of raw is
// ignored rather than treated as fatal, mirroring the DHCPv4 decoder.
func DecodeOption82(raw []byte) (circuit, remote, subscriber []byte) {
	for i := 0; i+2 <= len(raw); {
		code := raw[i]
		length := int(raw[i+1])
		start := i + 2
		end := start + length

		if end > len(raw) {
			break
		}

		value := raw[start:end]
		switch code {
		case option82SubCircuitID:
			circuit = value
		case option82SubRemoteID:
			remote = value
		case option82SubSubscriberID:
			subscriber = value
		}

		i = end
	}

	return circuit, remote, subscriber
}

// GetOption returns the value of code in a client message's option blob.
// When code occurs more than once, the values of every occurrence are
// concatenated in order, RFC 3396 style.
func GetOption(opts []byte, code uint16) (value []byte, ok bool) {
	for i := 0; i+4 <= len(opts); {
		c := binary.BigEndian.Uint16(opts[i : i+2])
		length := int(binary.BigEndian.Uint16(opts[i+2 : i+4]))
		start := i + 4
		end := start + length

		if end > len(opts) {
			return nil, false
		}

		if c == code {
			value = append(value, opts[start:end]...)
			ok = true
		}

		i = end
	}

	return value, ok
}

// DUID identifies the parsed contents of a client-supplied DUID (option
// 1/2), to the extent this server cares: its type and, for LL/LLT DUIDs,
// the embedded link-layer address.
type DUID struct {
	Type      uint16
	LinkLayer []byte
	Raw       []byte
}

// ParseDUID decodes raw per RFC 8415 §11.  EN-type DUIDs (type 2) carry no
// link-layer address and are returned with LinkLayer left nil.
func ParseDUID(raw []byte) (d DUID, ok bool) {
	if len(raw) < 2 {
		return DUID{}, false
	}

	d.Raw = raw
	d.Type = binary.BigEndian.Uint16(raw[:2])

	switch d.Type {
	case DUIDTypeLLT:
		if len(raw) < 8 {
			return DUID{}, false
		}

		d.LinkLayer = raw[8:]
	case DUIDTypeLL:
		if len(raw) < 4 {
			return DUID{}, false
		}

		d.LinkLayer = raw[4:]
	case DUIDTypeEN:
		// No link-layer address to extract.
	default:
		return DUID{}, false
	}

	return d, true
}

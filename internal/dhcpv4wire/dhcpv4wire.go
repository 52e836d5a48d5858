// Package dhcpv4wire implements the DHCPv4 wire codec: decoding a
// relay-forwarded request into the fields the reservation pipeline needs,
// and encoding the matching reply (RFC 2131, RFC 2132, RFC 3046, RFC 3396).
package dhcpv4wire

import (
	"net"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/insomniacslk/dhcp/dhcpv4"
)

// Errors returned by [Decode]; these name the reason a transaction was
// dropped before any reservation lookup happened.
const (
	// ErrMalformed means the buffer is too short, has a bad magic cookie, or
	// otherwise fails to parse as a DHCPv4 message.
	ErrMalformed errors.Error = "malformed dhcpv4 packet"

	// ErrNonRelayed means the packet's giaddr is 0.0.0.0.  This server is
	// relay-only: it never listens for client broadcasts directly, so a
	// zero giaddr means the packet did not arrive through a relay and must
	// be dropped.
	ErrNonRelayed errors.Error = "dhcpv4 packet is not relay-forwarded"
)

// relayAgentInformationOption is RFC 3046's option 82.  insomniacslk/dhcp
// names most options as dhcpv4.OptionXxx constants; this one is spelled out
// here too since the sub-option parse below is hand-written rather than
// delegated to the library's own (unavailable in this environment) relay
// options helper.
const relayAgentInformationOption = dhcpv4.GenericOptionCode(82)

const (
	subOptCircuitID    = 1
	subOptRemoteID     = 2
	subOptSubscriberID = 6
)

// Request is the decoded, reservation-relevant subset of an inbound DHCPv4
// message.
type Request struct {
	// Raw is the parsed message, kept so [BuildReply] can mirror header
	// fields the caller doesn't otherwise need to inspect.
	Raw *dhcpv4.DHCPv4

	// ClientHWAddr is the chaddr field.
	ClientHWAddr net.HardwareAddr

	// GatewayIPAddr is the giaddr field, guaranteed non-zero by [Decode].
	GatewayIPAddr netip.Addr

	// MessageType is the parsed DHCP message type option (53).
	MessageType dhcpv4.MessageType

	// ServerID is the parsed server identifier option (54), the zero
	// [netip.Addr] if absent.
	ServerID netip.Addr

	// Option82 is the relay agent information option (82), if present.
	Option82 Option82

	// ParameterRequestList is the option 55 code list as the client sent
	// it.  [BuildReply] does not consult it: the reply's option set comes
	// from [ReplyParams] alone.
	ParameterRequestList []dhcpv4.OptionCode
}

// Option82 holds the decoded RFC 3046 relay agent information sub-options
// this server understands.  A nil field means the sub-option was absent.
type Option82 struct {
	Circuit    []byte
	Remote     []byte
	Subscriber []byte

	// raw is the verbatim option-82 payload, kept so a reply can echo it
	// back unmodified as RFC 3046 requires.
	raw []byte
}

// Present reports whether any relay agent information was attached.
func (o Option82) Present() bool {
	return len(o.raw) > 0
}

// Decode parses raw into a Request, applying the relay-only policy: a
// message whose giaddr is 0.0.0.0 is rejected with [ErrNonRelayed] before
// any reservation matching is attempted.
func Decode(raw []byte) (req *Request, err error) {
	msg, err := dhcpv4.FromBytes(raw)
	if err != nil {
		return nil, errors.Annotate(err, "%w: %s", ErrMalformed)
	}

	giaddr, ok := netip.AddrFromSlice(msg.GatewayIPAddr.To4())
	if !ok || giaddr.IsUnspecified() {
		return nil, ErrNonRelayed
	}

	var serverID netip.Addr
	if sid := msg.ServerIdentifier(); sid != nil {
		if addr, ok := netip.AddrFromSlice(sid.To4()); ok {
			serverID = addr
		}
	}

	return &Request{
		Raw:                  msg,
		ClientHWAddr:         msg.ClientHWAddr,
		GatewayIPAddr:        giaddr,
		MessageType:          msg.MessageType(),
		ServerID:             serverID,
		Option82:             decodeOption82(msg.Options.Get(relayAgentInformationOption)),
		ParameterRequestList: msg.ParameterRequestList(),
	}, nil
}

// decodeOption82 walks the RFC 3046 sub-option TLV sequence.  A sub-option
// with a length byte that would run past the end of raw is ignored rather
// than treated as fatal: RFC 3046 compliance is the relay's responsibility,
// and a single bad sub-option shouldn't take down the rest of the option.
func decodeOption82(raw []byte) (o Option82) {
	if len(raw) == 0 {
		return Option82{}
	}

	o.raw = raw

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
		case subOptCircuitID:
			o.Circuit = value
		case subOptRemoteID:
			o.Remote = value
		case subOptSubscriberID:
			o.Subscriber = value
		}

		i = end
	}

	return o
}

// ReplyParams carries the fields [BuildReply] needs beyond what's already
// on the request: the lease values a matched reservation provides and the
// implicit/explicit option set the caller wants echoed.
type ReplyParams struct {
	MessageType   dhcpv4.MessageType
	YourIPAddr    netip.Addr
	SubnetMask    net.IPMask
	Routers       []net.IP
	DNSServers    []net.IP
	ServerID      netip.Addr
	LeaseTime     time.Duration
	RenewalTime   time.Duration
	RebindingTime time.Duration
	EchoOption82  bool
}

// BuildReply constructs the reply to req per RFC 2131 §4.3.1: xid, chaddr,
// flags, and giaddr are mirrored from the request, yiaddr and the option
// set come from params, and a present option 82 is echoed back verbatim
// (RFC 3046 §2.1 requires relays see their own option 82 unmodified on the
// way back, regardless of whether it fed a match).
func BuildReply(req *Request, params ReplyParams) (*dhcpv4.DHCPv4, error) {
	resp, err := dhcpv4.NewReplyFromRequest(req.Raw)
	if err != nil {
		return nil, errors.Annotate(err, "building dhcpv4 reply: %w")
	}

	resp.UpdateOption(dhcpv4.OptMessageType(params.MessageType))

	if params.YourIPAddr.IsValid() {
		resp.YourIPAddr = params.YourIPAddr.AsSlice()
	}

	if params.ServerID.IsValid() {
		resp.UpdateOption(dhcpv4.OptServerIdentifier(params.ServerID.AsSlice()))
	}

	if params.SubnetMask != nil {
		resp.UpdateOption(dhcpv4.OptSubnetMask(params.SubnetMask))
	}

	if len(params.Routers) > 0 {
		resp.UpdateOption(dhcpv4.OptRouter(params.Routers...))
	}

	if len(params.DNSServers) > 0 {
		resp.UpdateOption(dhcpv4.OptDNS(params.DNSServers...))
	}

	if params.LeaseTime > 0 {
		resp.UpdateOption(dhcpv4.OptIPAddressLeaseTime(params.LeaseTime))
	}

	if params.RenewalTime > 0 {
		resp.UpdateOption(dhcpv4.OptRenewTimeValue(params.RenewalTime))
	}

	if params.RebindingTime > 0 {
		resp.UpdateOption(dhcpv4.OptRebindingTimeValue(params.RebindingTime))
	}

	if params.EchoOption82 && req.Option82.Present() {
		resp.UpdateOption(dhcpv4.OptGeneric(relayAgentInformationOption, req.Option82.raw))
	}

	return resp, nil
}

// ToBytes serializes resp for transmission back to the relay at req's
// giaddr.
func ToBytes(resp *dhcpv4.DHCPv4) []byte {
	return resp.ToBytes()
}

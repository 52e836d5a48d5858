// Package v4server implements the DHCPv4 request handler (C6): decode,
// classify, match against the reservation index, compose a reply, and
// emit a diagnostic event, per spec.md §4.6.
package v4server

import (
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/uuid"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/shadowdhcp/shadowdhcpd/internal/config"
	"github.com/shadowdhcp/shadowdhcpd/internal/dhcpv4wire"
	"github.com/shadowdhcp/shadowdhcpd/internal/event"
	"github.com/shadowdhcp/shadowdhcpd/internal/extract"
	"github.com/shadowdhcp/shadowdhcpd/internal/maccache"
	"github.com/shadowdhcp/shadowdhcpd/internal/macaddr"
	"github.com/shadowdhcp/shadowdhcpd/internal/reservation"
)

// LeaseTime, RenewalTime (T1), and RebindingTime (T2) are the fixed
// values spec.md §4.1 specifies: 86400s lease, with T1/T2 as fractions
// of it.
const (
	LeaseTime     = 24 * time.Hour
	RenewalTime   = LeaseTime / 2
	RebindingTime = LeaseTime * 7 / 8
)

// Handler processes decoded DHCPv4 requests against a reservation
// snapshot, emitting events and populating the MAC↔Option82 cache on
// success. It holds no per-client state between calls.
type Handler struct {
	Store      *reservation.Store
	Cache      *maccache.Cache
	Extractors reservation.Extractors
	Subnets    []*config.Subnet
	ServerID   netip.Addr
	DNSServers []netip.Addr
	Sink       *event.Sink
	Logger     *slog.Logger
}

// Handle decodes raw, matches it against the current reservation
// snapshot, and returns the reply bytes, or nil if no reply should be
// sent. Handle does not choose the destination: internal/server writes
// the reply to the source address of the request datagram, which is not
// necessarily giaddr:67. now is the wall-clock
// time of receipt, passed in rather than read internally so tests are
// deterministic.
func (h *Handler) Handle(raw []byte, now time.Time) (reply []byte) {
	requestID := uuid.NewString()

	req, err := dhcpv4wire.Decode(raw)
	if err != nil {
		h.emitDecodeFailure(requestID, now, err)

		return nil
	}

	switch req.MessageType {
	case dhcpv4.MessageTypeDiscover, dhcpv4.MessageTypeInform,
		dhcpv4.MessageTypeDecline, dhcpv4.MessageTypeRelease:
		// Go on.
	case dhcpv4.MessageTypeRequest:
		if req.ServerID.IsValid() && req.ServerID != h.ServerID {
			// Addressed to a different server: drop silently per
			// spec.md §4.6 step 2.
			return nil
		}
	default:
		return nil
	}

	idx := h.Store.Load()

	r, matchMethod, extractorUsed, ok := h.match(req, idx)
	if !ok {
		h.emit(requestID, now, req, false, event.FailureNoReservation, "", "", nil)

		return nil
	}

	subnet := selectSubnet(h.Subnets, r.IPv4)
	if subnet == nil {
		h.emit(requestID, now, req, false, event.FailureInvalidSubnet, matchMethod, extractorUsed, r)

		return nil
	}

	switch req.MessageType {
	case dhcpv4.MessageTypeDecline, dhcpv4.MessageTypeRelease:
		// Acknowledged with no state change and no reply; still emit a
		// success event so operators can see the transaction happened.
		h.emit(requestID, now, req, true, event.FailureNone, matchMethod, extractorUsed, r)
		h.maybeCache(req, now)

		return nil
	}

	msgType := dhcpv4.MessageTypeOffer
	configOnly := false
	switch req.MessageType {
	case dhcpv4.MessageTypeRequest:
		msgType = dhcpv4.MessageTypeAck
	case dhcpv4.MessageTypeInform:
		// RFC 2131 §4.3.5: yiaddr and lease times are omitted; the client
		// already has an address and only wants the rest of the config.
		msgType = dhcpv4.MessageTypeAck
		configOnly = true
	}

	resp, err := dhcpv4wire.BuildReply(req, h.replyParams(msgType, r, subnet, configOnly))
	if err != nil {
		h.Logger.Error("building dhcpv4 reply", slogutil.KeyError, err)

		return nil
	}

	h.emit(requestID, now, req, true, event.FailureNone, matchMethod, extractorUsed, r)
	h.maybeCache(req, now)

	return dhcpv4wire.ToBytes(resp)
}

// match runs the lookup order spec.md §4.6 step 4 specifies: MAC first,
// then the configured Option 82 extractors in order.
func (h *Handler) match(
	req *dhcpv4wire.Request,
	idx *reservation.Index,
) (r *reservation.Reservation, matchMethod event.MatchMethod, extractorUsed string, ok bool) {
	if mac, macOK := macaddr.MACFromBytes(req.ClientHWAddr); macOK {
		if r, ok = idx.LookupMAC(mac); ok {
			return r, event.MatchMAC, "", true
		}
	}

	fields := extract.Option82Fields{
		Circuit:    req.Option82.Circuit,
		Remote:     req.Option82.Remote,
		Subscriber: req.Option82.Subscriber,
	}

	r, extractorUsed, ok = idx.LookupOption82(fields, h.Extractors.Option82)
	if ok {
		return r, event.MatchOption82, extractorUsed, true
	}

	return nil, "", "", false
}

// maybeCache inserts/refreshes a MacBinding when both a usable MAC and
// Option 82 were present on a successful v4 transaction, per spec.md
// §4.5/§4.6 step 7.
func (h *Handler) maybeCache(req *dhcpv4wire.Request, now time.Time) {
	mac, ok := macaddr.MACFromBytes(req.ClientHWAddr)
	if !ok || !req.Option82.Present() {
		return
	}

	h.Cache.Put(mac, maccache.Option82Triple{
		Circuit:    string(req.Option82.Circuit),
		Remote:     string(req.Option82.Remote),
		Subscriber: string(req.Option82.Subscriber),
	}, now)
}

// replyParams derives the option set for a successful reply from the
// matched reservation and subnet, per spec.md §4.1.
func (h *Handler) replyParams(
	msgType dhcpv4.MessageType,
	r *reservation.Reservation,
	subnet *config.Subnet,
	configOnly bool,
) dhcpv4wire.ReplyParams {
	maskLen := subnet.CIDR.Bits()
	if subnet.ReplyPrefixLen != nil {
		maskLen = *subnet.ReplyPrefixLen
	}

	dnsServers := make([]net.IP, 0, len(h.DNSServers))
	for _, a := range h.DNSServers {
		dnsServers = append(dnsServers, a.AsSlice())
	}

	params := dhcpv4wire.ReplyParams{
		MessageType:  msgType,
		SubnetMask:   net.CIDRMask(maskLen, 32),
		Routers:      []net.IP{subnet.Gateway.AsSlice()},
		DNSServers:   dnsServers,
		ServerID:     h.ServerID,
		EchoOption82: true,
	}

	if !configOnly {
		params.YourIPAddr = r.IPv4
		params.LeaseTime = LeaseTime
		params.RenewalTime = RenewalTime
		params.RebindingTime = RebindingTime
	}

	return params
}

// selectSubnet finds the subnet containing ip via CIDR containment, per
// spec.md §4.6 step 5.
func selectSubnet(subnets []*config.Subnet, ip netip.Addr) *config.Subnet {
	for _, s := range subnets {
		if s.CIDR.Contains(ip) {
			return s
		}
	}

	return nil
}

func (h *Handler) emitDecodeFailure(requestID string, now time.Time, err error) {
	reason := event.FailureMalformedPacket
	if err == dhcpv4wire.ErrNonRelayed {
		reason = event.FailureNonRelayed
	}

	h.Sink.Emit(event.Event{
		RequestID:     requestID,
		TimestampMs:   now.UnixMilli(),
		Protocol:      event.ProtocolV4,
		Success:       false,
		FailureReason: reason,
	})
}

func (h *Handler) emit(
	requestID string,
	now time.Time,
	req *dhcpv4wire.Request,
	success bool,
	reason event.FailureReason,
	matchMethod event.MatchMethod,
	extractorUsed string,
	r *reservation.Reservation,
) {
	mac, ok := macaddr.MACFromBytes(req.ClientHWAddr)

	e := event.Event{
		RequestID:     requestID,
		TimestampMs:   now.UnixMilli(),
		Protocol:      event.ProtocolV4,
		Success:       success,
		FailureReason: reason,
		MessageType:   req.MessageType.String(),
		MatchMethod:   matchMethod,
		ExtractorUsed: extractorUsed,
		GatewayIPAddr: req.GatewayIPAddr.String(),
		Option82: event.Option82Fields{
			Circuit:    event.Bytes(req.Option82.Circuit),
			Remote:     event.Bytes(req.Option82.Remote),
			Subscriber: event.Bytes(req.Option82.Subscriber),
		},
	}

	if ok {
		e.ClientMAC = &mac
	}

	if r != nil {
		e.ReservedIPv4 = r.IPv4.String()
		e.ReservedIPv6NA = r.IPv6NA.String()
		e.ReservedIPv6PD = r.IPv6PD.String()
	}

	h.Sink.Emit(e)
}

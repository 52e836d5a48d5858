// Package v6server implements the DHCPv6 request handler (C7): unwrap the
// relay chain, extract a Client-ID and candidate match keys, match against
// the reservation index (falling back through the MAC↔Option82 cache), and
// compose the Relay-Reply chain, per spec.md §4.2/§4.7.
package v6server

import (
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shadowdhcp/shadowdhcpd/internal/dhcpv6wire"
	"github.com/shadowdhcp/shadowdhcpd/internal/event"
	"github.com/shadowdhcp/shadowdhcpd/internal/extract"
	"github.com/shadowdhcp/shadowdhcpd/internal/maccache"
	"github.com/shadowdhcp/shadowdhcpd/internal/macaddr"
	"github.com/shadowdhcp/shadowdhcpd/internal/reservation"
)

// PreferredLifetime and ValidLifetime are the fixed IA Address/IA Prefix
// lifetimes spec.md §4.2 specifies. T1/T2 follow the same halves/eighths
// split internal/v4server uses for its lease timers.
const (
	PreferredLifetime = 604800
	ValidLifetime     = 2592000
)

const (
	iaT1 = PreferredLifetime / 2
	iaT2 = PreferredLifetime * 7 / 8
)

// Handler processes decoded, unwrapped DHCPv6 requests against a
// reservation snapshot. It holds no per-client state between calls.
type Handler struct {
	Store *reservation.Store
	Cache *maccache.Cache

	Option1837Extractors []extract.NamedOption1837Fn
	Option82Extractors   []extract.NamedOption82Fn
	MACExtractors        []extract.NamedMACFn

	// ServerDUID is the raw DUID bytes advertised as option 2 (Server-ID)
	// on every reply, loaded from ids.json's v6 field.
	ServerDUID []byte

	Sink   *event.Sink
	Logger *slog.Logger
}

// Handle unwraps raw, matches it against the current reservation snapshot,
// and returns the Relay-Reply bytes to send back to the outermost relay, or
// nil if no reply should be sent. now is the wall-clock time of receipt.
func (h *Handler) Handle(raw []byte, now time.Time) (reply []byte) {
	requestID := uuid.NewString()

	u, err := dhcpv6wire.Unwrap(raw)
	if err != nil {
		h.emitDecodeFailure(requestID, now, err)

		return nil
	}

	switch u.Client.MessageType {
	case dhcpv6wire.MsgSolicit, dhcpv6wire.MsgRequest, dhcpv6wire.MsgConfirm,
		dhcpv6wire.MsgRenew, dhcpv6wire.MsgRebind, dhcpv6wire.MsgRelease, dhcpv6wire.MsgDecline:
		// Go on.
	default:
		return nil
	}

	clientID, hasClientID := dhcpv6wire.GetOption(u.Client.Options, dhcpv6wire.OptClientID)
	if !hasClientID {
		h.Sink.Emit(event.Event{
			RequestID:     requestID,
			TimestampMs:   now.UnixMilli(),
			Protocol:      event.ProtocolV6,
			Success:       false,
			FailureReason: event.FailureNoClientID,
			MessageType:   messageTypeName(u.Client.MessageType),
		})

		return nil
	}

	f := buildFields(u, clientID)

	idx := h.Store.Load()
	r, matchMethod, extractorUsed, ok := h.match(f, idx)

	iaNAIAID := containerIAID(u.Client.Options, dhcpv6wire.OptIANA)
	iaPDIAID := containerIAID(u.Client.Options, dhcpv6wire.OptIAPD)

	switch u.Client.MessageType {
	case dhcpv6wire.MsgRelease, dhcpv6wire.MsgDecline:
		h.emit(requestID, now, u, f, true, event.FailureNone, matchMethod, extractorUsed, r)

		return h.wrap(u, dhcpv6wire.BuildClientMessage(
			dhcpv6wire.MsgReply, u.Client.TransactionID,
			(&dhcpv6wire.OptionBuilder{}).
				Add(dhcpv6wire.OptClientID, clientID).
				Add(dhcpv6wire.OptServerID, h.ServerDUID).
				Add(dhcpv6wire.OptStatusCode, dhcpv6wire.StatusCode(dhcpv6wire.StatusSuccess, "")).
				Bytes(),
		))
	}

	if !ok {
		reason := event.FailureNoReservation
		h.emit(requestID, now, u, f, false, reason, matchMethod, extractorUsed, nil)

		return h.wrap(u, h.buildFailureReply(u, clientID, iaNAIAID, iaPDIAID))
	}

	h.emit(requestID, now, u, f, true, event.FailureNone, matchMethod, extractorUsed, r)

	msgType := byte(dhcpv6wire.MsgReply)
	if u.Client.MessageType == dhcpv6wire.MsgSolicit {
		msgType = dhcpv6wire.MsgAdvertise
	}

	return h.wrap(u, h.buildSuccessReply(u, clientID, msgType, iaNAIAID, iaPDIAID, r))
}

// matchFields bundles every candidate match key [Handler.match] considers,
// built once per request from the unwrapped chain.
type matchFields struct {
	duid        []byte
	mac         extract.MACFields
	option1837  extract.Option1837Fields
	option82    extract.Option82Fields
	hasOption82 bool
}

func buildFields(u *dhcpv6wire.Unwrapped, clientID []byte) matchFields {
	f := matchFields{duid: clientID}

	outer := u.Layers[0]
	inner := u.Layers[len(u.Layers)-1]

	if u.ClientLinkLayerAddr.Present() {
		cll := make([]byte, 2+len(u.ClientLinkLayerAddr.Address))
		binary.BigEndian.PutUint16(cll[:2], u.ClientLinkLayerAddr.HardwareType)
		copy(cll[2:], u.ClientLinkLayerAddr.Address)
		f.mac.ClientLinkLayerAddr = cll
	}

	peer := outer.PeerAddr
	f.mac.PeerAddress = peer[:]
	f.mac.DUID = clientID

	f.option1837.Interface = inner.InterfaceID
	if inner.RemoteID.Present() {
		f.option1837.Remote = inner.RemoteID.RemoteID
		enterprise := inner.RemoteID.EnterpriseNumber
		f.option1837.EnterpriseNumber = &enterprise
	}

	if inner.Option82 != nil {
		circuit, remote, subscriber := dhcpv6wire.DecodeOption82(inner.Option82)
		f.option82 = extract.Option82Fields{Circuit: circuit, Remote: remote, Subscriber: subscriber}
		f.hasOption82 = circuit != nil || remote != nil || subscriber != nil
	}

	return f
}

// match runs the lookup order spec.md §4.7 step 5 specifies: DUID, then
// the configured Option 18/37 extractors, then the MAC extractors (first
// to produce a MAC wins extraction, independent of whether it matches),
// then the Option 82 extractors against a tunneled option 82 (rare), then
// an indirect MAC recovered from the v4-populated MAC↔Option82 cache.
func (h *Handler) match(
	f matchFields,
	idx *reservation.Index,
) (r *reservation.Reservation, matchMethod event.MatchMethod, extractorUsed string, ok bool) {
	if len(f.duid) > 0 {
		if r, ok = idx.LookupDUID(f.duid); ok {
			return r, event.MatchDUID, "", true
		}
	}

	if r, extractorUsed, ok = idx.LookupOption1837(f.option1837, h.Option1837Extractors); ok {
		return r, event.MatchOption1837, extractorUsed, true
	}

	if mac, name, macOK := h.extractMAC(f.mac); macOK {
		if r, ok = idx.LookupMAC(mac); ok {
			return r, event.MatchMAC, name, true
		}
	}

	if f.hasOption82 {
		if r, extractorUsed, ok = idx.LookupOption82(f.option82, h.Option82Extractors); ok {
			return r, event.MatchOption82, extractorUsed, true
		}

		triple := maccache.Option82Triple{
			Circuit:    string(f.option82.Circuit),
			Remote:     string(f.option82.Remote),
			Subscriber: string(f.option82.Subscriber),
		}

		if mac, cacheOK := h.Cache.LookupByOption82(triple); cacheOK {
			if r, ok = idx.LookupMAC(mac); ok {
				return r, event.MatchMAC, event.MatchOption82Cache, true
			}
		}
	}

	return nil, "", "", false
}

// extractMAC runs the fixed, configured-order MAC extractors, returning the
// first one that successfully produces a MAC — extraction success, not
// reservation-match success, decides the winner (spec.md §4.3).
func (h *Handler) extractMAC(f extract.MACFields) (mac macaddr.MAC, name string, ok bool) {
	for _, e := range h.MACExtractors {
		if mac, ok = e.Fn(f); ok {
			return mac, string(e.Name), true
		}
	}

	return mac, "", false
}

// buildSuccessReply composes the Advertise/Reply payload for a matched
// reservation: echoed Client-ID, Server-ID, and IA_NA/IA_PD containers
// carrying the reserved address and prefix.
func (h *Handler) buildSuccessReply(
	u *dhcpv6wire.Unwrapped,
	clientID []byte,
	msgType byte,
	iaNAIAID, iaPDIAID uint32,
	r *reservation.Reservation,
) []byte {
	na := r.IPv6NA.As16()
	iaAddr := dhcpv6wire.IAAddr(na, PreferredLifetime, ValidLifetime)
	ianaOpt := dhcpv6wire.IANA(iaNAIAID, iaT1, iaT2, iaAddr)

	pd := r.IPv6PD.Addr().As16()
	iaPrefix := dhcpv6wire.IAPrefix(byte(r.IPv6PD.Bits()), pd, PreferredLifetime, ValidLifetime)
	iapdOpt := dhcpv6wire.IAPD(iaPDIAID, iaT1, iaT2, iaPrefix)

	opts := (&dhcpv6wire.OptionBuilder{}).
		Add(dhcpv6wire.OptClientID, clientID).
		Add(dhcpv6wire.OptServerID, h.ServerDUID).
		Add(dhcpv6wire.OptIANA, ianaOpt).
		Add(dhcpv6wire.OptIAPD, iapdOpt)

	return dhcpv6wire.BuildClientMessage(msgType, u.Client.TransactionID, opts.Bytes())
}

// buildFailureReply composes the reservation-miss reply spec.md §4.7 step 6
// describes: Confirm gets a top-level NotOnLink; Renew/Rebind get their
// requested IA echoed back with a NoBinding status; everything else
// (Solicit/Request) gets the IA echoed back with NoAddrsAvail.
func (h *Handler) buildFailureReply(
	u *dhcpv6wire.Unwrapped,
	clientID []byte,
	iaNAIAID, iaPDIAID uint32,
) []byte {
	if u.Client.MessageType == dhcpv6wire.MsgConfirm {
		opts := (&dhcpv6wire.OptionBuilder{}).
			Add(dhcpv6wire.OptClientID, clientID).
			Add(dhcpv6wire.OptServerID, h.ServerDUID).
			Add(dhcpv6wire.OptStatusCode, dhcpv6wire.StatusCode(dhcpv6wire.StatusNotOnLink, "no reservation"))

		return dhcpv6wire.BuildClientMessage(dhcpv6wire.MsgReply, u.Client.TransactionID, opts.Bytes())
	}

	status := dhcpv6wire.StatusCode(dhcpv6wire.StatusNoAddrsAvail, "no reservation")
	if u.Client.MessageType == dhcpv6wire.MsgRenew || u.Client.MessageType == dhcpv6wire.MsgRebind {
		status = dhcpv6wire.StatusCode(dhcpv6wire.StatusNoBinding, "no reservation")
	}

	msgType := byte(dhcpv6wire.MsgReply)
	if u.Client.MessageType == dhcpv6wire.MsgSolicit {
		msgType = dhcpv6wire.MsgAdvertise
	}

	ianaOpt := dhcpv6wire.IANA(iaNAIAID, 0, 0, status)
	iapdOpt := dhcpv6wire.IAPD(iaPDIAID, 0, 0, status)

	opts := (&dhcpv6wire.OptionBuilder{}).
		Add(dhcpv6wire.OptClientID, clientID).
		Add(dhcpv6wire.OptServerID, h.ServerDUID).
		Add(dhcpv6wire.OptIANA, ianaOpt).
		Add(dhcpv6wire.OptIAPD, iapdOpt)

	return dhcpv6wire.BuildClientMessage(msgType, u.Client.TransactionID, opts.Bytes())
}

// wrap re-wraps payload in a Relay-Reply envelope per relay layer, walking
// innermost-first as [dhcpv6wire.WrapRelayRepl] documents.
func (h *Handler) wrap(u *dhcpv6wire.Unwrapped, payload []byte) []byte {
	wrapped := payload
	for i := len(u.Layers) - 1; i >= 0; i-- {
		wrapped = dhcpv6wire.WrapRelayRepl(u.Layers[i], wrapped)
	}

	return wrapped
}

// containerIAID returns the IAID of the named IA_NA/IA_PD container option
// if present in opts, else 0, per spec.md §4.2's "mirror it, else use 0".
func containerIAID(opts []byte, code uint16) uint32 {
	container, ok := dhcpv6wire.GetOption(opts, code)
	if !ok || len(container) < 4 {
		return 0
	}

	return binary.BigEndian.Uint32(container[:4])
}

func (h *Handler) emitDecodeFailure(requestID string, now time.Time, err error) {
	reason := event.FailureMalformedPacket
	switch err {
	case dhcpv6wire.ErrNotRelayed:
		reason = event.FailureNonRelayed
	case dhcpv6wire.ErrRelayLoop:
		reason = event.FailureRelayLoop
	}

	h.Sink.Emit(event.Event{
		RequestID:     requestID,
		TimestampMs:   now.UnixMilli(),
		Protocol:      event.ProtocolV6,
		Success:       false,
		FailureReason: reason,
	})
}

func (h *Handler) emit(
	requestID string,
	now time.Time,
	u *dhcpv6wire.Unwrapped,
	f matchFields,
	success bool,
	reason event.FailureReason,
	matchMethod event.MatchMethod,
	extractorUsed string,
	r *reservation.Reservation,
) {
	e := event.Event{
		RequestID:     requestID,
		TimestampMs:   now.UnixMilli(),
		Protocol:      event.ProtocolV6,
		Success:       success,
		FailureReason: reason,
		MessageType:   messageTypeName(u.Client.MessageType),
		MatchMethod:   matchMethod,
		ExtractorUsed: extractorUsed,
		DUID:          event.Bytes(f.duid),
		Option1837: event.Option1837Fields{
			Interface:        event.Bytes(f.option1837.Interface),
			Remote:           event.Bytes(f.option1837.Remote),
			EnterpriseNumber: f.option1837.EnterpriseNumber,
		},
		Option82: event.Option82Fields{
			Circuit:    event.Bytes(f.option82.Circuit),
			Remote:     event.Bytes(f.option82.Remote),
			Subscriber: event.Bytes(f.option82.Subscriber),
		},
	}

	if mac, _, ok := h.extractMAC(f.mac); ok {
		e.ClientMAC = &mac
	}

	if r != nil {
		e.ReservedIPv4 = r.IPv4.String()
		e.ReservedIPv6NA = r.IPv6NA.String()
		e.ReservedIPv6PD = r.IPv6PD.String()
	}

	h.Sink.Emit(e)
}

func messageTypeName(t byte) string {
	switch t {
	case dhcpv6wire.MsgSolicit:
		return "Solicit"
	case dhcpv6wire.MsgRequest:
		return "Request"
	case dhcpv6wire.MsgConfirm:
		return "Confirm"
	case dhcpv6wire.MsgRenew:
		return "Renew"
	case dhcpv6wire.MsgRebind:
		return "Rebind"
	case dhcpv6wire.MsgRelease:
		return "Release"
	case dhcpv6wire.MsgDecline:
		return "Decline"
	default:
		return "Unknown"
	}
}

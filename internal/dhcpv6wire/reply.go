package dhcpv6wire

import "encoding/binary"

// OptionBuilder accumulates option TLVs for a message or IA container
// being assembled for transmission.
type OptionBuilder struct {
	buf []byte
}

// Add appends one option TLV.
func (b *OptionBuilder) Add(code uint16, value []byte) *OptionBuilder {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], code)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(value)))

	b.buf = append(b.buf, hdr[:]...)
	b.buf = append(b.buf, value...)

	return b
}

// Bytes returns the accumulated option TLVs.
func (b *OptionBuilder) Bytes() []byte {
	return b.buf
}

// StatusCode builds an option-13 status code TLV, RFC 8415 §21.13.
func StatusCode(code uint16, message string) []byte {
	buf := make([]byte, 2+len(message))
	binary.BigEndian.PutUint16(buf[:2], code)
	copy(buf[2:], message)

	return buf
}

// IAAddr builds an option-5 IA Address suboption, RFC 8415 §21.6.
func IAAddr(addr [16]byte, preferredLifetime, validLifetime uint32) []byte {
	buf := make([]byte, 24)
	copy(buf[:16], addr[:])
	binary.BigEndian.PutUint32(buf[16:20], preferredLifetime)
	binary.BigEndian.PutUint32(buf[20:24], validLifetime)

	return buf
}

// IAPrefix builds an option-26 IA Prefix suboption, RFC 8415 §21.22.
func IAPrefix(prefixLen byte, prefix [16]byte, preferredLifetime, validLifetime uint32) []byte {
	buf := make([]byte, 25)
	binary.BigEndian.PutUint32(buf[0:4], preferredLifetime)
	binary.BigEndian.PutUint32(buf[4:8], validLifetime)
	buf[8] = prefixLen
	copy(buf[9:], prefix[:])

	return buf
}

// IANA builds an option-3 Identity Association for Non-temporary Addresses
// container, RFC 8415 §21.4, wrapping suboptions already encoded by the
// caller (typically an [IAAddr] or a [StatusCode]).
func IANA(iaid uint32, t1, t2 uint32, suboptions []byte) []byte {
	buf := make([]byte, 12+len(suboptions))
	binary.BigEndian.PutUint32(buf[0:4], iaid)
	binary.BigEndian.PutUint32(buf[4:8], t1)
	binary.BigEndian.PutUint32(buf[8:12], t2)
	copy(buf[12:], suboptions)

	return buf
}

// IAPD builds an option-25 Identity Association for Prefix Delegation
// container, RFC 8415 §21.21.
func IAPD(iaid uint32, t1, t2 uint32, suboptions []byte) []byte {
	return IANA(iaid, t1, t2, suboptions)
}

// BuildClientMessage serializes a top-level client-facing message (Advertise,
// Reply, ...): message type, echoed transaction ID, and an option blob
// built by the caller.
func BuildClientMessage(messageType byte, transactionID [3]byte, options []byte) []byte {
	buf := make([]byte, 4+len(options))
	buf[0] = messageType
	copy(buf[1:4], transactionID[:])
	copy(buf[4:], options)

	return buf
}

// WrapRelayRepl re-wraps payload (a client-facing message, or a
// previously-wrapped inner Relay-Repl) in one Relay-Reply envelope
// mirroring the hop-count, link-address, and peer-address of layer, and
// echoing layer's Interface-ID if it carried one.  The caller walks
// [Unwrapped.Layers] innermost-first, calling WrapRelayRepl once per
// layer, to reconstruct the full reply chain.
func WrapRelayRepl(layer RelayLayer, payload []byte) []byte {
	buf := make([]byte, 34)
	buf[0] = MsgRelayRepl
	buf[1] = layer.HopCount
	copy(buf[2:18], layer.LinkAddr[:])
	copy(buf[18:34], layer.PeerAddr[:])

	var opts OptionBuilder
	opts.Add(OptRelayMessage, payload)

	if layer.InterfaceID != nil {
		opts.Add(OptInterfaceID, layer.InterfaceID)
	}

	return append(buf, opts.Bytes()...)
}

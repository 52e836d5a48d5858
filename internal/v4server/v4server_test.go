package v4server_test

import (
	"encoding/binary"
	"log/slog"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/shadowdhcp/shadowdhcpd/internal/config"
	"github.com/shadowdhcp/shadowdhcpd/internal/event"
	"github.com/shadowdhcp/shadowdhcpd/internal/maccache"
	"github.com/shadowdhcp/shadowdhcpd/internal/macaddr"
	"github.com/shadowdhcp/shadowdhcpd/internal/reservation"
	"github.com/shadowdhcp/shadowdhcpd/internal/v4server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildMsg(t *testing.T, msgType byte, giaddr [4]byte, chaddr [6]byte, extraOpts []byte) []byte {
	t.Helper()

	buf := make([]byte, 236)
	buf[0] = 1
	buf[1] = 1
	buf[2] = 6
	binary.BigEndian.PutUint32(buf[4:8], 0x12345678)
	copy(buf[24:28], giaddr[:])
	copy(buf[28:34], chaddr[:])

	buf = append(buf, 0x63, 0x82, 0x53, 0x63)
	buf = append(buf, 53, 1, msgType)
	buf = append(buf, extraOpts...)
	buf = append(buf, 255)

	return buf
}

func buildDiscover(t *testing.T, giaddr [4]byte, chaddr [6]byte) []byte {
	t.Helper()

	return buildMsg(t, byte(dhcpv4.MessageTypeDiscover), giaddr, chaddr, nil)
}

// serverIDOption encodes option 54 (server identifier) carrying ip.
func serverIDOption(ip [4]byte) []byte {
	return []byte{54, 4, ip[0], ip[1], ip[2], ip[3]}
}

func newHandler(t *testing.T, r *reservation.Reservation) *v4server.Handler {
	t.Helper()

	idx, rejected := reservation.Build([]*reservation.Reservation{r}, reservation.Extractors{})
	require.Empty(t, rejected)

	return &v4server.Handler{
		Store: reservation.NewStore(idx),
		Cache: maccache.New(10),
		Subnets: []*config.Subnet{
			{
				CIDR:    netip.MustParsePrefix("100.64.0.0/24"),
				Gateway: netip.MustParseAddr("100.64.0.1"),
			},
		},
		ServerID:   netip.MustParseAddr("10.0.0.1"),
		DNSServers: []netip.Addr{netip.MustParseAddr("8.8.8.8")},
		Sink:       event.NewSink("", slog.Default()),
		Logger:     slog.Default(),
	}
}

// Scenario 1 from spec.md §8.
func TestHandle_MACMatch(t *testing.T) {
	mac := macaddr.MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

	r := &reservation.Reservation{
		MAC:    &mac,
		IPv4:   netip.MustParseAddr("100.64.0.50"),
		IPv6NA: netip.MustParseAddr("2001:db8::50"),
		IPv6PD: netip.MustParsePrefix("2001:db8:50::/56"),
	}

	h := newHandler(t, r)
	require.NoError(t, h.Sink.Start())

	raw := buildDiscover(t, [4]byte{10, 0, 0, 1}, [6]byte(mac))

	reply := h.Handle(raw, time.Now())
	require.NotEmpty(t, reply)

	resp, err := dhcpv4.FromBytes(reply)
	require.NoError(t, err)
	assert.Equal(t, dhcpv4.MessageTypeOffer, resp.MessageType())
	assert.Equal(t, net.IP(netip.MustParseAddr("100.64.0.50").AsSlice()).String(), resp.YourIPAddr.String())

	dns := resp.DNS()
	require.Len(t, dns, 1)
	assert.Equal(t, "8.8.8.8", dns[0].String())
}

func TestHandle_NonRelayedDropped(t *testing.T) {
	mac := macaddr.MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	r := &reservation.Reservation{
		MAC: &mac, IPv4: netip.MustParseAddr("100.64.0.50"),
		IPv6NA: netip.MustParseAddr("2001:db8::50"), IPv6PD: netip.MustParsePrefix("2001:db8:50::/56"),
	}

	h := newHandler(t, r)
	require.NoError(t, h.Sink.Start())

	raw := buildDiscover(t, [4]byte{0, 0, 0, 0}, [6]byte(mac))
	assert.Nil(t, h.Handle(raw, time.Now()))
}

// Scenario from spec.md §4.6 step 2: a Request naming a different
// server's identifier must be dropped silently.
func TestHandle_RequestWrongServerIdentifierDropped(t *testing.T) {
	mac := macaddr.MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	r := &reservation.Reservation{
		MAC: &mac, IPv4: netip.MustParseAddr("100.64.0.50"),
		IPv6NA: netip.MustParseAddr("2001:db8::50"), IPv6PD: netip.MustParsePrefix("2001:db8:50::/56"),
	}

	h := newHandler(t, r)
	require.NoError(t, h.Sink.Start())

	raw := buildMsg(t, byte(dhcpv4.MessageTypeRequest), [4]byte{10, 0, 0, 1}, [6]byte(mac),
		serverIDOption([4]byte{10, 0, 0, 99}))
	assert.Nil(t, h.Handle(raw, time.Now()))
}

// A Request naming this server's own identifier is acked normally.
func TestHandle_RequestMatchingServerIdentifierAcks(t *testing.T) {
	mac := macaddr.MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	r := &reservation.Reservation{
		MAC: &mac, IPv4: netip.MustParseAddr("100.64.0.50"),
		IPv6NA: netip.MustParseAddr("2001:db8::50"), IPv6PD: netip.MustParsePrefix("2001:db8:50::/56"),
	}

	h := newHandler(t, r)
	require.NoError(t, h.Sink.Start())

	raw := buildMsg(t, byte(dhcpv4.MessageTypeRequest), [4]byte{10, 0, 0, 1}, [6]byte(mac),
		serverIDOption([4]byte{10, 0, 0, 1}))

	reply := h.Handle(raw, time.Now())
	require.NotEmpty(t, reply)

	resp, err := dhcpv4.FromBytes(reply)
	require.NoError(t, err)
	assert.Equal(t, dhcpv4.MessageTypeAck, resp.MessageType())
}

// A Request with no server identifier (renewal/rebinding) is also acked.
func TestHandle_RequestNoServerIdentifierAcks(t *testing.T) {
	mac := macaddr.MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	r := &reservation.Reservation{
		MAC: &mac, IPv4: netip.MustParseAddr("100.64.0.50"),
		IPv6NA: netip.MustParseAddr("2001:db8::50"), IPv6PD: netip.MustParsePrefix("2001:db8:50::/56"),
	}

	h := newHandler(t, r)
	require.NoError(t, h.Sink.Start())

	raw := buildMsg(t, byte(dhcpv4.MessageTypeRequest), [4]byte{10, 0, 0, 1}, [6]byte(mac), nil)

	reply := h.Handle(raw, time.Now())
	require.NotEmpty(t, reply)

	resp, err := dhcpv4.FromBytes(reply)
	require.NoError(t, err)
	assert.Equal(t, dhcpv4.MessageTypeAck, resp.MessageType())
}

// spec.md §4.6 step 2: Inform gets a config-only Ack, carrying no yiaddr
// or lease times.
func TestHandle_InformConfigOnlyAck(t *testing.T) {
	mac := macaddr.MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	r := &reservation.Reservation{
		MAC: &mac, IPv4: netip.MustParseAddr("100.64.0.50"),
		IPv6NA: netip.MustParseAddr("2001:db8::50"), IPv6PD: netip.MustParsePrefix("2001:db8:50::/56"),
	}

	h := newHandler(t, r)
	require.NoError(t, h.Sink.Start())

	raw := buildMsg(t, byte(dhcpv4.MessageTypeInform), [4]byte{10, 0, 0, 1}, [6]byte(mac), nil)

	reply := h.Handle(raw, time.Now())
	require.NotEmpty(t, reply)

	resp, err := dhcpv4.FromBytes(reply)
	require.NoError(t, err)
	assert.Equal(t, dhcpv4.MessageTypeAck, resp.MessageType())
	assert.True(t, resp.YourIPAddr.IsUnspecified() || resp.YourIPAddr == nil)
	assert.Equal(t, time.Duration(-1), resp.IPAddressLeaseTime(-1))

	dns := resp.DNS()
	require.Len(t, dns, 1)
	assert.Equal(t, "8.8.8.8", dns[0].String())
}

func TestHandle_NoReservationDropped(t *testing.T) {
	mac := macaddr.MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	r := &reservation.Reservation{
		MAC: &mac, IPv4: netip.MustParseAddr("100.64.0.50"),
		IPv6NA: netip.MustParseAddr("2001:db8::50"), IPv6PD: netip.MustParsePrefix("2001:db8:50::/56"),
	}

	h := newHandler(t, r)
	require.NoError(t, h.Sink.Start())

	unknown := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	raw := buildDiscover(t, [4]byte{10, 0, 0, 1}, unknown)
	assert.Nil(t, h.Handle(raw, time.Now()))
}

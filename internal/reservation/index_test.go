package reservation_test

import (
	"math/rand"
	"net/netip"
	"testing"

	"github.com/shadowdhcp/shadowdhcpd/internal/extract"
	"github.com/shadowdhcp/shadowdhcpd/internal/macaddr"
	"github.com/shadowdhcp/shadowdhcpd/internal/reservation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMAC(t *testing.T, s string) macaddr.MAC {
	t.Helper()

	m, err := macaddr.ParseMAC(s)
	require.NoError(t, err)

	return m
}

func testExtractors(t *testing.T) reservation.Extractors {
	t.Helper()

	o82, err := extract.ResolveOption82([]string{"remote_first_12", "circuit_remote_subscriber"})
	require.NoError(t, err)

	o1837, err := extract.ResolveOption1837([]string{"interface_remote"})
	require.NoError(t, err)

	return reservation.Extractors{Option82: o82, Option1837: o1837}
}

func makeReservation(t *testing.T, mac string, ipv4 string) *reservation.Reservation {
	t.Helper()

	m := mustMAC(t, mac)

	return &reservation.Reservation{
		MAC:    &m,
		IPv4:   netip.MustParseAddr(ipv4),
		IPv6NA: netip.MustParseAddr("2001:db8::1"),
		IPv6PD: netip.MustParsePrefix("2001:db8:1::/56"),
	}
}

func TestBuild_MACLookup(t *testing.T) {
	r := makeReservation(t, "00-11-22-33-44-55", "100.64.0.50")

	idx, rejected := reservation.Build([]*reservation.Reservation{r}, testExtractors(t))
	require.Empty(t, rejected)

	got, ok := idx.LookupMAC(mustMAC(t, "00-11-22-33-44-55"))
	require.True(t, ok)
	assert.Same(t, r, got)
}

func TestBuild_RejectsInvalidReservation(t *testing.T) {
	bad := &reservation.Reservation{
		IPv4:   netip.MustParseAddr("100.64.0.50"),
		IPv6NA: netip.MustParseAddr("2001:db8::1"),
		IPv6PD: netip.MustParsePrefix("2001:db8:1::/56"),
		// No MAC, no Option82, no DUID, no Option1837: violates both
		// match-source invariants.
	}

	idx, rejected := reservation.Build([]*reservation.Reservation{bad}, testExtractors(t))
	require.Len(t, rejected, 1)
	assert.Zero(t, idx.Count())
}

// Order-independence: for any permutation of the reservation list, lookup
// results are identical, modulo last-writer-wins on duplicate keys (which
// this test avoids by using unique keys).
func TestBuild_OrderIndependent(t *testing.T) {
	var rs []*reservation.Reservation
	for i := range 20 {
		mac := macaddr.MAC{0, 0, 0, 0, 0, byte(i)}
		ip := netip.AddrFrom4([4]byte{100, 64, 0, byte(i)})
		rs = append(rs, &reservation.Reservation{
			MAC:    &mac,
			IPv4:   ip,
			IPv6NA: netip.MustParseAddr("2001:db8::1"),
			IPv6PD: netip.MustParsePrefix("2001:db8:1::/56"),
		})
	}

	baseline, rejected := reservation.Build(rs, testExtractors(t))
	require.Empty(t, rejected)

	shuffled := make([]*reservation.Reservation, len(rs))
	copy(shuffled, rs)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	idx, rejected := reservation.Build(shuffled, testExtractors(t))
	require.Empty(t, rejected)

	for _, r := range rs {
		want, ok := baseline.LookupMAC(*r.MAC)
		require.True(t, ok)

		got, ok := idx.LookupMAC(*r.MAC)
		require.True(t, ok)

		assert.Equal(t, want.IPv4, got.IPv4)
	}
}

func TestBuild_DuplicateKeyLastWriterWins(t *testing.T) {
	mac := mustMAC(t, "00-11-22-33-44-55")

	first := &reservation.Reservation{
		MAC: &mac, IPv4: netip.MustParseAddr("100.64.0.1"),
		IPv6NA: netip.MustParseAddr("2001:db8::1"), IPv6PD: netip.MustParsePrefix("2001:db8:1::/56"),
	}
	second := &reservation.Reservation{
		MAC: &mac, IPv4: netip.MustParseAddr("100.64.0.2"),
		IPv6NA: netip.MustParseAddr("2001:db8::2"), IPv6PD: netip.MustParsePrefix("2001:db8:2::/56"),
	}

	idx, rejected := reservation.Build([]*reservation.Reservation{first, second}, testExtractors(t))
	require.Empty(t, rejected)

	got, ok := idx.LookupMAC(mac)
	require.True(t, ok)
	assert.Same(t, second, got)
}

// Atomicity: a reader that loads the snapshot pointer before a concurrent
// Swap never observes a mix of old and new entries; it sees one complete
// index or the other.
func TestStore_SwapIsAtomic(t *testing.T) {
	oldIdx, _ := reservation.Build(nil, testExtractors(t))
	store := reservation.NewStore(oldIdx)

	newR := makeReservation(t, "AA-BB-CC-DD-EE-FF", "100.64.0.99")
	newIdx, _ := reservation.Build([]*reservation.Reservation{newR}, testExtractors(t))

	loaded := store.Load()
	assert.Same(t, oldIdx, loaded)

	prev := store.Swap(newIdx)
	assert.Same(t, oldIdx, prev)
	assert.Same(t, newIdx, store.Load())

	// The snapshot captured before the swap is still the complete old one.
	_, ok := loaded.LookupMAC(mustMAC(t, "AA-BB-CC-DD-EE-FF"))
	assert.False(t, ok)
}

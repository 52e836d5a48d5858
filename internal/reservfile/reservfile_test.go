package reservfile_test

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shadowdhcp/shadowdhcpd/internal/macaddr"
	"github.com/shadowdhcp/shadowdhcpd/internal/reservation"
	"github.com/shadowdhcp/shadowdhcpd/internal/reservfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	idsJSON = `{"v4":"10.0.0.1","v6":"00:02:00:00:4a:01:02:03:04"}`

	configJSON = `{
		"dns_v4": ["8.8.8.8"],
		"subnets_v4": [{"cidr": "100.64.0.0/24", "gateway": "100.64.0.1"}],
		"bind_v4": ":67",
		"bind_v6": ":547",
		"log_level": "info"
	}`
)

func writeFixture(t *testing.T, dir, reservationsJSON string) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, reservfile.IdsFile), []byte(idsJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, reservfile.ConfigFile), []byte(configJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, reservfile.ReservationsFile), []byte(reservationsJSON), 0o644))
}

func TestLoad_OK(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, `[
		{
			"mac": "00-11-22-33-44-55",
			"ipv4": "100.64.0.50",
			"ipv6_na": "2001:db8::50",
			"ipv6_pd": "2001:db8:50::/56"
		}
	]`)

	snap, err := reservfile.Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", snap.Ids.V4.String())
	assert.Equal(t, 1, len(snap.Config.SubnetsV4))
	require.Len(t, snap.Reservations, 1)
	assert.Empty(t, snap.Rejected)
	assert.Equal(t, "100.64.0.50", snap.Reservations[0].IPv4.String())
}

func TestLoad_RejectsInvalidEntryWithoutAbortingOthers(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, `[
		{
			"ipv4": "100.64.0.50",
			"ipv6_na": "2001:db8::50",
			"ipv6_pd": "2001:db8:50::/56"
		},
		{
			"mac": "00-11-22-33-44-66",
			"ipv4": "100.64.0.51",
			"ipv6_na": "2001:db8::51",
			"ipv6_pd": "2001:db8:51::/56"
		}
	]`)

	snap, err := reservfile.Load(dir)
	require.NoError(t, err)

	require.Len(t, snap.Reservations, 1)
	assert.Equal(t, "100.64.0.51", snap.Reservations[0].IPv4.String())
	require.Contains(t, snap.Rejected, 0)
}

func TestLoad_MalformedJSONIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, `not json`)

	_, err := reservfile.Load(dir)
	assert.Error(t, err)
}

func TestWriteReservations_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, `[]`)

	mac := macaddr.MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	r := &reservation.Reservation{
		MAC:    &mac,
		IPv4:   netip.MustParseAddr("100.64.0.50"),
		IPv6NA: netip.MustParseAddr("2001:db8::50"),
		IPv6PD: netip.MustParsePrefix("2001:db8:50::/56"),
	}

	require.NoError(t, reservfile.WriteReservations(dir, []*reservation.Reservation{r}))

	snap, err := reservfile.Load(dir)
	require.NoError(t, err)
	require.Len(t, snap.Reservations, 1)

	// Structural diff of the whole round-tripped reservation, rather
	// than field-by-field assertions, so a forgotten field shows up
	// here instead of silently passing.
	diff := cmp.Diff(r, snap.Reservations[0], cmpopts.EquateComparable(netip.Addr{}, netip.Prefix{}))
	assert.Empty(t, diff)
}

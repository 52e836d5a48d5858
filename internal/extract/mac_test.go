package extract_test

import (
	"testing"

	"github.com/shadowdhcp/shadowdhcpd/internal/extract"
	"github.com/shadowdhcp/shadowdhcpd/internal/macaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPeerAddrEui64(t *testing.T) {
	want, err := macaddr.ParseMAC("00-11-22-33-44-55")
	require.NoError(t, err)

	// EUI-64 formation: flip U/L bit, insert 0xFFFE between bytes 3 and 4.
	peerAddr := []byte{
		0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0,
		0x02, 0x11, 0x22, 0xff, 0xfe, 0x33, 0x44, 0x55,
	}

	got, ok := extract.ExtractPeerAddrEui64(extract.MACFields{PeerAddress: peerAddr})
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestExtractPeerAddrEui64_NoFiller(t *testing.T) {
	peerAddr := []byte{
		0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0,
		0x02, 0x11, 0x22, 0xAB, 0xCD, 0x33, 0x44, 0x55,
	}

	_, ok := extract.ExtractPeerAddrEui64(extract.MACFields{PeerAddress: peerAddr})
	assert.False(t, ok)
}

func TestExtractClientLinklayerAddress(t *testing.T) {
	want, err := macaddr.ParseMAC("AA-BB-CC-DD-EE-FF")
	require.NoError(t, err)

	raw := append([]byte{0x00, 0x01}, want[:]...)
	got, ok := extract.ExtractClientLinklayerAddress(extract.MACFields{ClientLinkLayerAddr: raw})
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestExtractDuid(t *testing.T) {
	want, err := macaddr.ParseMAC("00-03-00-01-11-22")
	require.NoError(t, err)

	t.Run("LL", func(t *testing.T) {
		duid := append([]byte{0x00, 0x03, 0x00, 0x01}, want[:]...)
		got, ok := extract.ExtractDuid(extract.MACFields{DUID: duid})
		require.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("LLT", func(t *testing.T) {
		duid := append([]byte{0x00, 0x01, 0x00, 0x01, 0, 0, 0, 0}, want[:]...)
		got, ok := extract.ExtractDuid(extract.MACFields{DUID: duid})
		require.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("EN has no MAC", func(t *testing.T) {
		duid := []byte{0x00, 0x02, 0, 0, 0x01, 'h', 'i'}
		_, ok := extract.ExtractDuid(extract.MACFields{DUID: duid})
		assert.False(t, ok)
	})
}

// Determinism: running the same extractor twice on the same fields must
// yield byte-identical output (spec.md §8).
func TestExtractorsAreDeterministic(t *testing.T) {
	fields := extract.Option82Fields{Circuit: []byte("c1"), Remote: []byte("r1")}

	k1, ok1 := extract.Option82CircuitRemoteSubscriber(fields)
	k2, ok2 := extract.Option82CircuitRemoteSubscriber(fields)

	require.Equal(t, ok1, ok2)
	assert.Equal(t, k1, k2)
}

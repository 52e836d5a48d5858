package maccache_test

import (
	"testing"
	"time"

	"github.com/shadowdhcp/shadowdhcpd/internal/macaddr"
	"github.com/shadowdhcp/shadowdhcpd/internal/maccache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 5 from spec.md §8: after a v4 success with (MAC=M, Option82=T),
// a later lookup by T resolves to M, and vice versa.
func TestCache_BidirectionalLookup(t *testing.T) {
	c := maccache.New(10)

	mac, err := macaddr.ParseMAC("00-11-22-33-44-55")
	require.NoError(t, err)

	triple := maccache.Option82Triple{Remote: "R"}
	now := time.Now()

	c.Put(mac, triple, now)

	gotTriple, ok := c.LookupByMAC(mac)
	require.True(t, ok)
	assert.Equal(t, triple, gotTriple)

	gotMAC, ok := c.LookupByOption82(triple)
	require.True(t, ok)
	assert.Equal(t, mac, gotMAC)
}

func TestCache_MissIsNotFound(t *testing.T) {
	c := maccache.New(10)

	_, ok := c.LookupByOption82(maccache.Option82Triple{Remote: "nope"})
	assert.False(t, ok)
}

func TestCache_RefreshKeepsBinding(t *testing.T) {
	c := maccache.New(10)

	mac, err := macaddr.ParseMAC("00-11-22-33-44-55")
	require.NoError(t, err)

	triple := maccache.Option82Triple{Remote: "R"}

	t0 := time.Now()
	c.Put(mac, triple, t0)
	c.Put(mac, triple, t0.Add(time.Minute))

	_, ok := c.LookupByMAC(mac)
	require.True(t, ok)
}

func TestCache_Sweep_NoPanicOnEmpty(t *testing.T) {
	c := maccache.New(10)
	assert.NotPanics(t, c.Sweep)
}

package extract_test

import (
	"testing"

	"github.com/shadowdhcp/shadowdhcpd/internal/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 3 from spec.md §8: a relay stuffs an ASCII hex MAC into the
// first 12 characters of Remote-ID, trailed by garbage the extractor must
// ignore.
func TestOption82RemoteFirst12(t *testing.T) {
	fields := extract.Option82Fields{Remote: []byte("AC8BA9E217F8 garbage")}

	key, ok := extract.Option82RemoteFirst12(fields)
	require.True(t, ok)
	assert.Equal(t, "AC-8B-A9-E2-17-F8", key)
}

func TestOption82RemoteFirst12_TooShort(t *testing.T) {
	_, ok := extract.Option82RemoteFirst12(extract.Option82Fields{Remote: []byte("short")})
	assert.False(t, ok)
}

func TestOption82CircuitRemoteSubscriber_AbsentFieldsDontCollide(t *testing.T) {
	s := "x"

	k1, ok1 := extract.Option82CircuitRemoteSubscriber(extract.Option82Fields{Circuit: []byte(s)})
	require.True(t, ok1)

	k2, ok2 := extract.Option82CircuitRemoteSubscriber(extract.Option82Fields{Remote: []byte(s)})
	require.True(t, ok2)

	assert.NotEqual(t, k1, k2)
}

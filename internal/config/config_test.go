package config_test

import (
	"encoding/json"
	"net/netip"
	"testing"

	"github.com/shadowdhcp/shadowdhcpd/internal/config"
	"github.com/shadowdhcp/shadowdhcpd/internal/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate_RequiresSubnets(t *testing.T) {
	c := &config.Config{BindV4: ":67", BindV6: ":547"}
	assert.Error(t, c.Validate())
}

func TestConfig_Validate_OK(t *testing.T) {
	replyLen := 32
	c := &config.Config{
		BindV4: ":67",
		BindV6: ":547",
		SubnetsV4: []*config.Subnet{
			{
				CIDR:           netip.MustParsePrefix("100.64.0.0/24"),
				Gateway:        netip.MustParseAddr("100.64.0.1"),
				ReplyPrefixLen: &replyLen,
			},
		},
	}

	assert.NoError(t, c.Validate())
}

func TestResolveExtractors_UnknownNameFails(t *testing.T) {
	c := &config.Config{Option82Extractors: []string{"not_a_real_extractor"}}

	_, err := config.ResolveExtractors(c)
	assert.Error(t, err)
}

func TestResolveExtractors_OK(t *testing.T) {
	c := &config.Config{
		Option82Extractors:   []string{"remote_first_12"},
		Option1837Extractors: []string{"interface_remote"},
		MACExtractors:        []extract.MACExtractorName{extract.ClientLinklayerAddress, extract.Duid},
	}

	r, err := config.ResolveExtractors(c)
	require.NoError(t, err)
	assert.Len(t, r.Option82, 1)
	assert.Len(t, r.Option1837, 1)
	assert.Len(t, r.MAC, 2)
}

func TestHexBytes_RoundTrip(t *testing.T) {
	ids := config.Ids{V6: config.HexBytes{0x00, 0x03, 0x00, 0x01, 0xAB}}

	b, err := json.Marshal(ids)
	require.NoError(t, err)

	var got config.Ids
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, ids.V6, got.V6)
}

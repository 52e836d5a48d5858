// Package config defines the server's static configuration shape and
// its JSON decoding/validation, and resolves the extractor names it
// names into the functions internal/extract registers, once at startup
// (spec.md §3/§6/§9).
package config

import (
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/shadowdhcp/shadowdhcpd/internal/extract"
)

// Subnet is one entry of Config.SubnetsV4: a CIDR block the server
// selects a matched reservation's subnet mask/router from.
type Subnet struct {
	CIDR    netip.Prefix `json:"cidr"`
	Gateway netip.Addr   `json:"gateway"`

	// ReplyPrefixLen, when non-nil, overrides the subnet mask advertised
	// in option 1 (spec.md §9: it affects only option 1, never option 28
	// broadcast address).
	ReplyPrefixLen *int `json:"reply_prefix_len,omitempty"`
}

// type check
var _ validate.Interface = (*Subnet)(nil)

// Validate implements the [validate.Interface] interface for *Subnet.
func (s *Subnet) Validate() (err error) {
	if s == nil {
		return errors.ErrNoValue
	}

	var errs []error

	if !s.CIDR.IsValid() {
		errs = append(errs, fmt.Errorf("cidr: %w", errors.ErrNoValue))
	}

	if !s.Gateway.IsValid() {
		errs = append(errs, fmt.Errorf("gateway: %w", errors.ErrNoValue))
	}

	if s.ReplyPrefixLen != nil && (*s.ReplyPrefixLen < 0 || *s.ReplyPrefixLen > 32) {
		errs = append(errs, fmt.Errorf("reply_prefix_len: must be 0..32, got %d", *s.ReplyPrefixLen))
	}

	return errors.Join(errs...)
}

// Config is the server's static configuration, loaded from
// `config.json` by internal/reservfile (spec.md §3/§6).
type Config struct {
	DNSv4                []netip.Addr               `json:"dns_v4"`
	SubnetsV4            []*Subnet                  `json:"subnets_v4"`
	Option82Extractors   []string                   `json:"option82_extractors"`
	Option1837Extractors []string                   `json:"option1837_extractors"`
	MACExtractors        []extract.MACExtractorName `json:"mac_extractors"`

	BindV4    string `json:"bind_v4"`
	BindV6    string `json:"bind_v6"`
	MgmtAddr  string `json:"mgmt_addr,omitempty"`
	EventAddr string `json:"event_addr,omitempty"`
	LogLevel  string `json:"log_level"`

	// Logger is not part of the JSON shape, following the donor's
	// convention of keeping non-data dependencies out of the serialized
	// config.  The internal/reservfile loader does not set it.
	Logger *slog.Logger `json:"-"`
}

// type check
var _ validate.Interface = (*Config)(nil)

// Validate implements the [validate.Interface] interface for *Config.
func (c *Config) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	var errs []error

	errs = append(errs, validate.NotEmpty("bind_v4", c.BindV4))
	errs = append(errs, validate.NotEmpty("bind_v6", c.BindV6))

	if len(c.SubnetsV4) == 0 {
		errs = append(errs, fmt.Errorf("subnets_v4: %w", errors.ErrEmptyValue))
	}

	for i, s := range c.SubnetsV4 {
		errs = validate.Append(errs, fmt.Sprintf("subnets_v4[%d]", i), s)
	}

	return errors.Join(errs...)
}

// ResolvedExtractors is the set of extractor functions resolved, once,
// from Config's name lists at startup (spec.md §9's "unknown names fail
// config load").
type ResolvedExtractors struct {
	Option82   []extract.NamedOption82Fn
	Option1837 []extract.NamedOption1837Fn
	MAC        []extract.NamedMACFn
}

// ResolveExtractors validates and resolves c's extractor name lists.
func ResolveExtractors(c *Config) (r ResolvedExtractors, err error) {
	r.Option82, err = extract.ResolveOption82(c.Option82Extractors)
	if err != nil {
		return r, fmt.Errorf("option82_extractors: %w", err)
	}

	r.Option1837, err = extract.ResolveOption1837(c.Option1837Extractors)
	if err != nil {
		return r, fmt.Errorf("option1837_extractors: %w", err)
	}

	r.MAC, err = extract.ResolveMAC(c.MACExtractors)
	if err != nil {
		return r, fmt.Errorf("mac_extractors: %w", err)
	}

	return r, nil
}

// Ids holds the server identifiers used in replies, loaded from
// `ids.json` (spec.md §3/§6).
type Ids struct {
	// V4 is the DHCPv4 server identifier (option 54).
	V4 netip.Addr `json:"v4"`

	// V6 is the raw DHCPv6 server DUID bytes, hex-colon encoded in JSON.
	V6 HexBytes `json:"v6"`
}

// HexBytes decodes/encodes as a colon-separated lowercase hex string,
// the form spec.md §6 specifies for `ids.json`'s v6 field.
type HexBytes []byte

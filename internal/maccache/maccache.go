// Package maccache implements the cross-protocol MAC↔Option82 binding
// cache: the DHCPv4 handler records which MAC address a relay's Option 82
// fingerprint belongs to, and the DHCPv6 handler consults that binding when
// its own match keys come up empty (spec.md §4.5).
package maccache

import (
	"time"

	"github.com/bluele/gcache"
	"github.com/shadowdhcp/shadowdhcpd/internal/macaddr"
)

// TTL is the binding lifetime since the last refresh (spec.md §3).
const TTL = 24 * time.Hour

// DefaultCapacity is the default entry cap shared by both directions of
// the cache (spec.md §4.5).
const DefaultCapacity = 100_000

// Binding is a single learned MAC↔Option82 pairing.
type Binding struct {
	MAC                 macaddr.MAC
	Option82Fingerprint Option82Triple
	CreatedAt           time.Time
	LastSeenAt          time.Time
}

// Option82Triple is the exact (circuit, remote, subscriber) triple
// observed on a successful DHCPv4 transaction, used as the cache key in
// the Option82→MAC direction.  Fields are the empty string when the
// corresponding sub-option was absent, which is why the triple (not the
// extractor's normalized key) is what's cached: the cache has no
// extractor configuration of its own and must compare triples literally.
type Option82Triple struct {
	Circuit    string
	Remote     string
	Subscriber string
}

// Cache is the bidirectional, bounded, TTL-aware binding table.  It is
// safe for concurrent use: many writers from the v4 task, many readers
// from the v6 task.  The zero Cache is not usable; use [New].
type Cache struct {
	macToBinding gcache.Cache
	optToBinding gcache.Cache
}

// New builds a Cache with the given capacity per direction.  A capacity of
// 0 uses [DefaultCapacity].
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Cache{
		macToBinding: gcache.New(capacity).LRU().Expiration(TTL).Build(),
		optToBinding: gcache.New(capacity).LRU().Expiration(TTL).Build(),
	}
}

// Put records (or refreshes) the binding between mac and triple, as an
// end-of-transaction action on DHCPv4 success.  It is never called inline
// during matching, so a failed v4 match can't pollute the cache (spec.md
// §9).
func (c *Cache) Put(mac macaddr.MAC, triple Option82Triple, now time.Time) {
	existing, err := c.macToBinding.GetIFPresent(mac)

	b := &Binding{MAC: mac, Option82Fingerprint: triple, CreatedAt: now, LastSeenAt: now}
	if err == nil {
		if old, ok := existing.(*Binding); ok {
			b.CreatedAt = old.CreatedAt
		}
	}

	// Ignore the error: gcache.Set only fails when an eviction callback
	// itself errors, which this cache never registers.
	_ = c.macToBinding.SetWithExpire(mac, b, TTL)
	_ = c.optToBinding.SetWithExpire(triple, b, TTL)
}

// LookupByMAC returns the most recently learned Option82 triple for mac,
// if a live (non-expired) binding exists.
func (c *Cache) LookupByMAC(mac macaddr.MAC) (triple Option82Triple, ok bool) {
	v, err := c.macToBinding.GetIFPresent(mac)
	if err != nil {
		return triple, false
	}

	b, ok := v.(*Binding)
	if !ok {
		return triple, false
	}

	return b.Option82Fingerprint, true
}

// LookupByOption82 returns the MAC bound to triple, if a live binding
// exists.  This is how the v6 handler resolves a relay chain that carries
// Option 82 without a usable direct match.
func (c *Cache) LookupByOption82(triple Option82Triple) (mac macaddr.MAC, ok bool) {
	v, err := c.optToBinding.GetIFPresent(triple)
	if err != nil {
		return mac, false
	}

	b, ok := v.(*Binding)
	if !ok {
		return mac, false
	}

	return b.MAC, true
}

// Sweep forces eviction of expired bindings.  gcache expires lazily on
// access, so a periodic caller (spec.md §5's 60s sweep) walks every key to
// touch and, if expired, purge it; this bounds how long a stale binding
// can occupy a capacity slot between accesses.
func (c *Cache) Sweep() {
	sweepOne(c.macToBinding)
	sweepOne(c.optToBinding)
}

func sweepOne(cache gcache.Cache) {
	for _, k := range cache.Keys(false) {
		// GetIFPresent purges the entry as a side effect when it finds it
		// expired; the returned value and error are otherwise unused here.
		_, _ = cache.GetIFPresent(k)
	}
}

// Len reports the number of live (non-expired) MAC→Option82 entries,
// for status reporting.
func (c *Cache) Len() int {
	return c.macToBinding.Len(true)
}

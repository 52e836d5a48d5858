package reservation

import (
	"github.com/shadowdhcp/shadowdhcpd/internal/extract"
	"github.com/shadowdhcp/shadowdhcpd/internal/macaddr"
)

// option82Key and option1837Key disambiguate identical extracted strings
// produced by different extractors, per spec.md §4.4 step 3/4.
type option82Key struct {
	extractor string
	key       string
}

type option1837Key struct {
	extractor string
	key       string
}

// Index is an immutable snapshot of the four lookup maps built from a
// reservation list.  It is safe for concurrent reads by any number of
// goroutines; it is never mutated after [Build] returns it.
type Index struct {
	byMAC        map[macaddr.MAC]*Reservation
	byDUID       map[string]*Reservation
	byOption82   map[option82Key]*Reservation
	byOption1837 map[option1837Key]*Reservation

	// count is the number of reservations the index was built from, for
	// status reporting.
	count int
}

// Extractors bundles the resolved, ordered extractor lists the index
// builder and the protocol handlers both need, so they run the identical
// function list over reservation fields and over wire fields.
type Extractors struct {
	Option82   []extract.NamedOption82Fn
	Option1837 []extract.NamedOption1837Fn
}

// Build constructs a new Index from reservations, following the
// order-independent algorithm of spec.md §4.4: last writer wins on
// duplicate keys, which is stable for any fixed iteration order of
// reservations but is otherwise an accepted soft limitation (no duplicate
// detection).  Reservations that fail [Reservation.Validate] are skipped;
// their indices (0-based, within reservations) and errors are returned
// alongside so a caller can log or reject them without aborting the whole
// build.
func Build(reservations []*Reservation, ex Extractors) (idx *Index, rejected map[int]error) {
	idx = &Index{
		byMAC:        make(map[macaddr.MAC]*Reservation),
		byDUID:       make(map[string]*Reservation),
		byOption82:   make(map[option82Key]*Reservation),
		byOption1837: make(map[option1837Key]*Reservation),
	}

	for i, r := range reservations {
		if err := r.Validate(); err != nil {
			if rejected == nil {
				rejected = make(map[int]error)
			}
			rejected[i] = err

			continue
		}

		idx.count++

		if r.MAC != nil {
			idx.byMAC[*r.MAC] = r
		}

		if len(r.DUID) > 0 {
			idx.byDUID[string(r.DUID)] = r
		}

		if r.Option82 != nil && !r.Option82.IsZero() {
			fields := option82FieldsFromReservation(r.Option82)
			for _, e := range ex.Option82 {
				if key, ok := e.Fn(fields); ok {
					idx.byOption82[option82Key{extractor: e.Name, key: key}] = r
				}
			}
		}

		if r.Option1837 != nil && !r.Option1837.IsZero() {
			fields := option1837FieldsFromReservation(r.Option1837)
			for _, e := range ex.Option1837 {
				if key, ok := e.Fn(fields); ok {
					idx.byOption1837[option1837Key{extractor: e.Name, key: key}] = r
				}
			}
		}
	}

	return idx, rejected
}

// Count returns the number of valid reservations this snapshot was built
// from.
func (idx *Index) Count() int {
	if idx == nil {
		return 0
	}

	return idx.count
}

// LookupMAC returns the reservation bound to mac, if any.
func (idx *Index) LookupMAC(mac macaddr.MAC) (r *Reservation, ok bool) {
	r, ok = idx.byMAC[mac]

	return r, ok
}

// LookupDUID returns the reservation bound to the given raw DUID bytes, if
// any.
func (idx *Index) LookupDUID(duid []byte) (r *Reservation, ok bool) {
	r, ok = idx.byDUID[string(duid)]

	return r, ok
}

// LookupOption82 runs the configured Option 82 extractors in order against
// fields, returning the first reservation hit along with the name of the
// extractor that produced it.
func (idx *Index) LookupOption82(
	fields extract.Option82Fields,
	extractors []extract.NamedOption82Fn,
) (r *Reservation, extractorUsed string, ok bool) {
	for _, e := range extractors {
		key, produced := e.Fn(fields)
		if !produced {
			continue
		}

		if r, ok = idx.byOption82[option82Key{extractor: e.Name, key: key}]; ok {
			return r, e.Name, true
		}
	}

	return nil, "", false
}

// LookupOption1837 runs the configured Option 18/37 extractors in order
// against fields, returning the first reservation hit.
func (idx *Index) LookupOption1837(
	fields extract.Option1837Fields,
	extractors []extract.NamedOption1837Fn,
) (r *Reservation, extractorUsed string, ok bool) {
	for _, e := range extractors {
		key, produced := e.Fn(fields)
		if !produced {
			continue
		}

		if r, ok = idx.byOption1837[option1837Key{extractor: e.Name, key: key}]; ok {
			return r, e.Name, true
		}
	}

	return nil, "", false
}

// option82FieldsFromReservation converts a reservation's configured
// Option82 (UTF-8 strings, as stored in reservations.json) into the same
// []byte-shaped Fields the wire decoder produces, so the identical
// extractor functions apply to both.
func option82FieldsFromReservation(o *Option82) extract.Option82Fields {
	return extract.Option82Fields{
		Circuit:    stringToBytes(o.Circuit),
		Remote:     stringToBytes(o.Remote),
		Subscriber: stringToBytes(o.Subscriber),
	}
}

func option1837FieldsFromReservation(o *Option1837) extract.Option1837Fields {
	return extract.Option1837Fields{
		Interface:        stringToBytes(o.Interface),
		Remote:           stringToBytes(o.Remote),
		EnterpriseNumber: o.EnterpriseNumber,
	}
}

func stringToBytes(s *string) []byte {
	if s == nil {
		return nil
	}

	return []byte(*s)
}

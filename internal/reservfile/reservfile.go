// Package reservfile loads ids.json, config.json, and reservations.json
// from a configured directory, converts their JSON shapes into the
// internal reservation/config data model, and writes reservations.json
// back atomically on a management `replace`, per spec.md §3/§6/§9.
package reservfile

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/renameio/v2"
	"github.com/shadowdhcp/shadowdhcpd/internal/config"
	"github.com/shadowdhcp/shadowdhcpd/internal/macaddr"
	"github.com/shadowdhcp/shadowdhcpd/internal/reservation"
)

// File names this package reads and writes within a configured directory.
const (
	IdsFile          = "ids.json"
	ConfigFile       = "config.json"
	ReservationsFile = "reservations.json"
)

// Snapshot is the fully decoded, validated contents of one configuration
// directory: the server identifiers, the static config, and the
// reservation list ready to be passed to [reservation.Build].
type Snapshot struct {
	Ids          *config.Ids
	Config       *config.Config
	Reservations []*reservation.Reservation

	// Rejected maps a reservation's 0-based position within
	// reservations.json to the validation error that excluded it, mirroring
	// [reservation.Build]'s own per-entry rejection so a bad entry never
	// aborts the whole load.
	Rejected map[int]error
}

// Load reads ids.json, config.json, and reservations.json from dir and
// decodes them. A malformed JSON document (bad syntax, wrong shape) is
// fatal and aborts the whole load, per spec.md §7's "config and
// reservation load errors are fatal at startup". A reservation that
// decodes fine but fails [reservation.Reservation.Validate] is instead
// collected into Rejected and excluded from Snapshot.Reservations, so one
// bad entry doesn't take down every other operator-configured binding.
func Load(dir string) (snap *Snapshot, err error) {
	snap = &Snapshot{}

	snap.Ids, err = loadIds(filepath.Join(dir, IdsFile))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", IdsFile, err)
	}

	snap.Config, err = loadConfig(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", ConfigFile, err)
	}

	snap.Reservations, snap.Rejected, err = loadReservations(filepath.Join(dir, ReservationsFile))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", ReservationsFile, err)
	}

	return snap, nil
}

func loadIds(path string) (ids *config.Ids, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ids = &config.Ids{}
	if err = json.Unmarshal(data, ids); err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}

	if !ids.V4.IsValid() {
		return nil, fmt.Errorf("v4: %w", errors.ErrNoValue)
	}

	return ids, nil
}

func loadConfig(path string) (c *config.Config, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c = &config.Config{}
	if err = json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}

	if err = c.Validate(); err != nil {
		return nil, fmt.Errorf("validating: %w", err)
	}

	return c, nil
}

// rawReservation is reservations.json's per-entry wire shape: addresses
// and keys are strings, matching spec.md §6's "MACs accepted in either
// AA-BB-CC-DD-EE-FF or aa:bb:cc:dd:ee:ff form" and "IPv6 PD is
// prefix/length" contracts, normalized into the typed [reservation.Reservation]
// model by [rawReservation.convert].
type rawReservation struct {
	MAC        *string         `json:"mac,omitempty"`
	DUID       config.HexBytes `json:"duid,omitempty"`
	Option82   *rawOption82    `json:"option82,omitempty"`
	Option1837 *rawOption1837  `json:"option1837,omitempty"`

	IPv4   string `json:"ipv4"`
	IPv6NA string `json:"ipv6_na"`
	IPv6PD string `json:"ipv6_pd"`
}

type rawOption82 struct {
	Circuit    *string `json:"circuit,omitempty"`
	Remote     *string `json:"remote,omitempty"`
	Subscriber *string `json:"subscriber,omitempty"`
}

type rawOption1837 struct {
	Interface        *string `json:"interface,omitempty"`
	Remote           *string `json:"remote,omitempty"`
	EnterpriseNumber *uint32 `json:"enterprise_number,omitempty"`
}

// convert turns a decoded rawReservation into the typed model, reporting
// a non-nil error for anything [reservation.Reservation.Validate] would
// also reject, plus malformed address syntax that Validate can't see
// (Validate only checks presence, not parseability).
func (raw *rawReservation) convert() (r *reservation.Reservation, err error) {
	r = &reservation.Reservation{}

	var errs []error

	if raw.MAC != nil {
		var mac macaddr.MAC
		mac, err = macaddr.ParseMAC(*raw.MAC)
		if err != nil {
			errs = append(errs, fmt.Errorf("mac: %w", err))
		} else {
			r.MAC = &mac
		}
	}

	if len(raw.DUID) > 0 {
		r.DUID = raw.DUID
	}

	if raw.Option82 != nil {
		r.Option82 = &reservation.Option82{
			Circuit:    raw.Option82.Circuit,
			Remote:     raw.Option82.Remote,
			Subscriber: raw.Option82.Subscriber,
		}
	}

	if raw.Option1837 != nil {
		r.Option1837 = &reservation.Option1837{
			Interface:        raw.Option1837.Interface,
			Remote:           raw.Option1837.Remote,
			EnterpriseNumber: raw.Option1837.EnterpriseNumber,
		}
	}

	if raw.IPv4 != "" {
		if r.IPv4, err = netip.ParseAddr(raw.IPv4); err != nil {
			errs = append(errs, fmt.Errorf("ipv4: %w", err))
		}
	}

	if raw.IPv6NA != "" {
		if r.IPv6NA, err = netip.ParseAddr(raw.IPv6NA); err != nil {
			errs = append(errs, fmt.Errorf("ipv6_na: %w", err))
		}
	}

	if raw.IPv6PD != "" {
		if r.IPv6PD, err = netip.ParsePrefix(raw.IPv6PD); err != nil {
			errs = append(errs, fmt.Errorf("ipv6_pd: %w", err))
		}
	}

	if err = errors.Join(errs...); err != nil {
		return nil, err
	}

	if err = r.Validate(); err != nil {
		return nil, err
	}

	return r, nil
}

func loadReservations(path string) (reservations []*reservation.Reservation, rejected map[int]error, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	return DecodeReservations(data)
}

// DecodeReservations decodes a JSON array in reservations.json's wire
// shape, the same conversion [Load] applies to the file on disk. It's
// exported so internal/server can apply the identical rejection semantics
// to a mgmt `replace` command's inline `reservations` payload.
func DecodeReservations(data []byte) (reservations []*reservation.Reservation, rejected map[int]error, err error) {
	var raws []*rawReservation
	if err = json.Unmarshal(data, &raws); err != nil {
		return nil, nil, fmt.Errorf("decoding: %w", err)
	}

	for i, raw := range raws {
		r, convErr := raw.convert()
		if convErr != nil {
			if rejected == nil {
				rejected = make(map[int]error)
			}

			rejected[i] = convErr

			continue
		}

		reservations = append(reservations, r)
	}

	return reservations, rejected, nil
}

// toRaw renders r back into reservations.json's wire shape, the inverse
// of [rawReservation.convert], for use by [WriteReservations].
func toRaw(r *reservation.Reservation) *rawReservation {
	raw := &rawReservation{
		IPv4:   r.IPv4.String(),
		IPv6NA: r.IPv6NA.String(),
		IPv6PD: r.IPv6PD.String(),
	}

	if r.MAC != nil {
		s := r.MAC.String()
		raw.MAC = &s
	}

	if len(r.DUID) > 0 {
		raw.DUID = config.HexBytes(r.DUID)
	}

	if r.Option82 != nil && !r.Option82.IsZero() {
		raw.Option82 = &rawOption82{
			Circuit:    r.Option82.Circuit,
			Remote:     r.Option82.Remote,
			Subscriber: r.Option82.Subscriber,
		}
	}

	if r.Option1837 != nil && !r.Option1837.IsZero() {
		raw.Option1837 = &rawOption1837{
			Interface:        r.Option1837.Interface,
			Remote:           r.Option1837.Remote,
			EnterpriseNumber: r.Option1837.EnterpriseNumber,
		}
	}

	return raw
}

// WriteReservations serializes reservations and replaces dir/reservations.json
// atomically (write-to-temp, fsync, rename), per spec.md §6's "the new
// reservation set is written to reservations.json atomically before the
// index is swapped". A failure here must abort the mgmt `replace` command
// before any index swap is attempted.
func WriteReservations(dir string, reservations []*reservation.Reservation) (err error) {
	raws := make([]*rawReservation, len(reservations))
	for i, r := range reservations {
		raws[i] = toRaw(r)
	}

	data, err := json.MarshalIndent(raws, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}

	path := filepath.Join(dir, ReservationsFile)
	if err = renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}

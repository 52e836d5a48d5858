package extract

import (
	"fmt"
	"slices"

	"github.com/AdguardTeam/golibs/errors"
)

// ErrUnknownExtractor is returned when a configured extractor name isn't in
// the closed, compiled-in set.
const ErrUnknownExtractor errors.Error = "unknown extractor name"

// ResolveOption82 resolves an ordered list of configured Option 82
// extractor names into their functions, preserving order.  It fails fast
// (at config load, not at request time) on any unrecognized name.
func ResolveOption82(names []string) (fns []NamedOption82Fn, err error) {
	for _, name := range names {
		fn, ok := Option82Extractors[name]
		if !ok {
			return nil, fmt.Errorf("option82_extractors: %q: %w", name, ErrUnknownExtractor)
		}

		fns = append(fns, NamedOption82Fn{Name: name, Fn: fn})
	}

	return fns, nil
}

// ResolveOption1837 resolves an ordered list of configured Option 18/37
// extractor names into their functions, preserving order.
func ResolveOption1837(names []string) (fns []NamedOption1837Fn, err error) {
	for _, name := range names {
		fn, ok := Option1837Extractors[name]
		if !ok {
			return nil, fmt.Errorf("option1837_extractors: %q: %w", name, ErrUnknownExtractor)
		}

		fns = append(fns, NamedOption1837Fn{Name: name, Fn: fn})
	}

	return fns, nil
}

// ResolveMAC resolves an ordered list of configured MAC extractor names
// into their functions, preserving order.
func ResolveMAC(names []MACExtractorName) (fns []NamedMACFn, err error) {
	for _, name := range names {
		fn, ok := MACExtractorFns[name]
		if !ok {
			return nil, fmt.Errorf("mac_extractors: %q: %w", name, ErrUnknownExtractor)
		}

		fns = append(fns, NamedMACFn{Name: name, Fn: fn})
	}

	return fns, nil
}

// NamedOption82Fn pairs an Option 82 extractor with the name it was
// registered under, so handlers can report extractor_used.
type NamedOption82Fn struct {
	Name string
	Fn   Option82Fn
}

// NamedOption1837Fn pairs an Option 18/37 extractor with its name.
type NamedOption1837Fn struct {
	Name string
	Fn   Option1837Fn
}

// NamedMACFn pairs a MAC extractor with its name.
type NamedMACFn struct {
	Name MACExtractorName
	Fn   MACFn
}

// AvailableNames returns the complete, sorted, closed set of extractor
// names across all three kinds, for the --available-extractors CLI flag.
func AvailableNames() (option82, option1837, mac []string) {
	for name := range Option82Extractors {
		option82 = append(option82, name)
	}
	slices.Sort(option82)

	for name := range Option1837Extractors {
		option1837 = append(option1837, name)
	}
	slices.Sort(option1837)

	for name := range MACExtractorFns {
		mac = append(mac, string(name))
	}
	slices.Sort(mac)

	return option82, option1837, mac
}

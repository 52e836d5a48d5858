package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MarshalJSON implements the [json.Marshaler] interface for HexBytes.
func (h HexBytes) MarshalJSON() ([]byte, error) {
	parts := make([]string, len(h))
	for i, b := range h {
		parts[i] = fmt.Sprintf("%02x", b)
	}

	return json.Marshal(strings.Join(parts, ":"))
}

// UnmarshalJSON implements the [json.Unmarshaler] interface for
// *HexBytes.
func (h *HexBytes) UnmarshalJSON(data []byte) (err error) {
	var s string
	if err = json.Unmarshal(data, &s); err != nil {
		return err
	}

	if s == "" {
		*h = nil

		return nil
	}

	parts := strings.Split(s, ":")
	out := make([]byte, len(parts))
	for i, p := range parts {
		var n uint64
		n, err = strconv.ParseUint(p, 16, 8)
		if err != nil {
			return fmt.Errorf("parsing hex byte %q: %w", p, err)
		}

		out[i] = byte(n)
	}

	*h = out

	return nil
}

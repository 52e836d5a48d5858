package extract

import (
	"encoding/binary"
)

// Option1837Fn is a named, pure transform from a DHCPv6 Interface-ID
// (Option 18) / Remote-ID (Option 37) triple to a normalized match key.
type Option1837Fn func(Option1837Fields) (key string, ok bool)

// Option1837Extractors is the closed, named set of Option 18/37 extractors.
var Option1837Extractors = map[string]Option1837Fn{
	"interface_remote": Option1837InterfaceRemote,
	"remote_only":       Option1837RemoteOnly,
	"interface_only":    Option1837InterfaceOnly,
}

// Option1837InterfaceRemote builds a key from the Interface-ID, the
// Remote-ID's enterprise number, and the Remote-ID bytes.
func Option1837InterfaceRemote(f Option1837Fields) (key string, ok bool) {
	if f.Interface == nil && f.Remote == nil {
		return "", false
	}

	return joinTriple(f.Interface, remoteWithEnterprise(f), nil), true
}

// Option1837RemoteOnly keys on the enterprise number and Remote-ID bytes.
func Option1837RemoteOnly(f Option1837Fields) (key string, ok bool) {
	if f.Remote == nil {
		return "", false
	}

	return string(remoteWithEnterprise(f)), true
}

// Option1837InterfaceOnly keys on the Interface-ID alone.
func Option1837InterfaceOnly(f Option1837Fields) (key string, ok bool) {
	if f.Interface == nil {
		return "", false
	}

	return string(f.Interface), true
}

// remoteWithEnterprise prefixes the Remote-ID bytes with the 4-byte
// enterprise number, so two relays that reuse remote-id byte patterns
// under different enterprise numbers never collide.
func remoteWithEnterprise(f Option1837Fields) []byte {
	if f.Remote == nil {
		return nil
	}

	var enterprise uint32
	if f.EnterpriseNumber != nil {
		enterprise = *f.EnterpriseNumber
	}

	out := make([]byte, 4+len(f.Remote))
	binary.BigEndian.PutUint32(out, enterprise)
	copy(out[4:], f.Remote)

	return out
}

package store

import (
	"encoding/binary"
	"encoding/json"

	"github.com/erigontech/symbolindex/internal/idcode"
)

// EncodeCode encodes a Code as a big-endian uint64 key, so that range scans
// over a table keyed by Code iterate in numeric order.
func EncodeCode(c idcode.Code) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(c))
	return b
}

// DecodeCode is the inverse of EncodeCode.
func DecodeCode(b []byte) idcode.Code {
	return idcode.Code(binary.BigEndian.Uint64(b))
}

// EncodeCodeSet encodes a set of Codes as a flat big-endian uint64 array.
// No third-party schema-generation library (protobuf, capnp, flatbuffers)
// is wired into this module for this narrow internal need — see DESIGN.md's
// standard-library justification for store/codec.go.
func EncodeCodeSet(codes []idcode.Code) []byte {
	b := make([]byte, len(codes)*8)
	for i, c := range codes {
		binary.BigEndian.PutUint64(b[i*8:], uint64(c))
	}
	return b
}

// DecodeCodeSet is the inverse of EncodeCodeSet.
func DecodeCodeSet(b []byte) []idcode.Code {
	n := len(b) / 8
	out := make([]idcode.Code, n)
	for i := 0; i < n; i++ {
		out[i] = idcode.Code(binary.BigEndian.Uint64(b[i*8:]))
	}
	return out
}

// MergeCodeSet adds code to an encoded set if not already present, returning
// the re-encoded set.
func MergeCodeSet(existing []byte, code idcode.Code) []byte {
	codes := DecodeCodeSet(existing)
	for _, c := range codes {
		if c == code {
			return existing
		}
	}
	return EncodeCodeSet(append(codes, code))
}

// EncodeJSON and DecodeJSON marshal the model structs (Unit, Provider,
// ProviderByUSR entries) stored as table values. JSON is used rather than a
// generated wire format because these values are internal-only, never
// exchanged across a process boundary, and the pack's protobuf usage
// (erigon-lib/gointerfaces) is reserved for its own RPC surface — see
// DESIGN.md's standard-library justification for store/codec.go.
func EncodeJSON(v any) ([]byte, error) { return json.Marshal(v) }

func DecodeJSON(b []byte, v any) error { return json.Unmarshal(b, v) }

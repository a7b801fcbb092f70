// Package idcode computes the deterministic 64-bit primary-key hash (§3
// "IDCode") used throughout the store to key units, providers, files,
// targets, directories and module names by string.
package idcode

import "hash/fnv"

// Code is a 64-bit hash of a durable string, used as a primary database key.
// Tables keyed by a Code (FilePathByCode, ProviderName, ...) store the full
// string as their value, but no lookup compares that stored string against
// the string that was hashed, so a collision is not detected.
type Code uint64

// Of hashes s into a Code. FNV-1a is used rather than a cryptographic hash:
// the index only needs a well-distributed, allocation-free, stable hash.
func Of(s string) Code {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return Code(h.Sum64())
}

// OfBytes is Of for a byte slice, used for USRs (which are opaque byte
// strings rather than Go strings).
func OfBytes(b []byte) Code {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return Code(h.Sum64())
}

// Pair hashes two strings into one Code as a + '\x00' + b, used for
// composite keys such as (path, target).
func Pair(a, b string) Code {
	h := fnv.New64a()
	_, _ = h.Write([]byte(a))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(b))
	return Code(h.Sum64())
}

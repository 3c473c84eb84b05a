package utils

import (
	"crypto/sha256"
	"slices"
	"strings"
)

// BoolValue dereferences an optional flag, falling back to def.
func BoolValue(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// IntValue dereferences an optional int, falling back to def.
func IntValue(i *int, def int) int {
	if i == nil {
		return def
	}
	return *i
}

// NormalizeStrings trims, drops empties, sorts and removes duplicates.
// Request lists go through this so that ordering in the input never changes a build.
func NormalizeStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// BytesToInt converts a byte slice (e.g., from SHA256 sum) to an int64.
// Used for generating a deterministic seed from a hash.
func BytesToInt(b []byte) int64 {
	// Take the first 8 bytes (or less if available) to fit into int64
	var i int64
	for idx, val := range b {
		if idx >= 8 {
			break
		}
		i = (i << 8) | int64(val)
	}
	return i
}

// SeedFromString derives a stable non-negative seed from a name.
func SeedFromString(name string) int64 {
	sum := sha256.Sum256([]byte(name))
	return BytesToInt(sum[:]) & (1<<63 - 1)
}

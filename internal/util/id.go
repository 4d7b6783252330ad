package util

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
)

var reID = regexp.MustCompile(`^[a-z]+_[0-9a-f]{32}$`)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// ValidID reports whether id has the shape produced by NewID for the given
// prefix. Malformed references are rejected before any storage lookup.
func ValidID(prefix, id string) bool {
	return reID.MatchString(id) && strings.HasPrefix(id, prefix+"_")
}

package app

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
)

// normalizeIDs returns the distinct ids in ascending order.
func normalizeIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// participantSetHash is the canonical identity of a roster: the hex sha256 of
// the sorted distinct ids joined by commas. Order and duplicates do not matter.
func participantSetHash(ids []int64) string {
	normalized := normalizeIDs(ids)
	parts := make([]string, len(normalized))
	for i, id := range normalized {
		parts[i] = strconv.FormatInt(id, 10)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])
}

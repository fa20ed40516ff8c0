package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint identifies a content body independent of its URL.
type Fingerprint struct {
	// Hash is the sha256 hex digest of the whitespace-normalized,
	// lowercased content.
	Hash string
	// ShingleHash is a 16-character digest over the sorted 3-gram shingles,
	// used for coarse near-duplicate detection.
	ShingleHash string

	shingles map[string]struct{}
}

const shingleSize = 3

// NewFingerprint computes both digests for a content body.
func NewFingerprint(content []byte) Fingerprint {
	normalized := normalizeText(string(content))

	sum := sha256.Sum256([]byte(normalized))
	shingles := shingleSet(normalized)

	return Fingerprint{
		Hash:        hex.EncodeToString(sum[:]),
		ShingleHash: shingleDigest(shingles),
		shingles:    shingles,
	}
}

// Similarity returns the Jaccard coefficient between two shingle sets.
func (f Fingerprint) Similarity(other Fingerprint) float64 {
	if len(f.shingles) == 0 || len(other.shingles) == 0 {
		return 0
	}
	intersection := 0
	for s := range f.shingles {
		if _, ok := other.shingles[s]; ok {
			intersection++
		}
	}
	union := len(f.shingles) + len(other.shingles) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// normalizeText lowercases and collapses all whitespace runs to single
// spaces so formatting changes do not alter the fingerprint.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func shingleSet(normalized string) map[string]struct{} {
	words := strings.Fields(normalized)
	shingles := make(map[string]struct{})
	if len(words) < shingleSize {
		if normalized != "" {
			shingles[normalized] = struct{}{}
		}
		return shingles
	}
	for i := 0; i+shingleSize <= len(words); i++ {
		shingles[strings.Join(words[i:i+shingleSize], " ")] = struct{}{}
	}
	return shingles
}

func shingleDigest(shingles map[string]struct{}) string {
	sorted := make([]string, 0, len(shingles))
	for s := range shingles {
		sorted = append(sorted, s)
	}
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return hex.EncodeToString(sum[:])[:16]
}

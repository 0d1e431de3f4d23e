// Package sha256 provides the SHA-256 hasher used for page fingerprints and
// content-based duplicate keys.
package sha256

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
)

// Hasher implements ingest.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fields hashes an ordered list of fields. Each field is length-prefixed so
// ("ab", "c") and ("a", "bc") produce different digests.
func (h *Hasher) Fields(fields ...string) string {
	d := sha256.New()
	var prefix [8]byte
	for _, f := range fields {
		binary.BigEndian.PutUint64(prefix[:], uint64(len(f)))
		d.Write(prefix[:])
		d.Write([]byte(f))
	}
	return hex.EncodeToString(d.Sum(nil))
}

// ContentKey hashes content after lowercasing and collapsing whitespace, so
// cosmetic reflows of the same text map to the same key.
func (h *Hasher) ContentKey(content string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	return h.Hash([]byte(normalized))
}

package extract

import (
	"github.com/JakeFAU/polmsg-collector/internal/hash/sha256"
	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

var fingerprintHasher = sha256.New()

// Fingerprint hashes the ordered (content, external URL) pairs of records.
// Two snapshots with the same records in the same order share a fingerprint.
func Fingerprint(records []ingest.RawRecord) string {
	fields := make([]string, 0, 2*len(records))
	for _, r := range records {
		fields = append(fields, r.Content, r.ExternalURL)
	}
	return fingerprintHasher.Fields(fields...)
}

// Key identifies a record across pagination cycles.
func Key(r ingest.RawRecord) string {
	return fingerprintHasher.Fields(r.Content, r.ExternalURL)
}

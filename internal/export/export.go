// Package export writes per-run JSON snapshots of the raw records a run
// collected to a blob store.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// ContentType is recorded with every snapshot object.
const ContentType = "application/json"

// Snapshot is the serialized export document.
type Snapshot struct {
	RunID      string             `json:"run_id"`
	Target     string             `json:"target"`
	SourceKind ingest.SourceKind  `json:"source_kind"`
	EntryURL   string             `json:"entry_url,omitempty"`
	Plan       string             `json:"plan,omitempty"`
	CapturedAt time.Time          `json:"captured_at"`
	Records    []ingest.RawRecord `json:"records"`
}

// Exporter persists snapshots through an ingest.BlobStore.
type Exporter struct {
	store  ingest.BlobStore
	prefix string
	logger *zap.Logger
}

// New creates an Exporter. prefix is trimmed of slashes and may be empty.
func New(store ingest.BlobStore, prefix string, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{store: store, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// Path returns <prefix>/<source_kind>/<yyyy>/<mm>/<dd>/<run_id>.json for s.
func (e *Exporter) Path(s Snapshot) string {
	day := s.CapturedAt.UTC().Format("2006/01/02")
	p := fmt.Sprintf("%s/%s/%s.json", s.SourceKind, day, s.RunID)
	if e.prefix == "" {
		return p
	}
	return e.prefix + "/" + p
}

// Export writes s and returns the blob URI.
func (e *Exporter) Export(ctx context.Context, s Snapshot) (string, error) {
	if e.store == nil {
		return "", fmt.Errorf("export store is not configured")
	}
	if s.RunID == "" {
		return "", fmt.Errorf("snapshot run id is required")
	}
	if s.Records == nil {
		s.Records = []ingest.RawRecord{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	path := e.Path(s)
	uri, err := e.store.PutObject(ctx, path, ContentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("put snapshot %s: %w", path, err)
	}
	e.logger.Info("snapshot exported",
		zap.String("run_id", s.RunID),
		zap.String("uri", uri),
		zap.Int("records", len(s.Records)),
	)
	return uri, nil
}

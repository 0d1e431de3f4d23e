package ingest

import (
	"context"
	"io"
	"time"
)

// ItemStatus is the storage boundary's verdict for one submitted message.
type ItemStatus string

// Storage verdicts.
const (
	ItemCreated   ItemStatus = "created"
	ItemDuplicate ItemStatus = "duplicate"
	ItemRejected  ItemStatus = "rejected"
)

// ItemResult is returned per submitted message. ID is the new id for created
// items and the existing id for duplicates; Reason explains rejections.
type ItemResult struct {
	Status ItemStatus `json:"status"`
	ID     string     `json:"id,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

// Ingestor is the storage boundary. IngestBulk returns one result per message,
// in order; a returned error applies to the whole call and should be a
// *DeliveryError when the implementation can classify it.
type Ingestor interface {
	IngestBulk(ctx context.Context, msgs []CanonicalMessage) ([]ItemResult, error)
	IngestOne(ctx context.Context, msg CanonicalMessage) (ItemResult, error)
}

// BlobStore persists snapshot exports.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Publisher emits run notifications.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// Hasher produces stable content hashes.
type Hasher interface {
	Hash(data []byte) string
}

// Clock provides time for deterministic testing.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates opaque identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

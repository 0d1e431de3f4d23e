package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/polmsg-collector/internal/hash/sha256"
	"github.com/JakeFAU/polmsg-collector/internal/id/uuid"
	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

const uniqueViolation = "23505"

// MessageSchema creates the messages table. %[1]s is the table name.
const MessageSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id               TEXT PRIMARY KEY,
	source_type      TEXT NOT NULL CHECK (source_type IN ('website', 'social_x', 'social_y', 'ad_library')),
	source_name      TEXT NOT NULL,
	source_url       TEXT NOT NULL DEFAULT '',
	content          TEXT NOT NULL CHECK (char_length(content) BETWEEN 1 AND 10000),
	content_hash     TEXT NOT NULL,
	url              TEXT NOT NULL DEFAULT '',
	published_at     TIMESTAMPTZ,
	message_type     TEXT NOT NULL,
	geographic_scope TEXT NOT NULL,
	metadata         JSONB NOT NULL DEFAULT '{}',
	raw_data         JSONB NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL,
	UNIQUE (source_name, content_hash)
);
CREATE INDEX IF NOT EXISTS %[1]s_source_url_idx ON %[1]s (source_name, url) WHERE url <> '';
`

// MessageStore implements ingest.Ingestor over a Postgres table. Duplicate
// detection matches URL first, then normalized content hash, within a source
// name.
type MessageStore struct {
	pool   Pool
	table  string
	ids    ingest.IDGenerator
	hasher *sha256.Hasher
	now    func() time.Time
}

// MessageStoreOption customizes a MessageStore.
type MessageStoreOption func(*MessageStore)

// WithIDGenerator replaces the UUID v7 generator.
func WithIDGenerator(ids ingest.IDGenerator) MessageStoreOption {
	return func(s *MessageStore) { s.ids = ids }
}

// WithClock replaces the clock used for created_at.
func WithClock(clock ingest.Clock) MessageStoreOption {
	return func(s *MessageStore) { s.now = clock.Now }
}

// NewMessageStore constructs a store over pool.
func NewMessageStore(pool Pool, table string, opts ...MessageStoreOption) (*MessageStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table, "messages")
	if err != nil {
		return nil, err
	}
	s := &MessageStore{
		pool:   pool,
		table:  table,
		ids:    uuid.New(),
		hasher: sha256.New(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ ingest.Ingestor = (*MessageStore)(nil)

// EnsureSchema creates the table when it does not exist.
func (s *MessageStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(MessageSchema, s.table)); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *MessageStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *MessageStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// IngestBulk stores msgs in order. A connection failure aborts the call with a
// RETRYABLE error; rows already written are reported as duplicates on resubmission.
func (s *MessageStore) IngestBulk(ctx context.Context, msgs []ingest.CanonicalMessage) ([]ingest.ItemResult, error) {
	out := make([]ingest.ItemResult, 0, len(msgs))
	for _, msg := range msgs {
		result, err := s.IngestOne(ctx, msg)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, nil
}

// IngestOne stores a single message.
func (s *MessageStore) IngestOne(ctx context.Context, msg ingest.CanonicalMessage) (ingest.ItemResult, error) {
	if err := msg.Validate(); err != nil {
		return ingest.ItemResult{Status: ingest.ItemRejected, Reason: err.Error()}, nil
	}
	contentHash := s.hasher.ContentKey(msg.Content)

	if msg.URL != "" {
		id, err := s.lookup(ctx, "url", msg.SourceName, msg.URL)
		if err != nil {
			return ingest.ItemResult{}, err
		}
		if id != "" {
			return ingest.ItemResult{Status: ingest.ItemDuplicate, ID: id}, nil
		}
	}
	id, err := s.lookup(ctx, "content_hash", msg.SourceName, contentHash)
	if err != nil {
		return ingest.ItemResult{}, err
	}
	if id != "" {
		return ingest.ItemResult{Status: ingest.ItemDuplicate, ID: id}, nil
	}
	return s.insert(ctx, msg, contentHash)
}

func (s *MessageStore) lookup(ctx context.Context, column, sourceName, value string) (string, error) {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE source_name = $1 AND %s = $2 LIMIT 1`, s.table, column)
	var id string
	err := s.pool.QueryRow(ctx, query, sourceName, value).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return "", nil
	case err != nil:
		return "", classify(fmt.Errorf("lookup by %s: %w", column, err))
	}
	return id, nil
}

func (s *MessageStore) insert(ctx context.Context, msg ingest.CanonicalMessage, contentHash string) (ingest.ItemResult, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return ingest.ItemResult{}, &ingest.DeliveryError{Class: ingest.DeliveryRetryable, Reason: "allocate id", Err: err}
	}
	metadata, err := json.Marshal(nonNil(msg.Metadata))
	if err != nil {
		return ingest.ItemResult{Status: ingest.ItemRejected, Reason: fmt.Sprintf("marshal metadata: %v", err)}, nil
	}
	rawData, err := json.Marshal(nonNil(msg.RawData))
	if err != nil {
		return ingest.ItemResult{Status: ingest.ItemRejected, Reason: fmt.Sprintf("marshal raw data: %v", err)}, nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	source_type,
	source_name,
	source_url,
	content,
	content_hash,
	url,
	published_at,
	message_type,
	geographic_scope,
	metadata,
	raw_data,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`, s.table)
	args := []any{
		id,
		string(msg.SourceType),
		msg.SourceName,
		msg.SourceURL,
		msg.Content,
		contentHash,
		msg.URL,
		msg.PublishedAt,
		msg.MessageType,
		string(msg.GeographicScope),
		metadata,
		rawData,
		s.now(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch {
			case pgErr.Code == uniqueViolation:
				return ingest.ItemResult{Status: ingest.ItemDuplicate}, nil
			case isDataError(pgErr.Code):
				return ingest.ItemResult{Status: ingest.ItemRejected, Reason: pgErr.Message}, nil
			}
		}
		return ingest.ItemResult{}, classify(fmt.Errorf("insert message: %w", err))
	}
	return ingest.ItemResult{Status: ingest.ItemCreated, ID: id}, nil
}

// isDataError reports integrity constraint (23) and data exception (22) classes.
func isDataError(code string) bool {
	return len(code) >= 2 && (code[:2] == "22" || code[:2] == "23")
}

// transientClasses are SQLSTATE classes that clear on their own: connection
// exception, transaction rollback, insufficient resources, operator
// intervention and system error.
var transientClasses = map[string]bool{"08": true, "40": true, "53": true, "57": true, "58": true}

// classify wraps a batch-level failure. Transient server errors and anything
// that is not a server error are RETRYABLE; other server errors are TERMINAL.
// Context errors pass through.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		class := ingest.DeliveryTerminal
		if len(pgErr.Code) >= 2 && transientClasses[pgErr.Code[:2]] {
			class = ingest.DeliveryRetryable
		}
		return &ingest.DeliveryError{Class: class, Reason: pgErr.Code, Err: err}
	}
	return &ingest.DeliveryError{Class: ingest.DeliveryRetryable, Err: err}
}

func nonNil(p ingest.Payload) ingest.Payload {
	if p == nil {
		return ingest.Payload{}
	}
	return p
}

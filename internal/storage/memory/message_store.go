package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/polmsg-collector/internal/hash/sha256"
	"github.com/JakeFAU/polmsg-collector/internal/id/uuid"
	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// StoredMessage is a message accepted by the MessageStore.
type StoredMessage struct {
	ID          string
	ContentHash string
	Message     ingest.CanonicalMessage
}

// MessageStore implements ingest.Ingestor in memory. Within a source name a
// message duplicates an earlier one when its URL matches, or failing that,
// when its normalized content hash matches.
type MessageStore struct {
	mu       sync.RWMutex
	messages []StoredMessage
	byURL    map[string]map[string]string
	byHash   map[string]map[string]string
	ids      ingest.IDGenerator
	hasher   *sha256.Hasher
}

// NewMessageStore creates an empty store. A nil ids uses UUID v7.
func NewMessageStore(ids ingest.IDGenerator) *MessageStore {
	if ids == nil {
		ids = uuid.New()
	}
	return &MessageStore{
		byURL:  make(map[string]map[string]string),
		byHash: make(map[string]map[string]string),
		ids:    ids,
		hasher: sha256.New(),
	}
}

var _ ingest.Ingestor = (*MessageStore)(nil)

// IngestBulk stores msgs in order and returns one result per message.
func (s *MessageStore) IngestBulk(ctx context.Context, msgs []ingest.CanonicalMessage) ([]ingest.ItemResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingest bulk: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ingest.ItemResult, 0, len(msgs))
	for _, msg := range msgs {
		result, err := s.ingest(msg)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, nil
}

// IngestOne stores a single message.
func (s *MessageStore) IngestOne(ctx context.Context, msg ingest.CanonicalMessage) (ingest.ItemResult, error) {
	if err := ctx.Err(); err != nil {
		return ingest.ItemResult{}, fmt.Errorf("ingest one: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingest(msg)
}

func (s *MessageStore) ingest(msg ingest.CanonicalMessage) (ingest.ItemResult, error) {
	if err := msg.Validate(); err != nil {
		return ingest.ItemResult{Status: ingest.ItemRejected, Reason: err.Error()}, nil
	}
	contentHash := s.hasher.ContentKey(msg.Content)
	if id, ok := s.byURL[msg.SourceName][msg.URL]; ok && msg.URL != "" {
		return ingest.ItemResult{Status: ingest.ItemDuplicate, ID: id}, nil
	}
	if id, ok := s.byHash[msg.SourceName][contentHash]; ok {
		return ingest.ItemResult{Status: ingest.ItemDuplicate, ID: id}, nil
	}

	id, err := s.ids.NewID()
	if err != nil {
		return ingest.ItemResult{}, &ingest.DeliveryError{Class: ingest.DeliveryRetryable, Reason: "allocate id", Err: err}
	}
	s.messages = append(s.messages, StoredMessage{ID: id, ContentHash: contentHash, Message: msg})
	if msg.URL != "" {
		index(s.byURL, msg.SourceName)[msg.URL] = id
	}
	index(s.byHash, msg.SourceName)[contentHash] = id
	return ingest.ItemResult{Status: ingest.ItemCreated, ID: id}, nil
}

// Messages returns the stored messages in insertion order.
func (s *MessageStore) Messages() []StoredMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StoredMessage(nil), s.messages...)
}

func index(m map[string]map[string]string, source string) map[string]string {
	inner, ok := m[source]
	if !ok {
		inner = make(map[string]string)
		m[source] = inner
	}
	return inner
}

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/hadlow/llm-mail-labeler/internal/core"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of the AuditStore interface,
// used for tests and single-process deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*core.ReconciliationRecord
	logger  *zap.Logger
}

// NewMemoryStore creates a new in-memory audit store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{logger: logger}
}

// Append stores a new reconciliation record
func (s *MemoryStore) Append(ctx context.Context, rec *core.ReconciliationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rec
	s.records = append(s.records, &clone)
	return nil
}

// ActiveAutoLabels returns labels with an open auto-applied record for a message
func (s *MemoryStore) ActiveAutoLabels(ctx context.Context, owner, messageID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var labels []string
	for _, rec := range s.records {
		if rec.Owner == owner && rec.MessageID == messageID && rec.AutoApplied && rec.RemovedAt == nil {
			labels = append(labels, rec.Label)
		}
	}
	return labels, nil
}

// CloseRecord soft-closes the open record for (owner, message, label)
func (s *MemoryStore) CloseRecord(ctx context.Context, owner, messageID, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, rec := range s.records {
		if rec.Owner == owner && rec.MessageID == messageID && rec.Label == label && rec.RemovedAt == nil {
			rec.RemovedAt = &now
		}
	}
	return nil
}

// HasConversation reports whether any record exists for a conversation
func (s *MemoryStore) HasConversation(ctx context.Context, owner, conversationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.Owner == owner && rec.ConversationID == conversationID {
			return true, nil
		}
	}
	return false, nil
}

// HasMessage reports whether any record exists for a message
func (s *MemoryStore) HasMessage(ctx context.Context, owner, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.Owner == owner && rec.MessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

// Records returns a snapshot of every stored record
func (s *MemoryStore) Records() []*core.ReconciliationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.ReconciliationRecord, 0, len(s.records))
	for _, rec := range s.records {
		clone := *rec
		out = append(out, &clone)
	}
	return out
}

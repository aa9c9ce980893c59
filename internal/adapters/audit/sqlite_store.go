package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hadlow/llm-mail-labeler/internal/core"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLiteStore is a SQLite implementation of the AuditStore interface
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore creates a new SQLite audit store
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS reconciliation_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			message_id TEXT NOT NULL,
			conversation_id TEXT,
			label TEXT NOT NULL,
			rule_id TEXT,
			confidence REAL,
			auto_applied BOOLEAN,
			applied_at TIMESTAMP,
			removed_at TIMESTAMP
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_owner_message ON reconciliation_records(owner, message_id)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_owner_conversation ON reconciliation_records(owner, conversation_id)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Append stores a new reconciliation record
func (s *SQLiteStore) Append(ctx context.Context, rec *core.ReconciliationRecord) error {
	var removedAt interface{}
	if rec.RemovedAt != nil {
		removedAt = rec.RemovedAt.Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_records
			(owner, message_id, conversation_id, label, rule_id, confidence, auto_applied, applied_at, removed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Owner, rec.MessageID, rec.ConversationID, rec.Label, rec.RuleID,
		rec.Confidence, rec.AutoApplied, rec.AppliedAt.Format(time.RFC3339), removedAt)

	if err != nil {
		return fmt.Errorf("failed to insert reconciliation record: %w", err)
	}
	return nil
}

// ActiveAutoLabels returns labels with an open auto-applied record for a message
func (s *SQLiteStore) ActiveAutoLabels(ctx context.Context, owner, messageID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label FROM reconciliation_records
		WHERE owner = ? AND message_id = ? AND auto_applied = 1 AND removed_at IS NULL
	`, owner, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

// CloseRecord soft-closes the open record for (owner, message, label)
func (s *SQLiteStore) CloseRecord(ctx context.Context, owner, messageID, label string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE reconciliation_records
		SET removed_at = ?
		WHERE owner = ? AND message_id = ? AND label = ? AND removed_at IS NULL
	`, time.Now().Format(time.RFC3339), owner, messageID, label)

	if err != nil {
		return fmt.Errorf("failed to close reconciliation record: %w", err)
	}
	return nil
}

// HasConversation reports whether any record exists for a conversation
func (s *SQLiteStore) HasConversation(ctx context.Context, owner, conversationID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM reconciliation_records
		WHERE owner = ? AND conversation_id = ?
		LIMIT 1
	`, owner, conversationID).Scan(&one)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query conversation records: %w", err)
	}
	return true, nil
}

// HasMessage reports whether any record exists for a message
func (s *SQLiteStore) HasMessage(ctx context.Context, owner, messageID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM reconciliation_records
		WHERE owner = ? AND message_id = ?
		LIMIT 1
	`, owner, messageID).Scan(&one)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query message records: %w", err)
	}
	return true, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/hadlow/llm-mail-labeler/internal/core"
	"go.uber.org/zap"
)

// MySQLStore is a MySQL implementation of the AuditStore interface
type MySQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMySQLStore creates a new MySQL audit store
func NewMySQLStore(dsn string, logger *zap.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS reconciliation_records (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			owner VARCHAR(255) NOT NULL,
			message_id VARCHAR(255) NOT NULL,
			conversation_id VARCHAR(255),
			label VARCHAR(255) NOT NULL,
			rule_id VARCHAR(255),
			confidence DOUBLE,
			auto_applied BOOLEAN,
			applied_at DATETIME,
			removed_at DATETIME NULL,
			INDEX idx_owner_message (owner, message_id),
			INDEX idx_owner_conversation (owner, conversation_id)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &MySQLStore{db: db, logger: logger}, nil
}

// Append stores a new reconciliation record
func (s *MySQLStore) Append(ctx context.Context, rec *core.ReconciliationRecord) error {
	var removedAt interface{}
	if rec.RemovedAt != nil {
		removedAt = rec.RemovedAt.UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_records
			(owner, message_id, conversation_id, label, rule_id, confidence, auto_applied, applied_at, removed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Owner, rec.MessageID, rec.ConversationID, rec.Label, rec.RuleID,
		rec.Confidence, rec.AutoApplied, rec.AppliedAt.UTC(), removedAt)

	if err != nil {
		return fmt.Errorf("failed to insert reconciliation record: %w", err)
	}
	return nil
}

// ActiveAutoLabels returns labels with an open auto-applied record for a message
func (s *MySQLStore) ActiveAutoLabels(ctx context.Context, owner, messageID string) ([]string, error) {
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
func (s *MySQLStore) CloseRecord(ctx context.Context, owner, messageID, label string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE reconciliation_records
		SET removed_at = ?
		WHERE owner = ? AND message_id = ? AND label = ? AND removed_at IS NULL
	`, time.Now().UTC(), owner, messageID, label)

	if err != nil {
		return fmt.Errorf("failed to close reconciliation record: %w", err)
	}
	return nil
}

// HasConversation reports whether any record exists for a conversation
func (s *MySQLStore) HasConversation(ctx context.Context, owner, conversationID string) (bool, error) {
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
func (s *MySQLStore) HasMessage(ctx context.Context, owner, messageID string) (bool, error) {
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
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

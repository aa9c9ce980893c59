package core

import (
	"context"
)

// Classifier defines the interface for the external semantic classifier.
// It is a raw completion surface; the matcher owns prompt construction and
// response parsing. Implementations must surface failures as *Error values
// so the orchestrator can classify them.
type Classifier interface {
	// Complete sends a prompt and returns the raw model output
	Complete(ctx context.Context, prompt string) (string, error)
}

// Mailbox defines the interface for the mailbox transport
type Mailbox interface {
	// GetMessage fetches a single message by id
	GetMessage(ctx context.Context, owner, messageID string) (*Message, error)

	// GetConversation fetches every message sharing a conversation id
	GetConversation(ctx context.Context, owner, conversationID string) ([]*Message, error)

	// ListRecentMessages fetches a window of the most recent messages
	ListRecentMessages(ctx context.Context, owner string, max int) ([]*Message, error)

	// ChangeMarker returns the mailbox's current revision token
	ChangeMarker(ctx context.Context, owner string) (string, error)

	// ApplyLabel adds a label to a message, creating the label if needed
	ApplyLabel(ctx context.Context, owner, messageID, label string, color *LabelColor) error

	// RemoveLabel removes a label from a message
	RemoveLabel(ctx context.Context, owner, messageID, label string) error

	// ListLabels lists the owner's labels
	ListLabels(ctx context.Context, owner string) ([]*Label, error)

	// CreateLabel creates a label
	CreateLabel(ctx context.Context, owner, name string, color *LabelColor) (*Label, error)

	// OwnerAddress returns the owner's own email address
	OwnerAddress(ctx context.Context, owner string) (string, error)
}

// RuleStore defines the read view over the owner's labeling rules
type RuleStore interface {
	// ListActiveRules returns active rules for a direction, ordered by
	// priority descending then creation order
	ListActiveRules(ctx context.Context, owner string, direction Direction) ([]*Rule, error)
}

// AuditStore defines the interface for the reconciliation history
type AuditStore interface {
	// Append stores a new reconciliation record
	Append(ctx context.Context, rec *ReconciliationRecord) error

	// ActiveAutoLabels returns labels with an open auto-applied record for a message
	ActiveAutoLabels(ctx context.Context, owner, messageID string) ([]string, error)

	// CloseRecord soft-closes the open record for (owner, message, label)
	CloseRecord(ctx context.Context, owner, messageID, label string) error

	// HasConversation reports whether any record exists for a conversation
	HasConversation(ctx context.Context, owner, conversationID string) (bool, error)

	// HasMessage reports whether any record exists for a message
	HasMessage(ctx context.Context, owner, messageID string) (bool, error)
}

// EvalCache defines the interface for caching classifier evaluations
type EvalCache interface {
	// Get retrieves a fresh entry by signature
	Get(key string) (*EvalResult, bool)

	// Put stores an evaluation result under a signature
	Put(key string, result *EvalResult)
}

package core

import (
	"time"
)

// Direction indicates whether a message was authored by the mailbox owner
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// SelfCategory is one of the two fixed categories for owner-authored messages
type SelfCategory string

const (
	CategoryAwaitingReply SelfCategory = "awaiting-reply"
	CategoryActioned      SelfCategory = "actioned"
)

// ErrorLabel is the sentinel label recorded on a terminal classification failure
const ErrorLabel = "__classification_error__"

// Rule represents a user-authored natural-language labeling rule
type Rule struct {
	ID        string
	Owner     string
	Label     string
	Predicate string
	Priority  int
	Active    bool
	Direction Direction
	Color     *LabelColor
	CreatedAt time.Time
}

// LabelColor is an optional background/text color pair for a label
type LabelColor struct {
	Background string
	Text       string
}

// Label represents a mailbox label
type Label struct {
	ID    string
	Name  string
	Color *LabelColor
}

// Message represents a mail message as read from the mailbox
type Message struct {
	ID             string
	ConversationID string
	From           string
	To             []string
	Cc             []string
	Subject        string
	Date           time.Time
	Snippet        string
	Body           string
	Labels         []string
}

// LatestMessage returns the chronologically last message of a conversation
func LatestMessage(conversation []*Message) *Message {
	var latest *Message
	for _, msg := range conversation {
		if latest == nil || msg.Date.After(latest.Date) {
			latest = msg
		}
	}
	return latest
}

// MatchResult is the outcome of evaluating one message against one rule
type MatchResult struct {
	Matches    bool
	Confidence float64
	Reasoning  string
}

// SelfResult is the outcome of the binary taxonomy for owner-authored messages
type SelfResult struct {
	Category   SelfCategory
	Confidence float64
	Reasoning  string
}

// RuleMatch pairs a rule with the result that made it the winner
type RuleMatch struct {
	Rule       *Rule
	Confidence float64
	Reasoning  string
}

// EvalResult is the cached form of a single classifier evaluation. Either
// Matches (rule evaluation) or Category (self-authored taxonomy) is meaningful,
// depending on which signature produced it.
type EvalResult struct {
	Matches     bool
	Category    SelfCategory
	Confidence  float64
	Reasoning   string
	EvaluatedAt time.Time
}

// ReconciliationRecord is the audit trail entry for one label application.
// At most one record per (owner, message) has AutoApplied=true and
// RemovedAt=nil at any instant; that record is the current label pointer.
type ReconciliationRecord struct {
	Owner          string
	MessageID      string
	ConversationID string
	Label          string
	RuleID         string
	Confidence     float64
	AutoApplied    bool
	AppliedAt      time.Time
	RemovedAt      *time.Time
}

// ProcessStatus describes how a processing attempt concluded
type ProcessStatus string

const (
	StatusLabeled   ProcessStatus = "labeled"
	StatusUnchanged ProcessStatus = "unchanged"
	StatusNoMatch   ProcessStatus = "no_match"
	StatusNoRules   ProcessStatus = "no_rules"
	StatusCleared   ProcessStatus = "cleared"
	StatusFailed    ProcessStatus = "failed"
)

// ProcessResult summarizes the outcome of processing one message or conversation
type ProcessResult struct {
	Status     ProcessStatus
	Label      string
	RuleID     string
	Confidence float64
	Error      string
}

// PollerState tracks the change-detection loop for one owner
type PollerState struct {
	Owner      string
	LastMarker string
	Active     bool
	StartedAt  time.Time
}

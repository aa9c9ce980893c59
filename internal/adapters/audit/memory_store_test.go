package audit

import (
	"context"
	"testing"
	"time"

	"github.com/hadlow/llm-mail-labeler/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func record(owner, messageID, conversationID, label string, autoApplied bool) *core.ReconciliationRecord {
	return &core.ReconciliationRecord{
		Owner:          owner,
		MessageID:      messageID,
		ConversationID: conversationID,
		Label:          label,
		RuleID:         "r1",
		Confidence:     0.9,
		AutoApplied:    autoApplied,
		AppliedAt:      time.Now(),
	}
}

func TestActiveAutoLabels(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, record("o1", "m1", "c1", "Work", true)))
	require.NoError(t, s.Append(ctx, record("o1", "m1", "c1", core.ErrorLabel, false)))
	require.NoError(t, s.Append(ctx, record("o1", "m2", "c1", "Social", true)))
	require.NoError(t, s.Append(ctx, record("o2", "m1", "c9", "Work", true)))

	labels, err := s.ActiveAutoLabels(ctx, "o1", "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Work"}, labels, "manual and failure records are not current labels")
}

func TestCloseRecord(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, record("o1", "m1", "c1", "Work", true)))
	require.NoError(t, s.CloseRecord(ctx, "o1", "m1", "Work"))

	labels, err := s.ActiveAutoLabels(ctx, "o1", "m1")
	require.NoError(t, err)
	assert.Empty(t, labels)

	// The closed record stays in history.
	records := s.Records()
	require.Len(t, records, 1)
	assert.NotNil(t, records[0].RemovedAt)
}

func TestCloseRecordIsIdempotent(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, record("o1", "m1", "c1", "Work", true)))
	require.NoError(t, s.CloseRecord(ctx, "o1", "m1", "Work"))

	first := s.Records()[0].RemovedAt
	require.NoError(t, s.CloseRecord(ctx, "o1", "m1", "Work"))
	assert.Equal(t, first, s.Records()[0].RemovedAt, "an already-closed record keeps its close time")
}

func TestHasMessageAndConversation(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, record("o1", "m1", "c1", "Work", true)))
	require.NoError(t, s.CloseRecord(ctx, "o1", "m1", "Work"))

	// Closed records still count as history.
	has, err := s.HasMessage(ctx, "o1", "m1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasConversation(ctx, "o1", "c1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasMessage(ctx, "o2", "m1")
	require.NoError(t, err)
	assert.False(t, has, "history is scoped per owner")

	has, err = s.HasConversation(ctx, "o1", "c2")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestAppendClonesRecord(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	rec := record("o1", "m1", "c1", "Work", true)
	require.NoError(t, s.Append(ctx, rec))
	rec.Label = "mutated"

	assert.Equal(t, "Work", s.Records()[0].Label)
}

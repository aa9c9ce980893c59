package core

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Orchestrator turns "this message (or conversation) needs reclassification"
// into a mailbox state where each message carries at most one auto-applied
// label, reflecting the highest-priority matching rule.
type Orchestrator struct {
	mailbox     Mailbox
	rules       RuleStore
	audit       AuditStore
	matcher     *Matcher
	logger      *zap.Logger
	maxAttempts int
	baseDelay   time.Duration
	multiplier  float64
	stepDelay   time.Duration
	sleep       func(time.Duration)
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	mailbox Mailbox,
	rules RuleStore,
	audit AuditStore,
	matcher *Matcher,
	logger *zap.Logger,
	maxAttempts int,
	baseDelay time.Duration,
	multiplier float64,
	stepDelay time.Duration,
) *Orchestrator {
	return &Orchestrator{
		mailbox:     mailbox,
		rules:       rules,
		audit:       audit,
		matcher:     matcher,
		logger:      logger,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		multiplier:  multiplier,
		stepDelay:   stepDelay,
		sleep:       time.Sleep,
	}
}

// DirectionOf classifies a message as sent or received by checking whether
// the owner's address appears in the From header.
func DirectionOf(from, ownerAddress string) Direction {
	if ownerAddress != "" && strings.Contains(strings.ToLower(from), strings.ToLower(ownerAddress)) {
		return DirectionSent
	}
	return DirectionReceived
}

// ProcessMessage classifies a single message and reconciles its labels.
// It does not retry; ProcessMessageWithRetry wraps it.
func (o *Orchestrator) ProcessMessage(ctx context.Context, owner, messageID string) (*ProcessResult, error) {
	msg, err := o.mailbox.GetMessage(ctx, owner, messageID)
	if err != nil {
		return nil, err
	}

	winner, result, err := o.classify(ctx, owner, msg, nil)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		// Existing auto-label, if any, is left untouched on the
		// single-message path.
		return result, nil
	}

	return o.reconcile(ctx, owner, msg, winner)
}

// classify runs steps 2-5 of the single-message path: direction, candidate
// rules, matcher invocation. Returns a nil winner with a terminal no-op
// result when nothing applies.
func (o *Orchestrator) classify(ctx context.Context, owner string, msg *Message, conversation []*Message) (*RuleMatch, *ProcessResult, error) {
	ownerAddr, err := o.mailbox.OwnerAddress(ctx, owner)
	if err != nil {
		return nil, nil, err
	}
	direction := DirectionOf(msg.From, ownerAddr)

	rules, err := o.rules.ListActiveRules(ctx, owner, direction)
	if err != nil {
		return nil, nil, err
	}
	if len(rules) == 0 {
		return nil, &ProcessResult{Status: StatusNoRules}, nil
	}

	var winner *RuleMatch
	if direction == DirectionSent {
		self, err := o.matcher.EvaluateSelfAuthored(ctx, msg, conversation, ownerAddr)
		if err != nil {
			return nil, nil, err
		}
		// The category wins only when the owner has a rule whose label
		// carries that name.
		for _, rule := range rules {
			if rule.Label == string(self.Category) {
				winner = &RuleMatch{Rule: rule, Confidence: self.Confidence, Reasoning: self.Reasoning}
				break
			}
		}
	} else {
		winner, err = o.matcher.FindBestMatch(ctx, msg, conversation, rules, ownerAddr)
		if err != nil {
			return nil, nil, err
		}
	}

	if winner == nil {
		return nil, &ProcessResult{Status: StatusNoMatch}, nil
	}
	return winner, nil, nil
}

// reconcile drives the mailbox's auto-applied label state for one message to
// exactly {winner}. Removal failures are best-effort; an application failure
// is fatal for the attempt.
func (o *Orchestrator) reconcile(ctx context.Context, owner string, msg *Message, winner *RuleMatch) (*ProcessResult, error) {
	active, err := o.audit.ActiveAutoLabels(ctx, owner, msg.ID)
	if err != nil {
		return nil, err
	}

	if len(active) == 1 && active[0] == winner.Rule.Label {
		return &ProcessResult{
			Status:     StatusUnchanged,
			Label:      winner.Rule.Label,
			RuleID:     winner.Rule.ID,
			Confidence: winner.Confidence,
		}, nil
	}

	alreadyPresent := false
	for _, label := range active {
		if label == winner.Rule.Label {
			alreadyPresent = true
			continue
		}
		if err := o.mailbox.RemoveLabel(ctx, owner, msg.ID, label); err != nil {
			o.logger.Warn("Failed to remove stale label",
				zap.String("owner", owner),
				zap.String("message_id", msg.ID),
				zap.String("label", label),
				zap.Error(err))
		}
		if err := o.audit.CloseRecord(ctx, owner, msg.ID, label); err != nil {
			o.logger.Warn("Failed to close reconciliation record",
				zap.String("owner", owner),
				zap.String("message_id", msg.ID),
				zap.String("label", label),
				zap.Error(err))
		}
	}

	if !alreadyPresent {
		if err := o.mailbox.ApplyLabel(ctx, owner, msg.ID, winner.Rule.Label, winner.Rule.Color); err != nil {
			return nil, err
		}
		if err := o.audit.Append(ctx, &ReconciliationRecord{
			Owner:          owner,
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			Label:          winner.Rule.Label,
			RuleID:         winner.Rule.ID,
			Confidence:     winner.Confidence,
			AutoApplied:    true,
			AppliedAt:      time.Now(),
		}); err != nil {
			return nil, err
		}
	}

	return &ProcessResult{
		Status:     StatusLabeled,
		Label:      winner.Rule.Label,
		RuleID:     winner.Rule.ID,
		Confidence: winner.Confidence,
	}, nil
}

// ProcessMessageWithRetry retries transient failures with exponential
// backoff: one initial attempt plus up to maxAttempts retries. Retry k
// sleeps baseDelay * multiplier^(k-1) first. Non-retryable kinds and retry
// exhaustion both produce a terminal failure result backed by an audit
// record.
func (o *Orchestrator) ProcessMessageWithRetry(ctx context.Context, owner, messageID string) (*ProcessResult, error) {
	var lastErr error
	for retry := 0; ; retry++ {
		result, err := o.ProcessMessage(ctx, owner, messageID)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !Retryable(err) {
			o.logger.Error("Non-retryable processing failure",
				zap.String("owner", owner),
				zap.String("message_id", messageID),
				zap.String("kind", string(KindOf(err))),
				zap.Error(err))
			return o.recordFailure(ctx, owner, messageID, err), err
		}

		if retry == o.maxAttempts {
			break
		}

		delay := time.Duration(float64(o.baseDelay) * math.Pow(o.multiplier, float64(retry)))
		o.logger.Warn("Transient processing failure, retrying",
			zap.String("owner", owner),
			zap.String("message_id", messageID),
			zap.Int("retry", retry+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		o.sleep(delay)
	}

	o.logger.Error("Processing failed after max retries",
		zap.String("owner", owner),
		zap.String("message_id", messageID),
		zap.Int("retries", o.maxAttempts),
		zap.Error(lastErr))
	return o.recordFailure(ctx, owner, messageID, lastErr), lastErr
}

// recordFailure leaves an audit trail for a terminal failure so it does not
// silently disappear. The record is not auto-applied; it never becomes a
// current-label pointer.
func (o *Orchestrator) recordFailure(ctx context.Context, owner, messageID string, cause error) *ProcessResult {
	if err := o.audit.Append(ctx, &ReconciliationRecord{
		Owner:       owner,
		MessageID:   messageID,
		Label:       ErrorLabel,
		Confidence:  0,
		AutoApplied: false,
		AppliedAt:   time.Now(),
	}); err != nil {
		o.logger.Error("Failed to record terminal failure",
			zap.String("owner", owner),
			zap.String("message_id", messageID),
			zap.Error(err))
	}
	return &ProcessResult{Status: StatusFailed, Error: UserMessage(cause)}
}

// ProcessConversation re-evaluates a whole conversation so every message
// converges to the label implied by its chronologically last message. The
// sweep is best-effort per message; individual label failures are logged
// and do not abort the remaining messages.
func (o *Orchestrator) ProcessConversation(ctx context.Context, owner, conversationID string) (*ProcessResult, error) {
	messages, err := o.mailbox.GetConversation(ctx, owner, conversationID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return &ProcessResult{Status: StatusNoMatch}, nil
	}

	// Stable chronological order so the remove-then-apply sequence per
	// message completes before the next message is touched.
	ordered := make([]*Message, len(messages))
	copy(ordered, messages)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.Before(ordered[j].Date)
	})
	latest := ordered[len(ordered)-1]

	winner, _, err := o.classify(ctx, owner, latest, ordered)
	if err != nil {
		return nil, err
	}

	if winner == nil {
		o.clearConversation(ctx, owner, ordered)
		return &ProcessResult{Status: StatusCleared}, nil
	}

	for i, msg := range ordered {
		if i > 0 {
			o.sleep(o.stepDelay)
		}
		o.converge(ctx, owner, msg, winner)
	}

	return &ProcessResult{
		Status:     StatusLabeled,
		Label:      winner.Rule.Label,
		RuleID:     winner.Rule.ID,
		Confidence: winner.Confidence,
	}, nil
}

// clearConversation removes every active auto-applied label from every
// message in the conversation.
func (o *Orchestrator) clearConversation(ctx context.Context, owner string, messages []*Message) {
	for i, msg := range messages {
		if i > 0 {
			o.sleep(o.stepDelay)
		}
		active, err := o.audit.ActiveAutoLabels(ctx, owner, msg.ID)
		if err != nil {
			o.logger.Warn("Failed to read active labels",
				zap.String("owner", owner),
				zap.String("message_id", msg.ID),
				zap.Error(err))
			continue
		}
		for _, label := range active {
			if err := o.mailbox.RemoveLabel(ctx, owner, msg.ID, label); err != nil {
				o.logger.Warn("Failed to remove label",
					zap.String("owner", owner),
					zap.String("message_id", msg.ID),
					zap.String("label", label),
					zap.Error(err))
			}
			if err := o.audit.CloseRecord(ctx, owner, msg.ID, label); err != nil {
				o.logger.Warn("Failed to close reconciliation record",
					zap.String("owner", owner),
					zap.String("message_id", msg.ID),
					zap.String("label", label),
					zap.Error(err))
			}
		}
	}
}

// converge drives one message of a conversation toward the target label,
// logging rather than propagating mailbox failures.
func (o *Orchestrator) converge(ctx context.Context, owner string, msg *Message, winner *RuleMatch) {
	active, err := o.audit.ActiveAutoLabels(ctx, owner, msg.ID)
	if err != nil {
		o.logger.Warn("Failed to read active labels",
			zap.String("owner", owner),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return
	}

	if len(active) == 1 && active[0] == winner.Rule.Label {
		return
	}

	alreadyPresent := false
	for _, label := range active {
		if label == winner.Rule.Label {
			alreadyPresent = true
			continue
		}
		if err := o.mailbox.RemoveLabel(ctx, owner, msg.ID, label); err != nil {
			o.logger.Warn("Failed to remove label",
				zap.String("owner", owner),
				zap.String("message_id", msg.ID),
				zap.String("label", label),
				zap.Error(err))
		}
		if err := o.audit.CloseRecord(ctx, owner, msg.ID, label); err != nil {
			o.logger.Warn("Failed to close reconciliation record",
				zap.String("owner", owner),
				zap.String("message_id", msg.ID),
				zap.String("label", label),
				zap.Error(err))
		}
	}

	if alreadyPresent {
		return
	}

	if err := o.mailbox.ApplyLabel(ctx, owner, msg.ID, winner.Rule.Label, winner.Rule.Color); err != nil {
		o.logger.Warn("Failed to apply label",
			zap.String("owner", owner),
			zap.String("message_id", msg.ID),
			zap.String("label", winner.Rule.Label),
			zap.Error(err))
		return
	}
	if err := o.audit.Append(ctx, &ReconciliationRecord{
		Owner:          owner,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Label:          winner.Rule.Label,
		RuleID:         winner.Rule.ID,
		Confidence:     winner.Confidence,
		AutoApplied:    true,
		AppliedAt:      time.Now(),
	}); err != nil {
		o.logger.Warn("Failed to append reconciliation record",
			zap.String("owner", owner),
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}
}

// ProcessBatch runs the retrying single-message path over a list of message
// ids. One failing message does not stop the batch.
func (o *Orchestrator) ProcessBatch(ctx context.Context, owner string, messageIDs []string) []*ProcessResult {
	results := make([]*ProcessResult, 0, len(messageIDs))
	for i, id := range messageIDs {
		if i > 0 {
			o.sleep(o.stepDelay)
		}
		result, err := o.ProcessMessageWithRetry(ctx, owner, id)
		if err != nil {
			o.logger.Warn("Batch item failed",
				zap.String("owner", owner),
				zap.String("message_id", id),
				zap.Error(err))
		}
		results = append(results, result)
	}
	return results
}

// ProcessInitialBackfill classifies the owner's most recent messages, used
// to seed a mailbox when labeling is first enabled.
func (o *Orchestrator) ProcessInitialBackfill(ctx context.Context, owner string, max int) ([]*ProcessResult, error) {
	messages, err := o.mailbox.ListRecentMessages(ctx, owner, max)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
	}
	return o.ProcessBatch(ctx, owner, ids), nil
}

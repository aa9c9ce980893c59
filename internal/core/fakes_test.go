package core

import (
	"context"
	"strings"
	"sync"
	"time"
)

// scriptedClassifier returns canned responses. A prompt containing one of the
// byFragment keys gets that response; otherwise responses are consumed in
// order. A non-nil err fails every call.
type scriptedClassifier struct {
	mu         sync.Mutex
	byFragment map[string]string
	responses  []string
	err        error
	calls      []string
}

func (c *scriptedClassifier) Complete(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, prompt)
	if c.err != nil {
		return "", c.err
	}
	for fragment, response := range c.byFragment {
		if strings.Contains(prompt, fragment) {
			return response, nil
		}
	}
	if len(c.responses) == 0 {
		return `{"matches":false,"confidence":0.5,"reasoning":"default"}`, nil
	}
	response := c.responses[0]
	c.responses = c.responses[1:]
	return response, nil
}

func (c *scriptedClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// mapCache is an EvalCache without TTL or capacity, enough for matcher tests
type mapCache struct {
	mu      sync.Mutex
	entries map[string]*EvalResult
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]*EvalResult)}
}

func (c *mapCache) Get(key string) (*EvalResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return entry, ok
}

func (c *mapCache) Put(key string, result *EvalResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = result
}

type labelOp struct {
	messageID string
	label     string
}

// fakeMailbox serves messages from memory and records label mutations
type fakeMailbox struct {
	mu            sync.Mutex
	ownerAddress  string
	messages      map[string]*Message
	conversations map[string][]*Message
	recent        []*Message
	marker        string

	applied   []labelOp
	removed   []labelOp
	applyErr  error
	removeErr error

	getMessageCalls      []string
	getConversationCalls []string
}

func newFakeMailbox(ownerAddress string) *fakeMailbox {
	return &fakeMailbox{
		ownerAddress:  ownerAddress,
		messages:      make(map[string]*Message),
		conversations: make(map[string][]*Message),
	}
}

func (m *fakeMailbox) addMessage(msg *Message) {
	m.messages[msg.ID] = msg
	m.conversations[msg.ConversationID] = append(m.conversations[msg.ConversationID], msg)
}

func (m *fakeMailbox) GetMessage(ctx context.Context, owner, messageID string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getMessageCalls = append(m.getMessageCalls, messageID)
	msg, ok := m.messages[messageID]
	if !ok {
		return nil, NewError(KindEvaluation, "fake.get_message", nil)
	}
	return msg, nil
}

func (m *fakeMailbox) GetConversation(ctx context.Context, owner, conversationID string) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getConversationCalls = append(m.getConversationCalls, conversationID)
	return m.conversations[conversationID], nil
}

func (m *fakeMailbox) ListRecentMessages(ctx context.Context, owner string, max int) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.recent) > max {
		return m.recent[:max], nil
	}
	return m.recent, nil
}

func (m *fakeMailbox) ChangeMarker(ctx context.Context, owner string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marker, nil
}

func (m *fakeMailbox) ApplyLabel(ctx context.Context, owner, messageID, label string, color *LabelColor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return m.applyErr
	}
	m.applied = append(m.applied, labelOp{messageID: messageID, label: label})
	return nil
}

func (m *fakeMailbox) RemoveLabel(ctx context.Context, owner, messageID, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removeErr != nil {
		return m.removeErr
	}
	m.removed = append(m.removed, labelOp{messageID: messageID, label: label})
	return nil
}

func (m *fakeMailbox) ListLabels(ctx context.Context, owner string) ([]*Label, error) {
	return nil, nil
}

func (m *fakeMailbox) CreateLabel(ctx context.Context, owner, name string, color *LabelColor) (*Label, error) {
	return &Label{ID: name, Name: name, Color: color}, nil
}

func (m *fakeMailbox) OwnerAddress(ctx context.Context, owner string) (string, error) {
	return m.ownerAddress, nil
}

// fakeRuleStore filters and orders rules the way the real store does
type fakeRuleStore struct {
	rules []*Rule
}

func (s *fakeRuleStore) ListActiveRules(ctx context.Context, owner string, direction Direction) ([]*Rule, error) {
	var out []*Rule
	for _, rule := range s.rules {
		if rule.Active && rule.Direction == direction {
			out = append(out, rule)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Priority > out[i].Priority {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

// fakeAudit is an in-memory reconciliation history
type fakeAudit struct {
	mu      sync.Mutex
	records []*ReconciliationRecord
}

func (a *fakeAudit) Append(ctx context.Context, rec *ReconciliationRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	clone := *rec
	a.records = append(a.records, &clone)
	return nil
}

func (a *fakeAudit) ActiveAutoLabels(ctx context.Context, owner, messageID string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var labels []string
	for _, rec := range a.records {
		if rec.Owner == owner && rec.MessageID == messageID && rec.AutoApplied && rec.RemovedAt == nil {
			labels = append(labels, rec.Label)
		}
	}
	return labels, nil
}

func (a *fakeAudit) CloseRecord(ctx context.Context, owner, messageID, label string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	for _, rec := range a.records {
		if rec.Owner == owner && rec.MessageID == messageID && rec.Label == label && rec.RemovedAt == nil {
			rec.RemovedAt = &now
		}
	}
	return nil
}

func (a *fakeAudit) HasConversation(ctx context.Context, owner, conversationID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range a.records {
		if rec.Owner == owner && rec.ConversationID == conversationID {
			return true, nil
		}
	}
	return false, nil
}

func (a *fakeAudit) HasMessage(ctx context.Context, owner, messageID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range a.records {
		if rec.Owner == owner && rec.MessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

// openAutoLabels returns the open auto-applied labels for a message
func (a *fakeAudit) openAutoLabels(owner, messageID string) []string {
	labels, _ := a.ActiveAutoLabels(context.Background(), owner, messageID)
	return labels
}

func (a *fakeAudit) recordCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// seedOpenLabel plants an open auto-applied record, as if a prior run labeled
// the message
func (a *fakeAudit) seedOpenLabel(owner, messageID, conversationID, label string) {
	a.Append(context.Background(), &ReconciliationRecord{
		Owner:          owner,
		MessageID:      messageID,
		ConversationID: conversationID,
		Label:          label,
		AutoApplied:    true,
		AppliedAt:      time.Now(),
	})
}

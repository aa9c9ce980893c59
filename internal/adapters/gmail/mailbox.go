package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hadlow/llm-mail-labeler/internal/core"
	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

// Mailbox is an implementation of the core.Mailbox interface over the Gmail
// REST API. The thread id is the conversation id and the profile history id
// is the change marker.
type Mailbox struct {
	svc    *gmail.Service
	logger *zap.Logger

	mu       sync.Mutex
	labelIDs map[string]map[string]string // owner -> label name -> label id
}

// NewMailbox creates a new Gmail mailbox adapter
func NewMailbox(svc *gmail.Service, logger *zap.Logger) *Mailbox {
	return &Mailbox{
		svc:      svc,
		logger:   logger,
		labelIDs: make(map[string]map[string]string),
	}
}

// GetMessage fetches a single message by id
func (m *Mailbox) GetMessage(ctx context.Context, owner, messageID string) (*core.Message, error) {
	msg, err := m.svc.Users.Messages.Get(owner, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classifyError("gmail.get_message", err)
	}
	return m.toMessage(msg), nil
}

// GetConversation fetches every message in a thread
func (m *Mailbox) GetConversation(ctx context.Context, owner, conversationID string) ([]*core.Message, error) {
	thread, err := m.svc.Users.Threads.Get(owner, conversationID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classifyError("gmail.get_thread", err)
	}

	messages := make([]*core.Message, 0, len(thread.Messages))
	for _, msg := range thread.Messages {
		messages = append(messages, m.toMessage(msg))
	}
	return messages, nil
}

// ListRecentMessages fetches a window of the most recent messages
func (m *Mailbox) ListRecentMessages(ctx context.Context, owner string, max int) ([]*core.Message, error) {
	list, err := m.svc.Users.Messages.List(owner).MaxResults(int64(max)).Context(ctx).Do()
	if err != nil {
		return nil, classifyError("gmail.list_messages", err)
	}

	messages := make([]*core.Message, 0, len(list.Messages))
	for _, ref := range list.Messages {
		// The list call returns ids only; fetch metadata per message.
		msg, err := m.svc.Users.Messages.Get(owner, ref.Id).
			Format("metadata").
			MetadataHeaders("From", "To", "Cc", "Subject", "Date").
			Context(ctx).Do()
		if err != nil {
			m.logger.Warn("Failed to fetch message metadata",
				zap.String("owner", owner),
				zap.String("message_id", ref.Id),
				zap.Error(err))
			continue
		}
		messages = append(messages, m.toMessage(msg))
	}
	return messages, nil
}

// ChangeMarker returns the profile's history id as an opaque revision token
func (m *Mailbox) ChangeMarker(ctx context.Context, owner string) (string, error) {
	profile, err := m.svc.Users.GetProfile(owner).Context(ctx).Do()
	if err != nil {
		return "", classifyError("gmail.get_profile", err)
	}
	return fmt.Sprintf("%d", profile.HistoryId), nil
}

// OwnerAddress returns the owner's own email address
func (m *Mailbox) OwnerAddress(ctx context.Context, owner string) (string, error) {
	profile, err := m.svc.Users.GetProfile(owner).Context(ctx).Do()
	if err != nil {
		return "", classifyError("gmail.get_profile", err)
	}
	return profile.EmailAddress, nil
}

// ApplyLabel adds a label to a message, creating the label first if the
// owner does not have it yet.
func (m *Mailbox) ApplyLabel(ctx context.Context, owner, messageID, label string, color *core.LabelColor) error {
	labelID, err := m.ensureLabel(ctx, owner, label, color)
	if err != nil {
		return err
	}

	_, err = m.svc.Users.Messages.Modify(owner, messageID, &gmail.ModifyMessageRequest{
		AddLabelIds: []string{labelID},
	}).Context(ctx).Do()
	if err != nil {
		return classifyError("gmail.apply_label", err)
	}
	return nil
}

// RemoveLabel removes a label from a message
func (m *Mailbox) RemoveLabel(ctx context.Context, owner, messageID, label string) error {
	labelID, err := m.lookupLabel(ctx, owner, label)
	if err != nil {
		return err
	}
	if labelID == "" {
		// Label no longer exists; nothing to remove.
		return nil
	}

	_, err = m.svc.Users.Messages.Modify(owner, messageID, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{labelID},
	}).Context(ctx).Do()
	if err != nil {
		return classifyError("gmail.remove_label", err)
	}
	return nil
}

// ListLabels lists the owner's labels
func (m *Mailbox) ListLabels(ctx context.Context, owner string) ([]*core.Label, error) {
	list, err := m.svc.Users.Labels.List(owner).Context(ctx).Do()
	if err != nil {
		return nil, classifyError("gmail.list_labels", err)
	}

	labels := make([]*core.Label, 0, len(list.Labels))
	for _, l := range list.Labels {
		labels = append(labels, toLabel(l))
	}
	return labels, nil
}

// CreateLabel creates a label
func (m *Mailbox) CreateLabel(ctx context.Context, owner, name string, color *core.LabelColor) (*core.Label, error) {
	req := &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}
	if color != nil {
		req.Color = &gmail.LabelColor{
			BackgroundColor: color.Background,
			TextColor:       color.Text,
		}
	}

	created, err := m.svc.Users.Labels.Create(owner, req).Context(ctx).Do()
	if err != nil {
		return nil, classifyError("gmail.create_label", err)
	}

	m.mu.Lock()
	if m.labelIDs[owner] == nil {
		m.labelIDs[owner] = make(map[string]string)
	}
	m.labelIDs[owner][name] = created.Id
	m.mu.Unlock()

	return toLabel(created), nil
}

// ensureLabel resolves a label name to its id, creating the label on demand
func (m *Mailbox) ensureLabel(ctx context.Context, owner, name string, color *core.LabelColor) (string, error) {
	id, err := m.lookupLabel(ctx, owner, name)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	created, err := m.CreateLabel(ctx, owner, name, color)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// lookupLabel resolves a label name to its id, or "" when absent
func (m *Mailbox) lookupLabel(ctx context.Context, owner, name string) (string, error) {
	m.mu.Lock()
	if ids, ok := m.labelIDs[owner]; ok {
		if id, ok := ids[name]; ok {
			m.mu.Unlock()
			return id, nil
		}
	}
	m.mu.Unlock()

	list, err := m.svc.Users.Labels.List(owner).Context(ctx).Do()
	if err != nil {
		return "", classifyError("gmail.list_labels", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.labelIDs[owner] == nil {
		m.labelIDs[owner] = make(map[string]string)
	}
	for _, l := range list.Labels {
		m.labelIDs[owner][l.Name] = l.Id
	}
	return m.labelIDs[owner][name], nil
}

func (m *Mailbox) toMessage(msg *gmail.Message) *core.Message {
	out := &core.Message{
		ID:             msg.Id,
		ConversationID: msg.ThreadId,
		Snippet:        msg.Snippet,
		Labels:         msg.LabelIds,
		Date:           time.UnixMilli(msg.InternalDate),
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "From":
				out.From = h.Value
			case "To":
				out.To = splitAddressList(h.Value)
			case "Cc":
				out.Cc = splitAddressList(h.Value)
			case "Subject":
				out.Subject = h.Value
			}
		}
		out.Body = extractPlainText(msg.Payload)
	}
	return out
}

// extractPlainText walks the MIME tree for the first text/plain part. Gmail
// returns body data as unpadded base64url, but some clients pad it anyway.
func extractPlainText(part *gmail.MessagePart) string {
	if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(part.Body.Data, "="))
		if err != nil {
			return ""
		}
		return string(decoded)
	}
	for _, child := range part.Parts {
		if text := extractPlainText(child); text != "" {
			return text
		}
	}
	return ""
}

func splitAddressList(header string) []string {
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func toLabel(l *gmail.Label) *core.Label {
	out := &core.Label{ID: l.Id, Name: l.Name}
	if l.Color != nil {
		out.Color = &core.LabelColor{
			Background: l.Color.BackgroundColor,
			Text:       l.Color.TextColor,
		}
	}
	return out
}

// classifyError maps Gmail API failures onto the core error kinds
func classifyError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403:
			return core.NewError(core.KindInvalidCredentials, op, err)
		case apiErr.Code == 404 && op == "gmail.get_profile":
			return core.NewError(core.KindOwnerNotFound, op, err)
		case apiErr.Code == 429:
			return core.NewError(core.KindRateLimited, op, err)
		case apiErr.Code >= 500:
			return core.NewError(core.KindUnreachable, op, err)
		}
		return core.NewError(core.KindEvaluation, op, err)
	}
	return core.NewError(core.KindUnreachable, op, err)
}

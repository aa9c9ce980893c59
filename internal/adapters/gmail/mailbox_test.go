package gmail

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/hadlow/llm-mail-labeler/internal/core"
)

func plainPart(body string, enc *base64.Encoding) *gmail.MessagePart {
	return &gmail.MessagePart{
		MimeType: "text/plain",
		Body:     &gmail.MessagePartBody{Data: enc.EncodeToString([]byte(body))},
	}
}

func TestExtractPlainTextUnpadded(t *testing.T) {
	// Gmail omits base64 padding; "hello" encodes to a length that would
	// normally require it.
	part := plainPart("hello", base64.RawURLEncoding)
	assert.Equal(t, "hello", extractPlainText(part))
}

func TestExtractPlainTextPadded(t *testing.T) {
	part := plainPart("hello", base64.URLEncoding)
	assert.Equal(t, "hello", extractPlainText(part))
}

func TestExtractPlainTextNested(t *testing.T) {
	root := &gmail.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*gmail.MessagePart{
			{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("<p>hi</p>"))}},
			plainPart("plain body", base64.RawURLEncoding),
		},
	}
	assert.Equal(t, "plain body", extractPlainText(root))
}

func TestExtractPlainTextInvalidData(t *testing.T) {
	part := &gmail.MessagePart{
		MimeType: "text/plain",
		Body:     &gmail.MessagePartBody{Data: "%%not-base64%%"},
	}
	assert.Equal(t, "", extractPlainText(part))
}

func TestToMessage(t *testing.T) {
	m := &Mailbox{}
	msg := &gmail.Message{
		Id:           "m1",
		ThreadId:     "t1",
		Snippet:      "a quick note",
		LabelIds:     []string{"INBOX"},
		InternalDate: 1_700_000_000_000,
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "Alice <alice@example.com>"},
				{Name: "To", Value: "bob@example.com, carol@example.com"},
				{Name: "Subject", Value: "quarterly numbers"},
			},
			Body: &gmail.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("see attached"))},
		},
	}

	out := m.toMessage(msg)
	require.NotNil(t, out)
	assert.Equal(t, "m1", out.ID)
	assert.Equal(t, "t1", out.ConversationID)
	assert.Equal(t, "Alice <alice@example.com>", out.From)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, out.To)
	assert.Equal(t, "quarterly numbers", out.Subject)
	assert.Equal(t, "see attached", out.Body)
	assert.Equal(t, int64(1_700_000_000), out.Date.Unix())
}

func TestSplitAddressList(t *testing.T) {
	assert.Equal(t, []string{"a@x.com", "b@y.com"}, splitAddressList("a@x.com, b@y.com"))
	assert.Empty(t, splitAddressList("  ,  "))
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		op   string
		code int
		kind core.ErrKind
	}{
		{"unauthorized", "gmail.get_message", 401, core.KindInvalidCredentials},
		{"forbidden", "gmail.apply_label", 403, core.KindInvalidCredentials},
		{"profile missing", "gmail.get_profile", 404, core.KindOwnerNotFound},
		{"throttled", "gmail.list_messages", 429, core.KindRateLimited},
		{"server error", "gmail.get_message", 503, core.KindUnreachable},
		{"other client error", "gmail.get_message", 404, core.KindEvaluation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyError(tc.op, &googleapi.Error{Code: tc.code})
			assert.Equal(t, tc.kind, core.KindOf(err))
		})
	}
}

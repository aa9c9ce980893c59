package factory

import (
	"fmt"

	"github.com/hadlow/llm-mail-labeler/internal/adapters/gmail"
	"github.com/hadlow/llm-mail-labeler/internal/config"
	"github.com/hadlow/llm-mail-labeler/internal/core"
	"go.uber.org/zap"
)

// MailboxFactory creates mailbox adapters based on configuration
type MailboxFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewMailboxFactory creates a new mailbox factory
func NewMailboxFactory(cfg *config.Config, logger *zap.Logger) *MailboxFactory {
	return &MailboxFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateMailbox creates a mailbox adapter based on the configuration
func (f *MailboxFactory) CreateMailbox() (core.Mailbox, error) {
	mailboxType := f.cfg.GetString("mailbox.type")

	switch mailboxType {
	case "gmail":
		return gmail.NewFactory(f.cfg, f.logger).CreateMailbox()
	default:
		return nil, fmt.Errorf("unsupported mailbox type: %s", mailboxType)
	}
}

package gmail

import (
	"context"
	"fmt"

	"github.com/hadlow/llm-mail-labeler/internal/config"
	"github.com/hadlow/llm-mail-labeler/internal/core"
	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Factory creates new instances of the Gmail mailbox adapter
type Factory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFactory creates a new factory for Gmail mailbox instances
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateMailbox creates a new Gmail mailbox adapter
func (f *Factory) CreateMailbox() (core.Mailbox, error) {
	gmailCfg := f.cfg.GetGmail()
	if gmailCfg.CredentialsFile == "" {
		return nil, fmt.Errorf("gmail credentials file is required")
	}

	svc, err := gmail.NewService(context.Background(),
		option.WithCredentialsFile(gmailCfg.CredentialsFile),
		option.WithScopes(gmail.GmailModifyScope))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return NewMailbox(svc, f.logger), nil
}

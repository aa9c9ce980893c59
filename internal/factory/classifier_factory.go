package factory

import (
	"fmt"

	"github.com/hadlow/llm-mail-labeler/internal/adapters/bedrock"
	"github.com/hadlow/llm-mail-labeler/internal/adapters/gemini"
	"github.com/hadlow/llm-mail-labeler/internal/adapters/openai"
	"github.com/hadlow/llm-mail-labeler/internal/config"
	"github.com/hadlow/llm-mail-labeler/internal/core"
	"go.uber.org/zap"
)

// ClassifierFactory creates classifier clients
type ClassifierFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewClassifierFactory creates a new classifier factory
func NewClassifierFactory(cfg *config.Config, logger *zap.Logger) *ClassifierFactory {
	return &ClassifierFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateClassifier creates a new classifier based on the configuration
func (f *ClassifierFactory) CreateClassifier() (core.Classifier, error) {
	llmConfig := f.cfg.GetLLM()

	switch llmConfig.Provider {
	case "bedrock":
		return bedrock.NewFactory(f.cfg, f.logger).CreateClassifier()
	case "gemini":
		return gemini.NewFactory(f.cfg, f.logger).CreateClassifier()
	case "openai":
		return openai.NewFactory(f.cfg, f.logger).CreateClassifier()
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", llmConfig.Provider)
	}
}

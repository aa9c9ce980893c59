package di

import (
	"fmt"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/hadlow/llm-mail-labeler/internal/adapters/rules"
	"github.com/hadlow/llm-mail-labeler/internal/config"
	"github.com/hadlow/llm-mail-labeler/internal/core"
	"github.com/hadlow/llm-mail-labeler/internal/factory"
	"github.com/hadlow/llm-mail-labeler/internal/logging"
	"github.com/hadlow/llm-mail-labeler/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewTextProcessorFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewClassifierFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewCacheFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewAuditFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewMailboxFactory); err != nil {
		return nil, err
	}

	// Register classifier
	if err := container.Provide(func(f *factory.ClassifierFactory) (core.Classifier, error) {
		return f.CreateClassifier()
	}); err != nil {
		return nil, err
	}

	// Register evaluation cache
	if err := container.Provide(func(f *factory.CacheFactory) (core.EvalCache, error) {
		return f.CreateEvalCache()
	}); err != nil {
		return nil, err
	}

	// Register audit store
	if err := container.Provide(func(f *factory.AuditFactory) (core.AuditStore, error) {
		return f.CreateAuditStore()
	}); err != nil {
		return nil, err
	}

	// Register mailbox
	if err := container.Provide(func(f *factory.MailboxFactory) (core.Mailbox, error) {
		return f.CreateMailbox()
	}); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(func(f *factory.TextProcessorFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return nil, err
	}

	// Register rule store
	if err := container.Provide(func(logger *zap.Logger) *rules.MemoryStore {
		return rules.NewMemoryStore(logger)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s *rules.MemoryStore) core.RuleStore {
		return s
	}); err != nil {
		return nil, err
	}

	// Register matcher
	if err := container.Provide(func(
		classifier core.Classifier,
		cache core.EvalCache,
		logger *zap.Logger,
		text *utils.TextProcessor,
		cfg *config.Config,
	) *core.Matcher {
		return core.NewMatcher(
			classifier,
			cache,
			logger,
			text,
			cfg.GetFloat64("matcher.short_circuit_threshold"),
			cfg.GetInt("matcher.max_body_size"),
		)
	}); err != nil {
		return nil, err
	}

	// Register orchestrator
	if err := container.Provide(func(
		mailbox core.Mailbox,
		ruleStore core.RuleStore,
		audit core.AuditStore,
		matcher *core.Matcher,
		logger *zap.Logger,
		cfg *config.Config,
	) (*core.Orchestrator, error) {
		baseDelay, err := cfg.GetDuration("retry.base_delay")
		if err != nil {
			return nil, fmt.Errorf("invalid retry base delay: %w", err)
		}
		stepDelay, err := cfg.GetDuration("reconcile.step_delay")
		if err != nil {
			return nil, fmt.Errorf("invalid reconcile step delay: %w", err)
		}
		return core.NewOrchestrator(
			mailbox,
			ruleStore,
			audit,
			matcher,
			logger,
			cfg.GetInt("retry.max_attempts"),
			baseDelay,
			cfg.GetFloat64("retry.multiplier"),
			stepDelay,
		), nil
	}); err != nil {
		return nil, err
	}

	// Register change detector
	if err := container.Provide(func(
		mailbox core.Mailbox,
		orch *core.Orchestrator,
		audit core.AuditStore,
		logger *zap.Logger,
		cfg *config.Config,
	) (*core.Detector, error) {
		interval, err := cfg.GetDuration("polling.interval")
		if err != nil {
			return nil, fmt.Errorf("invalid polling interval: %w", err)
		}
		return core.NewDetector(
			mailbox,
			orch,
			audit,
			logger,
			interval,
			cfg.GetInt("polling.window"),
		), nil
	}); err != nil {
		return nil, err
	}

	return container, nil
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/hadlow/llm-mail-labeler/internal/adapters/cache"
	"github.com/hadlow/llm-mail-labeler/internal/config"
	"github.com/hadlow/llm-mail-labeler/internal/core"
	"github.com/hadlow/llm-mail-labeler/internal/factory"
	"github.com/hadlow/llm-mail-labeler/internal/logging"
	"github.com/hadlow/llm-mail-labeler/internal/utils"
	"go.uber.org/zap"
)

var (
	// LLM provider flags
	provider    = flag.String("provider", "openai", "LLM provider (bedrock, gemini, openai)")
	maxTokens   = flag.Int("max-tokens", 1000, "Maximum tokens for LLM response")
	temperature = flag.Float64("temperature", 0.1, "Temperature for LLM generation")
	topP        = flag.Float64("top-p", 0.9, "Top-p for LLM generation")

	// Bedrock flags
	bedrockRegion  = flag.String("bedrock-region", "us-east-1", "AWS region for Bedrock")
	bedrockModelID = flag.String("bedrock-model", "anthropic.claude-v2", "Bedrock model ID")

	// Gemini flags
	geminiAPIKey    = flag.String("gemini-api-key", "", "API key for Google Gemini")
	geminiModelName = flag.String("gemini-model", "gemini-pro", "Gemini model name")

	// OpenAI flags
	openaiAPIKey    = flag.String("openai-api-key", "", "API key for OpenAI")
	openaiModelName = flag.String("openai-model", "gpt-4", "OpenAI model name")

	// Matching flags
	rulesFile    = flag.String("rules", "", "Path to a JSON file with labeling rules")
	ownerAddress = flag.String("owner", "", "Mailbox owner's email address")
	shortCircuit = flag.Float64("short-circuit", 0.8, "Confidence threshold that stops rule evaluation early")
	maxBodySize  = flag.Int("max-body-size", 4096, "Maximum email body size in bytes sent to the classifier (0 for unlimited)")

	// Input flags
	inputFile = flag.String("file", "", "Input email file (use stdin if not specified)")
	verbose   = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog   = flag.Bool("json-log", false, "Output logs in JSON format")
)

// ruleSpec is the on-disk shape of one rule in the rules file
type ruleSpec struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Predicate string `json:"predicate"`
	Priority  int    `json:"priority"`
	Direction string `json:"direction"`
}

func main() {
	flag.Parse()

	logger, err := logging.InitConsoleLogger(*verbose, *jsonLog)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *rulesFile == "" {
		logger.Fatal("A rules file is required (-rules)")
	}

	cfg := createConfigFromFlags()

	// Initialize classifier
	classifierFactory := factory.NewClassifierFactory(cfg, logger)
	classifier, err := classifierFactory.CreateClassifier()
	if err != nil {
		logger.Fatal("Failed to create classifier", zap.Error(err))
	}

	// Load rules
	rules, err := loadRules(*rulesFile)
	if err != nil {
		logger.Fatal("Failed to load rules", zap.Error(err), zap.String("file", *rulesFile))
	}
	logger.Info("Loaded rules", zap.Int("count", len(rules)))

	// Read email from file or stdin
	var emailReader io.Reader
	if *inputFile != "" {
		file, err := os.Open(*inputFile)
		if err != nil {
			logger.Fatal("Failed to open input file", zap.Error(err), zap.String("file", *inputFile))
		}
		defer file.Close()
		emailReader = file
		logger.Info("Reading email from file", zap.String("file", *inputFile))
	} else {
		emailReader = os.Stdin
		logger.Info("Reading email from stdin")
	}

	msg, err := parseEmail(emailReader)
	if err != nil {
		logger.Fatal("Failed to parse email", zap.Error(err))
	}

	// Print email summary
	fmt.Printf("\n=== Email Summary ===\n")
	fmt.Printf("From: %s\n", msg.From)
	fmt.Printf("To: %s\n", strings.Join(msg.To, ", "))
	fmt.Printf("Subject: %s\n", msg.Subject)
	fmt.Printf("Body length: %d bytes\n", len(msg.Body))

	fmt.Printf("\n=== Analysis ===\n")
	fmt.Printf("Provider: %s\n", cfg.GetString("llm.provider"))
	fmt.Printf("Short-circuit threshold: %.2f\n", *shortCircuit)

	evalCache := cache.NewMemoryCache(logger, time.Hour, 100, 0.1)
	matcher := core.NewMatcher(classifier, evalCache, logger, utils.NewTextProcessor(logger), *shortCircuit, *maxBodySize)

	startTime := time.Now()
	match, err := matcher.FindBestMatch(context.Background(), msg, nil, rules, *ownerAddress)
	if err != nil {
		logger.Fatal("Failed to evaluate rules", zap.Error(err))
	}
	duration := time.Since(startTime)

	fmt.Printf("\n=== Results ===\n")
	if match == nil {
		fmt.Printf("No rule matched\n")
	} else {
		fmt.Printf("Winning label: %s\n", match.Rule.Label)
		fmt.Printf("Rule: %s (priority %d)\n", match.Rule.ID, match.Rule.Priority)
		fmt.Printf("Confidence: %.4f\n", match.Confidence)
		fmt.Printf("Reasoning: %s\n", match.Reasoning)
	}
	fmt.Printf("Processing time: %v\n", duration)

	// Close any resources that need closing
	if closer, ok := classifier.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close classifier", zap.Error(err))
		}
	}
}

// parseEmail reads an RFC-822 message into the core message shape
func parseEmail(r io.Reader) (*core.Message, error) {
	msg, err := mail.ReadMessage(bufio.NewReader(r))
	if err != nil {
		return nil, err
	}

	bodyBytes, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, err
	}
	body := string(bodyBytes)

	snippet := body
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}

	out := &core.Message{
		From:    msg.Header.Get("From"),
		Subject: msg.Header.Get("Subject"),
		Body:    body,
		Snippet: snippet,
	}
	if to := msg.Header.Get("To"); to != "" {
		out.To = strings.Split(to, ",")
	}
	if cc := msg.Header.Get("Cc"); cc != "" {
		out.Cc = strings.Split(cc, ",")
	}
	if date, err := msg.Header.Date(); err == nil {
		out.Date = date
	}
	return out, nil
}

// loadRules reads labeling rules from a JSON file
func loadRules(path string) ([]*core.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var specs []ruleSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	rules := make([]*core.Rule, 0, len(specs))
	for i, spec := range specs {
		direction := core.Direction(spec.Direction)
		if direction == "" {
			direction = core.DirectionReceived
		}
		id := spec.ID
		if id == "" {
			id = fmt.Sprintf("rule-%d", i+1)
		}
		rules = append(rules, &core.Rule{
			ID:        id,
			Label:     spec.Label,
			Predicate: spec.Predicate,
			Priority:  spec.Priority,
			Active:    true,
			Direction: direction,
		})
	}
	return rules, nil
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags() *config.Config {
	v := config.NewEmptyViper()

	// Set LLM provider
	v.Set("llm.provider", *provider)

	// Set provider-specific configuration
	switch *provider {
	case "bedrock":
		v.Set("bedrock.region", *bedrockRegion)
		v.Set("bedrock.model_id", *bedrockModelID)
		v.Set("bedrock.max_tokens", *maxTokens)
		v.Set("bedrock.temperature", *temperature)
		v.Set("bedrock.top_p", *topP)
	case "gemini":
		v.Set("gemini.api_key", *geminiAPIKey)
		v.Set("gemini.model_name", *geminiModelName)
		v.Set("gemini.max_tokens", *maxTokens)
		v.Set("gemini.temperature", *temperature)
		v.Set("gemini.top_p", *topP)
	case "openai":
		v.Set("openai.api_key", *openaiAPIKey)
		v.Set("openai.model_name", *openaiModelName)
		v.Set("openai.max_tokens", *maxTokens)
		v.Set("openai.temperature", *temperature)
		v.Set("openai.top_p", *topP)
	}

	v.Set("matcher.short_circuit_threshold", *shortCircuit)

	return config.NewFromViper(v)
}

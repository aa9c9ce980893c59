package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hadlow/llm-mail-labeler/internal/core"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIClassifier is an implementation of the Classifier interface using OpenAI
type OpenAIClassifier struct {
	client      *openai.Client
	modelName   string
	maxTokens   int
	temperature float32
	topP        float32
	logger      *zap.Logger
}

// NewOpenAIClassifier creates a new OpenAI classifier
func NewOpenAIClassifier(
	client *openai.Client,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	logger *zap.Logger,
) *OpenAIClassifier {
	return &OpenAIClassifier{
		client:      client,
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		logger:      logger,
	}
}

// Complete sends a prompt and returns the raw model output
func (c *OpenAIClassifier) Complete(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an email triage assistant. Respond only with JSON.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
	}
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return "", core.NewError(core.KindEvaluation, "openai.complete", fmt.Errorf("empty response"))
	}

	return resp.Choices[0].Message.Content, nil
}

// classifyError maps OpenAI API failures onto the core error kinds
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return core.NewError(core.KindInvalidCredentials, "openai.complete", err)
		case apiErr.HTTPStatusCode == 429:
			if code, ok := apiErr.Code.(string); ok && strings.Contains(code, "insufficient_quota") {
				return core.NewError(core.KindQuotaExhausted, "openai.complete", err)
			}
			return core.NewError(core.KindRateLimited, "openai.complete", err)
		case apiErr.HTTPStatusCode >= 500:
			return core.NewError(core.KindUnreachable, "openai.complete", err)
		}
		return core.NewError(core.KindEvaluation, "openai.complete", err)
	}
	// Transport-level failures never reached the API
	return core.NewError(core.KindUnreachable, "openai.complete", err)
}

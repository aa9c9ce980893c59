package gemini

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/hadlow/llm-mail-labeler/internal/core"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
)

// GeminiClassifier is an implementation of the Classifier interface using Google Gemini
type GeminiClassifier struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
	logger    *zap.Logger
}

// NewGeminiClassifier creates a new Gemini classifier
func NewGeminiClassifier(
	client *genai.Client,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	logger *zap.Logger,
) *GeminiClassifier {
	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetTopP(topP)
	model.SetMaxOutputTokens(int32(maxTokens))

	return &GeminiClassifier{
		client:    client,
		model:     model,
		modelName: modelName,
		logger:    logger,
	}
}

// Close closes the Gemini client
func (c *GeminiClassifier) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Complete sends a prompt and returns the raw model output
func (c *GeminiClassifier) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", core.NewError(core.KindEvaluation, "gemini.complete", fmt.Errorf("empty response"))
	}

	return fmt.Sprintf("%v", resp.Candidates[0].Content.Parts[0]), nil
}

// classifyError maps Gemini API failures onto the core error kinds
func classifyError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403:
			return core.NewError(core.KindInvalidCredentials, "gemini.complete", err)
		case apiErr.Code == 429:
			return core.NewError(core.KindRateLimited, "gemini.complete", err)
		case apiErr.Code >= 500:
			return core.NewError(core.KindUnreachable, "gemini.complete", err)
		}
		return core.NewError(core.KindEvaluation, "gemini.complete", err)
	}
	return core.NewError(core.KindUnreachable, "gemini.complete", err)
}

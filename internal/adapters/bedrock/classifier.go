package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"github.com/hadlow/llm-mail-labeler/internal/core"
	"go.uber.org/zap"
)

// BedrockClassifier is an implementation of the Classifier interface using Amazon Bedrock
type BedrockClassifier struct {
	client      *bedrockruntime.Client
	modelID     string
	maxTokens   int
	temperature float32
	topP        float32
	logger      *zap.Logger
}

// NewBedrockClassifier creates a new Bedrock classifier
func NewBedrockClassifier(
	client *bedrockruntime.Client,
	modelID string,
	maxTokens int,
	temperature float32,
	topP float32,
	logger *zap.Logger,
) *BedrockClassifier {
	return &BedrockClassifier{
		client:      client,
		modelID:     modelID,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		logger:      logger,
	}
}

func (c *BedrockClassifier) isAnthropicModel() bool {
	return strings.Contains(c.modelID, "anthropic")
}

func (c *BedrockClassifier) isAmazonTitanModel() bool {
	return strings.Contains(c.modelID, "amazon.titan")
}

// Complete sends a prompt and returns the raw model output
func (c *BedrockClassifier) Complete(ctx context.Context, prompt string) (string, error) {
	var payload []byte
	var err error

	if c.isAnthropicModel() {
		payload, err = json.Marshal(map[string]interface{}{
			"prompt":               prompt,
			"max_tokens_to_sample": c.maxTokens,
			"temperature":          c.temperature,
			"top_p":                c.topP,
		})
	} else if c.isAmazonTitanModel() {
		payload, err = json.Marshal(map[string]interface{}{
			"inputText": prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": c.maxTokens,
				"temperature":   c.temperature,
				"topP":          c.topP,
			},
		})
	} else {
		payload, err = json.Marshal(map[string]interface{}{
			"prompt":      prompt,
			"max_tokens":  c.maxTokens,
			"temperature": c.temperature,
			"top_p":       c.topP,
		})
	}
	if err != nil {
		return "", core.NewError(core.KindEvaluation, "bedrock.complete", fmt.Errorf("marshal request payload: %w", err))
	}

	resp, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &c.modelID,
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", classifyError(err)
	}

	return c.extractText(resp.Body)
}

func (c *BedrockClassifier) extractText(body []byte) (string, error) {
	if c.isAnthropicModel() {
		var claudeResp struct {
			Completion string `json:"completion"`
		}
		if err := json.Unmarshal(body, &claudeResp); err != nil {
			return "", core.NewError(core.KindEvaluation, "bedrock.complete", fmt.Errorf("unmarshal Claude response: %w", err))
		}
		return claudeResp.Completion, nil
	}

	if c.isAmazonTitanModel() {
		var titanResp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &titanResp); err != nil {
			return "", core.NewError(core.KindEvaluation, "bedrock.complete", fmt.Errorf("unmarshal Titan response: %w", err))
		}
		if len(titanResp.Results) == 0 {
			return "", core.NewError(core.KindEvaluation, "bedrock.complete", fmt.Errorf("empty response from Titan model"))
		}
		return titanResp.Results[0].OutputText, nil
	}

	var genericResp struct {
		Output   string `json:"output"`
		Text     string `json:"text"`
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &genericResp); err != nil {
		return "", core.NewError(core.KindEvaluation, "bedrock.complete", fmt.Errorf("unmarshal response: %w", err))
	}
	switch {
	case genericResp.Output != "":
		return genericResp.Output, nil
	case genericResp.Text != "":
		return genericResp.Text, nil
	case genericResp.Response != "":
		return genericResp.Response, nil
	}
	return string(body), nil
}

// classifyError maps Bedrock API failures onto the core error kinds
func classifyError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "UnrecognizedClientException", "AccessDeniedException", "ExpiredTokenException":
			return core.NewError(core.KindInvalidCredentials, "bedrock.complete", err)
		case "ThrottlingException", "TooManyRequestsException":
			return core.NewError(core.KindRateLimited, "bedrock.complete", err)
		case "ServiceQuotaExceededException":
			return core.NewError(core.KindQuotaExhausted, "bedrock.complete", err)
		case "ServiceUnavailableException", "InternalServerException", "ModelTimeoutException":
			return core.NewError(core.KindUnreachable, "bedrock.complete", err)
		}
		return core.NewError(core.KindEvaluation, "bedrock.complete", err)
	}
	return core.NewError(core.KindUnreachable, "bedrock.complete", err)
}

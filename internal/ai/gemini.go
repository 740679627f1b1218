package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/kozaktomas/facepass/internal/constants"
	"github.com/kozaktomas/facepass/internal/embedding"
)

const geminiModel = "gemini-2.5-flash"

// GeminiClassifier classifies facial expressions with a Gemini vision model.
type GeminiClassifier struct {
	client *genai.Client
	mu     sync.Mutex
	usage  Usage
}

func NewGeminiClassifier(ctx context.Context, apiKey string) (*GeminiClassifier, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClassifier{client: client}, nil
}

func (p *GeminiClassifier) Name() string {
	return geminiModel
}

func (p *GeminiClassifier) GetUsage() Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage
}

func (p *GeminiClassifier) trackUsage(inputTokens, outputTokens int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.usage.Requests++
	p.usage.InputTokens += int(inputTokens)
	p.usage.OutputTokens += int(outputTokens)
}

func (p *GeminiClassifier) ClassifyExpression(ctx context.Context, imageData []byte) (embedding.Expressions, error) {
	resizedData, err := ResizeImage(imageData, constants.MaxImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: expressionPrompt},
				{InlineData: &genai.Blob{Data: resizedData, MIMEType: "image/jpeg"}},
			},
		},
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	var lastError error
	for range maxRetries {
		result, err := p.client.Models.GenerateContent(ctx, geminiModel, contents, config)
		if err != nil {
			return nil, fmt.Errorf("gemini API error: %w", err)
		}
		if result.UsageMetadata != nil {
			p.trackUsage(result.UsageMetadata.PromptTokenCount, result.UsageMetadata.CandidatesTokenCount)
		}

		content := result.Text()
		if content == "" {
			return nil, errors.New("no response from Gemini")
		}

		expressions, err := parseExpressionAnalysis(content)
		if err == nil || errors.Is(err, embedding.ErrNoFace) {
			return expressions, err
		}
		lastError = err

		contents = append(contents,
			&genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: content}},
			},
			&genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: fmt.Sprintf("JSON parse error: %v. Please fix the JSON and try again.", err)}},
			},
		)
	}

	return nil, fmt.Errorf("failed to parse expression JSON after %d attempts: %w", maxRetries, lastError)
}

var _ embedding.ExpressionClassifier = (*GeminiClassifier)(nil)

package ai

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kozaktomas/facepass/internal/embedding"
)

//go:embed prompts/expression.txt
var expressionPrompt string

// maxRetries bounds the number of attempts when the model returns malformed JSON.
const maxRetries = 3

// Usage tracks token usage across requests.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Requests     int
}

// expressionAnalysis is the JSON object the vision model is asked to return.
type expressionAnalysis struct {
	FacesCount  int                `json:"faces_count"`
	Expressions map[string]float64 `json:"expressions"`
}

// parseExpressionAnalysis decodes a model response into expression probabilities.
// Labels are lower-cased and probabilities clamped to [0, 1].
func parseExpressionAnalysis(content string) (embedding.Expressions, error) {
	var analysis expressionAnalysis
	if err := json.Unmarshal([]byte(content), &analysis); err != nil {
		return nil, fmt.Errorf("parse expression JSON: %w", err)
	}
	if analysis.FacesCount == 0 || len(analysis.Expressions) == 0 {
		return nil, embedding.ErrNoFace
	}

	result := make(embedding.Expressions, len(analysis.Expressions))
	for label, p := range analysis.Expressions {
		switch {
		case p < 0:
			p = 0
		case p > 1:
			p = 1
		}
		result[strings.ToLower(strings.TrimSpace(label))] = p
	}
	return result, nil
}

// Package adjudicator provides the semantic similarity oracle consulted
// for ambiguous two-member duplicate groups. The oracle is an injected
// capability: the decision engine runs fine with the conservative default
// and needs no live external call.
package adjudicator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"larder/internal/models"
)

// SimilarityOracle answers whether two ingredient display names refer to
// the same real-world ingredient.
type SimilarityOracle interface {
	Compare(ctx context.Context, nameA, nameB string) (models.OracleVerdict, error)
}

// Conservative is the default oracle: it never affirms similarity, so
// every deferred group lands in needs_review.
type Conservative struct{}

// Compare implements SimilarityOracle
func (Conservative) Compare(ctx context.Context, nameA, nameB string) (models.OracleVerdict, error) {
	return models.OracleVerdict{
		Similar:    false,
		Reason:     "semantic adjudication disabled",
		Confidence: 0,
	}, nil
}

const comparePrompt = `You are helping deduplicate a recipe ingredient catalog.
Are these two ingredient names the same real-world ingredient?

Ingredient A: %q
Ingredient B: %q

Consider spelling variants, pluralization, and common synonyms, but treat
genuinely different products (e.g. "vinegar" vs "vinaigrette") as different.
Respond with only a JSON object, no markdown:
{"similar": true/false, "reason": "<short explanation>", "confidence": <0.0-1.0>}`

// LLMOracle adjudicates name pairs through a language model
type LLMOracle struct {
	model llms.LLM
	log   *zap.Logger
}

// NewLLMOracle wraps an initialized langchaingo model
func NewLLMOracle(model llms.LLM, log *zap.Logger) *LLMOracle {
	if log == nil {
		log = zap.NewNop()
	}
	return &LLMOracle{model: model, log: log}
}

// Compare implements SimilarityOracle
func (o *LLMOracle) Compare(ctx context.Context, nameA, nameB string) (models.OracleVerdict, error) {
	prompt := fmt.Sprintf(comparePrompt, nameA, nameB)

	raw, err := o.model.Call(ctx, prompt)
	if err != nil {
		return models.OracleVerdict{}, fmt.Errorf("llm call failed: %w", err)
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		return models.OracleVerdict{}, fmt.Errorf("unparseable llm verdict: %w", err)
	}
	o.log.Debug("llm verdict",
		zap.String("a", nameA),
		zap.String("b", nameB),
		zap.Bool("similar", verdict.Similar),
		zap.Float64("confidence", verdict.Confidence),
	)
	return verdict, nil
}

// parseVerdict tolerates code fences and surrounding prose around the
// JSON object the prompt asks for.
func parseVerdict(raw string) (models.OracleVerdict, error) {
	s := strings.TrimSpace(raw)
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}

	var verdict models.OracleVerdict
	if err := json.Unmarshal([]byte(s), &verdict); err != nil {
		return models.OracleVerdict{}, err
	}
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	return verdict, nil
}

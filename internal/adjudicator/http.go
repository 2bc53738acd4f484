package adjudicator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"larder/internal/models"
)

// HTTPOracle adjudicates name pairs through a generic JSON endpoint. The
// endpoint receives {"name_a": ..., "name_b": ...} and answers with the
// verdict shape. Useful for self-hosted or provider-agnostic setups.
type HTTPOracle struct {
	client *resty.Client
	log    *zap.Logger
}

type compareRequest struct {
	NameA string `json:"name_a"`
	NameB string `json:"name_b"`
}

// NewHTTPOracle builds an oracle against the given endpoint URL
func NewHTTPOracle(endpoint, apiKey string, timeout time.Duration, log *zap.Logger) *HTTPOracle {
	if log == nil {
		log = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout)
	if apiKey != "" {
		client.SetHeader("Authorization", fmt.Sprintf("Bearer %s", apiKey))
	}
	return &HTTPOracle{client: client, log: log}
}

// Compare implements SimilarityOracle
func (o *HTTPOracle) Compare(ctx context.Context, nameA, nameB string) (models.OracleVerdict, error) {
	var verdict models.OracleVerdict

	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(compareRequest{NameA: nameA, NameB: nameB}).
		SetResult(&verdict).
		Post("")
	if err != nil {
		return models.OracleVerdict{}, fmt.Errorf("adjudicator request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return models.OracleVerdict{}, fmt.Errorf("adjudicator returned %d: %s", resp.StatusCode(), resp.String())
	}

	o.log.Debug("http verdict",
		zap.String("a", nameA),
		zap.String("b", nameB),
		zap.Bool("similar", verdict.Similar),
		zap.Float64("confidence", verdict.Confidence),
	)
	return verdict, nil
}

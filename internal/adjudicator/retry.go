package adjudicator

import (
	"context"

	"go.uber.org/zap"

	"larder/internal/models"
)

// Retrying wraps an oracle with bounded retries on transport failure.
// After exhausting retries it returns the conservative fallback verdict
// instead of an error, so a flaky adjudicator never aborts a batch.
type Retrying struct {
	oracle  SimilarityOracle
	retries int
	log     *zap.Logger
}

// WithRetry wraps the given oracle. retries is the number of attempts
// after the first; values below zero are treated as one.
func WithRetry(oracle SimilarityOracle, retries int, log *zap.Logger) *Retrying {
	if retries < 0 {
		retries = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Retrying{oracle: oracle, retries: retries, log: log}
}

// Compare implements SimilarityOracle. It never returns an error.
func (r *Retrying) Compare(ctx context.Context, nameA, nameB string) (models.OracleVerdict, error) {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		verdict, err := r.oracle.Compare(ctx, nameA, nameB)
		if err == nil {
			return verdict, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		r.log.Warn("oracle attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	r.log.Warn("oracle exhausted retries, using conservative fallback",
		zap.String("a", nameA),
		zap.String("b", nameB),
		zap.Error(lastErr),
	)
	return models.OracleVerdict{
		Similar:    false,
		Reason:     "adjudicator unavailable",
		Confidence: 0,
	}, nil
}

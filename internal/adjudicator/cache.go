package adjudicator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"larder/internal/models"
)

// Cached wraps an oracle with a Redis-backed verdict cache so repeated
// analysis runs don't re-pay for pairs already adjudicated. Cache errors
// degrade to a plain oracle call, never to a failed comparison.
type Cached struct {
	oracle SimilarityOracle
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewCached connects to Redis and wraps the given oracle. Returns an
// error if the server is unreachable; callers treat the cache as optional
// and fall back to the bare oracle.
func NewCached(oracle SimilarityOracle, addr string, ttl time.Duration, log *zap.Logger) (*Cached, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Cached{oracle: oracle, client: client, ttl: ttl, log: log}, nil
}

// Close releases the Redis connection
func (c *Cached) Close() error {
	return c.client.Close()
}

// verdictKey is order-independent: Compare(a,b) and Compare(b,a) share an
// entry.
func verdictKey(nameA, nameB string) string {
	if nameB < nameA {
		nameA, nameB = nameB, nameA
	}
	sum := sha256.Sum256([]byte(nameA + "\x00" + nameB))
	return "larder:verdict:" + hex.EncodeToString(sum[:])
}

// Compare implements SimilarityOracle
func (c *Cached) Compare(ctx context.Context, nameA, nameB string) (models.OracleVerdict, error) {
	key := verdictKey(nameA, nameB)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var verdict models.OracleVerdict
		if err := json.Unmarshal(data, &verdict); err == nil {
			c.log.Debug("verdict cache hit", zap.String("a", nameA), zap.String("b", nameB))
			return verdict, nil
		}
	} else if err != redis.Nil {
		c.log.Warn("verdict cache read failed", zap.Error(err))
	}

	verdict, err := c.oracle.Compare(ctx, nameA, nameB)
	if err != nil {
		return verdict, err
	}

	if data, err := json.Marshal(verdict); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.log.Warn("verdict cache write failed", zap.Error(err))
		}
	}
	return verdict, nil
}

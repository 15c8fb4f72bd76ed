// File: internal/recovery/ai/cache.go
// Description: Response cache backends for the cached-response strategy.
// The default is an in-memory store; a Redis backend is available when the
// cache should be shared across helper processes.

package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jsodeh/sabi/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// similarityThreshold is the minimum token overlap for a similar-input hit.
const similarityThreshold = 0.75

// -- In-memory backend --

type memoryEntry struct {
	input    string
	tokens   map[string]bool
	resp     schemas.AIResponse
	storedAt time.Time
}

// MemoryCache is a bounded in-memory ResponseCache. Eviction is
// oldest-first when the entry cap is hit; there is no TTL because the cache
// does not outlive the process anyway.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	maxEntries int
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &MemoryCache{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
	}
}

// Get is the exact-match lookup by input hash.
func (c *MemoryCache) Get(_ context.Context, hash string) (schemas.AIResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[hash]; ok {
		return e.resp, true
	}
	return schemas.AIResponse{}, false
}

// GetSimilar returns the best token-overlap match above the threshold.
func (c *MemoryCache) GetSimilar(_ context.Context, input string) (schemas.AIResponse, bool) {
	want := tokenize(input)
	if len(want) == 0 {
		return schemas.AIResponse{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var best schemas.AIResponse
	bestScore := 0.0
	for _, e := range c.entries {
		score := overlap(want, e.tokens)
		if score > bestScore {
			bestScore = score
			best = e.resp
		}
	}
	if bestScore < similarityThreshold {
		return schemas.AIResponse{}, false
	}
	return best, true
}

// Put stores the response, evicting the oldest entry if at capacity.
func (c *MemoryCache) Put(_ context.Context, hash, input string, resp schemas.AIResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[hash]; !exists && len(c.entries) >= c.maxEntries {
		oldestKey := ""
		var oldest time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.storedAt.Before(oldest) {
				oldestKey = k
				oldest = e.storedAt
			}
		}
		delete(c.entries, oldestKey)
	}

	c.entries[hash] = memoryEntry{
		input:    input,
		tokens:   tokenize(input),
		resp:     resp,
		storedAt: time.Now(),
	}
	return nil
}

// Len returns the number of cached entries. Tests and diagnostics.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// tokenize lowercases and splits on non-letter/digit boundaries.
func tokenize(input string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		out[tok] = true
	}
	return out
}

// overlap is the Jaccard index of two token sets.
func overlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// -- Redis backend --

const (
	redisKeyPrefix = "sabi:ai:cache:"
	redisIndexKey  = "sabi:ai:cache:index"
	redisIndexCap  = 256
)

type redisEntry struct {
	Input    string             `json:"input"`
	Response schemas.AIResponse `json:"response"`
}

// RedisCache stores responses in Redis with a TTL. A capped index list keeps
// similarity lookups bounded.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(url, password string, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl, logger: logger.Named("recovery.ai.cache")}, nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error { return c.rdb.Close() }

func (c *RedisCache) Get(ctx context.Context, hash string) (schemas.AIResponse, bool) {
	raw, err := c.rdb.Get(ctx, redisKeyPrefix+hash).Bytes()
	if err != nil {
		return schemas.AIResponse{}, false
	}
	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("Corrupt cache entry dropped", zap.String("hash", hash), zap.Error(err))
		c.rdb.Del(ctx, redisKeyPrefix+hash)
		return schemas.AIResponse{}, false
	}
	return e.Response, true
}

func (c *RedisCache) GetSimilar(ctx context.Context, input string) (schemas.AIResponse, bool) {
	want := tokenize(input)
	if len(want) == 0 {
		return schemas.AIResponse{}, false
	}

	hashes, err := c.rdb.LRange(ctx, redisIndexKey, 0, redisIndexCap-1).Result()
	if err != nil {
		return schemas.AIResponse{}, false
	}

	var best schemas.AIResponse
	bestScore := 0.0
	for _, hash := range hashes {
		raw, err := c.rdb.Get(ctx, redisKeyPrefix+hash).Bytes()
		if err != nil {
			continue
		}
		var e redisEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		if score := overlap(want, tokenize(e.Input)); score > bestScore {
			bestScore = score
			best = e.Response
		}
	}
	if bestScore < similarityThreshold {
		return schemas.AIResponse{}, false
	}
	return best, true
}

func (c *RedisCache) Put(ctx context.Context, hash, input string, resp schemas.AIResponse) error {
	raw, err := json.Marshal(redisEntry{Input: input, Response: resp})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+hash, raw, c.ttl)
	pipe.LPush(ctx, redisIndexKey, hash)
	pipe.LTrim(ctx, redisIndexKey, 0, redisIndexCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

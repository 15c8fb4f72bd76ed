// File: internal/recovery/ai/recovery.go
// Description: Recovery for AI-processing failures. Strategies are tried in
// declared priority order, gated by per-request applicability; the template
// response is the always-available last resort, with an explicitly labeled
// degraded response behind it when degraded mode is enabled.

package ai

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jsodeh/sabi/api/schemas"
	"github.com/jsodeh/sabi/internal/recovery/retry"
)

// ResponseDataKey indexes the recovered AIResponse in RecoveryResult.Data.
const ResponseDataKey = "response"

// Config bounds AI recovery. Its retry cap and ledger are independent from
// the browser module's.
type Config struct {
	MaxRetries     int
	FallbackModels []string
	DegradedMode   bool
	CacheEnabled   bool
	Timeout        time.Duration
}

// aiStrategy is one candidate remedy. Applicability is evaluated per request,
// so not every strategy runs for every failure.
type aiStrategy interface {
	name() string
	applicable(req schemas.AIRequest, cause error) bool
	execute(ctx context.Context, req schemas.AIRequest, cfg schemas.AIModelConfig, cause error) (schemas.AIResponse, string, error)
}

// Recovery runs the AI-side strategy list. Construct once, reuse across
// error events.
type Recovery struct {
	cfg        Config
	processor  schemas.AIProcessor
	cache      schemas.ResponseCache
	ledger     *retry.Ledger
	strategies []aiStrategy
	logger     *zap.Logger
}

// New creates an AI Recovery bound to the given processor and cache. The
// cache may be nil when caching is disabled.
func New(cfg Config, processor schemas.AIProcessor, cache schemas.ResponseCache, logger *zap.Logger) *Recovery {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	r := &Recovery{
		cfg:       cfg,
		processor: processor,
		cache:     cache,
		ledger:    retry.NewLedger(),
		logger:    logger.Named("recovery.ai"),
	}
	// Priority order 1..6. Template response is always last.
	r.strategies = []aiStrategy{
		retryAdjusted{processor: processor},
		fallbackModel{processor: processor, models: cfg.FallbackModels},
		simplifyInput{processor: processor},
		cachedResponse{cache: cache, enabled: cfg.CacheEnabled},
		breakdown{processor: processor},
		templateResponse{},
	}
	return r
}

// Ledger exposes the module's retry ledger for introspection and tests.
func (r *Recovery) Ledger() *retry.Ledger { return r.ledger }

// Remember stores a successful response for the cached-response strategy.
// Call it from the happy path so the cache has something to serve later.
func (r *Recovery) Remember(ctx context.Context, req schemas.AIRequest, resp schemas.AIResponse) {
	if !r.cfg.CacheEnabled || r.cache == nil {
		return
	}
	if err := r.cache.Put(ctx, req.InputHash(), req.Input, resp); err != nil {
		r.logger.Warn("Failed to cache AI response", zap.Error(err))
	}
}

// Recover attempts to produce a usable response for the failed request.
// Bookkeeping is keyed by (processing type, input hash) and cleared on
// success.
func (r *Recovery) Recover(ctx context.Context, req schemas.AIRequest, modelCfg schemas.AIModelConfig, cause error) schemas.RecoveryResult {
	start := time.Now()
	key := retry.Key{Operation: string(req.ProcessingType), Kind: req.InputHash()}

	if r.ledger.Attempts(key) >= r.cfg.MaxRetries {
		r.logger.Warn("AI retry cap reached, refusing further recovery",
			zap.String("processing_type", string(req.ProcessingType)),
			zap.String("input_hash", req.InputHash()),
		)
		return schemas.RecoveryResult{
			Success:    false,
			Message:    "maximum retry attempts exceeded",
			Elapsed:    time.Since(start),
			RetryCount: r.ledger.Attempts(key),
		}
	}
	attempt := r.ledger.Increment(key)

	r.logger.Info("Attempting AI recovery",
		zap.String("processing_type", string(req.ProcessingType)),
		zap.Int("attempt", attempt),
		zap.NamedError("cause", cause),
	)

	var attempted []string
	for _, s := range r.strategies {
		if ctx.Err() != nil {
			return schemas.RecoveryResult{
				Success:     false,
				Message:     "recovery cancelled",
				Adaptations: attempted,
				Elapsed:     time.Since(start),
				RetryCount:  attempt,
			}
		}
		if !s.applicable(req, cause) {
			continue
		}

		resp, adaptation, err := r.runStrategy(ctx, s, req, modelCfg, cause)
		if err != nil {
			if ctx.Err() != nil {
				return schemas.RecoveryResult{
					Success:     false,
					Message:     "recovery cancelled",
					Adaptations: attempted,
					Elapsed:     time.Since(start),
					RetryCount:  attempt,
				}
			}
			attempted = append(attempted, fmt.Sprintf("Attempted %s", s.name()))
			r.logger.Warn("AI recovery strategy failed",
				zap.String("strategy", s.name()),
				zap.Error(err),
			)
			continue
		}

		r.ledger.Clear(key)
		r.logger.Info("AI recovery succeeded",
			zap.String("strategy", s.name()),
			zap.String("adaptation", adaptation),
		)
		return schemas.RecoveryResult{
			Success:     true,
			Message:     fmt.Sprintf("recovered via %s", s.name()),
			Adaptations: []string{adaptation},
			Elapsed:     time.Since(start),
			RetryCount:  attempt,
			Data:        map[string]any{ResponseDataKey: resp},
		}
	}

	if r.cfg.DegradedMode {
		// A minimal non-AI response beats failing the learner outright.
		resp := degradedResponse(req)
		r.ledger.Clear(key)
		return schemas.RecoveryResult{
			Success:     true,
			Message:     "degraded response produced after all strategies failed",
			Adaptations: append(attempted, "Produced degraded non-AI response"),
			Elapsed:     time.Since(start),
			RetryCount:  attempt,
			Data:        map[string]any{ResponseDataKey: resp},
		}
	}

	return schemas.RecoveryResult{
		Success:     false,
		Message:     "all AI recovery strategies exhausted",
		Adaptations: attempted,
		Elapsed:     time.Since(start),
		RetryCount:  attempt,
	}
}

// runStrategy isolates one strategy execution with the module timeout and
// panic containment.
func (r *Recovery) runStrategy(ctx context.Context, s aiStrategy, req schemas.AIRequest, cfg schemas.AIModelConfig, cause error) (resp schemas.AIResponse, adaptation string, err error) {
	sctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("AI recovery strategy panicked",
				zap.String("strategy", s.name()),
				zap.Any("panic", p),
			)
			err = fmt.Errorf("strategy %s panicked: %v", s.name(), p)
		}
	}()
	return s.execute(sctx, req, cfg, cause)
}

// degradedResponse is the reduced, clearly labeled fallback when every
// strategy failed and degraded mode is on.
func degradedResponse(req schemas.AIRequest) schemas.AIResponse {
	content := "The assistant is temporarily unavailable. You can continue with the current step; guidance will resume shortly."
	if step := req.Context["step"]; step != "" {
		content = fmt.Sprintf("The assistant is temporarily unavailable. You can continue with %q on your own; guidance will resume shortly.", step)
	}
	return schemas.AIResponse{
		Content:  content,
		Degraded: true,
	}
}

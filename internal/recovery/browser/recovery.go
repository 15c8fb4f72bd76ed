// File: internal/recovery/browser/recovery.go
// Description: Recovery chains for browser-automation failures. Each
// BrowserErrorType has a fixed, ordered chain of concrete strategies; the
// first success wins and reports the adaptation it applied.

package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jsodeh/sabi/api/schemas"
	"github.com/jsodeh/sabi/internal/recovery/retry"
)

// Config gates the optional strategies and bounds the retry bookkeeping.
type Config struct {
	MaxRetries         int
	RetryDelay         time.Duration
	FallbackSelectors  bool
	ScreenshotAnalysis bool
	AdaptiveSelectors  bool
}

// errAbortChain signals that no further strategy in the chain can help
// (e.g. the network is confirmed down).
var errAbortChain = errors.New("recovery chain aborted")

// strategy is one step of a recovery chain. Implementations are a fixed set
// of concrete types; see strategies.go.
type strategy interface {
	name() string
	execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error)
}

// Recovery runs the browser-side recovery chains. It is safe to construct
// once and reuse across many error events; the only state it holds is its
// own retry ledger.
type Recovery struct {
	cfg    Config
	driver schemas.BrowserDriver
	ledger *retry.Ledger
	logger *zap.Logger
}

// New creates a browser Recovery bound to the given driver.
func New(cfg Config, driver schemas.BrowserDriver, logger *zap.Logger) *Recovery {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Recovery{
		cfg:    cfg,
		driver: driver,
		ledger: retry.NewLedger(),
		logger: logger.Named("recovery.browser"),
	}
}

// Ledger exposes the module's retry ledger for introspection and tests.
func (r *Recovery) Ledger() *retry.Ledger { return r.ledger }

// Recover attempts to recover the failed action. It enforces the per-action
// retry cap, runs the chain for the failure kind in order, and short-circuits
// on the first success.
func (r *Recovery) Recover(ctx context.Context, action schemas.BrowserAction, berr *schemas.BrowserError) schemas.RecoveryResult {
	start := time.Now()
	key := retry.Key{Operation: action.ID, Kind: string(berr.Type)}

	if r.ledger.Attempts(key) >= r.cfg.MaxRetries {
		r.logger.Warn("Retry cap reached, refusing further recovery",
			zap.String("action", action.ID),
			zap.String("error_type", string(berr.Type)),
		)
		return schemas.RecoveryResult{
			Success:    false,
			Message:    "maximum retry attempts exceeded",
			Elapsed:    time.Since(start),
			RetryCount: r.ledger.Attempts(key),
		}
	}
	attempt := r.ledger.Increment(key)

	r.logger.Info("Attempting browser recovery",
		zap.String("action", action.ID),
		zap.String("error_type", string(berr.Type)),
		zap.Int("attempt", attempt),
	)

	var attempted []string
	for _, s := range r.chainFor(action, berr) {
		if ctx.Err() != nil {
			return schemas.RecoveryResult{
				Success:     false,
				Message:     "recovery cancelled",
				Adaptations: attempted,
				Elapsed:     time.Since(start),
				RetryCount:  attempt,
			}
		}

		res, err := r.runStrategy(ctx, s, action)
		attempted = append(attempted, res.Adaptations...)

		if err != nil {
			if errors.Is(err, errAbortChain) {
				return schemas.RecoveryResult{
					Success:     false,
					Message:     res.Message,
					Adaptations: attempted,
					Elapsed:     time.Since(start),
					RetryCount:  attempt,
				}
			}
			// A failed strategy must not abort the loop.
			r.logger.Warn("Recovery strategy failed",
				zap.String("strategy", s.name()),
				zap.Error(err),
			)
			continue
		}

		if res.Success {
			r.ledger.Clear(key)
			res.Elapsed = time.Since(start)
			res.RetryCount = attempt
			r.logger.Info("Browser recovery succeeded",
				zap.String("strategy", s.name()),
				zap.Strings("adaptations", res.Adaptations),
			)
			return res
		}

		if res.NewError != nil {
			// The one legitimate escalation: recovery produced a different,
			// user-facing error instead of a plain failure.
			res.Adaptations = attempted
			res.Elapsed = time.Since(start)
			res.RetryCount = attempt
			return res
		}
	}

	return schemas.RecoveryResult{
		Success:     false,
		Message:     fmt.Sprintf("all recovery strategies exhausted for %s", berr.Type),
		Adaptations: attempted,
		Elapsed:     time.Since(start),
		RetryCount:  attempt,
	}
}

// runStrategy isolates one strategy execution, converting panics into plain
// strategy failures so the chain keeps going.
func (r *Recovery) runStrategy(ctx context.Context, s strategy, action schemas.BrowserAction) (res schemas.RecoveryResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("Recovery strategy panicked",
				zap.String("strategy", s.name()),
				zap.Any("panic", p),
			)
			res = schemas.RecoveryResult{}
			err = fmt.Errorf("strategy %s panicked: %v", s.name(), p)
		}
	}()
	return s.execute(ctx, action)
}

// chainFor selects the ordered strategy chain for the failure kind,
// respecting the configured feature gates.
func (r *Recovery) chainFor(action schemas.BrowserAction, berr *schemas.BrowserError) []strategy {
	d := r.driver
	delay := r.cfg.RetryDelay

	switch berr.Type {
	case schemas.BrowserErrElementNotFound:
		var chain []strategy
		if r.cfg.FallbackSelectors && len(action.FallbackSelectors) > 0 {
			chain = append(chain, fallbackSelector{driver: d})
		}
		chain = append(chain, waitRetry{driver: d, delay: delay})
		if r.cfg.AdaptiveSelectors {
			chain = append(chain, adaptiveSelector{driver: d})
		}
		if r.cfg.ScreenshotAnalysis {
			chain = append(chain, visualLocate{driver: d, berr: berr})
		}
		return chain

	case schemas.BrowserErrTimeout:
		chain := []strategy{
			extendTimeout{driver: d},
			waitReadyRetry{driver: d},
		}
		if action.Kind == schemas.ActionClick || action.Kind == schemas.ActionType {
			chain = append(chain, simplifiedExec{driver: d})
		}
		return chain

	case schemas.BrowserErrNavigation:
		return []strategy{
			waitRetry{driver: d, delay: 2 * delay},
			urlEquivalence{driver: d},
			altNavigation{driver: d},
		}

	case schemas.BrowserErrAuthentication:
		return []strategy{
			authStatusRetry{driver: d},
			tokenRefresh{driver: d},
			authEscalate{},
		}

	case schemas.BrowserErrNetwork:
		chain := []strategy{
			connectivityGate{driver: d},
			networkBackoff{driver: d, base: delay},
		}
		if action.SupportsOffline {
			chain = append(chain, offlineExec{driver: d})
		}
		return chain

	case schemas.BrowserErrJavaScript:
		return []strategy{
			stabilizeRetry{driver: d},
			altInteraction{driver: d},
			reloadRetry{driver: d},
		}

	case schemas.BrowserErrPermission:
		return []strategy{
			requestPermission{driver: d, berr: berr},
			permissionlessAlt{driver: d},
		}
	}

	// Unknown failure kinds get a single delayed retry.
	return []strategy{waitRetry{driver: d, delay: delay}}
}

// File: internal/recovery/handler.go
// Description: The dispatcher. Classifies raw failures, enforces retry caps,
// routes browser/AI failures to their domain modules and everything else
// through the recovery action registry, and fans classified errors out to
// subscribers.

package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/jsodeh/sabi/api/schemas"
	"github.com/jsodeh/sabi/internal/config"
	airec "github.com/jsodeh/sabi/internal/recovery/ai"
	browserrec "github.com/jsodeh/sabi/internal/recovery/browser"
	"github.com/jsodeh/sabi/internal/recovery/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler is the single entry point for failure handling. It is an
// explicitly constructed service with a defined lifecycle; there is no
// ambient global instance.
type Handler struct {
	cfg      config.RecoveryConfig
	logger   *zap.Logger
	registry *Registry
	ledger   *retry.Ledger

	browser *browserrec.Recovery
	ai      *airec.Recovery

	mu          sync.RWMutex
	subscribers []schemas.Subscriber
	history     []*schemas.SystemError
	frequency   map[string]int

	notifyWG sync.WaitGroup
	closed   atomic.Bool
}

// New constructs a Handler. The driver, processor and cache are the injected
// collaborators; any of them may be nil, in which case the corresponding
// domain routing falls back to the generic registry strategies.
func New(cfg *config.Config, logger *zap.Logger, driver schemas.BrowserDriver, processor schemas.AIProcessor, cache schemas.ResponseCache) (*Handler, error) {
	if cfg == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize error handler with nil config or logger")
	}

	h := &Handler{
		cfg:       cfg.Recovery,
		logger:    logger.Named("recovery"),
		ledger:    retry.NewLedger(),
		frequency: make(map[string]int),
	}
	h.registry = buildRegistry(cfg.Recovery, driver)

	if driver != nil {
		h.browser = browserrec.New(browserrec.Config{
			MaxRetries:         cfg.Recovery.MaxRetries,
			RetryDelay:         cfg.Recovery.RetryDelay,
			FallbackSelectors:  cfg.Recovery.Browser.FallbackSelectorsEnabled,
			ScreenshotAnalysis: cfg.Recovery.Browser.ScreenshotAnalysisEnabled,
			AdaptiveSelectors:  cfg.Recovery.Browser.AdaptiveSelectorsEnabled,
		}, driver, logger)
	}
	if processor != nil {
		h.ai = airec.New(airec.Config{
			MaxRetries:     cfg.Recovery.AI.MaxRetries,
			FallbackModels: cfg.Recovery.AI.FallbackModels,
			DegradedMode:   cfg.Recovery.AI.DegradedModeEnabled,
			CacheEnabled:   cfg.Recovery.AI.CacheEnabled,
			Timeout:        cfg.Recovery.AI.Timeout,
		}, processor, cache, logger)
	}

	return h, nil
}

// buildRegistry wires the generic per-category recovery actions. Domain
// categories get a modest delayed-retry default that only applies when no
// domain module (or no operation payload) is available.
func buildRegistry(cfg config.RecoveryConfig, driver schemas.BrowserDriver) *Registry {
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	// The ladder may only report success when something confirms recovery;
	// with a driver present its connectivity check is that probe.
	var online func(ctx context.Context) bool
	if driver != nil {
		online = driver.Online
	}

	r := NewRegistry()
	r.Register(schemas.CategoryNetwork, schemas.RecoveryAction{
		ID:                 "network-backoff",
		Kind:               schemas.StrategyRetry,
		Description:        "Wait through a capped exponential backoff ladder",
		Automated:          true,
		EstimatedCost:      14 * delay,
		SuccessProbability: 0.7,
		Strategy:           backoffLadder{delays: []time.Duration{2 * delay, 4 * delay, 8 * delay}, probe: online},
	})
	r.Register(schemas.CategoryUserInterface, schemas.RecoveryAction{
		ID:                 "ui-delayed-retry",
		Kind:               schemas.StrategyRetry,
		Description:        "Wait briefly, then re-render",
		Automated:          true,
		EstimatedCost:      delay,
		SuccessProbability: 0.6,
		Strategy:           delayedRetry{delay: delay},
	})
	r.Register(schemas.CategoryUserInterface, schemas.RecoveryAction{
		ID:                 "ui-degrade",
		Kind:               schemas.StrategyGracefulDegradation,
		Description:        "Continue with a reduced view",
		Automated:          true,
		SuccessProbability: 0.3,
		Strategy:           gracefulDegradation{},
	})
	r.Register(schemas.CategoryAuthentication, schemas.RecoveryAction{
		ID:                 "auth-user-intervention",
		Kind:               schemas.StrategyUserIntervention,
		Description:        "Ask the user to sign in again",
		SuccessProbability: 0.9,
		Strategy:           userIntervention{},
	})
	r.Register(schemas.CategoryUserInput, schemas.RecoveryAction{
		ID:                 "input-user-intervention",
		Kind:               schemas.StrategyUserIntervention,
		Description:        "Ask the user for corrected input",
		SuccessProbability: 0.8,
		Strategy:           userIntervention{},
	})
	r.Register(schemas.CategoryUserInput, schemas.RecoveryAction{
		ID:                 "input-degrade",
		Kind:               schemas.StrategyGracefulDegradation,
		Description:        "Continue without the optional input",
		Automated:          true,
		SuccessProbability: 0.4,
		Strategy:           gracefulDegradation{},
	})
	r.Register(schemas.CategoryBrowserAutomation, schemas.RecoveryAction{
		ID:                 "browser-delayed-retry",
		Kind:               schemas.StrategyRetry,
		Description:        "Wait briefly, then retry the automation step",
		Automated:          true,
		EstimatedCost:      delay,
		SuccessProbability: 0.5,
		Strategy:           delayedRetry{delay: delay},
	})
	r.Register(schemas.CategoryAIProcessing, schemas.RecoveryAction{
		ID:                 "ai-delayed-retry",
		Kind:               schemas.StrategyRetry,
		Description:        "Wait briefly, then retry the AI request",
		Automated:          true,
		EstimatedCost:      delay,
		SuccessProbability: 0.5,
		Strategy:           delayedRetry{delay: delay},
	})
	return r
}

// Registry exposes the action registry, e.g. for registering additional
// actions at wiring time.
func (h *Handler) Registry() *Registry { return h.registry }

// Handle classifies the failure and attempts recovery. It is safe for
// concurrent use; independent error events recover in parallel.
func (h *Handler) Handle(ctx context.Context, err error, ectx schemas.ErrorContext) schemas.RecoveryResult {
	start := time.Now()
	if err == nil {
		return schemas.RecoveryResult{Success: true, Message: "no error to handle"}
	}

	serr := Classify(err, ectx)
	serr.Metadata.MaxRetries = h.cfg.MaxRetries
	h.record(serr)
	h.notify(serr)

	if !serr.Recoverable {
		// Never attempt recovery for a non-recoverable error.
		h.logger.Warn("Non-recoverable error, skipping recovery",
			zap.String("category", string(serr.Category)),
			zap.String("type", serr.Type),
		)
		return schemas.RecoveryResult{
			Success: false,
			Message: "error is not recoverable",
			Elapsed: time.Since(start),
		}
	}

	if ctx.Err() != nil {
		return schemas.RecoveryResult{
			Success: false,
			Message: "recovery cancelled",
			Elapsed: time.Since(start),
		}
	}

	// Domain routing: failures carrying their operation payload go to the
	// matching recovery module, which keeps its own ledger.
	switch serr.Category {
	case schemas.CategoryBrowserAutomation:
		if h.browser != nil && ectx.BrowserAction != nil {
			res := h.browser.Recover(ctx, *ectx.BrowserAction, browserErrorFrom(err, serr))
			serr.Metadata.RetryCount = res.RetryCount
			if res.NewError != nil {
				h.record(res.NewError)
				h.notify(res.NewError)
			}
			return res
		}
	case schemas.CategoryAIProcessing:
		if h.ai != nil && ectx.AIRequest != nil {
			var mc schemas.AIModelConfig
			if ectx.ModelConfig != nil {
				mc = *ectx.ModelConfig
			}
			res := h.ai.Recover(ctx, *ectx.AIRequest, mc, err)
			serr.Metadata.RetryCount = res.RetryCount
			return res
		}
	}

	return h.attemptGeneric(ctx, serr, start)
}

// attemptGeneric runs the registry's strategy list for the error category,
// in descending success-probability order, with per-strategy isolation.
func (h *Handler) attemptGeneric(ctx context.Context, serr *schemas.SystemError, start time.Time) schemas.RecoveryResult {
	key := retry.Key{Operation: operationIdentity(serr), Kind: serr.Type}

	if n := h.ledger.Attempts(key); n >= h.cfg.MaxRetries {
		h.logger.Warn("Retry cap reached, refusing further recovery",
			zap.String("operation", key.Operation),
			zap.String("kind", key.Kind),
		)
		serr.Metadata.RetryCount = n
		return schemas.RecoveryResult{
			Success:    false,
			Message:    "maximum retry attempts exceeded",
			Elapsed:    time.Since(start),
			RetryCount: n,
		}
	}
	attempt := h.ledger.Increment(key)
	serr.Metadata.RetryCount = attempt

	var attempted []string
	for _, action := range h.registry.ActionsFor(serr.Category, serr.Strategies) {
		if ctx.Err() != nil {
			return schemas.RecoveryResult{
				Success:     false,
				Message:     "recovery cancelled",
				Adaptations: attempted,
				Elapsed:     time.Since(start),
				RetryCount:  attempt,
			}
		}

		res, err := h.runAction(ctx, action, serr)
		attempted = append(attempted, res.Adaptations...)
		if err != nil {
			// A failed strategy execution must not abort the loop.
			h.logger.Warn("Recovery action failed",
				zap.String("action", action.ID),
				zap.Error(err),
			)
			continue
		}
		if res.Success {
			h.ledger.Clear(key)
			res.Elapsed = time.Since(start)
			res.RetryCount = attempt
			return res
		}
		if res.NewError != nil {
			h.record(res.NewError)
			h.notify(res.NewError)
			res.Adaptations = attempted
			res.Elapsed = time.Since(start)
			res.RetryCount = attempt
			return res
		}
	}

	return schemas.RecoveryResult{
		Success:     false,
		Message:     fmt.Sprintf("all recovery actions exhausted for %s", serr.Category),
		Adaptations: attempted,
		Elapsed:     time.Since(start),
		RetryCount:  attempt,
	}
}

// runAction isolates one registry action, converting panics into plain
// failures.
func (h *Handler) runAction(ctx context.Context, action schemas.RecoveryAction, serr *schemas.SystemError) (res schemas.RecoveryResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			h.logger.Warn("Recovery action panicked",
				zap.String("action", action.ID),
				zap.Any("panic", p),
			)
			res = schemas.RecoveryResult{}
			err = fmt.Errorf("action %s panicked: %v", action.ID, p)
		}
	}()
	if action.Strategy == nil {
		return schemas.RecoveryResult{}, fmt.Errorf("action %s has no strategy", action.ID)
	}
	return action.Strategy.Execute(ctx, serr)
}

// operationIdentity picks the caller-supplied identity for ledger keying,
// falling back to the category when the context names nothing.
func operationIdentity(serr *schemas.SystemError) string {
	if serr.Context.StepID != "" {
		return serr.Context.StepID
	}
	if serr.Context.ToolName != "" {
		return serr.Context.ToolName
	}
	return string(serr.Category)
}

// browserErrorFrom recovers the typed browser failure, synthesizing one from
// the classified record when the raw error was untyped.
func browserErrorFrom(err error, serr *schemas.SystemError) *schemas.BrowserError {
	var berr *schemas.BrowserError
	if errors.As(err, &berr) {
		return berr
	}
	return &schemas.BrowserError{
		Type:        browserErrorTypeFromMessage(serr.Message),
		Message:     serr.Message,
		Recoverable: true,
	}
}

func browserErrorTypeFromMessage(msg string) schemas.BrowserErrorType {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return schemas.BrowserErrTimeout
	case strings.Contains(lower, "navigat"):
		return schemas.BrowserErrNavigation
	case strings.Contains(lower, "auth"), strings.Contains(lower, "login"):
		return schemas.BrowserErrAuthentication
	case strings.Contains(lower, "network"), strings.Contains(lower, "connection"):
		return schemas.BrowserErrNetwork
	case strings.Contains(lower, "permission"):
		return schemas.BrowserErrPermission
	case strings.Contains(lower, "script"):
		return schemas.BrowserErrJavaScript
	default:
		return schemas.BrowserErrElementNotFound
	}
}

// -- Notification --

// OnError subscribes to every classified SystemError. Delivery is
// fire-and-forget and isolated per subscriber.
func (h *Handler) OnError(sub schemas.Subscriber) {
	if sub == nil || h.closed.Load() {
		return
	}
	h.mu.Lock()
	h.subscribers = append(h.subscribers, sub)
	h.mu.Unlock()
}

func (h *Handler) notify(serr *schemas.SystemError) {
	// The closed check and the WaitGroup adds happen under the same lock
	// Shutdown acquires after closing, so Wait cannot start between them.
	h.mu.RLock()
	if h.closed.Load() {
		h.mu.RUnlock()
		return
	}
	subs := make([]schemas.Subscriber, len(h.subscribers))
	copy(subs, h.subscribers)
	h.notifyWG.Add(len(subs))
	h.mu.RUnlock()

	for _, sub := range subs {
		go func() {
			defer h.notifyWG.Done()
			defer func() {
				if p := recover(); p != nil {
					h.logger.Warn("Error subscriber panicked", zap.Any("panic", p))
				}
			}()
			sub(serr)
		}()
	}
}

// -- History & Lifecycle --

func (h *Handler) record(serr *schemas.SystemError) {
	freqKey := string(serr.Category) + ":" + serr.Type

	h.mu.Lock()
	defer h.mu.Unlock()

	h.frequency[freqKey]++
	serr.Metadata.Frequency = h.frequency[freqKey]

	h.history = append(h.history, serr)
	if limit := h.cfg.HistoryLimit; limit > 0 && len(h.history) > limit {
		h.history = h.history[len(h.history)-limit:]
	}
}

// History returns a copy of the in-memory error history. It does not survive
// process restarts.
func (h *Handler) History() []*schemas.SystemError {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*schemas.SystemError, len(h.history))
	copy(out, h.history)
	return out
}

// Frequency returns per-(category, type) occurrence counts.
func (h *Handler) Frequency() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.frequency))
	for k, v := range h.frequency {
		out[k] = v
	}
	return out
}

// ClearHistory drops the error history and frequency counters.
func (h *Handler) ClearHistory() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = nil
	h.frequency = make(map[string]int)
}

// ExportHistory renders the history as JSON for the diagnostics panel.
func (h *Handler) ExportHistory() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return json.MarshalIndent(h.history, "", "  ")
}

// Shutdown stops accepting subscribers and waits for in-flight
// notifications to drain.
func (h *Handler) Shutdown() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	// Pairs with the lock held across notify's closed check and adds: once
	// acquired here, every notify that saw the handler open has registered
	// its deliveries.
	h.mu.Lock()
	h.mu.Unlock()
	h.notifyWG.Wait()
}

package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/jsodeh/sabi/api/schemas"
	"github.com/jsodeh/sabi/internal/config"
	"github.com/jsodeh/sabi/internal/recovery/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testConfig returns defaults with delays shrunk so backoff strategies do not
// slow the suite down.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Recovery.RetryDelay = time.Millisecond
	cfg.Recovery.AI.Timeout = time.Second
	return cfg
}

func newTestHandler(t *testing.T, driver schemas.BrowserDriver, processor schemas.AIProcessor) *Handler {
	t.Helper()
	h, err := New(testConfig(), zaptest.NewLogger(t), driver, processor, nil)
	require.NoError(t, err)
	t.Cleanup(h.Shutdown)
	return h
}

// -- Fakes --

// fakeDriver implements schemas.BrowserDriver with overridable behavior.
type fakeDriver struct {
	executeFn func(ctx context.Context, action schemas.BrowserAction) (schemas.ActionResult, error)
	onlineFn  func(ctx context.Context) bool
}

func (d *fakeDriver) Execute(ctx context.Context, action schemas.BrowserAction) (schemas.ActionResult, error) {
	if d.executeFn != nil {
		return d.executeFn(ctx, action)
	}
	return schemas.ActionResult{Success: true}, nil
}

func (d *fakeDriver) ExecuteSimplified(ctx context.Context, action schemas.BrowserAction) (schemas.ActionResult, error) {
	return schemas.ActionResult{}, errors.New("not implemented")
}

func (d *fakeDriver) ExecuteOffline(ctx context.Context, action schemas.BrowserAction) (schemas.ActionResult, error) {
	return schemas.ActionResult{}, errors.New("not implemented")
}

func (d *fakeDriver) Navigate(context.Context, string) error      { return errors.New("not implemented") }
func (d *fakeDriver) CurrentURL(context.Context) (string, error)  { return "", errors.New("no page") }
func (d *fakeDriver) WaitReady(context.Context) error             { return nil }
func (d *fakeDriver) Reload(context.Context) error                { return nil }
func (d *fakeDriver) Screenshot(context.Context) ([]byte, error)  { return nil, errors.New("no page") }
func (d *fakeDriver) AuthStatus(context.Context) (bool, error)    { return false, nil }
func (d *fakeDriver) RefreshAuth(context.Context) error           { return errors.New("no session") }
func (d *fakeDriver) RequestPermission(context.Context, string) error {
	return errors.New("not implemented")
}

func (d *fakeDriver) LocateVisually(context.Context, []byte, schemas.BrowserAction) (schemas.Selector, bool, error) {
	return schemas.Selector{}, false, nil
}

func (d *fakeDriver) Online(ctx context.Context) bool {
	if d.onlineFn != nil {
		return d.onlineFn(ctx)
	}
	return true
}

// fakeProcessor implements schemas.AIProcessor.
type fakeProcessor struct {
	processFn func(ctx context.Context, req schemas.AIRequest, cfg schemas.AIModelConfig) (schemas.AIResponse, error)
}

func (p *fakeProcessor) Process(ctx context.Context, req schemas.AIRequest, cfg schemas.AIModelConfig) (schemas.AIResponse, error) {
	if p.processFn != nil {
		return p.processFn(ctx, req, cfg)
	}
	return schemas.AIResponse{}, errors.New("model unavailable")
}

// spyStrategy records whether it ran.
type spyStrategy struct {
	calls *atomic.Int32
	res   schemas.RecoveryResult
	err   error
}

func (s spyStrategy) Execute(context.Context, *schemas.SystemError) (schemas.RecoveryResult, error) {
	s.calls.Add(1)
	return s.res, s.err
}

// -- Tests --

func TestHandleNilError(t *testing.T) {
	h := newTestHandler(t, nil, nil)
	res := h.Handle(context.Background(), nil, schemas.ErrorContext{})
	assert.True(t, res.Success)
	assert.Empty(t, h.History())
}

func TestHandleNonRecoverableSkipsStrategies(t *testing.T) {
	h := newTestHandler(t, nil, nil)

	var calls atomic.Int32
	h.Registry().Register(schemas.CategorySystem, schemas.RecoveryAction{
		ID:                 "system-spy",
		Kind:               schemas.StrategyRetry,
		SuccessProbability: 1.0,
		Strategy:           spyStrategy{calls: &calls, res: schemas.RecoveryResult{Success: true}},
	})

	res := h.Handle(context.Background(), errors.New("critical scheduler fault"), schemas.ErrorContext{})

	assert.False(t, res.Success)
	assert.Equal(t, "error is not recoverable", res.Message)
	assert.Equal(t, int32(0), calls.Load(), "no strategy may run for non-recoverable errors")

	// The error is still recorded and visible in history.
	require.Len(t, h.History(), 1)
	assert.Equal(t, schemas.CategorySystem, h.History()[0].Category)
}

func TestHandleGenericRecoverySucceeds(t *testing.T) {
	h := newTestHandler(t, nil, nil)

	// The delayed retry is only an advisory; recovery succeeds through the
	// degradation action behind it.
	res := h.Handle(context.Background(), errors.New("ui glitch in preview"), schemas.ErrorContext{StepID: "step-1"})

	assert.True(t, res.Success)
	require.NotEmpty(t, res.Adaptations)
	assert.Contains(t, res.Adaptations[0], "Degraded")
	// Success clears the ledger entry for the operation.
	assert.Equal(t, 0, h.ledger.Attempts(retry.Key{Operation: "step-1", Kind: "ui_fault"}))
}

func TestHandleNetworkBackoffRequiresConfirmation(t *testing.T) {
	offline := func(context.Context) bool { return false }
	h := newTestHandler(t, &fakeDriver{onlineFn: offline}, nil)
	ectx := schemas.ErrorContext{StepID: "step-net"}

	// While connectivity stays down the ladder cannot succeed, so every call
	// consumes one attempt from the retry budget.
	for i := 0; i < 3; i++ {
		res := h.Handle(context.Background(), errors.New("network request failed"), ectx)
		assert.False(t, res.Success, "attempt %d", i+1)
		assert.Equal(t, i+1, res.RetryCount)
		assert.NotEqual(t, "maximum retry attempts exceeded", res.Message)
	}

	res := h.Handle(context.Background(), errors.New("network request failed"), ectx)
	assert.False(t, res.Success)
	assert.Equal(t, "maximum retry attempts exceeded", res.Message)
}

func TestHandleNetworkBackoffSucceedsWhenOnline(t *testing.T) {
	h := newTestHandler(t, &fakeDriver{}, nil)

	res := h.Handle(context.Background(), errors.New("network request failed"), schemas.ErrorContext{StepID: "step-net"})

	assert.True(t, res.Success)
	assert.Equal(t, "connectivity restored during backoff", res.Message)
	assert.Equal(t, 0, h.ledger.Attempts(retry.Key{Operation: "step-net", Kind: "network_fault"}))
}

func TestHandleNetworkWithoutProbeCannotSucceed(t *testing.T) {
	h := newTestHandler(t, nil, nil)

	// No driver means nothing can confirm recovery; the ledger entry stays.
	res := h.Handle(context.Background(), errors.New("network request failed"), schemas.ErrorContext{StepID: "step-net"})

	assert.False(t, res.Success)
	assert.Equal(t, 1, h.ledger.Attempts(retry.Key{Operation: "step-net", Kind: "network_fault"}))
}

func TestHandleRetryCap(t *testing.T) {
	h := newTestHandler(t, nil, nil)
	ectx := schemas.ErrorContext{StepID: "step-auth"}

	// Authentication recovery escalates to the user, which does not succeed
	// and therefore never clears the ledger.
	for i := 0; i < 3; i++ {
		res := h.Handle(context.Background(), errors.New("auth token expired"), ectx)
		assert.False(t, res.Success, "attempt %d", i+1)
		assert.NotEqual(t, "maximum retry attempts exceeded", res.Message)
	}

	res := h.Handle(context.Background(), errors.New("auth token expired"), ectx)
	assert.False(t, res.Success)
	assert.Equal(t, "maximum retry attempts exceeded", res.Message)
}

func TestHandleStrategyPanicDoesNotAbort(t *testing.T) {
	h := newTestHandler(t, nil, nil)

	h.Registry().Register(schemas.CategoryNetwork, schemas.RecoveryAction{
		ID:                 "panicky",
		Kind:               schemas.StrategyRetry,
		SuccessProbability: 0.99, // runs before the built-in backoff
		Strategy:           panicStrategy{},
	})

	res := h.Handle(context.Background(), errors.New("network request failed"), schemas.ErrorContext{StepID: "step-net"})
	require.NotEmpty(t, res.Adaptations, "the backoff ladder after the panicking action must still run")
	assert.Contains(t, res.Adaptations[0], "Backed off")
}

type panicStrategy struct{}

func (panicStrategy) Execute(context.Context, *schemas.SystemError) (schemas.RecoveryResult, error) {
	panic("strategy blew up")
}

func TestHandleContextCancelled(t *testing.T) {
	h := newTestHandler(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.Handle(ctx, errors.New("network request failed"), schemas.ErrorContext{})
	assert.False(t, res.Success)
	assert.Equal(t, "recovery cancelled", res.Message)
}

func TestHandleRoutesBrowserErrors(t *testing.T) {
	alt := schemas.Selector{Type: "css", Value: "#alt"}
	driver := &fakeDriver{
		executeFn: func(_ context.Context, action schemas.BrowserAction) (schemas.ActionResult, error) {
			if action.Selector == alt {
				return schemas.ActionResult{Success: true}, nil
			}
			return schemas.ActionResult{}, &schemas.BrowserError{
				Type: schemas.BrowserErrElementNotFound, Message: "no match", Recoverable: true,
			}
		},
	}
	h := newTestHandler(t, driver, nil)

	action := schemas.BrowserAction{
		ID:                "click-publish",
		Kind:              schemas.ActionClick,
		Selector:          schemas.Selector{Type: "css", Value: "#publish"},
		FallbackSelectors: []schemas.Selector{alt},
	}
	berr := &schemas.BrowserError{Type: schemas.BrowserErrElementNotFound, Message: "element not found", Recoverable: true}

	res := h.Handle(context.Background(), berr, schemas.ErrorContext{
		StepID:        "step-2",
		BrowserAction: &action,
	})

	assert.True(t, res.Success)
	assert.Equal(t, []string{"Used fallback selector: css=#alt"}, res.Adaptations)
}

func TestHandleSynthesizesBrowserErrorFromMessage(t *testing.T) {
	driver := &fakeDriver{
		executeFn: func(context.Context, schemas.BrowserAction) (schemas.ActionResult, error) {
			return schemas.ActionResult{Success: true}, nil
		},
	}
	h := newTestHandler(t, driver, nil)

	action := schemas.BrowserAction{ID: "wait-editor", Kind: schemas.ActionWait}

	// An untyped error whose message classifies as browser automation still
	// reaches the browser module, keyed by a synthesized failure kind.
	res := h.Handle(context.Background(), errors.New("element vanished mid-step"), schemas.ErrorContext{
		BrowserAction: &action,
	})
	assert.True(t, res.Success)
}

func TestHandleRoutesAIErrors(t *testing.T) {
	h := newTestHandler(t, nil, &fakeProcessor{})

	req := schemas.AIRequest{ProcessingType: schemas.ProcessingText, Input: "short ask"}
	res := h.Handle(context.Background(), errors.New("model overloaded"), schemas.ErrorContext{
		AIRequest:   &req,
		ModelConfig: &schemas.AIModelConfig{Model: "primary"},
	})

	// With a dead processor, no fallbacks and no cache, the template response
	// still produces a usable outcome.
	assert.True(t, res.Success)
	assert.Contains(t, res.Adaptations, "Generated template response")
	require.Contains(t, res.Data, "response")
}

func TestDomainRoutedRecoveryRecordsRetryCount(t *testing.T) {
	driver := &fakeDriver{
		executeFn: func(context.Context, schemas.BrowserAction) (schemas.ActionResult, error) {
			return schemas.ActionResult{Success: true}, nil
		},
	}
	h := newTestHandler(t, driver, &fakeProcessor{})

	action := schemas.BrowserAction{ID: "wait-editor", Kind: schemas.ActionWait}
	res := h.Handle(context.Background(), errors.New("element vanished mid-step"), schemas.ErrorContext{
		BrowserAction: &action,
	})
	assert.Equal(t, 1, res.RetryCount)

	req := schemas.AIRequest{ProcessingType: schemas.ProcessingText, Input: "short ask"}
	res = h.Handle(context.Background(), errors.New("model overloaded"), schemas.ErrorContext{
		AIRequest:   &req,
		ModelConfig: &schemas.AIModelConfig{Model: "primary"},
	})
	assert.Equal(t, 1, res.RetryCount)

	// The attempt counts land on the records surfaced through history.
	hist := h.History()
	require.Len(t, hist, 2)
	assert.Equal(t, 1, hist[0].Metadata.RetryCount)
	assert.Equal(t, 1, hist[1].Metadata.RetryCount)
}

func TestHandleWithoutPayloadFallsBackToRegistry(t *testing.T) {
	h := newTestHandler(t, &fakeDriver{}, nil)

	// A browser-classified error without its action payload cannot be
	// re-executed; the generic registry handles it instead, and its delayed
	// retry is only an unverified advisory.
	res := h.Handle(context.Background(), errors.New("element not found"), schemas.ErrorContext{StepID: "step-9"})
	assert.False(t, res.Success)
	require.NotEmpty(t, res.Adaptations)
	assert.Contains(t, res.Adaptations[0], "Waited")
}

func TestSubscribersAreNotifiedAndIsolated(t *testing.T) {
	h := newTestHandler(t, nil, nil)

	var mu sync.Mutex
	var seen []*schemas.SystemError
	h.OnError(func(*schemas.SystemError) {
		panic("bad subscriber")
	})
	h.OnError(func(serr *schemas.SystemError) {
		mu.Lock()
		seen = append(seen, serr)
		mu.Unlock()
	})

	h.Handle(context.Background(), errors.New("ui glitch"), schemas.ErrorContext{})
	h.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, schemas.CategoryUserInterface, seen[0].Category)
}

func TestHistoryAndFrequency(t *testing.T) {
	h := newTestHandler(t, nil, nil)

	h.Handle(context.Background(), errors.New("ui glitch"), schemas.ErrorContext{})
	h.Handle(context.Background(), errors.New("ui glitch"), schemas.ErrorContext{})
	h.Handle(context.Background(), errors.New("network request failed"), schemas.ErrorContext{})

	assert.Len(t, h.History(), 3)
	freq := h.Frequency()
	assert.Equal(t, 2, freq["user_interface:ui_fault"])
	assert.Equal(t, 1, freq["network:network_fault"])

	// The second occurrence carries its running frequency.
	assert.Equal(t, 2, h.History()[1].Metadata.Frequency)

	raw, err := h.ExportHistory()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "user_interface")

	h.ClearHistory()
	assert.Empty(t, h.History())
	assert.Empty(t, h.Frequency())
}

func TestHistoryLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Recovery.HistoryLimit = 5
	h, err := New(cfg, zaptest.NewLogger(t), nil, nil, nil)
	require.NoError(t, err)
	defer h.Shutdown()

	for i := 0; i < 12; i++ {
		h.Handle(context.Background(), fmt.Errorf("ui glitch %d", i), schemas.ErrorContext{})
	}

	hist := h.History()
	require.Len(t, hist, 5)
	assert.Contains(t, hist[4].Message, "11")
}

func TestNewRejectsNilConfig(t *testing.T) {
	_, err := New(nil, zaptest.NewLogger(t), nil, nil, nil)
	assert.Error(t, err)
}

func TestShutdownDrainsConcurrentNotifications(t *testing.T) {
	h := newTestHandler(t, nil, nil)

	var delivered atomic.Int32
	h.OnError(func(*schemas.SystemError) {
		time.Sleep(time.Millisecond)
		delivered.Add(1)
	})

	// Handle racing Shutdown must neither trip the notification wait group
	// nor leak deliveries past the drain.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Handle(context.Background(), errors.New("ui glitch"), schemas.ErrorContext{})
		}()
	}
	h.Shutdown()
	wg.Wait()
}

func TestShutdownIsIdempotent(t *testing.T) {
	h := newTestHandler(t, nil, nil)
	h.Shutdown()
	h.Shutdown()

	// After shutdown, new subscribers are rejected silently.
	h.OnError(func(*schemas.SystemError) { t.Error("must not be called") })
	h.Handle(context.Background(), errors.New("ui glitch"), schemas.ErrorContext{})
}

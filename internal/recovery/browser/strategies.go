// File: internal/recovery/browser/strategies.go
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jsodeh/sabi/api/schemas"
)

// -- element_not_found --

// fallbackSelector re-runs the action with each declared fallback selector.
type fallbackSelector struct {
	driver schemas.BrowserDriver
}

func (fallbackSelector) name() string { return "fallback_selector" }

func (s fallbackSelector) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	for _, fb := range action.FallbackSelectors {
		if ctx.Err() != nil {
			return schemas.RecoveryResult{}, ctx.Err()
		}
		retried := action
		retried.Selector = fb
		retried.FallbackSelectors = nil
		if res, err := s.driver.Execute(ctx, retried); err == nil && res.Success {
			return schemas.RecoveryResult{
				Success:     true,
				Message:     "action succeeded with fallback selector",
				Adaptations: []string{fmt.Sprintf("Used fallback selector: %s", fb)},
			}, nil
		}
	}
	return schemas.RecoveryResult{Message: "no fallback selector matched"}, nil
}

// waitRetry waits a fixed delay and retries the original action unchanged.
type waitRetry struct {
	driver schemas.BrowserDriver
	delay  time.Duration
}

func (waitRetry) name() string { return "wait_retry" }

func (s waitRetry) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	if err := sleepCtx(ctx, s.delay); err != nil {
		return schemas.RecoveryResult{}, err
	}
	res, err := s.driver.Execute(ctx, action)
	if err != nil || !res.Success {
		return schemas.RecoveryResult{Message: "retry after delay failed"}, nil
	}
	return schemas.RecoveryResult{
		Success:     true,
		Message:     "action succeeded on delayed retry",
		Adaptations: []string{fmt.Sprintf("Waited %s and retried", s.delay)},
	}, nil
}

// adaptiveSelector synthesizes candidate selectors from what the action knows
// about its target and tries each one.
type adaptiveSelector struct {
	driver schemas.BrowserDriver
}

func (adaptiveSelector) name() string { return "adaptive_selector" }

func (s adaptiveSelector) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	for _, candidate := range synthesizeSelectors(action) {
		if ctx.Err() != nil {
			return schemas.RecoveryResult{}, ctx.Err()
		}
		retried := action
		retried.Selector = candidate
		retried.FallbackSelectors = nil
		if res, err := s.driver.Execute(ctx, retried); err == nil && res.Success {
			return schemas.RecoveryResult{
				Success:     true,
				Message:     "action succeeded with adaptive selector",
				Adaptations: []string{fmt.Sprintf("Synthesized adaptive selector: %s", candidate)},
			}, nil
		}
	}
	return schemas.RecoveryResult{Message: "no adaptive selector matched"}, nil
}

// synthesizeSelectors derives plausible selectors from the target description
// and the action kind. Heuristics only; the caller tries them in order.
func synthesizeSelectors(action schemas.BrowserAction) []schemas.Selector {
	var out []schemas.Selector
	if desc := strings.TrimSpace(action.TargetDescription); desc != "" {
		out = append(out,
			schemas.Selector{Type: "css", Value: fmt.Sprintf("[aria-label*=%q i]", desc)},
			schemas.Selector{Type: "css", Value: fmt.Sprintf("[title*=%q i]", desc)},
			schemas.Selector{Type: "text", Value: desc},
		)
		if action.Kind == schemas.ActionType {
			out = append(out, schemas.Selector{Type: "css", Value: fmt.Sprintf("[placeholder*=%q i]", desc)})
		}
	}
	switch action.Kind {
	case schemas.ActionSubmit:
		out = append(out, schemas.Selector{Type: "css", Value: `button[type="submit"], input[type="submit"]`})
	case schemas.ActionType:
		out = append(out, schemas.Selector{Type: "css", Value: `input:not([type="hidden"]), textarea`})
	}
	return out
}

// visualLocate falls back to screenshot-based element location.
type visualLocate struct {
	driver schemas.BrowserDriver
	berr   *schemas.BrowserError
}

func (visualLocate) name() string { return "visual_locate" }

func (s visualLocate) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	shot := s.berr.Screenshot
	if len(shot) == 0 {
		var err error
		shot, err = s.driver.Screenshot(ctx)
		if err != nil {
			return schemas.RecoveryResult{}, fmt.Errorf("screenshot capture failed: %w", err)
		}
	}
	sel, ok, err := s.driver.LocateVisually(ctx, shot, action)
	if err != nil {
		return schemas.RecoveryResult{}, fmt.Errorf("visual location failed: %w", err)
	}
	if !ok {
		return schemas.RecoveryResult{Message: "element not located visually"}, nil
	}
	retried := action
	retried.Selector = sel
	if res, err := s.driver.Execute(ctx, retried); err == nil && res.Success {
		return schemas.RecoveryResult{
			Success:     true,
			Message:     "action succeeded via visual element location",
			Adaptations: []string{fmt.Sprintf("Located element visually: %s", sel)},
		}, nil
	}
	return schemas.RecoveryResult{Message: "visually located element did not respond"}, nil
}

// -- timeout --

// extendTimeout doubles the action timeout and retries.
type extendTimeout struct {
	driver schemas.BrowserDriver
}

func (extendTimeout) name() string { return "extend_timeout" }

func (s extendTimeout) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	retried := action
	if retried.Timeout <= 0 {
		retried.Timeout = 30 * time.Second
	}
	retried.Timeout *= 2
	res, err := s.driver.Execute(ctx, retried)
	if err != nil || !res.Success {
		return schemas.RecoveryResult{Message: "retry with extended timeout failed"}, nil
	}
	return schemas.RecoveryResult{
		Success:     true,
		Message:     "action succeeded with extended timeout",
		Adaptations: []string{fmt.Sprintf("Extended timeout to %s", retried.Timeout)},
	}, nil
}

// waitReadyRetry waits for the page-ready signal before retrying.
type waitReadyRetry struct {
	driver schemas.BrowserDriver
}

func (waitReadyRetry) name() string { return "wait_ready_retry" }

func (s waitReadyRetry) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	if err := s.driver.WaitReady(ctx); err != nil {
		return schemas.RecoveryResult{}, fmt.Errorf("page never became ready: %w", err)
	}
	res, err := s.driver.Execute(ctx, action)
	if err != nil || !res.Success {
		return schemas.RecoveryResult{Message: "retry after page ready failed"}, nil
	}
	return schemas.RecoveryResult{
		Success:     true,
		Message:     "action succeeded after page became ready",
		Adaptations: []string{"Waited for page ready and retried"},
	}, nil
}

// simplifiedExec retries click/type actions via the driver's reduced path.
type simplifiedExec struct {
	driver schemas.BrowserDriver
}

func (simplifiedExec) name() string { return "simplified_exec" }

func (s simplifiedExec) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	res, err := s.driver.ExecuteSimplified(ctx, action)
	if err != nil || !res.Success {
		return schemas.RecoveryResult{Message: "simplified execution failed"}, nil
	}
	return schemas.RecoveryResult{
		Success:     true,
		Message:     "action succeeded via simplified execution",
		Adaptations: []string{"Used simplified execution path"},
	}, nil
}

// -- navigation_error --

// urlEquivalence treats navigation as complete when the browser is already
// at an equivalent URL.
type urlEquivalence struct {
	driver schemas.BrowserDriver
}

func (urlEquivalence) name() string { return "url_equivalence" }

func (s urlEquivalence) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	current, err := s.driver.CurrentURL(ctx)
	if err != nil {
		return schemas.RecoveryResult{}, fmt.Errorf("could not read current URL: %w", err)
	}
	if !urlsEquivalent(current, action.URL) {
		return schemas.RecoveryResult{Message: "current URL differs from target"}, nil
	}
	return schemas.RecoveryResult{
		Success:     true,
		Message:     "navigation target already reached",
		Adaptations: []string{"Treated navigation as complete (already at target URL)"},
	}, nil
}

// urlsEquivalent normalizes scheme case, trailing slashes and fragments.
func urlsEquivalent(a, b string) bool {
	na, errA := normalizeURL(a)
	nb, errB := normalizeURL(b)
	if errA != nil || errB != nil {
		return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
	}
	return na == nb
}

func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}

// altNavigation retries through the driver's alternative navigation method.
type altNavigation struct {
	driver schemas.BrowserDriver
}

func (altNavigation) name() string { return "alt_navigation" }

func (s altNavigation) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	if err := s.driver.Navigate(ctx, action.URL); err != nil {
		return schemas.RecoveryResult{}, fmt.Errorf("alternative navigation failed: %w", err)
	}
	return schemas.RecoveryResult{
		Success:     true,
		Message:     "navigation succeeded via alternative method",
		Adaptations: []string{"Used alternative navigation method"},
	}, nil
}

// -- authentication_error --

// authStatusRetry checks whether the session is in fact authenticated and,
// if so, just retries the original action.
type authStatusRetry struct {
	driver schemas.BrowserDriver
}

func (authStatusRetry) name() string { return "auth_status_retry" }

func (s authStatusRetry) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	ok, err := s.driver.AuthStatus(ctx)
	if err != nil {
		return schemas.RecoveryResult{}, fmt.Errorf("auth status check failed: %w", err)
	}
	if !ok {
		return schemas.RecoveryResult{Message: "session not authenticated"}, nil
	}
	res, err := s.driver.Execute(ctx, action)
	if err != nil || !res.Success {
		return schemas.RecoveryResult{Message: "retry with existing session failed"}, nil
	}
	return schemas.RecoveryResult{
		Success:     true,
		Message:     "action succeeded; session was already authenticated",
		Adaptations: []string{"Retried with existing authenticated session"},
	}, nil
}

// tokenRefresh attempts a silent refresh and then retries.
type tokenRefresh struct {
	driver schemas.BrowserDriver
}

func (tokenRefresh) name() string { return "token_refresh" }

func (s tokenRefresh) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	if err := s.driver.RefreshAuth(ctx); err != nil {
		return schemas.RecoveryResult{}, fmt.Errorf("silent token refresh failed: %w", err)
	}
	res, err := s.driver.Execute(ctx, action)
	if err != nil || !res.Success {
		return schemas.RecoveryResult{Message: "retry after token refresh failed"}, nil
	}
	return schemas.RecoveryResult{
		Success:     true,
		Message:     "action succeeded after token refresh",
		Adaptations: []string{"Refreshed authentication token and retried"},
	}, nil
}

// authEscalate terminates the chain with a new, user-facing error. This is
// the single place where recovery deliberately produces a different error
// instead of a plain failure.
type authEscalate struct{}

func (authEscalate) name() string { return "auth_escalate" }

func (authEscalate) execute(_ context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	return schemas.RecoveryResult{
		Success: false,
		Message: "authentication required",
		NewError: &schemas.SystemError{
			ID:          uuid.NewString(),
			Category:    schemas.CategoryAuthentication,
			Type:        "authentication_required",
			Message:     fmt.Sprintf("silent authentication recovery failed for action %s", action.ID),
			Severity:    schemas.SeverityHigh,
			Timestamp:   time.Now(),
			Recoverable: false,
			Strategies:  []schemas.RecoveryStrategyKind{schemas.StrategyUserIntervention},
			UserFacing:  true,
			UserMessage: "Please sign in again to continue.",
		},
	}, nil
}

// -- network_error --

// connectivityGate aborts the chain outright when the network is down; no
// later strategy can succeed without it.
type connectivityGate struct {
	driver schemas.BrowserDriver
}

func (connectivityGate) name() string { return "connectivity_gate" }

func (s connectivityGate) execute(ctx context.Context, _ schemas.BrowserAction) (schemas.RecoveryResult, error) {
	if !s.driver.Online(ctx) {
		return schemas.RecoveryResult{Message: "no network connectivity"}, errAbortChain
	}
	return schemas.RecoveryResult{Message: "connectivity verified"}, nil
}

// networkBackoff retries with exponential backoff across a fixed number of
// attempts (2x, 4x, 8x the base delay).
type networkBackoff struct {
	driver schemas.BrowserDriver
	base   time.Duration
}

func (networkBackoff) name() string { return "network_backoff" }

func (s networkBackoff) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	for attempt, mult := range []time.Duration{2, 4, 8} {
		if err := sleepCtx(ctx, s.base*mult); err != nil {
			return schemas.RecoveryResult{}, err
		}
		res, err := s.driver.Execute(ctx, action)
		if err == nil && res.Success {
			return schemas.RecoveryResult{
				Success:     true,
				Message:     "action succeeded after backoff",
				Adaptations: []string{fmt.Sprintf("Retried with exponential backoff (attempt %d)", attempt+1)},
			}, nil
		}
	}
	return schemas.RecoveryResult{Message: "backoff retries exhausted"}, nil
}

// offlineExec runs actions that declared offline support without the network.
type offlineExec struct {
	driver schemas.BrowserDriver
}

func (offlineExec) name() string { return "offline_exec" }

func (s offlineExec) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	res, err := s.driver.ExecuteOffline(ctx, action)
	if err != nil || !res.Success {
		return schemas.RecoveryResult{Message: "offline execution failed"}, nil
	}
	return schemas.RecoveryResult{
		Success:     true,
		Message:     "action executed offline",
		Adaptations: []string{"Executed action offline"},
	}, nil
}

// -- javascript_error --

// stabilizeRetry waits for page stabilization before retrying.
type stabilizeRetry struct {
	driver schemas.BrowserDriver
}

func (stabilizeRetry) name() string { return "stabilize_retry" }

func (s stabilizeRetry) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	if err := s.driver.WaitReady(ctx); err != nil {
		return schemas.RecoveryResult{}, fmt.Errorf("page stabilization failed: %w", err)
	}
	res, err := s.driver.Execute(ctx, action)
	if err != nil || !res.Success {
		return schemas.RecoveryResult{Message: "retry after stabilization failed"}, nil
	}
	return schemas.RecoveryResult{
		Success:     true,
		Message:     "action succeeded after page stabilization",
		Adaptations: []string{"Waited for page stabilization and retried"},
	}, nil
}

// altInteraction swaps in the driver's alternative interaction method
// (e.g. a dispatched event instead of a native click).
type altInteraction struct {
	driver schemas.BrowserDriver
}

func (altInteraction) name() string { return "alt_interaction" }

func (s altInteraction) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	res, err := s.driver.ExecuteSimplified(ctx, action)
	if err != nil || !res.Success {
		return schemas.RecoveryResult{Message: "alternative interaction failed"}, nil
	}
	return schemas.RecoveryResult{
		Success:     true,
		Message:     "action succeeded via alternative interaction",
		Adaptations: []string{"Used alternative interaction method"},
	}, nil
}

// reloadRetry reloads the page and retries once more.
type reloadRetry struct {
	driver schemas.BrowserDriver
}

func (reloadRetry) name() string { return "reload_retry" }

func (s reloadRetry) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	if err := s.driver.Reload(ctx); err != nil {
		return schemas.RecoveryResult{}, fmt.Errorf("page reload failed: %w", err)
	}
	if err := s.driver.WaitReady(ctx); err != nil {
		return schemas.RecoveryResult{}, fmt.Errorf("page not ready after reload: %w", err)
	}
	res, err := s.driver.Execute(ctx, action)
	if err != nil || !res.Success {
		return schemas.RecoveryResult{Message: "retry after reload failed"}, nil
	}
	return schemas.RecoveryResult{
		Success:     true,
		Message:     "action succeeded after page reload",
		Adaptations: []string{"Reloaded page and retried"},
	}, nil
}

// -- permission_error --

// knownPermissions are the permission names we can extract from failure
// messages and request through the driver.
var knownPermissions = []string{
	"clipboard", "camera", "microphone", "notifications", "geolocation",
}

// requestPermission asks for the missing permission, then retries.
type requestPermission struct {
	driver schemas.BrowserDriver
	berr   *schemas.BrowserError
}

func (requestPermission) name() string { return "request_permission" }

func (s requestPermission) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	perm := permissionFromMessage(s.berr.Message)
	if perm == "" {
		return schemas.RecoveryResult{Message: "could not determine missing permission"}, nil
	}
	if err := s.driver.RequestPermission(ctx, perm); err != nil {
		return schemas.RecoveryResult{}, fmt.Errorf("permission request failed: %w", err)
	}
	res, err := s.driver.Execute(ctx, action)
	if err != nil || !res.Success {
		return schemas.RecoveryResult{Message: "retry after permission grant failed"}, nil
	}
	return schemas.RecoveryResult{
		Success:     true,
		Message:     "action succeeded after permission grant",
		Adaptations: []string{fmt.Sprintf("Requested %s permission and retried", perm)},
	}, nil
}

func permissionFromMessage(msg string) string {
	lower := strings.ToLower(msg)
	for _, p := range knownPermissions {
		if strings.Contains(lower, p) {
			return p
		}
	}
	return ""
}

// permissionlessAlt retries through a path that does not need the permission.
type permissionlessAlt struct {
	driver schemas.BrowserDriver
}

func (permissionlessAlt) name() string { return "permissionless_alt" }

func (s permissionlessAlt) execute(ctx context.Context, action schemas.BrowserAction) (schemas.RecoveryResult, error) {
	res, err := s.driver.ExecuteSimplified(ctx, action)
	if err != nil || !res.Success {
		return schemas.RecoveryResult{Message: "permission-less alternative failed"}, nil
	}
	return schemas.RecoveryResult{
		Success:     true,
		Message:     "action succeeded without the permission",
		Adaptations: []string{"Used permission-less alternative approach"},
	}, nil
}

// sleepCtx is a bounded, cancellable sleep.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

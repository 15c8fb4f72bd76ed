// File: internal/chrome/driver.go
// Description: chromedp-backed implementation of schemas.BrowserDriver. This
// is the browser-automation collaborator; the recovery core only talks to it
// through the interface.

package chrome

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/jsodeh/sabi/api/schemas"
	"github.com/jsodeh/sabi/internal/config"
)

// VisualLocatorFunc resolves an element from a screenshot. The default
// implementation falls back to a text search on the action's target
// description; callers with an image-capable model can inject a smarter one.
type VisualLocatorFunc func(ctx context.Context, screenshot []byte, action schemas.BrowserAction) (schemas.Selector, bool, error)

// Driver drives a Chrome instance through chromedp.
type Driver struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	browserCtx context.Context
	cancels    []context.CancelFunc

	visualLocator VisualLocatorFunc
}

// New launches a browser and returns a Driver bound to it.
func New(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Driver, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
	)
	for _, arg := range cfg.Args {
		name, value, _ := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		opts = append(opts, chromedp.Flag(name, value))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	d := &Driver{
		cfg:        cfg,
		logger:     logger.Named("chrome"),
		browserCtx: browserCtx,
		cancels:    []context.CancelFunc{browserCancel, allocCancel},
	}
	d.visualLocator = d.textSearchLocator

	// Start the browser eagerly so construction fails fast.
	if err := chromedp.Run(browserCtx); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return d, nil
}

// SetVisualLocator replaces the screenshot-based element locator.
func (d *Driver) SetVisualLocator(f VisualLocatorFunc) {
	if f != nil {
		d.visualLocator = f
	}
}

// Close tears the browser down.
func (d *Driver) Close() {
	for _, cancel := range d.cancels {
		cancel()
	}
}

// opContext combines the caller's context with the browser context and the
// per-action timeout.
func (d *Driver) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = d.cfg.ActionTimeout
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opCtx, cancel := context.WithTimeout(d.browserCtx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() { stop(); cancel() }
}

// Execute runs the action through the trusted input path.
func (d *Driver) Execute(ctx context.Context, action schemas.BrowserAction) (schemas.ActionResult, error) {
	start := time.Now()
	opCtx, cancel := d.opContext(ctx, action.Timeout)
	defer cancel()

	d.logger.Debug("Executing browser action",
		zap.String("id", action.ID),
		zap.String("kind", string(action.Kind)),
		zap.String("selector", action.Selector.String()),
	)

	var tasks chromedp.Tasks
	byOpt := selectorOption(action.Selector)

	switch action.Kind {
	case schemas.ActionNavigate:
		tasks = chromedp.Tasks{chromedp.Navigate(action.URL)}
	case schemas.ActionClick:
		tasks = chromedp.Tasks{
			chromedp.ScrollIntoView(action.Selector.Value, byOpt),
			chromedp.WaitVisible(action.Selector.Value, byOpt),
			chromedp.Click(action.Selector.Value, byOpt),
		}
	case schemas.ActionType:
		tasks = chromedp.Tasks{
			chromedp.ScrollIntoView(action.Selector.Value, byOpt),
			chromedp.WaitVisible(action.Selector.Value, byOpt),
			chromedp.SendKeys(action.Selector.Value, action.Value, byOpt),
		}
	case schemas.ActionSelect:
		tasks = chromedp.Tasks{
			chromedp.WaitVisible(action.Selector.Value, byOpt),
			chromedp.SetValue(action.Selector.Value, action.Value, byOpt),
		}
	case schemas.ActionSubmit:
		tasks = chromedp.Tasks{chromedp.Submit(action.Selector.Value, byOpt)}
	case schemas.ActionScroll:
		tasks = chromedp.Tasks{chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil)}
	case schemas.ActionWait:
		return d.wait(opCtx, action, start)
	default:
		return schemas.ActionResult{}, &schemas.BrowserError{
			Type:    schemas.BrowserErrJavaScript,
			Message: fmt.Sprintf("unsupported action kind: %s", action.Kind),
		}
	}

	if err := chromedp.Run(opCtx, tasks); err != nil {
		return schemas.ActionResult{Duration: time.Since(start)}, d.classifyError(err, action)
	}
	return schemas.ActionResult{Success: true, Duration: time.Since(start)}, nil
}

func (d *Driver) wait(opCtx context.Context, action schemas.BrowserAction, start time.Time) (schemas.ActionResult, error) {
	if action.Selector.Value != "" {
		if err := chromedp.Run(opCtx, chromedp.WaitVisible(action.Selector.Value, selectorOption(action.Selector))); err != nil {
			return schemas.ActionResult{Duration: time.Since(start)}, d.classifyError(err, action)
		}
	} else {
		select {
		case <-opCtx.Done():
			return schemas.ActionResult{Duration: time.Since(start)}, d.classifyError(opCtx.Err(), action)
		case <-time.After(time.Second):
		}
	}
	return schemas.ActionResult{Success: true, Duration: time.Since(start)}, nil
}

// ExecuteSimplified runs click/type through synthetic DOM events. Only CSS
// selectors are supported on this path.
func (d *Driver) ExecuteSimplified(ctx context.Context, action schemas.BrowserAction) (schemas.ActionResult, error) {
	start := time.Now()
	if action.Selector.Type != "" && action.Selector.Type != "css" {
		return schemas.ActionResult{}, &schemas.BrowserError{
			Type:    schemas.BrowserErrJavaScript,
			Message: fmt.Sprintf("simplified path requires a css selector, got %s", action.Selector.Type),
		}
	}

	opCtx, cancel := d.opContext(ctx, action.Timeout)
	defer cancel()

	var script string
	switch action.Kind {
	case schemas.ActionClick, schemas.ActionSubmit:
		script = fmt.Sprintf(`(() => {
			const el = document.querySelector(%q);
			if (!el) return false;
			el.click();
			return true;
		})()`, action.Selector.Value)
	case schemas.ActionType:
		script = fmt.Sprintf(`(() => {
			const el = document.querySelector(%q);
			if (!el) return false;
			el.value = %q;
			el.dispatchEvent(new Event('input', {bubbles: true}));
			el.dispatchEvent(new Event('change', {bubbles: true}));
			return true;
		})()`, action.Selector.Value, action.Value)
	default:
		return schemas.ActionResult{}, &schemas.BrowserError{
			Type:    schemas.BrowserErrJavaScript,
			Message: fmt.Sprintf("no simplified path for action kind: %s", action.Kind),
		}
	}

	var ok bool
	if err := chromedp.Run(opCtx, chromedp.Evaluate(script, &ok)); err != nil {
		return schemas.ActionResult{Duration: time.Since(start)}, d.classifyError(err, action)
	}
	if !ok {
		return schemas.ActionResult{Duration: time.Since(start)}, &schemas.BrowserError{
			Type:     schemas.BrowserErrElementNotFound,
			Message:  fmt.Sprintf("element not found for simplified execution: %s", action.Selector),
			Selector: &action.Selector,
		}
	}
	return schemas.ActionResult{Success: true, Duration: time.Since(start)}, nil
}

// ExecuteOffline runs an offline-capable action through the synthetic-event
// path, which must not trigger network loads.
func (d *Driver) ExecuteOffline(ctx context.Context, action schemas.BrowserAction) (schemas.ActionResult, error) {
	if !action.SupportsOffline {
		return schemas.ActionResult{}, &schemas.BrowserError{
			Type:    schemas.BrowserErrNetwork,
			Message: fmt.Sprintf("action %s does not support offline execution", action.ID),
		}
	}
	return d.ExecuteSimplified(ctx, action)
}

// Navigate is the alternative navigation method: a location assignment
// instead of a CDP page navigation.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	opCtx, cancel := d.opContext(ctx, d.cfg.NavigationTimeout)
	defer cancel()
	return chromedp.Run(opCtx, chromedp.Evaluate(fmt.Sprintf(`window.location.assign(%q)`, url), nil))
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	opCtx, cancel := d.opContext(ctx, 0)
	defer cancel()
	var url string
	if err := chromedp.Run(opCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// WaitReady blocks until the document reports a complete ready state.
func (d *Driver) WaitReady(ctx context.Context) error {
	opCtx, cancel := d.opContext(ctx, 0)
	defer cancel()
	var ready bool
	return chromedp.Run(opCtx,
		chromedp.Poll(`document.readyState === "complete"`, &ready,
			chromedp.WithPollingInterval(200*time.Millisecond)),
	)
}

func (d *Driver) Reload(ctx context.Context) error {
	opCtx, cancel := d.opContext(ctx, d.cfg.NavigationTimeout)
	defer cancel()
	return chromedp.Run(opCtx, chromedp.Reload())
}

func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	opCtx, cancel := d.opContext(ctx, 0)
	defer cancel()
	var buf []byte
	if err := chromedp.Run(opCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// LocateVisually delegates to the configured locator.
func (d *Driver) LocateVisually(ctx context.Context, screenshot []byte, action schemas.BrowserAction) (schemas.Selector, bool, error) {
	return d.visualLocator(ctx, screenshot, action)
}

// textSearchLocator is the default locator: it ignores the pixels and
// searches the DOM for the action's target description.
func (d *Driver) textSearchLocator(ctx context.Context, _ []byte, action schemas.BrowserAction) (schemas.Selector, bool, error) {
	desc := strings.TrimSpace(action.TargetDescription)
	if desc == "" {
		return schemas.Selector{}, false, nil
	}
	opCtx, cancel := d.opContext(ctx, 0)
	defer cancel()

	var found bool
	script := fmt.Sprintf(`(() => {
		const needle = %q.toLowerCase();
		for (const el of document.querySelectorAll("a, button, input, label, [role]")) {
			const text = (el.innerText || el.value || el.getAttribute("aria-label") || "").toLowerCase();
			if (text.includes(needle)) return true;
		}
		return false;
	})()`, desc)
	if err := chromedp.Run(opCtx, chromedp.Evaluate(script, &found)); err != nil {
		return schemas.Selector{}, false, fmt.Errorf("text search failed: %w", err)
	}
	if !found {
		return schemas.Selector{}, false, nil
	}
	return schemas.Selector{Type: "text", Value: desc}, true, nil
}

// AuthStatus evaluates the configured auth probe in the page.
func (d *Driver) AuthStatus(ctx context.Context) (bool, error) {
	if d.cfg.AuthProbeScript == "" {
		return false, nil
	}
	opCtx, cancel := d.opContext(ctx, 0)
	defer cancel()
	var authed bool
	if err := chromedp.Run(opCtx, chromedp.Evaluate(d.cfg.AuthProbeScript, &authed)); err != nil {
		return false, fmt.Errorf("auth probe failed: %w", err)
	}
	return authed, nil
}

// RefreshAuth performs a silent refresh by loading the configured refresh
// URL.
func (d *Driver) RefreshAuth(ctx context.Context) error {
	if d.cfg.AuthRefreshURL == "" {
		return fmt.Errorf("no auth refresh URL configured")
	}
	opCtx, cancel := d.opContext(ctx, d.cfg.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.Navigate(d.cfg.AuthRefreshURL)); err != nil {
		return fmt.Errorf("auth refresh navigation failed: %w", err)
	}
	return d.WaitReady(ctx)
}

// Online reports connectivity as the page sees it.
func (d *Driver) Online(ctx context.Context) bool {
	opCtx, cancel := d.opContext(ctx, 5*time.Second)
	defer cancel()
	var online bool
	if err := chromedp.Run(opCtx, chromedp.Evaluate(`navigator.onLine`, &online)); err != nil {
		return false
	}
	return online
}

// permissionTypes maps the recovery core's permission names onto CDP types.
var permissionTypes = map[string]browser.PermissionType{
	"clipboard":     browser.PermissionTypeClipboardReadWrite,
	"camera":        browser.PermissionTypeVideoCapture,
	"microphone":    browser.PermissionTypeAudioCapture,
	"notifications": browser.PermissionTypeNotifications,
	"geolocation":   browser.PermissionTypeGeolocation,
}

// RequestPermission grants the named permission for the current origin.
func (d *Driver) RequestPermission(ctx context.Context, name string) error {
	perm, ok := permissionTypes[name]
	if !ok {
		return fmt.Errorf("unknown permission: %s", name)
	}
	opCtx, cancel := d.opContext(ctx, 0)
	defer cancel()
	return chromedp.Run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return browser.GrantPermissions([]browser.PermissionType{perm}).Do(ctx)
	}))
}

// classifyError turns a chromedp failure into a typed BrowserError.
func (d *Driver) classifyError(err error, action schemas.BrowserAction) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	typ := schemas.BrowserErrJavaScript
	switch {
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(lower, "timeout"):
		typ = schemas.BrowserErrTimeout
	case strings.Contains(lower, "could not find node"),
		strings.Contains(lower, "waiting for selector"),
		strings.Contains(lower, "no nodes"):
		typ = schemas.BrowserErrElementNotFound
	case strings.Contains(lower, "net::err_internet_disconnected"),
		strings.Contains(lower, "net::err_name_not_resolved"),
		strings.Contains(lower, "net::err_connection"):
		typ = schemas.BrowserErrNetwork
	case strings.Contains(lower, "page load"), strings.Contains(lower, "navigation"):
		typ = schemas.BrowserErrNavigation
	}

	return &schemas.BrowserError{
		Type:        typ,
		Message:     msg,
		Recoverable: true,
		Selector:    &action.Selector,
	}
}

// selectorOption picks the chromedp query option for a selector type. CSS
// uses querySelector; xpath and text go through the DOM search API.
func selectorOption(sel schemas.Selector) chromedp.QueryOption {
	switch sel.Type {
	case "xpath", "text":
		return chromedp.BySearch
	default:
		return chromedp.ByQuery
	}
}

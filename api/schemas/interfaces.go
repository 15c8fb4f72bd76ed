package schemas

import "context"

// -- Collaborator Interfaces --

// BrowserDriver is the injected boundary to the browser-automation
// collaborator. The recovery core calls back through it and never drives the
// browser directly. Implementations must honor context cancellation on every
// method so individual recovery strategies stay cancellable.
type BrowserDriver interface {
	// Execute runs the action. Failures should be reported as *BrowserError
	// so recovery can key off the typed failure kind.
	Execute(ctx context.Context, action BrowserAction) (ActionResult, error)
	// ExecuteSimplified runs the action through a reduced interaction path
	// (e.g. a synthetic DOM event instead of a trusted input event).
	ExecuteSimplified(ctx context.Context, action BrowserAction) (ActionResult, error)
	// ExecuteOffline runs an action that declared offline support without
	// touching the network.
	ExecuteOffline(ctx context.Context, action BrowserAction) (ActionResult, error)

	// Navigate loads the URL through an alternative navigation method.
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	// WaitReady blocks until the page reports a ready/stable state.
	WaitReady(ctx context.Context) error
	Reload(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)
	// LocateVisually attempts screenshot-based element location and returns
	// the selector it resolved, if any.
	LocateVisually(ctx context.Context, screenshot []byte, action BrowserAction) (Selector, bool, error)

	// AuthStatus reports whether the current session is authenticated.
	AuthStatus(ctx context.Context) (bool, error)
	// RefreshAuth attempts a silent token refresh.
	RefreshAuth(ctx context.Context) error

	// Online reports current network connectivity as seen by the browser.
	Online(ctx context.Context) bool
	RequestPermission(ctx context.Context, name string) error
}

// AIProcessor is the injected boundary to the AI-processing collaborator.
type AIProcessor interface {
	Process(ctx context.Context, req AIRequest, cfg AIModelConfig) (AIResponse, error)
}

// ResponseCache stores prior AI responses for the cached-response recovery
// strategy. Get is an exact lookup by input hash; GetSimilar may match on
// input similarity.
type ResponseCache interface {
	Get(ctx context.Context, hash string) (AIResponse, bool)
	GetSimilar(ctx context.Context, input string) (AIResponse, bool)
	Put(ctx context.Context, hash, input string, resp AIResponse) error
}

// Subscriber receives every classified SystemError as it is produced.
// Delivery is fire-and-forget; a panicking subscriber is isolated.
type Subscriber func(*SystemError)

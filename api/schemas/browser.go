package schemas

import (
	"fmt"
	"time"
)

// -- Browser Interaction Boundary --

// BrowserActionKind defines the type of action to perform in a guidance step.
type BrowserActionKind string

const (
	ActionNavigate BrowserActionKind = "navigate"
	ActionClick    BrowserActionKind = "click"
	ActionType     BrowserActionKind = "type"
	ActionSelect   BrowserActionKind = "select"
	ActionSubmit   BrowserActionKind = "submit"
	ActionWait     BrowserActionKind = "wait"
	ActionScroll   BrowserActionKind = "scroll"
)

// Selector locates an element on the page.
type Selector struct {
	// Type is the locating expression language: "css", "xpath" or "text".
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (s Selector) String() string { return s.Type + "=" + s.Value }

// BrowserAction is one automated step against the web builder. The recovery
// core never drives the browser itself; it re-submits actions through an
// injected BrowserDriver.
type BrowserAction struct {
	ID                string            `json:"id"`
	Kind              BrowserActionKind `json:"kind"`
	Selector          Selector          `json:"selector"`
	FallbackSelectors []Selector        `json:"fallbackSelectors,omitempty"`
	Value             string            `json:"value,omitempty"`
	URL               string            `json:"url,omitempty"`
	Timeout           time.Duration     `json:"timeout,omitempty"`
	// Description of the target element, used to synthesize adaptive
	// selectors when the declared ones stop matching.
	TargetDescription string `json:"targetDescription,omitempty"`
	SupportsOffline   bool   `json:"supportsOffline,omitempty"`
	Expected          string `json:"expected,omitempty"`
}

// ActionResult reports the outcome of executing a BrowserAction.
type ActionResult struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Screenshot []byte         `json:"screenshot,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// BrowserErrorType keys the browser-side recovery chains.
type BrowserErrorType string

const (
	BrowserErrElementNotFound BrowserErrorType = "element_not_found"
	BrowserErrTimeout         BrowserErrorType = "timeout"
	BrowserErrNavigation      BrowserErrorType = "navigation_error"
	BrowserErrAuthentication  BrowserErrorType = "authentication_error"
	BrowserErrNetwork         BrowserErrorType = "network_error"
	BrowserErrJavaScript      BrowserErrorType = "javascript_error"
	BrowserErrPermission      BrowserErrorType = "permission_error"
)

// BrowserError is the typed failure the automation collaborator reports.
type BrowserError struct {
	Type        BrowserErrorType `json:"type"`
	Message     string           `json:"message"`
	Recoverable bool             `json:"recoverable"`
	Selector    *Selector        `json:"selector,omitempty"`
	Screenshot  []byte           `json:"screenshot,omitempty"`
}

func (e *BrowserError) Error() string {
	return fmt.Sprintf("browser %s: %s", e.Type, e.Message)
}

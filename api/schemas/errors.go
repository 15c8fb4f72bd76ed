package schemas

import (
	"context"
	"fmt"
	"time"
)

// -- Error Taxonomy --

// ErrorCategory identifies which subsystem a failure originated from. The set
// is closed; the classifier maps anything it cannot place to CategorySystem.
type ErrorCategory string

const (
	CategoryBrowserAutomation ErrorCategory = "browser_automation"
	CategoryAIProcessing      ErrorCategory = "ai_processing"
	CategoryNetwork           ErrorCategory = "network"
	CategoryAuthentication    ErrorCategory = "authentication"
	CategoryUserInterface     ErrorCategory = "user_interface"
	CategoryDataValidation    ErrorCategory = "data_validation"
	CategorySystem            ErrorCategory = "system"
	CategoryUserInput         ErrorCategory = "user_input"
)

// ErrorSeverity is an ordered scale. Higher values are worse.
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s ErrorSeverity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// AtLeast reports whether s is at or above the given threshold.
func (s ErrorSeverity) AtLeast(min ErrorSeverity) bool { return s >= min }

// MarshalText renders the severity name so exported histories stay readable.
func (s ErrorSeverity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *ErrorSeverity) UnmarshalText(text []byte) error {
	for sev, name := range severityNames {
		if name == string(text) {
			*s = sev
			return nil
		}
	}
	return fmt.Errorf("unknown severity: %q", string(text))
}

// RecoveryStrategyKind names a class of remedy the handler may apply.
type RecoveryStrategyKind string

const (
	StrategyRetry               RecoveryStrategyKind = "retry"
	StrategyFallback            RecoveryStrategyKind = "fallback"
	StrategyAlternativeApproach RecoveryStrategyKind = "alternative_approach"
	StrategyUserIntervention    RecoveryStrategyKind = "user_intervention"
	StrategyGracefulDegradation RecoveryStrategyKind = "graceful_degradation"
	StrategyAbort               RecoveryStrategyKind = "abort"
)

// -- Canonical Failure Record --

// SystemInfo captures a snapshot of the host at classification time.
type SystemInfo struct {
	Platform string `json:"platform"`
	NumCPU   int    `json:"numCpu"`
	MemoryMB uint64 `json:"memoryMb"`
}

// ErrorContext carries optional identifiers tying a failure back to the
// session that produced it. RelatedErrorIDs is a plain id list for lookup,
// never an ownership link.
type ErrorContext struct {
	SessionID       string     `json:"sessionId,omitempty"`
	UserID          string     `json:"userId,omitempty"`
	StepID          string     `json:"stepId,omitempty"`
	ToolName        string     `json:"toolName,omitempty"`
	URL             string     `json:"url,omitempty"`
	SystemInfo      SystemInfo `json:"systemInfo"`
	RelatedErrorIDs []string   `json:"relatedErrorIds,omitempty"`

	// Optional payloads describing the operation that failed. When present
	// they let the handler route recovery to the matching domain module.
	BrowserAction *BrowserAction `json:"browserAction,omitempty"`
	AIRequest     *AIRequest     `json:"aiRequest,omitempty"`
	ModelConfig   *AIModelConfig `json:"modelConfig,omitempty"`
}

// ErrorMetadata is the per-error retry bookkeeping surfaced to callers.
type ErrorMetadata struct {
	RetryCount    int            `json:"retryCount"`
	MaxRetries    int            `json:"maxRetries"`
	FirstOccurred time.Time      `json:"firstOccurred"`
	LastOccurred  time.Time      `json:"lastOccurred"`
	Frequency     int            `json:"frequency"`
	Debug         map[string]any `json:"debug,omitempty"`
}

// SystemError is the canonical failure record every raw fault is normalized
// into. It is a value object: no pointers back into the handler.
type SystemError struct {
	ID          string                 `json:"id"`
	Category    ErrorCategory          `json:"category"`
	Type        string                 `json:"type"`
	Message     string                 `json:"message"`
	Severity    ErrorSeverity          `json:"severity"`
	Timestamp   time.Time              `json:"timestamp"`
	Recoverable bool                   `json:"recoverable"`
	Strategies  []RecoveryStrategyKind `json:"recoveryStrategies,omitempty"`
	Context     ErrorContext           `json:"context"`
	Metadata    ErrorMetadata          `json:"metadata"`
	UserFacing  bool                   `json:"userFacing"`
	UserMessage string                 `json:"userMessage,omitempty"`
}

// Error implements the error interface so a SystemError can travel through
// ordinary error returns and be recognized again via errors.As.
func (e *SystemError) Error() string {
	return fmt.Sprintf("%s/%s: %s", e.Category, e.Type, e.Message)
}

// Supports reports whether the error declares the given strategy applicable.
func (e *SystemError) Supports(kind RecoveryStrategyKind) bool {
	for _, k := range e.Strategies {
		if k == kind {
			return true
		}
	}
	return false
}

// -- Recovery Outcomes --

// RecoveryResult is the uniform outcome of a recovery attempt.
type RecoveryResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// Adaptations are human-readable descriptions of what each applied
	// strategy changed relative to the original operation.
	Adaptations []string      `json:"adaptations,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	// RetryCount is the ledger attempt number this recovery ran as.
	RetryCount int `json:"retryCount,omitempty"`
	// NewError is set only when recovery itself surfaced a different,
	// more specific failure (e.g. authentication required).
	NewError *SystemError `json:"newError,omitempty"`
	// Data carries strategy output such as a recovered AIResponse.
	Data map[string]any `json:"data,omitempty"`
}

// Strategy is one executable remedy. Concrete types per category replace the
// uninspectable closure pattern and keep the strategy set enumerable.
type Strategy interface {
	Execute(ctx context.Context, serr *SystemError) (RecoveryResult, error)
}

// RecoveryAction couples a Strategy with the static metadata the registry
// uses for ordering and gating.
type RecoveryAction struct {
	ID            string               `json:"id"`
	Kind          RecoveryStrategyKind `json:"kind"`
	Description   string               `json:"description"`
	Automated     bool                 `json:"automated"`
	EstimatedCost time.Duration        `json:"estimatedCost"`
	// SuccessProbability in [0,1] orders candidates; it is an estimate,
	// not a guarantee.
	SuccessProbability float64  `json:"successProbability"`
	Prerequisites      []string `json:"prerequisites,omitempty"`
	Strategy           Strategy `json:"-"`
}

// File: internal/recovery/classify.go
package recovery

import (
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jsodeh/sabi/api/schemas"
)

// categoryRule is one ordered keyword rule. Earlier rules win, which is what
// keeps "ui rendering failed during processing" classified as user_interface
// rather than ai_processing.
type categoryRule struct {
	category schemas.ErrorCategory
	keywords []string
}

// classificationRules are evaluated in order against the lowercased message.
// UI terms come first to avoid collisions with the more generic "processing";
// system terms come last because "critical" also feeds the severity rule.
var classificationRules = []categoryRule{
	{schemas.CategoryUserInterface, []string{"renderer", "ui component", "component", "ui", "rendering"}},
	{schemas.CategoryBrowserAutomation, []string{"browser", "element", "selector"}},
	{schemas.CategoryAIProcessing, []string{"ai", "model", "processing"}},
	{schemas.CategoryNetwork, []string{"network", "fetch", "request"}},
	{schemas.CategoryAuthentication, []string{"auth", "token", "login"}},
	{schemas.CategoryDataValidation, []string{"validation", "schema"}},
	{schemas.CategorySystem, []string{"critical", "system"}},
}

// defaultStrategies maps each category to the ordered strategy kinds the
// classifier declares applicable. Non-recoverable categories get none.
var defaultStrategies = map[schemas.ErrorCategory][]schemas.RecoveryStrategyKind{
	schemas.CategoryBrowserAutomation: {
		schemas.StrategyRetry, schemas.StrategyFallback, schemas.StrategyAlternativeApproach,
	},
	schemas.CategoryAIProcessing: {
		schemas.StrategyRetry, schemas.StrategyFallback, schemas.StrategyGracefulDegradation,
	},
	schemas.CategoryNetwork:        {schemas.StrategyRetry},
	schemas.CategoryAuthentication: {schemas.StrategyUserIntervention},
	schemas.CategoryUserInterface:  {schemas.StrategyRetry, schemas.StrategyGracefulDegradation},
	schemas.CategoryUserInput:      {schemas.StrategyUserIntervention, schemas.StrategyGracefulDegradation},
}

// userMessages are the precomputed friendly strings the UI layer renders
// without knowing the technical taxonomy.
var userMessages = map[schemas.ErrorCategory]string{
	schemas.CategoryBrowserAutomation: "Having trouble interacting with the web page. Trying alternative approach...",
	schemas.CategoryAIProcessing:      "The assistant is thinking a little harder than usual. One moment...",
	schemas.CategoryNetwork:           "Connection hiccup detected. Retrying...",
	schemas.CategoryAuthentication:    "Please sign in again to continue.",
	schemas.CategoryUserInterface:     "The display glitched. Refreshing the view...",
	schemas.CategoryDataValidation:    "Some of the provided information looks off. Please check it and try again.",
	schemas.CategorySystem:            "Something went wrong on our side. Please restart the application.",
	schemas.CategoryUserInput:         "That input didn't work. Let's try a different way.",
}

// Classify normalizes a raw failure into a SystemError.
//
// Classification is idempotent: an error that already is (or wraps) a
// SystemError is returned unchanged. Typed BrowserErrors map straight to the
// browser_automation category with the domain subtype preserved.
func Classify(err error, ectx schemas.ErrorContext) *schemas.SystemError {
	var serr *schemas.SystemError
	if errors.As(err, &serr) {
		return serr
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	category := schemas.CategorySystem
	typ := "unclassified"

	var berr *schemas.BrowserError
	if errors.As(err, &berr) {
		category = schemas.CategoryBrowserAutomation
		typ = string(berr.Type)
	} else {
		category = classifyMessage(lower)
		typ = defaultType(category)
	}

	severity := classifySeverity(category, lower)
	recoverable := classifyRecoverable(category)
	if berr != nil && !berr.Recoverable {
		recoverable = false
	}

	strategies := defaultStrategies[category]
	if !recoverable {
		strategies = nil
	}

	ectx.SystemInfo = captureSystemInfo()
	now := time.Now()

	return &schemas.SystemError{
		ID:          uuid.NewString(),
		Category:    category,
		Type:        typ,
		Message:     msg,
		Severity:    severity,
		Timestamp:   now,
		Recoverable: recoverable,
		Strategies:  strategies,
		Context:     ectx,
		Metadata: schemas.ErrorMetadata{
			FirstOccurred: now,
			LastOccurred:  now,
			Frequency:     1,
		},
		UserFacing:  classifyUserFacing(category, severity),
		UserMessage: userMessages[category],
	}
}

func classifyMessage(lower string) schemas.ErrorCategory {
	for _, rule := range classificationRules {
		for _, kw := range rule.keywords {
			if matchKeyword(lower, kw) {
				return rule.category
			}
		}
	}
	return schemas.CategorySystem
}

// matchKeyword does a substring match, except for very short keywords where a
// bare substring would misfire ("ai" inside "failed"). Those require word
// boundaries.
func matchKeyword(lower, kw string) bool {
	if len(kw) > 2 {
		return strings.Contains(lower, kw)
	}
	padded := " " + lower + " "
	for i := 0; i+len(kw) <= len(lower); {
		idx := strings.Index(lower[i:], kw)
		if idx < 0 {
			return false
		}
		pos := i + idx
		// padded shifts indices by one, so pos maps to pos..pos+len(kw)+1.
		before := padded[pos]
		after := padded[pos+len(kw)+1]
		if !isWordChar(before) && !isWordChar(after) {
			return true
		}
		i = pos + 1
	}
	return false
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}

func classifySeverity(category schemas.ErrorCategory, lower string) schemas.ErrorSeverity {
	if strings.Contains(lower, "critical") {
		return schemas.SeverityCritical
	}
	switch category {
	case schemas.CategorySystem:
		// System-level failures are always critical unless a domain module
		// explicitly downgrades them.
		return schemas.SeverityCritical
	case schemas.CategoryBrowserAutomation, schemas.CategoryAIProcessing:
		return schemas.SeverityHigh
	case schemas.CategoryUserInterface, schemas.CategoryAuthentication,
		schemas.CategoryNetwork, schemas.CategoryDataValidation:
		return schemas.SeverityMedium
	default:
		return schemas.SeverityLow
	}
}

func classifyRecoverable(category schemas.ErrorCategory) bool {
	switch category {
	case schemas.CategorySystem, schemas.CategoryDataValidation:
		// System faults need a restart; validation faults need corrected input.
		return false
	}
	return true
}

func classifyUserFacing(category schemas.ErrorCategory, severity schemas.ErrorSeverity) bool {
	switch category {
	case schemas.CategorySystem:
		return severity == schemas.SeverityCritical
	case schemas.CategoryUserInterface, schemas.CategoryAuthentication:
		return true
	}
	return severity.AtLeast(schemas.SeverityMedium)
}

func defaultType(category schemas.ErrorCategory) string {
	switch category {
	case schemas.CategoryBrowserAutomation:
		return "automation_fault"
	case schemas.CategoryAIProcessing:
		return "processing_fault"
	case schemas.CategoryNetwork:
		return "network_fault"
	case schemas.CategoryAuthentication:
		return "auth_fault"
	case schemas.CategoryUserInterface:
		return "ui_fault"
	case schemas.CategoryDataValidation:
		return "validation_fault"
	case schemas.CategoryUserInput:
		return "input_fault"
	default:
		return "system_fault"
	}
}

func captureSystemInfo() schemas.SystemInfo {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return schemas.SystemInfo{
		Platform: runtime.GOOS,
		NumCPU:   runtime.NumCPU(),
		MemoryMB: mem.Sys / (1 << 20),
	}
}

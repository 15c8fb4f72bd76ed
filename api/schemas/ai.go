package schemas

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// -- AI Processing Boundary --

// ProcessingType classifies the shape of an AI request. Complex types are
// eligible for the input-simplification recovery strategy.
type ProcessingType string

const (
	ProcessingText        ProcessingType = "text"
	ProcessingComplexText ProcessingType = "complex_text"
	ProcessingImage       ProcessingType = "image"
	ProcessingMultimodal  ProcessingType = "multimodal"
	ProcessingSpeech      ProcessingType = "speech"
)

// Complex reports whether the request shape is eligible for simplification.
func (p ProcessingType) Complex() bool {
	switch p {
	case ProcessingMultimodal, ProcessingImage, ProcessingComplexText:
		return true
	}
	return false
}

// ResponseCategory selects which template to fill when AI recovery falls all
// the way through to the template strategy.
type ResponseCategory string

const (
	ResponseLearning    ResponseCategory = "learning"
	ResponseExplanation ResponseCategory = "explanation"
	ResponseInstruction ResponseCategory = "instruction"
	ResponseDefault     ResponseCategory = "default"
)

// AIRequest is one inference request from the guidance pipeline.
type AIRequest struct {
	ProcessingType ProcessingType    `json:"processingType"`
	Input          string            `json:"input"`
	Category       ResponseCategory  `json:"category,omitempty"`
	Context        map[string]string `json:"context,omitempty"`
}

// InputHash returns a stable short digest of the input, used with the
// processing type as the retry-ledger key for AI recovery.
func (r AIRequest) InputHash() string {
	sum := sha256.Sum256([]byte(r.Input))
	return hex.EncodeToString(sum[:8])
}

// AIModelConfig carries the generation parameters and the ordered list of
// fallback models to try when the primary model fails.
type AIModelConfig struct {
	Model          string   `json:"model"`
	Temperature    float64  `json:"temperature"`
	MaxTokens      int      `json:"maxTokens"`
	TopP           float32  `json:"topP,omitempty"`
	FallbackModels []string `json:"fallbackModels,omitempty"`
}

// AIResponse is the output of one inference call (or of a recovery path that
// substituted for one).
type AIResponse struct {
	Content    string        `json:"content"`
	Model      string        `json:"model,omitempty"`
	TokensUsed int           `json:"tokensUsed,omitempty"`
	Degraded   bool          `json:"degraded,omitempty"`
	Cached     bool          `json:"cached,omitempty"`
	Elapsed    time.Duration `json:"elapsed,omitempty"`
}

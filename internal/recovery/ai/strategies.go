// File: internal/recovery/ai/strategies.go
package ai

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jsodeh/sabi/api/schemas"
)

// breakdownMinLength is the input size below which splitting a request into
// sub-units is not worth attempting.
const breakdownMinLength = 120

// -- priority 1: retry with adjusted parameters --

type retryAdjusted struct {
	processor schemas.AIProcessor
}

func (retryAdjusted) name() string { return "retry_adjusted" }

func (retryAdjusted) applicable(schemas.AIRequest, error) bool { return true }

func (s retryAdjusted) execute(ctx context.Context, req schemas.AIRequest, cfg schemas.AIModelConfig, cause error) (schemas.AIResponse, string, error) {
	adjusted, change := adjustParameters(cfg, cause)
	resp, err := s.processor.Process(ctx, req, adjusted)
	if err != nil {
		return schemas.AIResponse{}, "", fmt.Errorf("adjusted retry failed: %w", err)
	}
	return resp, fmt.Sprintf("Retried with adjusted parameters (%s)", change), nil
}

// adjustParameters derives parameter changes from the failure message:
// timeouts shrink the output budget, content flags lower the temperature,
// anything else gets a mild temperature reduction.
func adjustParameters(cfg schemas.AIModelConfig, cause error) (schemas.AIModelConfig, string) {
	lower := ""
	if cause != nil {
		lower = strings.ToLower(cause.Error())
	}
	switch {
	case strings.Contains(lower, "timeout"):
		before := cfg.MaxTokens
		if before <= 0 {
			before = 2048
		}
		cfg.MaxTokens = before / 2
		return cfg, fmt.Sprintf("max tokens %d -> %d", before, cfg.MaxTokens)
	case strings.Contains(lower, "content") || strings.Contains(lower, "safety"):
		before := cfg.Temperature
		cfg.Temperature = before * 0.5
		return cfg, fmt.Sprintf("temperature %.2f -> %.2f", before, cfg.Temperature)
	default:
		before := cfg.Temperature
		cfg.Temperature = before * 0.8
		return cfg, fmt.Sprintf("temperature %.2f -> %.2f", before, cfg.Temperature)
	}
}

// -- priority 2: fallback model --

type fallbackModel struct {
	processor schemas.AIProcessor
	models    []string
}

func (fallbackModel) name() string { return "fallback_model" }

func (s fallbackModel) applicable(schemas.AIRequest, error) bool { return len(s.models) > 0 }

func (s fallbackModel) execute(ctx context.Context, req schemas.AIRequest, cfg schemas.AIModelConfig, _ error) (schemas.AIResponse, string, error) {
	var lastErr error
	for _, model := range s.models {
		if ctx.Err() != nil {
			return schemas.AIResponse{}, "", ctx.Err()
		}
		alt := cfg
		alt.Model = model
		resp, err := s.processor.Process(ctx, req, alt)
		if err == nil {
			return resp, fmt.Sprintf("Fell back to model %s", model), nil
		}
		lastErr = err
	}
	return schemas.AIResponse{}, "", fmt.Errorf("all fallback models failed: %w", lastErr)
}

// -- priority 3: simplify input --

type simplifyInput struct {
	processor schemas.AIProcessor
}

func (simplifyInput) name() string { return "simplify_input" }

// Only complex request shapes benefit from simplification.
func (simplifyInput) applicable(req schemas.AIRequest, _ error) bool {
	return req.ProcessingType.Complex()
}

func (s simplifyInput) execute(ctx context.Context, req schemas.AIRequest, cfg schemas.AIModelConfig, _ error) (schemas.AIResponse, string, error) {
	before := len(req.Input)
	simplified := req
	simplified.Input = truncateInput(req.Input)
	simplified.ProcessingType = schemas.ProcessingText
	resp, err := s.processor.Process(ctx, simplified, cfg)
	if err != nil {
		return schemas.AIResponse{}, "", fmt.Errorf("simplified input still failed: %w", err)
	}
	return resp, fmt.Sprintf("Simplified input (%d -> %d chars)", before, len(simplified.Input)), nil
}

// truncateInput keeps the first couple of sentences, capped at a fixed size.
func truncateInput(input string) string {
	const maxChars = 500
	sentences := splitSentences(input)
	if len(sentences) > 2 {
		input = strings.Join(sentences[:2], " ")
	}
	if len(input) > maxChars {
		input = input[:maxChars]
	}
	return strings.TrimSpace(input)
}

// -- priority 4: cached response --

type cachedResponse struct {
	cache   schemas.ResponseCache
	enabled bool
}

func (cachedResponse) name() string { return "cached_response" }

func (s cachedResponse) applicable(schemas.AIRequest, error) bool {
	return s.enabled && s.cache != nil
}

func (s cachedResponse) execute(ctx context.Context, req schemas.AIRequest, _ schemas.AIModelConfig, _ error) (schemas.AIResponse, string, error) {
	if resp, ok := s.cache.Get(ctx, req.InputHash()); ok {
		resp.Cached = true
		return resp, "Reused cached response (exact match)", nil
	}
	if resp, ok := s.cache.GetSimilar(ctx, req.Input); ok {
		resp.Cached = true
		return resp, "Reused cached response (similar input)", nil
	}
	return schemas.AIResponse{}, "", fmt.Errorf("no cached response available")
}

// -- priority 5: break down request --

type breakdown struct {
	processor schemas.AIProcessor
}

func (breakdown) name() string { return "breakdown" }

// applicable requires a splittable, text-shaped input of meaningful size.
func (breakdown) applicable(req schemas.AIRequest, _ error) bool {
	if req.ProcessingType != schemas.ProcessingText && req.ProcessingType != schemas.ProcessingComplexText {
		return false
	}
	return len(req.Input) >= breakdownMinLength && len(splitSentences(req.Input)) > 1
}

// execute processes each sub-unit independently and recombines. Any sub-unit
// failure fails the whole strategy; there is no partial success.
func (s breakdown) execute(ctx context.Context, req schemas.AIRequest, cfg schemas.AIModelConfig, _ error) (schemas.AIResponse, string, error) {
	parts := splitSentences(req.Input)
	results := make([]string, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		g.Go(func() error {
			sub := req
			sub.Input = part
			resp, err := s.processor.Process(gctx, sub, cfg)
			if err != nil {
				return fmt.Errorf("sub-unit %d failed: %w", i+1, err)
			}
			results[i] = resp.Content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return schemas.AIResponse{}, "", err
	}

	return schemas.AIResponse{
		Content: strings.Join(results, " "),
		Model:   cfg.Model,
	}, fmt.Sprintf("Broke request into %d parts", len(parts)), nil
}

// splitSentences is a deliberately simple sentence splitter; the sub-units
// only need to be independently processable, not linguistically perfect.
func splitSentences(input string) []string {
	var out []string
	var b strings.Builder
	for _, r := range input {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// -- priority 6: template response --

type templateResponse struct{}

func (templateResponse) name() string { return "template_response" }

// The last resort is always available.
func (templateResponse) applicable(schemas.AIRequest, error) bool { return true }

func (templateResponse) execute(_ context.Context, req schemas.AIRequest, _ schemas.AIModelConfig, _ error) (schemas.AIResponse, string, error) {
	return schemas.AIResponse{
		Content: fillTemplate(req),
	}, "Generated template response", nil
}

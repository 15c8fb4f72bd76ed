// File: internal/llmclient/gemini.go
// Description: HTTP client for the Gemini generateContent API. Implements
// schemas.AIProcessor; the model comes from the per-request AIModelConfig so
// the fallback-model recovery strategy can steer it.

package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jsodeh/sabi/api/schemas"
	"github.com/jsodeh/sabi/internal/config"
)

const defaultEndpointBase = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiClient talks to the Gemini API with bounded retries and a client-side
// rate limit.
type GeminiClient struct {
	apiKey       string
	endpointBase string
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       *zap.Logger
}

// -- Gemini API request/response payloads (internal to this file) --

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float32 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequestPayload struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// NewGeminiClient initializes the client.
func NewGeminiClient(cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	endpointBase := cfg.Endpoint
	if endpointBase == "" {
		endpointBase = defaultEndpointBase
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &GeminiClient{
		apiKey:       cfg.APIKey,
		endpointBase: endpointBase,
		httpClient:   &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		logger:       logger.Named("llmclient.gemini"),
	}, nil
}

// Process implements schemas.AIProcessor.
func (c *GeminiClient) Process(ctx context.Context, req schemas.AIRequest, cfg schemas.AIModelConfig) (schemas.AIResponse, error) {
	if cfg.Model == "" {
		return schemas.AIResponse{}, fmt.Errorf("no model specified")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return schemas.AIResponse{}, fmt.Errorf("rate limiter wait cancelled: %w", err)
	}

	body, err := json.Marshal(geminiRequestPayload{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Input}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     cfg.Temperature,
			TopP:            cfg.TopP,
			MaxOutputTokens: cfg.MaxTokens,
		},
	})
	if err != nil {
		return schemas.AIResponse{}, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent", c.endpointBase, cfg.Model)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 90 * time.Second
	b.MaxInterval = 15 * time.Second

	start := time.Now()
	var resp schemas.AIResponse

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.logger.Warn("Network error during Gemini request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer httpResp.Body.Close()

		respBody, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if httpResp.StatusCode != http.StatusOK {
			return c.handleAPIError(httpResp.StatusCode, respBody)
		}

		var payload geminiResponsePayload
		if err := json.Unmarshal(respBody, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		if len(payload.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}

		candidate := payload.Candidates[0]
		if len(candidate.Content.Parts) == 0 {
			if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "BLOCKLIST" {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content (reason: %s)", candidate.FinishReason)
		}

		resp = schemas.AIResponse{
			Content:    candidate.Content.Parts[0].Text,
			Model:      cfg.Model,
			TokensUsed: payload.UsageMetadata.TotalTokenCount,
			Elapsed:    time.Since(start),
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return schemas.AIResponse{}, err
	}

	c.logger.Info("Gemini generation complete",
		zap.String("model", cfg.Model),
		zap.Duration("duration", resp.Elapsed),
		zap.Int("total_tokens", resp.TokensUsed),
	)
	return resp, nil
}

func (c *GeminiClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Gemini API returned error status",
		zap.Int("status", statusCode),
		zap.ByteString("response", body),
	)
	err := fmt.Errorf("gemini API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient, retry.
	default:
		return backoff.Permanent(err)
	}
}

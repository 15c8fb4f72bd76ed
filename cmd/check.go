// File: cmd/check.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jsodeh/sabi/api/schemas"
	"github.com/jsodeh/sabi/internal/chrome"
	"github.com/jsodeh/sabi/internal/config"
	"github.com/jsodeh/sabi/internal/llmclient"
	"github.com/jsodeh/sabi/internal/observability"
	"github.com/jsodeh/sabi/internal/recovery"
	airec "github.com/jsodeh/sabi/internal/recovery/ai"
)

// newCheckCmd creates the `check` command, a live end-to-end exercise of the
// full recovery stack: it drives a real browser navigation and a real model
// request, routing any failure through the error handler.
func newCheckCmd() *cobra.Command {
	var (
		url         string
		prompt      string
		skipBrowser bool
		skipAI      bool
	)

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Run a live browser and AI connectivity check with recovery enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadedConfig
			if cfg == nil {
				cfg = config.Default()
			}
			return runCheck(cmd.Context(), os.Stdout, cfg, url, prompt, skipBrowser, skipAI)
		},
	}

	checkCmd.Flags().StringVar(&url, "url", "https://example.com", "URL used for the browser navigation check")
	checkCmd.Flags().StringVar(&prompt, "prompt", "Reply with the single word: ok", "Prompt used for the AI check")
	checkCmd.Flags().BoolVar(&skipBrowser, "skip-browser", false, "Skip the browser check")
	checkCmd.Flags().BoolVar(&skipAI, "skip-ai", false, "Skip the AI check")

	return checkCmd
}

// runCheck contains the core logic for the check command.
func runCheck(ctx context.Context, out io.Writer, cfg *config.Config, url, prompt string, skipBrowser, skipAI bool) error {
	logger := observability.GetLogger()

	var driver schemas.BrowserDriver
	if !skipBrowser {
		d, err := chrome.New(ctx, cfg.Browser, logger)
		if err != nil {
			return fmt.Errorf("failed to start browser: %w", err)
		}
		defer d.Close()
		driver = d
	}

	var processor schemas.AIProcessor
	if !skipAI {
		client, err := llmclient.NewGeminiClient(cfg.LLM, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize AI client: %w", err)
		}
		processor = client
	}

	cache, err := buildCache(cfg, logger)
	if err != nil {
		return err
	}

	handler, err := recovery.New(cfg, logger, driver, processor, cache)
	if err != nil {
		return err
	}
	defer handler.Shutdown()

	handler.OnError(func(serr *schemas.SystemError) {
		logger.Debug("Error observed during check",
			zap.String("category", string(serr.Category)),
			zap.String("type", serr.Type),
		)
	})

	if driver != nil {
		checkBrowser(ctx, out, handler, driver, url)
	}
	if processor != nil {
		checkAI(ctx, out, handler, processor, cfg, prompt)
	}

	if export, err := handler.ExportHistory(); err == nil && len(handler.History()) > 0 {
		fmt.Fprintf(out, "\nErrors observed:\n%s\n", export)
	}
	return nil
}

func checkBrowser(ctx context.Context, out io.Writer, handler *recovery.Handler, driver schemas.BrowserDriver, url string) {
	action := schemas.BrowserAction{
		ID:   "check-navigate",
		Kind: schemas.ActionNavigate,
		URL:  url,
	}

	if _, err := driver.Execute(ctx, action); err != nil {
		res := handler.Handle(ctx, err, schemas.ErrorContext{
			StepID:        "check-navigate",
			ToolName:      "check",
			URL:           url,
			BrowserAction: &action,
		})
		fmt.Fprintf(out, "browser: recovered=%v message=%q adaptations=%v\n", res.Success, res.Message, res.Adaptations)
		return
	}
	fmt.Fprintf(out, "browser: ok (navigated to %s)\n", url)
}

func checkAI(ctx context.Context, out io.Writer, handler *recovery.Handler, processor schemas.AIProcessor, cfg *config.Config, prompt string) {
	req := schemas.AIRequest{
		ProcessingType: schemas.ProcessingText,
		Input:          prompt,
	}
	mc := schemas.AIModelConfig{
		Model:          cfg.LLM.Model,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		TopP:           cfg.LLM.TopP,
		FallbackModels: cfg.Recovery.AI.FallbackModels,
	}

	resp, err := processor.Process(ctx, req, mc)
	if err != nil {
		res := handler.Handle(ctx, err, schemas.ErrorContext{
			StepID:      "check-generate",
			ToolName:    "check",
			AIRequest:   &req,
			ModelConfig: &mc,
		})
		fmt.Fprintf(out, "ai: recovered=%v message=%q adaptations=%v\n", res.Success, res.Message, res.Adaptations)
		return
	}
	fmt.Fprintf(out, "ai: ok (model=%s tokens=%d elapsed=%s)\n", resp.Model, resp.TokensUsed, resp.Elapsed.Round(time.Millisecond))
}

// buildCache selects the AI response cache backend from configuration.
func buildCache(cfg *config.Config, logger *zap.Logger) (schemas.ResponseCache, error) {
	switch cfg.Cache.Backend {
	case "redis":
		return airec.NewRedisCache(cfg.Cache.RedisURL, cfg.Cache.RedisPassword, cfg.Cache.TTL, logger)
	default:
		return airec.NewMemoryCache(cfg.Cache.MaxEntries), nil
	}
}

func init() {
	rootCmd.AddCommand(newCheckCmd())
}

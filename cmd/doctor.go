// File: cmd/doctor.go
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jsodeh/sabi/api/schemas"
	"github.com/jsodeh/sabi/internal/config"
	"github.com/jsodeh/sabi/internal/observability"
	"github.com/jsodeh/sabi/internal/recovery"
)

// doctorProbes are representative failures run through the classifier so an
// operator can see how the running configuration would route them.
var doctorProbes = []struct {
	label string
	err   error
}{
	{"element lookup", fmt.Errorf("element not found: #publish-button")},
	{"page timeout", fmt.Errorf("timeout waiting for selector .editor-canvas")},
	{"model overload", fmt.Errorf("ai model returned status 503")},
	{"network fetch", fmt.Errorf("network request failed: connection reset")},
	{"expired session", fmt.Errorf("authentication token expired")},
	{"bad input", fmt.Errorf("validation failed for field 'site_name'")},
}

// newDoctorCmd creates the `doctor` command, which reports how errors would
// be classified and which recovery actions are registered under the current
// configuration.
func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Inspect error classification and recovery wiring",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadedConfig
			if cfg == nil {
				cfg = config.Default()
			}
			return runDoctor(os.Stdout, cfg)
		},
	}
}

// runDoctor contains the core, testable logic for the doctor command.
func runDoctor(out io.Writer, cfg *config.Config) error {
	fmt.Fprintf(out, "sabi %s\n\n", Version)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  recovery: max_retries=%d retry_delay=%s\n", cfg.Recovery.MaxRetries, cfg.Recovery.RetryDelay)
	fmt.Fprintf(out, "  ai recovery: max_retries=%d degraded_mode=%v cache=%v fallback_models=%v\n",
		cfg.Recovery.AI.MaxRetries, cfg.Recovery.AI.DegradedModeEnabled, cfg.Recovery.AI.CacheEnabled, cfg.Recovery.AI.FallbackModels)
	fmt.Fprintf(out, "  cache backend: %s\n", cfg.Cache.Backend)
	fmt.Fprintf(out, "  llm model: %s\n\n", cfg.LLM.Model)

	fmt.Fprintln(out, "Classification probes:")
	for _, probe := range doctorProbes {
		serr := recovery.Classify(probe.err, schemas.ErrorContext{ToolName: "doctor"})
		fmt.Fprintf(out, "  %-16s -> %s/%s severity=%s recoverable=%v strategies=%v\n",
			probe.label, serr.Category, serr.Type, serr.Severity, serr.Recoverable, serr.Strategies)
	}
	fmt.Fprintln(out)

	// A handler without a driver or processor still builds the full action
	// registry, which is what we want to inspect here.
	handler, err := recovery.New(cfg, observability.GetLogger(), nil, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to build recovery handler: %w", err)
	}
	defer handler.Shutdown()

	fmt.Fprintln(out, "Registered recovery actions:")
	registry := handler.Registry()
	for _, category := range registry.Categories() {
		fmt.Fprintf(out, "  %s:\n", category)
		for _, action := range registry.ActionsFor(category, nil) {
			fmt.Fprintf(out, "    %-24s kind=%-22s p=%.2f automated=%v\n",
				action.ID, action.Kind, action.SuccessProbability, action.Automated)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(newDoctorCmd())
}

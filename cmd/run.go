// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatprobe/api/schemas"
	"github.com/xkilldash9x/chatprobe/internal/browser"
	"github.com/xkilldash9x/chatprobe/internal/config"
	"github.com/xkilldash9x/chatprobe/internal/network"
	"github.com/xkilldash9x/chatprobe/internal/observability"
	"github.com/xkilldash9x/chatprobe/internal/reporting"
	"github.com/xkilldash9x/chatprobe/internal/runner"
	"github.com/xkilldash9x/chatprobe/internal/scenario"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	var (
		language     string
		scenarioFile string
		format       string
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the QA suite against the target chat application",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their corresponding Viper keys so command-line
			// flags correctly override values from the config file and
			// environment variables.
			if err := viper.BindPFlag("runner.parallelism", cmd.Flags().Lookup("parallel")); err != nil {
				return err
			}
			if err := viper.BindPFlag("runner.categories", cmd.Flags().Lookup("category")); err != nil {
				return err
			}
			if err := viper.BindPFlag("runner.report_file", cmd.Flags().Lookup("output")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlag("target.base_url", cmd.Flags().Lookup("base-url"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from Execute (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			languages := cfg.Target().Languages
			if language != "" {
				languages = []string{language}
			}

			store, err := scenario.Load(scenarioFile, logger)
			if err != nil {
				return err
			}

			// Fail fast on an unreachable target before paying for Chrome.
			httpClient := network.NewClient(&network.ClientConfig{
				IgnoreTLSErrors: cfg.Browser().IgnoreTLSErrors,
				RequestTimeout:  cfg.Network().NavigationTimeout,
				ForceHTTP2:      true,
				Logger:          logger,
			})
			if _, err := network.Preflight(ctx, httpClient, cfg.Target().BaseURL,
				cfg.Browser().UserAgent, cfg.Network().Headers, logger); err != nil {
				return err
			}

			manager, err := browser.NewManager(ctx, logger, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize browser manager: %w", err)
			}
			defer func() {
				if err := manager.Shutdown(ctx); err != nil {
					logger.Warn("Error during browser manager shutdown", zap.Error(err))
				}
			}()

			suite := runner.New(cfg, manager, store, logger)
			logger.Info("Starting suite",
				zap.String("run_id", suite.RunID()),
				zap.String("target", cfg.Target().BaseURL),
				zap.Strings("languages", languages),
				zap.Strings("categories", cfg.Runner().Categories),
			)

			var total schemas.Summary
			for _, lang := range languages {
				summary, err := runLanguage(ctx, suite, cfg, format, lang, languages)
				if err != nil {
					return err
				}
				total.Total += summary.Total
				total.Passed += summary.Passed
				total.Failed += summary.Failed
				total.Skipped += summary.Skipped
			}

			fmt.Printf("\nSuite complete. Run ID: %s\n", suite.RunID())
			fmt.Printf("Total: %d  Passed: %d  Failed: %d  Skipped: %d\n",
				total.Total, total.Passed, total.Failed, total.Skipped)

			if total.Failed > 0 {
				return fmt.Errorf("suite finished with %d failed case(s)", total.Failed)
			}
			return nil
		},
	}

	runCmd.Flags().StringVarP(&language, "language", "l", "", "Run a single language (e.g. 'en', 'ar'). Defaults to all configured languages.")
	runCmd.Flags().StringVar(&scenarioFile, "data", "", "Path to a scenario catalogue file. Defaults to the embedded catalogue.")
	runCmd.Flags().StringVarP(&format, "format", "f", "json", "Format for the output report.")

	// Flags bound to viper keys in PreRunE.
	runCmd.Flags().StringP("output", "o", "", "Output file path for the report. If unset, the report goes to stdout.")
	runCmd.Flags().IntP("parallel", "j", 0, "Number of concurrent cases. (Overrides config/env)")
	runCmd.Flags().StringSlice("category", nil, "Scenario categories to run (e.g. 'ui', 'security'). Defaults to all.")
	runCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	runCmd.Flags().String("base-url", "", "Base URL of the chat application. (Overrides config/env)")

	return runCmd
}

// runLanguage executes the suite once for one language and writes its report.
func runLanguage(ctx context.Context, suite *runner.Runner, cfg config.Interface, format, lang string, languages []string) (schemas.Summary, error) {
	reporter, err := reporting.New(format, reportPathFor(cfg.Runner().ReportFile, lang, len(languages)), reporting.RunMeta{
		RunID:      suite.RunID(),
		Version:    Version,
		Target:     cfg.Target().BaseURL,
		Language:   lang,
		Categories: cfg.Runner().Categories,
	})
	if err != nil {
		return schemas.Summary{}, fmt.Errorf("failed to initialize reporter: %w", err)
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			observability.GetLogger().Error("Failed to close reporter", zap.Error(err))
		}
	}()

	return suite.Run(ctx, lang, reporter)
}

// reportPathFor derives the per-language report path. With several languages
// the language code is inserted before the extension so reports do not
// overwrite each other.
func reportPathFor(base, lang string, languageCount int) string {
	if base == "" || languageCount < 2 {
		return base
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "-" + lang + ext
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/sdd/internal/bundle"
	"github.com/roach88/sdd/internal/ir"
	"github.com/roach88/sdd/internal/metrics"
	"github.com/roach88/sdd/internal/watch"
	"github.com/roach88/sdd/internal/workspace"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Profile     string
	Watch       bool
	MetricsAddr string
	Debounce    time.Duration
}

// ValidationResult is the outcome of one lint pass.
type ValidationResult struct {
	Bundle      string          `json:"bundle"`
	Entities    int             `json:"entities"`
	Profile     string          `json:"profile,omitempty"`
	Valid       bool            `json:"valid"`
	Errors      int             `json:"errors"`
	Warnings    int             `json:"warnings"`
	Diagnostics []ir.Diagnostic `json:"diagnostics"`
}

func newValidationResult(b *bundle.Bundle, profile string, diags []ir.Diagnostic) *ValidationResult {
	if diags == nil {
		diags = []ir.Diagnostic{}
	}
	counts := ir.CountBySeverity(diags)
	return &ValidationResult{
		Bundle:      b.Manifest.Name,
		Entities:    b.Count(),
		Profile:     profile,
		Valid:       !ir.HasErrors(diags),
		Errors:      counts[ir.SeverityError],
		Warnings:    counts[ir.SeverityWarning],
		Diagnostics: diags,
	}
}

func (r *ValidationResult) String() string {
	var b strings.Builder
	for _, d := range r.Diagnostics {
		fmt.Fprintf(&b, "%s\n", d)
	}
	verdict := "valid"
	if !r.Valid {
		verdict = "invalid"
	}
	fmt.Fprintf(&b, "%s: %d entities, %s (%d errors, %d warnings)", r.Bundle, r.Entities, verdict, r.Errors, r.Warnings)
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [bundle]",
		Short: "Lint a bundle",
		Long: `Run a full lint pass over a bundle: schema validation, reference
integrity, custom rules and, with --profile, conformance rules.

With --watch the bundle is re-validated whenever its files change, until
interrupted.

Exit codes:
  0 - No error diagnostics
  1 - At least one error diagnostic
  2 - Command error (bundle not found, unknown profile, etc.)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _, err := splitBundle(args, 0)
			if err != nil {
				return err
			}
			return runValidate(cmd.Context(), opts, path, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Profile, "profile", "", "conformance profile to include")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "re-validate when bundle files change")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while watching")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", watch.DefaultDebounce, "quiet period before re-validating")

	return cmd
}

func runValidate(ctx context.Context, opts *ValidateOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	collector := metrics.New()

	ws, _, err := openWorkspace(ctx, formatter, logger, path, workspace.WithMetrics(collector))
	if err != nil {
		return err
	}

	result, err := validateOnce(ctx, ws, opts.Profile)
	if err != nil {
		return formatter.Fail("validation failed", err)
	}
	if err := formatter.Success(result); err != nil {
		return err
	}
	if opts.Watch {
		return watchBundle(ctx, opts, ws, collector, formatter, logger)
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d error diagnostic(s)", result.Errors))
	}
	return nil
}

func validateOnce(ctx context.Context, ws *workspace.Workspace, profile string) (*ValidationResult, error) {
	diags, err := ws.Validate(ctx, profile)
	if err != nil {
		return nil, err
	}
	return newValidationResult(ws.Snapshot(), profile, diags), nil
}

// watchBundle re-validates on every reload until ctx is done.
func watchBundle(ctx context.Context, opts *ValidateOptions, ws *workspace.Workspace, collector *metrics.Collector, formatter *OutputFormatter, logger *slog.Logger) error {
	w, err := watch.New(ws,
		watch.WithDebounce(opts.Debounce),
		watch.WithLogger(logger),
		watch.WithOnReload(func(_ *bundle.Bundle, err error) {
			if err != nil {
				formatter.Fail("reload failed", err)
				return
			}
			result, err := validateOnce(ctx, ws, opts.Profile)
			if err != nil {
				formatter.Fail("validation failed", err)
				return
			}
			formatter.Success(result)
		}),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to watch bundle", err)
	}
	defer w.Close()

	if opts.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           metricsMux(collector),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", opts.MetricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		formatter.VerboseLog("Serving metrics on %s/metrics", opts.MetricsAddr)
	}

	formatter.VerboseLog("Watching %s", ws.Root())
	return w.Run(ctx)
}

func metricsMux(collector *metrics.Collector) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
	return mux
}

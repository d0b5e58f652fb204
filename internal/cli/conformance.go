package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sdd/internal/lint"
)

// ConformanceResult wraps lint.Report for text output.
type ConformanceResult struct {
	*lint.Report
}

func (r ConformanceResult) String() string {
	var b strings.Builder
	title := r.Profile
	if r.Title != "" {
		title = fmt.Sprintf("%s (%s)", r.Profile, r.Title)
	}
	fmt.Fprintf(&b, "profile %s: %s", title, passFail(r.Passed))
	for _, rule := range r.Rules {
		fmt.Fprintf(&b, "\n  %-4s %s -> %s: %d %s checked", passFail(rule.Passed), rule.ID, rule.Requirement, rule.Checked, rule.EntityType)
		if !rule.RequirementFound {
			b.WriteString(" (requirement missing)")
		}
		for _, f := range rule.Failed {
			fmt.Fprintf(&b, "\n         %s", f)
		}
	}
	return b.String()
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

// NewConformanceCommand creates the conformance command.
func NewConformanceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conformance [bundle] <profile>",
		Short: "Check a bundle against a conformance profile",
		Long: `Evaluate the rules of one conformance profile and report, per rule, the
requirement it enforces and the entities that fail it.

Exit codes:
  0 - Every rule passed
  1 - At least one rule failed
  2 - Command error (bundle or profile not found, etc.)`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, rest, err := splitBundle(args, 1)
			if err != nil {
				return err
			}
			return runConformance(cmd.Context(), rootOpts, path, rest[0], cmd)
		},
	}
	return cmd
}

func runConformance(ctx context.Context, opts *RootOptions, path, profile string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ws, _, err := openWorkspace(ctx, formatter, newLogger(opts, cmd.ErrOrStderr()), path)
	if err != nil {
		return err
	}
	report, err := ws.Conformance(profile)
	if err != nil {
		return formatter.Fail("conformance check failed", err)
	}
	if err := formatter.Success(ConformanceResult{report}); err != nil {
		return err
	}
	if !report.Passed {
		return NewExitError(ExitFailure, fmt.Sprintf("profile %s failed", profile))
	}
	return nil
}

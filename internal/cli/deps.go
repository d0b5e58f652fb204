package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sdd/internal/deps"
	"github.com/roach88/sdd/internal/ir"
)

// DepsOptions holds flags for the deps command.
type DepsOptions struct {
	*RootOptions
	Depth int
}

// DepsResult wraps deps.Result for text output.
type DepsResult struct {
	*deps.Result
}

func (r DepsResult) String() string {
	var b strings.Builder
	targets := make([]string, len(r.Targets))
	for i, t := range r.Targets {
		targets[i] = t.String()
	}
	fmt.Fprintf(&b, "%s: %d dependencies", strings.Join(targets, ", "), len(r.Dependencies))
	for _, d := range r.Dependencies {
		fmt.Fprintf(&b, "\n  %s%s  (via %s.%s)", strings.Repeat("  ", d.Depth-1), d.Ref, d.Via.From(), d.Via.FromField)
		if !d.Modified.IsZero() {
			fmt.Fprintf(&b, "  modified %s", d.Modified.UTC().Format(time.DateOnly))
		}
	}
	return b.String()
}

// NewDepsCommand creates the deps command.
func NewDepsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DepsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deps [bundle] <Type:id>...",
		Short: "List the entities the targets depend on",
		Long: `Walk outgoing references from one or more targets and list every entity
reached, nearest first.

Examples:
  sdd deps ./spec Feature:auth-login
  sdd deps ./spec Feature:auth-login Feature:auth-logout --depth 1`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, refs, err := splitBundle(args, -1)
			if err != nil {
				return err
			}
			return runDeps(cmd.Context(), opts, path, refs, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Depth, "depth", deps.DefaultDepth, fmt.Sprintf("maximum traversal depth (capped at %d)", deps.MaxDepth))

	return cmd
}

func runDeps(ctx context.Context, opts *DepsOptions, path string, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if len(args) == 0 {
		return formatter.Fail("", ir.Errorf(ir.CodeBadRequest, "at least one Type:id target is required"))
	}
	targets := make([]ir.EntityRef, len(args))
	for i, arg := range args {
		ref, err := ir.ParseEntityRef(arg)
		if err != nil {
			return formatter.Fail("", ir.WrapError(ir.CodeBadRequest, "invalid target", err))
		}
		targets[i] = ref
	}

	ws, _, err := openWorkspace(ctx, formatter, newLogger(opts.RootOptions, cmd.ErrOrStderr()), path)
	if err != nil {
		return err
	}
	result, err := ws.CollectDependencies(targets, opts.Depth)
	if err != nil {
		return formatter.Fail("dependency walk failed", err)
	}
	return formatter.Success(DepsResult{result})
}

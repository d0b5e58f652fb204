package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/sdd/internal/apply"
	"github.com/roach88/sdd/internal/conversation"
	"github.com/roach88/sdd/internal/ir"
	"github.com/roach88/sdd/internal/store"
	"github.com/roach88/sdd/internal/workspace"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Policy  string
	DryRun  bool
	Journal string
}

// ChangeFile is the document read by the apply command.
type ChangeFile struct {
	// Context is recorded with the session when journaling.
	Context conversation.Context `yaml:"context,omitempty"`
	Changes []ir.ProposedChange  `yaml:"changes"`
}

// ApplyResult is the outcome of a committed or planned batch.
type ApplyResult struct {
	SessionID   string   `json:"session_id,omitempty"`
	DryRun      bool     `json:"dry_run,omitempty"`
	CommitRef   string   `json:"commit_ref,omitempty"`
	ChangeSetID string   `json:"change_set_id"`
	Touched     []string `json:"touched"`
	Files       []string `json:"files,omitempty"`
}

func (r *ApplyResult) String() string {
	var b strings.Builder
	if r.DryRun {
		fmt.Fprintf(&b, "change set %s would write %d file(s):", r.ChangeSetID, len(r.Files))
		for _, f := range r.Files {
			fmt.Fprintf(&b, "\n  %s", f)
		}
		return b.String()
	}
	fmt.Fprintf(&b, "committed %s (change set %s):", r.CommitRef, r.ChangeSetID)
	for _, t := range r.Touched {
		fmt.Fprintf(&b, "\n  %s", t)
	}
	return b.String()
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply [bundle] <changes.yaml>",
		Short: "Apply a batch of changes as one commit",
		Long: `Apply a batch of proposed changes atomically: every change is written,
the bundle is re-validated, and the batch is committed as one commit or
reverted entirely.

The changes file holds a list under "changes":

  changes:
    - entityType: Feature
      entityId: auth-login
      fieldPath: title
      newValue: Sign in
      rationale: match UI copy

Exit codes:
  0 - Committed (or planned, with --dry-run)
  1 - Rejected by validation, reference checks or a blocked delete
  2 - Command error (dirty tree, unknown entity, malformed batch, etc.)`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, rest, err := splitBundle(args, 1)
			if err != nil {
				return err
			}
			return runApply(cmd.Context(), opts, path, rest[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Policy, "policy", apply.BlockAnyError.String(), "blocking policy (block-any-error|block-new-errors)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "stage the batch and list the files it would write")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record the session in this SQLite journal")

	return cmd
}

func runApply(ctx context.Context, opts *ApplyOptions, path, changesPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	policy, err := apply.ParsePolicy(opts.Policy)
	if err != nil {
		return formatter.Fail("", err)
	}
	file, err := loadChangeFile(changesPath)
	if err != nil {
		return formatter.Fail("", err)
	}
	formatter.VerboseLog("Loaded %d change(s) from %s", len(file.Changes), changesPath)

	ws, _, err := openWorkspace(ctx, formatter, logger, path,
		workspace.WithApplyOptions(apply.WithPolicy(policy)))
	if err != nil {
		return err
	}

	if opts.DryRun {
		return dryRun(ctx, ws, file.Changes, formatter)
	}

	mgrOpts := []conversation.Option{conversation.WithLogger(logger)}
	if opts.Journal != "" {
		journal, err := store.Open(opts.Journal)
		if err != nil {
			return formatter.Fail("", ir.WrapError(ir.CodeInternal, "failed to open journal", err))
		}
		defer journal.Close()
		mgrOpts = append(mgrOpts, conversation.WithJournal(journal))
	}
	return acceptBatch(ctx, conversation.NewManager(ws, mgrOpts...), file, formatter, logger)
}

// acceptBatch runs the batch through one session: start, propose, accept.
func acceptBatch(ctx context.Context, mgr *conversation.Manager, file *ChangeFile, formatter *OutputFormatter, logger *slog.Logger) error {
	session, err := mgr.Start(ctx, file.Context)
	if err != nil {
		return formatter.Fail("cannot start", err)
	}
	logger.Debug("session started", "session", session.ID())

	if _, err := session.ProposeChanges(ctx, file.Changes); err != nil {
		return formatter.Fail("", err)
	}
	st, err := session.AcceptChanges(ctx)
	if err != nil {
		return formatter.Fail("batch rejected", err)
	}

	result := &ApplyResult{
		SessionID:   st.ID,
		CommitRef:   st.LastCommit.Ref,
		ChangeSetID: st.LastCommit.ChangeSetID,
		Touched:     refStrings(st.LastCommit.Touched),
	}
	return formatter.Success(result)
}

// dryRun stages the batch, reports the plan and discards it.
func dryRun(ctx context.Context, ws *workspace.Workspace, changes []ir.ProposedChange, formatter *OutputFormatter) error {
	svc := ws.Service()
	plan, err := svc.Prepare(ctx, ws.Snapshot(), changes)
	if err != nil {
		return formatter.Fail("batch rejected", err)
	}
	if err := svc.Rollback(ctx); err != nil {
		return formatter.Fail("", err)
	}
	return formatter.Success(&ApplyResult{
		DryRun:      true,
		ChangeSetID: plan.ChangeSetID,
		Touched:     refStrings(plan.Touched),
		Files:       plan.Files(),
	})
}

// loadChangeFile reads a changes file, rejecting unknown fields.
func loadChangeFile(path string) (*ChangeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ir.WrapError(ir.CodeBadRequest, "failed to read changes file", err)
	}
	var file ChangeFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, ir.WrapError(ir.CodeBadRequest, "failed to parse changes file", err)
	}
	if len(file.Changes) == 0 {
		return nil, ir.Errorf(ir.CodeBadRequest, "changes file %s lists no changes", path)
	}
	return &file, nil
}

func refStrings(refs []ir.EntityRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}

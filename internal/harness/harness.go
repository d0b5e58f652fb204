package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/roach88/sdd/internal/conversation"
	"github.com/roach88/sdd/internal/ir"
	"github.com/roach88/sdd/internal/store"
	"github.com/roach88/sdd/internal/testutil"
	"github.com/roach88/sdd/internal/vcs"
	"github.com/roach88/sdd/internal/workspace"
)

// Option configures a run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
	keep   func(root string)
}

// WithLogger routes workspace and session logs to l. Default: discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithInspect calls fn with the repository root after the last assertion
// and before the temporary directory is removed.
func WithInspect(fn func(root string)) Option {
	return func(c *runConfig) {
		c.keep = fn
	}
}

// Harness holds the state of one scenario run.
type Harness struct {
	scenario *Scenario
	root     string
	git      *vcs.Git
	journal  *store.Store
	ws       *workspace.Workspace
	session  *conversation.Session
	replies  []AgentReply
	baseline int
}

// Run executes scenario against a fresh copy of its fixture.
//
// The returned error covers failures of the harness itself: copying the
// fixture, git, or the journal. Failed expectations are reported in
// Result.Errors with Result.Pass false.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	dir, err := os.MkdirTemp("", "sdd-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		scenario: scenario,
		root:     filepath.Join(dir, "repo"),
		git:      &vcs.Git{AuthorName: "sdd harness", AuthorEmail: "harness@example.com"},
		replies:  slices.Clone(scenario.Agent),
	}
	if err := h.prepare(ctx); err != nil {
		return nil, err
	}

	h.journal, err = store.Open(filepath.Join(dir, "journal.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer h.journal.Close()

	h.ws, _, err = workspace.Open(ctx, h.root,
		workspace.WithVCS(h.git),
		workspace.WithLogger(cfg.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}

	mgrOpts := []conversation.Option{
		conversation.WithIDGenerator(testutil.NewFixedSessionGenerator(scenario.SessionID)),
		conversation.WithClock(testutil.NewDeterministicClock()),
		conversation.WithJournal(h.journal),
		conversation.WithLogger(cfg.logger),
	}
	if len(scenario.Agent) > 0 {
		mgrOpts = append(mgrOpts, conversation.WithBackend(conversation.BackendFunc(h.reply)))
	}
	mgr := conversation.NewManager(h.ws, mgrOpts...)

	result := NewResult()
	session, err := mgr.Start(ctx, scenario.Context)
	if session == nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	h.session = session
	result.SessionID = session.ID()
	h.observe(result, OpStart, scenario.Start, session.State(), err, nil)

	for _, step := range scenario.Steps {
		h.step(ctx, result, step)
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}
	for i := range scenario.Assertions {
		if err := h.check(ctx, result, &scenario.Assertions[i]); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d] (%s): %v", i, scenario.Assertions[i].Type, err))
		}
	}
	if cfg.keep != nil {
		cfg.keep(h.root)
	}
	return result, nil
}

// prepare copies the fixture, applies edits, commits it on a work branch
// and then writes the dirty files.
func (h *Harness) prepare(ctx context.Context) error {
	if err := os.CopyFS(h.root, os.DirFS(h.scenario.Bundle)); err != nil {
		return fmt.Errorf("failed to copy fixture: %w", err)
	}
	if err := writeFiles(h.root, h.scenario.Edits); err != nil {
		return err
	}
	if err := initRepo(ctx, h.root); err != nil {
		return err
	}
	n, err := commitCount(ctx, h.root)
	if err != nil {
		return err
	}
	h.baseline = n
	return writeFiles(h.root, h.scenario.Dirty)
}

func (h *Harness) step(ctx context.Context, result *Result, step Step) {
	op := step.Op()
	before := h.session.State().LastCommit

	var (
		st  conversation.ConversationState
		err error
	)
	switch op {
	case OpPropose:
		st, err = h.session.ProposeChanges(ctx, step.Propose)
	case OpSend:
		st, err = h.session.Send(ctx, step.Send)
	case OpAccept:
		st, err = h.session.AcceptChanges(ctx)
	case OpRollback:
		st, err = h.session.Rollback(ctx)
	case OpAbort:
		st, err = h.session.Abort(ctx)
	}

	h.observe(result, op, step.Expect, st, err, before)
}

// observe appends the outcome of one operation and checks it against want.
func (h *Harness) observe(result *Result, op string, want *Expect, st conversation.ConversationState, err error, before *conversation.Commit) {
	out := StepResult{Op: op, Status: string(st.Status)}
	if err != nil {
		out.ErrorCode = string(ir.CodeOf(err))
		var e *ir.Error
		if errors.As(err, &e) {
			out.Codes = diagnosticCodes(e.Diagnostics)
		}
	}
	if err == nil && st.LastCommit != nil && (before == nil || before.Ref != st.LastCommit.Ref) {
		out.Committed = true
		for _, ref := range st.LastCommit.Touched {
			out.Touched = append(out.Touched, ref.String())
		}
	}
	result.Steps = append(result.Steps, out)

	label := fmt.Sprintf("step %d (%s)", len(result.Steps)-1, op)
	if op == OpStart {
		label = "start"
	}
	for _, msg := range compareExpect(want, out, op == OpStart) {
		result.AddError(label + ": " + msg)
	}
}

// compareExpect lists the ways got differs from want. A start step with no
// expectation must succeed.
func compareExpect(want *Expect, got StepResult, isStart bool) []string {
	if want == nil {
		if isStart && got.ErrorCode != "" {
			return []string{fmt.Sprintf("unexpected error %s", got.ErrorCode)}
		}
		return nil
	}
	var msgs []string
	if want.Status != "" && want.Status != got.Status {
		msgs = append(msgs, fmt.Sprintf("status = %q, want %q", got.Status, want.Status))
	}
	switch want.ErrorCode {
	case "":
	case ExpectNoError:
		if got.ErrorCode != "" {
			msgs = append(msgs, fmt.Sprintf("unexpected error %s", got.ErrorCode))
		}
	default:
		if want.ErrorCode != got.ErrorCode {
			msgs = append(msgs, fmt.Sprintf("error_code = %q, want %q", got.ErrorCode, want.ErrorCode))
		}
	}
	if want.Committed != nil && *want.Committed != got.Committed {
		msgs = append(msgs, fmt.Sprintf("committed = %t, want %t", got.Committed, *want.Committed))
	}
	if len(want.Codes) > 0 {
		wantCodes := slices.Clone(want.Codes)
		slices.Sort(wantCodes)
		wantCodes = slices.Compact(wantCodes)
		if !slices.Equal(wantCodes, got.Codes) {
			msgs = append(msgs, fmt.Sprintf("codes = %v, want %v", got.Codes, wantCodes))
		}
	}
	return msgs
}

// diagnosticCodes returns the distinct codes in diags, sorted.
func diagnosticCodes(diags []ir.Diagnostic) []string {
	if len(diags) == 0 {
		return nil
	}
	codes := make([]string, len(diags))
	for i, d := range diags {
		codes[i] = d.Code
	}
	slices.Sort(codes)
	return slices.Compact(codes)
}

// reply is the scripted agent backend.
func (h *Harness) reply(_ context.Context, _ conversation.ConversationState, _ string) (conversation.Reply, error) {
	if len(h.replies) == 0 {
		return conversation.Reply{}, errors.New("no scripted reply left")
	}
	next := h.replies[0]
	h.replies = h.replies[1:]
	if next.Error != "" {
		return conversation.Reply{}, errors.New(next.Error)
	}
	return conversation.Reply{Text: next.Text, Changes: next.Changes}, nil
}

// collect reads the journal and repository state into result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	var err error
	if result.Transitions, err = h.journal.ReadTransitions(ctx, result.SessionID); err != nil {
		return fmt.Errorf("failed to read transitions: %w", err)
	}
	if result.ApplyRecords, err = h.journal.ReadApplyRecords(ctx, result.SessionID); err != nil {
		return fmt.Errorf("failed to read apply records: %w", err)
	}
	n, err := commitCount(ctx, h.root)
	if err != nil {
		return err
	}
	result.Commits = n - h.baseline
	if result.Clean, err = h.git.IsClean(ctx, h.root); err != nil {
		return fmt.Errorf("failed to read working tree: %w", err)
	}
	return nil
}

func writeFiles(root string, files map[string]string) error {
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to write %s: %w", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", rel, err)
		}
	}
	return nil
}

// Package mission runs a built bundle through its phases: Apply, Verify
// with the evaluate tool, Verify with the scap tool, then Evidence.
// Every transition lands in the mission ledger and every material decision
// in the audit trail. Phases are strictly sequential and the first failure
// fails the mission; there is no partial success.
package mission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/missionctl/internal/alert"
	"github.com/ppiankov/missionctl/internal/audit"
	"github.com/ppiankov/missionctl/internal/breakglass"
	"github.com/ppiankov/missionctl/internal/bundle"
	"github.com/ppiankov/missionctl/internal/identity"
	"github.com/ppiankov/missionctl/internal/ledger"
	"github.com/ppiankov/missionctl/internal/model"
	"github.com/ppiankov/missionctl/internal/telemetry"
)

// ErrInvalidRequest is returned before any side effect when a request is
// malformed.
var ErrInvalidRequest = errors.New("mission: invalid request")

// PhaseError reports the phase (and tool, for Verify) that failed a
// mission. It unwraps to the executor's error.
type PhaseError struct {
	Phase model.Phase
	Tool  Tool
	Err   error
}

func (e *PhaseError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("mission: phase %s (%s) failed: %v", e.Phase, e.Tool, e.Err)
	}
	return fmt.Sprintf("mission: phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Request describes one mission.
type Request struct {
	BundleRoot string
	// RunID is generated when empty.
	RunID      string
	ScriptArgs []string
	Evaluate   ToolOptions
	Scap       ToolOptions
	BreakGlass breakglass.Request
}

// Result collects what each phase produced. On failure it holds the
// phases that completed.
type Result struct {
	Run      model.MissionRun      `json:"run"`
	Plan     *RemediationPlan      `json:"plan,omitempty"`
	Apply    *ApplyResult          `json:"apply,omitempty"`
	Verify   []VerifyResult        `json:"verify,omitempty"`
	Evidence *bundle.EvidenceIndex `json:"evidence,omitempty"`
}

// Orchestrator wires the collaborators of a mission. Ledger is required;
// a nil executor, verifier or collector skips its phase, and a nil Audit,
// Alerts or Logger disables that output.
type Orchestrator struct {
	Ledger   *ledger.Ledger
	Audit    *audit.Trail
	Applier  ApplyExecutor
	Verifier VerifyWorkflow
	Evidence EvidenceCollector
	Alerts   Alerter
	Identity identity.Context
	Tracer   trace.Tracer
	Logger   *log.Logger
}

type step struct {
	phase model.Phase
	tool  Tool
	name  string
	// skip, when non-empty, is recorded as the Skipped message.
	skip string
	run  func(ctx context.Context) (message, ref string, err error)
}

type runner struct {
	o      *Orchestrator
	req    Request
	res    *Result
	seq    int64
	logger *log.Logger
}

// Run executes a mission against a built bundle. High-risk flags are
// checked before anything is written. Ledger and audit writes are best
// effort and are logged on failure, except a reused timeline sequence
// number, which fails the mission.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := o.validate(&req); err != nil {
		return nil, err
	}
	if err := breakglass.Check(req.BreakGlass); err != nil {
		return nil, err
	}

	ctx, span := o.tracer().Start(ctx, "mission", trace.WithAttributes(
		attribute.String("mission.run_id", req.RunID),
		attribute.String("mission.bundle_root", req.BundleRoot),
	))
	defer span.End()

	run := model.MissionRun{
		ID:         req.RunID,
		BundleRoot: req.BundleRoot,
		Status:     model.RunPending,
		CreatedAt:  o.Identity.Now(),
	}
	if err := o.Ledger.CreateRun(ctx, run); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create run")
		return nil, fmt.Errorf("mission: create run: %w", err)
	}

	r := &runner{o: o, req: req, res: &Result{Run: run}, logger: o.logger()}

	if req.BreakGlass.Active() {
		detail := breakglass.Detail(req.BreakGlass)
		r.audit(ctx, audit.ActionBreakGlass, audit.ResultGranted, detail)
		r.alert(alert.EventBreakGlassUsed, "", "", detail)
		span.AddEvent("break-glass", trace.WithAttributes(attribute.String("mission.break_glass", detail)))
	}
	r.audit(ctx, audit.ActionMissionStart, audit.ResultSuccess, "run="+req.RunID)

	r.setStatus(ctx, model.RunRunning, "")

	for _, s := range r.steps() {
		if err := r.runStep(ctx, s); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return r.res, r.fail(ctx, s, err)
		}
	}

	r.setStatus(ctx, model.RunCompleted, "")
	r.audit(ctx, audit.ActionMissionComplete, audit.ResultSuccess, "run="+req.RunID)
	span.SetStatus(codes.Ok, "")
	return r.res, nil
}

func (o *Orchestrator) validate(req *Request) error {
	if o.Ledger == nil {
		return fmt.Errorf("%w: ledger is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.BundleRoot) == "" {
		return fmt.Errorf("%w: bundle root is required", ErrInvalidRequest)
	}
	root, err := filepath.Abs(req.BundleRoot)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: bundle root %s is not a directory", ErrInvalidRequest, root)
	}
	if !bundle.IsComplete(root) {
		return fmt.Errorf("%w: %s has no hash manifest; build the bundle first", ErrInvalidRequest, root)
	}
	req.BundleRoot = root
	if req.RunID == "" {
		req.RunID = identity.NewID("run")
	}
	req.Evaluate.Tool = ToolEvaluate
	req.Scap.Tool = ToolScap
	return nil
}

func (o *Orchestrator) tracer() trace.Tracer {
	if o.Tracer != nil {
		return o.Tracer
	}
	return telemetry.Tracer()
}

func (o *Orchestrator) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.New(io.Discard, "", 0)
}

func (r *runner) steps() []step {
	o, req := r.o, r.req

	apply := step{phase: model.PhaseApply, name: "apply", run: r.apply}
	if o.Applier == nil {
		apply.skip = "no apply executor configured"
	}

	evidence := step{phase: model.PhaseEvidence, name: "collect", run: r.collect}
	if o.Evidence == nil {
		evidence.skip = "no evidence collector configured"
	}

	return []step{
		apply,
		r.verifyStep(req.Evaluate),
		r.verifyStep(req.Scap),
		evidence,
	}
}

func (r *runner) verifyStep(opts ToolOptions) step {
	s := step{
		phase: model.PhaseVerify,
		tool:  opts.Tool,
		name:  string(opts.Tool),
		run: func(ctx context.Context) (string, string, error) {
			return r.verify(ctx, opts)
		},
	}
	switch {
	case r.req.BreakGlass.SkipVerify:
		s.skip = "skipped by break-glass (" + string(breakglass.FlagSkipVerify) + ")"
	case r.o.Verifier == nil:
		s.skip = "no verification workflow configured"
	case !opts.Configured():
		s.skip = string(opts.Tool) + " tool not configured"
	}
	return s
}

func (r *runner) runStep(ctx context.Context, s step) error {
	attrs := []attribute.KeyValue{
		attribute.String("mission.phase", string(s.phase)),
		attribute.String("mission.step", s.name),
	}
	if s.tool != "" {
		attrs = append(attrs, attribute.String("mission.tool", string(s.tool)))
	}
	ctx, span := r.o.tracer().Start(ctx, "mission."+strings.ToLower(string(s.phase)), trace.WithAttributes(attrs...))
	defer span.End()

	if s.skip != "" {
		span.SetAttributes(attribute.Bool("mission.skipped", true))
		return r.event(ctx, s, model.EventSkipped, s.skip, "")
	}
	if err := r.event(ctx, s, model.EventStarted, "", ""); err != nil {
		return err
	}

	var (
		message, ref string
		err          error
	)
	if err = ctx.Err(); err == nil {
		message, ref, err = s.run(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &PhaseError{Phase: s.phase, Tool: s.tool, Err: err}
	}
	return r.event(ctx, s, model.EventFinished, message, ref)
}

func (r *runner) apply(ctx context.Context) (string, string, error) {
	plan, err := BuildPlan(r.req.BundleRoot, r.o.Identity.Now())
	if err != nil {
		return "", "", err
	}
	path, err := WritePlan(r.req.BundleRoot, plan)
	if err != nil {
		return "", "", err
	}
	r.res.Plan = plan

	out, err := r.o.Applier.Apply(ctx, ApplyRequest{
		BundleRoot:   r.req.BundleRoot,
		PlanPath:     path,
		ScriptArgs:   r.req.ScriptArgs,
		SkipSnapshot: r.req.BreakGlass.SkipSnapshot,
	})
	if err != nil {
		return "", "", err
	}
	r.res.Apply = &out
	msg := fmt.Sprintf("%d steps; %d controls planned, %d excluded as not applicable",
		out.Steps, len(plan.Controls), len(plan.Excluded))
	return msg, r.ref(out.LogPath), nil
}

func (r *runner) verify(ctx context.Context, opts ToolOptions) (string, string, error) {
	out, err := r.o.Verifier.Verify(ctx, filepath.Join(r.req.BundleRoot, bundle.DirVerify), opts)
	if err != nil {
		return "", "", err
	}
	r.res.Verify = append(r.res.Verify, out)
	ref := ""
	if len(out.ToolRuns) > 0 {
		ref = r.ref(out.ToolRuns[0].OutputPath)
	}
	return out.Counts.String(), ref, nil
}

func (r *runner) collect(ctx context.Context) (string, string, error) {
	idx, err := r.o.Evidence.Collect(ctx, r.req.BundleRoot)
	if err != nil {
		return "", "", err
	}
	r.res.Evidence = idx
	return fmt.Sprintf("%d files indexed", len(idx.Files)), bundle.EvidenceIndexPath, nil
}

// fail records a failed mission and returns err unchanged.
func (r *runner) fail(ctx context.Context, s step, err error) error {
	message := err.Error()
	var pe *PhaseError
	if errors.As(err, &pe) {
		message = pe.Err.Error()
		if evErr := r.event(ctx, s, model.EventFailed, message, ""); evErr != nil {
			r.logger.Printf("mission: record failure of %s: %v", s.phase, evErr)
		}
	}

	detail := fmt.Sprintf("phase %s", s.phase)
	if s.tool != "" {
		detail += fmt.Sprintf(" (%s)", s.tool)
	}
	detail += " failed: " + message

	r.setStatus(ctx, model.RunFailed, detail)
	r.audit(ctx, audit.ActionMissionFailed, audit.ResultFailure, "run="+r.req.RunID+"; "+detail)
	r.alert(alert.EventMissionFailed, s.phase, s.tool, message)
	return err
}

// event appends one timeline event. Only a reused sequence number is
// returned; other write failures are logged.
func (r *runner) event(ctx context.Context, s step, status model.EventStatus, message, ref string) error {
	r.seq++
	ev := model.TimelineEvent{
		RunID:       r.req.RunID,
		Seq:         r.seq,
		Phase:       s.phase,
		Step:        s.name,
		Status:      status,
		Timestamp:   r.o.Identity.Now(),
		Message:     message,
		EvidenceRef: ref,
	}
	err := r.o.Ledger.AppendEvent(context.WithoutCancel(ctx), ev)
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrDuplicateSeq) {
		return fmt.Errorf("mission: run %s seq %d: %w", ev.RunID, ev.Seq, err)
	}
	r.logger.Printf("mission: ledger append failed: %v", err)
	return nil
}

func (r *runner) setStatus(ctx context.Context, status model.RunStatus, detail string) {
	finished := r.res.Run.FinishedAt
	if status.Terminal() {
		finished = r.o.Identity.Now()
	}
	err := r.o.Ledger.UpdateRunStatus(context.WithoutCancel(ctx), r.req.RunID, status, finished, detail)
	if err != nil {
		r.logger.Printf("mission: ledger status update to %s failed: %v", status, err)
	}
	r.res.Run.Status = status
	r.res.Run.FinishedAt = finished
	r.res.Run.Detail = detail
}

func (r *runner) audit(ctx context.Context, action, result, detail string) {
	if r.o.Audit == nil {
		return
	}
	_, err := r.o.Audit.Record(context.WithoutCancel(ctx), audit.AuditEntry{
		Action: action,
		Target: r.req.BundleRoot,
		Result: result,
		Detail: detail,
	})
	if err != nil {
		r.logger.Printf("mission: audit %s failed: %v", action, err)
	}
}

func (r *runner) alert(eventType string, phase model.Phase, tool Tool, reason string) {
	if r.o.Alerts == nil {
		return
	}
	r.o.Alerts.Dispatch(alert.AlertEvent{
		Timestamp:  r.o.Identity.Now().Format(audit.TimestampFormat),
		Type:       eventType,
		RunID:      r.req.RunID,
		BundleRoot: r.req.BundleRoot,
		Phase:      string(phase),
		Tool:       string(tool),
		Actor:      r.o.Identity.Actor,
		Host:       r.o.Identity.Host,
		Reason:     reason,
	})
}

// ref turns an output path into a bundle-relative evidence reference.
func (r *runner) ref(path string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(r.req.BundleRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"trcflow/internal/types"
)

// RawTranscriptKey is the call output slot the ingested transcript occupies.
// It behaves like the output of a virtual zeroth stage every parser requires.
const RawTranscriptKey = "raw_vtt"

// Store is the persistence collaborator for the long-lived aggregates. The
// runner loads them at run start and saves them after the run completes; it
// never assumes atomicity across calls.
type Store interface {
	LoadIncident(ctx context.Context, incidentID string) (*types.Incident, error)
	SaveIncident(ctx context.Context, incident *types.Incident) error
	LoadPeopleDirectory(ctx context.Context) (types.PeopleDirectory, error)
	SavePeopleDirectory(ctx context.Context, dir types.PeopleDirectory) error
}

// CallRequest describes one call to process in a run.
type CallRequest struct {
	TRCID     string
	StartTime time.Time

	// RawTranscript registers the transcript on a new call record. Empty
	// for re-runs of an already ingested call.
	RawTranscript    string
	OriginalFilename string
	FileHash         string

	// FromStage re-runs from this stage onward, backfilling missing
	// upstream outputs. Empty runs the full pipeline.
	FromStage string
}

// CallState is the terminal state of one call in a run.
type CallState string

const (
	CallPending   CallState = "pending"
	CallRunning   CallState = "running"
	CallCompleted CallState = "completed"
	CallFailed    CallState = "failed"
)

// CallResult reports one call's outcome. Err is set only for failed calls
// and FailedStage names where a future re-run should resume.
type CallResult struct {
	TRCID       string
	State       CallState
	FailedStage string
	Err         error
	StageLogs   []StageLog
	Warnings    []string
}

// RunResult is the aggregate outcome of one run. Every requested call is
// listed with its terminal state; there is no silent partial success.
type RunResult struct {
	RunID      string
	IncidentID string
	Calls      []CallResult
	// Warnings lists run-level persistence problems (saving the incident or
	// the people directory).
	Warnings []string
}

// Failed reports whether any call ended in failure.
func (r *RunResult) Failed() bool {
	for _, c := range r.Calls {
		if c.State == CallFailed {
			return true
		}
	}
	return false
}

// Runner orchestrates resolver, planner, and executor across the calls of
// one incident. Calls are independent: they may run concurrently up to
// Concurrency, and one call's failure never halts another.
type Runner struct {
	Registry *Registry
	Store    Store
	Env      *Env

	// Concurrency bounds parallel calls; <=1 means strictly sequential.
	Concurrency int
}

// Run processes the given calls of one incident through the enabled
// pipeline. Configuration errors (missing or cyclic dependencies) abort the
// run before any side effect. Cancelling ctx stops scheduling further
// stages; the in-flight stage finishes or aborts on its own.
func (r *Runner) Run(ctx context.Context, incidentID string, calls []CallRequest) (*RunResult, error) {
	order, err := Resolve(r.Registry.Enabled())
	if err != nil {
		return nil, err
	}

	incident, err := r.Store.LoadIncident(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("load incident %s: %w", incidentID, err)
	}
	if incident == nil {
		incident = types.NewIncident(incidentID)
	}
	people, err := r.Store.LoadPeopleDirectory(ctx)
	if err != nil {
		return nil, fmt.Errorf("load people directory: %w", err)
	}
	if people == nil {
		people = types.PeopleDirectory{}
	}

	exec := NewExecutor(r.Env, incident, people)
	result := &RunResult{
		RunID:      uuid.NewString(),
		IncidentID: incidentID,
		Calls:      make([]CallResult, len(calls)),
	}

	g, gctx := errgroup.WithContext(ctx)
	limit := r.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, req := range calls {
		g.Go(func() error {
			result.Calls[i] = r.runCall(gctx, exec, order, incidentID, req)
			// Failures are isolated per call; never cancel the group.
			return nil
		})
	}
	_ = g.Wait()

	if err := r.Store.SaveIncident(ctx, incident); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("save incident %s: %v", incidentID, err))
	}
	if err := r.Store.SavePeopleDirectory(ctx, people); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("save people directory: %v", err))
	}
	return result, nil
}

// runCall drives one call through its planned stages.
func (r *Runner) runCall(ctx context.Context, exec *Executor, order []StageSpec, incidentID string, req CallRequest) CallResult {
	res := CallResult{TRCID: req.TRCID, State: CallPending}

	if err := exec.registerCall(req); err != nil {
		res.State = CallFailed
		res.Err = err
		return res
	}

	plan, err := Plan(order, req.FromStage, func(spec StageSpec) bool {
		return exec.outputsPresent(req.TRCID, spec.OutputKeys())
	})
	if err != nil {
		// Planning errors are fatal for this call only.
		res.State = CallFailed
		res.Err = err
		exec.markCall(req.TRCID, types.StatusFailed, "")
		return res
	}

	call := &CallContext{
		IncidentID: incidentID,
		TRCID:      req.TRCID,
		StartTime:  req.StartTime,
	}

	res.State = CallRunning
	for _, spec := range plan {
		if err := ctx.Err(); err != nil {
			res.State = CallFailed
			res.FailedStage = spec.Key
			res.Err = err
			exec.markCall(req.TRCID, types.StatusFailed, spec.Key)
			return res
		}
		stageLog, warnings, err := exec.Execute(ctx, spec, call)
		res.StageLogs = append(res.StageLogs, stageLog)
		res.Warnings = append(res.Warnings, warnings...)
		if err != nil {
			// Halt this call at the failing stage. Outputs of completed
			// stages stay in place so a re-run can resume here.
			log.Printf("call %s failed at %s: %v", req.TRCID, spec.Key, err)
			res.State = CallFailed
			res.FailedStage = spec.Key
			res.Err = err
			exec.markCall(req.TRCID, types.StatusFailed, spec.Key)
			return res
		}
	}

	res.State = CallCompleted
	exec.markCall(req.TRCID, types.StatusProcessed, "")
	return res
}

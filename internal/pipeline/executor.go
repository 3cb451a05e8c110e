package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"trcflow/internal/types"
)

// Executor invokes single stages and applies their outputs to the shared
// aggregates. All writes to the incident and the people directory go
// through mu, so concurrent calls serialize their merges.
type Executor struct {
	Env    *Env
	People types.PeopleDirectory

	mu       sync.Mutex
	incident *types.Incident
}

func NewExecutor(env *Env, incident *types.Incident, people types.PeopleDirectory) *Executor {
	return &Executor{Env: env, People: people, incident: incident}
}

// Incident returns the shared incident aggregate. Callers outside a run may
// read it freely; during a run it is guarded by the executor.
func (e *Executor) Incident() *types.Incident { return e.incident }

// registerCall makes sure the call record exists, seeding the raw
// transcript on first sight.
func (e *Executor) registerCall(req CallRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	trc := e.incident.EnsureTRC(req.TRCID)
	if !req.StartTime.IsZero() {
		trc.StartTime = req.StartTime
	}
	if req.OriginalFilename != "" {
		trc.OriginalFilename = req.OriginalFilename
	}
	if req.FileHash != "" {
		trc.FileHash = req.FileHash
	}
	if req.RawTranscript != "" && !trc.HasOutput(RawTranscriptKey) {
		if err := trc.SetOutput(RawTranscriptKey, req.RawTranscript); err != nil {
			return fmt.Errorf("register call %s: %w", req.TRCID, err)
		}
	}
	trc.Status = types.StatusProcessing
	return nil
}

// outputsPresent reports whether the call already has every listed output.
func (e *Executor) outputsPresent(trcID string, keys []string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	trc, ok := e.incident.TRCByID(trcID)
	if !ok {
		return false
	}
	for _, key := range keys {
		if !trc.HasOutput(key) {
			return false
		}
	}
	return true
}

// markCall records the call's terminal status and, on failure, the stage to
// resume from.
func (e *Executor) markCall(trcID, status, failedStage string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if trc, ok := e.incident.TRCByID(trcID); ok {
		trc.Status = status
		trc.FailedStage = failedStage
	}
}

// StageLog records one stage invocation for the run report.
type StageLog struct {
	Stage      string        `json:"stage"`
	Status     string        `json:"status"`
	Duration   time.Duration `json:"duration"`
	InputInfo  string        `json:"input_info,omitempty"`
	OutputInfo string        `json:"output_info,omitempty"`
	Messages   []string      `json:"messages,omitempty"`
}

// Execute runs one stage for one call and merges its result.
//
// The stage sees a consistent snapshot of the incident taken under the
// mutation lock. On success the stage's call outputs are written to the
// call record (only declared keys are allowed), artifacts are handed to the
// persistence collaborator, and incident/people updates are merged under
// the lock. Artifact write failures are returned as warnings, not errors.
func (e *Executor) Execute(ctx context.Context, spec StageSpec, call *CallContext) (StageLog, []string, error) {
	started := time.Now()

	e.mu.Lock()
	call.Incident = e.incident.Clone()
	e.mu.Unlock()
	if trc, ok := call.Incident.TRCByID(call.TRCID); ok {
		call.TRC = trc
	}

	out, err := spec.Run(ctx, e.Env, call, spec.Params)
	elapsed := time.Since(started)
	if err != nil {
		return StageLog{
			Stage:    spec.Key,
			Status:   "Failed",
			Duration: elapsed,
			Messages: []string{err.Error()},
		}, nil, &StageError{Stage: spec.Key, CallID: call.TRCID, Err: err}
	}

	declared := make(map[string]bool, len(spec.OutputKeys()))
	for _, k := range spec.OutputKeys() {
		declared[k] = true
	}
	for key := range out.CallOutputs {
		if !declared[key] {
			err := fmt.Errorf("%w: stage %s wrote %q", ErrUndeclaredOutput, spec.Key, key)
			return StageLog{Stage: spec.Key, Status: "Failed", Duration: elapsed, Messages: []string{err.Error()}},
				nil, &StageError{Stage: spec.Key, CallID: call.TRCID, Err: err}
		}
	}

	warnings := e.persistArtifacts(ctx, spec, call, out)

	e.mu.Lock()
	defer e.mu.Unlock()
	trc, ok := e.incident.TRCByID(call.TRCID)
	if !ok {
		return StageLog{}, warnings, &StageError{Stage: spec.Key, CallID: call.TRCID,
			Err: fmt.Errorf("call %s not registered on incident %s", call.TRCID, e.incident.IncidentID)}
	}
	for key, value := range out.CallOutputs {
		if err := trc.SetOutput(key, value); err != nil {
			return StageLog{}, warnings, &StageError{Stage: spec.Key, CallID: call.TRCID,
				Err: fmt.Errorf("encode output %s: %w", key, err)}
		}
	}
	for key, value := range out.IncidentUpdates {
		if err := e.incident.ApplyUpdate(key, value); err != nil {
			return StageLog{}, warnings, &StageError{Stage: spec.Key, CallID: call.TRCID, Err: err}
		}
	}
	for _, delta := range out.PeopleUpdates {
		e.People.MergeDelta(delta)
	}

	log.Printf("%s: %s (%s)", strings.ToUpper(spec.Key), out.OutputInfo, elapsed.Round(time.Millisecond))
	return StageLog{
		Stage:      spec.Key,
		Status:     "Completed",
		Duration:   elapsed,
		InputInfo:  out.InputInfo,
		OutputInfo: out.OutputInfo,
		Messages:   out.Messages,
	}, warnings, nil
}

// persistArtifacts hands every artifact to the persistence collaborator and
// records stored locations on the aggregates. Failures become warnings.
func (e *Executor) persistArtifacts(ctx context.Context, spec StageSpec, call *CallContext, out StageOutput) []string {
	if e.Env == nil || e.Env.Artifacts == nil {
		return nil
	}
	var warnings []string
	callArtifacts := make(map[string][]byte, len(out.TextArtifacts)+len(out.JSONArtifacts))
	for name, text := range out.TextArtifacts {
		callArtifacts[name+".txt"] = []byte(text)
	}
	for name, payload := range out.JSONArtifacts {
		b, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("stage %s: encode artifact %s: %v", spec.Key, name, err))
			continue
		}
		callArtifacts[name+".json"] = b
	}
	locations := make(map[string]string)
	for name, content := range callArtifacts {
		loc, err := e.Env.Artifacts.WriteCallArtifact(ctx, call.IncidentID, call.TRCID, name, content)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("stage %s: write artifact %s: %v", spec.Key, name, err))
			continue
		}
		locations[strings.TrimSuffix(strings.TrimSuffix(name, ".txt"), ".json")] = loc
	}
	incidentLocations := make(map[string]string)
	for name, text := range out.IncidentTextArtifacts {
		loc, err := e.Env.Artifacts.WriteIncidentArtifact(ctx, call.IncidentID, name+".txt", []byte(text))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("stage %s: write incident artifact %s: %v", spec.Key, name, err))
			continue
		}
		incidentLocations[name] = loc
	}

	if len(locations) > 0 || len(incidentLocations) > 0 {
		e.mu.Lock()
		if trc, ok := e.incident.TRCByID(call.TRCID); ok {
			for name, loc := range locations {
				trc.SetArtifact(name, loc)
			}
		}
		for name, loc := range incidentLocations {
			e.incident.SetArtifact(name, loc)
		}
		e.mu.Unlock()
	}
	return warnings
}

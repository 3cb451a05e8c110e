package pipeline

import (
	"context"
	"strings"
	"time"

	"trcflow/internal/llm"
	"trcflow/internal/types"
)

// Params is the opaque per-stage parameter map from configuration, passed
// through to the stage unmodified.
type Params map[string]any

// String returns the string parameter for key, or def when absent.
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}

// StringMap flattens a possibly nested map parameter into flat string pairs.
// Nested groups ({"misspellings": {"git hub": "GitHub"}}) are merged into a
// single level, matching how replacement rule files are organized.
func (p Params) StringMap(key string) map[string]string {
	out := map[string]string{}
	flattenStringMap(p[key], out)
	return out
}

func flattenStringMap(v any, out map[string]string) {
	m, ok := v.(map[string]any)
	if !ok {
		return
	}
	for k, val := range m {
		switch t := val.(type) {
		case string:
			out[k] = t
		case map[string]any:
			flattenStringMap(t, out)
		}
	}
}

// StringList returns the string slice parameter for key.
func (p Params) StringList(key string) []string {
	var out []string
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// RunFunc executes one stage against one call and returns its structured
// result. The engine never looks inside a stage beyond this contract.
type RunFunc func(ctx context.Context, env *Env, call *CallContext, params Params) (StageOutput, error)

// StageSpec declares what a stage is: its key, what it requires, what it
// writes, and how to run it. Immutable once the registry for a run is built.
type StageSpec struct {
	Key         string
	Description string

	// Requires lists stage keys whose outputs must exist before this stage
	// runs.
	Requires []string

	// Outputs lists the call-output keys this stage is allowed to write.
	// Empty means the stage writes only its own key.
	Outputs []string

	Enabled bool

	// Ordinal is the stage's position in configuration-declared order. It is
	// the tie-break among stages with no dependency between them, which
	// keeps the resolved order stable across runs.
	Ordinal int

	Params Params

	Run RunFunc
}

// OutputKeys returns the declared output keys, defaulting to the stage key.
func (s StageSpec) OutputKeys() []string {
	if len(s.Outputs) > 0 {
		return s.Outputs
	}
	return []string{s.Key}
}

// Env carries the external capabilities a stage may use. The LLM client is
// optional; stages fall back to their deterministic behavior without it.
type Env struct {
	LLM       llm.Client
	Artifacts ArtifactWriter
}

// ArtifactWriter is the persistence collaborator for stage artifacts.
// Writes are fire-and-forget from the engine's perspective: a failed write
// is reported on the run result but does not fail the stage.
type ArtifactWriter interface {
	WriteCallArtifact(ctx context.Context, incidentID, trcID, name string, content []byte) (string, error)
	WriteIncidentArtifact(ctx context.Context, incidentID, name string, content []byte) (string, error)
}

// CallContext is the state threaded through one call's run. The incident is
// a consistent snapshot taken before the stage executes; the TRC is the
// call's own record and is never shared with another call.
type CallContext struct {
	IncidentID string
	TRCID      string
	StartTime  time.Time
	Incident   *types.Incident
	TRC        *types.TRC
}

// StageOutput is the structured result of one stage invocation, split into
// the four independently merged parts.
type StageOutput struct {
	// CallOutputs are persisted under the call's pipeline outputs.
	CallOutputs map[string]any

	// TextArtifacts and JSONArtifacts are handed to the persistence
	// collaborator under the call's artifact directory.
	TextArtifacts map[string]string
	JSONArtifacts map[string]any

	// IncidentUpdates are merged into incident-level state per declared
	// merge strategy.
	IncidentUpdates map[string]any

	// IncidentTextArtifacts are persisted at the incident level.
	IncidentTextArtifacts map[string]string

	// PeopleUpdates are merged into the people directory.
	PeopleUpdates []types.PersonDelta

	// Log fields.
	InputInfo  string
	OutputInfo string
	Messages   []string
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

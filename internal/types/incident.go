package types

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// TRC status values.
const (
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// Incident aggregates every call (TRC) sharing one incident identifier plus
// the incident-level fields derived from them. Derived fields are only ever
// written through ApplyUpdate so merge semantics stay in one place.
type Incident struct {
	IncidentID    string            `json:"incident_id"`
	Title         string            `json:"title"`
	Keywords      []string          `json:"keywords"`
	MasterSummary string            `json:"master_summary"`
	Artifacts     map[string]string `json:"pipeline_artifacts,omitempty"`
	TRCs          []*TRC            `json:"trcs"`
}

// TRC is one transcript call belonging to an incident.
type TRC struct {
	TRCID            string                     `json:"trc_id"`
	StartTime        time.Time                  `json:"start_time"`
	OriginalFilename string                     `json:"original_filename,omitempty"`
	FileHash         string                     `json:"file_hash,omitempty"`
	Status           string                     `json:"status"`
	FailedStage      string                     `json:"failed_stage,omitempty"`
	Outputs          map[string]json.RawMessage `json:"pipeline_outputs"`
	Artifacts        map[string]string          `json:"pipeline_artifacts,omitempty"`
}

func NewIncident(id string) *Incident {
	return &Incident{IncidentID: id}
}

// TRCByID returns the call record with the given id, if present.
func (inc *Incident) TRCByID(trcID string) (*TRC, bool) {
	for _, t := range inc.TRCs {
		if t.TRCID == trcID {
			return t, true
		}
	}
	return nil, false
}

// EnsureTRC returns the existing call record or appends a fresh one.
func (inc *Incident) EnsureTRC(trcID string) *TRC {
	if t, ok := inc.TRCByID(trcID); ok {
		return t
	}
	t := &TRC{
		TRCID:   trcID,
		Status:  StatusProcessing,
		Outputs: make(map[string]json.RawMessage),
	}
	inc.TRCs = append(inc.TRCs, t)
	return t
}

// SetArtifact records the stored location of an incident-level artifact.
func (inc *Incident) SetArtifact(name, location string) {
	if inc.Artifacts == nil {
		inc.Artifacts = make(map[string]string)
	}
	inc.Artifacts[name] = location
}

// Clone returns a deep copy. Runs hand a clone to stages so a stage reading
// incident state never observes a concurrent merge from another call.
func (inc *Incident) Clone() *Incident {
	if inc == nil {
		return nil
	}
	out := &Incident{
		IncidentID:    inc.IncidentID,
		Title:         inc.Title,
		MasterSummary: inc.MasterSummary,
	}
	if inc.Keywords != nil {
		out.Keywords = append([]string(nil), inc.Keywords...)
	}
	if inc.Artifacts != nil {
		out.Artifacts = make(map[string]string, len(inc.Artifacts))
		for k, v := range inc.Artifacts {
			out.Artifacts[k] = v
		}
	}
	for _, t := range inc.TRCs {
		out.TRCs = append(out.TRCs, t.Clone())
	}
	return out
}

// Clone returns a deep copy of the call record.
func (t *TRC) Clone() *TRC {
	if t == nil {
		return nil
	}
	out := *t
	out.Outputs = make(map[string]json.RawMessage, len(t.Outputs))
	for k, v := range t.Outputs {
		out.Outputs[k] = append(json.RawMessage(nil), v...)
	}
	if t.Artifacts != nil {
		out.Artifacts = make(map[string]string, len(t.Artifacts))
		for k, v := range t.Artifacts {
			out.Artifacts[k] = v
		}
	}
	return &out
}

// SetOutput stores a pipeline output value under the given key.
func (t *TRC) SetOutput(key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if t.Outputs == nil {
		t.Outputs = make(map[string]json.RawMessage)
	}
	t.Outputs[key] = b
	return nil
}

// HasOutput reports whether an output exists for the key.
func (t *TRC) HasOutput(key string) bool {
	_, ok := t.Outputs[key]
	return ok
}

// Output decodes the stored output for key into target.
func (t *TRC) Output(key string, target any) error {
	raw, ok := t.Outputs[key]
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, target)
}

// TextOutput returns the output for key as a string, or "" when the output
// is absent or not a JSON string.
func (t *TRC) TextOutput(key string) string {
	var s string
	if raw, ok := t.Outputs[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// SetArtifact records the stored location of a call-level artifact.
func (t *TRC) SetArtifact(name, location string) {
	if t.Artifacts == nil {
		t.Artifacts = make(map[string]string)
	}
	t.Artifacts[name] = location
}

// SortedKeywordUnion merges additions into the existing keyword set and
// returns the sorted, deduplicated result. Blank keywords are dropped.
func SortedKeywordUnion(existing []string, additions []string) []string {
	seen := make(map[string]bool, len(existing)+len(additions))
	for _, kw := range existing {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			seen[kw] = true
		}
	}
	for _, kw := range additions {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			seen[kw] = true
		}
	}
	out := make([]string, 0, len(seen))
	for kw := range seen {
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"

	"trcflow/internal/pipeline"
	"trcflow/internal/types"
)

// properNamePattern matches two capitalized words, the heuristic for a
// person's full name in transcript text.
var properNamePattern = regexp.MustCompile(`([A-Z][a-z]+\s+[A-Z][a-z]+)`)

// participantPayload is the JSON shape shared by the extraction output, the
// stored artifact, and the model response.
type participantPayload struct {
	Roles     []types.RoleEntry      `json:"roles"`
	Knowledge []types.KnowledgeEntry `json:"knowledge"`
}

// extractNamesHeuristic builds a participant payload from capitalized name
// pairs found in the text. Names are sorted so repeated runs produce the
// same payload.
func extractNamesHeuristic(text, incidentID, trcID string) participantPayload {
	seen := map[string]string{}
	for _, n := range properNamePattern.FindAllString(text, -1) {
		seen[types.NormalizeName(n)] = n
	}
	raws := make([]string, 0, len(seen))
	for raw := range seen {
		raws = append(raws, raw)
	}
	sort.Strings(raws)

	var payload participantPayload
	for _, raw := range raws {
		display := seen[raw]
		payload.Roles = append(payload.Roles, types.RoleEntry{
			RawName:     raw,
			DisplayName: display,
			Role:        "Participant",
			Reasoning:   "Heuristic extraction placeholder.",
			Confidence:  5.0,
			IncidentID:  incidentID,
			TRCID:       trcID,
		})
		payload.Knowledge = append(payload.Knowledge, types.KnowledgeEntry{
			RawName:     raw,
			DisplayName: display,
			Knowledge:   "General TRC context",
			Reasoning:   "Heuristic extraction placeholder.",
			Confidence:  4.0,
			IncidentID:  incidentID,
			TRCID:       trcID,
		})
	}
	return payload
}

// peopleDeltas regroups a flat payload into per-person directory deltas.
func peopleDeltas(payload participantPayload) []types.PersonDelta {
	byName := map[string]*types.PersonDelta{}
	var order []string
	get := func(raw, display string) *types.PersonDelta {
		if d, ok := byName[raw]; ok {
			return d
		}
		d := &types.PersonDelta{RawName: raw, DisplayName: display}
		byName[raw] = d
		order = append(order, raw)
		return d
	}
	for _, entry := range payload.Roles {
		d := get(entry.RawName, entry.DisplayName)
		d.Roles = append(d.Roles, entry)
	}
	for _, entry := range payload.Knowledge {
		d := get(entry.RawName, entry.DisplayName)
		d.Knowledge = append(d.Knowledge, entry)
	}
	out := make([]types.PersonDelta, 0, len(order))
	for _, raw := range order {
		out = append(out, *byName[raw])
	}
	return out
}

func participantOutput(key string, payload participantPayload, inputLen int, llmUsed bool) (pipeline.StageOutput, error) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("encode %s payload: %w", key, err)
	}
	outputInfo := fmt.Sprintf("Roles: %d, Knowledge: %d", len(payload.Roles), len(payload.Knowledge))
	var messages []string
	if llmUsed {
		outputInfo += " (LLM processed)"
		messages = append(messages, "Used LLM for "+key)
	}
	return pipeline.StageOutput{
		CallOutputs:   map[string]any{key: payload},
		JSONArtifacts: map[string]any{key + "_llm_output": payload},
		TextArtifacts: map[string]string{key + "_llm_output_raw": string(raw)},
		PeopleUpdates: peopleDeltas(payload),
		InputInfo:     fmt.Sprintf("Input: %d chars", inputLen),
		OutputInfo:    outputInfo,
		Messages:      messages,
	}, nil
}

// runPeopleExtraction discovers participants in the refined transcript with
// the name heuristic and reports them as people-directory deltas.
func runPeopleExtraction(ctx context.Context, env *pipeline.Env, call *pipeline.CallContext, params pipeline.Params) (pipeline.StageOutput, error) {
	refined := call.TRC.TextOutput("refinement")
	payload := extractNamesHeuristic(refined, call.IncidentID, call.TRCID)
	return participantOutput("people_extraction", payload, len(refined), false)
}

// runParticipantAnalysis asks the model for participant roles and knowledge
// areas from the noise-reduced transcript. Without a client, or when the
// model response is unusable, it degrades to the same heuristic the
// extraction stage uses.
func runParticipantAnalysis(ctx context.Context, env *pipeline.Env, call *pipeline.CallContext, params pipeline.Params) (pipeline.StageOutput, error) {
	text := call.TRC.TextOutput("noise_reduction")

	if env.LLM != nil {
		prompt := params.String("llm_prompt", defaultParticipantPrompt)
		raw, err := env.LLM.GenerateJSON(ctx, prompt, map[string]string{"transcript": text})
		if err == nil {
			var payload participantPayload
			if err = json.Unmarshal(raw, &payload); err == nil {
				stampProvenance(&payload, call.IncidentID, call.TRCID)
				return participantOutput("participant_analysis", payload, len(text), true)
			}
			err = fmt.Errorf("decode model response: %w", err)
		}
		log.Printf("PARTICIPANT_ANALYSIS: llm analysis failed, falling back to heuristic: %v", err)
	}

	payload := extractNamesHeuristic(text, call.IncidentID, call.TRCID)
	return participantOutput("participant_analysis", payload, len(text), false)
}

// stampProvenance normalizes names and links every model-produced entry to
// the call it came from.
func stampProvenance(payload *participantPayload, incidentID, trcID string) {
	for i := range payload.Roles {
		e := &payload.Roles[i]
		if e.RawName == "" {
			e.RawName = types.NormalizeName(e.DisplayName)
		}
		e.RawName = types.NormalizeName(e.RawName)
		e.IncidentID = incidentID
		e.TRCID = trcID
	}
	for i := range payload.Knowledge {
		e := &payload.Knowledge[i]
		if e.RawName == "" {
			e.RawName = types.NormalizeName(e.DisplayName)
		}
		e.RawName = types.NormalizeName(e.RawName)
		e.IncidentID = incidentID
		e.TRCID = trcID
	}
}

const defaultParticipantPrompt = `Identify every participant in the transcript below. For each person, report their role on the call and their apparent areas of knowledge. Respond with a JSON object {"roles": [...], "knowledge": [...]} where each roles entry has raw_name (lowercase), display_name, role, reasoning and confidence_score (0-10), and each knowledge entry has raw_name, display_name, knowledge, reasoning and confidence_score.`

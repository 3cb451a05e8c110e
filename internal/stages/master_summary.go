package stages

import (
	"context"
	"fmt"
	"log"
	"strings"

	"trcflow/internal/pipeline"
)

// runMasterSummary synthesizes one incident-level summary from every call
// summary present on the incident snapshot. The model gets the summaries
// numbered; the fallback concatenates them.
func runMasterSummary(ctx context.Context, env *pipeline.Env, call *pipeline.CallContext, params pipeline.Params) (pipeline.StageOutput, error) {
	var summaries []string
	for _, t := range call.Incident.TRCs {
		if s := t.TextOutput("summarisation"); s != "" {
			summaries = append(summaries, s)
		}
	}

	if env.LLM != nil && len(summaries) > 0 {
		numbered := make([]string, len(summaries))
		for i, s := range summaries {
			numbered[i] = fmt.Sprintf("TRC %d:\n%s", i+1, s)
		}
		prompt := params.String("llm_prompt", defaultMasterSummaryPrompt) + "\n\n" + strings.Join(numbered, "\n\n")
		master, err := env.LLM.GenerateText(ctx, prompt)
		if err == nil {
			master = strings.TrimSpace(master)
			return pipeline.StageOutput{
				CallOutputs:           map[string]any{"master_summary": master},
				IncidentUpdates:       map[string]any{"master_summary": master},
				IncidentTextArtifacts: map[string]string{"master_summary_raw": master},
				InputInfo:             fmt.Sprintf("Summaries: %d", len(summaries)),
				OutputInfo:            fmt.Sprintf("Master summary: %d chars (LLM processed)", len(master)),
				Messages:              []string{"Used LLM for master summary"},
			}, nil
		}
		log.Printf("MASTER_SUMMARY: llm synthesis failed, falling back to concatenation: %v", err)
	}

	master := strings.Join(summaries, "\n\n")
	return pipeline.StageOutput{
		CallOutputs:           map[string]any{"master_summary": master},
		IncidentUpdates:       map[string]any{"master_summary": master},
		IncidentTextArtifacts: map[string]string{"master_summary_raw": master},
		InputInfo:             fmt.Sprintf("Summaries: %d", len(summaries)),
		OutputInfo:            fmt.Sprintf("Master summary: %d chars", len(master)),
	}, nil
}

const defaultMasterSummaryPrompt = `Combine the numbered call summaries below into one coherent incident summary. Preserve the timeline across calls and do not repeat details already covered.`

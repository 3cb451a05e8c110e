package stages

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"trcflow/internal/pipeline"
)

const summaryTitleLimit = 60
const summaryExcerptLimit = 2000

// runSummarisation produces a per-call summary of the noise-reduced
// transcript. When the incident has no title yet, the stage proposes one
// from the opening of the text; the merge layer only applies it if the
// title is still empty at merge time.
func runSummarisation(ctx context.Context, env *pipeline.Env, call *pipeline.CallContext, params pipeline.Params) (pipeline.StageOutput, error) {
	text := call.TRC.TextOutput("noise_reduction")

	incidentUpdates := map[string]any{}
	title := ""
	if call.Incident.Title == "" {
		title = inferTitle(text)
		if title != "" {
			incidentUpdates["title"] = title
		}
	}

	if env.LLM != nil {
		prompt := params.String("llm_prompt", defaultSummaryPrompt) + "\n\n" + text
		summary, err := env.LLM.GenerateText(ctx, prompt)
		if err == nil {
			summary = strings.TrimSpace(summary)
			return pipeline.StageOutput{
				CallOutputs:     map[string]any{"summarisation": summary},
				TextArtifacts:   map[string]string{"summarisation_llm_output": summary},
				IncidentUpdates: incidentUpdates,
				InputInfo:       fmt.Sprintf("Input: %d chars", len(text)),
				OutputInfo:      fmt.Sprintf("Summary: %d chars (LLM processed)", len(summary)),
				Messages:        []string{"Used LLM for summarisation"},
			}, nil
		}
		log.Printf("SUMMARISATION: llm summary failed, falling back to excerpt: %v", err)
	}

	header := title
	if header == "" {
		header = call.Incident.Title
	}
	if header == "" {
		header = "Incident"
	}
	summary := header + " - Summary:\n\n" + truncateAtRune(text, summaryExcerptLimit)

	return pipeline.StageOutput{
		CallOutputs:     map[string]any{"summarisation": summary},
		TextArtifacts:   map[string]string{"summarisation_llm_output": summary},
		IncidentUpdates: incidentUpdates,
		InputInfo:       fmt.Sprintf("Input: %d chars", len(text)),
		OutputInfo:      fmt.Sprintf("Summary: %d chars", len(summary)),
	}, nil
}

// inferTitle takes the opening of the transcript as a provisional incident
// title.
func inferTitle(text string) string {
	if text == "" {
		return ""
	}
	if len(text) > summaryTitleLimit {
		return truncateAtRune(text, summaryTitleLimit) + "..."
	}
	return text
}

// truncateAtRune cuts s to at most limit bytes without splitting a UTF-8
// sequence.
func truncateAtRune(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

const defaultSummaryPrompt = `Summarise the incident call transcript below. Cover what happened, the impact, the actions taken and any follow-ups agreed. Keep it factual and concise.`

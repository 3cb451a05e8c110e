package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	"trcflow/internal/pipeline"
)

const keywordLimit = 5

// keywordWordPattern matches candidate keyword tokens for the fallback path.
// Short words are too noisy to rank.
var keywordWordPattern = regexp.MustCompile(`[A-Za-z]{6,}`)

// runKeywordExtraction extracts topic keywords from the noise-reduced
// transcript. The model returns a JSON string array; without a model the
// stage ranks long words by frequency instead.
func runKeywordExtraction(ctx context.Context, env *pipeline.Env, call *pipeline.CallContext, params pipeline.Params) (pipeline.StageOutput, error) {
	text := call.TRC.TextOutput("noise_reduction")

	if env.LLM != nil {
		prompt := params.String("llm_prompt", defaultKeywordPrompt)
		raw, err := env.LLM.GenerateJSON(ctx, prompt, map[string]string{"transcript": text})
		if err == nil {
			var keywords []string
			if err = json.Unmarshal(raw, &keywords); err == nil {
				encoded, _ := json.MarshalIndent(keywords, "", "  ")
				return pipeline.StageOutput{
					CallOutputs:     map[string]any{"keywords": keywords},
					JSONArtifacts:   map[string]any{"keyword_extraction_llm_output": keywords},
					TextArtifacts:   map[string]string{"keyword_extraction_llm_output_raw": string(encoded)},
					IncidentUpdates: map[string]any{"keywords": keywords},
					InputInfo:       fmt.Sprintf("Input: %d chars", len(text)),
					OutputInfo:      fmt.Sprintf("Keywords: %d (LLM processed)", len(keywords)),
					Messages:        []string{"Used LLM for keyword extraction"},
				}, nil
			}
			err = fmt.Errorf("decode model response: %w", err)
		}
		log.Printf("KEYWORD_EXTRACTION: llm extraction failed, falling back to frequency ranking: %v", err)
	}

	keywords := topWordsByFrequency(text, keywordLimit)
	return pipeline.StageOutput{
		CallOutputs:     map[string]any{"keywords": keywords},
		IncidentUpdates: map[string]any{"keywords": keywords},
		InputInfo:       fmt.Sprintf("Input: %d chars", len(text)),
		OutputInfo:      fmt.Sprintf("Keywords: %d", len(keywords)),
	}, nil
}

// topWordsByFrequency ranks candidate words by occurrence count, breaking
// ties alphabetically so the result is stable.
func topWordsByFrequency(text string, limit int) []string {
	counts := map[string]int{}
	for _, w := range keywordWordPattern.FindAllString(text, -1) {
		counts[strings.ToLower(w)]++
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > limit {
		words = words[:limit]
	}
	return words
}

const defaultKeywordPrompt = `Extract the most important topic keywords from the transcript below. Respond with a JSON array of lowercase keyword strings, most significant first, at most ten entries.`

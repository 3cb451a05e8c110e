package stages

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"trcflow/internal/pipeline"
)

// fillerPatterns are the conversational fillers stripped by the fallback
// path. Params may extend the list via extra_fillers.
var fillerPatterns = []string{
	`\buh\b`,
	`\bumm?\b`,
	`\bmm+h?\b`,
	`\bhmm+\b`,
	`\bokay+\b`,
	`\bya+h\b`,
}

var doubleSpacePattern = regexp.MustCompile(`\s{2,}`)

// runNoiseReduction strips filler tokens from the enhanced transcript. When
// an LLM client is available and the params opt in, the model does the
// cleanup; any model failure falls back to the regex path so the pipeline
// keeps moving.
func runNoiseReduction(ctx context.Context, env *pipeline.Env, call *pipeline.CallContext, params pipeline.Params) (pipeline.StageOutput, error) {
	text := call.TRC.TextOutput("text_enhancement")
	if text == "" {
		return pipeline.StageOutput{
			CallOutputs: map[string]any{"noise_reduction": ""},
			InputInfo:   "Input: 0 chars",
			OutputInfo:  "Output: 0 chars",
		}, nil
	}

	if env.LLM != nil && params.String("llm_prompt", "") != "" {
		prompt := params.String("llm_prompt", "") + "\n\n" + text
		cleaned, err := env.LLM.GenerateText(ctx, prompt)
		if err == nil {
			cleaned = strings.TrimSpace(cleaned)
			return pipeline.StageOutput{
				CallOutputs:   map[string]any{"noise_reduction": cleaned},
				TextArtifacts: map[string]string{"noise_reduction_llm_output": cleaned},
				InputInfo:     fmt.Sprintf("Input: %d chars", len(text)),
				OutputInfo:    fmt.Sprintf("Output: %d chars (LLM processed)", len(cleaned)),
				Messages:      []string{"Used LLM for noise reduction"},
			}, nil
		}
		log.Printf("NOISE_REDUCTION: llm cleanup failed, falling back to filler patterns: %v", err)
	}

	patterns := append([]string(nil), fillerPatterns...)
	patterns = append(patterns, params.StringList("extra_fillers")...)
	var compiled []*regexp.Regexp
	for _, p := range patterns {
		rx, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			log.Printf("NOISE_REDUCTION: invalid filler pattern skipped: %q", p)
			continue
		}
		compiled = append(compiled, rx)
	}

	total := 0
	var outLines []string
	for _, line := range strings.Split(text, "\n") {
		for _, rx := range compiled {
			n := len(rx.FindAllStringIndex(line, -1))
			if n > 0 {
				line = rx.ReplaceAllString(line, "")
				total += n
			}
		}
		line = strings.TrimSpace(doubleSpacePattern.ReplaceAllString(line, " "))
		outLines = append(outLines, line)
	}
	out := strings.TrimSpace(strings.Join(outLines, "\n"))

	var messages []string
	if total > 0 {
		messages = append(messages, fmt.Sprintf("Removed %d filler tokens", total))
	}
	return pipeline.StageOutput{
		CallOutputs: map[string]any{"noise_reduction": out},
		InputInfo:   fmt.Sprintf("Input: %d chars", len(text)),
		OutputInfo:  fmt.Sprintf("Output: %d chars; fillers removed: %d", len(out), total),
		Messages:    messages,
	}, nil
}

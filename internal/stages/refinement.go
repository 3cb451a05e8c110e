package stages

import (
	"context"
	"fmt"
	"strings"

	"trcflow/internal/pipeline"
)

// runRefinement applies the replacement rules to the cleaned transcript and
// collapses stray whitespace. Like text enhancement it only touches the
// dialogue part of prefixed lines; continuation lines are replaced whole.
func runRefinement(ctx context.Context, env *pipeline.Env, call *pipeline.CallContext, params pipeline.Params) (pipeline.StageOutput, error) {
	cleaned := call.TRC.TextOutput("vtt_cleanup")
	if cleaned == "" {
		return pipeline.StageOutput{
			CallOutputs: map[string]any{"refinement": ""},
			InputInfo:   "Input: 0 chars",
			OutputInfo:  "Output: 0 chars",
		}, nil
	}

	rules := compileReplacements(params.StringMap("replacement_rules"))

	var outLines []string
	for _, raw := range strings.Split(cleaned, "\n") {
		line := strings.TrimRight(raw, " \t")
		if line == "" {
			continue
		}
		if m := dialoguePrefixPattern.FindStringSubmatch(line); m != nil {
			dialogue, _ := applyReplacements(m[3], rules)
			line = strings.TrimRight(m[1]+" "+m[2]+": "+dialogue, " ")
		} else {
			line, _ = applyReplacements(line, rules)
		}
		line = strings.TrimSpace(doubleSpacePattern.ReplaceAllString(line, " "))
		outLines = append(outLines, line)
	}
	text := strings.TrimSpace(strings.Join(outLines, "\n"))

	return pipeline.StageOutput{
		CallOutputs: map[string]any{"refinement": text},
		InputInfo:   fmt.Sprintf("Input: %d chars", len(cleaned)),
		OutputInfo:  fmt.Sprintf("Output: %d chars", len(text)),
	}, nil
}

package stages

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"trcflow/internal/pipeline"
)

var dialoguePrefixPattern = regexp.MustCompile(`^(\d{2}:\d{2})\s+([^:]+):\s*(.*)$`)

type enhancementChange struct {
	HHMM        string `json:"hhmm,omitempty"`
	Speaker     string `json:"speaker,omitempty"`
	OldDialogue string `json:"old_dialogue"`
	NewDialogue string `json:"new_dialogue"`
	OldLine     string `json:"old_line"`
	NewLine     string `json:"new_line"`
}

// runTextEnhancement applies the configured replacement rules to the parsed
// transcript, touching only the dialogue part of prefixed lines so timestamps
// and speaker names stay as rendered. A diff artifact records every changed
// line.
func runTextEnhancement(ctx context.Context, env *pipeline.Env, call *pipeline.CallContext, params pipeline.Params) (pipeline.StageOutput, error) {
	parsed := call.TRC.TextOutput("transcription_parsing")
	if parsed == "" {
		return pipeline.StageOutput{
			CallOutputs: map[string]any{"text_enhancement": ""},
			InputInfo:   "Input: 0 chars",
			OutputInfo:  "Output: 0 chars",
		}, nil
	}

	rules := compileReplacements(params.StringMap("replacement_rules"))

	total := 0
	var outLines []string
	var changes []enhancementChange
	for _, raw := range strings.Split(parsed, "\n") {
		line := strings.TrimRight(raw, " \t")
		if line == "" {
			outLines = append(outLines, line)
			continue
		}
		if m := dialoguePrefixPattern.FindStringSubmatch(line); m != nil {
			hhmm, speaker, dialogue := m[1], m[2], m[3]
			newDialogue, n := applyReplacements(dialogue, rules)
			total += n
			newLine := strings.TrimRight(hhmm+" "+speaker+": "+newDialogue, " ")
			outLines = append(outLines, newLine)
			if n > 0 {
				changes = append(changes, enhancementChange{
					HHMM: hhmm, Speaker: speaker,
					OldDialogue: dialogue, NewDialogue: newDialogue,
					OldLine: line, NewLine: newLine,
				})
			}
			continue
		}
		newLine, n := applyReplacements(line, rules)
		total += n
		outLines = append(outLines, newLine)
		if n > 0 {
			changes = append(changes, enhancementChange{
				OldDialogue: line, NewDialogue: newLine,
				OldLine: line, NewLine: newLine,
			})
		}
	}

	enhanced := strings.TrimSpace(strings.Join(outLines, "\n"))
	var messages []string
	if total > 0 {
		messages = append(messages, fmt.Sprintf("Applied %d replacements", total))
	}
	return pipeline.StageOutput{
		CallOutputs: map[string]any{"text_enhancement": enhanced},
		JSONArtifacts: map[string]any{
			"text_enhancement_diffs": map[string]any{
				"total_replacements": total,
				"changes":            changes,
			},
		},
		InputInfo:  fmt.Sprintf("Input: %d chars", len(parsed)),
		OutputInfo: fmt.Sprintf("Output: %d chars; replacements: %d", len(enhanced), total),
		Messages:   messages,
	}, nil
}

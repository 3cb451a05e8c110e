package stages

import (
	"context"
	"fmt"

	"trcflow/internal/pipeline"
)

// runVTTCleanup renders the raw VTT transcript into timestamped dialogue
// lines. Replacement rules and strip patterns from the stage params are
// applied to dialogue text before rendering.
func runVTTCleanup(ctx context.Context, env *pipeline.Env, call *pipeline.CallContext, params pipeline.Params) (pipeline.StageOutput, error) {
	return renderRawTranscript(call, params, "vtt_cleanup")
}

// runTranscriptionParsing is the wall-clock rendering of the raw transcript.
// It shares the VTT core with vtt_cleanup; downstream enhancement stages key
// off this output while the refinement chain keys off vtt_cleanup.
func runTranscriptionParsing(ctx context.Context, env *pipeline.Env, call *pipeline.CallContext, params pipeline.Params) (pipeline.StageOutput, error) {
	return renderRawTranscript(call, params, "transcription_parsing")
}

func renderRawTranscript(call *pipeline.CallContext, params pipeline.Params, outputKey string) (pipeline.StageOutput, error) {
	raw := call.TRC.TextOutput(pipeline.RawTranscriptKey)
	if raw == "" {
		return pipeline.StageOutput{
			CallOutputs: map[string]any{outputKey: ""},
			InputInfo:   "Input: 0 chars",
			OutputInfo:  "Output: 0 chars",
		}, nil
	}

	rules := compileReplacements(params.StringMap("replacement_rules"))
	strips := compileStripPatterns(params.StringList("strip_patterns"))

	segments := parseVTTSegments(raw)
	text := renderTranscript(segments, call.StartTime, rules, strips)
	return pipeline.StageOutput{
		CallOutputs: map[string]any{outputKey: text},
		InputInfo:   fmt.Sprintf("Input: %d chars", len(raw)),
		OutputInfo:  fmt.Sprintf("Output: %d chars", len(text)),
	}, nil
}

package stages

import (
	"context"
	"strings"
	"testing"
	"time"

	"trcflow/internal/pipeline"
	"trcflow/internal/types"
)

func makeCall(t *testing.T, outputs map[string]any) *pipeline.CallContext {
	t.Helper()
	inc := types.NewIncident("INC_TEST")
	trc := inc.EnsureTRC("TRC_TEST")
	for k, v := range outputs {
		if err := trc.SetOutput(k, v); err != nil {
			t.Fatalf("seed output %s: %v", k, err)
		}
	}
	return &pipeline.CallContext{
		IncidentID: "INC_TEST",
		TRCID:      "TRC_TEST",
		StartTime:  time.Date(2025, 6, 5, 10, 0, 0, 0, time.UTC),
		Incident:   inc,
		TRC:        trc,
	}
}

func outputText(t *testing.T, out pipeline.StageOutput, key string) string {
	t.Helper()
	v, ok := out.CallOutputs[key]
	if !ok {
		t.Fatalf("missing call output %q", key)
	}
	s, ok := v.(string)
	if !ok {
		t.Fatalf("call output %q is %T, want string", key, v)
	}
	return s
}

func hasLinePrefix(text, prefix string) bool {
	for _, ln := range strings.Split(text, "\n") {
		if strings.HasPrefix(ln, prefix) {
			return true
		}
	}
	return false
}

func TestVTTCleanupAbsoluteTimePrefix(t *testing.T) {
	vtt := "WEBVTT\n\n" +
		"00:00:05.000 --> 00:00:06.000\n" +
		"<v Alice>Hello everyone</v>\n\n" +
		"00:01:10.000 --> 00:01:12.000\n" +
		"<v Alice>Moving on to the next item</v>\n"
	call := makeCall(t, map[string]any{pipeline.RawTranscriptKey: vtt})

	out, err := runVTTCleanup(context.Background(), &pipeline.Env{}, call, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	cleaned := outputText(t, out, "vtt_cleanup")
	if !hasLinePrefix(cleaned, "10:00 Alice:") {
		t.Fatalf("expected 10:00 Alice line, got:\n%s", cleaned)
	}
	if !hasLinePrefix(cleaned, "10:01 Alice:") {
		t.Fatalf("expected 10:01 Alice line, got:\n%s", cleaned)
	}
}

func TestVTTCleanupRolloverAddsFourHours(t *testing.T) {
	vtt := "WEBVTT\n\n" +
		"00:59:59.000 --> 01:00:00.000\n" +
		"<v Bob>Wrapping up this section</v>\n\n" +
		"00:00:01.000 --> 00:00:02.000\n" +
		"<v Bob>Starting a new segment after rollover</v>\n"
	call := makeCall(t, map[string]any{pipeline.RawTranscriptKey: vtt})

	out, err := runVTTCleanup(context.Background(), &pipeline.Env{}, call, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	cleaned := outputText(t, out, "vtt_cleanup")
	if !hasLinePrefix(cleaned, "10:59 Bob:") {
		t.Fatalf("expected 10:59 Bob line, got:\n%s", cleaned)
	}
	if !hasLinePrefix(cleaned, "14:00 Bob:") {
		t.Fatalf("expected rollover to land on 14:00, got:\n%s", cleaned)
	}
}

func TestRenderTranscriptInvalidTimestampFallsBack(t *testing.T) {
	segments := []vttSegment{
		{Timestamp: "BAD_TS", Speaker: "Carol", Dialogue: "First line"},
		{Timestamp: "00:03:15.000", Speaker: "Carol", Dialogue: "Back to valid"},
	}
	start := time.Date(2025, 6, 5, 10, 0, 0, 0, time.UTC)

	text := renderTranscript(segments, start, nil, nil)
	if !hasLinePrefix(text, "10:00 Carol:") {
		t.Fatalf("expected meeting-start fallback, got:\n%s", text)
	}
	if !hasLinePrefix(text, "10:03 Carol:") {
		t.Fatalf("expected valid timestamp rendering, got:\n%s", text)
	}
}

func TestTranscriptionParsingConsolidatesSameMinute(t *testing.T) {
	vtt := "WEBVTT\n\n" +
		"00:00:05.000 --> 00:00:06.000\n" +
		"<v Alice>Hello</v>\n" +
		"<v Alice>world</v>\n\n" +
		"00:00:40.000 --> 00:00:42.000\n" +
		"<v Alice>again</v>\n"
	call := makeCall(t, map[string]any{pipeline.RawTranscriptKey: vtt})

	out, err := runTranscriptionParsing(context.Background(), &pipeline.Env{}, call, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	parsed := outputText(t, out, "transcription_parsing")
	lines := strings.Split(parsed, "\n")
	aliceLines := 0
	for _, ln := range lines {
		if strings.HasPrefix(ln, "10:00 Alice:") {
			aliceLines++
			if !strings.Contains(ln, "Hello world") || !strings.Contains(ln, "again") {
				t.Fatalf("expected consolidated dialogue, got %q", ln)
			}
		}
	}
	if aliceLines != 1 {
		t.Fatalf("expected one consolidated line, got %d in:\n%s", aliceLines, parsed)
	}
}

func TestTranscriptionParsingReplacementAndStrip(t *testing.T) {
	vtt := "WEBVTT\n\n" +
		"00:00:05.000 --> 00:00:06.000\n" +
		"<v Dana>working on cloud era platform</v>\n\n" +
		"00:00:10.000 --> 00:00:11.000\n" +
		"<v Dana>this is a noise line</v>\n"
	call := makeCall(t, map[string]any{pipeline.RawTranscriptKey: vtt})
	params := pipeline.Params{
		"replacement_rules": map[string]any{
			"common": map[string]any{"cloud era": "Cloudera"},
		},
		"strip_patterns": []any{"noise"},
	}

	out, err := runTranscriptionParsing(context.Background(), &pipeline.Env{}, call, params)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	parsed := outputText(t, out, "transcription_parsing")
	if !strings.Contains(parsed, "Cloudera") {
		t.Fatalf("expected replacement applied, got:\n%s", parsed)
	}
	if strings.Contains(parsed, "noise") {
		t.Fatalf("expected noise line stripped, got:\n%s", parsed)
	}
}

func TestVTTCleanupEmptyInput(t *testing.T) {
	call := makeCall(t, map[string]any{pipeline.RawTranscriptKey: ""})
	out, err := runVTTCleanup(context.Background(), &pipeline.Env{}, call, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := outputText(t, out, "vtt_cleanup"); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}

package stages

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"trcflow/internal/llm"
	"trcflow/internal/pipeline"
	"trcflow/internal/types"
)

func TestPeopleExtractionBuildsDeltasWithProvenance(t *testing.T) {
	refined := "10:00 Alice Johnson: We met with Bob Smith to discuss.\n" +
		"10:01 Bob Smith: thanks for the update, Alice Johnson."
	call := makeCall(t, map[string]any{"refinement": refined})

	out, err := runPeopleExtraction(context.Background(), &pipeline.Env{}, call, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	payload, ok := out.CallOutputs["people_extraction"].(participantPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", out.CallOutputs["people_extraction"])
	}
	names := map[string]bool{}
	for _, r := range payload.Roles {
		names[r.DisplayName] = true
	}
	if !names["Alice Johnson"] || !names["Bob Smith"] {
		t.Fatalf("expected both names discovered, got %v", names)
	}

	if len(out.PeopleUpdates) != 2 {
		t.Fatalf("expected 2 people deltas, got %d", len(out.PeopleUpdates))
	}
	for _, delta := range out.PeopleUpdates {
		if delta.RawName != types.NormalizeName(delta.RawName) {
			t.Fatalf("raw name not normalized: %q", delta.RawName)
		}
		for _, r := range delta.Roles {
			if r.IncidentID != "INC_TEST" || r.TRCID != "TRC_TEST" {
				t.Fatalf("role entry missing provenance: %+v", r)
			}
		}
		for _, k := range delta.Knowledge {
			if k.IncidentID != "INC_TEST" || k.TRCID != "TRC_TEST" {
				t.Fatalf("knowledge entry missing provenance: %+v", k)
			}
		}
	}
}

func TestPeopleExtractionCapturesCapitalizedBigrams(t *testing.T) {
	// The heuristic is a plain non-overlapping proper-name bigram match, so
	// a capitalized sentence opener pairs with the following first name and
	// shadows the real full name. Curation happens in the people directory,
	// not here.
	call := makeCall(t, map[string]any{"refinement": "10:00 Bob Smith: Thanks Alice Johnson for the update."})

	out, err := runPeopleExtraction(context.Background(), &pipeline.Env{}, call, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out.PeopleUpdates) != 2 {
		t.Fatalf("expected 2 people deltas, got %d", len(out.PeopleUpdates))
	}
	names := map[string]bool{}
	for _, delta := range out.PeopleUpdates {
		names[delta.RawName] = true
	}
	if !names["bob smith"] || !names["thanks alice"] {
		t.Fatalf("captured names = %v", names)
	}
	if names["alice johnson"] {
		t.Fatalf("overlapping match should be consumed by the opener pair: %v", names)
	}
}

func TestParticipantAnalysisUsesModelResponse(t *testing.T) {
	fake := llm.NewFakeClient()
	fake.Script("participant", `{"roles":[{"raw_name":"carol diaz","display_name":"Carol Diaz","role":"Incident Manager","confidence_score":9.0}],"knowledge":[{"raw_name":"carol diaz","display_name":"Carol Diaz","knowledge":"Networking","confidence_score":8.0}]}`)
	env := &pipeline.Env{LLM: fake}
	call := makeCall(t, map[string]any{"noise_reduction": "10:00 Carol Diaz: restarting the router"})

	out, err := runParticipantAnalysis(context.Background(), env, call, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out.PeopleUpdates) != 1 {
		t.Fatalf("expected one person delta, got %d", len(out.PeopleUpdates))
	}
	delta := out.PeopleUpdates[0]
	if delta.RawName != "carol diaz" {
		t.Fatalf("unexpected raw name %q", delta.RawName)
	}
	if len(delta.Roles) != 1 || delta.Roles[0].Role != "Incident Manager" {
		t.Fatalf("unexpected roles %+v", delta.Roles)
	}
	if delta.Roles[0].IncidentID != "INC_TEST" || delta.Roles[0].TRCID != "TRC_TEST" {
		t.Fatalf("model entries must be stamped with provenance: %+v", delta.Roles[0])
	}
}

func TestParticipantAnalysisFallsBackWithoutModel(t *testing.T) {
	call := makeCall(t, map[string]any{"noise_reduction": "10:00 Alice Johnson: hello Bob Smith"})

	out, err := runParticipantAnalysis(context.Background(), &pipeline.Env{}, call, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	raws := map[string]bool{}
	for _, d := range out.PeopleUpdates {
		raws[d.RawName] = true
	}
	if !raws["alice johnson"] || !raws["bob smith"] {
		t.Fatalf("expected heuristic fallback names, got %v", raws)
	}
}

func TestSummarisationInfersTitleWhenMissing(t *testing.T) {
	text := strings.Repeat("Important Incident Discussion about Networking latency and database scaling concerns. ", 2)
	call := makeCall(t, map[string]any{"noise_reduction": text})

	out, err := runSummarisation(context.Background(), &pipeline.Env{}, call, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	summary := outputText(t, out, "summarisation")
	if !strings.HasPrefix(summary, "Important Incident") {
		t.Fatalf("expected summary headed by inferred title, got:\n%s", summary)
	}
	title, ok := out.IncidentUpdates["title"].(string)
	if !ok || !strings.HasPrefix(title, "Important Incident") {
		t.Fatalf("expected title update, got %v", out.IncidentUpdates)
	}
}

func TestSummarisationTruncatesOnRuneBoundaries(t *testing.T) {
	// Two-byte runes with a one byte offset put both the title and the
	// excerpt limit in the middle of a sequence.
	text := "a" + strings.Repeat("é", 1500)
	call := makeCall(t, map[string]any{"noise_reduction": text})

	out, err := runSummarisation(context.Background(), &pipeline.Env{}, call, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	summary := outputText(t, out, "summarisation")
	if !utf8.ValidString(summary) {
		t.Fatalf("summary split a rune:\n%q", summary)
	}
	title, ok := out.IncidentUpdates["title"].(string)
	if !ok {
		t.Fatalf("expected title update, got %v", out.IncidentUpdates)
	}
	if !utf8.ValidString(title) {
		t.Fatalf("title split a rune: %q", title)
	}
	if len(title) > summaryTitleLimit+len("...") {
		t.Fatalf("title too long: %d bytes", len(title))
	}
}

func TestSummarisationKeepsExistingTitle(t *testing.T) {
	call := makeCall(t, map[string]any{"noise_reduction": "short transcript"})
	call.Incident.Title = "Existing title"

	out, err := runSummarisation(context.Background(), &pipeline.Env{}, call, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, ok := out.IncidentUpdates["title"]; ok {
		t.Fatalf("must not propose a title when one exists: %v", out.IncidentUpdates)
	}
}

func TestKeywordExtractionTopFive(t *testing.T) {
	text := "Networking latency latency latency database scaling scaling " +
		"performance metrics analysis troubleshooting"
	call := makeCall(t, map[string]any{"noise_reduction": text})

	out, err := runKeywordExtraction(context.Background(), &pipeline.Env{}, call, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	keywords, ok := out.CallOutputs["keywords"].([]string)
	if !ok {
		t.Fatalf("unexpected keywords type %T", out.CallOutputs["keywords"])
	}
	if len(keywords) == 0 || len(keywords) > 5 {
		t.Fatalf("expected 1..5 keywords, got %v", keywords)
	}
	if keywords[0] != "latency" {
		t.Fatalf("expected latency ranked first, got %v", keywords)
	}
	found := false
	for _, k := range keywords {
		if k == "scaling" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected scaling in keywords, got %v", keywords)
	}
}

func TestKeywordExtractionFromModel(t *testing.T) {
	fake := llm.NewFakeClient()
	fake.Script("keyword", `["router","packet loss"]`)
	call := makeCall(t, map[string]any{"noise_reduction": "some transcript"})

	out, err := runKeywordExtraction(context.Background(), &pipeline.Env{LLM: fake}, call, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	keywords := out.CallOutputs["keywords"].([]string)
	if len(keywords) != 2 || keywords[0] != "router" {
		t.Fatalf("expected model keywords, got %v", keywords)
	}
}

func TestMasterSummaryAggregates(t *testing.T) {
	call := makeCall(t, nil)
	trcA := call.Incident.EnsureTRC("trc_a")
	if err := trcA.SetOutput("summarisation", "Summary A"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	trcB := call.Incident.EnsureTRC("trc_b")
	if err := trcB.SetOutput("summarisation", "Summary B"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	call.Incident.EnsureTRC("trc_c") // no summary, ignored

	out, err := runMasterSummary(context.Background(), &pipeline.Env{}, call, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	master, ok := out.IncidentUpdates["master_summary"].(string)
	if !ok {
		t.Fatalf("missing master_summary update: %v", out.IncidentUpdates)
	}
	if !strings.Contains(master, "Summary A") || !strings.Contains(master, "Summary B") {
		t.Fatalf("expected both summaries aggregated, got %q", master)
	}
	if _, ok := out.IncidentTextArtifacts["master_summary_raw"]; !ok {
		t.Fatalf("expected incident-level artifact, got %v", out.IncidentTextArtifacts)
	}
}

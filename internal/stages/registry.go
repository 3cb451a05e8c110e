// Package stages holds the closed set of transcript-processing stages.
// Each stage is declared as a pipeline.StageSpec; enablement, ordering and
// params come from configuration when the registry for a run is assembled.
package stages

import "trcflow/internal/pipeline"

// BuildRegistryTranscript declares the text-normalization chain: VTT
// rendering, enhancement, noise reduction and refinement.
func BuildRegistryTranscript() map[string]pipeline.StageSpec {
	reg := map[string]pipeline.StageSpec{}
	reg["vtt_cleanup"] = pipeline.StageSpec{
		Key:         "vtt_cleanup",
		Description: "Renders raw VTT into timestamped dialogue lines with replacement rules and strip patterns.",
		Run:         runVTTCleanup,
	}
	reg["transcription_parsing"] = pipeline.StageSpec{
		Key:         "transcription_parsing",
		Description: "Wall-clock rendering of the raw VTT anchored to the meeting start time.",
		Run:         runTranscriptionParsing,
	}
	reg["text_enhancement"] = pipeline.StageSpec{
		Key:         "text_enhancement",
		Description: "Applies configured literal replacements to parsed dialogue and records a diff artifact.",
		Requires:    []string{"transcription_parsing"},
		Run:         runTextEnhancement,
	}
	reg["noise_reduction"] = pipeline.StageSpec{
		Key:         "noise_reduction",
		Description: "Strips conversational fillers, optionally via the model.",
		Requires:    []string{"text_enhancement"},
		Run:         runNoiseReduction,
	}
	reg["refinement"] = pipeline.StageSpec{
		Key:         "refinement",
		Description: "Replacement rules plus whitespace cleanup over the cleaned transcript.",
		Requires:    []string{"vtt_cleanup"},
		Run:         runRefinement,
	}
	return reg
}

// BuildRegistryInsights declares the analysis stages that derive people,
// summaries and keywords from the normalized transcript.
func BuildRegistryInsights() map[string]pipeline.StageSpec {
	reg := map[string]pipeline.StageSpec{}
	reg["people_extraction"] = pipeline.StageSpec{
		Key:         "people_extraction",
		Description: "Heuristic participant discovery from the refined transcript.",
		Requires:    []string{"refinement"},
		Run:         runPeopleExtraction,
	}
	reg["participant_analysis"] = pipeline.StageSpec{
		Key:         "participant_analysis",
		Description: "Model-driven participant roles and knowledge areas, heuristic fallback.",
		Requires:    []string{"noise_reduction"},
		Run:         runParticipantAnalysis,
	}
	reg["summarisation"] = pipeline.StageSpec{
		Key:         "summarisation",
		Description: "Per-call summary; proposes an incident title when none is set.",
		Requires:    []string{"noise_reduction"},
		Run:         runSummarisation,
	}
	reg["keyword_extraction"] = pipeline.StageSpec{
		Key:         "keyword_extraction",
		Description: "Topic keywords merged into the incident keyword set.",
		Requires:    []string{"noise_reduction"},
		Outputs:     []string{"keywords"},
		Run:         runKeywordExtraction,
	}
	reg["master_summary"] = pipeline.StageSpec{
		Key:         "master_summary",
		Description: "Synthesizes the incident master summary across all call summaries.",
		Requires:    []string{"summarisation"},
		Run:         runMasterSummary,
	}
	return reg
}

// All merges every stage family into one spec map.
func All() map[string]pipeline.StageSpec {
	merged := map[string]pipeline.StageSpec{}
	for _, reg := range []map[string]pipeline.StageSpec{
		BuildRegistryTranscript(),
		BuildRegistryInsights(),
	} {
		for k, v := range reg {
			merged[k] = v
		}
	}
	return merged
}

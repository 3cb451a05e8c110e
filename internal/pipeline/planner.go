package pipeline

import (
	"fmt"
)

// Plan narrows a full topological order to the run-list for one call.
//
// The run-list is [start .. end of order] plus every upstream stage whose
// output the list needs and which the call does not already have. Backfill
// is recursive: a backfilled ancestor pulls in its own missing ancestors,
// preserving topological order. A stage whose outputs all exist is never
// re-executed unless it lies at or after the requested start.
//
// An empty start means a full run. A start stage not present in the order
// fails with ErrUnknownStage.
func Plan(order []StageSpec, start string, satisfied func(StageSpec) bool) ([]StageSpec, error) {
	if len(order) == 0 {
		return nil, nil
	}
	start = normalizeKey(start)
	startIdx := 0
	if start != "" {
		startIdx = -1
		for i, s := range order {
			if s.Key == start {
				startIdx = i
				break
			}
		}
		if startIdx < 0 {
			return nil, fmt.Errorf("%w: start stage %s", ErrUnknownStage, start)
		}
	}

	byKey := make(map[string]StageSpec, len(order))
	for _, s := range order {
		byKey[s.Key] = s
	}

	include := make(map[string]bool, len(order))
	for _, s := range order[startIdx:] {
		include[s.Key] = true
	}

	// Recursive backfill of missing upstream outputs.
	var backfill func(spec StageSpec)
	backfill = func(spec StageSpec) {
		for _, req := range spec.Requires {
			req = normalizeKey(req)
			dep, ok := byKey[req]
			if !ok || include[dep.Key] {
				continue
			}
			if satisfied != nil && satisfied(dep) {
				continue
			}
			include[dep.Key] = true
			backfill(dep)
		}
	}
	for _, s := range order[startIdx:] {
		backfill(s)
	}

	plan := make([]StageSpec, 0, len(include))
	for _, s := range order {
		if include[s.Key] {
			plan = append(plan, s)
		}
	}
	return plan, nil
}

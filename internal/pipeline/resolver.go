package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Resolve computes a stable topological order over the enabled stages.
//
// Kahn's algorithm with the configuration-declared ordinal as the tie-break:
// stages that become ready together are ordered by ordinal and appended to
// the queue as a batch. Identical configuration therefore always yields the
// identical order, and a configured order that already satisfies every edge
// is returned unchanged.
//
// Edges to unknown or disabled stages fail with ErrMissingDependency and a
// cycle fails with ErrCyclicDependency naming its stages, both before any
// stage executes.
func Resolve(specs []StageSpec) ([]StageSpec, error) {
	byKey := make(map[string]StageSpec, len(specs))
	for _, s := range specs {
		byKey[s.Key] = s
	}

	indegree := make(map[string]int, len(specs))
	dependents := make(map[string][]string, len(specs))
	for _, s := range specs {
		if _, ok := indegree[s.Key]; !ok {
			indegree[s.Key] = 0
		}
		for _, req := range s.Requires {
			req = normalizeKey(req)
			if _, ok := byKey[req]; !ok {
				return nil, fmt.Errorf("%w: stage %s requires %s", ErrMissingDependency, s.Key, req)
			}
			indegree[s.Key]++
			dependents[req] = append(dependents[req], s.Key)
		}
	}

	// FIFO queue of ready stages. The ordinal breaks ties only within each
	// batch of stages that become ready together; earlier batches drain
	// before later ones, so an early-ordinal stage freed late never jumps
	// ahead of stages already queued.
	var ready []StageSpec
	for _, s := range specs {
		if indegree[s.Key] == 0 {
			ready = append(ready, s)
		}
	}
	sortByOrdinal(ready)

	ordered := make([]StageSpec, 0, len(specs))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, next)
		var batch []StageSpec
		for _, dep := range dependents[next.Key] {
			indegree[dep]--
			if indegree[dep] == 0 {
				batch = append(batch, byKey[dep])
			}
		}
		sortByOrdinal(batch)
		ready = append(ready, batch...)
	}

	if len(ordered) < len(specs) {
		var cycle []StageSpec
		for _, s := range specs {
			if indegree[s.Key] > 0 {
				cycle = append(cycle, s)
			}
		}
		sortByOrdinal(cycle)
		names := make([]string, len(cycle))
		for i, s := range cycle {
			names[i] = s.Key
		}
		return nil, fmt.Errorf("%w: %s", ErrCyclicDependency, strings.Join(names, " -> "))
	}
	return ordered, nil
}

func sortByOrdinal(specs []StageSpec) {
	sort.SliceStable(specs, func(i, j int) bool {
		return specs[i].Ordinal < specs[j].Ordinal
	})
}

package config

import (
	"fmt"
	"strings"

	"trcflow/internal/pipeline"
)

// BuildRegistry assembles the run registry from the snapshot's stage table
// and the implementation specs. Stages are registered in pipeline_order so
// their ordinals reflect the declared order; stage params and enablement
// come from the snapshot.
func BuildRegistry(snap *Snapshot, impls map[string]pipeline.StageSpec) (*pipeline.Registry, error) {
	reg := pipeline.NewRegistry()
	for _, key := range snap.PipelineOrder {
		key = strings.ToLower(strings.TrimSpace(key))
		spec, ok := impls[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s in pipeline_order", pipeline.ErrUnknownStage, key)
		}
		sc := snap.Stages[key]
		spec.Enabled = sc.On()
		spec.Params = pipeline.Params(sc.Params)
		if err := reg.Register(spec); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

package types

import (
	"fmt"
)

// MergeStrategy declares how one incident-level key combines contributions
// from multiple calls. The strategy is declared per key up front instead of
// being inferred from the value type at merge time.
type MergeStrategy int

const (
	// MergeLastWriter replaces the stored value with the incoming one.
	MergeLastWriter MergeStrategy = iota
	// MergeSetUnion unions string slices into a sorted, deduplicated set.
	MergeSetUnion
	// MergeFillIfEmpty writes the incoming value only when the stored value
	// is still empty. Later contributions never overwrite it.
	MergeFillIfEmpty
)

// IncidentMergeStrategies maps each mergeable incident key to its strategy.
var IncidentMergeStrategies = map[string]MergeStrategy{
	"title":          MergeFillIfEmpty,
	"master_summary": MergeLastWriter,
	"keywords":       MergeSetUnion,
}

// ApplyUpdate merges one incident-level update into the aggregate using the
// declared strategy for the key. Unknown keys are rejected so a stage cannot
// invent incident fields the merge table does not know about.
func (inc *Incident) ApplyUpdate(key string, value any) error {
	strategy, ok := IncidentMergeStrategies[key]
	if !ok {
		return fmt.Errorf("types: no merge strategy declared for incident key %q", key)
	}
	switch key {
	case "title":
		s, err := asString(key, value)
		if err != nil {
			return err
		}
		if strategy == MergeFillIfEmpty && inc.Title != "" {
			return nil
		}
		inc.Title = s
	case "master_summary":
		s, err := asString(key, value)
		if err != nil {
			return err
		}
		inc.MasterSummary = s
	case "keywords":
		kws, err := asStringSlice(key, value)
		if err != nil {
			return err
		}
		inc.Keywords = SortedKeywordUnion(inc.Keywords, kws)
	}
	return nil
}

func asString(key string, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("types: incident key %q expects a string, got %T", key, value)
	}
	return s, nil
}

func asStringSlice(key string, value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("types: incident key %q expects strings, got %T", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("types: incident key %q expects a string list, got %T", key, value)
	}
}

package pipeline

import (
	"errors"
	"strings"
	"testing"
)

func buildRegistry(t *testing.T, specs ...StageSpec) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, s := range specs {
		s.Enabled = true
		if err := reg.Register(s); err != nil {
			t.Fatalf("register %s: %v", s.Key, err)
		}
	}
	return reg
}

func keysOf(specs []StageSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Key
	}
	return out
}

func assertOrder(t *testing.T, got []StageSpec, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got order %v, want %v", keysOf(got), want)
	}
	for i, k := range want {
		if got[i].Key != k {
			t.Fatalf("got order %v, want %v", keysOf(got), want)
		}
	}
}

func TestResolvePreservesValidDeclaredOrder(t *testing.T) {
	reg := buildRegistry(t,
		StageSpec{Key: "clean"},
		StageSpec{Key: "summarize", Requires: []string{"clean"}},
		StageSpec{Key: "extract", Requires: []string{"clean"}},
		StageSpec{Key: "keywords", Requires: []string{"summarize"}},
	)
	order, err := Resolve(reg.Enabled())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	assertOrder(t, order, "clean", "summarize", "extract", "keywords")
}

func TestResolveReordersByDependencyWithOrdinalTieBreak(t *testing.T) {
	// Declared order puts keywords first, but its dependency chain forces it
	// last; independent stages keep their declared relative order.
	reg := buildRegistry(t,
		StageSpec{Key: "keywords", Requires: []string{"summarize"}},
		StageSpec{Key: "clean"},
		StageSpec{Key: "summarize", Requires: []string{"clean"}},
		StageSpec{Key: "extract", Requires: []string{"clean"}},
	)
	order, err := Resolve(reg.Enabled())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	assertOrder(t, order, "clean", "summarize", "extract", "keywords")
}

func TestResolveIsDeterministic(t *testing.T) {
	build := func() []StageSpec {
		reg := buildRegistry(t,
			StageSpec{Key: "a"},
			StageSpec{Key: "b"},
			StageSpec{Key: "c", Requires: []string{"a"}},
			StageSpec{Key: "d", Requires: []string{"b", "c"}},
		)
		return reg.Enabled()
	}
	first, err := Resolve(build())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Resolve(build())
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		for j := range first {
			if first[j].Key != again[j].Key {
				t.Fatalf("order changed between runs: %v vs %v", keysOf(first), keysOf(again))
			}
		}
	}
}

func TestResolveMissingDependency(t *testing.T) {
	reg := buildRegistry(t,
		StageSpec{Key: "summarize", Requires: []string{"clean"}},
	)
	_, err := Resolve(reg.Enabled())
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
	if !strings.Contains(err.Error(), "summarize") || !strings.Contains(err.Error(), "clean") {
		t.Fatalf("error should name both stages: %v", err)
	}
}

func TestResolveDependencyOnDisabledStage(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(StageSpec{Key: "clean", Enabled: false}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(StageSpec{Key: "summarize", Requires: []string{"clean"}, Enabled: true}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := Resolve(reg.Enabled())
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency for disabled dep, got %v", err)
	}
}

func TestResolveCycleNamesMembers(t *testing.T) {
	reg := buildRegistry(t,
		StageSpec{Key: "a", Requires: []string{"c"}},
		StageSpec{Key: "b", Requires: []string{"a"}},
		StageSpec{Key: "c", Requires: []string{"b"}},
	)
	_, err := Resolve(reg.Enabled())
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if !strings.Contains(err.Error(), k) {
			t.Fatalf("cycle error should name %q: %v", k, err)
		}
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(StageSpec{Key: "clean"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := reg.Register(StageSpec{Key: "Clean "})
	if !errors.Is(err, ErrDuplicateStage) {
		t.Fatalf("expected ErrDuplicateStage for normalized duplicate, got %v", err)
	}
}

func TestRegistryNormalizesKeys(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(StageSpec{Key: " VTT_Cleanup "}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := reg.Get("vtt_cleanup"); !ok {
		t.Fatalf("expected normalized lookup to succeed")
	}
}

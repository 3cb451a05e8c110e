package types

import (
	"reflect"
	"testing"
)

func TestApplyUpdateTitleFillsOnlyOnce(t *testing.T) {
	inc := NewIncident("INC0000000001")
	if err := inc.ApplyUpdate("title", "First title"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := inc.ApplyUpdate("title", "Second title"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if inc.Title != "First title" {
		t.Fatalf("title = %q, want the first contribution", inc.Title)
	}
}

func TestApplyUpdateMasterSummaryLastWriterWins(t *testing.T) {
	inc := NewIncident("INC0000000001")
	for _, s := range []string{"draft", "final"} {
		if err := inc.ApplyUpdate("master_summary", s); err != nil {
			t.Fatalf("apply %q: %v", s, err)
		}
	}
	if inc.MasterSummary != "final" {
		t.Fatalf("master summary = %q", inc.MasterSummary)
	}
}

func TestApplyUpdateKeywordsUnion(t *testing.T) {
	inc := NewIncident("INC0000000001")
	if err := inc.ApplyUpdate("keywords", []string{"router", "latency"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := inc.ApplyUpdate("keywords", []string{"latency", "packet loss"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := []string{"latency", "packet loss", "router"}
	if !reflect.DeepEqual(inc.Keywords, want) {
		t.Fatalf("keywords = %v, want %v", inc.Keywords, want)
	}
}

func TestApplyUpdateKeywordsAcceptsAnySlice(t *testing.T) {
	// Stages that decode model JSON hand over []any, not []string.
	inc := NewIncident("INC0000000001")
	if err := inc.ApplyUpdate("keywords", []any{"router", "latency"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := []string{"latency", "router"}
	if !reflect.DeepEqual(inc.Keywords, want) {
		t.Fatalf("keywords = %v, want %v", inc.Keywords, want)
	}
}

func TestApplyUpdateRejectsUndeclaredKey(t *testing.T) {
	inc := NewIncident("INC0000000001")
	if err := inc.ApplyUpdate("severity", "high"); err == nil {
		t.Fatalf("expected error for key without a merge strategy")
	}
}

func TestApplyUpdateRejectsWrongValueType(t *testing.T) {
	inc := NewIncident("INC0000000001")
	if err := inc.ApplyUpdate("title", 42); err == nil {
		t.Fatalf("expected error for non-string title")
	}
	if err := inc.ApplyUpdate("keywords", "not a slice"); err == nil {
		t.Fatalf("expected error for non-slice keywords")
	}
}

func TestSortedKeywordUnion(t *testing.T) {
	got := SortedKeywordUnion([]string{"router", " latency "}, []string{"", "router", "dns"})
	want := []string{"dns", "latency", "router"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("union = %v, want %v", got, want)
	}
}

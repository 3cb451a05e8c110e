package ingest

import (
	"errors"
	"testing"
	"time"
)

func TestParseFilenameIncidentIDs(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"INC0001234567-16062025-2023.vtt", "INC0001234567"},
		{"notes-INC123456789012-01012024-0000.vtt", "INC123456789012"},
		{"INC1234567890_extra-01012024-0000.vtt", "INC1234567890"},
	}
	for _, tc := range cases {
		info, err := ParseFilename(tc.name)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if info.IncidentID != tc.want {
			t.Fatalf("%s: got incident %q, want %q", tc.name, info.IncidentID, tc.want)
		}
	}
}

func TestParseFilenameStartTime(t *testing.T) {
	info, err := ParseFilename("INC0001234567-16062025-2023.vtt")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2025, 6, 16, 20, 23, 0, 0, time.Local)
	if !info.StartTime.Equal(want) {
		t.Fatalf("got start %v, want %v", info.StartTime, want)
	}
}

func TestParseFilenameMissingIncident(t *testing.T) {
	_, err := ParseFilename("meeting-01012024-0000.vtt")
	if !errors.Is(err, ErrNoIncidentID) {
		t.Fatalf("expected ErrNoIncidentID, got %v", err)
	}
}

func TestParseFilenameMissingStamp(t *testing.T) {
	info, err := ParseFilename("INC0001234567.vtt")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !info.StartTime.IsZero() {
		t.Fatalf("expected zero start time, got %v", info.StartTime)
	}
}

func TestTRCIDDerivation(t *testing.T) {
	start := time.Date(2025, 6, 5, 10, 0, 0, 0, time.UTC)
	if got := TRCID(start); got != "trc_2025-06-05T10:00:00" {
		t.Fatalf("unexpected trc id %q", got)
	}
}

func TestHashContentStable(t *testing.T) {
	a := HashContent([]byte("WEBVTT"))
	b := HashContent([]byte("WEBVTT"))
	if a != b {
		t.Fatalf("hash not stable: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}
	if HashContent([]byte("other")) == a {
		t.Fatalf("distinct content must hash differently")
	}
}

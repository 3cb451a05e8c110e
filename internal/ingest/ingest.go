// Package ingest maps transcript files onto the domain: incident id and
// meeting start extracted from the filename convention, content hashing, and
// TRC id derivation.
package ingest

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"
)

var (
	// incPattern matches the ticket-system incident id embedded in
	// transcript filenames, like INC0001234567.
	incPattern = regexp.MustCompile(`(INC\d{10,12})`)
	// dtPattern matches the DDMMYYYY-HHMM meeting start stamp. The leading
	// non-digit boundary keeps it from latching onto the tail of the
	// incident id, which is also digits.
	dtPattern = regexp.MustCompile(`(?:^|[^0-9])(\d{8}-\d{4})`)
)

const dtLayout = "02012006-1504"

// ErrNoIncidentID means the filename carries no recognizable incident id.
var ErrNoIncidentID = errors.New("ingest: no incident id in filename")

// FileInfo is what a transcript filename tells us about the call.
type FileInfo struct {
	IncidentID string
	// StartTime is zero when the filename carries no datetime stamp.
	StartTime time.Time
}

// ParseFilename extracts the incident id and meeting start from a transcript
// filename like INC0001234567-16062025-2023.vtt. The incident id is
// mandatory; the datetime stamp is optional.
func ParseFilename(filename string) (FileInfo, error) {
	var info FileInfo
	m := incPattern.FindStringSubmatch(filename)
	if m == nil {
		return info, fmt.Errorf("%w: %s", ErrNoIncidentID, filename)
	}
	info.IncidentID = m[1]

	if m := dtPattern.FindStringSubmatch(filename); m != nil {
		ts, err := time.ParseInLocation(dtLayout, m[1], time.Local)
		if err != nil {
			return info, fmt.Errorf("ingest: bad datetime stamp %q in %s: %w", m[1], filename, err)
		}
		info.StartTime = ts
	}
	return info, nil
}

// HashContent returns the hex sha256 of the transcript content, recorded on
// the TRC for duplicate detection.
func HashContent(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// TRCID derives the call identifier from its start time. Calls with the same
// start time are the same call.
func TRCID(start time.Time) string {
	return "trc_" + start.Format("2006-01-02T15:04:05")
}

// ReadTranscript loads a transcript file and derives its ingest metadata.
func ReadTranscript(path string) (FileInfo, []byte, string, error) {
	info, err := ParseFilename(path)
	if err != nil {
		return info, nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return info, nil, "", fmt.Errorf("ingest: read %s: %w", path, err)
	}
	return info, data, HashContent(data), nil
}

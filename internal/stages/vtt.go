package stages

import (
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Raw WebVTT structure shared by the transcript stages.

var (
	vttCuePattern     = regexp.MustCompile(`^\s*(\d{2}:\d{2}:\d{2}\.\d{3})\s*-->\s*(\d{2}:\d{2}:\d{2}\.\d{3})`)
	vttSpeakerPattern = regexp.MustCompile(`(?s)<v\s+([^>]+)>(.*?)</v>`)
	vttMetaPattern    = regexp.MustCompile(`(?i)^(?:NOTE|STYLE|REGION|WEBVTT|[0-9a-f]{8}-[0-9a-f]{4}-)`)
	voiceTagPattern   = regexp.MustCompile(`(?s)(<v[^>]*>)(.*?)(</v>)`)
)

// fourHours is the assumed recorder clock window. When cue offsets decrease
// mid file the recorder wrapped, and the wall-clock rendering jumps forward
// by this much.
const fourHours = 4 * time.Hour

type vttSegment struct {
	Timestamp string // cue start, "HH:MM:SS.mmm"
	Speaker   string
	Dialogue  string
}

// stripVoiceTagNewlines removes newlines inside <v> tags so a tag never
// spans parser lines.
func stripVoiceTagNewlines(content string) string {
	return voiceTagPattern.ReplaceAllStringFunc(content, func(m string) string {
		sub := voiceTagPattern.FindStringSubmatch(m)
		body := strings.NewReplacer("\n", " ", "\r", "").Replace(sub[2])
		return sub[1] + body + sub[3]
	})
}

// parseVTTTimestamp converts "HH:MM:SS.mmm" to an offset from the cue origin.
func parseVTTTimestamp(ts string) (time.Duration, error) {
	parts := strings.Split(ts, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed timestamp %q", ts)
	}
	secParts := strings.Split(parts[2], ".")
	if len(secParts) != 2 {
		return 0, fmt.Errorf("malformed timestamp %q", ts)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	s, err3 := strconv.Atoi(secParts[0])
	ms, err4 := strconv.Atoi(secParts[1])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return 0, fmt.Errorf("malformed timestamp %q", ts)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(ms)*time.Millisecond, nil
}

func normalizeSpeaker(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "Unknown Speaker"
	}
	return name
}

// parseVTTSegments walks the VTT content and emits one segment per speaker
// turn, carrying the start timestamp of the enclosing cue. Plain text outside
// <v> tags is attributed to the active speaker, or to "Unknown Speaker" when
// none is active.
func parseVTTSegments(content string) []vttSegment {
	var segments []vttSegment
	lines := strings.Split(stripVoiceTagNewlines(content), "\n")

	var activeSpeaker string
	var activeParts []string
	activeTimestamp := "00:00:00.000"

	flush := func() {
		if activeSpeaker != "" && len(activeParts) > 0 {
			segments = append(segments, vttSegment{
				Timestamp: activeTimestamp,
				Speaker:   activeSpeaker,
				Dialogue:  strings.TrimSpace(strings.Join(activeParts, " ")),
			})
		}
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || vttMetaPattern.MatchString(line) {
			continue
		}
		if cue := vttCuePattern.FindStringSubmatch(line); cue != nil {
			flush()
			activeTimestamp = cue[1]
			activeParts = nil
			activeSpeaker = ""
			continue
		}

		pos := 0
		for pos < len(line) {
			loc := vttSpeakerPattern.FindStringSubmatchIndex(line[pos:])
			if loc == nil {
				if remaining := strings.TrimSpace(line[pos:]); remaining != "" {
					if activeSpeaker == "" {
						activeSpeaker = "Unknown Speaker"
					}
					activeParts = append(activeParts, remaining)
				}
				break
			}
			plainBefore := strings.TrimSpace(line[pos : pos+loc[0]])
			speaker := strings.TrimSpace(line[pos+loc[2] : pos+loc[3]])
			dialogue := strings.TrimSpace(line[pos+loc[4] : pos+loc[5]])
			if activeSpeaker != "" && activeSpeaker != speaker && len(activeParts) > 0 {
				segments = append(segments, vttSegment{
					Timestamp: activeTimestamp,
					Speaker:   activeSpeaker,
					Dialogue:  strings.TrimSpace(strings.Join(activeParts, " ")),
				})
				activeParts = nil
			}
			if plainBefore != "" && (activeSpeaker == "" || activeSpeaker != speaker) {
				activeParts = append(activeParts, plainBefore)
			}
			activeSpeaker = speaker
			if dialogue != "" {
				activeParts = append(activeParts, dialogue)
			}
			pos += loc[1]
		}
		if activeSpeaker == "" && len(activeParts) > 0 {
			activeSpeaker = "Unknown Speaker"
		}
	}
	flush()
	return segments
}

// replacementRule is one literal, case-insensitive substitution.
type replacementRule struct {
	pattern *regexp.Regexp
	old     string
	new     string
}

// compileReplacements turns a flat rule map into an ordered rule list,
// longest key first so "git hub" wins over "github". Ties break
// alphabetically to keep the order stable across runs.
func compileReplacements(rules map[string]string) []replacementRule {
	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	out := make([]replacementRule, 0, len(keys))
	for _, k := range keys {
		out = append(out, replacementRule{
			pattern: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(k)),
			old:     k,
			new:     rules[k],
		})
	}
	return out
}

func applyReplacements(text string, rules []replacementRule) (string, int) {
	total := 0
	for _, r := range rules {
		matches := len(r.pattern.FindAllStringIndex(text, -1))
		if matches == 0 {
			continue
		}
		text = r.pattern.ReplaceAllLiteralString(text, r.new)
		total += matches
	}
	return text, total
}

func compileStripPatterns(patterns []string) []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, p := range patterns {
		rx, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			log.Printf("invalid strip pattern skipped: %q", p)
			continue
		}
		out = append(out, rx)
	}
	return out
}

func hasAlphanumeric(s string) bool {
	for _, r := range s {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			return true
		}
	}
	return false
}

type transcriptLine struct {
	HHMM    string
	Speaker string
	Text    string
}

// renderTranscript turns parsed segments into "HH:MM Speaker: text" lines.
// Cue offsets are anchored to the meeting start time; an offset smaller than
// its predecessor means the recorder clock wrapped and the rendering jumps
// forward four hours. Consecutive lines from the same speaker within the
// same minute are consolidated.
func renderTranscript(segments []vttSegment, start time.Time, rules []replacementRule, strips []*regexp.Regexp) string {
	var consolidated []transcriptLine
	lastMinute := int64(-1)
	lastSpeaker := ""
	var lastOffset time.Duration
	haveLastOffset := false
	var rollover time.Duration
	var lastDisplay time.Time
	haveLastDisplay := false

	for _, seg := range segments {
		speaker := normalizeSpeaker(seg.Speaker)
		dialogue := seg.Dialogue
		if len(rules) > 0 {
			dialogue, _ = applyReplacements(dialogue, rules)
		}
		if len(strips) > 0 {
			var kept []string
			for _, ln := range strings.Split(dialogue, "\n") {
				matched := false
				for _, rx := range strips {
					if rx.MatchString(ln) {
						matched = true
						break
					}
				}
				if !matched {
					kept = append(kept, ln)
				}
			}
			dialogue = strings.Join(kept, "\n")
		}
		dialogue = strings.TrimSpace(dialogue)
		if dialogue == "" || !hasAlphanumeric(dialogue) {
			continue
		}

		var display time.Time
		offset, err := parseVTTTimestamp(seg.Timestamp)
		if err != nil {
			log.Printf("invalid cue timestamp %q, using previous line time", seg.Timestamp)
			if haveLastDisplay {
				display = lastDisplay
			} else {
				display = start
			}
		} else {
			if haveLastOffset && offset < lastOffset {
				rollover += fourHours
			}
			lastOffset = offset
			haveLastOffset = true
			display = start.Add(offset + rollover)
		}
		lastDisplay = display
		haveLastDisplay = true

		minuteKey := display.Unix() / 60
		hhmm := display.Format("15:04")

		if len(consolidated) > 0 && lastSpeaker == speaker && lastMinute == minuteKey {
			consolidated[len(consolidated)-1].Text += " " + dialogue
		} else {
			consolidated = append(consolidated, transcriptLine{HHMM: hhmm, Speaker: speaker, Text: dialogue})
			lastSpeaker = speaker
			lastMinute = minuteKey
		}
	}

	var out []string
	for _, entry := range consolidated {
		lines := strings.Split(entry.Text, "\n")
		first := strings.TrimSpace(lines[0])
		prefix := entry.HHMM + " " + entry.Speaker + ":"
		if first != "" {
			out = append(out, prefix+" "+first)
		} else {
			out = append(out, prefix)
		}
		for _, extra := range lines[1:] {
			if extra = strings.TrimSpace(extra); extra != "" {
				out = append(out, extra)
			}
		}
	}
	return strings.Join(out, "\n")
}

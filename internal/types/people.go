package types

import (
	"sort"
	"strings"
)

// RoleEntry is one discovered role for a person, with provenance.
type RoleEntry struct {
	RawName     string  `json:"raw_name"`
	DisplayName string  `json:"display_name"`
	Role        string  `json:"role"`
	Reasoning   string  `json:"reasoning,omitempty"`
	Confidence  float64 `json:"confidence_score"`
	IncidentID  string  `json:"incident_id"`
	TRCID       string  `json:"trc_id"`
}

// KnowledgeEntry is one discovered knowledge area for a person, with provenance.
type KnowledgeEntry struct {
	RawName     string  `json:"raw_name"`
	DisplayName string  `json:"display_name"`
	Knowledge   string  `json:"knowledge"`
	Reasoning   string  `json:"reasoning,omitempty"`
	Confidence  float64 `json:"confidence_score"`
	IncidentID  string  `json:"incident_id"`
	TRCID       string  `json:"trc_id"`
}

// Person is one people-directory entry keyed by normalized raw name.
//
// Manual fields (DisplayNameOverride, RoleOverride, Deleted, the Removed*
// tombstones) are set by operators and are never touched by automatic
// discovery: MergeDelta refuses to overwrite them and re-discovery of a
// tombstoned value is a no-op until the tombstone is cleared.
type Person struct {
	RawName             string           `json:"raw_name"`
	DisplayName         string           `json:"display_name"`
	DisplayNameOverride string           `json:"display_name_override,omitempty"`
	RoleOverride        string           `json:"role_override,omitempty"`
	Deleted             bool             `json:"deleted,omitempty"`
	DiscoveredRoles     []RoleEntry      `json:"discovered_roles"`
	DiscoveredKnowledge []KnowledgeEntry `json:"discovered_knowledge"`
	RemovedRoles        []string         `json:"removed_roles,omitempty"`
	RemovedKnowledge    []string         `json:"removed_knowledge,omitempty"`
}

// DisplayLabel returns the name to show for this person; a manual override
// always wins over the discovered display name.
func (p *Person) DisplayLabel() string {
	if p.DisplayNameOverride != "" {
		return p.DisplayNameOverride
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return titleCase(p.RawName)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// PersonDelta is what one stage invocation reports for one person.
type PersonDelta struct {
	RawName     string
	DisplayName string
	Roles       []RoleEntry
	Knowledge   []KnowledgeEntry
}

// PeopleDirectory is the process-wide people aggregate keyed by normalized
// raw name.
type PeopleDirectory map[string]*Person

// NormalizeName lowercases, trims, and collapses inner whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func roleTombstone(role, incidentID, trcID string) string {
	return role + "|" + incidentID + "|" + trcID
}

func knowledgeTombstone(knowledge, incidentID, trcID string) string {
	return knowledge + "|" + incidentID + "|" + trcID
}

// MergeDelta merges one discovery delta into the directory. The merge is
// idempotent: applying the same delta twice leaves the directory unchanged.
//
// Rules, per person per field:
//   - roles and knowledge areas are unioned by (value, provenance); a
//     duplicate of an existing entry keeps whichever carries the higher
//     confidence score
//   - the discovered display name fills in only when none is recorded;
//     manual overrides are untouched
//   - entries matching a removal tombstone are not re-added
//   - a deleted person stays deleted; the delta is dropped entirely
func (d PeopleDirectory) MergeDelta(delta PersonDelta) {
	raw := NormalizeName(delta.RawName)
	if raw == "" {
		return
	}
	person, ok := d[raw]
	if !ok {
		person = &Person{RawName: raw}
		d[raw] = person
	}
	if person.Deleted {
		return
	}
	if person.DisplayName == "" && delta.DisplayName != "" {
		person.DisplayName = delta.DisplayName
	}

	removedRoles := make(map[string]bool, len(person.RemovedRoles))
	for _, ts := range person.RemovedRoles {
		removedRoles[ts] = true
	}
	for _, entry := range delta.Roles {
		entry.RawName = raw
		if removedRoles[roleTombstone(entry.Role, entry.IncidentID, entry.TRCID)] {
			continue
		}
		if i := findRole(person.DiscoveredRoles, entry); i >= 0 {
			if entry.Confidence > person.DiscoveredRoles[i].Confidence {
				person.DiscoveredRoles[i] = entry
			}
			continue
		}
		person.DiscoveredRoles = append(person.DiscoveredRoles, entry)
	}

	removedKnowledge := make(map[string]bool, len(person.RemovedKnowledge))
	for _, ts := range person.RemovedKnowledge {
		removedKnowledge[ts] = true
	}
	for _, entry := range delta.Knowledge {
		entry.RawName = raw
		if removedKnowledge[knowledgeTombstone(entry.Knowledge, entry.IncidentID, entry.TRCID)] {
			continue
		}
		if i := findKnowledge(person.DiscoveredKnowledge, entry); i >= 0 {
			if entry.Confidence > person.DiscoveredKnowledge[i].Confidence {
				person.DiscoveredKnowledge[i] = entry
			}
			continue
		}
		person.DiscoveredKnowledge = append(person.DiscoveredKnowledge, entry)
	}

	person.sortEntries()
}

func findRole(entries []RoleEntry, e RoleEntry) int {
	for i, cur := range entries {
		if cur.Role == e.Role && cur.IncidentID == e.IncidentID && cur.TRCID == e.TRCID {
			return i
		}
	}
	return -1
}

func findKnowledge(entries []KnowledgeEntry, e KnowledgeEntry) int {
	for i, cur := range entries {
		if cur.Knowledge == e.Knowledge && cur.IncidentID == e.IncidentID && cur.TRCID == e.TRCID {
			return i
		}
	}
	return -1
}

// sortEntries keeps discovered entries in a stable order so repeated merges
// persist byte-identically.
func (p *Person) sortEntries() {
	sort.Slice(p.DiscoveredRoles, func(i, j int) bool {
		a, b := p.DiscoveredRoles[i], p.DiscoveredRoles[j]
		if a.Role != b.Role {
			return a.Role < b.Role
		}
		if a.IncidentID != b.IncidentID {
			return a.IncidentID < b.IncidentID
		}
		return a.TRCID < b.TRCID
	})
	sort.Slice(p.DiscoveredKnowledge, func(i, j int) bool {
		a, b := p.DiscoveredKnowledge[i], p.DiscoveredKnowledge[j]
		if a.Knowledge != b.Knowledge {
			return a.Knowledge < b.Knowledge
		}
		if a.IncidentID != b.IncidentID {
			return a.IncidentID < b.IncidentID
		}
		return a.TRCID < b.TRCID
	})
}

// SetDisplayNameOverride records a manual display name for the person.
// An empty value clears the override.
func (d PeopleDirectory) SetDisplayNameOverride(rawName, displayName string) bool {
	p, ok := d[NormalizeName(rawName)]
	if !ok {
		return false
	}
	p.DisplayNameOverride = displayName
	return true
}

// SetRoleOverride records a manual canonical role for the person.
// An empty value clears the override.
func (d PeopleDirectory) SetRoleOverride(rawName, role string) bool {
	p, ok := d[NormalizeName(rawName)]
	if !ok {
		return false
	}
	p.RoleOverride = role
	return true
}

// DeletePerson tombstones a person. The entry stays in the directory so
// later automatic re-discovery does not resurrect it.
func (d PeopleDirectory) DeletePerson(rawName string) bool {
	p, ok := d[NormalizeName(rawName)]
	if !ok {
		return false
	}
	p.Deleted = true
	p.DiscoveredRoles = nil
	p.DiscoveredKnowledge = nil
	return true
}

// RestorePerson clears a person's deletion tombstone so discovery can fill
// the entry again.
func (d PeopleDirectory) RestorePerson(rawName string) bool {
	p, ok := d[NormalizeName(rawName)]
	if !ok {
		return false
	}
	p.Deleted = false
	return true
}

// RemoveRole deletes one discovered role entry and tombstones it so the same
// (role, provenance) pair is not re-added by a future run.
func (d PeopleDirectory) RemoveRole(rawName, role, incidentID, trcID string) bool {
	p, ok := d[NormalizeName(rawName)]
	if !ok {
		return false
	}
	kept := p.DiscoveredRoles[:0]
	removed := false
	for _, e := range p.DiscoveredRoles {
		if e.Role == role && e.IncidentID == incidentID && e.TRCID == trcID {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	p.DiscoveredRoles = kept
	if removed {
		p.RemovedRoles = append(p.RemovedRoles, roleTombstone(role, incidentID, trcID))
		sort.Strings(p.RemovedRoles)
	}
	return removed
}

// RemoveKnowledge deletes one discovered knowledge entry and tombstones it.
func (d PeopleDirectory) RemoveKnowledge(rawName, knowledge, incidentID, trcID string) bool {
	p, ok := d[NormalizeName(rawName)]
	if !ok {
		return false
	}
	kept := p.DiscoveredKnowledge[:0]
	removed := false
	for _, e := range p.DiscoveredKnowledge {
		if e.Knowledge == knowledge && e.IncidentID == incidentID && e.TRCID == trcID {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	p.DiscoveredKnowledge = kept
	if removed {
		p.RemovedKnowledge = append(p.RemovedKnowledge, knowledgeTombstone(knowledge, incidentID, trcID))
		sort.Strings(p.RemovedKnowledge)
	}
	return removed
}

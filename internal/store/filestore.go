// Package store persists the incident and people aggregates plus the stage
// artifacts. Two document backends exist (JSON files, Postgres) behind the
// same runner-facing interface, and two artifact backends (filesystem, S3).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"trcflow/internal/safeio"
	"trcflow/internal/types"
)

const (
	incidentsDir    = "incidents"
	peopleDirectory = "people_directory.json"
)

// incidentCacheSize bounds the decoded-incident cache.
const incidentCacheSize = 128

// FileStore keeps the aggregates as indented JSON documents under the data
// directory: incidents/<id>.json and people_directory.json. Documents are
// encoded deterministically so repeated identical runs persist byte-identical
// files.
type FileStore struct {
	fs    *safeio.SafeFS
	mu    sync.Mutex
	cache *lru.Cache[string, *types.Incident]
}

// NewFileStore opens (and creates if needed) a file store rooted at dataDir.
func NewFileStore(dataDir string) (*FileStore, error) {
	fs, err := safeio.NewSafeFS(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open data dir: %w", err)
	}
	cache, err := lru.New[string, *types.Incident](incidentCacheSize)
	if err != nil {
		return nil, err
	}
	return &FileStore{fs: fs, cache: cache}, nil
}

func incidentPath(incidentID string) string {
	return path.Join(incidentsDir, incidentID+".json")
}

// LoadIncident returns the stored incident, or nil when none exists yet.
func (s *FileStore) LoadIncident(ctx context.Context, incidentID string) (*types.Incident, error) {
	incidentID = strings.TrimSpace(incidentID)
	if incidentID == "" {
		return nil, fmt.Errorf("incident id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if inc, ok := s.cache.Get(incidentID); ok {
		return inc.Clone(), nil
	}
	p := incidentPath(incidentID)
	if !s.fs.Exists(p) {
		return nil, nil
	}
	raw, err := s.fs.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read incident %s: %w", incidentID, err)
	}
	var inc types.Incident
	if err := json.Unmarshal(raw, &inc); err != nil {
		return nil, fmt.Errorf("decode incident %s: %w", incidentID, err)
	}
	s.cache.Add(incidentID, inc.Clone())
	return &inc, nil
}

// SaveIncident writes the incident document and refreshes the cache.
func (s *FileStore) SaveIncident(ctx context.Context, incident *types.Incident) error {
	if incident == nil || strings.TrimSpace(incident.IncidentID) == "" {
		return fmt.Errorf("incident id is required")
	}
	raw, err := json.MarshalIndent(incident, "", "  ")
	if err != nil {
		return fmt.Errorf("encode incident %s: %w", incident.IncidentID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.WriteFile(incidentPath(incident.IncidentID), raw); err != nil {
		return fmt.Errorf("write incident %s: %w", incident.IncidentID, err)
	}
	s.cache.Add(incident.IncidentID, incident.Clone())
	return nil
}

// LoadPeopleDirectory returns the stored directory, empty when none exists.
func (s *FileStore) LoadPeopleDirectory(ctx context.Context) (types.PeopleDirectory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fs.Exists(peopleDirectory) {
		return types.PeopleDirectory{}, nil
	}
	raw, err := s.fs.ReadFile(peopleDirectory)
	if err != nil {
		return nil, fmt.Errorf("read people directory: %w", err)
	}
	var dir types.PeopleDirectory
	if err := json.Unmarshal(raw, &dir); err != nil {
		return nil, fmt.Errorf("decode people directory: %w", err)
	}
	return dir, nil
}

// SavePeopleDirectory writes the people directory document.
func (s *FileStore) SavePeopleDirectory(ctx context.Context, dir types.PeopleDirectory) error {
	raw, err := json.MarshalIndent(dir, "", "  ")
	if err != nil {
		return fmt.Errorf("encode people directory: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.WriteFile(peopleDirectory, raw); err != nil {
		return fmt.Errorf("write people directory: %w", err)
	}
	return nil
}

// ListIncidents returns the stored incident ids, sorted.
func (s *FileStore) ListIncidents(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.fs.ReadDir(incidentsDir)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

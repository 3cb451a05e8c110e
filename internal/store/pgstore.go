package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"trcflow/internal/types"
)

// PGStore keeps the aggregates as JSONB documents in Postgres. The document
// shape matches the file store exactly, so the two backends are
// interchangeable.
type PGStore struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

// NewPGStore connects to Postgres with the given DSN.
func NewPGStore(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PGStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PGStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PGStore) ensureSchema() error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS trc_incidents (
  incident_id TEXT PRIMARY KEY,
  doc JSONB NOT NULL,
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS trc_people (
  id TEXT PRIMARY KEY,
  doc JSONB NOT NULL,
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
`)
	})
	return s.schemaErr
}

// LoadIncident returns the stored incident, or nil when none exists yet.
func (s *PGStore) LoadIncident(ctx context.Context, incidentID string) (*types.Incident, error) {
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	incidentID = strings.TrimSpace(incidentID)
	if incidentID == "" {
		return nil, fmt.Errorf("incident id is required")
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM trc_incidents WHERE incident_id = $1`, incidentID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load incident %s: %w", incidentID, err)
	}
	var inc types.Incident
	if err := json.Unmarshal(raw, &inc); err != nil {
		return nil, fmt.Errorf("decode incident %s: %w", incidentID, err)
	}
	return &inc, nil
}

// SaveIncident upserts the incident document.
func (s *PGStore) SaveIncident(ctx context.Context, incident *types.Incident) error {
	if err := s.ensureSchema(); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if incident == nil || strings.TrimSpace(incident.IncidentID) == "" {
		return fmt.Errorf("incident id is required")
	}
	raw, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("encode incident %s: %w", incident.IncidentID, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO trc_incidents (incident_id, doc, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (incident_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		incident.IncidentID, raw)
	if err != nil {
		return fmt.Errorf("save incident %s: %w", incident.IncidentID, err)
	}
	return nil
}

const peopleDocID = "people_directory"

// LoadPeopleDirectory returns the stored directory, empty when none exists.
func (s *PGStore) LoadPeopleDirectory(ctx context.Context) (types.PeopleDirectory, error) {
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM trc_people WHERE id = $1`, peopleDocID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PeopleDirectory{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load people directory: %w", err)
	}
	var dir types.PeopleDirectory
	if err := json.Unmarshal(raw, &dir); err != nil {
		return nil, fmt.Errorf("decode people directory: %w", err)
	}
	return dir, nil
}

// SavePeopleDirectory upserts the people directory document.
func (s *PGStore) SavePeopleDirectory(ctx context.Context, dir types.PeopleDirectory) error {
	if err := s.ensureSchema(); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	raw, err := json.Marshal(dir)
	if err != nil {
		return fmt.Errorf("encode people directory: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO trc_people (id, doc, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		peopleDocID, raw)
	if err != nil {
		return fmt.Errorf("save people directory: %w", err)
	}
	return nil
}

// ListIncidents returns the stored incident ids, sorted.
func (s *PGStore) ListIncidents(ctx context.Context) ([]string, error) {
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT incident_id FROM trc_incidents ORDER BY incident_id`)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

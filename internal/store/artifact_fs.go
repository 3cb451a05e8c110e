package store

import (
	"context"
	"fmt"
	"path"
	"strings"

	"trcflow/internal/safeio"
)

const artifactsDir = "artifacts"

// FSArtifactStore writes stage artifacts under the data directory:
// artifacts/<incident>/<trc>/<name> for call artifacts and
// artifacts/<incident>/<name> for incident-level ones. The returned location
// is the path relative to the data dir, which is what gets recorded on the
// aggregates.
type FSArtifactStore struct {
	fs *safeio.SafeFS
}

// NewFSArtifactStore opens an artifact store rooted at dataDir.
func NewFSArtifactStore(dataDir string) (*FSArtifactStore, error) {
	fs, err := safeio.NewSafeFS(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open data dir: %w", err)
	}
	return &FSArtifactStore{fs: fs}, nil
}

func (s *FSArtifactStore) WriteCallArtifact(ctx context.Context, incidentID, trcID, name string, content []byte) (string, error) {
	if err := validateArtifactParts(incidentID, name); err != nil {
		return "", err
	}
	if strings.TrimSpace(trcID) == "" {
		return "", fmt.Errorf("trc id is required")
	}
	rel := path.Join(artifactsDir, incidentID, trcID, name)
	if err := s.fs.WriteFile(rel, content); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", rel, err)
	}
	return rel, nil
}

func (s *FSArtifactStore) WriteIncidentArtifact(ctx context.Context, incidentID, name string, content []byte) (string, error) {
	if err := validateArtifactParts(incidentID, name); err != nil {
		return "", err
	}
	rel := path.Join(artifactsDir, incidentID, name)
	if err := s.fs.WriteFile(rel, content); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", rel, err)
	}
	return rel, nil
}

func validateArtifactParts(incidentID, name string) error {
	if strings.TrimSpace(incidentID) == "" {
		return fmt.Errorf("incident id is required")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("artifact name is required")
	}
	return nil
}

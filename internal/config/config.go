// Package config loads the versioned run configuration: the stage table,
// storage backends and model settings. Values come from config.yaml with
// TRC_-prefixed environment overrides; a snapshot is taken once per run and
// never mutated afterwards.
package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPipelineOrder is the declared stage order used when the config file
// does not override it. Position in this list is the tie-break ordinal for
// the dependency resolver.
var DefaultPipelineOrder = []string{
	"vtt_cleanup",
	"transcription_parsing",
	"text_enhancement",
	"noise_reduction",
	"refinement",
	"people_extraction",
	"participant_analysis",
	"summarisation",
	"keyword_extraction",
	"master_summary",
}

// StageConfig is one stage's entry in the stage table.
type StageConfig struct {
	Enabled *bool          `koanf:"enabled"`
	Params  map[string]any `koanf:"params"`
}

// On reports the effective enablement; stages are on unless switched off.
func (s StageConfig) On() bool {
	return s.Enabled == nil || *s.Enabled
}

// LLMConfig configures the model client. An empty APIKey disables the model
// and every stage falls back to its deterministic path.
type LLMConfig struct {
	APIKey string `koanf:"api_key"`
	Model  string `koanf:"model"`
}

// StorageConfig selects the document backend. An empty DSN means JSON files
// under DataDir.
type StorageConfig struct {
	PostgresDSN string `koanf:"postgres_dsn"`
}

// S3Settings configures the object-storage artifact backend; an empty
// endpoint keeps artifacts on the filesystem.
type S3Settings struct {
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	UseSSL    bool   `koanf:"use_ssl"`
}

// Snapshot is one immutable view of the configuration. Version identifies
// the content so runs can record which configuration produced them.
type Snapshot struct {
	DataDir       string                 `koanf:"data_dir"`
	Concurrency   int                    `koanf:"concurrency"`
	PipelineOrder []string               `koanf:"pipeline_order"`
	Stages        map[string]StageConfig `koanf:"stages"`
	LLM           LLMConfig              `koanf:"llm"`
	Storage       StorageConfig          `koanf:"storage"`
	S3            S3Settings             `koanf:"s3"`

	Version  string    `koanf:"-"`
	LoadedAt time.Time `koanf:"-"`
}

// Load reads the snapshot from the given YAML file (missing file is fine)
// and applies TRC_ environment overrides on top. A double underscore
// separates nesting levels so single underscores survive inside key names:
// TRC_LLM__API_KEY overrides llm.api_key, TRC_DATA_DIR overrides data_dir.
func Load(path string) (*Snapshot, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load config %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("TRC_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "TRC_")), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	var snap Snapshot
	if err := k.Unmarshal("", &snap); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if snap.DataDir == "" {
		snap.DataDir = "data"
	}
	if snap.Concurrency <= 0 {
		snap.Concurrency = 4
	}
	if len(snap.PipelineOrder) == 0 {
		snap.PipelineOrder = append([]string(nil), DefaultPipelineOrder...)
	}
	if snap.Stages == nil {
		snap.Stages = map[string]StageConfig{}
	}
	if snap.LLM.APIKey == "" {
		// GEMINI_API_KEY is the conventional variable for the Gemini SDK.
		snap.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	snap.Version = fingerprint(snap)
	snap.LoadedAt = time.Now().UTC()
	return &snap, nil
}

// fingerprint identifies the snapshot content. Two identical configurations
// always carry the same version.
func fingerprint(snap Snapshot) string {
	b, _ := json.Marshal(struct {
		DataDir       string
		Concurrency   int
		PipelineOrder []string
		Stages        map[string]StageConfig
		Model         string
		PostgresDSN   string
		S3Endpoint    string
	}{
		snap.DataDir, snap.Concurrency, snap.PipelineOrder, snap.Stages,
		snap.LLM.Model, snap.Storage.PostgresDSN, snap.S3.Endpoint,
	})
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum[:])[:16]
}

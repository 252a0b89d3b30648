package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mimir-aip/prognosis-go/pkg/models"
)

// LoadStudyFile reads and validates a YAML study configuration. Relative
// data_path and workspace entries are resolved against the file's directory.
func LoadStudyFile(path string) (*models.StudyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read study file: %w", err)
	}
	cfg, err := ParseStudy(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if cfg.DataPath != "" && !filepath.IsAbs(cfg.DataPath) {
		cfg.DataPath = filepath.Join(dir, cfg.DataPath)
	}
	if cfg.Workspace != "" && !filepath.IsAbs(cfg.Workspace) {
		cfg.Workspace = filepath.Join(dir, cfg.Workspace)
	}
	return cfg, nil
}

// ParseStudy decodes a YAML study configuration. Unknown keys are rejected.
func ParseStudy(r io.Reader) (*models.StudyConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg models.StudyConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse study config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

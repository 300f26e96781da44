package tools

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"oats/internal/logging"
)

// Manifest is the on-disk description of an external tool, one tool.yaml per
// directory under the discovery root.
type Manifest struct {
	Name           string         `yaml:"name"`
	Version        string         `yaml:"version"`
	Description    string         `yaml:"description"`
	Command        []string       `yaml:"command"`
	TimeoutSeconds int            `yaml:"timeout_seconds"`
	InputSchema    map[string]any `yaml:"input_schema"`
	Tags           []string       `yaml:"tags"`
}

// Validate reports manifest problems before registration.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest missing name")
	}
	if m.Version == "" {
		return fmt.Errorf("manifest %s missing version", m.Name)
	}
	if len(m.Command) == 0 {
		return fmt.Errorf("manifest %s missing command", m.Name)
	}
	return nil
}

// Discover walks root for tool.yaml manifests and registers each valid one.
// A manifest that fails to parse or validate is logged and skipped; partial
// failure never aborts discovery. Returns the number of registered tools.
func Discover(root string, registry *Registry, logger logging.Logger) (int, error) {
	logger = logging.OrNop(logger)

	if _, err := os.Stat(root); os.IsNotExist(err) {
		logger.Debug("tool discovery root %s does not exist, skipping", root)
		return 0, nil
	}

	registered := 0
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("tool discovery: cannot access %s: %v", path, err)
			return nil
		}
		if d.IsDir() || d.Name() != "tool.yaml" {
			return nil
		}

		manifest, err := loadManifest(path)
		if err != nil {
			logger.Warn("tool discovery: skipping %s: %v", path, err)
			return nil
		}

		def := Definition{
			Name:        manifest.Name,
			Version:     manifest.Version,
			Description: manifest.Description,
			InputSchema: manifest.InputSchema,
			Tags:        manifest.Tags,
		}
		if manifest.TimeoutSeconds > 0 {
			def.Timeout = time.Duration(manifest.TimeoutSeconds) * time.Second
		}

		tool, err := NewCommandTool(def, manifest.Command)
		if err != nil {
			logger.Warn("tool discovery: skipping %s: %v", path, err)
			return nil
		}
		if err := registry.Register(tool); err != nil {
			if errors.Is(err, ErrDuplicateTool) {
				logger.Warn("tool discovery: %s already registered, keeping the first", def.Key())
			} else {
				logger.Warn("tool discovery: skipping %s: %v", path, err)
			}
			return nil
		}

		logger.Info("registered tool %s from %s", def.Key(), path)
		registered++
		return nil
	})
	if walkErr != nil {
		return registered, fmt.Errorf("walk %s: %w", root, walkErr)
	}
	return registered, nil
}

func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

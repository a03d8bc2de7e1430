package loader

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/curvestream/indexer/internal/modules/core"
)

//go:embed launchpad.yaml
var defaultManifest []byte

// ManifestLoader handles loading and parsing launchpad manifests
type ManifestLoader struct {
	logger zerolog.Logger
}

// NewManifestLoader creates a new manifest loader
func NewManifestLoader(logger zerolog.Logger) *ManifestLoader {
	return &ManifestLoader{
		logger: logger.With().Str("component", "manifest_loader").Logger(),
	}
}

// Load reads the manifest at path, or the embedded default when path is
// empty, and resolves its selectors.
func (l *ManifestLoader) Load(path string) (*core.Resolved, error) {
	var (
		manifest *core.Manifest
		err      error
	)
	if path == "" {
		manifest, err = l.ParseManifest(defaultManifest)
	} else {
		manifest, err = l.LoadFromFile(path)
	}
	if err != nil {
		return nil, err
	}

	resolved, err := manifest.Resolve()
	if err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	l.logger.Info().
		Str("name", manifest.Name).
		Str("version", manifest.Version).
		Str("buy_and_lock", resolved.BuyAndLock.String()).
		Str("claim", resolved.Claim.String()).
		Str("unlock", resolved.Unlock.String()).
		Str("graduated_topic", resolved.GraduatedTopic().Hex()).
		Msg("Loaded launchpad manifest")

	return resolved, nil
}

// Default resolves the embedded manifest.
func Default() (*core.Resolved, error) {
	return NewManifestLoader(zerolog.Nop()).Load("")
}

// LoadFromFile loads a single manifest from a file
func (l *ManifestLoader) LoadFromFile(path string) (*core.Manifest, error) {
	l.logger.Debug().Str("path", path).Msg("Loading manifest from file")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file %s: %w", path, err)
	}

	return l.ParseManifest(data)
}

// ParseManifest parses a YAML manifest from bytes
func (l *ManifestLoader) ParseManifest(data []byte) (*core.Manifest, error) {
	var manifest core.Manifest

	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse YAML manifest: %w", err)
	}

	if err := manifest.ValidateManifest(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	return &manifest, nil
}

package units

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest name expected at the bundle root.
const ManifestFile = "manifest.yaml"

var errManifestMissingID = errors.New("manifest entry missing id")

// Manifest lists the units a bundle ships.
type Manifest struct {
	Units []ManifestEntry `yaml:"units"`
}

// ManifestEntry describes one unit.
type ManifestEntry struct {
	ID     string            `yaml:"id"`
	Kind   string            `yaml:"kind"`
	Runs   int               `yaml:"runs"`
	Params map[string]string `yaml:"params"`
}

// Loader resolves unit identifiers against an extracted bundle.
type Loader interface {
	Load(dir string, ids []string) ([]Unit, error)
}

type loader struct {
	log      logrus.FieldLogger
	registry *Registry
}

// NewLoader creates a loader resolving kinds through registry.
func NewLoader(log logrus.FieldLogger, registry *Registry) Loader {
	return &loader{
		log:      log.WithField("component", "unit_loader"),
		registry: registry,
	}
}

// ReadManifest reads the manifest at the root of dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	for i, e := range m.Units {
		if e.ID == "" {
			return nil, fmt.Errorf("%w at position %d", errManifestMissingID, i)
		}
	}

	return &m, nil
}

func (l *loader) Load(dir string, ids []string) ([]Unit, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]ManifestEntry, len(manifest.Units))
	for _, e := range manifest.Units {
		entries[e.ID] = e
	}

	loaded := make([]Unit, 0, len(ids))

	for _, id := range ids {
		entry, ok := entries[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s is not in the manifest", ErrUnitNotFound, id)
		}

		factory, ok := l.registry.Factory(entry.Kind)
		if !ok {
			return nil, fmt.Errorf("%w: %s has unknown kind %q", ErrUnitNotFound, id, entry.Kind)
		}

		unit, err := factory(entry)
		if err != nil {
			return nil, fmt.Errorf("building unit %s: %w", id, err)
		}

		loaded = append(loaded, unit)
	}

	l.log.WithFields(logrus.Fields{
		"dir":   dir,
		"units": len(loaded),
	}).Info("loaded remote test units")

	return loaded, nil
}

var _ Loader = (*loader)(nil)

package testdef

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DispatchFile is the on-disk form a coordinator run is described with: the
// shared configuration and the test set handed to a node.
type DispatchFile struct {
	Config  SharedConfig `yaml:"config"`
	TestSet TestSet      `yaml:"tests"`
}

// Loader loads dispatch files.
type Loader interface {
	Load(path string) (*DispatchFile, error)
}

type loader struct {
	log logrus.FieldLogger
}

// NewLoader creates a new dispatch file loader.
func NewLoader(log logrus.FieldLogger) Loader {
	return &loader{
		log: log.WithField("component", "testdef_loader"),
	}
}

// Load reads, parses and validates a dispatch file.
func (l *loader) Load(path string) (*DispatchFile, error) {
	l.log.WithField("path", path).Debug("loading dispatch file")

	data, err := os.ReadFile(path) //nolint:gosec // G304: operator supplied path
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	var file DispatchFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	if err := file.Config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if err := file.TestSet.Validate(); err != nil {
		return nil, fmt.Errorf("validating tests: %w", err)
	}

	if len(file.TestSet.TestCases) == 0 {
		l.log.WithField("suite", file.TestSet.SuiteName).Warn("no test cases defined for suite")
	}

	return &file, nil
}

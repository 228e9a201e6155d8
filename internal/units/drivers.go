package units

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethpandaops/gatf-node/internal/testdef"
)

// ErrDriverMissing is returned when a declared driver binary cannot be found.
var ErrDriverMissing = errors.New("driver binary not found")

// ResolveDrivers finds every configured driver, first at its declared path
// and then by file name in workDir. It returns the driver name to path map
// units receive in their Environment.
func ResolveDrivers(configs []testdef.DriverConfig, workDir string) (map[string]string, error) {
	resolved := make(map[string]string, len(configs))

	for _, c := range configs {
		if exists(c.Path) {
			resolved[c.Name] = c.Path
			continue
		}

		candidate := filepath.Join(workDir, filepath.Base(c.Path))
		if !exists(candidate) {
			return nil, fmt.Errorf("%w: %s (%s)", ErrDriverMissing, c.Name, c.Path)
		}

		abs, err := filepath.Abs(candidate)
		if err != nil {
			return nil, err
		}

		resolved[c.Name] = abs
	}

	return resolved, nil
}

func exists(path string) bool {
	if path == "" {
		return false
	}

	_, err := os.Stat(path)

	return err == nil
}

package session

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EngineDefaults is the optional, human-edited boardsim.yaml file at a
// workspace's root (spec §6 AMBIENT STACK): default analog sample rate,
// default integrator, and default snapshot retention count. Grounded on
// getployz-ployz/config/config.go's kubeconfig-style YAML loader — a
// missing file is not an error, it just means every session uses the
// engine's built-in defaults (analognode.DefaultSampleRate, RK4, keep
// every snapshot).
type EngineDefaults struct {
	SampleRateHz      float64 `yaml:"sample_rate_hz,omitempty"`
	Integrator        string  `yaml:"integrator,omitempty"` // "rk4" (default) or "euler"
	SnapshotRetention int     `yaml:"snapshot_retention,omitempty"`
}

const engineDefaultsFileName = "boardsim.yaml"

// LoadEngineDefaults reads root/boardsim.yaml. A missing file yields the
// zero-value EngineDefaults, not an error.
func LoadEngineDefaults(root string) (EngineDefaults, error) {
	data, err := os.ReadFile(filepath.Join(root, engineDefaultsFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return EngineDefaults{}, nil
		}
		return EngineDefaults{}, fmt.Errorf("read %s: %w", engineDefaultsFileName, err)
	}
	var d EngineDefaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return EngineDefaults{}, fmt.Errorf("parse %s: %w", engineDefaultsFileName, err)
	}
	if d.Integrator != "" && d.Integrator != "rk4" && d.Integrator != "euler" {
		return EngineDefaults{}, fmt.Errorf("%s: integrator must be \"rk4\" or \"euler\", got %q", engineDefaultsFileName, d.Integrator)
	}
	return d, nil
}

// LoadEngineDefaults reads this store's boardsim.yaml, if any.
func (s *Store) LoadEngineDefaults() (EngineDefaults, error) {
	return LoadEngineDefaults(s.Root)
}

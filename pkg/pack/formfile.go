// Package pack implements the pack manager: it parses Formfile build specs,
// drives a build through a small state machine, reports progress as a CRDT
// Operation, and packs the resulting artifact directory into a tarball.
package pack

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/fabric/pkg/types"
)

// ParseFormfile parses raw YAML into a Formfile and fills in the documented
// defaults (1 vCPU, 512MiB, 5GiB disk, no GPU).
func ParseFormfile(raw []byte) (types.Formfile, error) {
	var f types.Formfile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("pack: parse formfile: %w", err)
	}
	if f.Name == "" {
		return f, fmt.Errorf("pack: formfile missing name")
	}
	if f.From == "" {
		return f, fmt.Errorf("pack: formfile missing from")
	}
	applyDefaults(&f)
	return f, nil
}

func applyDefaults(f *types.Formfile) {
	defaults := types.DefaultResources()
	if f.Resources.VCPUs == 0 {
		f.Resources.VCPUs = defaults.VCPUs
	}
	if f.Resources.MemoryMB == 0 {
		f.Resources.MemoryMB = defaults.MemoryMB
	}
	if f.Resources.DiskGB == 0 {
		f.Resources.DiskGB = defaults.DiskGB
	}
	if f.Env == nil {
		f.Env = map[string]string{}
	}
}

// Package population draws axon diameters from fitted statistical profiles.
package population

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var profilesYAML []byte

var ErrUnknownProfile = errors.New("unknown statistical profile")

// Profile is a diameter histogram: bin centers in µm and probability densities.
type Profile struct {
	Name       string    `yaml:"name"`
	Myelinated bool      `yaml:"myelinated"`
	Source     string    `yaml:"source"`
	Bins       []float64 `yaml:"bins"`
	Density    []float64 `yaml:"density"`
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadProfiles parses a profile document and indexes it by name.
func LoadProfiles(data []byte) (map[string]Profile, error) {
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	out := make(map[string]Profile, len(file.Profiles))
	for _, p := range file.Profiles {
		if p.Name == "" {
			return nil, errors.New("profile without a name")
		}
		if len(p.Bins) == 0 || len(p.Bins) != len(p.Density) {
			return nil, fmt.Errorf("profile %s: %d bins for %d densities", p.Name, len(p.Bins), len(p.Density))
		}
		if _, dup := out[p.Name]; dup {
			return nil, fmt.Errorf("duplicate profile %s", p.Name)
		}
		out[p.Name] = p
	}
	return out, nil
}

// BundledProfiles returns the profiles shipped with the binary.
func BundledProfiles() map[string]Profile {
	profiles, err := LoadProfiles(profilesYAML)
	if err != nil {
		panic(fmt.Sprintf("bundled profiles: %v", err))
	}
	return profiles
}

// ProfileNames lists profile names, optionally filtered by fiber type, sorted.
func ProfileNames(profiles map[string]Profile, myelinated *bool) []string {
	names := make([]string, 0, len(profiles))
	for name, p := range profiles {
		if myelinated != nil && p.Myelinated != *myelinated {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Mean is the density-weighted mean bin center.
func (p Profile) Mean() float64 {
	var sum, weight float64
	for i, x := range p.Bins {
		sum += x * p.Density[i]
		weight += p.Density[i]
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}

func (p Profile) variance() float64 {
	mean := p.Mean()
	var sum, weight float64
	for i, x := range p.Bins {
		sum += (x - mean) * (x - mean) * p.Density[i]
		weight += p.Density[i]
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}

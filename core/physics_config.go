package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// physicsPresetFile is the on-disk shape of a physics override/extension
// file: YAML-driven preset configuration an operator can layer on top of
// the built-in presets without a rebuild.
type physicsPresetFile struct {
	Presets map[string]struct {
		Conservation     Conservation `yaml:"conservation"`
		Permeability     Permeability `yaml:"permeability"`
		AllowedItemTypes []string     `yaml:"allowedItemTypes"`
	} `yaml:"presets"`
}

// LoadPhysicsPresets merges a YAML file's presets into PhysicsPresets,
// letting an operator add container types (or tighten an existing preset's
// AllowedItemTypes) without a code change. A missing file is not an error —
// the built-in presets stand alone by default.
func LoadPhysicsPresets(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read physics presets %s: %w", path, err)
	}
	var doc physicsPresetFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse physics presets %s: %w", path, err)
	}
	for name, p := range doc.Presets {
		PhysicsPresets[ContainerType(name)] = Physics{
			Conservation:     p.Conservation,
			Permeability:     p.Permeability,
			AllowedItemTypes: p.AllowedItemTypes,
		}
	}
	return nil
}

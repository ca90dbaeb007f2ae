package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPhysicsFor_PresetsMatchContainerTypes(t *testing.T) {
	cases := []struct {
		cType        ContainerType
		conservation Conservation
		permeability Permeability
	}{
		{ContainerTypeWallet, ConservationStrict, PermeabilitySealed},
		{ContainerTypeWorkspace, ConservationVersioned, PermeabilityGated},
		{ContainerTypeRealm, ConservationStrict, PermeabilityOpen},
		{ContainerTypeInventory, ConservationStrict, PermeabilityGated},
		{ContainerTypeNetwork, ConservationFree, PermeabilityOpen},
	}
	for _, tc := range cases {
		p := PhysicsFor(tc.cType, "agreement-1")
		if p.Conservation != tc.conservation || p.Permeability != tc.permeability {
			t.Fatalf("%s physics = %s/%s, want %s/%s", tc.cType, p.Conservation, p.Permeability, tc.conservation, tc.permeability)
		}
		if p.Governance != "agreement-1" {
			t.Fatalf("%s governance = %q", tc.cType, p.Governance)
		}
	}
}

func TestPhysicsFor_UnknownTypeFallsBackToNetwork(t *testing.T) {
	p := PhysicsFor("Vault", "")
	if p.Conservation != ConservationFree || p.Permeability != PermeabilityOpen {
		t.Fatalf("unknown type physics = %+v, want Network defaults", p)
	}
}

func TestLoadPhysicsPresets_MergesYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "physics.yaml")
	doc := `presets:
  Vault:
    conservation: Strict
    permeability: Sealed
    allowedItemTypes: [credits]
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	t.Cleanup(func() { delete(PhysicsPresets, ContainerType("Vault")) })

	if err := LoadPhysicsPresets(path); err != nil {
		t.Fatalf("load presets: %v", err)
	}
	p, ok := PhysicsPresets[ContainerType("Vault")]
	if !ok {
		t.Fatal("Vault preset missing after load")
	}
	if p.Conservation != ConservationStrict || !p.accepts("credits") || p.accepts("gold") {
		t.Fatalf("Vault preset = %+v", p)
	}
}

func TestLoadPhysicsPresets_MissingFileIsNotAnError(t *testing.T) {
	if err := LoadPhysicsPresets(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing file: %v", err)
	}
}

package core

// Conservation controls how a transfer moves matter between containers.
type Conservation string

const (
	ConservationStrict    Conservation = "Strict"    // Move: withdraw then deposit
	ConservationVersioned Conservation = "Versioned" // Copy: source retains
	ConservationFree      Conservation = "Free"       // arbitrary; defaults to Move
)

// Permeability governs the deposit/withdraw authorization path.
type Permeability string

const (
	PermeabilitySealed Permeability = "Sealed"
	PermeabilityGated  Permeability = "Gated"
	PermeabilityOpen   Permeability = "Open"
)

// Physics is the declarative descriptor that parameterizes a container's
// behavior without branching the container manager's code paths — the
// fractal primitive.
type Physics struct {
	Conservation Conservation `json:"conservation" yaml:"conservation"`
	Permeability Permeability `json:"permeability" yaml:"permeability"`
	Governance   string       `json:"governance" yaml:"governance"` // agreement id
	// AllowedItemTypes restricts what a Sealed/Gated container will accept;
	// empty means "accept anything". This is what makes PhysicsViolation on
	// ingress concrete rather than purely structural.
	AllowedItemTypes []string `json:"allowedItemTypes,omitempty" yaml:"allowedItemTypes,omitempty"`
}

func (p Physics) accepts(itemType string) bool {
	if len(p.AllowedItemTypes) == 0 {
		return true
	}
	for _, t := range p.AllowedItemTypes {
		if t == itemType {
			return true
		}
	}
	return false
}

// ContainerType names the preset physics profiles.
type ContainerType string

const (
	ContainerTypeWallet    ContainerType = "Wallet"
	ContainerTypeWorkspace ContainerType = "Workspace"
	ContainerTypeRealm     ContainerType = "Realm"
	ContainerTypeInventory ContainerType = "Inventory"
	ContainerTypeNetwork   ContainerType = "Network"
)

// PhysicsPresets are the built-in physics profiles. A deployment may
// override/extend these via a YAML file (see LoadPhysicsPresets) without
// touching Go code — the same "physics as data, not code paths" idea the
// container manager itself embodies.
var PhysicsPresets = map[ContainerType]Physics{
	ContainerTypeWallet:    {Conservation: ConservationStrict, Permeability: PermeabilitySealed},
	ContainerTypeWorkspace: {Conservation: ConservationVersioned, Permeability: PermeabilityGated},
	ContainerTypeRealm:     {Conservation: ConservationStrict, Permeability: PermeabilityOpen},
	ContainerTypeInventory: {Conservation: ConservationStrict, Permeability: PermeabilityGated},
	ContainerTypeNetwork:   {Conservation: ConservationFree, Permeability: PermeabilityOpen},
}

// PhysicsFor resolves type to a preset, applying a governance agreement id
// override. Unknown types fall back to Network's permissive defaults
// rather than failing, since a deployment may register custom container
// types via the YAML preset file.
func PhysicsFor(t ContainerType, governanceAgreementID string) Physics {
	p, ok := PhysicsPresets[t]
	if !ok {
		p = PhysicsPresets[ContainerTypeNetwork]
	}
	p.Governance = governanceAgreementID
	return p
}

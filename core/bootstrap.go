package core

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Genesis ids are fixed rather than generated so re-running Bootstrap can
// recognize an already-initialized store without a lookup table.
const (
	GenesisAgreementID = "genesis-agreement"
	GenesisSystemID    = "genesis-system"
	PrimordialRealmID  = "primordial-realm"
)

// BootstrapResult reports the ids of the three genesis aggregates, whether
// they were just created or already existed.
type BootstrapResult struct {
	AgreementID      string
	SystemEntityID   string
	PrimordialRealmID string
	AlreadyBootstrapped bool
}

// Bootstrap ensures the store contains the genesis agreement, the system
// entity, and the self-referential primordial realm, in that order.
// Idempotent: re-running it against an already-bootstrapped store is a
// no-op that returns the existing ids.
func Bootstrap(ctx context.Context, store EventStore) (BootstrapResult, error) {
	existing, _, err := store.GetLatest(ctx, AggregateContainer, PrimordialRealmID)
	if err != nil {
		return BootstrapResult{}, err
	}
	if existing.AggregateID == PrimordialRealmID {
		log.StandardLogger().Info("bootstrap: primordial realm already present, skipping")
		return BootstrapResult{
			AgreementID:         GenesisAgreementID,
			SystemEntityID:      GenesisSystemID,
			PrimordialRealmID:   PrimordialRealmID,
			AlreadyBootstrapped: true,
		}, nil
	}

	systemActor := SystemActor("bootstrap")

	if _, err := store.Append(ctx, EventInput{
		Type:          "AgreementProposed",
		AggregateType: AggregateAgreement,
		AggregateID:   GenesisAgreementID,
		Payload: AgreementProposedPayload{
			AgreementID: GenesisAgreementID,
			Title:       "Genesis governance agreement",
			Terms:       "constitutional agreement backing the primordial realm",
		},
		Actor: systemActor,
	}); err != nil {
		return BootstrapResult{}, fmt.Errorf("bootstrap genesis agreement: %w", err)
	}

	if _, err := store.Append(ctx, EventInput{
		Type:          "AgreementStatusChanged",
		AggregateType: AggregateAgreement,
		AggregateID:   GenesisAgreementID,
		Payload:       AgreementStatusChangedPayload{AgreementID: GenesisAgreementID, Status: "Active"},
		Actor:         systemActor,
	}); err != nil {
		return BootstrapResult{}, fmt.Errorf("bootstrap activate genesis agreement: %w", err)
	}

	if _, err := store.Append(ctx, EventInput{
		Type:          "EntityCreated",
		AggregateType: AggregateParty,
		AggregateID:   GenesisSystemID,
		Payload:       EntityCreatedPayload{Name: "system", Kind: "System"},
		Actor:         systemActor,
	}); err != nil {
		return BootstrapResult{}, fmt.Errorf("bootstrap system entity: %w", err)
	}

	if _, err := store.Append(ctx, EventInput{
		Type:          "ContainerCreated",
		AggregateType: AggregateContainer,
		AggregateID:   PrimordialRealmID,
		Payload: ContainerCreatedPayload{
			Name:                  "primordial realm",
			ContainerType:         string(ContainerTypeRealm),
			Physics:               PhysicsFor(ContainerTypeRealm, GenesisAgreementID),
			GovernanceAgreementID: GenesisAgreementID,
			RealmID:               PrimordialRealmID, // self-referential by id, not by owning pointer
			OwnerID:               EntityID(GenesisSystemID),
		},
		Actor: systemActor,
	}); err != nil {
		return BootstrapResult{}, fmt.Errorf("bootstrap primordial realm: %w", err)
	}

	log.StandardLogger().Info("bootstrap: genesis events appended")
	return BootstrapResult{
		AgreementID:       GenesisAgreementID,
		SystemEntityID:    GenesisSystemID,
		PrimordialRealmID: PrimordialRealmID,
	}, nil
}

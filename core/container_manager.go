package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ContainerManager is the single fractal primitive service: one service
// handling wallets, workspaces, realms, inventories and networks,
// differentiated by Physics rather than by code path. Generalizes a
// module-account idiom (one escrow account per contract) from one fixed
// account to an arbitrary number of containers.
type ContainerManager struct {
	store   EventStore
	breaker *CircuitBreaker
	logger  *log.Logger
}

// NewContainerManager wires a manager against the given store and breaker.
// breaker may be nil in tests that don't exercise guarded operations.
func NewContainerManager(store EventStore, breaker *CircuitBreaker) *ContainerManager {
	return &ContainerManager{store: store, breaker: breaker, logger: log.StandardLogger()}
}

func (m *ContainerManager) SetLogger(l *log.Logger) { m.logger = l }

// Create emits the governance + activation + creation events.
func (m *ContainerManager) Create(ctx context.Context, name string, cType ContainerType, physics Physics, owner EntityID, realmID string, parent string, actor ActorRef) (string, error) {
	containerID := uuid.NewString()
	agreementID := uuid.NewString()
	corr := uuid.NewString()

	if _, err := m.store.Append(ctx, EventInput{
		Type:          "AgreementProposed",
		AggregateType: AggregateAgreement,
		AggregateID:   agreementID,
		Payload: AgreementProposedPayload{
			AgreementID: agreementID,
			Title:       fmt.Sprintf("governance for container %s", name),
			Terms:       fmt.Sprintf("physics=%+v", physics),
		},
		Actor:     actor,
		Causation: Causation{CorrelationID: corr},
	}); err != nil {
		return "", err
	}

	if _, err := m.store.Append(ctx, EventInput{
		Type:          "AgreementStatusChanged",
		AggregateType: AggregateAgreement,
		AggregateID:   agreementID,
		Payload:       AgreementStatusChangedPayload{AgreementID: agreementID, Status: "Active"},
		Actor:         actor,
		Causation:     Causation{CorrelationID: corr},
	}); err != nil {
		return "", err
	}

	physics.Governance = agreementID
	if _, err := m.store.Append(ctx, EventInput{
		Type:          "ContainerCreated",
		AggregateType: AggregateContainer,
		AggregateID:   containerID,
		Payload: ContainerCreatedPayload{
			Name:                  name,
			ContainerType:         string(cType),
			Physics:               physics,
			GovernanceAgreementID: agreementID,
			RealmID:               realmID,
			OwnerID:               owner,
			ParentContainerID:     parent,
		},
		Actor:     actor,
		Causation: Causation{CorrelationID: corr},
	}); err != nil {
		return "", err
	}

	m.logger.WithFields(log.Fields{"containerId": containerID, "containerType": cType}).Info("container created")
	return containerID, nil
}

func (m *ContainerManager) guard() error {
	if m.breaker == nil {
		return nil
	}
	return m.breaker.Guard(OpClassTransfers)
}

// loadContainer rehydrates containerID and also returns the aggregate
// version an append should be pinned at, so the store's version-conflict
// check protects any decision made against the returned state: if another
// appender touches the container between this read and the pinned append,
// the append fails instead of acting on a stale snapshot.
func (m *ContainerManager) loadContainer(ctx context.Context, containerID string) (ContainerState, uint32, error) {
	s, n, err := Rehydrate(ctx, m.store, ContainerRehydrator, AggregateContainer, containerID)
	return s, uint32(n) + 1, err
}

// Deposit validates ingress against physics permeability/allowed item types
// and appends ContainerItemDeposited. The append is not version-pinned:
// deposits commute, so a concurrent append on the same container cannot
// invalidate the physics checks (which depend only on creation-time state).
func (m *ContainerManager) Deposit(ctx context.Context, containerID string, item ContainerItem, actor ActorRef, source SourceInfo) error {
	c, err := LoadContainer(ctx, m.store, containerID)
	if err != nil {
		return err
	}
	if !c.Exists {
		return fmt.Errorf("%w: container %s", ErrNotFound, containerID)
	}
	if c.Physics.Permeability == PermeabilitySealed && source.ContainerID == "" {
		return fmt.Errorf("%w: container %s is Sealed and rejects external deposits", ErrPhysicsViolation, containerID)
	}
	if !c.Physics.accepts(item.Type) {
		return fmt.Errorf("%w: container %s does not accept item type %q", ErrPhysicsViolation, containerID, item.Type)
	}
	_, err = m.store.Append(ctx, EventInput{
		Type:          "ContainerItemDeposited",
		AggregateType: AggregateContainer,
		AggregateID:   containerID,
		Payload:       ContainerItemDepositedPayload{ContainerID: containerID, Item: item, Source: source},
		Actor:         actor,
	})
	return err
}

// Withdraw validates item presence/quantity before appending
// ContainerItemWithdrawn. Fails before any state change when the requested
// quantity exceeds what's held. The append is pinned at the version the
// quantity check observed, so a concurrent withdrawal of the same item
// fails with a version conflict rather than letting a stale have >= need
// decision through.
func (m *ContainerManager) Withdraw(ctx context.Context, containerID string, itemID string, quantity *int64, actor ActorRef, dest SourceInfo, reason string) error {
	c, nextVer, err := m.loadContainer(ctx, containerID)
	if err != nil {
		return err
	}
	if !c.Exists {
		return fmt.Errorf("%w: container %s", ErrNotFound, containerID)
	}
	held, ok := c.Items[itemID]
	if !ok {
		return fmt.Errorf("%w: item %s not present in container %s", ErrNotFound, itemID, containerID)
	}
	if held.Quantity != nil && quantity != nil {
		if *quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
		}
		if *held.Quantity < *quantity {
			return fmt.Errorf("%w: container %s holds %d of %s, need %d", ErrInsufficientQuantity, containerID, *held.Quantity, itemID, *quantity)
		}
	}
	if c.Physics.Permeability == PermeabilitySealed && dest.ContainerID == "" {
		return fmt.Errorf("%w: container %s is Sealed and rejects external withdrawals", ErrPhysicsViolation, containerID)
	}
	_, err = m.store.Append(ctx, EventInput{
		Type:             "ContainerItemWithdrawn",
		AggregateType:    AggregateContainer,
		AggregateID:      containerID,
		AggregateVersion: nextVer,
		Payload:          ContainerItemWithdrawnPayload{ContainerID: containerID, ItemID: itemID, Quantity: quantity, Dest: dest, Reason: reason},
		Actor:            actor,
	})
	return err
}

// Transfer is the universal item-movement operation: the physics of the
// source container picks Move (Strict), Copy (Versioned), or Move-by-default
// (Free). Move withdraws from the source first and deposits second: the
// withdraw leg is pinned at the version the quantity check observed, so two
// competing transfers of the same item conflict at the source before either
// destination is credited.
func (m *ContainerManager) Transfer(ctx context.Context, from, to string, itemID string, quantity *int64, actor ActorRef, agreementID string) error {
	if err := m.guard(); err != nil {
		return err
	}

	src, srcNextVer, err := m.loadContainer(ctx, from)
	if err != nil {
		return err
	}
	if !src.Exists {
		return fmt.Errorf("%w: container %s", ErrNotFound, from)
	}
	held, ok := src.Items[itemID]
	if !ok {
		return fmt.Errorf("%w: item %s not present in container %s", ErrNotFound, itemID, from)
	}
	if held.Quantity != nil && quantity != nil && *held.Quantity < *quantity {
		return fmt.Errorf("%w: container %s holds %d of %s, need %d", ErrInsufficientQuantity, from, *held.Quantity, itemID, *quantity)
	}

	dst, _, err := m.loadContainer(ctx, to)
	if err != nil {
		return err
	}
	if !dst.Exists {
		return fmt.Errorf("%w: container %s", ErrNotFound, to)
	}
	if !dst.Physics.accepts(held.Type) {
		return fmt.Errorf("%w: container %s rejects item type %q", ErrPhysicsViolation, to, held.Type)
	}
	if dst.Physics.Permeability == PermeabilitySealed {
		return fmt.Errorf("%w: container %s is Sealed and rejects ingress", ErrPhysicsViolation, to)
	}

	destItem := held
	if held.Quantity != nil && quantity != nil {
		// Partial transfer of a fungible item: the destination leg carries
		// exactly the moved quantity, the withdraw leg debits the same.
		q := *quantity
		destItem.Quantity = &q
	}

	if src.Physics.Conservation == ConservationVersioned {
		// Copy semantics: source retains, destination gets a fresh id so
		// the two copies are never silently aliased.
		destItem.ID = derivedCopyID(itemID, to, src.Version)
		return m.depositLeg(ctx, to, destItem, actor, SourceInfo{ContainerID: from})
	}

	// Move: withdraw first. A concurrent competing withdrawal fails here
	// with a version conflict, and nothing has been credited yet.
	if _, err := m.store.Append(ctx, EventInput{
		Type:             "ContainerItemWithdrawn",
		AggregateType:    AggregateContainer,
		AggregateID:      from,
		AggregateVersion: srcNextVer,
		Payload:          ContainerItemWithdrawnPayload{ContainerID: from, ItemID: itemID, Quantity: quantity, Dest: SourceInfo{ContainerID: to}, Reason: "transfer"},
		Actor:            actor,
	}); err != nil {
		return err
	}

	if err := m.depositLeg(ctx, to, destItem, actor, SourceInfo{ContainerID: from}); err != nil {
		// The withdraw already landed and events are immutable, so undo it
		// with an opposing deposit back into the source.
		reversal := held
		if destItem.Quantity != nil {
			q := *destItem.Quantity
			reversal.Quantity = &q
		}
		if _, compErr := m.store.Append(ctx, EventInput{
			Type:          "ContainerItemDeposited",
			AggregateType: AggregateContainer,
			AggregateID:   from,
			Payload:       ContainerItemDepositedPayload{ContainerID: from, Item: reversal, Source: SourceInfo{ContainerID: from, Note: "transfer reversal"}},
			Actor:         actor,
		}); compErr != nil {
			m.logger.WithFields(log.Fields{"containerId": from, "itemId": itemID, "error": compErr}).
				Error("transfer reversal failed; source remains debited")
		}
		return err
	}
	return nil
}

// depositLeg appends the transfer's destination credit. Deposits commute,
// so the append is not version-pinned.
func (m *ContainerManager) depositLeg(ctx context.Context, to string, item ContainerItem, actor ActorRef, source SourceInfo) error {
	_, err := m.store.Append(ctx, EventInput{
		Type:          "ContainerItemDeposited",
		AggregateType: AggregateContainer,
		AggregateID:   to,
		Payload:       ContainerItemDepositedPayload{ContainerID: to, Item: item, Source: source},
		Actor:         actor,
	})
	return err
}

func derivedCopyID(sourceItemID, destContainerID string, seq uint32) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", sourceItemID, destContainerID, seq)))
	return hex.EncodeToString(h[:16])
}

package core

import "context"

// ContainerState is the folded aggregate state for a Container.
type ContainerState struct {
	Exists                bool
	Name                  string
	ContainerType         ContainerType
	Physics               Physics
	GovernanceAgreementID string
	RealmID               string
	OwnerID               EntityID
	ParentContainerID     string
	Items                 map[string]ContainerItem
	Version               uint32
}

func cloneItems(m map[string]ContainerItem) map[string]ContainerItem {
	out := make(map[string]ContainerItem, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ContainerRehydrator folds ContainerCreated/Deposited/Withdrawn events.
// Transfers update the items map atomically per container: because a
// transfer's withdraw and deposit legs are two separate events (each owned
// by its own container's aggregate subsequence), this fold only ever needs
// to apply one leg at a time to reach a consistent items map.
var ContainerRehydrator = Rehydrator[ContainerState]{
	InitialState: ContainerState{Items: map[string]ContainerItem{}},
	Apply: func(s ContainerState, e Event) ContainerState {
		switch p := e.Payload.(type) {
		case ContainerCreatedPayload:
			s.Exists = true
			s.Name = p.Name
			s.ContainerType = ContainerType(p.ContainerType)
			s.Physics = p.Physics
			s.GovernanceAgreementID = p.GovernanceAgreementID
			s.RealmID = p.RealmID
			s.OwnerID = p.OwnerID
			s.ParentContainerID = p.ParentContainerID
			if s.Items == nil {
				s.Items = map[string]ContainerItem{}
			}
			s.Version++

		case ContainerItemDepositedPayload:
			items := cloneItems(s.Items)
			if existing, ok := items[p.Item.ID]; ok && existing.Quantity != nil && p.Item.Quantity != nil {
				total := *existing.Quantity + *p.Item.Quantity
				existing.Quantity = &total
				items[p.Item.ID] = existing
			} else {
				items[p.Item.ID] = p.Item
			}
			s.Items = items
			s.Version++

		case ContainerItemWithdrawnPayload:
			items := cloneItems(s.Items)
			if existing, ok := items[p.ItemID]; ok {
				if existing.Quantity != nil && p.Quantity != nil {
					remaining := *existing.Quantity - *p.Quantity
					if remaining <= 0 {
						delete(items, p.ItemID)
					} else {
						existing.Quantity = &remaining
						items[p.ItemID] = existing
					}
				} else {
					delete(items, p.ItemID)
				}
			}
			s.Items = items
			s.Version++
		}
		return s
	},
}

// LoadContainer rehydrates the container aggregate for containerID.
func LoadContainer(ctx context.Context, store EventStore, containerID string) (ContainerState, error) {
	s, _, err := Rehydrate(ctx, store, ContainerRehydrator, AggregateContainer, containerID)
	return s, err
}

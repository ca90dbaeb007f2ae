package core

import (
	"context"
	"testing"
)

func TestBootstrap_AppendsGenesisEventsInOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	res, err := Bootstrap(ctx, store)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if res.AlreadyBootstrapped {
		t.Fatal("fresh store reported as already bootstrapped")
	}

	events, err := store.GetBySequence(ctx, 1, 0)
	if err != nil {
		t.Fatalf("read genesis events: %v", err)
	}
	wantTypes := []string{"AgreementProposed", "AgreementStatusChanged", "EntityCreated", "ContainerCreated"}
	if len(events) != len(wantTypes) {
		t.Fatalf("genesis events = %d, want %d", len(events), len(wantTypes))
	}
	for i, w := range wantTypes {
		if events[i].Type != w {
			t.Fatalf("genesis event %d = %s, want %s", i+1, events[i].Type, w)
		}
	}

	realm := events[3].Payload.(ContainerCreatedPayload)
	if realm.ContainerType != string(ContainerTypeRealm) {
		t.Fatalf("primordial container type = %s, want Realm", realm.ContainerType)
	}
	if realm.RealmID != PrimordialRealmID {
		t.Fatalf("primordial realm must be self-referential by id: realmId = %s", realm.RealmID)
	}
}

func TestBootstrap_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := Bootstrap(ctx, store)
	if err != nil {
		t.Fatalf("bootstrap 1: %v", err)
	}
	seqAfterFirst, _ := store.GetCurrentSequence(ctx)

	second, err := Bootstrap(ctx, store)
	if err != nil {
		t.Fatalf("bootstrap 2: %v", err)
	}
	if !second.AlreadyBootstrapped {
		t.Fatal("second bootstrap must report the store as already bootstrapped")
	}
	if second.PrimordialRealmID != first.PrimordialRealmID || second.AgreementID != first.AgreementID {
		t.Fatalf("second bootstrap returned different ids: %+v vs %+v", second, first)
	}
	seqAfterSecond, _ := store.GetCurrentSequence(ctx)
	if seqAfterSecond != seqAfterFirst {
		t.Fatalf("second bootstrap appended events: sequence %d -> %d", seqAfterFirst, seqAfterSecond)
	}
}

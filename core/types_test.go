package core

import "testing"

func TestCredits_SmallestUnitRoundTrip(t *testing.T) {
	cases := []float64{0, 1, 0.001, 99.9, 1000, 123.456}
	for _, ubl := range cases {
		if got := FromSmallest(ToSmallest(ubl)); got != ubl {
			t.Fatalf("fromSmallest(toSmallest(%v)) = %v", ubl, got)
		}
	}
}

func TestCredits_String(t *testing.T) {
	cases := []struct {
		in   Credits
		want string
	}{
		{0, "0.000 UBL"},
		{1, "0.001 UBL"},
		{UBL(1000), "1000.000 UBL"},
		{UBL(99.9), "99.900 UBL"},
		{-1500, "-1.500 UBL"},
	}
	for _, tc := range cases {
		if got := tc.in.String(); got != tc.want {
			t.Fatalf("%d.String() = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestActorRef_Validate(t *testing.T) {
	cases := []struct {
		name    string
		actor   ActorRef
		wantErr bool
	}{
		{"entity with id", EntityActor("alice"), false},
		{"entity missing id", ActorRef{Kind: ActorEntity}, true},
		{"system with id", SystemActor("treasury"), false},
		{"system missing id", ActorRef{Kind: ActorSystem}, true},
		{"anonymous", AnonymousActor(), false},
		{"unknown kind", ActorRef{Kind: "Robot"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.actor.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("validate(%+v) = %v, wantErr %v", tc.actor, err, tc.wantErr)
			}
		})
	}
}

func TestActorRef_String(t *testing.T) {
	if got := EntityActor("alice").String(); got != "Entity{alice}" {
		t.Fatalf("entity actor string = %q", got)
	}
	if got := SystemActor("treasury").String(); got != "System{treasury}" {
		t.Fatalf("system actor string = %q", got)
	}
	if got := AnonymousActor().String(); got != "Anonymous" {
		t.Fatalf("anonymous actor string = %q", got)
	}
}

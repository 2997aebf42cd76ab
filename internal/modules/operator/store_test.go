package operator

import (
	"context"
	"errors"
	"testing"

	"aeras/internal/store"
	"aeras/internal/types"
)

func TestRegisterResetsCounters(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory())

	o := &Operator{ID: "op_1", Name: "Karim", Status: Busy, TotalRides: 9, TotalPoints: 40}
	if err := s.Register(ctx, o); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, err := s.Get(ctx, "op_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != Available || got.TotalRides != 0 || got.TotalPoints != 0 {
		t.Fatalf("unexpected registered operator: %+v", got)
	}

	if err := s.Register(ctx, &Operator{ID: "op_1", Name: "Other"}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if err := s.Register(ctx, &Operator{Name: "No id"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestAvailableIDs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	s := NewStore(st)
	for _, id := range []types.ID{"op_1", "op_2", "op_3"} {
		if err := s.Register(ctx, &Operator{ID: id, Name: string(id)}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	if err := st.Update(ctx, store.NewUpdate().Set(FieldPath("op_2", "status"), Busy)); err != nil {
		t.Fatalf("mark busy: %v", err)
	}

	ids, err := s.AvailableIDs(ctx)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 available, got %v", ids)
	}
	if _, ok := ids["op_2"]; ok {
		t.Fatalf("busy operator listed as available")
	}

	list, _ := s.List(ctx)
	if len(list) != 3 || list[0].ID != "op_1" || list[2].ID != "op_3" {
		t.Fatalf("unexpected list order: %+v", list)
	}
}

func TestSetPositionRequiresOperator(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory())

	if err := s.SetPosition(ctx, "ghost", types.Point{Lat: 22.46, Lng: 91.97}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Register(ctx, &Operator{ID: "op_1", Name: "Karim"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	p := types.Point{Lat: 22.4625, Lng: 91.9706}
	if err := s.SetPosition(ctx, "op_1", p); err != nil {
		t.Fatalf("set position: %v", err)
	}
	got, _ := s.Get(ctx, "op_1")
	if got.Position() != p {
		t.Fatalf("position = %+v, want %+v", got.Position(), p)
	}
}

package request

import (
	"context"
	"errors"
	"testing"

	"aeras/internal/store"
	"aeras/internal/types"
)

func newRequest(id string, ts int64) *Request {
	return &Request{
		ID:           types.ID(id),
		UserID:       "user_1",
		PickupBlock:  "cuet_gate",
		DropoffBlock: "pahartoli",
		Timestamp:    ts,
		Status:       StatusPending,
		SignalState:  SignalWaiting,
	}
}

func TestCreateIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory())

	if err := s.Create(ctx, newRequest("req_1", 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.Create(ctx, newRequest("req_1", 2))
	if !errors.Is(err, store.ErrConditionFailed) {
		t.Fatalf("expected condition failure on duplicate id, got %v", err)
	}
	got, err := s.Get(ctx, "req_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Timestamp != 1 {
		t.Fatalf("duplicate create overwrote request: %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	s := NewStore(store.NewMemory())
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Get(context.Background(), ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty id, got %v", err)
	}
}

func TestCloseOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory())
	if err := s.Create(ctx, newRequest("req_1", 1)); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.Close(ctx, "req_1", ReasonTimeout); err != nil {
		t.Fatalf("close: %v", err)
	}
	got, _ := s.Get(ctx, "req_1")
	if got.Status != StatusRejected || got.SignalState != SignalRejected || got.RejectionReason != ReasonTimeout {
		t.Fatalf("unexpected closed request: %+v", got)
	}

	// A second close must not rewrite the reason.
	if err := s.Close(ctx, "req_1", ReasonAllRejected); !errors.Is(err, store.ErrConditionFailed) {
		t.Fatalf("expected condition failure, got %v", err)
	}
	got, _ = s.Get(ctx, "req_1")
	if got.RejectionReason != ReasonTimeout {
		t.Fatalf("reason overwritten: %q", got.RejectionReason)
	}
	if err := s.AddRejection(ctx, "req_1", "op_1"); !errors.Is(err, store.ErrConditionFailed) {
		t.Fatalf("rejection on closed request: %v", err)
	}
}

func TestAddRejectionAndRejecters(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory())
	if err := s.Create(ctx, newRequest("req_1", 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, op := range []types.ID{"op_2", "op_1", "op_2"} {
		if err := s.AddRejection(ctx, "req_1", op); err != nil {
			t.Fatalf("reject %s: %v", op, err)
		}
	}
	got, _ := s.Get(ctx, "req_1")
	ids := got.Rejecters()
	if len(ids) != 2 || ids[0] != "op_1" || ids[1] != "op_2" {
		t.Fatalf("unexpected rejecters: %v", ids)
	}
	if !got.RejectedByOperator("op_1") || got.RejectedByOperator("op_3") {
		t.Fatalf("membership mismatch: %v", got.RejectedBy)
	}
	if !got.IsPending() {
		t.Fatalf("rejections must not close the request")
	}
}

func TestListByStatusOrdersOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewMemory())
	for _, r := range []*Request{newRequest("req_b", 30), newRequest("req_a", 10), newRequest("req_c", 20)} {
		if err := s.Create(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := s.Close(ctx, "req_c", ReasonTimeout); err != nil {
		t.Fatalf("close: %v", err)
	}

	pending, err := s.ListByStatus(ctx, StatusPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "req_a" || pending[1].ID != "req_b" {
		t.Fatalf("unexpected pending list: %+v", pending)
	}
	all, _ := s.ListByStatus(ctx, "")
	if len(all) != 3 || all[1].ID != "req_c" {
		t.Fatalf("unexpected full list: %+v", all)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusAccepted, true},
		{StatusPending, StatusRejected, true},
		{StatusAccepted, StatusRejected, false},
		{StatusRejected, StatusPending, false},
		{StatusAccepted, StatusPending, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

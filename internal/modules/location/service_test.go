package location

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"aeras/internal/store"
	"aeras/internal/types"
)

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	svc := NewService(NewBlockStore(st), NewSharedSampleStore(st)).WithClock(time.Now, 5*time.Millisecond)
	return svc, st
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	blocks := svc.blocks

	if err := blocks.Put(ctx, Block{ID: "cuet_gate", Name: "CUET Gate", Coordinates: &types.Point{Lat: 22.4625, Lng: 91.9707}}); err != nil {
		t.Fatalf("put block: %v", err)
	}
	if err := blocks.Put(ctx, Block{ID: "no_coords", Name: "Unmapped"}); err != nil {
		t.Fatalf("put block: %v", err)
	}

	p, err := svc.Resolve(ctx, "cuet_gate")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Lat != 22.4625 || p.Lng != 91.9707 {
		t.Fatalf("unexpected coordinates: %+v", p)
	}

	for _, id := range []string{"no_coords", "missing", ""} {
		if _, err := svc.Resolve(ctx, id); !errors.Is(err, ErrUnknownLocation) {
			t.Fatalf("resolve %q: expected ErrUnknownLocation, got %v", id, err)
		}
	}
}

func TestCurrentPosition_ReturnsFreshFix(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	fix := types.Fix{Lat: 22.46, Lng: 91.97, Accuracy: 8}
	if err := svc.Report(ctx, "op1", fix); err != nil {
		t.Fatalf("report: %v", err)
	}
	got, err := svc.CurrentPosition(ctx, "op1", PositionRequest{Timeout: time.Second, MaxAge: time.Minute})
	if err != nil {
		t.Fatalf("current position: %v", err)
	}
	if got != fix {
		t.Fatalf("got %+v, want %+v", got, fix)
	}
}

func TestCurrentPosition_WaitsForNewSample(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = svc.Report(ctx, "op1", types.Fix{Lat: 1, Lng: 2, Accuracy: 5})
	}()

	got, err := svc.CurrentPosition(ctx, "op1", PositionRequest{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("current position: %v", err)
	}
	if got.Lat != 1 || got.Lng != 2 {
		t.Fatalf("unexpected fix: %+v", got)
	}
}

func TestCurrentPosition_Failures(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if _, err := svc.CurrentPosition(ctx, "nobody", PositionRequest{Timeout: 30 * time.Millisecond}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	if err := svc.Deny(ctx, "op2"); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if _, err := svc.CurrentPosition(ctx, "op2", PositionRequest{Timeout: time.Second, MaxAge: time.Minute}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	if err := svc.Report(ctx, "op3", types.Fix{Lat: 1, Lng: 1, Accuracy: 2500}); err != nil {
		t.Fatalf("report: %v", err)
	}
	req := PositionRequest{Timeout: 30 * time.Millisecond, MaxAge: time.Minute, HighAccuracy: true}
	if _, err := svc.CurrentPosition(ctx, "op3", req); !errors.Is(err, ErrTimeout) {
		t.Fatalf("coarse fix with high accuracy: expected ErrTimeout, got %v", err)
	}
	req.HighAccuracy = false
	if _, err := svc.CurrentPosition(ctx, "op3", req); err != nil {
		t.Fatalf("coarse fix without high accuracy: %v", err)
	}
}

func TestReport_RejectsInvalidFix(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.Report(context.Background(), "op1", types.Fix{Lat: 120, Lng: 0}); !errors.Is(err, ErrInvalidFix) {
		t.Fatalf("expected ErrInvalidFix, got %v", err)
	}
}

func TestRedisSampleStore(t *testing.T) {
	redisAddr := os.Getenv("AERAS_TEST_REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("AERAS_TEST_REDIS_ADDR not set; skipping integration test")
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	ctx := context.Background()
	samples := NewRedisSampleStore(rdb)
	id := types.ID(fmt.Sprintf("op_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		rdb.Del(ctx, sampleKey(id))
		rdb.ZRem(ctx, geoKey, string(id))
	})

	if _, err := samples.Latest(ctx, id); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable before first report, got %v", err)
	}

	want := Sample{OperatorID: id, Fix: types.Fix{Lat: 22.4625, Lng: 91.9707, Accuracy: 12.5}, RecordedAt: time.Now().UnixMilli()}
	if err := samples.Put(ctx, want); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := samples.Latest(ctx, id)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	pos, err := rdb.GeoPos(ctx, geoKey, string(id)).Result()
	if err != nil {
		t.Fatalf("failed to query redis geo: %v", err)
	}
	if len(pos) == 0 || pos[0] == nil {
		t.Fatalf("expected position in redis, got none")
	}
}

func TestCaptureFailed(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrPermissionDenied, true},
		{ErrTimeout, true},
		{fmt.Errorf("%w: redis down", ErrUnavailable), true},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{ErrInvalidFix, false},
	}
	for _, tt := range tests {
		if got := CaptureFailed(tt.err); got != tt.want {
			t.Errorf("CaptureFailed(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

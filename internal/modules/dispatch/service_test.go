package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"aeras/internal/modules/location"
	"aeras/internal/modules/operator"
	"aeras/internal/modules/request"
	"aeras/internal/modules/ride"
	"aeras/internal/store"
	"aeras/internal/types"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	st    *store.Memory
	svc   *Service
	clock *testClock
	ops   *operator.Store
}

func newFixture(t *testing.T, operatorIDs ...types.ID) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	blocks := location.NewBlockStore(st)
	for _, b := range []location.Block{
		{ID: "cuet_gate", Name: "CUET Gate", Coordinates: &types.Point{Lat: 22.4625, Lng: 91.9707}},
		{ID: "pahartoli", Name: "Pahartoli", Coordinates: &types.Point{Lat: 22.4690, Lng: 91.9790}},
		{ID: "unmapped", Name: "Unmapped"},
	} {
		if err := blocks.Put(ctx, b); err != nil {
			t.Fatalf("seed block: %v", err)
		}
	}
	ops := operator.NewStore(st)
	for _, id := range operatorIDs {
		if err := ops.Register(ctx, &operator.Operator{ID: id, Name: string(id)}); err != nil {
			t.Fatalf("seed operator: %v", err)
		}
	}
	clock := &testClock{t: time.UnixMilli(1_700_000_000_000)}
	resolver := location.NewService(blocks, location.NewSharedSampleStore(st))
	svc := NewService(st, resolver, Options{Now: clock.Now})
	return &fixture{st: st, svc: svc, clock: clock, ops: ops}
}

func (f *fixture) create(t *testing.T) *request.Request {
	t.Helper()
	r, err := f.svc.Create(context.Background(), CreateCommand{
		UserID:       "user_1",
		PickupBlock:  "cuet_gate",
		DropoffBlock: "pahartoli",
		Fare:         30,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return r
}

func (f *fixture) request(t *testing.T, id types.ID) *request.Request {
	t.Helper()
	r, err := f.svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	return r
}

func (f *fixture) operatorStatus(t *testing.T, id types.ID) operator.Availability {
	t.Helper()
	o, err := f.ops.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get operator: %v", err)
	}
	return o.Status
}

func (f *fixture) activeRides(t *testing.T) map[string]ride.ActiveRide {
	t.Helper()
	out := map[string]ride.ActiveRide{}
	if err := f.st.List(context.Background(), ride.ActiveCollection, &out); err != nil {
		t.Fatalf("list active rides: %v", err)
	}
	return out
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)

	if r.Status != request.StatusPending || r.SignalState != request.SignalIdle {
		t.Fatalf("unexpected initial state: %s/%s", r.Status, r.SignalState)
	}
	if r.Timestamp != f.clock.Now().UnixMilli() {
		t.Fatalf("timestamp = %d, want %d", r.Timestamp, f.clock.Now().UnixMilli())
	}
	if r.DistanceKm <= 0 || r.EstimatedPoints != 10 {
		t.Fatalf("unexpected estimates: %+v", r)
	}

	_, err := f.svc.Create(context.Background(), CreateCommand{UserID: "u", PickupBlock: "cuet_gate", DropoffBlock: "unmapped"})
	if !errors.Is(err, location.ErrUnknownLocation) {
		t.Fatalf("expected ErrUnknownLocation, got %v", err)
	}
	_, err = f.svc.Create(context.Background(), CreateCommand{UserID: "u", PickupBlock: "cuet_gate"})
	if !errors.Is(err, ErrBadCommand) {
		t.Fatalf("expected ErrBadCommand, got %v", err)
	}
}

type fixedDistance float64

func (d fixedDistance) DistanceMeters(ctx context.Context, from, to types.Point) (float64, error) {
	if d < 0 {
		return 0, errors.New("no route")
	}
	return float64(d), nil
}

func TestCreate_UsesRouteDistanceWithFallback(t *testing.T) {
	f := newFixture(t)
	f.svc.distance = fixedDistance(2345)
	r := f.create(t)
	if r.DistanceKm != 2.35 {
		t.Fatalf("distance_km = %v, want 2.35", r.DistanceKm)
	}

	f.svc.distance = fixedDistance(-1)
	r = f.create(t)
	want := roundKm(location.HaversineMeters(types.Point{Lat: 22.4625, Lng: 91.9707}, types.Point{Lat: 22.4690, Lng: 91.9790}))
	if r.DistanceKm != want {
		t.Fatalf("fallback distance_km = %v, want %v", r.DistanceKm, want)
	}
}

func TestConcurrentAcceptSameRequest(t *testing.T) {
	const attempts = 8
	ids := make([]types.ID, attempts)
	for i := range ids {
		ids[i] = types.ID(fmt.Sprintf("op_%d", i))
	}
	f := newFixture(t, ids...)
	r := f.create(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for _, id := range ids {
		wg.Add(1)
		go func(op types.ID) {
			defer wg.Done()
			_, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, OperatorID: op})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrAlreadyClaimed) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}

	rides := f.activeRides(t)
	if len(rides) != 1 {
		t.Fatalf("expected exactly 1 active ride, got %d", len(rides))
	}
	var winner types.ID
	for _, ar := range rides {
		winner = ar.OperatorID
		if ar.RequestID != r.ID || ar.Status != ride.StatusAccepted {
			t.Fatalf("unexpected ride: %+v", ar)
		}
	}

	got := f.request(t, r.ID)
	if got.Status != request.StatusAccepted || got.SignalState != request.SignalWaiting || got.AssignedOperator != winner {
		t.Fatalf("unexpected request after accept: %+v", got)
	}
	for _, id := range ids {
		want := operator.Available
		if id == winner {
			want = operator.Busy
		}
		if st := f.operatorStatus(t, id); st != want {
			t.Fatalf("operator %s status = %s, want %s", id, st, want)
		}
	}
}

func TestTwoOperatorsAcceptSimultaneously(t *testing.T) {
	f := newFixture(t, "op_a", "op_b")
	r := f.create(t)
	f.clock.Advance(10 * time.Millisecond)
	ctx := context.Background()

	type result struct {
		op  types.ID
		err error
	}
	results := make(chan result, 2)
	var wg sync.WaitGroup
	for _, op := range []types.ID{"op_a", "op_b"} {
		wg.Add(1)
		go func(op types.ID) {
			defer wg.Done()
			_, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, OperatorID: op})
			results <- result{op: op, err: err}
		}(op)
	}
	wg.Wait()
	close(results)

	var winner, loser types.ID
	for res := range results {
		switch {
		case res.err == nil:
			winner = res.op
		case errors.Is(res.err, ErrAlreadyClaimed):
			loser = res.op
		default:
			t.Fatalf("unexpected error for %s: %v", res.op, res.err)
		}
	}
	if winner == "" || loser == "" {
		t.Fatalf("expected one winner and one loser, got %q/%q", winner, loser)
	}
	if f.operatorStatus(t, winner) != operator.Busy || f.operatorStatus(t, loser) != operator.Available {
		t.Fatalf("unexpected availability: winner=%s loser=%s", f.operatorStatus(t, winner), f.operatorStatus(t, loser))
	}
	for _, ar := range f.activeRides(t) {
		if ar.OperatorID != winner {
			t.Fatalf("active ride belongs to %s, want %s", ar.OperatorID, winner)
		}
		if ar.RequestTime != r.Timestamp || ar.AcceptTime != r.Timestamp+10 {
			t.Fatalf("unexpected ride timestamps: %+v", ar)
		}
	}
}

func TestAccept_Errors(t *testing.T) {
	f := newFixture(t, "op_a", "op_b")
	ctx := context.Background()

	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: "req_missing", OperatorID: "op_a"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	bad := &request.Request{ID: "req_bad", UserID: "u", PickupBlock: "cuet_gate", Status: request.StatusPending, Timestamp: f.clock.Now().UnixMilli()}
	if err := request.NewStore(f.st).Create(ctx, bad); err != nil {
		t.Fatalf("seed bad request: %v", err)
	}
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: bad.ID, OperatorID: "op_a"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	r := f.create(t)
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, OperatorID: "op_nobody"}); !errors.Is(err, ErrUnknownOperator) {
		t.Fatalf("expected ErrUnknownOperator, got %v", err)
	}
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, OperatorID: "op_a"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, OperatorID: "op_b"}); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}

	r2 := f.create(t)
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r2.ID, OperatorID: "op_a"}); !errors.Is(err, ErrOperatorBusy) {
		t.Fatalf("expected ErrOperatorBusy, got %v", err)
	}
	if got := f.request(t, r2.ID); got.Status != request.StatusPending {
		t.Fatalf("busy operator changed request: %+v", got)
	}
}

func TestTimeoutMonitor_ClosesAtWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t)

	f.clock.Advance(59999 * time.Millisecond)
	if n, err := f.svc.SweepTimeouts(ctx); err != nil || n != 0 {
		t.Fatalf("sweep before window: n=%d err=%v", n, err)
	}
	if got := f.request(t, r.ID); got.Status != request.StatusPending {
		t.Fatalf("request closed before timeout: %+v", got)
	}

	f.clock.Advance(time.Millisecond)
	if n, err := f.svc.SweepTimeouts(ctx); err != nil || n != 1 {
		t.Fatalf("sweep at window: n=%d err=%v", n, err)
	}
	got := f.request(t, r.ID)
	if got.Status != request.StatusRejected || got.RejectionReason != request.ReasonTimeout || got.SignalState != request.SignalRejected {
		t.Fatalf("unexpected request after timeout: %+v", got)
	}

	if n, err := f.svc.SweepTimeouts(ctx); err != nil || n != 0 {
		t.Fatalf("second sweep should be a no-op: n=%d err=%v", n, err)
	}
}

func TestTimeout_NoOperatorsScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t)

	f.clock.Advance(60001 * time.Millisecond)
	if _, err := f.svc.SweepTimeouts(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	got := f.request(t, r.ID)
	if got.Status != request.StatusRejected || got.RejectionReason != request.ReasonTimeout {
		t.Fatalf("expected timeout rejection, got %+v", got)
	}
}

func TestTimeout_SkipsRequestWithoutTimestamp(t *testing.T) {
	f := newFixture(t, "op_a")
	ctx := context.Background()
	legacy := &request.Request{
		ID:           "req_nots",
		UserID:       "user_1",
		PickupBlock:  "cuet_gate",
		DropoffBlock: "pahartoli",
		Status:       request.StatusPending,
		SignalState:  request.SignalIdle,
	}
	if err := request.NewStore(f.st).Create(ctx, legacy); err != nil {
		t.Fatalf("seed request: %v", err)
	}

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Minute)
		if n, err := f.svc.SweepTimeouts(ctx); err != nil || n != 0 {
			t.Fatalf("sweep %d: n=%d err=%v", i, n, err)
		}
	}
	if got := f.request(t, legacy.ID); got.Status != request.StatusPending || got.RejectionReason != request.ReasonNone {
		t.Fatalf("request without timestamp was closed: %+v", got)
	}

	active, err := f.svc.Accept(ctx, AcceptCommand{RequestID: legacy.ID, OperatorID: "op_a"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if want := f.clock.Now().UnixMilli(); active.RequestTime != want {
		t.Fatalf("request time = %d, want accept time %d", active.RequestTime, want)
	}
}

func TestAccept_ClosedRequestIsRejectedNotClaimed(t *testing.T) {
	f := newFixture(t, "op_a")
	ctx := context.Background()
	r := f.create(t)
	f.clock.Advance(time.Minute)
	if n, err := f.svc.SweepTimeouts(ctx); err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, OperatorID: "op_a"}); !errors.Is(err, ErrAlreadyRejected) {
		t.Fatalf("expected ErrAlreadyRejected, got %v", err)
	}
	if got := f.operatorStatus(t, "op_a"); got != operator.Available {
		t.Fatalf("operator status = %s, want available", got)
	}
}

func TestTimeout_DoesNotTouchAcceptedRequest(t *testing.T) {
	f := newFixture(t, "op_a")
	ctx := context.Background()
	r := f.create(t)
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, OperatorID: "op_a"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	f.clock.Advance(2 * time.Minute)
	if n, err := f.svc.SweepTimeouts(ctx); err != nil || n != 0 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	if got := f.request(t, r.ID); got.Status != request.StatusAccepted || got.SignalState != request.SignalWaiting {
		t.Fatalf("accepted request changed by monitor: %+v", got)
	}
}

func TestAccept_AfterWindowIsRejected(t *testing.T) {
	f := newFixture(t, "op_a")
	ctx := context.Background()
	r := f.create(t)

	f.clock.Advance(DefaultRequestTimeout)
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, OperatorID: "op_a"}); !errors.Is(err, ErrAlreadyRejected) {
		t.Fatalf("expected ErrAlreadyRejected, got %v", err)
	}
	if got := f.request(t, r.ID); got.RejectionReason != request.ReasonTimeout {
		t.Fatalf("expected timeout closure, got %+v", got)
	}
	if f.operatorStatus(t, "op_a") != operator.Available {
		t.Fatal("operator should stay available")
	}
}

func TestConcurrentAcceptVsTimeout(t *testing.T) {
	f := newFixture(t, "op_a")
	ctx := context.Background()
	r := f.create(t)
	f.clock.Advance(DefaultRequestTimeout - time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.svc.Accept(ctx, AcceptCommand{RequestID: r.ID, OperatorID: "op_a"})
	}()
	go func() {
		defer wg.Done()
		f.clock.Advance(time.Millisecond)
		_, _ = f.svc.SweepTimeouts(ctx)
	}()
	wg.Wait()

	got := f.request(t, r.ID)
	rides := f.activeRides(t)
	switch got.Status {
	case request.StatusAccepted:
		if len(rides) != 1 || f.operatorStatus(t, "op_a") != operator.Busy {
			t.Fatalf("accepted without a ride or busy operator: rides=%d", len(rides))
		}
	case request.StatusRejected:
		if len(rides) != 0 || f.operatorStatus(t, "op_a") != operator.Available {
			t.Fatalf("rejected request left a ride or busy operator: rides=%d", len(rides))
		}
	default:
		t.Fatalf("unexpected final status %s", got.Status)
	}
}

func TestReject_AllAvailableRejected(t *testing.T) {
	f := newFixture(t, "op_a", "op_b")
	ctx := context.Background()
	r := f.create(t)

	if err := f.svc.Reject(ctx, RejectCommand{RequestID: r.ID, OperatorID: "op_a"}); err != nil {
		t.Fatalf("reject a: %v", err)
	}
	if got := f.request(t, r.ID); got.Status != request.StatusPending {
		t.Fatalf("closed after a single rejection: %+v", got)
	}
	// Set semantics: rejecting twice is harmless.
	if err := f.svc.Reject(ctx, RejectCommand{RequestID: r.ID, OperatorID: "op_a"}); err != nil {
		t.Fatalf("repeat reject: %v", err)
	}
	if err := f.svc.Reject(ctx, RejectCommand{RequestID: r.ID, OperatorID: "op_b"}); err != nil {
		t.Fatalf("reject b: %v", err)
	}

	got := f.request(t, r.ID)
	if got.Status != request.StatusRejected || got.RejectionReason != request.ReasonAllRejected || got.SignalState != request.SignalRejected {
		t.Fatalf("expected all_rejected closure, got %+v", got)
	}
	if rs := got.Rejecters(); len(rs) != 2 || rs[0] != "op_a" || rs[1] != "op_b" {
		t.Fatalf("unexpected rejected_by: %v", rs)
	}

	if err := f.svc.Reject(ctx, RejectCommand{RequestID: r.ID, OperatorID: "op_c"}); !errors.Is(err, ErrAlreadyRejected) {
		t.Fatalf("expected ErrAlreadyRejected, got %v", err)
	}
	if got := f.request(t, r.ID); len(got.RejectedBy) != 2 {
		t.Fatalf("rejected_by changed after closure: %v", got.RejectedBy)
	}
}

func TestReject_EmptyAvailableSetKeepsRequestPending(t *testing.T) {
	f := newFixture(t, "op_a", "op_b")
	ctx := context.Background()

	first := f.create(t)
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: first.ID, OperatorID: "op_b"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	r := f.create(t)
	if err := f.svc.Reject(ctx, RejectCommand{RequestID: r.ID, OperatorID: "op_b"}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	second := f.create(t)
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: second.ID, OperatorID: "op_a"}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Both operators are busy now.
	if n, err := f.svc.SweepAllRejected(ctx); err != nil || n != 0 {
		t.Fatalf("sweep with empty available set: n=%d err=%v", n, err)
	}
	if got := f.request(t, r.ID); got.Status != request.StatusPending {
		t.Fatalf("expected pending, got %+v", got)
	}
}

func TestReject_ThenAcceptAnotherRequest(t *testing.T) {
	f := newFixture(t, "op_a", "op_b")
	ctx := context.Background()
	r := f.create(t)
	r2 := f.create(t)

	if err := f.svc.Reject(ctx, RejectCommand{RequestID: r.ID, OperatorID: "op_a"}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := f.svc.Accept(ctx, AcceptCommand{RequestID: r2.ID, OperatorID: "op_a"}); err != nil {
		t.Fatalf("accept r2: %v", err)
	}

	// op_a is busy, op_b has not rejected: R stays open for op_b.
	if n, err := f.svc.SweepAllRejected(ctx); err != nil || n != 0 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	got := f.request(t, r.ID)
	if got.Status != request.StatusPending || !got.RejectedByOperator("op_a") {
		t.Fatalf("unexpected R after reject+accept elsewhere: %+v", got)
	}

	pending, err := f.svc.List(ctx, ListQuery{Status: request.StatusPending, OperatorID: "op_a"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("op_a should not see R, got %d requests", len(pending))
	}
	pending, err = f.svc.List(ctx, ListQuery{Status: request.StatusPending, OperatorID: "op_b"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != r.ID {
		t.Fatalf("op_b should see R, got %+v", pending)
	}
}

func TestReject_UnknownRequest(t *testing.T) {
	f := newFixture(t, "op_a")
	err := f.svc.Reject(context.Background(), RejectCommand{RequestID: "req_gone", OperatorID: "op_a"})
	if !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("expected ErrUnknownRequest, got %v", err)
	}
}

func TestConcurrentRejectionsAreNotLost(t *testing.T) {
	const n = 6
	ids := make([]types.ID, n)
	for i := range ids {
		ids[i] = types.ID(fmt.Sprintf("op_%d", i))
	}
	f := newFixture(t, ids...)
	ctx := context.Background()
	r := f.create(t)
	reqs := request.NewStore(f.st)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(op types.ID) {
			defer wg.Done()
			if err := reqs.AddRejection(ctx, r.ID, op); err != nil {
				t.Errorf("add rejection: %v", err)
			}
		}(id)
	}
	wg.Wait()

	if got := f.request(t, r.ID); len(got.Rejecters()) != n {
		t.Fatalf("expected %d rejecters, got %v", n, got.Rejecters())
	}
	if closed, err := f.svc.SweepAllRejected(ctx); err != nil || closed != 1 {
		t.Fatalf("sweep: closed=%d err=%v", closed, err)
	}
}

func TestRunRejectionArbiter_ReactsToPoolChanges(t *testing.T) {
	f := newFixture(t, "op_a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := f.create(t)

	go f.svc.RunRejectionArbiter(ctx, time.Hour)

	// Written directly so only the background arbiter can close it.
	if err := request.NewStore(f.st).AddRejection(ctx, r.ID, "op_a"); err != nil {
		t.Fatalf("add rejection: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := f.request(t, r.ID); got.Status == request.StatusRejected {
			if got.RejectionReason != request.ReasonAllRejected {
				t.Fatalf("unexpected reason %s", got.RejectionReason)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("arbiter did not close the request")
}

func TestRunTimeoutMonitor_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)
	f.clock.Advance(DefaultRequestTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunTimeoutMonitor(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.request(t, r.ID).Status != request.StatusRejected {
		if time.Now().After(deadline) {
			t.Fatal("monitor did not close the request")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

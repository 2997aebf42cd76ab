// README: Ride progression: pickup, drop-off completion with reward, admin follow-up
// and cleanup reconciliation. Completion commits durable facts in one conditional
// write; deleting the active ride and its request afterwards is retriable cleanup.
package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"aeras/internal/modules/ledger"
	"aeras/internal/modules/location"
	"aeras/internal/modules/notify"
	"aeras/internal/modules/operator"
	"aeras/internal/modules/request"
	"aeras/internal/modules/reward"
	"aeras/internal/o11y"
	"aeras/internal/store"
	"aeras/internal/types"
)

var (
	ErrNotFound         = errors.New("ride not found")
	ErrInvalidState     = errors.New("invalid ride state transition")
	ErrConflict         = errors.New("ride state conflict")
	ErrBadCommand       = errors.New("bad command")
	ErrAlreadyReviewed  = errors.New("points entry already reviewed")
	ErrNotPendingReview = errors.New("points entry does not need review")
	ErrOperatorMissing  = errors.New("ride operator not found")
)

// maxCASAttempts bounds retries when only the operator's counters moved
// between read and write.
const maxCASAttempts = 5

var tracer = otel.Tracer("aeras/ride")

// Ledger receives audit records of committed completions.
type Ledger interface {
	AppendEvent(ctx context.Context, e *ledger.Event) error
	ArchiveCompletion(ctx context.Context, c *ledger.Completion) error
}

type Options struct {
	GPSTimeout time.Duration
	GPSMaxAge  time.Duration
	Notifier   notify.Notifier
	Ledger     Ledger
	Metrics    *o11y.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
}

type Service struct {
	st         store.Store
	rides      *Store
	requests   *request.Store
	operators  *operator.Store
	positioner location.Positioner
	resolver   location.Resolver
	gps        location.PositionRequest
	notifier   notify.Notifier
	ledger     Ledger
	metrics    *o11y.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(st store.Store, positioner location.Positioner, resolver location.Resolver, opts Options) *Service {
	s := &Service{
		st:         st,
		rides:      NewStore(st),
		requests:   request.NewStore(st),
		operators:  operator.NewStore(st),
		positioner: positioner,
		resolver:   resolver,
		gps: location.PositionRequest{
			Timeout:      opts.GPSTimeout,
			MaxAge:       opts.GPSMaxAge,
			HighAccuracy: true,
		},
		notifier: opts.Notifier,
		ledger:   opts.Ledger,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if s.gps.Timeout <= 0 {
		s.gps.Timeout = 10 * time.Second
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Store exposes read access for handlers.
func (s *Service) Store() *Store { return s.rides }

// DropoffResult describes the outcome of a drop-off or an admin resolution.
// ManualVerification is set when no position could be captured; Replayed is
// set when the ride had already been completed earlier.
type DropoffResult struct {
	Ride               *ActiveRide         `json:"ride,omitempty"`
	Completed          *CompletedRide      `json:"completed,omitempty"`
	History            *PointsHistoryEntry `json:"points_history,omitempty"`
	ManualVerification bool                `json:"manual_verification"`
	Replayed           bool                `json:"replayed"`
}

type ReviewCommand struct {
	EntryID types.ID
	Approve bool
	// Points overrides the entry's final points when approving.
	Points *int
}

type ResolveCommand struct {
	RideID         types.ID
	DistanceMeters float64
}

// ReconcileReport counts the stale records removed by a sweep.
type ReconcileReport struct {
	Checked         int `json:"checked"`
	ActiveRemoved   int `json:"active_removed"`
	RequestsRemoved int `json:"requests_removed"`
}

// ConfirmPickup moves an accepted ride to picked_up. A position is recorded
// when one can be captured; capture failure never blocks the transition.
func (s *Service) ConfirmPickup(ctx context.Context, rideID types.ID) (*ActiveRide, error) {
	ctx, span := tracer.Start(ctx, "ride.ConfirmPickup", trace.WithAttributes(attribute.String("ride.id", string(rideID))))
	defer span.End()

	r, err := s.rides.GetActive(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusPickedUp) {
		return nil, ErrInvalidState
	}

	var fix *types.Fix
	if f, err := s.positioner.CurrentPosition(ctx, r.OperatorID, s.gps); err != nil {
		s.logger.WarnContext(ctx, "pickup without location",
			slog.String("ride_id", string(r.ID)),
			slog.Any("err", err))
	} else {
		fix = &f
	}

	nowMs := s.now().UnixMilli()
	gpsAvailable := fix != nil
	u := store.NewUpdate().
		Require(store.Equals(ActiveFieldPath(r.ID, "status"), StatusAccepted)).
		Set(ActiveFieldPath(r.ID, "status"), StatusPickedUp).
		Set(ActiveFieldPath(r.ID, "pickup_time"), nowMs).
		Set(ActiveFieldPath(r.ID, "gps_available"), gpsAvailable)
	if fix != nil {
		u.Set(ActiveFieldPath(r.ID, "pickup_location"), fix)
	}
	// The signal projection is only written while the request still exists,
	// so a cleaned-up request is never resurrected as a partial record.
	req, err := s.requests.Get(ctx, r.RequestID)
	if err == nil && req.Status == request.StatusAccepted {
		u.Require(store.Equals(request.FieldPath(req.ID, "status"), request.StatusAccepted)).
			Set(request.FieldPath(req.ID, "signal_state"), request.SignalPickupConfirmed)
	}

	if err := s.st.Update(ctx, u); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return nil, s.conflict(ctx, r.ID)
		}
		span.RecordError(err)
		return nil, err
	}

	r.Status = StatusPickedUp
	r.PickupTime = &nowMs
	r.PickupLocation = fix
	r.GPSAvailable = &gpsAvailable

	s.logger.InfoContext(ctx, "pickup confirmed",
		slog.String("ride_id", string(r.ID)),
		slog.Bool("gps_available", gpsAvailable))
	s.record(ctx, &ledger.Event{
		EntityType: ledger.EntityRide,
		EntityID:   r.ID,
		FromStatus: string(StatusAccepted),
		ToStatus:   string(StatusPickedUp),
		ActorType:  "operator",
		ActorID:    &r.OperatorID,
	})
	notify.Send(ctx, s.notifier, s.logger, notify.Event{
		Kind:        notify.RidePickedUp,
		RequestID:   r.RequestID,
		RideID:      r.ID,
		OperatorID:  r.OperatorID,
		Status:      string(StatusPickedUp),
		SignalState: string(request.SignalPickupConfirmed),
		At:          nowMs,
	})
	return r, nil
}

// ConfirmDropoff completes a picked-up ride. When the device cannot produce a
// position (denied, unavailable or timed out) the ride is parked in manual
// verification; any other positioning error, including ctx ending, is returned
// with the ride unchanged. Calling it again for a completed ride only
// replays the cleanup and returns the recorded completion.
func (s *Service) ConfirmDropoff(ctx context.Context, rideID types.ID) (*DropoffResult, error) {
	ctx, span := tracer.Start(ctx, "ride.ConfirmDropoff", trace.WithAttributes(attribute.String("ride.id", string(rideID))))
	defer span.End()

	r, err := s.rides.GetActive(ctx, rideID)
	if errors.Is(err, ErrNotFound) {
		return s.replay(ctx, rideID)
	}
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case StatusCompleted:
		return s.replay(ctx, rideID)
	case StatusPickedUp:
	default:
		return nil, ErrInvalidState
	}

	fix, err := s.positioner.CurrentPosition(ctx, r.OperatorID, s.gps)
	if err != nil {
		// A caller that went away says nothing about the device; the ride
		// stays picked up so the drop-off can be retried.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !location.CaptureFailed(err) {
			span.RecordError(err)
			return nil, err
		}
		return s.requireManualVerification(ctx, r, err)
	}

	target, err := s.resolver.Resolve(ctx, r.DropoffBlock)
	if err != nil {
		return nil, err
	}
	distance := location.HaversineMeters(fix.Point(), target)
	span.SetAttributes(attribute.Float64("dropoff.distance_m", distance))

	return s.complete(ctx, r, completion{
		fix:      &fix,
		distance: distance,
		result:   reward.Evaluate(distance),
		from:     StatusPickedUp,
	})
}

func (s *Service) requireManualVerification(ctx context.Context, r *ActiveRide, cause error) (*DropoffResult, error) {
	u := store.NewUpdate().
		Require(store.Equals(ActiveFieldPath(r.ID, "status"), StatusPickedUp)).
		Set(ActiveFieldPath(r.ID, "status"), StatusManualVerificationRequired).
		Set(ActiveFieldPath(r.ID, "gps_available"), false).
		Set(ActiveFieldPath(r.ID, "manual_reason"), cause.Error())
	if err := s.st.Update(ctx, u); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return nil, s.conflict(ctx, r.ID)
		}
		return nil, err
	}

	gps := false
	r.Status = StatusManualVerificationRequired
	r.GPSAvailable = &gps
	r.ManualReason = cause.Error()

	s.metrics.ManualVerification()
	s.logger.WarnContext(ctx, "drop-off needs manual verification",
		slog.String("ride_id", string(r.ID)),
		slog.String("operator_id", string(r.OperatorID)),
		slog.Any("cause", cause))
	s.record(ctx, &ledger.Event{
		EntityType: ledger.EntityRide,
		EntityID:   r.ID,
		FromStatus: string(StatusPickedUp),
		ToStatus:   string(StatusManualVerificationRequired),
		ActorType:  "operator",
		ActorID:    &r.OperatorID,
		Reason:     cause.Error(),
	})
	notify.Send(ctx, s.notifier, s.logger, notify.Event{
		Kind:       notify.RideManualReview,
		RequestID:  r.RequestID,
		RideID:     r.ID,
		OperatorID: r.OperatorID,
		Status:     string(StatusManualVerificationRequired),
		Reason:     cause.Error(),
		At:         s.now().UnixMilli(),
	})
	return &DropoffResult{Ride: r, ManualVerification: true}, nil
}

type completion struct {
	fix      *types.Fix
	distance float64
	result   reward.Result
	from     Status
	admin    bool
}

// complete commits the ride's durable facts in one conditional write, then
// runs cleanup. Only a change to the operator's counters is retried.
func (s *Service) complete(ctx context.Context, r *ActiveRide, c completion) (*DropoffResult, error) {
	for attempt := 1; ; attempt++ {
		res, err := s.completeOnce(ctx, r, c)
		if err == nil {
			s.cleanup(ctx, res.Completed)
			return res, nil
		}
		if !errors.Is(err, store.ErrConditionFailed) {
			return nil, err
		}

		// Find out which condition failed.
		if _, cerr := s.rides.GetCompleted(ctx, r.ID); cerr == nil {
			return s.replay(ctx, r.ID)
		}
		cur, gerr := s.rides.GetActive(ctx, r.ID)
		if gerr != nil || cur.Status != c.from {
			return nil, ErrConflict
		}
		if attempt == maxCASAttempts {
			return nil, fmt.Errorf("%w: operator counters kept changing", ErrConflict)
		}
	}
}

func (s *Service) completeOnce(ctx context.Context, r *ActiveRide, c completion) (*DropoffResult, error) {
	rides, ridesCond, err := s.counter(ctx, operator.FieldPath(r.OperatorID, "total_rides"))
	if err != nil {
		return nil, err
	}
	points, pointsCond, err := s.counter(ctx, operator.FieldPath(r.OperatorID, "total_points"))
	if err != nil {
		return nil, err
	}
	if _, err := s.operators.Get(ctx, r.OperatorID); errors.Is(err, operator.ErrNotFound) {
		return nil, ErrOperatorMissing
	} else if err != nil {
		return nil, err
	}

	nowMs := s.now().UnixMilli()
	distance := c.distance
	gps := c.fix != nil

	done := *r
	done.Status = StatusCompleted
	done.DropoffTime = &nowMs
	done.DropoffLocation = c.fix
	done.DropoffDistanceFromBlock = &distance
	done.PointsEarned = c.result.Points
	done.PointsStatus = c.result.Status
	done.GPSAvailable = &gps

	snapshot := &CompletedRide{ActiveRide: done, CompletedAt: nowMs, AdminResolved: c.admin}
	entry := &PointsHistoryEntry{
		ID:              HistoryID(r.ID),
		RideID:          r.ID,
		OperatorID:      r.OperatorID,
		BasePoints:      c.result.BasePoints,
		DistancePenalty: c.result.Penalty,
		FinalPoints:     c.result.Points,
		Status:          c.result.Status,
		GPSAccuracy:     distance,
		Timestamp:       nowMs,
		AdminReviewed:   false,
	}
	credited := c.result.CreditedPoints()

	u := store.NewUpdate().
		Require(
			store.Equals(ActiveFieldPath(r.ID, "status"), c.from),
			store.Absent(CompletedPath(r.ID)),
			store.Absent(HistoryPath(entry.ID)),
			ridesCond,
			pointsCond,
		).
		Set(ActiveFieldPath(r.ID, "status"), StatusCompleted).
		Set(ActiveFieldPath(r.ID, "dropoff_time"), nowMs).
		Set(ActiveFieldPath(r.ID, "dropoff_distance_from_block"), distance).
		Set(ActiveFieldPath(r.ID, "points_earned"), c.result.Points).
		Set(ActiveFieldPath(r.ID, "points_status"), c.result.Status).
		Set(ActiveFieldPath(r.ID, "gps_available"), gps).
		Set(CompletedPath(r.ID), snapshot).
		Set(HistoryPath(entry.ID), entry).
		Set(operator.FieldPath(r.OperatorID, "status"), operator.Available).
		Set(operator.FieldPath(r.OperatorID, "total_rides"), rides+1).
		Set(operator.FieldPath(r.OperatorID, "total_points"), points+credited)
	if c.fix != nil {
		u.Set(ActiveFieldPath(r.ID, "dropoff_location"), c.fix)
	}
	if err := s.st.Update(ctx, u); err != nil {
		return nil, err
	}

	s.metrics.Completion(string(c.result.Status), credited)
	s.logger.InfoContext(ctx, "ride completed",
		slog.String("ride_id", string(r.ID)),
		slog.String("operator_id", string(r.OperatorID)),
		slog.Float64("distance_m", distance),
		slog.Int("points", c.result.Points),
		slog.String("points_status", string(c.result.Status)),
		slog.Bool("admin_resolved", c.admin))
	actor := "operator"
	if c.admin {
		actor = "admin"
	}
	s.record(ctx, &ledger.Event{
		EntityType: ledger.EntityRide,
		EntityID:   r.ID,
		FromStatus: string(c.from),
		ToStatus:   string(StatusCompleted),
		ActorType:  actor,
		ActorID:    &r.OperatorID,
	})
	s.archive(ctx, snapshot)
	notify.Send(ctx, s.notifier, s.logger, notify.Event{
		Kind:       notify.RideCompleted,
		RequestID:  r.RequestID,
		RideID:     r.ID,
		OperatorID: r.OperatorID,
		Status:     string(c.result.Status),
		At:         nowMs,
	})
	return &DropoffResult{Ride: &done, Completed: snapshot, History: entry}, nil
}

// counter reads an integer field and returns the condition that it is still
// unchanged at write time. A missing field counts as zero.
func (s *Service) counter(ctx context.Context, path string) (int, store.Condition, error) {
	var n int
	err := s.st.Get(ctx, path, &n)
	if errors.Is(err, store.ErrNotFound) {
		return 0, store.Absent(path), nil
	}
	if err != nil {
		return 0, store.Condition{}, err
	}
	return n, store.Equals(path, n), nil
}

// replay returns an earlier completion and repeats its cleanup. Rewards are
// never recomputed.
func (s *Service) replay(ctx context.Context, rideID types.ID) (*DropoffResult, error) {
	done, err := s.rides.GetCompleted(ctx, rideID)
	if err != nil {
		return nil, err
	}
	res := &DropoffResult{Completed: done, Ride: &done.ActiveRide, Replayed: true}
	if entry, err := s.rides.GetHistory(ctx, HistoryID(rideID)); err == nil {
		res.History = entry
	}
	s.cleanup(ctx, done)
	return res, nil
}

// cleanup deletes the active ride and its request. Each delete is a separate
// call; failures are left for the next replay or reconcile sweep.
func (s *Service) cleanup(ctx context.Context, done *CompletedRide) (activeRemoved, requestRemoved bool) {
	if _, err := s.rides.GetActive(ctx, done.ID); err == nil {
		if err := s.st.Delete(ctx, ActivePath(done.ID)); err != nil {
			s.logger.WarnContext(ctx, "cleanup active ride", slog.String("ride_id", string(done.ID)), slog.Any("err", err))
		} else {
			activeRemoved = true
		}
	}
	if req, err := s.requests.Get(ctx, done.RequestID); err == nil && (req.RideID == "" || req.RideID == done.ID) {
		if err := s.requests.Delete(ctx, done.RequestID); err != nil {
			s.logger.WarnContext(ctx, "cleanup request", slog.String("request_id", string(done.RequestID)), slog.Any("err", err))
		} else {
			requestRemoved = true
		}
	}
	return activeRemoved, requestRemoved
}

// ResolveManualVerification completes a ride parked in manual verification
// with a distance established by an admin.
func (s *Service) ResolveManualVerification(ctx context.Context, cmd ResolveCommand) (*DropoffResult, error) {
	ctx, span := tracer.Start(ctx, "ride.ResolveManualVerification", trace.WithAttributes(attribute.String("ride.id", string(cmd.RideID))))
	defer span.End()

	if cmd.DistanceMeters < 0 {
		return nil, ErrBadCommand
	}
	r, err := s.rides.GetActive(ctx, cmd.RideID)
	if errors.Is(err, ErrNotFound) {
		return s.replay(ctx, cmd.RideID)
	}
	if err != nil {
		return nil, err
	}
	if r.Status == StatusCompleted {
		return s.replay(ctx, cmd.RideID)
	}
	if r.Status != StatusManualVerificationRequired {
		return nil, ErrInvalidState
	}
	return s.complete(ctx, r, completion{
		distance: cmd.DistanceMeters,
		result:   reward.Evaluate(cmd.DistanceMeters),
		from:     StatusManualVerificationRequired,
		admin:    true,
	})
}

// ReviewPoints records an admin decision on a pending points entry. Approved
// points are credited to the operator in the same write that marks the entry
// reviewed.
func (s *Service) ReviewPoints(ctx context.Context, cmd ReviewCommand) (*PointsHistoryEntry, error) {
	ctx, span := tracer.Start(ctx, "ride.ReviewPoints", trace.WithAttributes(attribute.String("entry.id", string(cmd.EntryID))))
	defer span.End()

	for attempt := 1; ; attempt++ {
		entry, err := s.rides.GetHistory(ctx, cmd.EntryID)
		if err != nil {
			return nil, err
		}
		if entry.AdminReviewed {
			return nil, ErrAlreadyReviewed
		}
		if entry.Status != reward.StatusPending {
			return nil, ErrNotPendingReview
		}

		awarded := 0
		if cmd.Approve {
			awarded = entry.FinalPoints
			if cmd.Points != nil {
				awarded = *cmd.Points
			}
		}
		if awarded < 0 || awarded > reward.BasePoints {
			return nil, ErrBadCommand
		}

		nowMs := s.now().UnixMilli()
		u := store.NewUpdate().
			Require(store.Equals(HistoryFieldPath(entry.ID, "admin_reviewed"), false)).
			Set(HistoryFieldPath(entry.ID, "admin_reviewed"), true).
			Set(HistoryFieldPath(entry.ID, "awarded_points"), awarded).
			Set(HistoryFieldPath(entry.ID, "reviewed_at"), nowMs)
		if cmd.Approve {
			u.Set(HistoryFieldPath(entry.ID, "status"), reward.StatusRewarded)
		}
		if awarded > 0 {
			points, cond, err := s.counter(ctx, operator.FieldPath(entry.OperatorID, "total_points"))
			if err != nil {
				return nil, err
			}
			u.Require(cond, store.Exists(operator.Path(entry.OperatorID))).
				Set(operator.FieldPath(entry.OperatorID, "total_points"), points+awarded)
		}

		err = s.st.Update(ctx, u)
		if errors.Is(err, store.ErrConditionFailed) {
			if attempt == maxCASAttempts {
				return nil, ErrConflict
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		entry.AdminReviewed = true
		entry.AwardedPoints = &awarded
		entry.ReviewedAt = &nowMs
		if cmd.Approve {
			entry.Status = reward.StatusRewarded
		}
		s.logger.InfoContext(ctx, "points reviewed",
			slog.String("entry_id", string(entry.ID)),
			slog.Bool("approved", cmd.Approve),
			slog.Int("awarded", awarded))
		s.record(ctx, &ledger.Event{
			EntityType: ledger.EntityPoints,
			EntityID:   entry.ID,
			FromStatus: string(reward.StatusPending),
			ToStatus:   string(entry.Status),
			ActorType:  "admin",
			Reason:     fmt.Sprintf("awarded=%d", awarded),
		})
		notify.Send(ctx, s.notifier, s.logger, notify.Event{
			Kind:       notify.PointsReviewed,
			RideID:     entry.RideID,
			OperatorID: entry.OperatorID,
			Status:     string(entry.Status),
			At:         nowMs,
		})
		return entry, nil
	}
}

// Reconcile replays cleanup for every completed ride whose active ride or
// request still exists.
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	done, err := s.rides.ListCompleted(ctx)
	if err != nil {
		return report, err
	}
	for _, c := range done {
		report.Checked++
		a, r := s.cleanup(ctx, c)
		if a {
			report.ActiveRemoved++
		}
		if r {
			report.RequestsRemoved++
		}
	}
	if report.ActiveRemoved > 0 || report.RequestsRemoved > 0 {
		s.logger.InfoContext(ctx, "reconcile removed stale records",
			slog.Int("active_rides", report.ActiveRemoved),
			slog.Int("requests", report.RequestsRemoved))
	}
	return report, nil
}

// conflict maps a failed ride transition to the error the caller sees.
func (s *Service) conflict(ctx context.Context, id types.ID) error {
	if _, err := s.rides.GetActive(ctx, id); errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *Service) record(ctx context.Context, e *ledger.Event) {
	if s.ledger == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if err := s.ledger.AppendEvent(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "ledger append failed", slog.String("entity_id", string(e.EntityID)), slog.Any("err", err))
	}
}

func (s *Service) archive(ctx context.Context, c *CompletedRide) {
	if s.ledger == nil {
		return
	}
	err := s.ledger.ArchiveCompletion(ctx, &ledger.Completion{
		RideID:           c.ID,
		RequestID:        c.RequestID,
		UserID:           c.UserID,
		OperatorID:       c.OperatorID,
		PickupBlock:      c.PickupBlock,
		DropoffBlock:     c.DropoffBlock,
		DistanceKm:       c.DistanceKm,
		Fare:             c.Fare,
		DropoffDistanceM: c.DropoffDistanceFromBlock,
		PointsEarned:     c.PointsEarned,
		PointsStatus:     string(c.PointsStatus),
		AdminResolved:    c.AdminResolved,
		CompletedAt:      time.UnixMilli(c.CompletedAt),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "ledger archive failed", slog.String("ride_id", string(c.ID)), slog.Any("err", err))
	}
}

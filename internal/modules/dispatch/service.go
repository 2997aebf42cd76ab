// README: Dispatch service creates requests and arbitrates accept/reject races over
// the shared store. Every status change is a conditional write.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"aeras/internal/modules/ledger"
	"aeras/internal/modules/location"
	"aeras/internal/modules/notify"
	"aeras/internal/modules/operator"
	"aeras/internal/modules/request"
	"aeras/internal/modules/reward"
	"aeras/internal/modules/ride"
	"aeras/internal/o11y"
	"aeras/internal/store"
	"aeras/internal/types"
)

// DefaultRequestTimeout is the acceptance window of a pending request.
const DefaultRequestTimeout = 60 * time.Second

var tracer = otel.Tracer("aeras/dispatch")

type Options struct {
	RequestTimeout time.Duration
	Distance       DistanceEstimator
	Notifier       notify.Notifier
	Ledger         Ledger
	Metrics        *o11y.Metrics
	Logger         *slog.Logger
	Now            func() time.Time
}

type Service struct {
	st        store.Store
	requests  *request.Store
	operators *operator.Store
	resolver  location.Resolver
	distance  DistanceEstimator
	notifier  notify.Notifier
	ledger    Ledger
	metrics   *o11y.Metrics
	logger    *slog.Logger
	now       func() time.Time
	timeout   time.Duration
}

func NewService(st store.Store, resolver location.Resolver, opts Options) *Service {
	s := &Service{
		st:        st,
		requests:  request.NewStore(st),
		operators: operator.NewStore(st),
		resolver:  resolver,
		distance:  opts.Distance,
		notifier:  opts.Notifier,
		ledger:    opts.Ledger,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
		timeout:   opts.RequestTimeout,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.timeout <= 0 {
		s.timeout = DefaultRequestTimeout
	}
	return s
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*request.Request, error) {
	ctx, span := tracer.Start(ctx, "dispatch.Create")
	defer span.End()

	cmd.PickupBlock = strings.TrimSpace(cmd.PickupBlock)
	cmd.DropoffBlock = strings.TrimSpace(cmd.DropoffBlock)
	if cmd.UserID == "" || cmd.PickupBlock == "" || cmd.DropoffBlock == "" || cmd.Fare < 0 {
		return nil, ErrBadCommand
	}
	if cmd.PickupBlock == cmd.DropoffBlock {
		return nil, fmt.Errorf("%w: pickup and drop-off are the same block", ErrBadCommand)
	}
	from, err := s.resolver.Resolve(ctx, cmd.PickupBlock)
	if err != nil {
		return nil, err
	}
	to, err := s.resolver.Resolve(ctx, cmd.DropoffBlock)
	if err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	req := &request.Request{
		ID:              types.ID("req_" + uuid.NewString()),
		UserID:          cmd.UserID,
		PickupBlock:     cmd.PickupBlock,
		DropoffBlock:    cmd.DropoffBlock,
		DistanceKm:      roundKm(s.estimateMeters(ctx, from, to)),
		EstimatedFare:   cmd.Fare,
		EstimatedPoints: reward.BasePoints,
		Timestamp:       now,
		Status:          request.StatusPending,
		SignalState:     request.SignalIdle,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("request.id", string(req.ID)))

	s.metrics.RequestCreated()
	s.record(ctx, &ledger.Event{
		EntityType: ledger.EntityRequest,
		EntityID:   req.ID,
		ToStatus:   string(request.StatusPending),
		ActorType:  "rider",
		ActorID:    &cmd.UserID,
	})
	notify.Send(ctx, s.notifier, s.logger, notify.Event{
		Kind:        notify.RequestCreated,
		RequestID:   req.ID,
		Status:      string(req.Status),
		SignalState: string(req.SignalState),
		At:          now,
	})
	return req, nil
}

func (s *Service) estimateMeters(ctx context.Context, from, to types.Point) float64 {
	if s.distance != nil {
		d, err := s.distance.DistanceMeters(ctx, from, to)
		if err == nil {
			return d
		}
		s.logger.WarnContext(ctx, "route distance unavailable, using straight line", slog.Any("err", err))
	}
	return location.HaversineMeters(from, to)
}

func roundKm(meters float64) float64 {
	return math.Round(meters/10) / 100
}

func (s *Service) Get(ctx context.Context, id types.ID) (*request.Request, error) {
	return s.requests.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, q ListQuery) ([]*request.Request, error) {
	all, err := s.requests.ListByStatus(ctx, q.Status)
	if err != nil || q.OperatorID == "" {
		return all, err
	}
	out := make([]*request.Request, 0, len(all))
	for _, r := range all {
		if r.IsPending() && r.RejectedByOperator(q.OperatorID) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Accept claims a pending request for one operator. The ride, the request
// and the operator change in one conditional write, so exactly one of many
// concurrent callers wins.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*ride.ActiveRide, error) {
	ctx, span := tracer.Start(ctx, "dispatch.Accept", trace.WithAttributes(
		attribute.String("request.id", string(cmd.RequestID)),
		attribute.String("operator.id", string(cmd.OperatorID)),
	))
	defer span.End()

	r, err := s.accept(ctx, cmd)
	switch {
	case err == nil:
		s.metrics.Accept("won")
	case IsRaceLost(err):
		s.metrics.Accept("lost")
		span.SetAttributes(attribute.String("outcome", err.Error()))
	default:
		s.metrics.Accept("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return r, err
}

func (s *Service) accept(ctx context.Context, cmd AcceptCommand) (*ride.ActiveRide, error) {
	if cmd.RequestID == "" || cmd.OperatorID == "" {
		return nil, ErrBadCommand
	}
	req, err := s.requests.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if err := notPending(req); err != nil {
		return nil, err
	}
	if req.PickupBlock == "" || req.DropoffBlock == "" {
		return nil, ErrInvalidRequest
	}

	now := s.now()
	if req.Timestamp > 0 && req.Age(now.UnixMilli()) >= s.timeout.Milliseconds() {
		// The window has passed even if the monitor has not run yet.
		if _, err := s.close(ctx, req.ID, request.ReasonTimeout); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyRejected
	}

	op, err := s.operators.Get(ctx, cmd.OperatorID)
	if errors.Is(err, operator.ErrNotFound) {
		return nil, ErrUnknownOperator
	}
	if err != nil {
		return nil, err
	}
	if op.Status != operator.Available {
		return nil, ErrOperatorBusy
	}

	nowMs := now.UnixMilli()
	requestTime := req.Timestamp
	if requestTime == 0 {
		requestTime = nowMs
	}
	active := &ride.ActiveRide{
		ID:           types.ID("ride_" + uuid.NewString()),
		RequestID:    req.ID,
		UserID:       req.UserID,
		OperatorID:   op.ID,
		PickupBlock:  req.PickupBlock,
		DropoffBlock: req.DropoffBlock,
		DistanceKm:   req.DistanceKm,
		Fare:         req.EstimatedFare,
		Status:       ride.StatusAccepted,
		RequestTime:  requestTime,
		AcceptTime:   nowMs,
		PointsEarned: 0,
		PointsStatus: reward.StatusPending,
	}

	u := store.NewUpdate().
		Require(
			store.Equals(request.FieldPath(req.ID, "status"), request.StatusPending),
			store.Equals(operator.FieldPath(op.ID, "status"), operator.Available),
			store.Absent(ride.ActivePath(active.ID)),
		).
		Set(ride.ActivePath(active.ID), active).
		Set(request.FieldPath(req.ID, "status"), request.StatusAccepted).
		Set(request.FieldPath(req.ID, "assigned_operator"), op.ID).
		Set(request.FieldPath(req.ID, "ride_id"), active.ID).
		Set(request.FieldPath(req.ID, "signal_state"), request.SignalWaiting).
		Set(operator.FieldPath(op.ID, "status"), operator.Busy)

	if err := s.st.Update(ctx, u); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			lost := s.acceptConflict(ctx, cmd)
			s.logger.InfoContext(ctx, "accept lost race",
				slog.String("request_id", string(cmd.RequestID)),
				slog.String("operator_id", string(cmd.OperatorID)),
				slog.String("outcome", lost.Error()))
			return nil, lost
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "request accepted",
		slog.String("request_id", string(req.ID)),
		slog.String("ride_id", string(active.ID)),
		slog.String("operator_id", string(op.ID)))
	s.record(ctx, &ledger.Event{
		EntityType: ledger.EntityRequest,
		EntityID:   req.ID,
		FromStatus: string(request.StatusPending),
		ToStatus:   string(request.StatusAccepted),
		ActorType:  "operator",
		ActorID:    &active.OperatorID,
	})
	notify.Send(ctx, s.notifier, s.logger, notify.Event{
		Kind:        notify.RequestAccepted,
		RequestID:   req.ID,
		RideID:      active.ID,
		OperatorID:  op.ID,
		Status:      string(request.StatusAccepted),
		SignalState: string(request.SignalWaiting),
		At:          nowMs,
	})
	return active, nil
}

// acceptConflict re-reads state after a failed conditional write to tell the
// caller which race it lost.
func (s *Service) acceptConflict(ctx context.Context, cmd AcceptCommand) error {
	req, err := s.requests.Get(ctx, cmd.RequestID)
	if err != nil || !req.IsPending() {
		if err == nil && req.Status == request.StatusRejected {
			return ErrAlreadyRejected
		}
		return ErrAlreadyClaimed
	}
	op, err := s.operators.Get(ctx, cmd.OperatorID)
	if err == nil && op.Status != operator.Available {
		return ErrOperatorBusy
	}
	return ErrAlreadyClaimed
}

// Reject records that an operator declined a pending request. It never closes
// the request itself; the rejection arbiter decides that.
func (s *Service) Reject(ctx context.Context, cmd RejectCommand) error {
	ctx, span := tracer.Start(ctx, "dispatch.Reject", trace.WithAttributes(
		attribute.String("request.id", string(cmd.RequestID)),
		attribute.String("operator.id", string(cmd.OperatorID)),
	))
	defer span.End()

	if cmd.RequestID == "" || cmd.OperatorID == "" {
		return ErrBadCommand
	}
	req, err := s.requests.Get(ctx, cmd.RequestID)
	if errors.Is(err, request.ErrNotFound) {
		return ErrUnknownRequest
	}
	if err != nil {
		return err
	}
	if err := notPending(req); err != nil {
		return err
	}
	if !req.RejectedByOperator(cmd.OperatorID) {
		err = s.requests.AddRejection(ctx, cmd.RequestID, cmd.OperatorID)
		if errors.Is(err, store.ErrConditionFailed) {
			req, err := s.requests.Get(ctx, cmd.RequestID)
			if errors.Is(err, request.ErrNotFound) {
				return ErrUnknownRequest
			}
			if err != nil {
				return err
			}
			return notPending(req)
		}
		if err != nil {
			span.RecordError(err)
			return err
		}
		s.metrics.Rejection()
		notify.Send(ctx, s.notifier, s.logger, notify.Event{
			Kind:       notify.RequestRejectedBy,
			RequestID:  cmd.RequestID,
			OperatorID: cmd.OperatorID,
			Status:     string(request.StatusPending),
			At:         s.now().UnixMilli(),
		})
	}

	// Evaluate right away instead of waiting for the next pool change.
	if _, err := s.arbitrate(ctx, cmd.RequestID); err != nil {
		s.logger.WarnContext(ctx, "arbitrate after reject", slog.String("request_id", string(cmd.RequestID)), slog.Any("err", err))
	}
	return nil
}

// notPending maps a request that can no longer be claimed to its lost-race
// error.
func notPending(req *request.Request) error {
	switch {
	case request.CanTransition(req.Status, request.StatusAccepted):
		return nil
	case req.Status == request.StatusRejected:
		return ErrAlreadyRejected
	default:
		return ErrAlreadyClaimed
	}
}

// close is the single writer of the rejected status. It reports whether this
// call performed the transition; losing to another closer or an accept is
// not an error.
func (s *Service) close(ctx context.Context, id types.ID, reason request.Reason) (bool, error) {
	err := s.requests.Close(ctx, id, reason)
	if errors.Is(err, store.ErrConditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.metrics.Closure(string(reason))
	s.logger.InfoContext(ctx, "request closed",
		slog.String("request_id", string(id)),
		slog.String("reason", string(reason)))
	s.record(ctx, &ledger.Event{
		EntityType: ledger.EntityRequest,
		EntityID:   id,
		FromStatus: string(request.StatusPending),
		ToStatus:   string(request.StatusRejected),
		ActorType:  "system",
		Reason:     string(reason),
	})
	notify.Send(ctx, s.notifier, s.logger, notify.Event{
		Kind:        notify.RequestClosed,
		RequestID:   id,
		Status:      string(request.StatusRejected),
		SignalState: string(request.SignalRejected),
		Reason:      string(reason),
		At:          s.now().UnixMilli(),
	})
	return true, nil
}

func (s *Service) record(ctx context.Context, e *ledger.Event) {
	if s.ledger == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if err := s.ledger.AppendEvent(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "ledger append failed",
			slog.String("entity_id", string(e.EntityID)),
			slog.Any("err", err))
	}
}

// README: Location service resolves blocks to coordinates and answers operator
// position requests from the latest reported sample.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aeras/internal/types"
)

// Positioner answers "where is this operator now".
type Positioner interface {
	CurrentPosition(ctx context.Context, operatorID types.ID, req PositionRequest) (types.Fix, error)
}

// Resolver maps a block id to its reference coordinates.
type Resolver interface {
	Resolve(ctx context.Context, blockID string) (types.Point, error)
}

type Service struct {
	blocks  *BlockStore
	samples SampleStore
	now     func() time.Time
	poll    time.Duration
}

func NewService(blocks *BlockStore, samples SampleStore) *Service {
	return &Service{blocks: blocks, samples: samples, now: time.Now, poll: 200 * time.Millisecond}
}

// WithClock overrides the time source and the sample polling interval.
func (s *Service) WithClock(now func() time.Time, poll time.Duration) *Service {
	s.now = now
	if poll > 0 {
		s.poll = poll
	}
	return s
}

func (s *Service) Resolve(ctx context.Context, blockID string) (types.Point, error) {
	if blockID == "" {
		return types.Point{}, ErrUnknownLocation
	}
	b, err := s.blocks.Get(ctx, blockID)
	if err != nil {
		return types.Point{}, err
	}
	if b.Coordinates == nil || !ValidPoint(*b.Coordinates) {
		return types.Point{}, ErrUnknownLocation
	}
	return *b.Coordinates, nil
}

// Report records a fix from the operator's device.
func (s *Service) Report(ctx context.Context, operatorID types.ID, fix types.Fix) error {
	if operatorID == "" || !ValidPoint(fix.Point()) || fix.Accuracy < 0 {
		return ErrInvalidFix
	}
	return s.samples.Put(ctx, Sample{
		OperatorID: operatorID,
		Fix:        fix,
		RecordedAt: s.now().UnixMilli(),
	})
}

// Deny records that the device refused to share its position.
func (s *Service) Deny(ctx context.Context, operatorID types.ID) error {
	if operatorID == "" {
		return ErrInvalidFix
	}
	return s.samples.Put(ctx, Sample{
		OperatorID: operatorID,
		Denied:     true,
		RecordedAt: s.now().UnixMilli(),
	})
}

// CurrentPosition waits until a sample no older than req.MaxAge exists or
// req.Timeout elapses.
func (s *Service) CurrentPosition(ctx context.Context, operatorID types.ID, req PositionRequest) (types.Fix, error) {
	if req.Timeout <= 0 {
		req.Timeout = 10 * time.Second
	}
	oldest := s.now().Add(-req.MaxAge).UnixMilli()

	waitCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		sample, err := s.samples.Latest(waitCtx, operatorID)
		switch {
		case err == nil && sample.RecordedAt >= oldest:
			if sample.Denied {
				return types.Fix{}, ErrPermissionDenied
			}
			if !req.HighAccuracy || sample.Fix.Accuracy <= coarseAccuracyMeters {
				return sample.Fix, nil
			}
		case err != nil && !errors.Is(err, ErrUnavailable) && waitCtx.Err() == nil:
			return types.Fix{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return types.Fix{}, ctx.Err()
			}
			return types.Fix{}, ErrTimeout
		case <-ticker.C:
		}
	}
}

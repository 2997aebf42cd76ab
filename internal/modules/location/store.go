// README: Location stores. Blocks live in the shared store; operator samples live
// either in the shared store or in Redis (GEO index plus a per-operator hash).
package location

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"aeras/internal/store"
	"aeras/internal/types"
)

// SampleStore persists the most recent sample per operator.
type SampleStore interface {
	Put(ctx context.Context, s Sample) error
	Latest(ctx context.Context, operatorID types.ID) (Sample, error)
}

// BlockStore reads and writes location blocks through the shared store.
type BlockStore struct {
	st store.Store
}

func NewBlockStore(st store.Store) *BlockStore {
	return &BlockStore{st: st}
}

func (s *BlockStore) Get(ctx context.Context, id string) (Block, error) {
	var b Block
	err := s.st.Get(ctx, store.Join(BlocksCollection, id), &b)
	if errors.Is(err, store.ErrNotFound) {
		return Block{}, ErrUnknownLocation
	}
	if err != nil {
		return Block{}, err
	}
	b.ID = id
	return b, nil
}

func (s *BlockStore) Put(ctx context.Context, b Block) error {
	if b.ID == "" {
		return ErrUnknownLocation
	}
	return s.st.Update(ctx, store.NewUpdate().Set(store.Join(BlocksCollection, b.ID), b))
}

func (s *BlockStore) List(ctx context.Context) (map[string]Block, error) {
	out := map[string]Block{}
	if err := s.st.List(ctx, BlocksCollection, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// samplesCollection is used when samples share the dispatch store.
const samplesCollection = "operator_samples"

// SharedSampleStore keeps samples in the shared store, so every backend can
// serve positions without a separate Redis.
type SharedSampleStore struct {
	st store.Store
}

func NewSharedSampleStore(st store.Store) *SharedSampleStore {
	return &SharedSampleStore{st: st}
}

func (s *SharedSampleStore) Put(ctx context.Context, sample Sample) error {
	return s.st.Update(ctx, store.NewUpdate().Set(store.Join(samplesCollection, string(sample.OperatorID)), sample))
}

func (s *SharedSampleStore) Latest(ctx context.Context, operatorID types.ID) (Sample, error) {
	var sample Sample
	err := s.st.Get(ctx, store.Join(samplesCollection, string(operatorID)), &sample)
	if errors.Is(err, store.ErrNotFound) {
		return Sample{}, ErrUnavailable
	}
	return sample, err
}

const geoKey = "geo:operators"

// RedisSampleStore indexes operator positions with GEOADD and keeps the full
// sample (accuracy, timestamp, denied flag) in a hash per operator.
type RedisSampleStore struct {
	redis *redis.Client
}

func NewRedisSampleStore(rdb *redis.Client) *RedisSampleStore {
	return &RedisSampleStore{redis: rdb}
}

func sampleKey(id types.ID) string {
	return "loc:operator:" + string(id)
}

func (s *RedisSampleStore) Put(ctx context.Context, sample Sample) error {
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if !sample.Denied {
			p.GeoAdd(ctx, geoKey, &redis.GeoLocation{
				Name:      string(sample.OperatorID),
				Longitude: sample.Fix.Lng,
				Latitude:  sample.Fix.Lat,
			})
		}
		p.HSet(ctx, sampleKey(sample.OperatorID), map[string]any{
			"lat":         strconv.FormatFloat(sample.Fix.Lat, 'f', -1, 64),
			"lng":         strconv.FormatFloat(sample.Fix.Lng, 'f', -1, 64),
			"accuracy":    strconv.FormatFloat(sample.Fix.Accuracy, 'f', -1, 64),
			"denied":      strconv.FormatBool(sample.Denied),
			"recorded_at": strconv.FormatInt(sample.RecordedAt, 10),
		})
		return nil
	})
	return err
}

func (s *RedisSampleStore) Latest(ctx context.Context, operatorID types.ID) (Sample, error) {
	vals, err := s.redis.HGetAll(ctx, sampleKey(operatorID)).Result()
	if err != nil {
		return Sample{}, err
	}
	if len(vals) == 0 {
		return Sample{}, ErrUnavailable
	}
	sample := Sample{OperatorID: operatorID}
	if sample.Fix.Lat, err = strconv.ParseFloat(vals["lat"], 64); err != nil {
		return Sample{}, fmt.Errorf("parse lat: %w", err)
	}
	if sample.Fix.Lng, err = strconv.ParseFloat(vals["lng"], 64); err != nil {
		return Sample{}, fmt.Errorf("parse lng: %w", err)
	}
	if sample.Fix.Accuracy, err = strconv.ParseFloat(vals["accuracy"], 64); err != nil {
		return Sample{}, fmt.Errorf("parse accuracy: %w", err)
	}
	sample.Denied = vals["denied"] == "true"
	if sample.RecordedAt, err = strconv.ParseInt(vals["recorded_at"], 10, 64); err != nil {
		return Sample{}, fmt.Errorf("parse recorded_at: %w", err)
	}
	return sample, nil
}

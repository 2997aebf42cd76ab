// README: Ledger store backed by PostgreSQL.
package ledger

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"aeras/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	var reason *string
	if e.Reason != "" {
		reason = &e.Reason
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO transition_events (
			entity_type, entity_id, from_status, to_status, actor_type, actor_id, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(e.EntityType),
		string(e.EntityID),
		e.FromStatus,
		e.ToStatus,
		e.ActorType,
		toStringPtr(e.ActorID),
		reason,
		e.CreatedAt,
	)
	return err
}

// ArchiveCompletion inserts the completion once; a replay is a no-op.
func (s *Store) ArchiveCompletion(ctx context.Context, c *Completion) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO completed_rides (
			ride_id, request_id, user_id, operator_id, pickup_block, dropoff_block,
			distance_km, fare, dropoff_distance_m, points_earned, points_status,
			admin_resolved, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (ride_id) DO NOTHING`,
		string(c.RideID),
		string(c.RequestID),
		string(c.UserID),
		string(c.OperatorID),
		c.PickupBlock,
		c.DropoffBlock,
		c.DistanceKm,
		c.Fare,
		c.DropoffDistanceM,
		c.PointsEarned,
		c.PointsStatus,
		c.AdminResolved,
		c.CompletedAt,
	)
	return err
}

// Events returns the history of one entity, oldest first.
func (s *Store) Events(ctx context.Context, entityID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, entity_type, entity_id, from_status, to_status, actor_type, actor_id,
		       COALESCE(reason, ''), created_at
		FROM transition_events
		WHERE entity_id = $1
		ORDER BY id`, string(entityID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.FromStatus, &e.ToStatus,
			&e.ActorType, &actorID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			id := types.ID(*actorID)
			e.ActorID = &id
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CompletionCount reports how many archived completions an operator has.
func (s *Store) CompletionCount(ctx context.Context, operatorID types.ID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM completed_rides WHERE operator_id = $1`, string(operatorID)).Scan(&n)
	return n, err
}

func toStringPtr(id *types.ID) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

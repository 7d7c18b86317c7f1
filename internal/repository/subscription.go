package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/devicelocator/locator-relay/internal/model"
)

// SubscriptionRepository is the lifecycle ledger of upstream subscriptions.
type SubscriptionRepository interface {
	FindByID(ctx context.Context, id string) (*model.SubscriptionRecord, error)
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]model.SubscriptionRecord, int, error)
	Create(ctx context.Context, params model.CreateSubscriptionRecordParams) error
	MarkEnded(ctx context.Context, params model.EndSubscriptionRecordParams) error
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type subscriptionRepo struct {
	db *sqlx.DB
}

func NewSubscriptionRepository(db *sqlx.DB) SubscriptionRepository {
	return &subscriptionRepo{db: db}
}

func (r *subscriptionRepo) FindByID(ctx context.Context, id string) (*model.SubscriptionRecord, error) {
	var rec model.SubscriptionRecord
	err := r.db.GetContext(ctx, &rec, `SELECT * FROM relay_subscriptions WHERE id = $1`, id)
	return HandleNotFound(&rec, err)
}

func (r *subscriptionRepo) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]model.SubscriptionRecord, int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM relay_subscriptions WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, 0, err
	}

	recs := []model.SubscriptionRecord{}
	err = r.db.SelectContext(ctx, &recs, `
		SELECT * FROM relay_subscriptions
		WHERE session_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	return recs, total, err
}

func (r *subscriptionRepo) Create(ctx context.Context, params model.CreateSubscriptionRecordParams) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO relay_subscriptions (id, session_id, device_selector, event_prefix, state, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, params.ID, params.SessionID, params.DeviceSelector, params.EventPrefix,
		string(model.SubscriptionStateSubscribed), time.Now())
	return err
}

func (r *subscriptionRepo) MarkEnded(ctx context.Context, params model.EndSubscriptionRecordParams) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE relay_subscriptions SET
			state = $2,
			end_reason = $3,
			events_received = $4,
			events_forwarded = $5,
			ended_at = $6
		WHERE id = $1
	`, params.ID, string(model.SubscriptionStateEnded), string(params.Reason),
		params.EventsReceived, params.EventsForwarded, time.Now())
	return err
}

func (r *subscriptionRepo) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM relay_subscriptions
		WHERE ended_at IS NOT NULL AND ended_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

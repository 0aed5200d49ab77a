package db

import (
	"context"
	"database/sql"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

type SubscriptionRepoPG struct {
	db *sql.DB
}

func NewSubscriptionRepoPG(db *sql.DB) *SubscriptionRepoPG {
	return &SubscriptionRepoPG{db: db}
}

func (r *SubscriptionRepoPG) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	var p models.Plan
	err := r.db.QueryRowContext(ctx, `SELECT id, name, price, duration_days, is_trial FROM plans WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.DurationDays, &p.IsTrial)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *SubscriptionRepoPG) CreateSubscription(ctx context.Context, s *models.Subscription) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO subscriptions (id, account_id, plan_id, starts_at, expires_at, status) VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.AccountID, s.PlanID, s.StartsAt, s.ExpiresAt, s.Status)
	return err
}

// GetCurrent returns the most recent subscription of the account.
func (r *SubscriptionRepoPG) GetCurrent(ctx context.Context, accountID string) (*models.Subscription, error) {
	var s models.Subscription
	err := r.db.QueryRowContext(ctx, `SELECT id, account_id, plan_id, starts_at, expires_at, status FROM subscriptions
		WHERE account_id=$1 AND status <> 'cancelled'
		ORDER BY expires_at DESC LIMIT 1`, accountID).
		Scan(&s.ID, &s.AccountID, &s.PlanID, &s.StartsAt, &s.ExpiresAt, &s.Status)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

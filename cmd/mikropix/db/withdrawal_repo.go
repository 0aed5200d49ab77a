package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

const withdrawalColumns = `id, account_id, amount, pix_key, status, remote_id, reason, created_at, processed_at`

type WithdrawalRepoPG struct {
	db *sql.DB
}

func NewWithdrawalRepoPG(db *sql.DB) *WithdrawalRepoPG {
	return &WithdrawalRepoPG{db: db}
}

func scanWithdrawal(row rowScanner) (*models.Withdrawal, error) {
	var w models.Withdrawal
	var processedAt sql.NullTime
	if err := row.Scan(&w.ID, &w.AccountID, &w.Amount, &w.PixKey, &w.Status, &w.RemoteID, &w.Reason, &w.CreatedAt, &processedAt); err != nil {
		return nil, err
	}
	if processedAt.Valid {
		w.ProcessedAt = &processedAt.Time
	}
	return &w, nil
}

func (r *WithdrawalRepoPG) CreateWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO withdrawals (id, account_id, amount, pix_key, status, remote_id) VALUES ($1, $2, $3, $4, $5, $6)`,
		w.ID, w.AccountID, w.Amount, w.PixKey, w.Status, w.RemoteID)
	return err
}

func (r *WithdrawalRepoPG) GetByID(ctx context.Context, id string) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(r.db.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id=$1`, id))
	return w, notFound(err)
}

func (r *WithdrawalRepoPG) ListByAccount(ctx context.Context, accountID string) ([]models.Withdrawal, error) {
	return r.list(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE account_id=$1 ORDER BY created_at DESC`, accountID)
}

func (r *WithdrawalRepoPG) ListAll(ctx context.Context) ([]models.Withdrawal, error) {
	return r.list(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals ORDER BY created_at DESC`)
}

// SumPending is the total of withdrawals still awaiting a decision.
func (r *WithdrawalRepoPG) SumPending(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM withdrawals WHERE account_id=$1 AND status='pending'`, accountID).Scan(&sum)
	return sum, err
}

// Approve debits the account and closes the withdrawal in one transaction.
// confirm runs after the debit and before commit; an error from it rolls the
// approval back.
func (r *WithdrawalRepoPG) Approve(ctx context.Context, id string, confirm func(models.Withdrawal) error) (*models.Withdrawal, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	w, err := lockPending(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	entry := &models.LedgerTransaction{
		AccountID: w.AccountID,
		Kind:      models.LedgerWithdrawalDebit,
		Amount:    w.Amount,
		Reference: "withdrawal:" + w.ID,
	}
	if err := applyBalance(ctx, tx, entry); err != nil {
		return nil, err
	}
	if confirm != nil {
		if err := confirm(*w); err != nil {
			return nil, err
		}
	}
	if w, err = finish(ctx, tx, id, models.WithdrawalApproved, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *WithdrawalRepoPG) Reject(ctx context.Context, id, reason string) (*models.Withdrawal, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := lockPending(ctx, tx, id); err != nil {
		return nil, err
	}
	w, err := finish(ctx, tx, id, models.WithdrawalRejected, reason)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return w, nil
}

func lockPending(ctx context.Context, tx *sql.Tx, id string) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(tx.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if w.Status != models.WithdrawalPending {
		return nil, ErrNotPending
	}
	return w, nil
}

func finish(ctx context.Context, tx *sql.Tx, id string, status models.WithdrawalStatus, reason string) (*models.Withdrawal, error) {
	return scanWithdrawal(tx.QueryRowContext(ctx, `UPDATE withdrawals SET status=$1, reason=$2, processed_at=CURRENT_TIMESTAMP
		WHERE id=$3 RETURNING `+withdrawalColumns, status, reason, id))
}

func (r *WithdrawalRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]models.Withdrawal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var withdrawals []models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return withdrawals, nil
}

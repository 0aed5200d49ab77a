package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

const accountColumns = `id, display_name, email, password_hash, role, balance, auto_withdraw_enabled, pix_key, created_at, updated_at`

type AccountRepoPG struct {
	db *sql.DB
}

func NewAccountRepoPG(db *sql.DB) *AccountRepoPG {
	return &AccountRepoPG{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.DisplayName, &a.Email, &a.PasswordHash, &a.Role, &a.Balance, &a.AutoWithdrawEnabled, &a.PixKey, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepoPG) CreateAccount(ctx context.Context, a *models.Account) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO accounts (id, display_name, email, password_hash, role) VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.DisplayName, a.Email, a.PasswordHash, a.Role)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *AccountRepoPG) IsEmailExist(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE email=$1)`, email).Scan(&exists)
	return exists, err
}

func (r *AccountRepoPG) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email=$1`, email))
	return a, notFound(err)
}

func (r *AccountRepoPG) GetByID(ctx context.Context, id string) (*models.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
	return a, notFound(err)
}

func (r *AccountRepoPG) ListByIDs(ctx context.Context, ids []string) ([]models.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in, args := inList(nil, ids)
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id IN (`+in+`) ORDER BY id`, args...)
}

// ListAutoWithdrawCandidates returns accounts that opted into automatic
// withdrawals, have a pix key and hold at least min.
func (r *AccountRepoPG) ListAutoWithdrawCandidates(ctx context.Context, min decimal.Decimal) ([]models.Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE auto_withdraw_enabled AND pix_key <> '' AND balance >= $1
		AND NOT EXISTS (SELECT 1 FROM withdrawals w WHERE w.account_id = accounts.id AND w.status = 'pending')
		ORDER BY id`, min)
}

func (r *AccountRepoPG) UpdateSettings(ctx context.Context, id string, s models.AccountSettings) error {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET
		pix_key = COALESCE($1, pix_key),
		auto_withdraw_enabled = COALESCE($2, auto_withdraw_enabled),
		updated_at = CURRENT_TIMESTAMP
		WHERE id=$3`, s.PixKey, s.AutoWithdrawEnabled, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AccountRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]models.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

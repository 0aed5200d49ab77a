package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

type LedgerRepoPG struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewLedgerRepoPG(db *sql.DB, logger *zap.Logger) *LedgerRepoPG {
	return &LedgerRepoPG{db: db, logger: logger}
}

// ListAttributionHints returns commission credits that recorded the amounts
// and payment time of the sale they paid, for sales paid within [w.Start, w.End).
func (r *LedgerRepoPG) ListAttributionHints(ctx context.Context, w models.Window) ([]models.AttributionHint, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT account_id::text, sale_gross::text, sale_admin_commission::text, sale_paid_at
		FROM ledger_transactions
		WHERE kind = 'commission_credit' AND sale_gross IS NOT NULL AND sale_admin_commission IS NOT NULL
		AND sale_paid_at >= $1 AND sale_paid_at < $2
		ORDER BY sale_paid_at`, w.Start, w.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hints []models.AttributionHint
	for rows.Next() {
		var h models.AttributionHint
		var gross, admin string
		if err := rows.Scan(&h.UserID, &gross, &admin, &h.Timestamp); err != nil {
			return nil, err
		}
		if h.GrossAmount, err = decimal.NewFromString(gross); err != nil {
			r.logger.Warn("Skipping ledger hint", zap.String("sale_gross", gross), zap.Error(err))
			continue
		}
		if h.AdminCommission, err = decimal.NewFromString(admin); err != nil {
			r.logger.Warn("Skipping ledger hint", zap.String("sale_admin_commission", admin), zap.Error(err))
			continue
		}
		hints = append(hints, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hints, nil
}

// CreditCommission marks the sale credited and adds its user commission to
// the account balance in one transaction.
func (r *LedgerRepoPG) CreditCommission(ctx context.Context, rec models.SaleRecord) (*models.LedgerTransaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE pix_sales SET credited_at = CURRENT_TIMESTAMP WHERE id=$1 AND credited_at IS NULL`, rec.ID)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrAlreadyCredited
	}
	saleID := rec.ID
	entry := &models.LedgerTransaction{
		AccountID:           rec.UserID,
		Kind:                models.LedgerCommissionCredit,
		Amount:              rec.UserCommission,
		SaleID:              &saleID,
		SaleGross:           decimal.NewNullDecimal(rec.GrossAmount),
		SaleAdminCommission: decimal.NewNullDecimal(rec.AdminCommission),
		SalePaidAt:          sql.NullTime{Time: rec.Timestamp, Valid: !rec.Timestamp.IsZero()},
		Reference:           "pix:" + rec.ID,
	}
	if err := applyBalance(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *LedgerRepoPG) Credit(ctx context.Context, accountID string, amount decimal.Decimal, reference string) (*models.LedgerTransaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	entry := &models.LedgerTransaction{
		AccountID: accountID,
		Kind:      models.LedgerManualCredit,
		Amount:    amount,
		Reference: reference,
	}
	if err := applyBalance(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *LedgerRepoPG) ListByAccount(ctx context.Context, accountID string) ([]models.LedgerTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, account_id, kind, amount, sale_id, sale_gross, sale_admin_commission, reference, balance_after, created_at
		FROM ledger_transactions WHERE account_id=$1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []models.LedgerTransaction
	for rows.Next() {
		var e models.LedgerTransaction
		var saleID sql.NullString
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Amount, &saleID, &e.SaleGross, &e.SaleAdminCommission, &e.Reference, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		if saleID.Valid {
			e.SaleID = &saleID.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// applyBalance moves the account balance by the signed amount of entry and
// writes the ledger row with the resulting balance. Debits never take the
// balance below zero.
func applyBalance(ctx context.Context, tx *sql.Tx, entry *models.LedgerTransaction) error {
	delta := entry.Amount
	if entry.Kind == models.LedgerWithdrawalDebit {
		delta = delta.Neg()
	}
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx, `UPDATE accounts SET balance = balance + $1, updated_at = CURRENT_TIMESTAMP
		WHERE id=$2 AND balance + $1 >= 0
		RETURNING balance`, delta, entry.AccountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id=$1)`, entry.AccountID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrInsufficientFunds
	}
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	entry.ID = uuid.NewString()
	entry.BalanceAfter = balance
	_, err = tx.ExecContext(ctx, `INSERT INTO ledger_transactions (id, account_id, kind, amount, sale_id, sale_gross, sale_admin_commission, sale_paid_at, reference, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.AccountID, entry.Kind, entry.Amount, entry.SaleID, entry.SaleGross, entry.SaleAdminCommission, entry.SalePaidAt, entry.Reference, entry.BalanceAfter)
	if err != nil {
		return fmt.Errorf("insert ledger transaction: %w", err)
	}
	return nil
}

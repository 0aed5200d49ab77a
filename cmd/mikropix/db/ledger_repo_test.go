package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

func saleRecord() models.SaleRecord {
	return models.SaleRecord{
		ID:              "p1",
		Source:          models.SourcePix,
		GrossAmount:     decimal.RequireFromString("100"),
		AdminCommission: decimal.RequireFromString("20"),
		UserCommission:  decimal.RequireFromString("80"),
		Timestamp:       time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
		Payable:         true,
		UserID:          "u1",
		Attribution:     models.AttributionDirect,
	}
}

func TestLedgerRepo_CreditCommission(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	repo := NewLedgerRepoPG(conn, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE pix_sales SET credited_at = CURRENT_TIMESTAMP WHERE id=\$1 AND credited_at IS NULL`).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE accounts SET balance = balance \+ \$1`).
		WithArgs("80", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("130.00"))
	mock.ExpectExec(`INSERT INTO ledger_transactions`).
		WithArgs(sqlmock.AnyArg(), "u1", "commission_credit", "80", "p1", "100", "20", saleRecord().Timestamp, "pix:p1", "130").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, err := repo.CreditCommission(context.Background(), saleRecord())
	require.NoError(t, err)
	assert.Equal(t, "130", entry.BalanceAfter.String())
	assert.NotEmpty(t, entry.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_CreditCommissionTwice(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	repo := NewLedgerRepoPG(conn, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE pix_sales SET credited_at`).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err = repo.CreditCommission(context.Background(), saleRecord())
	assert.ErrorIs(t, err, ErrAlreadyCredited)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_CreditUnknownAccount(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	repo := NewLedgerRepoPG(conn, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE accounts SET balance`).
		WithArgs("15", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM accounts WHERE id=\$1\)`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err = repo.Credit(context.Background(), "ghost", decimal.RequireFromString("15"), "ajuste")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_ListAttributionHints(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	repo := NewLedgerRepoPG(conn, zap.NewNop())
	w := models.Window{Start: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	paid := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT account_id::text, sale_gross::text, sale_admin_commission::text, sale_paid_at\s+FROM ledger_transactions\s+WHERE kind = 'commission_credit'.*AND sale_paid_at >= \$1 AND sale_paid_at < \$2`).
		WithArgs(w.Start, w.End).
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "sale_gross", "sale_admin_commission", "sale_paid_at"}).
			AddRow("u1", "30.00", "6.00", paid).
			AddRow("u2", "NaN?", "1.00", paid))

	hints, err := repo.ListAttributionHints(context.Background(), w)
	require.NoError(t, err)
	require.Len(t, hints, 1)
	assert.Equal(t, "u1", hints[0].UserID)
	assert.Equal(t, "30", hints[0].GrossAmount.String())
	assert.Equal(t, "6", hints[0].AdminCommission.String())
	assert.True(t, hints[0].Timestamp.Equal(paid))
	require.NoError(t, mock.ExpectationsWereMet())
}

// The settlement worker credits a sale some time after it was paid; the hint
// must carry the payment time, not the credit time.
func TestLedgerRepo_HintKeepsSalePaymentTime(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	repo := NewLedgerRepoPG(conn, zap.NewNop())
	rec := saleRecord()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE pix_sales SET credited_at`).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE accounts SET balance`).
		WithArgs("80", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("80.00"))
	mock.ExpectExec(`INSERT INTO ledger_transactions \(id, account_id, kind, amount, sale_id, sale_gross, sale_admin_commission, sale_paid_at, reference, balance_after\)`).
		WithArgs(sqlmock.AnyArg(), "u1", "commission_credit", "80", "p1", "100", "20", rec.Timestamp, "pix:p1", "80").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, err := repo.CreditCommission(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, entry.SalePaidAt.Valid)
	assert.True(t, entry.SalePaidAt.Time.Equal(rec.Timestamp))

	w := models.Window{Start: rec.Timestamp.Add(-time.Second), End: rec.Timestamp.Add(time.Second)}
	mock.ExpectQuery(`AND sale_paid_at >= \$1 AND sale_paid_at < \$2\s+ORDER BY sale_paid_at`).
		WithArgs(w.Start, w.End).
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "sale_gross", "sale_admin_commission", "sale_paid_at"}).
			AddRow("u1", "100.00", "20.00", rec.Timestamp))

	hints, err := repo.ListAttributionHints(context.Background(), w)
	require.NoError(t, err)
	require.Len(t, hints, 1)
	assert.True(t, hints[0].Timestamp.Equal(rec.Timestamp))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_ListByAccount(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	repo := NewLedgerRepoPG(conn, zap.NewNop())
	at := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM ledger_transactions WHERE account_id=\$1 ORDER BY created_at DESC`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "kind", "amount", "sale_id", "sale_gross", "sale_admin_commission", "reference", "balance_after", "created_at"}).
			AddRow("l2", "u1", "manual_credit", "5.00", nil, nil, nil, "bônus", "85.00", at.Add(time.Hour)).
			AddRow("l1", "u1", "commission_credit", "80.00", "p1", "100.00", "20.00", "pix:p1", "80.00", at))

	entries, err := repo.ListByAccount(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.LedgerManualCredit, entries[0].Kind)
	assert.Nil(t, entries[0].SaleID)
	assert.False(t, entries[0].SaleGross.Valid)
	require.NotNil(t, entries[1].SaleID)
	assert.Equal(t, "p1", *entries[1].SaleID)
	assert.Equal(t, "100", entries[1].SaleGross.Decimal.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

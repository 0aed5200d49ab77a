package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

// Money columns are cast to text so that the reconciler decides how to
// coerce malformed values.
const pixColumns = `p.id, p.mikrotik_id::text, p.user_id::text, p.user_id_provenance,
	p.gross_amount::text, p.admin_commission::text, p.user_commission::text,
	p.mac_address, p.plan_label, p.paid_at`

type SaleRepoPG struct {
	db *sql.DB
}

func NewSaleRepoPG(db *sql.DB) *SaleRepoPG {
	return &SaleRepoPG{db: db}
}

func (r *SaleRepoPG) ListPixSales(ctx context.Context, deviceIDs []string, w models.Window) ([]models.PixSaleRow, error) {
	if len(deviceIDs) == 0 {
		return nil, nil
	}
	in, args := inList([]interface{}{w.Start, w.End}, deviceIDs)
	return r.listPix(ctx, `SELECT `+pixColumns+` FROM pix_sales p
		WHERE p.status = 'completed' AND p.paid_at >= $1 AND p.paid_at < $2
		AND p.mikrotik_id::text IN (`+in+`)
		ORDER BY p.paid_at, p.id`, args...)
}

func (r *SaleRepoPG) ListPhysicalVouchers(ctx context.Context, deviceIDs []string, w models.Window) ([]models.VoucherRow, error) {
	return r.listVouchers(ctx, "physical_vouchers", "sold_at", deviceIDs, w)
}

func (r *SaleRepoPG) ListCaptiveVouchers(ctx context.Context, deviceIDs []string, w models.Window) ([]models.VoucherRow, error) {
	return r.listVouchers(ctx, "captive_vouchers", "used_at", deviceIDs, w)
}

// ListUncreditedPix returns completed PIX sales not yet credited whose
// reseller is known either from the row itself or from the device owner.
func (r *SaleRepoPG) ListUncreditedPix(ctx context.Context, limit int) ([]models.PixSaleRow, error) {
	return r.listPix(ctx, `SELECT `+pixColumns+` FROM pix_sales p
		JOIN devices d ON d.id = p.mikrotik_id
		WHERE p.status = 'completed' AND p.credited_at IS NULL AND p.paid_at IS NOT NULL
		AND ((p.user_id IS NOT NULL AND COALESCE(p.user_id_provenance, 'direct') = 'direct')
			OR (p.user_id IS NULL AND d.owner_id IS NOT NULL))
		ORDER BY p.paid_at, p.id
		LIMIT $1`, limit)
}

// ListUnattributedPix returns completed PIX sales on devices without an
// owner that carry no user link.
func (r *SaleRepoPG) ListUnattributedPix(ctx context.Context) ([]models.PixSaleRow, error) {
	return r.listPix(ctx, `SELECT `+pixColumns+` FROM pix_sales p
		JOIN devices d ON d.id = p.mikrotik_id
		WHERE p.status = 'completed' AND p.paid_at IS NOT NULL AND p.user_id IS NULL AND d.owner_id IS NULL
		ORDER BY p.paid_at, p.id`)
}

// ListAttributedPix returns completed PIX sales with a known reseller in
// [w.Start, w.End), used as correlation references.
func (r *SaleRepoPG) ListAttributedPix(ctx context.Context, w models.Window) ([]models.PixSaleRow, error) {
	return r.listPix(ctx, `SELECT p.id, p.mikrotik_id::text, COALESCE(p.user_id, d.owner_id)::text, p.user_id_provenance,
		p.gross_amount::text, p.admin_commission::text, p.user_commission::text,
		p.mac_address, p.plan_label, p.paid_at
		FROM pix_sales p
		JOIN devices d ON d.id = p.mikrotik_id
		WHERE p.status = 'completed' AND p.paid_at >= $1 AND p.paid_at < $2
		AND (p.user_id IS NOT NULL OR d.owner_id IS NOT NULL)
		ORDER BY p.paid_at, p.id`, w.Start, w.End)
}

// SetBackfilledUser stores a correlated reseller on a sale that has none.
// It reports false when the row was attributed meanwhile.
func (r *SaleRepoPG) SetBackfilledUser(ctx context.Context, saleID, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE pix_sales SET user_id=$1, user_id_provenance='backfilled' WHERE id=$2 AND user_id IS NULL`, userID, saleID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SaleRepoPG) listPix(ctx context.Context, query string, args ...interface{}) ([]models.PixSaleRow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sales []models.PixSaleRow
	for rows.Next() {
		var s models.PixSaleRow
		var paidAt sql.NullTime
		if err := rows.Scan(&s.ID, &s.DeviceID, &s.UserID, &s.UserProvenance,
			&s.GrossAmount, &s.AdminCommission, &s.UserCommission,
			&s.MACAddress, &s.PlanLabel, &paidAt); err != nil {
			return nil, fmt.Errorf("scan pix sale: %w", err)
		}
		// a sale without a payment time belongs to no window
		if !paidAt.Valid {
			continue
		}
		s.PaidAt = paidAt.Time
		sales = append(sales, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (r *SaleRepoPG) listVouchers(ctx context.Context, table, soldAt string, deviceIDs []string, w models.Window) ([]models.VoucherRow, error) {
	if len(deviceIDs) == 0 {
		return nil, nil
	}
	in, args := inList([]interface{}{w.Start, w.End}, deviceIDs)
	query := fmt.Sprintf(`SELECT id, mikrotik_id::text, amount::text, mac_address, plan_label, %[2]s
		FROM %[1]s
		WHERE %[2]s >= $1 AND %[2]s < $2 AND mikrotik_id::text IN (%[3]s)
		ORDER BY %[2]s, id`, table, soldAt, in)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var vouchers []models.VoucherRow
	for rows.Next() {
		var v models.VoucherRow
		if err := rows.Scan(&v.ID, &v.DeviceID, &v.Amount, &v.MACAddress, &v.PlanLabel, &v.SoldAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		vouchers = append(vouchers, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vouchers, nil
}

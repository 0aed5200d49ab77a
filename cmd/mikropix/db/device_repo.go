package db

import (
	"context"
	"database/sql"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

const deviceColumns = `id, COALESCE(owner_id::text, ''), name, host, commission_percentage, created_at`

type DeviceRepoPG struct {
	db *sql.DB
}

func NewDeviceRepoPG(db *sql.DB) *DeviceRepoPG {
	return &DeviceRepoPG{db: db}
}

func (r *DeviceRepoPG) ListByIDs(ctx context.Context, ids []string) ([]models.Device, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in, args := inList(nil, ids)
	return r.list(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id::text IN (`+in+`) ORDER BY id`, args...)
}

func (r *DeviceRepoPG) ListByOwner(ctx context.Context, ownerID string) ([]models.Device, error) {
	return r.list(ctx, `SELECT `+deviceColumns+` FROM devices WHERE owner_id=$1 ORDER BY name, id`, ownerID)
}

func (r *DeviceRepoPG) ListAll(ctx context.Context) ([]models.Device, error) {
	return r.list(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY name, id`)
}

func (r *DeviceRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]models.Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var devices []models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.Name, &d.Host, &d.CommissionPercentage, &d.CreatedAt); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return devices, nil
}

package reconcile

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

func ns(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func manaus(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(DefaultTimezone)
	require.NoError(t, err)
	return loc
}

type fakeSales struct {
	pix      []models.PixSaleRow
	physical []models.VoucherRow
	captive  []models.VoucherRow
	pixErr   error
	physErr  error
	captErr  error
	calls    atomic.Int32
}

func (f *fakeSales) ListPixSales(_ context.Context, _ []string, _ models.Window) ([]models.PixSaleRow, error) {
	f.calls.Add(1)
	return f.pix, f.pixErr
}

func (f *fakeSales) ListPhysicalVouchers(_ context.Context, _ []string, _ models.Window) ([]models.VoucherRow, error) {
	f.calls.Add(1)
	return f.physical, f.physErr
}

func (f *fakeSales) ListCaptiveVouchers(_ context.Context, _ []string, _ models.Window) ([]models.VoucherRow, error) {
	f.calls.Add(1)
	return f.captive, f.captErr
}

type fakeDevices struct {
	devices []models.Device
	err     error
}

func (f *fakeDevices) ListByIDs(_ context.Context, ids []string) ([]models.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Device
	for _, d := range f.devices {
		if want[d.ID] {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeAccounts struct {
	accounts []models.Account
}

func (f *fakeAccounts) ListByIDs(_ context.Context, _ []string) ([]models.Account, error) {
	return f.accounts, nil
}

type fakeHints struct {
	hints []models.AttributionHint
	err   error
}

func (f *fakeHints) ListAttributionHints(_ context.Context, _ models.Window) ([]models.AttributionHint, error) {
	return f.hints, f.err
}

func pixRow(id, device string, gross, admin string, at time.Time) models.PixSaleRow {
	row := models.PixSaleRow{
		ID:          id,
		DeviceID:    device,
		GrossAmount: ns(gross),
		PaidAt:      at,
		PlanLabel:   ns("1 hora"),
		MACAddress:  ns("AA:BB:CC:DD:EE:FF"),
	}
	if admin != "" {
		row.AdminCommission = ns(admin)
		g := dec(gross)
		row.UserCommission = ns(g.Sub(dec(admin)).String())
	}
	return row
}

func voucherRow(id, device, amount string, at time.Time) models.VoucherRow {
	return models.VoucherRow{ID: id, DeviceID: device, Amount: ns(amount), SoldAt: at, PlanLabel: ns("Diária")}
}

package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

type captureRecorder struct {
	mu        sync.Mutex
	failed    []models.Source
	heuristic int
	statuses  []models.RollupStatus
}

func (c *captureRecorder) SourceFailed(s models.Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, s)
}

func (c *captureRecorder) HeuristicAttributed(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heuristic += n
}

func (c *captureRecorder) RollupComputed(s models.RollupStatus, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, s)
}

func newTestEngine(t *testing.T, sales *fakeSales, hints HintRepo, rec Recorder) *Engine {
	t.Helper()
	devices := &fakeDevices{devices: []models.Device{
		{ID: "D", OwnerID: "U", Name: "Hotspot Centro"},
		{ID: "orphan", Name: "Roteador antigo"},
	}}
	accounts := &fakeAccounts{accounts: []models.Account{{ID: "U", DisplayName: "Loja do João"}}}
	return NewEngine(sales, devices, accounts, hints, Config{Location: manaus(t), TopN: 5}, zap.NewNop(), rec)
}

func TestEngine_PartialWhenOneSourceFails(t *testing.T) {
	loc := manaus(t)
	now := time.Date(2024, 5, 20, 15, 0, 0, 0, loc)
	sales := &fakeSales{
		pix:     []models.PixSaleRow{pixRow("p1", "D", "100", "20", now.Add(-time.Hour))},
		physErr: errors.New("relation physical_vouchers does not exist"),
		captive: []models.VoucherRow{voucherRow("c1", "D", "15", now.Add(-2*time.Hour))},
	}
	rec := &captureRecorder{}

	res, err := newTestEngine(t, sales, nil, rec).ComputeRollup(context.Background(), Request{
		Role:      models.RoleAdmin,
		DeviceIDs: []string{"D"},
		Now:       now,
	})

	require.NoError(t, err)
	assert.Equal(t, models.RollupPartial, res.Status)
	assert.True(t, res.Partial)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, models.SourcePhysicalVoucher, res.Warnings[0].Source)
	assert.Equal(t, "115", res.Month.Total.String())
	assert.Equal(t, "100", res.Month.BySource[models.SourcePix].String())
	assert.Equal(t, "15", res.Month.BySource[models.SourceCaptiveVoucher].String())
	require.Len(t, res.TopUsers, 1)
	assert.Equal(t, "Loja do João", res.TopUsers[0].Name)
	assert.Equal(t, "Hotspot Centro", res.TopDevices[0].Name)
	assert.Equal(t, []models.Source{models.SourcePhysicalVoucher}, rec.failed)
	assert.Equal(t, []models.RollupStatus{models.RollupPartial}, rec.statuses)
}

func TestEngine_UnavailableWhenEverySourceFails(t *testing.T) {
	now := time.Date(2024, 5, 20, 15, 0, 0, 0, time.UTC)
	boom := errors.New("timeout")
	sales := &fakeSales{pixErr: boom, physErr: boom, captErr: boom}

	res, err := newTestEngine(t, sales, nil, nil).ComputeRollup(context.Background(), Request{
		Role:      models.RoleUser,
		DeviceIDs: []string{"D"},
		Now:       now,
	})

	require.ErrorIs(t, err, ErrRollupUnavailable)
	assert.Equal(t, models.RollupUnavailable, res.Status)
	assert.Len(t, res.Warnings, 3)
	assert.True(t, res.Month.Total.IsZero())
}

func TestEngine_HeuristicFromLedgerHints(t *testing.T) {
	loc := manaus(t)
	now := time.Date(2024, 5, 20, 15, 0, 0, 0, loc)
	sold := now.Add(-time.Hour)
	sales := &fakeSales{pix: []models.PixSaleRow{pixRow("p1", "orphan", "40", "8", sold)}}
	hints := &fakeHints{hints: []models.AttributionHint{
		{UserID: "U", GrossAmount: dec("40"), AdminCommission: dec("8"), Timestamp: sold.Add(400 * time.Millisecond)},
	}}
	rec := &captureRecorder{}

	res, err := newTestEngine(t, sales, hints, rec).ComputeRollup(context.Background(), Request{
		Role:      models.RoleAdmin,
		DeviceIDs: []string{"orphan"},
		Now:       now,
	})

	require.NoError(t, err)
	require.Len(t, res.TopUsers, 1)
	assert.Equal(t, "U", res.TopUsers[0].Key)
	assert.True(t, res.TopUsers[0].LowConfidence)
	assert.Equal(t, 1, res.LowConfidence)
	assert.Equal(t, 1, rec.heuristic)
}

func TestEngine_HintFailureIsNotFatal(t *testing.T) {
	now := time.Date(2024, 5, 20, 15, 0, 0, 0, time.UTC)
	sales := &fakeSales{pix: []models.PixSaleRow{pixRow("p1", "orphan", "40", "8", now.Add(-time.Hour))}}

	res, err := newTestEngine(t, sales, &fakeHints{err: errors.New("down")}, nil).ComputeRollup(context.Background(), Request{
		Role:      models.RoleAdmin,
		DeviceIDs: []string{"orphan"},
		Now:       now,
	})

	require.NoError(t, err)
	assert.Equal(t, models.RollupComplete, res.Status)
	assert.Equal(t, 1, res.Unresolved)
	assert.Empty(t, res.TopUsers)
}

func TestEngine_EmptyDeviceSet(t *testing.T) {
	sales := &fakeSales{}
	res, err := newTestEngine(t, sales, nil, nil).ComputeRollup(context.Background(), Request{
		Role: models.RoleUser,
		Now:  time.Date(2024, 5, 20, 15, 0, 0, 0, time.UTC),
	})

	require.NoError(t, err)
	assert.Equal(t, models.RollupComplete, res.Status)
	assert.Empty(t, res.TopDevices)
	assert.Equal(t, int32(0), sales.calls.Load())
}

func TestEngine_DeviceLookupFailure(t *testing.T) {
	e := NewEngine(&fakeSales{}, &fakeDevices{err: errors.New("db down")}, nil, nil, Config{}, zap.NewNop(), nil)
	_, err := e.ComputeRollup(context.Background(), Request{Role: models.RoleAdmin, DeviceIDs: []string{"D"}, Now: time.Now()})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRollupUnavailable)
}

func TestEngine_RejectsUnknownRole(t *testing.T) {
	_, err := newTestEngine(t, &fakeSales{}, nil, nil).ComputeRollup(context.Background(), Request{Role: "owner", Now: time.Now()})
	require.Error(t, err)
}

func TestEngine_RecordsAreOrderedAndWindowed(t *testing.T) {
	loc := manaus(t)
	now := time.Date(2024, 5, 20, 15, 0, 0, 0, loc)
	w := models.Window{Start: time.Date(2024, 5, 10, 0, 0, 0, 0, loc), End: time.Date(2024, 5, 11, 0, 0, 0, 0, loc)}
	sales := &fakeSales{
		pix: []models.PixSaleRow{
			pixRow("p2", "D", "10", "2", w.Start.Add(3*time.Hour)),
			pixRow("p1", "D", "10", "2", w.Start.Add(time.Hour)),
			pixRow("p0", "D", "10", "2", w.Start.Add(-time.Hour)),
		},
		physical: []models.VoucherRow{voucherRow("v1", "D", "5", w.Start.Add(2*time.Hour))},
	}

	ds, err := newTestEngine(t, sales, nil, nil).Records(context.Background(), Request{
		Role:      models.RoleAdmin,
		DeviceIDs: []string{"D"},
		Window:    w,
		Now:       now,
	})

	require.NoError(t, err)
	ids := make([]string, 0, len(ds.Records))
	for _, r := range ds.Records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"p1", "v1", "p2"}, ids)
	assert.Equal(t, "Loja do João", ds.UserNames["U"])
}

package reconcile

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

type SaleRepo interface {
	ListPixSales(ctx context.Context, deviceIDs []string, w models.Window) ([]models.PixSaleRow, error)
	ListPhysicalVouchers(ctx context.Context, deviceIDs []string, w models.Window) ([]models.VoucherRow, error)
	ListCaptiveVouchers(ctx context.Context, deviceIDs []string, w models.Window) ([]models.VoucherRow, error)
}

// Normalizer reads the three sale sources and maps their rows into
// SaleRecords. A failing source never blocks the other two.
type Normalizer struct {
	repo     SaleRepo
	logger   *zap.Logger
	recorder Recorder
}

func NewNormalizer(repo SaleRepo, logger *zap.Logger, recorder Recorder) *Normalizer {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Normalizer{repo: repo, logger: logger, recorder: recorder}
}

func (n *Normalizer) Normalize(ctx context.Context, deviceIDs []string, w models.Window) ([]models.SaleRecord, []models.SourceWarning) {
	ids := uniqueSorted(deviceIDs)
	if len(ids) == 0 {
		return nil, nil
	}

	var (
		pix                      []models.PixSaleRow
		physical, captive        []models.VoucherRow
		pixErr, physErr, captErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		pix, pixErr = n.repo.ListPixSales(ctx, ids, w)
		return nil
	})
	g.Go(func() error {
		physical, physErr = n.repo.ListPhysicalVouchers(ctx, ids, w)
		return nil
	})
	g.Go(func() error {
		captive, captErr = n.repo.ListCaptiveVouchers(ctx, ids, w)
		return nil
	})
	_ = g.Wait()

	var warnings []models.SourceWarning
	for src, err := range map[models.Source]error{
		models.SourcePix:             pixErr,
		models.SourcePhysicalVoucher: physErr,
		models.SourceCaptiveVoucher:  captErr,
	} {
		if err == nil {
			continue
		}
		n.logger.Error("Sale source unavailable", zap.String("source", string(src)), zap.Error(err))
		n.recorder.SourceFailed(src)
		warnings = append(warnings, models.SourceWarning{Source: src, Message: err.Error()})
	}
	sortWarnings(warnings)

	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(pix)+len(physical)+len(captive))
	records := make([]models.SaleRecord, 0, len(pix)+len(physical)+len(captive))
	keep := func(rec models.SaleRecord) {
		if _, ok := allowed[rec.DeviceID]; !ok || !w.Contains(rec.Timestamp) {
			return
		}
		key := string(rec.Source) + ":" + rec.ID
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		records = append(records, rec)
	}

	for _, row := range pix {
		rec, anomalies := NormalizePix(row)
		n.logAnomalies(rec, anomalies)
		keep(rec)
	}
	for _, row := range physical {
		rec, anomalies := NormalizeVoucher(models.SourcePhysicalVoucher, row)
		n.logAnomalies(rec, anomalies)
		keep(rec)
	}
	for _, row := range captive {
		rec, anomalies := NormalizeVoucher(models.SourceCaptiveVoucher, row)
		n.logAnomalies(rec, anomalies)
		keep(rec)
	}
	return records, warnings
}

func (n *Normalizer) logAnomalies(rec models.SaleRecord, anomalies []string) {
	for _, a := range anomalies {
		n.logger.Warn("Sale amount coerced",
			zap.String("source", string(rec.Source)),
			zap.String("id", rec.ID),
			zap.String("anomaly", a))
	}
}

// NormalizePix maps a pix_sales row. A user_id stored on the row is carried
// with its provenance; resolution of the rest happens in the Resolver.
func NormalizePix(row models.PixSaleRow) (models.SaleRecord, []string) {
	var anomalies []string
	gross := readAmount(row.GrossAmount)
	if gross.anomaly != "" {
		anomalies = append(anomalies, "gross_amount: "+gross.anomaly)
	}
	admin := readAmount(row.AdminCommission)
	if admin.anomaly != "" {
		anomalies = append(anomalies, "admin_commission: "+admin.anomaly)
	}
	user := readAmount(row.UserCommission)
	if user.anomaly != "" {
		anomalies = append(anomalies, "user_commission: "+user.anomaly)
	}
	a, u, splitAnomalies := splitPix(gross.value, admin, user)
	anomalies = append(anomalies, splitAnomalies...)

	rec := models.SaleRecord{
		ID:              row.ID,
		Source:          models.SourcePix,
		GrossAmount:     gross.value,
		AdminCommission: a,
		UserCommission:  u,
		Payable:         true,
		DeviceID:        row.DeviceID,
		Attribution:     models.AttributionUnresolved,
		Timestamp:       row.PaidAt,
		MACAddress:      row.MACAddress.String,
		PlanLabel:       row.PlanLabel.String,
	}
	if row.UserID.Valid && strings.TrimSpace(row.UserID.String) != "" {
		rec.UserID = strings.TrimSpace(row.UserID.String)
		rec.Attribution = models.AttributionDirect
		if row.UserProvenance.Valid && row.UserProvenance.String == string(models.AttributionBackfilled) {
			rec.Attribution = models.AttributionBackfilled
		}
	}
	rec.Confidence = rec.Attribution.Confidence()
	return rec, anomalies
}

// NormalizeVoucher maps a voucher row. Vouchers carry no split: the full
// amount is reported as the seller's volume and is never payable.
func NormalizeVoucher(src models.Source, row models.VoucherRow) (models.SaleRecord, []string) {
	var anomalies []string
	gross := readAmount(row.Amount)
	if gross.anomaly != "" {
		anomalies = append(anomalies, "amount: "+gross.anomaly)
	}
	return models.SaleRecord{
		ID:              row.ID,
		Source:          src,
		GrossAmount:     gross.value,
		AdminCommission: decimal.Zero,
		UserCommission:  gross.value,
		DeviceID:        row.DeviceID,
		Attribution:     models.AttributionUnresolved,
		Timestamp:       row.SoldAt,
		MACAddress:      row.MACAddress.String,
		PlanLabel:       row.PlanLabel.String,
	}, anomalies
}

func sortWarnings(ws []models.SourceWarning) {
	order := make(map[models.Source]int, len(models.Sources))
	for i, src := range models.Sources {
		order[src] = i
	}
	sort.Slice(ws, func(i, j int) bool { return order[ws[i].Source] < order[ws[j].Source] })
}

func uniqueSorted(ids []string) []string {
	set := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

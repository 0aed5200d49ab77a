package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/reconcile"
)

type BackfillSaleRepo interface {
	ListUnattributedPix(ctx context.Context) ([]models.PixSaleRow, error)
	ListAttributedPix(ctx context.Context, w models.Window) ([]models.PixSaleRow, error)
	SetBackfilledUser(ctx context.Context, saleID, userID string) (bool, error)
}

type BackfillReport struct {
	Candidates int
	Matched    int
	Ambiguous  int
	Stored     int
}

// BackfillService stores heuristic attributions on PIX sales that have no
// reseller link. Stored links carry the backfilled provenance and stay
// out of commission crediting.
type BackfillService struct {
	Sales     BackfillSaleRepo
	Hints     reconcile.HintRepo
	Tolerance time.Duration
	Logger    *zap.Logger
}

func NewBackfillService(sales BackfillSaleRepo, hints reconcile.HintRepo, tolerance time.Duration, logger *zap.Logger) *BackfillService {
	return &BackfillService{Sales: sales, Hints: hints, Tolerance: tolerance, Logger: logger}
}

func (s *BackfillService) Run(ctx context.Context, dryRun bool) (BackfillReport, error) {
	var report BackfillReport
	orphans, err := s.Sales.ListUnattributedPix(ctx)
	if err != nil {
		return report, fmt.Errorf("list unattributed sales: %w", err)
	}
	report.Candidates = len(orphans)
	if len(orphans) == 0 {
		return report, nil
	}

	w := models.Window{Start: orphans[0].PaidAt, End: orphans[0].PaidAt}
	for _, row := range orphans {
		w = w.Union(models.Window{Start: row.PaidAt, End: row.PaidAt})
	}
	w.Start = w.Start.Add(-s.Tolerance)
	w.End = w.End.Add(s.Tolerance + time.Nanosecond)

	refs, err := s.Sales.ListAttributedPix(ctx, w)
	if err != nil {
		return report, fmt.Errorf("list reference sales: %w", err)
	}
	var hints []models.AttributionHint
	if s.Hints != nil {
		if hints, err = s.Hints.ListAttributionHints(ctx, w); err != nil {
			s.Logger.Warn("Attribution hints unavailable", zap.Error(err))
			hints = nil
		}
	}

	records := make([]models.SaleRecord, 0, len(refs)+len(orphans))
	orphanIDs := make(map[string]struct{}, len(orphans))
	for _, row := range refs {
		rec, _ := reconcile.NormalizePix(row)
		records = append(records, rec)
	}
	for _, row := range orphans {
		rec, _ := reconcile.NormalizePix(row)
		records = append(records, rec)
		orphanIDs[rec.ID] = struct{}{}
	}

	for _, rec := range reconcile.NewResolver(nil, hints, s.Tolerance).Resolve(records) {
		if _, ok := orphanIDs[rec.ID]; !ok || rec.Attribution != models.AttributionHeuristic {
			continue
		}
		report.Matched++
		if rec.Ambiguous {
			report.Ambiguous++
			s.Logger.Warn("Ambiguous attribution left unresolved", zap.String("sale_id", rec.ID))
			continue
		}
		if dryRun {
			continue
		}
		ok, err := s.Sales.SetBackfilledUser(ctx, rec.ID, rec.UserID)
		if err != nil {
			return report, fmt.Errorf("store attribution for %s: %w", rec.ID, err)
		}
		if ok {
			report.Stored++
		}
	}
	s.Logger.Info("Backfill finished",
		zap.Int("candidates", report.Candidates),
		zap.Int("matched", report.Matched),
		zap.Int("ambiguous", report.Ambiguous),
		zap.Int("stored", report.Stored),
		zap.Bool("dry_run", dryRun))
	return report, nil
}

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

var ErrRollupUnavailable = errors.New("no sale source is available")

type DeviceRepo interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.Device, error)
}

type AccountRepo interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.Account, error)
}

type HintRepo interface {
	ListAttributionHints(ctx context.Context, w models.Window) ([]models.AttributionHint, error)
}

// Recorder receives pipeline measurements.
type Recorder interface {
	SourceFailed(source models.Source)
	HeuristicAttributed(n int)
	RollupComputed(status models.RollupStatus, elapsed time.Duration)
}

type NopRecorder struct{}

func (NopRecorder) SourceFailed(models.Source) {}
func (NopRecorder) HeuristicAttributed(int) {}
func (NopRecorder) RollupComputed(models.RollupStatus, time.Duration) {}

type Config struct {
	Location  *time.Location
	TopN      int
	Tolerance time.Duration
}

type Request struct {
	Role      models.Role
	DeviceIDs []string
	Window    models.Window
	Now       time.Time
}

// Dataset is the resolved record set behind a rollup together with the
// display names needed to render it.
type Dataset struct {
	Records     []models.SaleRecord
	DeviceNames map[string]string
	UserNames   map[string]string
	Warnings    []models.SourceWarning
	Status      models.RollupStatus
}

// Engine runs Normalizer, Resolver and Aggregate in sequence for one request.
type Engine struct {
	normalizer *Normalizer
	devices    DeviceRepo
	accounts   AccountRepo
	hints      HintRepo
	cfg        Config
	logger     *zap.Logger
	recorder   Recorder
}

func NewEngine(sales SaleRepo, devices DeviceRepo, accounts AccountRepo, hints HintRepo, cfg Config, logger *zap.Logger, recorder Recorder) *Engine {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	return &Engine{
		normalizer: NewNormalizer(sales, logger, recorder),
		devices:    devices,
		accounts:   accounts,
		hints:      hints,
		cfg:        cfg,
		logger:     logger,
		recorder:   recorder,
	}
}

func (e *Engine) Location() *time.Location {
	return e.cfg.Location
}

// ComputeRollup returns the aggregate for req. When every sale source fails
// the marked result is returned together with ErrRollupUnavailable.
func (e *Engine) ComputeRollup(ctx context.Context, req Request) (models.RollupResult, error) {
	started := time.Now()
	ds, err := e.collect(ctx, req, PeriodsAt(req.Now, e.cfg.Location).Span(req.Window))
	if err != nil {
		return models.RollupResult{}, err
	}
	res := Aggregate(ds.Records, Options{
		Role:     req.Role,
		Now:      req.Now,
		Window:   req.Window,
		Location: e.cfg.Location,
		TopN:     e.cfg.TopN,
	})
	for i := range res.TopUsers {
		res.TopUsers[i].Name = ds.UserNames[res.TopUsers[i].Key]
	}
	for i := range res.TopDevices {
		res.TopDevices[i].Name = ds.DeviceNames[res.TopDevices[i].Key]
	}
	res.Status = ds.Status
	res.Partial = ds.Status != models.RollupComplete
	if len(ds.Warnings) > 0 {
		res.Warnings = ds.Warnings
	}
	e.recorder.RollupComputed(res.Status, time.Since(started))
	if res.Status == models.RollupUnavailable {
		return res, ErrRollupUnavailable
	}
	return res, nil
}

// Records returns the resolved records inside req.Window ordered by
// timestamp, with the names needed for export.
func (e *Engine) Records(ctx context.Context, req Request) (Dataset, error) {
	w := req.Window
	if !w.Valid() {
		w = PeriodsAt(req.Now, e.cfg.Location).Month
	}
	ds, err := e.collect(ctx, req, w)
	if err != nil {
		return Dataset{}, err
	}
	sort.SliceStable(ds.Records, func(i, j int) bool {
		a, b := ds.Records[i], ds.Records[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.ID < b.ID
	})
	if ds.Status == models.RollupUnavailable {
		return ds, ErrRollupUnavailable
	}
	return ds, nil
}

func (e *Engine) collect(ctx context.Context, req Request, span models.Window) (Dataset, error) {
	if !req.Role.Valid() {
		return Dataset{}, fmt.Errorf("unknown role %q", req.Role)
	}
	ds := Dataset{
		DeviceNames: make(map[string]string),
		UserNames:   make(map[string]string),
		Status:      models.RollupComplete,
	}
	ids := uniqueSorted(req.DeviceIDs)
	if len(ids) == 0 {
		return ds, nil
	}
	devices, err := e.devices.ListByIDs(ctx, ids)
	if err != nil {
		return Dataset{}, fmt.Errorf("load devices: %w", err)
	}
	for _, d := range devices {
		ds.DeviceNames[d.ID] = d.Name
	}

	records, warnings := e.normalizer.Normalize(ctx, ids, span)
	ds.Warnings = warnings
	switch {
	case len(warnings) == len(models.Sources):
		ds.Status = models.RollupUnavailable
	case len(warnings) > 0:
		ds.Status = models.RollupPartial
	}

	var hints []models.AttributionHint
	if e.hints != nil {
		hintWindow := models.Window{Start: span.Start.Add(-e.cfg.Tolerance), End: span.End.Add(e.cfg.Tolerance)}
		hints, err = e.hints.ListAttributionHints(ctx, hintWindow)
		if err != nil {
			e.logger.Warn("Attribution hints unavailable", zap.Error(err))
			hints = nil
		}
	}
	resolved := NewResolver(devices, hints, e.cfg.Tolerance).Resolve(records)
	heuristic := 0
	for _, r := range resolved {
		if r.Attribution == models.AttributionHeuristic {
			heuristic++
		}
	}
	if heuristic > 0 {
		e.logger.Info("Sales attributed heuristically", zap.Int("count", heuristic))
		e.recorder.HeuristicAttributed(heuristic)
	}
	ds.Records = resolved

	e.loadUserNames(ctx, &ds)
	return ds, nil
}

func (e *Engine) loadUserNames(ctx context.Context, ds *Dataset) {
	if e.accounts == nil {
		return
	}
	var ids []string
	for _, r := range ds.Records {
		if r.UserID != "" {
			ids = append(ids, r.UserID)
		}
	}
	ids = uniqueSorted(ids)
	if len(ids) == 0 {
		return
	}
	accounts, err := e.accounts.ListByIDs(ctx, ids)
	if err != nil {
		e.logger.Warn("Account names unavailable", zap.Error(err))
		return
	}
	for _, a := range accounts {
		ds.UserNames[a.ID] = a.DisplayName
	}
}

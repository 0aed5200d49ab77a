package reconcile

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

const DefaultTopN = 5

type Options struct {
	Role     models.Role
	Now      time.Time
	Window   models.Window
	Location *time.Location
	TopN     int
}

// Aggregate computes the rollup over resolved records. Totals are framed by
// role (gross for admin, user commission for user); rankings always use
// gross volume.
func Aggregate(records []models.SaleRecord, opts Options) models.RollupResult {
	topN := opts.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	periods := PeriodsAt(opts.Now, opts.Location)
	window := opts.Window
	if !window.Valid() {
		window = periods.Month
	}

	res := models.RollupResult{
		Role:          opts.Role,
		Now:           opts.Now,
		Status:        models.RollupComplete,
		Warnings:      []models.SourceWarning{},
		Total:         newBucket(window),
		Today:         newBucket(periods.Today),
		Week:          newBucket(periods.Week),
		Month:         newBucket(periods.Month),
		PreviousMonth: newBucket(periods.PreviousMonth),
	}

	var inWindow []models.SaleRecord
	for _, rec := range records {
		for _, b := range []*models.Bucket{&res.Total, &res.Today, &res.Week, &res.Month, &res.PreviousMonth} {
			if b.Window.Contains(rec.Timestamp) {
				addToBucket(b, rec, opts.Role)
			}
		}
		if !window.Contains(rec.Timestamp) {
			continue
		}
		inWindow = append(inWindow, rec)
		if !rec.Resolved() {
			res.Unresolved++
		} else if rec.Confidence == models.ConfidenceLow {
			res.LowConfidence++
		}
	}

	res.Growth = models.Growth{
		Total: GrowthPercent(res.Month.Total, res.PreviousMonth.Total),
		Count: GrowthPercent(decimal.NewFromInt(int64(res.Month.Count)), decimal.NewFromInt(int64(res.PreviousMonth.Count))),
	}
	res.TopUsers = rank(inWindow, topN, func(r models.SaleRecord) string { return r.UserID })
	res.TopDevices = rank(inWindow, topN, func(r models.SaleRecord) string { return r.DeviceID })
	return res
}

func newBucket(w models.Window) models.Bucket {
	return models.Bucket{
		Window:            w,
		Total:             decimal.Zero,
		Gross:             decimal.Zero,
		AdminCommission:   decimal.Zero,
		UserCommission:    decimal.Zero,
		PayableCommission: decimal.Zero,
		BySource:          make(map[models.Source]decimal.Decimal),
		ByUser:            make(map[string]decimal.Decimal),
		ByDevice:          make(map[string]decimal.Decimal),
	}
}

// Framed is the amount a record contributes to role-framed totals.
func Framed(rec models.SaleRecord, role models.Role) decimal.Decimal {
	if role == models.RoleAdmin {
		return rec.GrossAmount
	}
	return rec.UserCommission
}

func addToBucket(b *models.Bucket, rec models.SaleRecord, role models.Role) {
	v := Framed(rec, role)
	b.Count++
	b.Total = b.Total.Add(v)
	b.Gross = b.Gross.Add(rec.GrossAmount)
	b.AdminCommission = b.AdminCommission.Add(rec.AdminCommission)
	b.UserCommission = b.UserCommission.Add(rec.UserCommission)
	if rec.Payable {
		b.PayableCommission = b.PayableCommission.Add(rec.UserCommission)
	}
	b.BySource[rec.Source] = b.BySource[rec.Source].Add(v)
	b.ByDevice[rec.DeviceID] = b.ByDevice[rec.DeviceID].Add(v)
	if rec.Resolved() {
		b.ByUser[rec.UserID] = b.ByUser[rec.UserID].Add(v)
	}
}

// GrowthPercent is (current-previous)/previous*100 rounded to 2 places, and
// zero when there is no previous volume.
func GrowthPercent(current, previous decimal.Decimal) decimal.Decimal {
	if previous.IsZero() {
		return decimal.Zero
	}
	return current.Sub(previous).Div(previous).Mul(decimal.NewFromInt(100)).Round(2)
}

func rank(records []models.SaleRecord, n int, key func(models.SaleRecord) string) []models.Ranking {
	groups := make(map[string]*models.Ranking)
	for _, rec := range records {
		k := key(rec)
		if k == "" {
			continue
		}
		g, ok := groups[k]
		if !ok {
			g = &models.Ranking{Key: k, Volume: decimal.Zero, FirstSaleAt: rec.Timestamp}
			groups[k] = g
		}
		g.Volume = g.Volume.Add(rec.GrossAmount)
		g.Count++
		if rec.Timestamp.Before(g.FirstSaleAt) {
			g.FirstSaleAt = rec.Timestamp
		}
		if rec.Confidence == models.ConfidenceLow {
			g.LowConfidence = true
		}
	}
	out := make([]models.Ranking, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Volume.Cmp(out[j].Volume); c != 0 {
			return c > 0
		}
		if !out[i].FirstSaleAt.Equal(out[j].FirstSaleAt) {
			return out[i].FirstSaleAt.Before(out[j].FirstSaleAt)
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

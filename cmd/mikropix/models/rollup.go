package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

// Union returns the smallest window covering both.
func (w Window) Union(o Window) Window {
	out := w
	if o.Start.Before(out.Start) {
		out.Start = o.Start
	}
	if o.End.After(out.End) {
		out.End = o.End
	}
	return out
}

type RollupStatus string

const (
	RollupComplete    RollupStatus = "complete"
	RollupPartial     RollupStatus = "partial"
	RollupUnavailable RollupStatus = "unavailable"
)

type SourceWarning struct {
	Source  Source `json:"source"`
	Message string `json:"message"`
}

type Bucket struct {
	Window            Window                     `json:"window"`
	Total             decimal.Decimal            `json:"total"`
	Gross             decimal.Decimal            `json:"gross"`
	AdminCommission   decimal.Decimal            `json:"adminCommission"`
	UserCommission    decimal.Decimal            `json:"userCommission"`
	PayableCommission decimal.Decimal            `json:"payableCommission"`
	Count             int                        `json:"count"`
	BySource          map[Source]decimal.Decimal `json:"bySource"`
	ByUser            map[string]decimal.Decimal `json:"byUser"`
	ByDevice          map[string]decimal.Decimal `json:"byDevice"`
}

func (b Bucket) UserTotal(userID string) decimal.Decimal {
	return b.ByUser[userID]
}

type Ranking struct {
	Key           string          `json:"key"`
	Name          string          `json:"name"`
	Volume        decimal.Decimal `json:"volume"`
	Count         int             `json:"count"`
	FirstSaleAt   time.Time       `json:"firstSaleAt"`
	LowConfidence bool            `json:"lowConfidence,omitempty"`
}

type Growth struct {
	Total decimal.Decimal `json:"total"`
	Count decimal.Decimal `json:"count"`
}

type RollupResult struct {
	Role          Role            `json:"role"`
	Now           time.Time       `json:"now"`
	Status        RollupStatus    `json:"status"`
	Partial       bool            `json:"partial"`
	Warnings      []SourceWarning `json:"warnings"`
	Total         Bucket          `json:"total"`
	Today         Bucket          `json:"today"`
	Week          Bucket          `json:"week"`
	Month         Bucket          `json:"month"`
	PreviousMonth Bucket          `json:"previousMonth"`
	Growth        Growth          `json:"growth"`
	TopUsers      []Ranking       `json:"topUsers"`
	TopDevices    []Ranking       `json:"topDevices"`
	Unresolved    int             `json:"unresolved"`
	LowConfidence int             `json:"lowConfidence"`
}

package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type Source string

const (
	SourcePix             Source = "pix"
	SourcePhysicalVoucher Source = "physical_voucher"
	SourceCaptiveVoucher  Source = "captive_voucher"
)

// Sources lists every sale source in reporting order.
var Sources = []Source{SourcePix, SourcePhysicalVoucher, SourceCaptiveVoucher}

func (s Source) Label() string {
	switch s {
	case SourcePix:
		return "PIX"
	case SourcePhysicalVoucher:
		return "Voucher físico"
	case SourceCaptiveVoucher:
		return "Voucher captive"
	}
	return string(s)
}

type Attribution string

const (
	AttributionUnresolved Attribution = "unresolved"
	AttributionDirect     Attribution = "direct"
	AttributionBackfilled Attribution = "backfilled"
	AttributionHeuristic  Attribution = "heuristic"
)

type Confidence string

const (
	ConfidenceNone Confidence = ""
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

func (a Attribution) Confidence() Confidence {
	switch a {
	case AttributionDirect:
		return ConfidenceHigh
	case AttributionBackfilled, AttributionHeuristic:
		return ConfidenceLow
	}
	return ConfidenceNone
}

// SaleRecord is the normalized shape shared by every sale source.
type SaleRecord struct {
	ID              string          `json:"id"`
	Source          Source          `json:"source"`
	GrossAmount     decimal.Decimal `json:"grossAmount"`
	AdminCommission decimal.Decimal `json:"adminCommission"`
	UserCommission  decimal.Decimal `json:"userCommission"`
	Payable         bool            `json:"payable"`
	DeviceID        string          `json:"deviceId"`
	UserID          string          `json:"userId,omitempty"`
	Attribution     Attribution     `json:"attribution"`
	Confidence      Confidence      `json:"confidence,omitempty"`
	Ambiguous       bool            `json:"ambiguous,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	MACAddress      string          `json:"macAddress"`
	PlanLabel       string          `json:"planLabel"`
}

func (r SaleRecord) Resolved() bool {
	return r.UserID != ""
}

// PixSaleRow is a pix_sales row as stored. Money columns are read as text so
// that malformed upstream values can be coerced instead of failing the scan.
type PixSaleRow struct {
	ID              string         `db:"id"`
	DeviceID        string         `db:"mikrotik_id"`
	UserID          sql.NullString `db:"user_id"`
	UserProvenance  sql.NullString `db:"user_id_provenance"`
	GrossAmount     sql.NullString `db:"gross_amount"`
	AdminCommission sql.NullString `db:"admin_commission"`
	UserCommission  sql.NullString `db:"user_commission"`
	MACAddress      sql.NullString `db:"mac_address"`
	PlanLabel       sql.NullString `db:"plan_label"`
	PaidAt          time.Time      `db:"paid_at"`
}

// VoucherRow covers both physical_vouchers and captive_vouchers.
type VoucherRow struct {
	ID         string         `db:"id"`
	DeviceID   string         `db:"mikrotik_id"`
	Amount     sql.NullString `db:"amount"`
	MACAddress sql.NullString `db:"mac_address"`
	PlanLabel  sql.NullString `db:"plan_label"`
	SoldAt     time.Time      `db:"sold_at"`
}

// AttributionHint is an already-attributed sale footprint (for example a
// legacy commission credit) used to correlate sales without a user link.
type AttributionHint struct {
	UserID          string
	GrossAmount     decimal.Decimal
	AdminCommission decimal.Decimal
	Timestamp       time.Time
}

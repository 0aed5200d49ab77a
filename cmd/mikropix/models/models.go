package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

type Account struct {
	ID                  string          `db:"id" json:"id"`
	DisplayName         string          `db:"display_name" json:"displayName"`
	Email               string          `db:"email" json:"email"`
	PasswordHash        string          `db:"password_hash" json:"-"`
	Role                Role            `db:"role" json:"role"`
	Balance             decimal.Decimal `db:"balance" json:"balance"`
	AutoWithdrawEnabled bool            `db:"auto_withdraw_enabled" json:"autoWithdrawEnabled"`
	PixKey              string          `db:"pix_key" json:"pixKey"`
	CreatedAt           time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updatedAt"`
}

// Device is a MikroTik router. CommissionPercentage is the reseller share
// applied to new PIX sales only; stored sales keep their own split.
type Device struct {
	ID                   string          `db:"id" json:"id"`
	OwnerID              string          `db:"owner_id" json:"ownerId"`
	Name                 string          `db:"name" json:"name"`
	Host                 string          `db:"host" json:"host"`
	CommissionPercentage decimal.Decimal `db:"commission_percentage" json:"commissionPercentage"`
	CreatedAt            time.Time       `db:"created_at" json:"createdAt"`
}

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

type Plan struct {
	ID           string          `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	Price        decimal.Decimal `db:"price" json:"price"`
	DurationDays int             `db:"duration_days" json:"durationDays"`
	IsTrial      bool            `db:"is_trial" json:"isTrial"`
}

type Subscription struct {
	ID        string             `db:"id" json:"id"`
	AccountID string             `db:"account_id" json:"accountId"`
	PlanID    string             `db:"plan_id" json:"planId"`
	StartsAt  time.Time          `db:"starts_at" json:"startsAt"`
	ExpiresAt time.Time          `db:"expires_at" json:"expiresAt"`
	Status    SubscriptionStatus `db:"status" json:"status"`
}

// EffectiveStatus reports an active row past its expiry as expired.
func (s Subscription) EffectiveStatus(now time.Time) SubscriptionStatus {
	if s.Status == SubscriptionActive && !now.Before(s.ExpiresAt) {
		return SubscriptionExpired
	}
	return s.Status
}

type RegisterRequest struct {
	DisplayName string `json:"displayName" validate:"required,max=120"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AccountSettings struct {
	PixKey              *string `json:"pixKey" validate:"omitempty,max=140"`
	AutoWithdrawEnabled *bool   `json:"autoWithdrawEnabled"`
}

type LedgerKind string

const (
	LedgerCommissionCredit LedgerKind = "commission_credit"
	LedgerManualCredit     LedgerKind = "manual_credit"
	LedgerWithdrawalDebit  LedgerKind = "withdrawal_debit"
)

type LedgerTransaction struct {
	ID                  string              `db:"id" json:"id"`
	AccountID           string              `db:"account_id" json:"accountId"`
	Kind                LedgerKind          `db:"kind" json:"kind"`
	Amount              decimal.Decimal     `db:"amount" json:"amount"`
	SaleID              *string             `db:"sale_id" json:"saleId,omitempty"`
	SaleGross           decimal.NullDecimal `db:"sale_gross" json:"-"`
	SaleAdminCommission decimal.NullDecimal `db:"sale_admin_commission" json:"-"`
	SalePaidAt          sql.NullTime        `db:"sale_paid_at" json:"-"`
	Reference           string              `db:"reference" json:"reference"`
	BalanceAfter        decimal.Decimal     `db:"balance_after" json:"balanceAfter"`
	CreatedAt           time.Time           `db:"created_at" json:"createdAt"`
}

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

type Withdrawal struct {
	ID          string           `db:"id" json:"id"`
	AccountID   string           `db:"account_id" json:"accountId"`
	Amount      decimal.Decimal  `db:"amount" json:"amount"`
	PixKey      string           `db:"pix_key" json:"pixKey"`
	Status      WithdrawalStatus `db:"status" json:"status"`
	RemoteID    string           `db:"remote_id" json:"remoteId,omitempty"`
	Reason      string           `db:"reason" json:"reason,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
	ProcessedAt *time.Time       `db:"processed_at" json:"processedAt,omitempty"`
}

type WithdrawalRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type RejectRequest struct {
	Reason string `json:"reason" validate:"max=280"`
}

type CreditRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference" validate:"max=280"`
}

type PaymentRequest struct {
	PlanID string `json:"planId" validate:"required"`
}

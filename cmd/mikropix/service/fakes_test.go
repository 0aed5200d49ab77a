package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/backend"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/db"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

var errBoom = errors.New("boom")

type fakeAccounts struct {
	mu         sync.Mutex
	byID       map[string]*models.Account
	candidates []models.Account
	createErr  error
}

func newFakeAccounts(accounts ...models.Account) *fakeAccounts {
	f := &fakeAccounts{byID: make(map[string]*models.Account)}
	for i := range accounts {
		a := accounts[i]
		f.byID[a.ID] = &a
	}
	return f
}

func (f *fakeAccounts) CreateAccount(ctx context.Context, a *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *a
	f.byID[a.ID] = &cp
	return nil
}

func (f *fakeAccounts) IsEmailExist(ctx context.Context, email string) (bool, error) {
	_, err := f.GetByEmail(ctx, email)
	return err == nil, nil
}

func (f *fakeAccounts) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byID {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeAccounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) UpdateSettings(ctx context.Context, id string, s models.AccountSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return db.ErrNotFound
	}
	if s.PixKey != nil {
		a.PixKey = *s.PixKey
	}
	if s.AutoWithdrawEnabled != nil {
		a.AutoWithdrawEnabled = *s.AutoWithdrawEnabled
	}
	return nil
}

func (f *fakeAccounts) ListAutoWithdrawCandidates(ctx context.Context, min decimal.Decimal) ([]models.Account, error) {
	return f.candidates, nil
}

type fakeDevices struct {
	devices []models.Device
	err     error
}

func (f *fakeDevices) ListByOwner(ctx context.Context, ownerID string) ([]models.Device, error) {
	var out []models.Device
	for _, d := range f.devices {
		if d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	return out, f.err
}

func (f *fakeDevices) ListAll(ctx context.Context) ([]models.Device, error) {
	return f.devices, f.err
}

func (f *fakeDevices) ListByIDs(ctx context.Context, ids []string) ([]models.Device, error) {
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

type fakeSubscriptions struct {
	plans   map[string]models.Plan
	created []models.Subscription
	current *models.Subscription
}

func (f *fakeSubscriptions) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	p, ok := f.plans[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &p, nil
}

func (f *fakeSubscriptions) CreateSubscription(ctx context.Context, s *models.Subscription) error {
	f.created = append(f.created, *s)
	return nil
}

func (f *fakeSubscriptions) GetCurrent(ctx context.Context, accountID string) (*models.Subscription, error) {
	if f.current == nil || f.current.AccountID != accountID {
		return nil, db.ErrNotFound
	}
	cp := *f.current
	return &cp, nil
}

type fakeTokens struct{}

func (fakeTokens) GenerateJWT(accountID string, role models.Role) (string, error) {
	return "token:" + accountID + ":" + string(role), nil
}

type fakeSales struct {
	uncredited []models.PixSaleRow
	orphans    []models.PixSaleRow
	attributed []models.PixSaleRow
	stored     map[string]string
	window     models.Window
	err        error
}

func (f *fakeSales) ListUncreditedPix(ctx context.Context, limit int) ([]models.PixSaleRow, error) {
	return f.uncredited, f.err
}

func (f *fakeSales) ListUnattributedPix(ctx context.Context) ([]models.PixSaleRow, error) {
	return f.orphans, f.err
}

func (f *fakeSales) ListAttributedPix(ctx context.Context, w models.Window) ([]models.PixSaleRow, error) {
	f.window = w
	return f.attributed, nil
}

func (f *fakeSales) SetBackfilledUser(ctx context.Context, saleID, userID string) (bool, error) {
	if f.stored == nil {
		f.stored = make(map[string]string)
	}
	f.stored[saleID] = userID
	return true, nil
}

type fakeHints struct {
	hints []models.AttributionHint
	err   error
}

func (f *fakeHints) ListAttributionHints(ctx context.Context, w models.Window) ([]models.AttributionHint, error) {
	return f.hints, f.err
}

type fakeLedger struct {
	credited  []models.SaleRecord
	manual    []string
	already   map[string]bool
	failFor   string
	balanceOf map[string]decimal.Decimal
}

func (f *fakeLedger) CreditCommission(ctx context.Context, rec models.SaleRecord) (*models.LedgerTransaction, error) {
	if f.already[rec.ID] {
		return nil, db.ErrAlreadyCredited
	}
	if rec.ID == f.failFor {
		return nil, errBoom
	}
	f.credited = append(f.credited, rec)
	if f.balanceOf == nil {
		f.balanceOf = make(map[string]decimal.Decimal)
	}
	f.balanceOf[rec.UserID] = f.balanceOf[rec.UserID].Add(rec.UserCommission)
	saleID := rec.ID
	return &models.LedgerTransaction{
		AccountID:    rec.UserID,
		Kind:         models.LedgerCommissionCredit,
		Amount:       rec.UserCommission,
		SaleID:       &saleID,
		BalanceAfter: f.balanceOf[rec.UserID],
	}, nil
}

func (f *fakeLedger) Credit(ctx context.Context, accountID string, amount decimal.Decimal, reference string) (*models.LedgerTransaction, error) {
	if accountID == "missing" {
		return nil, db.ErrNotFound
	}
	f.manual = append(f.manual, accountID+":"+amount.StringFixed(2))
	return &models.LedgerTransaction{AccountID: accountID, Kind: models.LedgerManualCredit, Amount: amount, Reference: reference}, nil
}

func (f *fakeLedger) ListByAccount(ctx context.Context, accountID string) ([]models.LedgerTransaction, error) {
	var out []models.LedgerTransaction
	for i := len(f.credited) - 1; i >= 0; i-- {
		if f.credited[i].UserID == accountID {
			out = append(out, models.LedgerTransaction{AccountID: accountID, Kind: models.LedgerCommissionCredit, Amount: f.credited[i].UserCommission})
		}
	}
	return out, nil
}

type fakeWithdrawals struct {
	createErr  error
	pending    decimal.Decimal
	created    []models.Withdrawal
	byID       map[string]models.Withdrawal
	approveErr error
	confirmed  []string
}

func (f *fakeWithdrawals) CreateWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, *w)
	return nil
}

func (f *fakeWithdrawals) GetByID(ctx context.Context, id string) (*models.Withdrawal, error) {
	w, ok := f.byID[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &w, nil
}

func (f *fakeWithdrawals) ListByAccount(ctx context.Context, accountID string) ([]models.Withdrawal, error) {
	var out []models.Withdrawal
	for _, w := range f.byID {
		if w.AccountID == accountID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeWithdrawals) ListAll(ctx context.Context) ([]models.Withdrawal, error) {
	out := make([]models.Withdrawal, 0, len(f.byID))
	for _, w := range f.byID {
		out = append(out, w)
	}
	return out, nil
}

func (f *fakeWithdrawals) SumPending(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return f.pending, nil
}

func (f *fakeWithdrawals) Approve(ctx context.Context, id string, confirm func(models.Withdrawal) error) (*models.Withdrawal, error) {
	if f.approveErr != nil {
		return nil, f.approveErr
	}
	w, ok := f.byID[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	if w.Status != models.WithdrawalPending {
		return nil, db.ErrNotPending
	}
	if err := confirm(w); err != nil {
		return nil, err
	}
	f.confirmed = append(f.confirmed, id)
	w.Status = models.WithdrawalApproved
	f.byID[id] = w
	return &w, nil
}

func (f *fakeWithdrawals) Reject(ctx context.Context, id, reason string) (*models.Withdrawal, error) {
	w := f.byID[id]
	w.Status = models.WithdrawalRejected
	w.Reason = reason
	f.byID[id] = w
	return &w, nil
}

type fakePayouts struct {
	calls     []string
	err       error
	rejectErr error
}

func (f *fakePayouts) CreateWithdrawal(ctx context.Context, withdrawalID, pixKey string, amount decimal.Decimal) (*backend.RemoteWithdrawal, error) {
	f.calls = append(f.calls, "create:"+pixKey+":"+amount.StringFixed(2))
	if f.err != nil {
		return nil, f.err
	}
	return &backend.RemoteWithdrawal{ID: "remote-" + withdrawalID, Status: "pending"}, nil
}

func (f *fakePayouts) ApproveWithdrawal(ctx context.Context, remoteID string) error {
	f.calls = append(f.calls, "approve:"+remoteID)
	return f.err
}

func (f *fakePayouts) RejectWithdrawal(ctx context.Context, remoteID, reason string) error {
	f.calls = append(f.calls, "reject:"+remoteID)
	if f.rejectErr != nil {
		return f.rejectErr
	}
	return f.err
}

type countingRecorder struct {
	credited int
}

func (r *countingRecorder) CommissionsCredited(n int) {
	r.credited += n
}

func ns(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func pixRow(id, device, gross, admin, user string, at time.Time) models.PixSaleRow {
	row := models.PixSaleRow{ID: id, DeviceID: device, GrossAmount: ns(gross), PaidAt: at}
	if admin != "" {
		row.AdminCommission = ns(admin)
	}
	if user != "" {
		row.UserCommission = ns(user)
	}
	return row
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/backend"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/db"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/reconcile"
)

type UncreditedSaleRepo interface {
	ListUncreditedPix(ctx context.Context, limit int) ([]models.PixSaleRow, error)
}

type DeviceLookup interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.Device, error)
}

type LedgerRepo interface {
	CreditCommission(ctx context.Context, rec models.SaleRecord) (*models.LedgerTransaction, error)
	Credit(ctx context.Context, accountID string, amount decimal.Decimal, reference string) (*models.LedgerTransaction, error)
	ListByAccount(ctx context.Context, accountID string) ([]models.LedgerTransaction, error)
}

type WithdrawalRepo interface {
	CreateWithdrawal(ctx context.Context, w *models.Withdrawal) error
	GetByID(ctx context.Context, id string) (*models.Withdrawal, error)
	ListByAccount(ctx context.Context, accountID string) ([]models.Withdrawal, error)
	ListAll(ctx context.Context) ([]models.Withdrawal, error)
	SumPending(ctx context.Context, accountID string) (decimal.Decimal, error)
	Approve(ctx context.Context, id string, confirm func(models.Withdrawal) error) (*models.Withdrawal, error)
	Reject(ctx context.Context, id, reason string) (*models.Withdrawal, error)
}

type BalanceAccountRepo interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	ListAutoWithdrawCandidates(ctx context.Context, min decimal.Decimal) ([]models.Account, error)
}

type PayoutClient interface {
	CreateWithdrawal(ctx context.Context, withdrawalID, pixKey string, amount decimal.Decimal) (*backend.RemoteWithdrawal, error)
	ApproveWithdrawal(ctx context.Context, remoteID string) error
	RejectWithdrawal(ctx context.Context, remoteID, reason string) error
}

type CreditRecorder interface {
	CommissionsCredited(n int)
}

type SettlementOptions struct {
	MinWithdrawal   decimal.Decimal
	AutoWithdrawMin decimal.Decimal
	BatchSize       int
}

type SettlementService struct {
	Sales       UncreditedSaleRepo
	Devices     DeviceLookup
	Ledger      LedgerRepo
	Withdrawals WithdrawalRepo
	Accounts    BalanceAccountRepo
	Payouts     PayoutClient
	Recorder    CreditRecorder
	Options     SettlementOptions
	Logger      *zap.Logger
}

var (
	ErrInvalidAmount        = errors.New("сумма должна быть положительной")
	ErrBelowMinimum         = errors.New("сумма меньше минимальной для вывода")
	ErrPixKeyMissing        = errors.New("не указан PIX-ключ")
	ErrInsufficientFunds    = errors.New("недостаточно средств")
	ErrWithdrawalNotFound   = errors.New("вывод не найден")
	ErrWithdrawalNotPending = errors.New("вывод уже обработан")
	ErrBackendUnavailable   = errors.New("backend MikroPix недоступен")
)

const defaultSettlementBatch = 500

func NewSettlementService(sales UncreditedSaleRepo, devices DeviceLookup, ledger LedgerRepo, withdrawals WithdrawalRepo, accounts BalanceAccountRepo, payouts PayoutClient, recorder CreditRecorder, opts SettlementOptions, logger *zap.Logger) *SettlementService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSettlementBatch
	}
	return &SettlementService{
		Sales:       sales,
		Devices:     devices,
		Ledger:      ledger,
		Withdrawals: withdrawals,
		Accounts:    accounts,
		Payouts:     payouts,
		Recorder:    recorder,
		Options:     opts,
		Logger:      logger,
	}
}

func (s *SettlementService) StartSettlementWorker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.Logger.Info("Settlement worker stopped")
				return
			case <-ticker.C:
				if _, err := s.SettleOnce(ctx); err != nil {
					s.Logger.Error("Ошибка зачисления комиссий", zap.Error(err))
					continue
				}
				s.AutoWithdraw(ctx)
			}
		}
	}()
}

// SettleOnce credits the user commission of completed PIX sales that have a
// direct reseller link. Heuristic or backfilled attributions are never
// credited.
func (s *SettlementService) SettleOnce(ctx context.Context) (int, error) {
	rows, err := s.Sales.ListUncreditedPix(ctx, s.Options.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list uncredited sales: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	records := make([]models.SaleRecord, 0, len(rows))
	var deviceIDs []string
	for _, row := range rows {
		rec, anomalies := reconcile.NormalizePix(row)
		for _, a := range anomalies {
			s.Logger.Warn("Sale amount coerced", zap.String("id", rec.ID), zap.String("anomaly", a))
		}
		records = append(records, rec)
		deviceIDs = append(deviceIDs, rec.DeviceID)
	}
	devices, err := s.Devices.ListByIDs(ctx, deviceIDs)
	if err != nil {
		return 0, fmt.Errorf("load devices: %w", err)
	}

	credited := 0
	for _, rec := range reconcile.NewResolver(devices, nil, 0).Resolve(records) {
		if !reconcile.Payable(rec) {
			continue
		}
		entry, err := s.Ledger.CreditCommission(ctx, rec)
		switch {
		case errors.Is(err, db.ErrAlreadyCredited):
			continue
		case err != nil:
			s.Logger.Error("Не удалось зачислить комиссию",
				zap.String("sale_id", rec.ID), zap.String("account_id", rec.UserID), zap.Error(err))
			continue
		}
		credited++
		s.Logger.Info("Commission credited",
			zap.String("sale_id", rec.ID),
			zap.String("account_id", rec.UserID),
			zap.String("amount", entry.Amount.StringFixed(2)),
			zap.String("balance_after", entry.BalanceAfter.StringFixed(2)))
	}
	if credited > 0 && s.Recorder != nil {
		s.Recorder.CommissionsCredited(credited)
	}
	return credited, nil
}

// AutoWithdraw requests a withdrawal of the whole balance for every account
// that opted in and reached the threshold.
func (s *SettlementService) AutoWithdraw(ctx context.Context) int {
	accounts, err := s.Accounts.ListAutoWithdrawCandidates(ctx, s.Options.AutoWithdrawMin)
	if err != nil {
		s.Logger.Error("Ошибка получения аккаунтов для автовывода", zap.Error(err))
		return 0
	}
	requested := 0
	for _, acc := range accounts {
		if _, err := s.RequestWithdrawal(ctx, acc.ID, acc.Balance); err != nil {
			s.Logger.Warn("Auto withdrawal skipped", zap.String("account_id", acc.ID), zap.Error(err))
			continue
		}
		requested++
	}
	return requested
}

type Balance struct {
	Current   decimal.Decimal `json:"current"`
	Pending   decimal.Decimal `json:"pending"`
	Available decimal.Decimal `json:"available"`
}

func (s *SettlementService) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	acc, err := s.Accounts.GetByID(ctx, accountID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	pending, err := s.Withdrawals.SumPending(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &Balance{Current: acc.Balance, Pending: pending, Available: acc.Balance.Sub(pending)}, nil
}

func (s *SettlementService) RequestWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Withdrawal, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if amount.LessThan(s.Options.MinWithdrawal) {
		return nil, ErrBelowMinimum
	}
	acc, err := s.Accounts.GetByID(ctx, accountID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	pixKey := strings.TrimSpace(acc.PixKey)
	if pixKey == "" {
		return nil, ErrPixKeyMissing
	}
	pending, err := s.Withdrawals.SumPending(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(acc.Balance.Sub(pending)) {
		return nil, ErrInsufficientFunds
	}

	w := &models.Withdrawal{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Amount:    amount,
		PixKey:    pixKey,
		Status:    models.WithdrawalPending,
	}
	remote, err := s.Payouts.CreateWithdrawal(ctx, w.ID, pixKey, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	w.RemoteID = remote.ID
	if err := s.Withdrawals.CreateWithdrawal(ctx, w); err != nil {
		if rerr := s.Payouts.RejectWithdrawal(ctx, remote.ID, "falha ao registrar o saque"); rerr != nil {
			s.Logger.Error("Remote withdrawal left without local record",
				zap.String("withdrawal_id", w.ID), zap.String("remote_id", remote.ID), zap.Error(rerr))
		}
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}
	s.Logger.Info("Withdrawal requested", zap.String("withdrawal_id", w.ID), zap.String("account_id", accountID), zap.String("amount", amount.StringFixed(2)))
	return w, nil
}

func (s *SettlementService) ListWithdrawals(ctx context.Context, accountID string, role models.Role) ([]models.Withdrawal, error) {
	if role == models.RoleAdmin {
		return s.Withdrawals.ListAll(ctx)
	}
	return s.Withdrawals.ListByAccount(ctx, accountID)
}

func (s *SettlementService) ApproveWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	w, err := s.Withdrawals.Approve(ctx, id, func(w models.Withdrawal) error {
		if w.RemoteID == "" {
			return nil
		}
		if err := s.Payouts.ApproveWithdrawal(ctx, w.RemoteID); err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return nil, withdrawalError(err)
	}
	return w, nil
}

func (s *SettlementService) RejectWithdrawal(ctx context.Context, id, reason string) (*models.Withdrawal, error) {
	current, err := s.Withdrawals.GetByID(ctx, id)
	if err != nil {
		return nil, withdrawalError(err)
	}
	if current.Status != models.WithdrawalPending {
		return nil, ErrWithdrawalNotPending
	}
	if current.RemoteID != "" {
		if err := s.Payouts.RejectWithdrawal(ctx, current.RemoteID, reason); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}
	w, err := s.Withdrawals.Reject(ctx, id, strings.TrimSpace(reason))
	if err != nil {
		return nil, withdrawalError(err)
	}
	return w, nil
}

// Credit is a manual admin adjustment.
func (s *SettlementService) Credit(ctx context.Context, accountID string, amount decimal.Decimal, reference string) (*models.LedgerTransaction, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	entry, err := s.Ledger.Credit(ctx, accountID, amount, strings.TrimSpace(reference))
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	return entry, err
}

// Statement lists the balance history of an account, newest first.
func (s *SettlementService) Statement(ctx context.Context, accountID string) ([]models.LedgerTransaction, error) {
	return s.Ledger.ListByAccount(ctx, accountID)
}

func withdrawalError(err error) error {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return ErrWithdrawalNotFound
	case errors.Is(err, db.ErrNotPending):
		return ErrWithdrawalNotPending
	case errors.Is(err, db.ErrInsufficientFunds):
		return ErrInsufficientFunds
	}
	return err
}

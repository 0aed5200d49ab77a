package routers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/auth"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/backend"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/reconcile"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/service"
)

var manaus, _ = time.LoadLocation("America/Manaus")

type stubAccounts struct {
	registerErr error
	devices     []models.Device
	sub         *models.Subscription
}

func (s *stubAccounts) Register(ctx context.Context, req models.RegisterRequest) (string, error) {
	return "tok", s.registerErr
}

func (s *stubAccounts) Login(ctx context.Context, req models.LoginRequest) (string, error) {
	if req.Password != "segredo1" {
		return "", service.ErrInvalidCredentials
	}
	return "tok", nil
}

func (s *stubAccounts) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return &models.Account{ID: id, DisplayName: "Loja do João", Balance: decimal.NewFromInt(100)}, nil
}

func (s *stubAccounts) UpdateSettings(ctx context.Context, id string, settings models.AccountSettings) (*models.Account, error) {
	acc := &models.Account{ID: id}
	if settings.PixKey != nil {
		acc.PixKey = *settings.PixKey
	}
	return acc, nil
}

func (s *stubAccounts) GetSubscription(ctx context.Context, accountID string) (*models.Subscription, error) {
	if s.sub == nil {
		return nil, service.ErrNoSubscription
	}
	return s.sub, nil
}

func (s *stubAccounts) AccessibleDevices(ctx context.Context, accountID string, role models.Role) ([]models.Device, error) {
	if role == models.RoleAdmin {
		return s.devices, nil
	}
	var out []models.Device
	for _, d := range s.devices {
		if d.OwnerID == accountID {
			out = append(out, d)
		}
	}
	return out, nil
}

type stubSettlement struct {
	err      error
	rejected []string
	credits  []string
}

func (s *stubSettlement) GetBalance(ctx context.Context, accountID string) (*service.Balance, error) {
	return &service.Balance{Current: decimal.NewFromInt(100), Pending: decimal.NewFromInt(30), Available: decimal.NewFromInt(70)}, nil
}

func (s *stubSettlement) RequestWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Withdrawal, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Withdrawal{ID: "w1", AccountID: accountID, Amount: amount, Status: models.WithdrawalPending}, nil
}

func (s *stubSettlement) ListWithdrawals(ctx context.Context, accountID string, role models.Role) ([]models.Withdrawal, error) {
	return nil, s.err
}

func (s *stubSettlement) ApproveWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Withdrawal{ID: id, Status: models.WithdrawalApproved}, nil
}

func (s *stubSettlement) RejectWithdrawal(ctx context.Context, id, reason string) (*models.Withdrawal, error) {
	s.rejected = append(s.rejected, id+":"+reason)
	return &models.Withdrawal{ID: id, Status: models.WithdrawalRejected, Reason: reason}, s.err
}

func (s *stubSettlement) Credit(ctx context.Context, accountID string, amount decimal.Decimal, reference string) (*models.LedgerTransaction, error) {
	s.credits = append(s.credits, accountID+":"+amount.String())
	return &models.LedgerTransaction{AccountID: accountID, Amount: amount, Reference: reference}, s.err
}

func (s *stubSettlement) Statement(ctx context.Context, accountID string) ([]models.LedgerTransaction, error) {
	return []models.LedgerTransaction{{AccountID: accountID, Kind: models.LedgerCommissionCredit, Amount: decimal.NewFromInt(8), BalanceAfter: decimal.NewFromInt(108)}}, s.err
}

type stubPayments struct{}

func (stubPayments) CreatePayment(ctx context.Context, accountID string, req models.PaymentRequest) (*backend.Payment, error) {
	if req.PlanID == "trial" {
		return nil, service.ErrTrialNotPurchasable
	}
	return &backend.Payment{PaymentID: "pay-1"}, nil
}

type stubEngine struct {
	requests []reconcile.Request
	result   models.RollupResult
	dataset  reconcile.Dataset
	err      error
	during   func()
}

func (e *stubEngine) ComputeRollup(ctx context.Context, req reconcile.Request) (models.RollupResult, error) {
	e.requests = append(e.requests, req)
	if e.during != nil {
		e.during()
	}
	return e.result, e.err
}

func (e *stubEngine) Records(ctx context.Context, req reconcile.Request) (reconcile.Dataset, error) {
	e.requests = append(e.requests, req)
	return e.dataset, e.err
}

func (e *stubEngine) Location() *time.Location {
	return manaus
}

type stubVPN struct {
	peers   []backend.Peer
	deleted []string
	err     error
}

func (v *stubVPN) ListPeers(ctx context.Context) ([]backend.Peer, error) {
	return v.peers, v.err
}

func (v *stubVPN) CreatePeer(ctx context.Context, req backend.PeerRequest) (*backend.CreatedPeer, error) {
	if v.err != nil {
		return nil, v.err
	}
	return &backend.CreatedPeer{Peer: backend.Peer{Name: req.Name}, Config: "[Interface]"}, nil
}

func (v *stubVPN) DeletePeer(ctx context.Context, publicKey string) error {
	v.deleted = append(v.deleted, publicKey)
	return v.err
}

func (v *stubVPN) Interface(ctx context.Context) (*backend.Interface, error) {
	return &backend.Interface{Name: "wg0"}, v.err
}

func (v *stubVPN) Stats(ctx context.Context) (*backend.Stats, error) {
	return &backend.Stats{Peers: 2, Online: 1}, v.err
}

var testNow = time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)

type testServer struct {
	accounts   *stubAccounts
	settlement *stubSettlement
	engine     *stubEngine
	vpn        *stubVPN
	handler    *Handler
	issuer     *auth.Issuer
	router     http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		accounts: &stubAccounts{devices: []models.Device{
			{ID: "d1", OwnerID: "u1"},
			{ID: "d2", OwnerID: "u1"},
			{ID: "d3", OwnerID: "u2"},
		}},
		settlement: &stubSettlement{},
		engine:     &stubEngine{},
		vpn:        &stubVPN{},
		issuer:     auth.NewIssuer("test-secret", time.Hour),
	}
	ts.handler = NewHandler(ts.accounts, ts.settlement, stubPayments{}, ts.engine, ts.vpn, time.Hour, zap.NewNop())
	ts.handler.now = func() time.Time { return testNow }
	ts.router = SetupRouters(ts.handler, ts.issuer, nil, zap.NewNop())
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, body string, role models.Role, accountID string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if accountID != "" {
		token, err := ts.issuer.GenerateJWT(accountID, role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

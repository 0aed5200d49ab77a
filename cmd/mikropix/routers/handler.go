package routers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/backend"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/reconcile"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/service"
)

type AccountService interface {
	Register(ctx context.Context, req models.RegisterRequest) (string, error)
	Login(ctx context.Context, req models.LoginRequest) (string, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	UpdateSettings(ctx context.Context, id string, settings models.AccountSettings) (*models.Account, error)
	GetSubscription(ctx context.Context, accountID string) (*models.Subscription, error)
	AccessibleDevices(ctx context.Context, accountID string, role models.Role) ([]models.Device, error)
}

type SettlementService interface {
	GetBalance(ctx context.Context, accountID string) (*service.Balance, error)
	RequestWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal) (*models.Withdrawal, error)
	ListWithdrawals(ctx context.Context, accountID string, role models.Role) ([]models.Withdrawal, error)
	ApproveWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error)
	RejectWithdrawal(ctx context.Context, id, reason string) (*models.Withdrawal, error)
	Credit(ctx context.Context, accountID string, amount decimal.Decimal, reference string) (*models.LedgerTransaction, error)
	Statement(ctx context.Context, accountID string) ([]models.LedgerTransaction, error)
}

type PaymentService interface {
	CreatePayment(ctx context.Context, accountID string, req models.PaymentRequest) (*backend.Payment, error)
}

type RollupEngine interface {
	ComputeRollup(ctx context.Context, req reconcile.Request) (models.RollupResult, error)
	Records(ctx context.Context, req reconcile.Request) (reconcile.Dataset, error)
	Location() *time.Location
}

type VPNClient interface {
	ListPeers(ctx context.Context) ([]backend.Peer, error)
	CreatePeer(ctx context.Context, req backend.PeerRequest) (*backend.CreatedPeer, error)
	DeletePeer(ctx context.Context, publicKey string) error
	Interface(ctx context.Context) (*backend.Interface, error)
	Stats(ctx context.Context) (*backend.Stats, error)
}

type Handler struct {
	AccountService    AccountService
	SettlementService SettlementService
	PaymentService    PaymentService
	Engine            RollupEngine
	VPN               VPNClient
	Sequencer         *reconcile.Sequencer
	TokenTTL          time.Duration
	Logger            *zap.Logger
	validate          *validator.Validate
	now               func() time.Time
}

func NewHandler(accounts AccountService, settlement SettlementService, payments PaymentService, engine RollupEngine, vpn VPNClient, tokenTTL time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		AccountService:    accounts,
		SettlementService: settlement,
		PaymentService:    payments,
		Engine:            engine,
		VPN:               vpn,
		Sequencer:         reconcile.NewSequencer(),
		TokenTTL:          tokenTTL,
		Logger:            logger,
		validate:          validator.New(),
		now:               time.Now,
	}
}

func (h *Handler) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     jwtCookie,
		Value:    token,
		Path:     "/",
		Expires:  h.now().Add(h.TokenTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		token, err := h.AccountService.Register(r.Context(), req)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrEmailTaken):
				http.Error(w, err.Error(), http.StatusConflict)
			case errors.Is(err, service.ErrInvalidRequest):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				h.internalError(w, r, err)
			}
			return
		}
		h.setSession(w, token)
	}
}

func (h *Handler) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		token, err := h.AccountService.Login(r.Context(), req)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidCredentials):
				http.Error(w, err.Error(), http.StatusUnauthorized)
			case errors.Is(err, service.ErrInvalidRequest):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				h.internalError(w, r, err)
			}
			return
		}
		h.setSession(w, token)
	}
}

type accountResponse struct {
	*models.Account
	PendingWithdrawals decimal.Decimal `json:"pendingWithdrawals"`
	AvailableBalance   decimal.Decimal `json:"availableBalance"`
}

func (h *Handler) GetAccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		acc, err := h.AccountService.GetAccount(r.Context(), p.AccountID)
		if errors.Is(err, service.ErrAccountNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			h.internalError(w, r, err)
			return
		}
		balance, err := h.SettlementService.GetBalance(r.Context(), p.AccountID)
		if err != nil {
			h.internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, accountResponse{
			Account:            acc,
			PendingWithdrawals: balance.Pending,
			AvailableBalance:   balance.Available,
		})
	}
}

func (h *Handler) UpdateSettingsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		var req models.AccountSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		acc, err := h.AccountService.UpdateSettings(r.Context(), p.AccountID, req)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidRequest):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, service.ErrAccountNotFound):
				http.Error(w, err.Error(), http.StatusNotFound)
			default:
				h.internalError(w, r, err)
			}
			return
		}
		writeJSON(w, http.StatusOK, acc)
	}
}

func (h *Handler) GetSubscriptionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		sub, err := h.AccountService.GetSubscription(r.Context(), p.AccountID)
		if errors.Is(err, service.ErrNoSubscription) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err != nil {
			h.internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

func (h *Handler) GetDevicesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		devices, err := h.AccountService.AccessibleDevices(r.Context(), p.AccountID, p.Role)
		if err != nil {
			h.internalError(w, r, err)
			return
		}
		if len(devices) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, devices)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.Logger.Error("Ошибка обработки запроса", zap.String("url", r.URL.Path), zap.Error(err))
	http.Error(w, "внутренняя ошибка сервера", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func SetupRouters(h *Handler, tokens TokenParser, m Instrumentation, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware(logger))
	if m != nil {
		r.Use(m.Middleware)
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Post("/api/auth/register", h.RegisterHandler())
	r.Post("/api/auth/login", h.LoginHandler())

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(tokens))
		r.Get("/api/rollup", h.RollupHandler())
		r.Get("/api/rollup/export.csv", h.ExportHandler(exportCSV))
		r.Get("/api/rollup/export.xlsx", h.ExportHandler(exportXLSX))
		r.Get("/api/account", h.GetAccountHandler())
		r.Get("/api/account/ledger", h.StatementHandler())
		r.Patch("/api/account/settings", h.UpdateSettingsHandler())
		r.Get("/api/subscription", h.GetSubscriptionHandler())
		r.Get("/api/devices", h.GetDevicesHandler())
		r.Post("/api/payments", h.CreatePaymentHandler())
		r.Get("/api/withdrawals", h.ListWithdrawalsHandler())
		r.Post("/api/withdrawals", h.RequestWithdrawalHandler())

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(AdminOnly)
			r.Patch("/withdrawals/{id}/approve", h.ApproveWithdrawalHandler())
			r.Patch("/withdrawals/{id}/reject", h.RejectWithdrawalHandler())
			r.Post("/accounts/{id}/credit", h.CreditHandler())
			r.Get("/vpn/peers", h.ListPeersHandler())
			r.Post("/vpn/peers", h.CreatePeerHandler())
			r.Delete("/vpn/peers/{key}", h.DeletePeerHandler())
			r.Get("/vpn/interface", h.InterfaceHandler())
			r.Get("/vpn/stats", h.StatsHandler())
		})
	})
	return r
}

// Instrumentation is the metrics surface mounted by the router.
type Instrumentation interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

package routers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/service"
)

// writeServiceError maps settlement and payment errors to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrBelowMinimum),
		errors.Is(err, service.ErrPixKeyMissing),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrTrialNotPurchasable):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrInsufficientFunds):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, service.ErrWithdrawalNotFound),
		errors.Is(err, service.ErrAccountNotFound),
		errors.Is(err, service.ErrPlanNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrWithdrawalNotPending):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrBackendUnavailable):
		h.Logger.Warn("Backend call failed", zap.String("url", r.URL.Path), zap.Error(err))
		http.Error(w, service.ErrBackendUnavailable.Error(), http.StatusBadGateway)
	default:
		h.internalError(w, r, err)
	}
}

func (h *Handler) CreatePaymentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		var req models.PaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		payment, err := h.PaymentService.CreatePayment(r.Context(), p.AccountID, req)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payment)
	}
}

func (h *Handler) StatementHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		entries, err := h.SettlementService.Statement(r.Context(), p.AccountID)
		if err != nil {
			h.internalError(w, r, err)
			return
		}
		if len(entries) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func (h *Handler) ListWithdrawalsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		withdrawals, err := h.SettlementService.ListWithdrawals(r.Context(), p.AccountID, p.Role)
		if err != nil {
			h.internalError(w, r, err)
			return
		}
		if len(withdrawals) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, withdrawals)
	}
}

func (h *Handler) RequestWithdrawalHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		var req models.WithdrawalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "неверный формат запроса", http.StatusUnprocessableEntity)
			return
		}
		withdrawal, err := h.SettlementService.RequestWithdrawal(r.Context(), p.AccountID, req.Amount)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, withdrawal)
	}
}

func (h *Handler) ApproveWithdrawalHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		withdrawal, err := h.SettlementService.ApproveWithdrawal(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, withdrawal)
	}
}

func (h *Handler) RejectWithdrawalHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.RejectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		if err := h.validate.Struct(req); err != nil {
			http.Error(w, service.ErrInvalidRequest.Error(), http.StatusBadRequest)
			return
		}
		withdrawal, err := h.SettlementService.RejectWithdrawal(r.Context(), chi.URLParam(r, "id"), req.Reason)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, withdrawal)
	}
}

func (h *Handler) CreditHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CreditRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		if err := h.validate.Struct(req); err != nil {
			http.Error(w, service.ErrInvalidRequest.Error(), http.StatusBadRequest)
			return
		}
		entry, err := h.SettlementService.Credit(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Reference)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

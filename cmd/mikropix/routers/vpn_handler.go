package routers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/backend"
)

type peerResponse struct {
	backend.Peer
	Online bool `json:"online"`
}

// writeBackendError passes client errors of the backend through and reports
// everything else as a bad gateway.
func (h *Handler) writeBackendError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		http.Error(w, apiErr.Body, apiErr.Status)
		return
	}
	h.Logger.Warn("VPN backend call failed", zap.String("url", r.URL.Path), zap.Error(err))
	http.Error(w, "backend MikroPix недоступен", http.StatusBadGateway)
}

func (h *Handler) ListPeersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peers, err := h.VPN.ListPeers(r.Context())
		if err != nil {
			h.writeBackendError(w, r, err)
			return
		}
		now := h.now()
		resp := make([]peerResponse, 0, len(peers))
		for _, p := range peers {
			resp = append(resp, peerResponse{Peer: p, Online: p.Online(now)})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *Handler) CreatePeerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req backend.PeerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "неверный формат запроса", http.StatusBadRequest)
			return
		}
		if err := h.validate.Struct(req); err != nil {
			http.Error(w, "неверные параметры пира", http.StatusBadRequest)
			return
		}
		peer, err := h.VPN.CreatePeer(r.Context(), req)
		if err != nil {
			h.writeBackendError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, peer)
	}
}

func (h *Handler) DeletePeerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := url.PathUnescape(chi.URLParam(r, "key"))
		if err != nil || key == "" {
			http.Error(w, "неверный ключ пира", http.StatusBadRequest)
			return
		}
		if err := h.VPN.DeletePeer(r.Context(), key); err != nil {
			h.writeBackendError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) InterfaceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		iface, err := h.VPN.Interface(r.Context())
		if err != nil {
			h.writeBackendError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, iface)
	}
}

func (h *Handler) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := h.VPN.Stats(r.Context())
		if err != nil {
			h.writeBackendError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

package routers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/reconcile"
)

const dateLayout = "2006-01-02"

var errBadWindow = errors.New("неверный период")

// parseWindow reads from/to as RFC3339 instants or local calendar dates. A
// date-only "to" includes that whole day. Missing bounds default to the
// current month up to now.
func parseWindow(q url.Values, now time.Time, loc *time.Location) (models.Window, error) {
	month := reconcile.PeriodsAt(now, loc).Month
	w := month
	if raw := q.Get("from"); raw != "" {
		t, _, err := parseInstant(raw, loc)
		if err != nil {
			return models.Window{}, errBadWindow
		}
		w.Start = t
	}
	if raw := q.Get("to"); raw != "" {
		t, dateOnly, err := parseInstant(raw, loc)
		if err != nil {
			return models.Window{}, errBadWindow
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		w.End = t
	}
	if !w.Valid() {
		return models.Window{}, errBadWindow
	}
	return w, nil
}

func parseInstant(raw string, loc *time.Location) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, false, nil
	}
	t, err := time.ParseInLocation(dateLayout, raw, loc)
	return t, true, err
}

// scope resolves the devices the caller may see, narrowed by any device
// query parameters.
func (h *Handler) scope(r *http.Request, p Principal) ([]string, error) {
	devices, err := h.AccountService.AccessibleDevices(r.Context(), p.AccountID, p.Role)
	if err != nil {
		return nil, err
	}
	requested := r.URL.Query()["device"]
	allowed := make(map[string]bool, len(requested))
	for _, id := range requested {
		allowed[id] = true
	}
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		if len(requested) == 0 || allowed[d.ID] {
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}

func (h *Handler) rollupRequest(r *http.Request) (reconcile.Request, error) {
	p, _ := PrincipalFromContext(r.Context())
	now := h.now()
	w, err := parseWindow(r.URL.Query(), now, h.Engine.Location())
	if err != nil {
		return reconcile.Request{}, err
	}
	ids, err := h.scope(r, p)
	if err != nil {
		return reconcile.Request{}, err
	}
	return reconcile.Request{Role: p.Role, DeviceIDs: ids, Window: w, Now: now}, nil
}

type staleResponse struct {
	Stale bool   `json:"stale"`
	Seq   uint64 `json:"seq"`
}

func (h *Handler) RollupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		key := p.AccountID + ":rollup"
		var seq uint64
		if raw := r.URL.Query().Get("seq"); raw != "" {
			n, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				http.Error(w, "неверный номер запроса", http.StatusBadRequest)
				return
			}
			if !h.Sequencer.Observe(key, n) {
				writeJSON(w, http.StatusConflict, staleResponse{Stale: true, Seq: n})
				return
			}
			seq = n
		} else {
			seq = h.Sequencer.Next(key)
		}

		req, err := h.rollupRequest(r)
		if errors.Is(err, errBadWindow) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err != nil {
			h.internalError(w, r, err)
			return
		}
		res, err := h.Engine.ComputeRollup(r.Context(), req)
		if !h.Sequencer.IsLatest(key, seq) {
			h.Logger.Debug("Stale rollup discarded", zap.String("account_id", p.AccountID), zap.Uint64("seq", seq))
			writeJSON(w, http.StatusConflict, staleResponse{Stale: true, Seq: seq})
			return
		}
		w.Header().Set("X-Rollup-Seq", strconv.FormatUint(seq, 10))
		switch {
		case errors.Is(err, reconcile.ErrRollupUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, res)
		case err != nil:
			h.internalError(w, r, err)
		default:
			writeJSON(w, http.StatusOK, res)
		}
	}
}

type exportFormat struct {
	ext         string
	contentType string
	write       func(io.Writer, []models.SaleRecord, reconcile.ExportOptions) error
}

var (
	exportCSV  = exportFormat{ext: "csv", contentType: "text/csv; charset=utf-8", write: reconcile.WriteCSV}
	exportXLSX = exportFormat{ext: "xlsx", contentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", write: reconcile.WriteXLSX}
)

func (h *Handler) ExportHandler(f exportFormat) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := h.rollupRequest(r)
		if errors.Is(err, errBadWindow) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err != nil {
			h.internalError(w, r, err)
			return
		}
		ds, err := h.Engine.Records(r.Context(), req)
		if errors.Is(err, reconcile.ErrRollupUnavailable) {
			http.Error(w, "источники продаж недоступны", http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			h.internalError(w, r, err)
			return
		}
		loc := h.Engine.Location()
		var buf bytes.Buffer
		err = f.write(&buf, ds.Records, reconcile.ExportOptions{
			Role:        req.Role,
			Location:    loc,
			DeviceNames: ds.DeviceNames,
			UserNames:   ds.UserNames,
		})
		if err != nil {
			h.internalError(w, r, err)
			return
		}
		name := fmt.Sprintf("vendas_%s_%s.%s",
			req.Window.Start.In(loc).Format(dateLayout),
			req.Window.End.In(loc).Format(dateLayout),
			f.ext)
		w.Header().Set("Content-Type", f.contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		if ds.Status != models.RollupComplete {
			w.Header().Set("X-Rollup-Status", string(ds.Status))
		}
		w.WriteHeader(http.StatusOK)
		buf.WriteTo(w)
	}
}

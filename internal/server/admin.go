package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"MarginLedger/internal/book"
	"MarginLedger/internal/core"
	"MarginLedger/internal/observability"
	"MarginLedger/internal/projection"
	"MarginLedger/internal/query"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type errorResponse struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HistoryReader reads the stored history. projection.HistoryWriter
// implements it.
type HistoryReader interface {
	Balances(ctx context.Context, sid uint64, limit int) ([]projection.BalanceRow, error)
	PendingStatusOf(ctx context.Context, orderID uint64) (projection.PendingStatus, error)
}

// NewAdminRouter serves health probes, read-only account views and the
// Prometheus registry. It never mutates engine state. history may be nil.
func NewAdminRouter(queries *query.QueryService, history HistoryReader, health *observability.HealthChecker, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health/live", health.LivenessHandler)
	r.Get("/health/ready", health.ReadinessHandler)
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Handle("/metrics", metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/balance/{sid}", withSID(func(w http.ResponseWriter, r *http.Request, sid uint64) {
			view, err := queries.Balance(r.Context(), sid)
			respond(w, view, err)
		}))
		r.Get("/positions/{sid}", withSID(func(w http.ResponseWriter, r *http.Request, sid uint64) {
			recs, err := queries.Positions(r.Context(), sid)
			respond(w, recs, err)
		}))
		r.Get("/pending/{sid}", withSID(func(w http.ResponseWriter, r *http.Request, sid uint64) {
			recs, err := queries.Pending(r.Context(), sid)
			respond(w, recs, err)
		}))
		if history != nil {
			r.Get("/history/balance/{sid}", withSID(func(w http.ResponseWriter, r *http.Request, sid uint64) {
				limit := 100
				if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
					limit = v
				}
				rows, err := history.Balances(r.Context(), sid, limit)
				if rows == nil {
					rows = []projection.BalanceRow{}
				}
				respond(w, rows, err)
			}))
			r.Get("/history/pending/{id}", func(w http.ResponseWriter, r *http.Request) {
				id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
				if err != nil {
					writeJSON(w, http.StatusBadRequest, errorResponse{ErrInvalidArgument.Code, "invalid order id"})
					return
				}
				st, err := history.PendingStatusOf(r.Context(), id)
				if errors.Is(err, book.ErrOrderNotFound) {
					writeJSON(w, http.StatusNotFound, errorResponse{ErrOrderNotFound.Code, ErrOrderNotFound.Message})
					return
				}
				respond(w, map[string]any{"order_id": id, "status": int(st)}, err)
			})
		}
		r.Get("/symbols", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, queries.Symbols())
		})
		r.Get("/groups", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, queries.Groups())
		})
		r.Get("/tick/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, queries.TickStatus())
		})
	})
	return r
}

func withSID(fn func(http.ResponseWriter, *http.Request, uint64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, err := strconv.ParseUint(chi.URLParam(r, "sid"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{ErrInvalidArgument.Code, "invalid sid"})
			return
		}
		fn(w, r, sid)
	}
}

func respond(w http.ResponseWriter, v any, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, v)
	case errors.Is(err, core.ErrStopped):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{ErrUnavailable.Code, ErrUnavailable.Message})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{ErrInternal.Code, err.Error()})
	}
}

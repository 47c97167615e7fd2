package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/evaluate"
	"github.com/opensource-finance/shrike/internal/pipeline"
	"github.com/opensource-finance/shrike/internal/quality"
)

// tableCacheTTL is how long serialized table payloads stay cached.
const tableCacheTTL = 5 * time.Minute

// Handler serves a finished pipeline run read-only: table payloads, the
// reconciliation record, summary statistics, and prediction scoring.
type Handler struct {
	run     *pipeline.Result
	repo    domain.Repository
	cache   domain.Cache
	version string
}

// NewHandler creates a new API handler. repo and cache may be nil.
func NewHandler(run *pipeline.Result, repo domain.Repository, cache domain.Cache, version string) *Handler {
	return &Handler{
		run:     run,
		repo:    repo,
		cache:   cache,
		version: version,
	}
}

// Health returns server health, degraded when a backend ping fails.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether a finished run is loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.run == nil || h.run.Dataset == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready":  "true",
		"run_id": h.run.RunID,
	})
}

// ListTables returns per-table row counts for the loaded run.
func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	ds := h.run.Dataset
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": h.run.RunID,
		"tables": map[string]int{
			"accounts":    len(ds.Accounts),
			"referrals":   len(ds.Referrals),
			"trades":      len(ds.Trades),
			"commissions": len(ds.Commissions),
			"withdrawals": len(ds.Withdrawals),
			"fraud_rings": len(ds.FraudRings),
		},
	})
}

// GetTable returns one table as JSON. Serialized payloads are cached per
// run so repeated reads skip re-marshaling.
func (h *Handler) GetTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if h.cache != nil {
		if payload, err := h.cache.Get(r.Context(), h.run.RunID, "table:"+name); err == nil && payload != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(payload)
			return
		}
	}

	table, ok := h.tablePayload(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "unknown table: " + name,
		})
		return
	}

	payload, err := json.Marshal(table)
	if err != nil {
		slog.Error("failed to marshal table", "table", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to serialize table",
		})
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(r.Context(), h.run.RunID, "table:"+name, payload, tableCacheTTL); err != nil {
			slog.Warn("failed to cache table payload", "table", name, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (h *Handler) tablePayload(name string) (any, bool) {
	ds := h.run.Dataset
	switch name {
	case "accounts":
		return ds.Accounts, true
	case "referrals":
		return ds.Referrals, true
	case "trades":
		return ds.Trades, true
	case "commissions":
		return ds.Commissions, true
	case "withdrawals":
		return ds.Withdrawals, true
	case "fraud_rings":
		return ds.FraudRings, true
	default:
		return nil, false
	}
}

// GetAccount returns one account row by id.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "account id is required",
		})
		return
	}

	for _, a := range h.run.Dataset.Accounts {
		if a.AccountID == accountID {
			writeJSON(w, http.StatusOK, a)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "account not found",
	})
}

// GetReconciliation returns the injection reconciliation record.
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.run.Reconciliation)
}

// GetQuality returns the quality gate report for the loaded run.
func (h *Handler) GetQuality(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": h.run.RunID,
		"gates":  h.run.GateResults,
	})
}

// GetStats returns summary statistics and quality gate outcomes.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		RunID: h.run.RunID,
		Stats: h.run.Stats,
		Gates: h.run.GateResults,
	})
}

type statsResponse struct {
	RunID string               `json:"run_id"`
	Stats domain.DatasetStats  `json:"stats"`
	Gates []quality.GateResult `json:"gates"`
}

// EvaluateRequest is the request body for POST /evaluate.
type EvaluateRequest struct {
	Threshold   float64               `json:"threshold"`
	Predictions []evaluate.Prediction `json:"predictions"`
}

// Evaluate scores externally supplied predictions against the run's
// ground-truth labels.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Predictions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "predictions are required",
		})
		return
	}
	if req.Threshold == 0 {
		req.Threshold = 0.5
	}

	reports, err := evaluate.Evaluate(h.run.Dataset.Accounts, req.Predictions, req.Threshold)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  h.run.RunID,
		"reports": reports,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

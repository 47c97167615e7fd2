package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opensource-finance/shrike/internal/cache"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/evaluate"
	"github.com/opensource-finance/shrike/internal/pipeline"
	"github.com/opensource-finance/shrike/internal/quality"
)

func testRun() *pipeline.Result {
	base := time.Date(2022, 9, 1, 0, 0, 0, 0, time.UTC)
	ds := &domain.Dataset{
		Accounts: []domain.Account{
			{AccountID: "C_000001", Role: domain.RoleClient, IsFraudulent: true},
			{AccountID: "C_000002", Role: domain.RoleClient},
			{AccountID: "P_0001", Role: domain.RolePartner, IsFraudulent: true},
		},
		Referrals: []domain.ReferralEdge{
			{PartnerID: "P_0001", ClientID: "C_000001", ReferralDate: base},
			{PartnerID: "P_0001", ClientID: "C_000002", ReferralDate: base},
		},
		Trades: []domain.TradeEvent{
			{TradeID: "T_0000001", ClientID: "C_000001", Instrument: "EURUSD",
				Timestamp: base.Add(time.Hour), Direction: domain.DirectionBuy, Volume: 100},
		},
		FraudRings: []domain.FraudRing{
			{RingID: "R_0001", PatternType: domain.PatternFanIn,
				MemberAccountIDs: []string{"C_000001", "P_0001"}},
		},
	}
	rec := &domain.Reconciliation{OppositeTarget: 4, OppositeActual: 4, BonusTarget: 2, BonusActual: 1}
	return &pipeline.Result{
		RunID:          "run-test-001",
		Dataset:        ds,
		Reconciliation: rec,
		Stats:          ds.Stats(0.05, rec),
		GateResults: []quality.GateResult{
			{GateID: "row-counts", Passed: true, Blocking: true},
			{GateID: "injection-shortfall", Passed: false, Blocking: false, Reason: "bonus cycles below target"},
		},
	}
}

func testServer(t *testing.T) *Server {
	t.Helper()
	c, err := cache.New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return NewServer(domain.ServerConfig{}, testRun(), nil, c, "test")
}

func doRequest(t *testing.T, srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response: %v\nbody: %s", err, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	w := doRequest(t, testServer(t), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]string
	decode(t, w, &resp)
	if resp["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("expected version test, got %s", resp["version"])
	}
}

func TestReady(t *testing.T) {
	t.Run("WithRun", func(t *testing.T) {
		w := doRequest(t, testServer(t), http.MethodGet, "/ready", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var resp map[string]string
		decode(t, w, &resp)
		if resp["run_id"] != "run-test-001" {
			t.Errorf("expected run id in response, got %v", resp)
		}
	})

	t.Run("WithoutRun", func(t *testing.T) {
		srv := NewServer(domain.ServerConfig{}, nil, nil, nil, "test")
		w := doRequest(t, srv, http.MethodGet, "/ready", nil)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", w.Code)
		}
	})
}

func TestListTables(t *testing.T) {
	w := doRequest(t, testServer(t), http.MethodGet, "/tables", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		RunID  string         `json:"run_id"`
		Tables map[string]int `json:"tables"`
	}
	decode(t, w, &resp)
	if resp.Tables["accounts"] != 3 || resp.Tables["trades"] != 1 {
		t.Errorf("unexpected table counts: %v", resp.Tables)
	}
}

func TestGetTable(t *testing.T) {
	srv := testServer(t)

	t.Run("Accounts", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodGet, "/tables/accounts", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var accounts []domain.Account
		decode(t, w, &accounts)
		if len(accounts) != 3 {
			t.Errorf("expected 3 accounts, got %d", len(accounts))
		}
	})

	t.Run("CachedSecondRead", func(t *testing.T) {
		first := doRequest(t, srv, http.MethodGet, "/tables/trades", nil)
		second := doRequest(t, srv, http.MethodGet, "/tables/trades", nil)
		if second.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", second.Code)
		}
		if first.Body.String() != second.Body.String() {
			t.Error("cached payload differs from first response")
		}
	})

	t.Run("UnknownTable", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodGet, "/tables/nonexistent", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})
}

func TestGetAccount(t *testing.T) {
	srv := testServer(t)

	t.Run("Found", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodGet, "/accounts/C_000001", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var a domain.Account
		decode(t, w, &a)
		if a.AccountID != "C_000001" || !a.IsFraudulent {
			t.Errorf("unexpected account: %+v", a)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodGet, "/accounts/C_999999", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})
}

func TestGetReconciliation(t *testing.T) {
	w := doRequest(t, testServer(t), http.MethodGet, "/reconciliation", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var rec domain.Reconciliation
	decode(t, w, &rec)
	if rec.OppositeActual != 4 || rec.BonusActual != 1 {
		t.Errorf("unexpected reconciliation: %+v", rec)
	}
}

func TestGetQuality(t *testing.T) {
	w := doRequest(t, testServer(t), http.MethodGet, "/quality", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		RunID string               `json:"run_id"`
		Gates []quality.GateResult `json:"gates"`
	}
	decode(t, w, &resp)
	if len(resp.Gates) != 2 {
		t.Fatalf("expected 2 gate results, got %d", len(resp.Gates))
	}
	if resp.Gates[0].GateID != "row-counts" || !resp.Gates[0].Passed {
		t.Errorf("unexpected first gate: %+v", resp.Gates[0])
	}
	if resp.Gates[1].Passed || resp.Gates[1].Blocking {
		t.Errorf("expected advisory failure, got %+v", resp.Gates[1])
	}
}

func TestGetStats(t *testing.T) {
	w := doRequest(t, testServer(t), http.MethodGet, "/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		RunID string              `json:"run_id"`
		Stats domain.DatasetStats `json:"stats"`
	}
	decode(t, w, &resp)
	if resp.RunID != "run-test-001" {
		t.Errorf("expected run id, got %s", resp.RunID)
	}
	if resp.Stats.Partners != 1 || resp.Stats.Clients != 2 {
		t.Errorf("unexpected stats: %+v", resp.Stats)
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	srv := testServer(t)

	t.Run("ValidRequest", func(t *testing.T) {
		body, _ := json.Marshal(EvaluateRequest{
			Threshold: 0.5,
			Predictions: []evaluate.Prediction{
				{AccountID: "C_000001", Score: 0.9},
				{AccountID: "C_000002", Score: 0.1},
				{AccountID: "P_0001", Score: 0.8},
			},
		})
		w := doRequest(t, srv, http.MethodPost, "/evaluate", body)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}

		var resp struct {
			RunID   string `json:"run_id"`
			Reports []struct {
				Cohort string  `json:"cohort"`
				Scored int     `json:"scored"`
				AUC    float64 `json:"auc"`
			} `json:"reports"`
		}
		decode(t, w, &resp)
		if len(resp.Reports) != 3 {
			t.Fatalf("expected 3 cohort reports, got %d", len(resp.Reports))
		}
		for _, r := range resp.Reports {
			if r.Cohort == "all" && r.Scored != 3 {
				t.Errorf("expected 3 scored in all cohort, got %d", r.Scored)
			}
		}
	})

	t.Run("EmptyPredictions", func(t *testing.T) {
		body, _ := json.Marshal(EvaluateRequest{Threshold: 0.5})
		w := doRequest(t, srv, http.MethodPost, "/evaluate", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("BadScore", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodPost, "/evaluate",
			[]byte(`{"threshold":0.5,"predictions":[{"account_id":"C_000001","score":1.7}]}`))
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("MalformedBody", func(t *testing.T) {
		w := doRequest(t, srv, http.MethodPost, "/evaluate", []byte("{not json"))
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})
}

func TestRequestIDHeader(t *testing.T) {
	w := doRequest(t, testServer(t), http.MethodGet, "/health", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

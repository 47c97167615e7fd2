// Package quality provides the CEL-Go based dataset quality gates.
// Gates are boolean expressions over dataset summary statistics,
// evaluated after injection and before export.
package quality

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/shrike/internal/domain"
)

// Gate is one configured quality check. Expression must evaluate to a
// bool over the stats variables; false fails the gate.
type Gate struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Expression  string `json:"expression"`

	// Blocking gates abort the run on failure; advisory gates only warn.
	Blocking bool `json:"blocking"`

	Enabled bool `json:"enabled"`
}

// GateResult is the outcome of one gate evaluation.
type GateResult struct {
	GateID    string `json:"gate_id"`
	Passed    bool   `json:"passed"`
	Blocking  bool   `json:"blocking"`
	Reason    string `json:"reason"`
	ProcessMs int64  `json:"process_ms"`
}

// GateFailureError reports failed blocking gates. Advisory failures are
// present in the results but never produce this error.
type GateFailureError struct {
	Failed []GateResult
}

func (e *GateFailureError) Error() string {
	return fmt.Sprintf("quality: %d blocking gate(s) failed", len(e.Failed))
}

type compiledGate struct {
	gate    Gate
	program cel.Program
}

// Engine compiles and evaluates quality gates.
type Engine struct {
	mu    sync.RWMutex
	env   *cel.Env
	gates []compiledGate
}

// NewEngine creates the engine with one CEL variable per stats field.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("accounts", cel.IntType),
		cel.Variable("partners", cel.IntType),
		cel.Variable("clients", cel.IntType),
		cel.Variable("fraudulent_accounts", cel.IntType),
		cel.Variable("referrals", cel.IntType),
		cel.Variable("trades", cel.IntType),
		cel.Variable("opposite_trades", cel.IntType),
		cel.Variable("bonus_abuse_trades", cel.IntType),
		cel.Variable("commissions", cel.IntType),
		cel.Variable("withdrawals", cel.IntType),
		cel.Variable("fraud_rings", cel.IntType),
		cel.Variable("fraud_rate", cel.DoubleType),
		cel.Variable("commission_mismatch", cel.IntType),
		cel.Variable("opposite_shortfall", cel.IntType),
		cel.Variable("bonus_shortfall", cel.IntType),
		cel.Variable("dropped_ring_members", cel.IntType),
		cel.Variable("dangling_references", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("quality: create CEL environment: %w", err)
	}
	return &Engine{env: env}, nil
}

// LoadGates compiles and loads the enabled gates, replacing any loaded set.
func (e *Engine) LoadGates(gates []Gate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled := make([]compiledGate, 0, len(gates))
	for _, g := range gates {
		if !g.Enabled {
			continue
		}
		cg, err := e.compile(g)
		if err != nil {
			return err
		}
		compiled = append(compiled, cg)
	}
	e.gates = compiled
	return nil
}

// GateCount returns the number of loaded gates.
func (e *Engine) GateCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.gates)
}

// Evaluate runs every loaded gate against the stats. The returned error
// is a *GateFailureError when any blocking gate fails; advisory failures
// are only reflected in the results.
func (e *Engine) Evaluate(stats domain.DatasetStats) ([]GateResult, error) {
	e.mu.RLock()
	gates := e.gates
	e.mu.RUnlock()

	activation := map[string]any{
		"accounts":             stats.Accounts,
		"partners":             stats.Partners,
		"clients":              stats.Clients,
		"fraudulent_accounts":  stats.FraudulentAccounts,
		"referrals":            stats.Referrals,
		"trades":               stats.Trades,
		"opposite_trades":      stats.OppositeTrades,
		"bonus_abuse_trades":   stats.BonusAbuseTrades,
		"commissions":          stats.Commissions,
		"withdrawals":          stats.Withdrawals,
		"fraud_rings":          stats.FraudRings,
		"fraud_rate":           stats.FraudRate,
		"commission_mismatch":  stats.CommissionMismatch,
		"opposite_shortfall":   stats.OppositeShortfall,
		"bonus_shortfall":      stats.BonusShortfall,
		"dropped_ring_members": stats.DroppedRingMembers,
		"dangling_references":  stats.DanglingReferences,
	}

	results := make([]GateResult, 0, len(gates))
	var failed []GateResult
	for _, cg := range gates {
		r := e.evaluateGate(cg, activation)
		results = append(results, r)
		if !r.Passed && r.Blocking {
			failed = append(failed, r)
		}
	}

	if len(failed) > 0 {
		return results, &GateFailureError{Failed: failed}
	}
	return results, nil
}

func (e *Engine) evaluateGate(cg compiledGate, activation map[string]any) GateResult {
	start := time.Now()
	result := GateResult{GateID: cg.gate.ID, Blocking: cg.gate.Blocking}

	out, _, err := cg.program.Eval(activation)
	if err != nil {
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	if b, ok := out.(types.Bool); ok && bool(b) {
		result.Passed = true
	} else {
		result.Reason = cg.gate.Description
	}
	result.ProcessMs = time.Since(start).Milliseconds()
	return result
}

func (e *Engine) compile(g Gate) (compiledGate, error) {
	ast, issues := e.env.Compile(g.Expression)
	if issues != nil && issues.Err() != nil {
		return compiledGate{}, fmt.Errorf("quality: compile gate %s: %w", g.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return compiledGate{}, fmt.Errorf("quality: gate %s: expression must return bool, got %s", g.ID, ast.OutputType())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return compiledGate{}, fmt.Errorf("quality: program for gate %s: %w", g.ID, err)
	}
	return compiledGate{gate: g, program: program}, nil
}

// DefaultGates returns the stock gate set run on every build.
func DefaultGates() []Gate {
	return []Gate{
		{
			ID:          "referential-integrity",
			Description: "no dangling cross-table references",
			Expression:  "dangling_references == 0",
			Blocking:    false,
			Enabled:     true,
		},
		{
			ID:          "commission-derivation",
			Description: "every commission equals trade volume times the configured rate",
			Expression:  "commission_mismatch == 0",
			Blocking:    true,
			Enabled:     true,
		},
		{
			ID:          "role-coverage",
			Description: "both roles are present in the account table",
			Expression:  "partners > 0 && clients > 0",
			Blocking:    true,
			Enabled:     true,
		},
		{
			ID:          "fraud-labels-present",
			Description: "at least one fraudulent account exists when rings were supplied",
			Expression:  "fraud_rings == 0 || fraudulent_accounts > 0",
			Blocking:    true,
			Enabled:     true,
		},
		{
			ID:          "fraud-rate-bounded",
			Description: "fraud rate stays below half the population",
			Expression:  "fraud_rate < 0.5",
			Blocking:    false,
			Enabled:     true,
		},
		{
			ID:          "injection-targets",
			Description: "injection met its configured targets",
			Expression:  "opposite_shortfall == 0 && bonus_shortfall == 0",
			Blocking:    false,
			Enabled:     true,
		},
	}
}

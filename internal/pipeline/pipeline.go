// Package pipeline runs the dataset build as an explicit sequence of
// typed stages: load, classify, transform, inject, quality, export.
// Each stage consumes its predecessor's complete output; no stage begins
// before the prior stage's validation passes.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/export"
	"github.com/opensource-finance/shrike/internal/inject"
	"github.com/opensource-finance/shrike/internal/ledger"
	"github.com/opensource-finance/shrike/internal/quality"
	"github.com/opensource-finance/shrike/internal/roles"
	"github.com/opensource-finance/shrike/internal/transform"
)

// Inputs names the files a run consumes and where output lands.
type Inputs struct {
	// LedgerPath is the raw transaction ledger CSV.
	LedgerPath string

	// PatternsPath is the fraud-pattern dump with labeled rings.
	PatternsPath string

	// AccountsPath optionally carries bank/entity metadata per account.
	AccountsPath string

	// OutputDir receives the exported CSV tables. Empty skips file output.
	OutputDir string
}

// Result is the complete outcome of one run.
type Result struct {
	RunID          string
	Dataset        *domain.Dataset
	Reconciliation *domain.Reconciliation
	Stats          domain.DatasetStats
	GateResults    []quality.GateResult
}

// Pipeline owns the configuration and the optional event bus the stages
// report on. The bus is best-effort; publish failures never fail a run.
type Pipeline struct {
	cfg *domain.Config
	bus domain.EventBus
}

// New creates a pipeline. bus may be nil.
func New(cfg *domain.Config, bus domain.EventBus) *Pipeline {
	return &Pipeline{cfg: cfg, bus: bus}
}

// Run executes the full build. Configuration is validated before any
// stage runs; every later failure is wrapped with its stage name.
func (p *Pipeline) Run(ctx context.Context, in Inputs) (*Result, error) {
	if err := p.cfg.Pipeline.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	rng := rand.New(rand.NewSource(p.cfg.Pipeline.Seed))
	result := &Result{RunID: runID}

	slog.Info("pipeline run starting",
		"run_id", runID,
		"seed", p.cfg.Pipeline.Seed,
		"ledger", in.LedgerPath,
		"patterns", in.PatternsPath,
	)

	var (
		records    []domain.LedgerRecord
		rings      []domain.FraudRing
		info       map[string]domain.AccountInfo
		assignment *roles.Assignment
		trResult   *transform.Result
	)

	err := p.stage(ctx, runID, "load", func() error {
		var err error
		records, err = ledger.LoadFile(in.LedgerPath)
		if err != nil {
			return err
		}
		records = ledger.Subsample(records, p.cfg.Pipeline.SampleLimit, rng)

		rings, err = ledger.ParsePatternsFile(in.PatternsPath)
		if err != nil {
			return err
		}

		if in.AccountsPath != "" {
			info, err = ledger.LoadAccountsFile(in.AccountsPath)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, p.fail(ctx, runID, "load", err)
	}

	err = p.stage(ctx, runID, "classify", func() error {
		assignment = roles.Classify(records, p.cfg.Pipeline)
		return nil
	})
	if err != nil {
		return nil, p.fail(ctx, runID, "classify", err)
	}

	err = p.stage(ctx, runID, "transform", func() error {
		var err error
		trResult, err = transform.Transform(records, rings, assignment, info, p.cfg.Pipeline)
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, runID, "transform", err)
	}

	err = p.stage(ctx, runID, "inject", func() error {
		injector := inject.New(p.cfg.Pipeline, rng)
		ds, rec, err := injector.Inject(trResult.Dataset)
		if err != nil {
			return err
		}
		rec.PartnerShortfall = assignment.Shortfall
		rec.DroppedRingMembers = trResult.DroppedRingMembers
		result.Dataset = ds
		result.Reconciliation = rec
		return nil
	})
	if err != nil {
		return nil, p.fail(ctx, runID, "inject", err)
	}

	err = p.stage(ctx, runID, "quality", func() error {
		engine, err := quality.NewEngine()
		if err != nil {
			return err
		}
		if err := engine.LoadGates(quality.DefaultGates()); err != nil {
			return err
		}

		result.Stats = result.Dataset.Stats(p.cfg.Pipeline.CommissionRate, result.Reconciliation)
		results, err := engine.Evaluate(result.Stats)
		result.GateResults = results
		for _, r := range results {
			if !r.Passed && !r.Blocking {
				slog.Warn("advisory quality gate failed", "gate", r.GateID, "reason", r.Reason)
			}
		}
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, runID, "quality", err)
	}

	err = p.stage(ctx, runID, "export", func() error {
		final, err := export.Finalize(result.Dataset, p.cfg.Pipeline)
		if err != nil {
			return err
		}
		result.Dataset = final

		if in.OutputDir != "" {
			return export.WriteCSV(final, in.OutputDir)
		}
		return nil
	})
	if err != nil {
		return nil, p.fail(ctx, runID, "export", err)
	}

	p.publish(ctx, runID, domain.TopicRunCompleted, domain.StageEvent{
		RunID: runID,
		Rows:  tableRows(result.Dataset),
	})
	slog.Info("pipeline run completed",
		"run_id", runID,
		"accounts", len(result.Dataset.Accounts),
		"trades", len(result.Dataset.Trades),
		"opposite_actual", result.Reconciliation.OppositeActual,
		"bonus_actual", result.Reconciliation.BonusActual,
	)
	return result, nil
}

// stage runs one named stage with timing and lifecycle events.
func (p *Pipeline) stage(ctx context.Context, runID, name string, fn func() error) error {
	p.publish(ctx, runID, domain.TopicStageStarted, domain.StageEvent{RunID: runID, Stage: name})
	start := time.Now()

	if err := fn(); err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}

	elapsed := time.Since(start)
	p.publish(ctx, runID, domain.TopicStageCompleted, domain.StageEvent{
		RunID:      runID,
		Stage:      name,
		DurationMs: elapsed.Milliseconds(),
	})
	slog.Info("stage completed", "run_id", runID, "stage", name, "duration_ms", elapsed.Milliseconds())
	return nil
}

func (p *Pipeline) fail(ctx context.Context, runID, stage string, err error) error {
	p.publish(ctx, runID, domain.TopicRunFailed, domain.StageEvent{
		RunID: runID,
		Stage: stage,
		Error: err.Error(),
	})
	slog.Error("pipeline run failed", "run_id", runID, "stage", stage, "error", err)
	return err
}

func (p *Pipeline) publish(ctx context.Context, runID, topic string, event domain.StageEvent) {
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, runID, topic, payload); err != nil {
		slog.Warn("failed to publish stage event", "topic", topic, "error", err)
	}
}

func tableRows(ds *domain.Dataset) map[string]int {
	return map[string]int{
		"accounts":    len(ds.Accounts),
		"referrals":   len(ds.Referrals),
		"trades":      len(ds.Trades),
		"commissions": len(ds.Commissions),
		"withdrawals": len(ds.Withdrawals),
		"fraud_rings": len(ds.FraudRings),
	}
}

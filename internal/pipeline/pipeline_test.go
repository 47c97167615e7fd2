package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/opensource-finance/shrike/internal/domain"
)

// writeFixtures lays down a small ledger with three fan-in hubs and a
// pattern dump putting the first hub and its senders in a ring.
func writeFixtures(t *testing.T) (ledgerPath, patternsPath string) {
	t.Helper()
	dir := t.TempDir()

	var ledger strings.Builder
	ledger.WriteString("timestamp,sender,receiver,amount,currency,is_flagged\n")
	for h := 1; h <= 3; h++ {
		for s := 1; s <= 6; s++ {
			fmt.Fprintf(&ledger, "2022/09/%02d %02d:%02d,ACC_S%d_%d,ACC_H%d,%d.00,USD,0\n",
				h, s, s, h, s, h, 100*s)
		}
	}

	ledgerPath = filepath.Join(dir, "ledger.csv")
	if err := os.WriteFile(ledgerPath, []byte(ledger.String()), 0o644); err != nil {
		t.Fatalf("write ledger fixture: %v", err)
	}

	patterns := `BEGIN LAUNDERING ATTEMPT - FAN-IN
2022/09/01 01:01,BANK01,ACC_S1_1,BANK02,ACC_H1,100.00,USD,1
2022/09/01 02:02,BANK01,ACC_S1_2,BANK02,ACC_H1,200.00,USD,1
2022/09/01 03:03,BANK01,ACC_S1_3,BANK02,ACC_H1,300.00,USD,1
END LAUNDERING ATTEMPT
`
	patternsPath = filepath.Join(dir, "patterns.txt")
	if err := os.WriteFile(patternsPath, []byte(patterns), 0o644); err != nil {
		t.Fatalf("write patterns fixture: %v", err)
	}
	return ledgerPath, patternsPath
}

func testConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	cfg.Pipeline.PartnerMinInDegree = 3
	cfg.Pipeline.PartnerCap = 3
	cfg.Pipeline.SampleLimit = 0
	cfg.Pipeline.OppositeTarget = 4
	cfg.Pipeline.BonusTarget = 2
	return cfg
}

func TestRun(t *testing.T) {
	ledgerPath, patternsPath := writeFixtures(t)
	outDir := t.TempDir()

	p := New(testConfig(), nil)
	result, err := p.Run(context.Background(), Inputs{
		LedgerPath:   ledgerPath,
		PatternsPath: patternsPath,
		OutputDir:    outDir,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.RunID == "" {
		t.Error("expected a run id")
	}

	ds := result.Dataset
	// 3 hubs and 18 senders.
	if len(ds.Accounts) != 21 {
		t.Errorf("expected 21 accounts, got %d", len(ds.Accounts))
	}
	if result.Stats.Partners != 3 || result.Stats.Clients != 18 {
		t.Errorf("unexpected role split: %+v", result.Stats)
	}
	if len(ds.Referrals) != 18 {
		t.Errorf("expected 18 referral edges, got %d", len(ds.Referrals))
	}

	// 18 base trades plus the injected activity.
	if result.Reconciliation.OppositeActual != 4 {
		t.Errorf("expected 4 opposite events, got %d", result.Reconciliation.OppositeActual)
	}
	if result.Reconciliation.BonusActual != 2 {
		t.Errorf("expected 2 bonus cycles, got %d", result.Reconciliation.BonusActual)
	}
	if len(ds.Withdrawals) != 2 {
		t.Errorf("expected 2 withdrawals, got %d", len(ds.Withdrawals))
	}

	if len(ds.FraudRings) != 1 {
		t.Fatalf("expected 1 ring, got %d", len(ds.FraudRings))
	}
	if result.Stats.FraudulentAccounts == 0 {
		t.Error("expected fraudulent accounts after ring labeling")
	}

	if len(result.GateResults) == 0 {
		t.Error("expected gate results")
	}
	for _, g := range result.GateResults {
		if g.Blocking && !g.Passed {
			t.Errorf("blocking gate %s failed: %s", g.GateID, g.Reason)
		}
	}

	for _, name := range []string{"accounts", "referrals", "trades", "commissions", "withdrawals", "fraud_rings"} {
		if _, err := os.Stat(filepath.Join(outDir, name+".csv")); err != nil {
			t.Errorf("missing output table %s.csv: %v", name, err)
		}
	}
}

func TestRunDeterministic(t *testing.T) {
	ledgerPath, patternsPath := writeFixtures(t)
	dirA, dirB := t.TempDir(), t.TempDir()

	for _, dir := range []string{dirA, dirB} {
		p := New(testConfig(), nil)
		if _, err := p.Run(context.Background(), Inputs{
			LedgerPath:   ledgerPath,
			PatternsPath: patternsPath,
			OutputDir:    dir,
		}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	}

	for _, name := range []string{"accounts", "referrals", "trades", "commissions", "withdrawals", "fraud_rings"} {
		a, err := os.ReadFile(filepath.Join(dirA, name+".csv"))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		b, err := os.ReadFile(filepath.Join(dirB, name+".csv"))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(a) != string(b) {
			t.Errorf("%s.csv differs between identically seeded runs", name)
		}
	}
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.OppositeTarget = 7 // odd

	p := New(cfg, nil)
	_, err := p.Run(context.Background(), Inputs{LedgerPath: "x", PatternsPath: "y"})

	var ce *domain.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestRunMissingLedger(t *testing.T) {
	_, patternsPath := writeFixtures(t)

	p := New(testConfig(), nil)
	_, err := p.Run(context.Background(), Inputs{
		LedgerPath:   filepath.Join(t.TempDir(), "nope.csv"),
		PatternsPath: patternsPath,
	})
	if err == nil {
		t.Fatal("expected error for missing ledger")
	}
	if !strings.Contains(err.Error(), "stage load") {
		t.Errorf("expected load stage in error, got: %v", err)
	}
}

// recordingBus captures published topics for assertions.
type recordingBus struct {
	mu     sync.Mutex
	topics []string
}

func (b *recordingBus) Publish(_ context.Context, _ string, topic string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string, string, domain.MessageHandler) (domain.Subscription, error) {
	return nil, nil
}

func (b *recordingBus) Ping(context.Context) error { return nil }
func (b *recordingBus) Close() error               { return nil }

func (b *recordingBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.topics {
		if t == topic {
			n++
		}
	}
	return n
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	ledgerPath, patternsPath := writeFixtures(t)

	bus := &recordingBus{}
	p := New(testConfig(), bus)
	if _, err := p.Run(context.Background(), Inputs{
		LedgerPath:   ledgerPath,
		PatternsPath: patternsPath,
	}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Six stages, each with a start and a completion, plus the final
	// run-completed event.
	if got := bus.count(domain.TopicStageStarted); got != 6 {
		t.Errorf("expected 6 stage-started events, got %d", got)
	}
	if got := bus.count(domain.TopicStageCompleted); got != 6 {
		t.Errorf("expected 6 stage-completed events, got %d", got)
	}
	if got := bus.count(domain.TopicRunCompleted); got != 1 {
		t.Errorf("expected 1 run-completed event, got %d", got)
	}
	if got := bus.count(domain.TopicRunFailed); got != 0 {
		t.Errorf("expected no run-failed events, got %d", got)
	}
}

func TestRunFailurePublishesRunFailed(t *testing.T) {
	_, patternsPath := writeFixtures(t)

	bus := &recordingBus{}
	p := New(testConfig(), bus)
	if _, err := p.Run(context.Background(), Inputs{
		LedgerPath:   filepath.Join(t.TempDir(), "nope.csv"),
		PatternsPath: patternsPath,
	}); err == nil {
		t.Fatal("expected error")
	}

	if got := bus.count(domain.TopicRunFailed); got != 1 {
		t.Errorf("expected 1 run-failed event, got %d", got)
	}
}

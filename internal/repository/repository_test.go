package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func storedDataset() (*domain.Dataset, *domain.Reconciliation) {
	base := time.Date(2022, 9, 1, 0, 0, 0, 0, time.UTC)
	ds := &domain.Dataset{
		Accounts: []domain.Account{
			{AccountID: "P_0001", Role: domain.RolePartner, Bank: "BANK01", Entity: "Entity A", IsFraudulent: true},
			{AccountID: "C_000001", Role: domain.RoleClient, IsFraudulent: true},
			{AccountID: "C_000002", Role: domain.RoleClient},
		},
		Referrals: []domain.ReferralEdge{
			{PartnerID: "P_0001", ClientID: "C_000001", ReferralDate: base},
			{PartnerID: "P_0001", ClientID: "C_000002", ReferralDate: base},
		},
		Trades: []domain.TradeEvent{
			{TradeID: "T_0000001", ClientID: "C_000001", Instrument: "EURUSD",
				Timestamp: base.Add(time.Hour), Direction: domain.DirectionBuy, Volume: 100, IsOppositeTrade: true},
		},
		Commissions: []domain.CommissionEvent{
			{CommissionID: "CM_0000001", ClientID: "C_000001", PartnerID: "P_0001",
				TradeID: "T_0000001", Timestamp: base.Add(2 * time.Hour), CommissionAmount: 5, Currency: "USD"},
		},
		Withdrawals: []domain.WithdrawalEvent{
			{WithdrawalID: "W_00001", ClientID: "C_000001", Timestamp: base.Add(3 * time.Hour), Amount: 40},
		},
		FraudRings: []domain.FraudRing{
			{RingID: "R_0001", PatternType: domain.PatternFanIn,
				MemberAccountIDs: []string{"C_000001", "P_0001"}, HubAccountID: "P_0001"},
		},
	}
	rec := &domain.Reconciliation{
		OppositeTarget: 4, OppositeActual: 2,
		BonusTarget: 2, BonusActual: 2,
		PartnerShortfall: 1, DroppedRingMembers: 3,
	}
	return ds, rec
}

func TestSaveDataset(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ds, rec := storedDataset()

	if err := repo.SaveDataset(ctx, "run-001", ds, rec); err != nil {
		t.Fatalf("SaveDataset failed: %v", err)
	}

	counts, err := repo.TableCounts(ctx, "run-001")
	if err != nil {
		t.Fatalf("TableCounts failed: %v", err)
	}
	want := map[string]int64{
		"accounts": 3, "referrals": 2, "trades": 1,
		"commissions": 1, "withdrawals": 1, "fraud_rings": 1,
	}
	for table, n := range want {
		if counts[table] != n {
			t.Errorf("table %s: expected %d rows, got %d", table, n, counts[table])
		}
	}
}

func TestSaveDatasetMissingRunID(t *testing.T) {
	repo := newTestRepo(t)
	ds, rec := storedDataset()

	err := repo.SaveDataset(context.Background(), "", ds, rec)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetAccount(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ds, rec := storedDataset()
	if err := repo.SaveDataset(ctx, "run-001", ds, rec); err != nil {
		t.Fatalf("SaveDataset failed: %v", err)
	}

	t.Run("Found", func(t *testing.T) {
		a, err := repo.GetAccount(ctx, "run-001", "P_0001")
		if err != nil {
			t.Fatalf("GetAccount failed: %v", err)
		}
		if a.Role != domain.RolePartner || a.Bank != "BANK01" || !a.IsFraudulent {
			t.Errorf("unexpected account: %+v", a)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetAccount(ctx, "run-001", "C_999999")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("WrongRun", func(t *testing.T) {
		_, err := repo.GetAccount(ctx, "run-other", "P_0001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for another run, got %v", err)
		}
	})
}

func TestGetReconciliation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ds, rec := storedDataset()
	if err := repo.SaveDataset(ctx, "run-001", ds, rec); err != nil {
		t.Fatalf("SaveDataset failed: %v", err)
	}

	got, err := repo.GetReconciliation(ctx, "run-001")
	if err != nil {
		t.Fatalf("GetReconciliation failed: %v", err)
	}
	if *got != *rec {
		t.Errorf("reconciliation mismatch: got %+v, want %+v", got, rec)
	}

	if _, err := repo.GetReconciliation(ctx, "run-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunIsolation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ds, rec := storedDataset()

	if err := repo.SaveDataset(ctx, "run-a", ds, rec); err != nil {
		t.Fatalf("SaveDataset run-a failed: %v", err)
	}
	if err := repo.SaveDataset(ctx, "run-b", ds, rec); err != nil {
		t.Fatalf("SaveDataset run-b failed: %v", err)
	}

	counts, err := repo.TableCounts(ctx, "run-a")
	if err != nil {
		t.Fatalf("TableCounts failed: %v", err)
	}
	if counts["accounts"] != 3 {
		t.Errorf("expected 3 accounts in run-a, got %d", counts["accounts"])
	}
}

func TestSaveDatasetRollsBackOnDuplicate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ds, rec := storedDataset()

	// Duplicate primary key inside one run aborts the transaction.
	ds.Accounts = append(ds.Accounts, ds.Accounts[0])
	if err := repo.SaveDataset(ctx, "run-dup", ds, rec); err == nil {
		t.Fatal("expected error for duplicate account id")
	}

	counts, err := repo.TableCounts(ctx, "run-dup")
	if err != nil {
		t.Fatalf("TableCounts failed: %v", err)
	}
	for table, n := range counts {
		if n != 0 {
			t.Errorf("table %s has %d rows after rollback", table, n)
		}
	}
}

func TestRebind(t *testing.T) {
	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("SELECT * FROM runs WHERE run_id = ?"); got != "SELECT * FROM runs WHERE run_id = ?" {
		t.Errorf("sqlite rebind changed query: %s", got)
	}

	pg := &SQLRepository{driver: "postgres"}
	got := pg.rebind("INSERT INTO t (a, b, c) VALUES (?, ?, ?)")
	want := "INSERT INTO t (a, b, c) VALUES ($1, $2, $3)"
	if got != want {
		t.Errorf("postgres rebind: got %s, want %s", got, want)
	}
}

func TestPing(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

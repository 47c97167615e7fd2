package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPipelineConfigValidate(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg := DefaultPipelineConfig()
		if err := cfg.Validate(); err != nil {
			t.Fatalf("default config must validate: %v", err)
		}
	})

	cases := []struct {
		name   string
		mutate func(*PipelineConfig)
		field  string
	}{
		{"ZeroMinInDegree", func(c *PipelineConfig) { c.PartnerMinInDegree = 0 }, "PartnerMinInDegree"},
		{"ZeroPartnerCap", func(c *PipelineConfig) { c.PartnerCap = 0 }, "PartnerCap"},
		{"NegativeSampleLimit", func(c *PipelineConfig) { c.SampleLimit = -1 }, "SampleLimit"},
		{"CommissionRateTooHigh", func(c *PipelineConfig) { c.CommissionRate = 1.0 }, "CommissionRate"},
		{"EmptyInstruments", func(c *PipelineConfig) { c.Instruments = nil }, "Instruments"},
		{"EmptyCurrencies", func(c *PipelineConfig) { c.Currencies = nil }, "Currencies"},
		{"OddOppositeTarget", func(c *PipelineConfig) { c.OppositeTarget = 7 }, "OppositeTarget"},
		{"InvertedVolumeBounds", func(c *PipelineConfig) { c.OppositeVolumeMax = c.OppositeVolumeMin - 1 }, "OppositeVolume"},
		{"JitterBelowOne", func(c *PipelineConfig) { c.VolumeJitterMax = 0.9 }, "VolumeJitterMax"},
		{"ZeroReuse", func(c *PipelineConfig) { c.MaxReusePerAccount = 0 }, "MaxReusePerAccount"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultPipelineConfig()
			tc.mutate(&cfg)

			err := cfg.Validate()
			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if ce.Field != tc.field {
				t.Errorf("expected field %s, got %s", tc.field, ce.Field)
			}
		})
	}
}

func TestRepositoryConfigNormalize(t *testing.T) {
	t.Run("FillsDefaults", func(t *testing.T) {
		cfg := RepositoryConfig{Driver: "sqlite"}.Normalize()
		if cfg.SQLitePath != "./shrike.db" {
			t.Errorf("unexpected sqlite path: %s", cfg.SQLitePath)
		}
		if cfg.PostgresHost != "localhost" || cfg.PostgresPort != 5432 {
			t.Errorf("unexpected postgres endpoint: %s:%d", cfg.PostgresHost, cfg.PostgresPort)
		}
		if cfg.PostgresDB != "shrike" || cfg.PostgresSSLMode != "disable" {
			t.Errorf("unexpected postgres defaults: %+v", cfg)
		}
	})

	t.Run("KeepsExplicitValues", func(t *testing.T) {
		cfg := RepositoryConfig{
			Driver:          "postgres",
			SQLitePath:      "/data/run.db",
			PostgresHost:    "db.internal",
			PostgresPort:    6432,
			PostgresDB:      "datasets",
			PostgresSSLMode: "require",
		}.Normalize()
		if cfg.SQLitePath != "/data/run.db" || cfg.PostgresHost != "db.internal" ||
			cfg.PostgresPort != 6432 || cfg.PostgresDB != "datasets" || cfg.PostgresSSLMode != "require" {
			t.Errorf("explicit values were overwritten: %+v", cfg)
		}
	})
}

func TestDatasetClone(t *testing.T) {
	ds := &Dataset{
		Accounts: []Account{{AccountID: "P_0001", Role: RolePartner}},
		FraudRings: []FraudRing{
			{RingID: "R_0001", MemberAccountIDs: []string{"P_0001", "C_000001"}},
		},
	}

	clone := ds.Clone()
	clone.Accounts[0].IsFraudulent = true
	clone.Accounts = append(clone.Accounts, Account{AccountID: "C_000001", Role: RoleClient})
	clone.FraudRings[0].MemberAccountIDs[0] = "mutated"

	if ds.Accounts[0].IsFraudulent {
		t.Error("clone shares account backing array with original")
	}
	if len(ds.Accounts) != 1 {
		t.Error("append to clone affected original")
	}
	if ds.FraudRings[0].MemberAccountIDs[0] != "P_0001" {
		t.Error("clone shares ring member slice with original")
	}
}

func TestFraudRingHasMember(t *testing.T) {
	ring := &FraudRing{
		RingID:           "R_0001",
		MemberAccountIDs: []string{"P_0001", "C_000001"},
	}

	if !ring.HasMember("C_000001") {
		t.Error("expected member C_000001")
	}
	if ring.HasMember("C_000002") {
		t.Error("C_000002 is not a member")
	}
	empty := &FraudRing{RingID: "R_0002"}
	if empty.HasMember("P_0001") {
		t.Error("empty ring has no members")
	}
}

func TestDatasetStats(t *testing.T) {
	base := time.Date(2022, 9, 1, 0, 0, 0, 0, time.UTC)
	ds := &Dataset{
		Accounts: []Account{
			{AccountID: "P_0001", Role: RolePartner, IsFraudulent: true},
			{AccountID: "C_000001", Role: RoleClient, IsFraudulent: true},
			{AccountID: "C_000002", Role: RoleClient},
			{AccountID: "C_000003", Role: RoleClient},
		},
		Trades: []TradeEvent{
			{TradeID: "T_0000001", ClientID: "C_000001", Timestamp: base, Volume: 100, IsOppositeTrade: true},
			{TradeID: "T_0000002", ClientID: "C_000002", Timestamp: base, Volume: 200, IsBonusAbuse: true},
			{TradeID: "T_0000003", ClientID: "C_000003", Timestamp: base, Volume: 300},
		},
		Commissions: []CommissionEvent{
			{CommissionID: "CM_0000001", ClientID: "C_000001", PartnerID: "P_0001", TradeID: "T_0000001", CommissionAmount: 5},
			{CommissionID: "CM_0000002", ClientID: "C_000002", PartnerID: "P_0001", TradeID: "T_0000002", CommissionAmount: 99}, // wrong
			{CommissionID: "CM_0000003", ClientID: "C_000003", PartnerID: "P_0001", TradeID: "T_9999999", CommissionAmount: 1},  // dangling
		},
		FraudRings: []FraudRing{{RingID: "R_0001"}},
	}

	stats := ds.Stats(0.05, &Reconciliation{
		OppositeTarget: 10, OppositeActual: 8,
		BonusTarget: 5, BonusActual: 5,
		DroppedRingMembers: 2,
	})

	if stats.Partners != 1 || stats.Clients != 3 {
		t.Errorf("role counts wrong: %+v", stats)
	}
	if stats.FraudulentAccounts != 2 {
		t.Errorf("expected 2 fraudulent accounts, got %d", stats.FraudulentAccounts)
	}
	if stats.FraudRate != 0.5 {
		t.Errorf("expected fraud rate 0.5, got %g", stats.FraudRate)
	}
	if stats.OppositeTrades != 1 || stats.BonusAbuseTrades != 1 {
		t.Errorf("flag counts wrong: %+v", stats)
	}
	if stats.CommissionMismatch != 2 {
		t.Errorf("expected 2 commission mismatches, got %d", stats.CommissionMismatch)
	}
	if stats.OppositeShortfall != 2 || stats.BonusShortfall != 0 {
		t.Errorf("shortfalls wrong: %+v", stats)
	}
	if stats.DroppedRingMembers != 2 {
		t.Errorf("expected 2 dropped ring members, got %d", stats.DroppedRingMembers)
	}
	// The unknown trade id is the only dangling reference in the fixture.
	if stats.DanglingReferences != 1 {
		t.Errorf("expected 1 dangling reference, got %d", stats.DanglingReferences)
	}
}

func TestDatasetStatsDanglingReferences(t *testing.T) {
	base := time.Date(2022, 9, 1, 0, 0, 0, 0, time.UTC)
	ds := &Dataset{
		Accounts: []Account{
			{AccountID: "P_0001", Role: RolePartner},
			{AccountID: "C_000001", Role: RoleClient},
		},
		Referrals: []ReferralEdge{
			{PartnerID: "P_0001", ClientID: "C_999999", ReferralDate: base}, // unknown client
		},
		Trades: []TradeEvent{
			{TradeID: "T_0000001", ClientID: "C_888888", Timestamp: base, Volume: 100}, // unknown client
		},
		Withdrawals: []WithdrawalEvent{
			{WithdrawalID: "W_00001", ClientID: "C_777777", Timestamp: base, Amount: 10}, // unknown client
		},
		FraudRings: []FraudRing{
			{RingID: "R_0001", MemberAccountIDs: []string{"P_0001", "C_666666"}}, // unknown member
		},
	}

	stats := ds.Stats(0.05, nil)
	if stats.DanglingReferences != 4 {
		t.Errorf("expected 4 dangling references, got %d", stats.DanglingReferences)
	}
}

func TestReconciliationShortfalls(t *testing.T) {
	rec := &Reconciliation{OppositeTarget: 10, OppositeActual: 12, BonusTarget: 5, BonusActual: 3}
	// Overshoot never reports negative.
	if rec.OppositeShortfall() != 0 {
		t.Errorf("expected 0, got %d", rec.OppositeShortfall())
	}
	if rec.BonusShortfall() != 2 {
		t.Errorf("expected 2, got %d", rec.BonusShortfall())
	}
}

func TestDataIntegrityErrorMessage(t *testing.T) {
	err := &DataIntegrityError{Violations: []RowViolation{
		{Table: "trades", RowID: "T_0000001", Field: "client_id", Detail: "dangling reference C_999999"},
		{Table: "accounts", RowID: "C_000001", Field: "is_fraudulent", Detail: "implicated account not flagged"},
	}}

	msg := err.Error()
	if !strings.Contains(msg, "2 data integrity violations") {
		t.Errorf("missing violation count: %s", msg)
	}
	if !strings.Contains(msg, "trades[T_0000001].client_id") {
		t.Errorf("missing row detail: %s", msg)
	}
}

func TestInsufficientCandidatesErrorMessage(t *testing.T) {
	err := &InsufficientCandidatesError{Routine: "opposite-trading", Target: 714, Actual: 700}
	msg := err.Error()
	if !strings.Contains(msg, "700 of 714") {
		t.Errorf("unexpected message: %s", msg)
	}
}

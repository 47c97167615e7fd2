// Package export assembles the final tables into the stable external
// schema: deterministic ordering, referential-integrity validation, and
// CSV serialization for the downstream graph-learning predictor.
package export

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Finalize returns a sorted copy of ds ready for serialization, after
// validating every invariant. Validation failure is fatal and carries the
// full list of offending rows.
func Finalize(ds *domain.Dataset, cfg domain.PipelineConfig) (*domain.Dataset, error) {
	out := ds.Clone()
	sortTables(out)

	if err := Validate(out, cfg); err != nil {
		return nil, err
	}

	slog.Info("dataset finalized",
		"accounts", len(out.Accounts),
		"referrals", len(out.Referrals),
		"trades", len(out.Trades),
		"commissions", len(out.Commissions),
		"withdrawals", len(out.Withdrawals),
		"fraud_rings", len(out.FraudRings),
	)
	return out, nil
}

// sortTables orders every timestamped table by (timestamp, id) ascending
// and the static tables by their keys, so downstream consumption is
// deterministic.
func sortTables(ds *domain.Dataset) {
	sort.Slice(ds.Accounts, func(i, j int) bool {
		return ds.Accounts[i].AccountID < ds.Accounts[j].AccountID
	})
	sort.Slice(ds.Referrals, func(i, j int) bool {
		a, b := ds.Referrals[i], ds.Referrals[j]
		if a.PartnerID != b.PartnerID {
			return a.PartnerID < b.PartnerID
		}
		return a.ClientID < b.ClientID
	})
	sort.Slice(ds.Trades, func(i, j int) bool {
		a, b := ds.Trades[i], ds.Trades[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.TradeID < b.TradeID
	})
	sort.Slice(ds.Commissions, func(i, j int) bool {
		a, b := ds.Commissions[i], ds.Commissions[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.CommissionID < b.CommissionID
	})
	sort.Slice(ds.Withdrawals, func(i, j int) bool {
		a, b := ds.Withdrawals[i], ds.Withdrawals[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.WithdrawalID < b.WithdrawalID
	})
	sort.Slice(ds.FraudRings, func(i, j int) bool {
		return ds.FraudRings[i].RingID < ds.FraudRings[j].RingID
	})
}

// Validate checks all dataset invariants: unique ids, referential
// integrity, temporal ordering, commission derivation, and label
// monotonicity. It collects every violation instead of stopping at the
// first so the diagnostic is complete.
func Validate(ds *domain.Dataset, cfg domain.PipelineConfig) error {
	var violations []domain.RowViolation
	add := func(table, rowID, field, detail string) {
		violations = append(violations, domain.RowViolation{
			Table: table, RowID: rowID, Field: field, Detail: detail,
		})
	}

	accounts := make(map[string]domain.Account, len(ds.Accounts))
	for _, a := range ds.Accounts {
		if _, dup := accounts[a.AccountID]; dup {
			add("accounts", a.AccountID, "account_id", "duplicate id")
			continue
		}
		if a.Role != domain.RolePartner && a.Role != domain.RoleClient {
			add("accounts", a.AccountID, "role", fmt.Sprintf("unknown role %q", a.Role))
		}
		accounts[a.AccountID] = a
	}

	// Earliest referral date per client bounds its trade timestamps.
	firstReferral := make(map[string]domain.ReferralEdge)
	seenPairs := make(map[string]struct{})
	for _, e := range ds.Referrals {
		pairKey := e.PartnerID + "|" + e.ClientID
		if _, dup := seenPairs[pairKey]; dup {
			add("referrals", pairKey, "partner_id,client_id", "duplicate pair")
		}
		seenPairs[pairKey] = struct{}{}

		if _, ok := accounts[e.PartnerID]; !ok {
			add("referrals", pairKey, "partner_id", "dangling reference "+e.PartnerID)
		}
		if _, ok := accounts[e.ClientID]; !ok {
			add("referrals", pairKey, "client_id", "dangling reference "+e.ClientID)
		}
		if cur, ok := firstReferral[e.ClientID]; !ok || e.ReferralDate.Before(cur.ReferralDate) {
			firstReferral[e.ClientID] = e
		}
	}

	attacked := make(map[string]struct{})
	tradeVolume := make(map[string]float64, len(ds.Trades))
	for _, t := range ds.Trades {
		if _, dup := tradeVolume[t.TradeID]; dup {
			add("trades", t.TradeID, "trade_id", "duplicate id")
			continue
		}
		tradeVolume[t.TradeID] = t.Volume

		if _, ok := accounts[t.ClientID]; !ok {
			add("trades", t.TradeID, "client_id", "dangling reference "+t.ClientID)
		}
		if ref, ok := firstReferral[t.ClientID]; ok && t.Timestamp.Before(ref.ReferralDate) {
			add("trades", t.TradeID, "timestamp", "precedes client referral date")
		}
		if t.IsOppositeTrade || t.IsBonusAbuse {
			attacked[t.ClientID] = struct{}{}
		}
	}

	// Tolerance covers currency rounding on derived amounts.
	const tolerance = 0.01
	seenCommissions := make(map[string]struct{}, len(ds.Commissions))
	for _, c := range ds.Commissions {
		if _, dup := seenCommissions[c.CommissionID]; dup {
			add("commissions", c.CommissionID, "commission_id", "duplicate id")
			continue
		}
		seenCommissions[c.CommissionID] = struct{}{}

		if _, ok := accounts[c.ClientID]; !ok {
			add("commissions", c.CommissionID, "client_id", "dangling reference "+c.ClientID)
		}
		if _, ok := accounts[c.PartnerID]; !ok {
			add("commissions", c.CommissionID, "partner_id", "dangling reference "+c.PartnerID)
		}
		vol, ok := tradeVolume[c.TradeID]
		if !ok {
			add("commissions", c.CommissionID, "trade_id", "dangling reference "+c.TradeID)
		} else if math.Abs(c.CommissionAmount-vol*cfg.CommissionRate) > tolerance {
			add("commissions", c.CommissionID, "commission_amount",
				fmt.Sprintf("expected %.4f, got %.4f", vol*cfg.CommissionRate, c.CommissionAmount))
		}
	}

	seenWithdrawals := make(map[string]struct{}, len(ds.Withdrawals))
	for _, w := range ds.Withdrawals {
		if _, dup := seenWithdrawals[w.WithdrawalID]; dup {
			add("withdrawals", w.WithdrawalID, "withdrawal_id", "duplicate id")
			continue
		}
		seenWithdrawals[w.WithdrawalID] = struct{}{}
		if _, ok := accounts[w.ClientID]; !ok {
			add("withdrawals", w.WithdrawalID, "client_id", "dangling reference "+w.ClientID)
		}
		attacked[w.ClientID] = struct{}{}
	}

	seenRings := make(map[string]struct{}, len(ds.FraudRings))
	implicated := make(map[string]struct{})
	for _, r := range ds.FraudRings {
		if _, dup := seenRings[r.RingID]; dup {
			add("fraud_rings", r.RingID, "ring_id", "duplicate id")
			continue
		}
		seenRings[r.RingID] = struct{}{}
		for _, m := range r.MemberAccountIDs {
			if _, ok := accounts[m]; !ok {
				add("fraud_rings", r.RingID, "member_account_ids", "dangling reference "+m)
			}
			implicated[m] = struct{}{}
		}
	}
	for id := range attacked {
		implicated[id] = struct{}{}
	}

	// Label monotonicity: implication must be reflected in the flag.
	for id := range implicated {
		if a, ok := accounts[id]; ok && !a.IsFraudulent {
			add("accounts", id, "is_fraudulent", "implicated account not flagged")
		}
	}

	if len(violations) > 0 {
		return &domain.DataIntegrityError{Violations: violations}
	}
	return nil
}

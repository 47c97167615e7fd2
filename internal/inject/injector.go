// Package inject synthesizes adversarial fraud activity on top of the
// transformed schema: opposite-trading pairs and bonus-abuse cycles.
// Both routines are append-only and deterministic under a fixed seed.
package inject

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Injector owns the run's random generator and the mutable state shared
// between the two synthesis routines (id counters, per-client reuse).
type Injector struct {
	cfg domain.PipelineConfig
	rng *rand.Rand

	ds *domain.Dataset

	// accountIdx locates an account row by id for fraud-flag updates.
	accountIdx map[string]int

	// partnerClients holds each eligible partner's client list, sorted.
	partnerClients map[string][]string

	// referralDate holds the referral date per (partner, client) pair.
	referralDate map[string]map[string]time.Time

	// clientCurrency is the fixed settlement currency per client,
	// recovered from the client's base commissions.
	clientCurrency map[string]string

	// usage counts injected events per client, capped by MaxReusePerAccount.
	usage map[string]int

	nextTrade      int
	nextCommission int
	nextWithdrawal int
}

// New creates an injector. rng must be the single seeded generator owned
// by the pipeline run; the injector never touches global random state.
func New(cfg domain.PipelineConfig, rng *rand.Rand) *Injector {
	return &Injector{cfg: cfg, rng: rng}
}

// Inject runs both synthesis routines over a clone of ds and returns the
// enriched dataset with the reconciliation of targets against actuals.
// Shortfalls are recorded, never fatal.
func (in *Injector) Inject(ds *domain.Dataset) (*domain.Dataset, *domain.Reconciliation, error) {
	in.ds = ds.Clone()
	in.index()

	rec := &domain.Reconciliation{
		OppositeTarget: in.cfg.OppositeTarget,
		BonusTarget:    in.cfg.BonusTarget,
	}

	rec.OppositeActual = in.injectOpposite()
	if short := rec.OppositeShortfall(); short > 0 {
		err := &domain.InsufficientCandidatesError{
			Routine: "opposite-trading",
			Target:  rec.OppositeTarget,
			Actual:  rec.OppositeActual,
		}
		slog.Warn("opposite-trading target not met", "error", err)
	}

	rec.BonusActual = in.injectBonusAbuse()
	if short := rec.BonusShortfall(); short > 0 {
		err := &domain.InsufficientCandidatesError{
			Routine: "bonus-abuse",
			Target:  rec.BonusTarget,
			Actual:  rec.BonusActual,
		}
		slog.Warn("bonus-abuse target not met", "error", err)
	}

	slog.Info("fraud injection complete",
		"opposite_actual", rec.OppositeActual,
		"opposite_target", rec.OppositeTarget,
		"bonus_actual", rec.BonusActual,
		"bonus_target", rec.BonusTarget,
	)
	return in.ds, rec, nil
}

// index builds the lookups both routines share. Only fraud-ring partners
// are injection-eligible, and zero-client partners are skipped entirely.
func (in *Injector) index() {
	in.accountIdx = make(map[string]int, len(in.ds.Accounts))
	fraudPartner := make(map[string]bool)
	for i, a := range in.ds.Accounts {
		in.accountIdx[a.AccountID] = i
		if a.Role == domain.RolePartner && a.IsFraudulent {
			fraudPartner[a.AccountID] = true
		}
	}

	in.partnerClients = make(map[string][]string)
	in.referralDate = make(map[string]map[string]time.Time)
	for _, edge := range in.ds.Referrals {
		if !fraudPartner[edge.PartnerID] {
			continue
		}
		in.partnerClients[edge.PartnerID] = append(in.partnerClients[edge.PartnerID], edge.ClientID)
		dates, ok := in.referralDate[edge.PartnerID]
		if !ok {
			dates = make(map[string]time.Time)
			in.referralDate[edge.PartnerID] = dates
		}
		dates[edge.ClientID] = edge.ReferralDate
	}
	for _, clients := range in.partnerClients {
		sort.Strings(clients)
	}

	in.clientCurrency = make(map[string]string)
	for _, c := range in.ds.Commissions {
		if _, ok := in.clientCurrency[c.ClientID]; !ok {
			in.clientCurrency[c.ClientID] = c.Currency
		}
	}

	in.usage = make(map[string]int)
	in.nextTrade = len(in.ds.Trades) + 1
	in.nextCommission = len(in.ds.Commissions) + 1
	in.nextWithdrawal = len(in.ds.Withdrawals) + 1
}

// eligiblePartners returns fraud-ring partners that still have at least
// two clients below the reuse cap, in sorted order for determinism.
func (in *Injector) eligiblePartners() []string {
	var out []string
	for partner, clients := range in.partnerClients {
		avail := 0
		for _, c := range clients {
			if in.usage[c] < in.cfg.MaxReusePerAccount {
				avail++
			}
		}
		if avail >= 2 {
			out = append(out, partner)
		}
	}
	sort.Strings(out)
	return out
}

// availableClients returns the partner's clients below the reuse cap.
func (in *Injector) availableClients(partner string) []string {
	var out []string
	for _, c := range in.partnerClients[partner] {
		if in.usage[c] < in.cfg.MaxReusePerAccount {
			out = append(out, c)
		}
	}
	return out
}

// appendTrade assigns the next trade id and derives the commission the
// usual way, so invariant 4 holds for injected rows too.
func (in *Injector) appendTrade(partnerID string, trade domain.TradeEvent) domain.TradeEvent {
	trade.TradeID = fmt.Sprintf("T_%07d", in.nextTrade)
	in.nextTrade++
	in.ds.Trades = append(in.ds.Trades, trade)

	in.ds.Commissions = append(in.ds.Commissions, domain.CommissionEvent{
		CommissionID:     fmt.Sprintf("CM_%07d", in.nextCommission),
		ClientID:         trade.ClientID,
		PartnerID:        partnerID,
		TradeID:          trade.TradeID,
		Timestamp:        trade.Timestamp.Add(in.cfg.CommissionDelay),
		CommissionAmount: round2(trade.Volume * in.cfg.CommissionRate),
		Currency:         in.clientCurrency[trade.ClientID],
	})
	in.nextCommission++
	return trade
}

// markFraudulent raises the fraud flag on an account. It never lowers it.
func (in *Injector) markFraudulent(accountID string) {
	if i, ok := in.accountIdx[accountID]; ok {
		in.ds.Accounts[i].IsFraudulent = true
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

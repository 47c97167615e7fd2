package domain

import (
	"math"
)

// Dataset holds the six output tables. Each pipeline stage consumes its
// predecessor's Dataset and produces a new one; no stage mutates tables
// in place.
type Dataset struct {
	Accounts    []Account         `json:"accounts"`
	Referrals   []ReferralEdge    `json:"referrals"`
	Trades      []TradeEvent      `json:"trades"`
	Commissions []CommissionEvent `json:"commissions"`
	Withdrawals []WithdrawalEvent `json:"withdrawals"`
	FraudRings  []FraudRing       `json:"fraudRings"`
}

// Clone returns a deep copy. Stages that append rows work on a clone so
// the predecessor's output stays immutable.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Accounts:    make([]Account, len(d.Accounts)),
		Referrals:   make([]ReferralEdge, len(d.Referrals)),
		Trades:      make([]TradeEvent, len(d.Trades)),
		Commissions: make([]CommissionEvent, len(d.Commissions)),
		Withdrawals: make([]WithdrawalEvent, len(d.Withdrawals)),
		FraudRings:  make([]FraudRing, len(d.FraudRings)),
	}
	copy(out.Accounts, d.Accounts)
	copy(out.Referrals, d.Referrals)
	copy(out.Trades, d.Trades)
	copy(out.Commissions, d.Commissions)
	copy(out.Withdrawals, d.Withdrawals)
	for i, ring := range d.FraudRings {
		members := make([]string, len(ring.MemberAccountIDs))
		copy(members, ring.MemberAccountIDs)
		ring.MemberAccountIDs = members
		out.FraudRings[i] = ring
	}
	return out
}

// Reconciliation reports injection targets against what was actually
// produced. A shortfall is a warning, never a failure.
type Reconciliation struct {
	OppositeTarget int `json:"oppositeTarget"`
	OppositeActual int `json:"oppositeActual"`
	BonusTarget    int `json:"bonusTarget"`
	BonusActual    int `json:"bonusActual"`

	// PartnerShortfall counts unfilled partner slots (selected < cap).
	PartnerShortfall int `json:"partnerShortfall"`

	// DroppedRingMembers counts ring members absent from the transformed
	// account table.
	DroppedRingMembers int `json:"droppedRingMembers"`
}

// OppositeShortfall returns the unmet portion of the opposite-trade target.
func (r *Reconciliation) OppositeShortfall() int {
	if s := r.OppositeTarget - r.OppositeActual; s > 0 {
		return s
	}
	return 0
}

// BonusShortfall returns the unmet portion of the bonus-abuse target.
func (r *Reconciliation) BonusShortfall() int {
	if s := r.BonusTarget - r.BonusActual; s > 0 {
		return s
	}
	return 0
}

// DatasetStats summarizes a dataset for quality gates and reporting.
type DatasetStats struct {
	Accounts            int     `json:"accounts"`
	Partners            int     `json:"partners"`
	Clients             int     `json:"clients"`
	FraudulentAccounts  int     `json:"fraudulentAccounts"`
	Referrals           int     `json:"referrals"`
	Trades              int     `json:"trades"`
	OppositeTrades      int     `json:"oppositeTrades"`
	BonusAbuseTrades    int     `json:"bonusAbuseTrades"`
	Commissions         int     `json:"commissions"`
	Withdrawals         int     `json:"withdrawals"`
	FraudRings          int     `json:"fraudRings"`
	FraudRate           float64 `json:"fraudRate"`
	CommissionMismatch  int     `json:"commissionMismatch"`
	OppositeShortfall   int     `json:"oppositeShortfall"`
	BonusShortfall      int     `json:"bonusShortfall"`
	DroppedRingMembers  int     `json:"droppedRingMembers"`

	// DanglingReferences counts cross-table references to account or trade
	// ids that do not exist in the dataset.
	DanglingReferences int `json:"danglingReferences"`
}

// Stats computes summary statistics. commissionRate is needed to verify
// the volume×rate derivation; rec may be nil when injection has not run.
func (d *Dataset) Stats(commissionRate float64, rec *Reconciliation) DatasetStats {
	s := DatasetStats{
		Accounts:    len(d.Accounts),
		Referrals:   len(d.Referrals),
		Trades:      len(d.Trades),
		Commissions: len(d.Commissions),
		Withdrawals: len(d.Withdrawals),
		FraudRings:  len(d.FraudRings),
	}

	known := make(map[string]struct{}, len(d.Accounts))
	for _, a := range d.Accounts {
		known[a.AccountID] = struct{}{}
		switch a.Role {
		case RolePartner:
			s.Partners++
		case RoleClient:
			s.Clients++
		}
		if a.IsFraudulent {
			s.FraudulentAccounts++
		}
	}
	if s.Accounts > 0 {
		s.FraudRate = float64(s.FraudulentAccounts) / float64(s.Accounts)
	}
	dangling := func(id string) {
		if _, ok := known[id]; !ok {
			s.DanglingReferences++
		}
	}

	for _, e := range d.Referrals {
		dangling(e.PartnerID)
		dangling(e.ClientID)
	}

	tradeVolume := make(map[string]float64, len(d.Trades))
	for _, t := range d.Trades {
		tradeVolume[t.TradeID] = t.Volume
		dangling(t.ClientID)
		if t.IsOppositeTrade {
			s.OppositeTrades++
		}
		if t.IsBonusAbuse {
			s.BonusAbuseTrades++
		}
	}

	// Tolerance covers currency rounding on the commission side.
	const tolerance = 0.01
	for _, c := range d.Commissions {
		dangling(c.ClientID)
		dangling(c.PartnerID)
		vol, ok := tradeVolume[c.TradeID]
		if !ok {
			s.DanglingReferences++
		}
		if !ok || math.Abs(c.CommissionAmount-vol*commissionRate) > tolerance {
			s.CommissionMismatch++
		}
	}

	for _, w := range d.Withdrawals {
		dangling(w.ClientID)
	}
	for _, ring := range d.FraudRings {
		for _, m := range ring.MemberAccountIDs {
			dangling(m)
		}
	}

	if rec != nil {
		s.OppositeShortfall = rec.OppositeShortfall()
		s.BonusShortfall = rec.BonusShortfall()
		s.DroppedRingMembers = rec.DroppedRingMembers
	}
	return s
}

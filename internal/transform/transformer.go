// Package transform maps the raw ledger plus role assignments into the
// relational dataset schema: accounts, referrals, trades, commissions.
package transform

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/ledger"
	"github.com/opensource-finance/shrike/internal/roles"
)

// Result is the transformer output: a dataset plus the counters the
// reconciliation record carries forward.
type Result struct {
	Dataset *domain.Dataset

	// AccountIDs maps raw ledger account ids to exported account ids.
	AccountIDs map[string]string

	// DroppedRingMembers counts ring members absent from the account table.
	DroppedRingMembers int
}

// Transform builds the relational schema from the classified ledger.
// records must be in ledger order (ledger.Sort); id assignment follows
// that order, so identical inputs yield identical ids.
func Transform(
	records []domain.LedgerRecord,
	rings []domain.FraudRing,
	assignment *roles.Assignment,
	info map[string]domain.AccountInfo,
	cfg domain.PipelineConfig,
) (*Result, error) {
	ledger.Sort(records)

	// Only transactions into a selected partner become trades, and only
	// non-partner senders become clients. Partner-to-partner transfers are
	// inter-hub settlement, not referred activity.
	qualifying := make([]domain.LedgerRecord, 0, len(records))
	clientSet := make(map[string]struct{})
	for _, rec := range records {
		if !assignment.IsPartner(rec.Receiver) || assignment.IsPartner(rec.Sender) {
			continue
		}
		qualifying = append(qualifying, rec)
		clientSet[rec.Sender] = struct{}{}
	}

	accountIDs := make(map[string]string, len(assignment.Partners)+len(clientSet))
	ds := &domain.Dataset{}

	for i, raw := range assignment.Partners {
		id := fmt.Sprintf("P_%04d", i+1)
		accountIDs[raw] = id
		ds.Accounts = append(ds.Accounts, domain.Account{
			AccountID: id,
			Role:      domain.RolePartner,
			Bank:      info[raw].Bank,
			Entity:    info[raw].Entity,
		})
	}

	clients := make([]string, 0, len(clientSet))
	for raw := range clientSet {
		clients = append(clients, raw)
	}
	sort.Strings(clients)
	for i, raw := range clients {
		id := fmt.Sprintf("C_%06d", i+1)
		accountIDs[raw] = id
		ds.Accounts = append(ds.Accounts, domain.Account{
			AccountID: id,
			Role:      domain.RoleClient,
			Bank:      info[raw].Bank,
			Entity:    info[raw].Entity,
		})
	}

	buildEdges(ds, qualifying, accountIDs)
	buildEvents(ds, qualifying, accountIDs, cfg)
	dropped := remapRings(ds, rings, accountIDs)
	markRingMembers(ds)

	slog.Info("schema transformed",
		"accounts", len(ds.Accounts),
		"referrals", len(ds.Referrals),
		"trades", len(ds.Trades),
		"commissions", len(ds.Commissions),
		"rings", len(ds.FraudRings),
	)

	return &Result{
		Dataset:            ds,
		AccountIDs:         accountIDs,
		DroppedRingMembers: dropped,
	}, nil
}

// buildEdges emits one referral edge per (partner, client) pair, dated at
// the earliest qualifying transaction between the two.
func buildEdges(ds *domain.Dataset, qualifying []domain.LedgerRecord, accountIDs map[string]string) {
	type pair struct{ partner, client string }
	seen := make(map[pair]int)

	for _, rec := range qualifying {
		p := pair{accountIDs[rec.Receiver], accountIDs[rec.Sender]}
		if idx, ok := seen[p]; ok {
			if rec.Timestamp.Before(ds.Referrals[idx].ReferralDate) {
				ds.Referrals[idx].ReferralDate = rec.Timestamp
			}
			continue
		}
		seen[p] = len(ds.Referrals)
		ds.Referrals = append(ds.Referrals, domain.ReferralEdge{
			PartnerID:    p.partner,
			ClientID:     p.client,
			ReferralDate: rec.Timestamp,
		})
	}

	sort.Slice(ds.Referrals, func(i, j int) bool {
		a, b := ds.Referrals[i], ds.Referrals[j]
		if a.PartnerID != b.PartnerID {
			return a.PartnerID < b.PartnerID
		}
		return a.ClientID < b.ClientID
	})
}

// buildEvents emits one trade and one commission per qualifying ledger row.
func buildEvents(ds *domain.Dataset, qualifying []domain.LedgerRecord, accountIDs map[string]string, cfg domain.PipelineConfig) {
	for i, rec := range qualifying {
		clientID := accountIDs[rec.Sender]
		partnerID := accountIDs[rec.Receiver]
		h := metadataHash(rec)

		trade := domain.TradeEvent{
			TradeID:    fmt.Sprintf("T_%07d", i+1),
			ClientID:   clientID,
			Instrument: cfg.Instruments[h%uint64(len(cfg.Instruments))],
			Timestamp:  rec.Timestamp,
			Direction:  directionOf(h),
			Volume:     rec.Amount,
		}
		ds.Trades = append(ds.Trades, trade)
		ds.Commissions = append(ds.Commissions, domain.CommissionEvent{
			CommissionID:     fmt.Sprintf("CM_%07d", i+1),
			ClientID:         clientID,
			PartnerID:        partnerID,
			TradeID:          trade.TradeID,
			Timestamp:        rec.Timestamp.Add(cfg.CommissionDelay),
			CommissionAmount: trade.Volume * cfg.CommissionRate,
			Currency:         ClientCurrency(rec.Sender, cfg.Currencies),
		})
	}
}

// remapRings rewrites ring member ids onto the exported id space. Members
// absent from the account table are dropped with a warning and counted;
// they must not disappear silently.
func remapRings(ds *domain.Dataset, rings []domain.FraudRing, accountIDs map[string]string) int {
	dropped := 0
	for _, ring := range rings {
		members := make([]string, 0, len(ring.MemberAccountIDs))
		for _, raw := range ring.MemberAccountIDs {
			id, ok := accountIDs[raw]
			if !ok {
				dropped++
				slog.Warn("ring member not in account table",
					"ring_id", ring.RingID,
					"account", raw,
				)
				continue
			}
			members = append(members, id)
		}
		sort.Strings(members)
		ds.FraudRings = append(ds.FraudRings, domain.FraudRing{
			RingID:           ring.RingID,
			PatternType:      ring.PatternType,
			MemberAccountIDs: members,
			HubAccountID:     accountIDs[ring.HubAccountID],
		})
	}
	return dropped
}

// markRingMembers sets the fraud flag on every account belonging to at
// least one ring. The flag is only ever raised, never cleared.
func markRingMembers(ds *domain.Dataset) {
	inRing := make(map[string]struct{})
	for _, ring := range ds.FraudRings {
		for _, id := range ring.MemberAccountIDs {
			inRing[id] = struct{}{}
		}
	}
	for i := range ds.Accounts {
		if _, ok := inRing[ds.Accounts[i].AccountID]; ok {
			ds.Accounts[i].IsFraudulent = true
		}
	}
}

// metadataHash gives a stable 64-bit digest of a ledger row. Instrument
// assignment and direction inference both key off it so base events are
// deterministic functions of their source transaction.
func metadataHash(rec domain.LedgerRecord) uint64 {
	h := fnv.New64a()
	h.Write([]byte(rec.Sender))
	h.Write([]byte{0})
	h.Write([]byte(rec.Receiver))
	h.Write([]byte{0})

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(rec.Timestamp.Unix()))
	binary.BigEndian.PutUint64(buf[8:], math.Float64bits(rec.Amount))
	h.Write(buf[:])
	return h.Sum64()
}

func directionOf(h uint64) domain.Direction {
	if h>>8&1 == 0 {
		return domain.DirectionBuy
	}
	return domain.DirectionSell
}

// ClientCurrency returns the client's fixed settlement currency, chosen by
// hashing the raw account id into the catalog. The same client always
// settles in the same currency.
func ClientCurrency(rawAccountID string, currencies []string) string {
	h := fnv.New64a()
	h.Write([]byte(rawAccountID))
	return currencies[h.Sum64()%uint64(len(currencies))]
}

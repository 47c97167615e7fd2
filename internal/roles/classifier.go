// Package roles assigns partner/client roles from ledger fan-in.
package roles

import (
	"log/slog"
	"sort"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Assignment is the classifier output: a stable account→role mapping plus
// the selection diagnostics downstream stages report on.
type Assignment struct {
	// Roles maps every touched account id to its role.
	Roles map[string]domain.Role

	// Partners lists selected partner ids in selection order
	// (descending in-degree, ascending id on ties).
	Partners []string

	// InDegree is the unique-sender count per receiver account.
	InDegree map[string]int

	// Shortfall is how far selection fell below the partner cap. It is
	// reported, never padded with sub-threshold accounts.
	Shortfall int
}

// Classify computes roles from the raw ledger. An account's in-degree is
// the number of distinct senders that ever sent to it; accounts at or above
// cfg.PartnerMinInDegree compete for cfg.PartnerCap partner slots and
// everything else touched by the ledger becomes a client.
func Classify(records []domain.LedgerRecord, cfg domain.PipelineConfig) *Assignment {
	senders := make(map[string]map[string]struct{})
	touched := make(map[string]struct{})

	for _, rec := range records {
		touched[rec.Sender] = struct{}{}
		touched[rec.Receiver] = struct{}{}

		set, ok := senders[rec.Receiver]
		if !ok {
			set = make(map[string]struct{})
			senders[rec.Receiver] = set
		}
		set[rec.Sender] = struct{}{}
	}

	inDegree := make(map[string]int, len(senders))
	var candidates []string
	for account, set := range senders {
		d := len(set)
		inDegree[account] = d
		// Zero in-degree accounts never reach here; sub-threshold
		// accounts are excluded from candidacy entirely.
		if d >= cfg.PartnerMinInDegree {
			candidates = append(candidates, account)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		di, dj := inDegree[candidates[i]], inDegree[candidates[j]]
		if di != dj {
			return di > dj
		}
		return candidates[i] < candidates[j]
	})

	if len(candidates) > cfg.PartnerCap {
		candidates = candidates[:cfg.PartnerCap]
	}

	assignment := &Assignment{
		Roles:    make(map[string]domain.Role, len(touched)),
		Partners: candidates,
		InDegree: inDegree,
	}
	if len(candidates) < cfg.PartnerCap {
		assignment.Shortfall = cfg.PartnerCap - len(candidates)
	}

	for account := range touched {
		assignment.Roles[account] = domain.RoleClient
	}
	for _, account := range candidates {
		assignment.Roles[account] = domain.RolePartner
	}

	if assignment.Shortfall > 0 {
		slog.Warn("partner selection below cap",
			"selected", len(candidates),
			"cap", cfg.PartnerCap,
			"shortfall", assignment.Shortfall,
		)
	}
	slog.Info("roles assigned",
		"accounts", len(assignment.Roles),
		"partners", len(candidates),
	)
	return assignment
}

// IsPartner reports whether the account was selected as a partner.
func (a *Assignment) IsPartner(accountID string) bool {
	return a.Roles[accountID] == domain.RolePartner
}

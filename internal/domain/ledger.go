package domain

import (
	"time"
)

// LedgerRecord is one raw transaction from the upstream ledger dump.
type LedgerRecord struct {
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`

	// IsFlagged marks ground-truth laundering rows. Flagged rows survive
	// subsampling unconditionally.
	IsFlagged bool `json:"isFlagged"`
}

// AccountInfo is static metadata from the upstream accounts master.
type AccountInfo struct {
	Bank   string `json:"bank"`
	Entity string `json:"entity"`
}

// PatternType is the topology of a labeled fraud ring.
type PatternType string

const (
	PatternFanIn         PatternType = "FAN-IN"
	PatternFanOut        PatternType = "FAN-OUT"
	PatternScatterGather PatternType = "SCATTER-GATHER"
	PatternGatherScatter PatternType = "GATHER-SCATTER"
	PatternCycle         PatternType = "CYCLE"
	PatternBipartite     PatternType = "BIPARTITE"
)

// FraudRing is a labeled set of accounts participating in one coordinated
// fraud topology. Members are raw account ids until the transformer remaps
// them onto the exported account id space.
type FraudRing struct {
	RingID           string      `json:"ringId"`
	PatternType      PatternType `json:"patternType"`
	MemberAccountIDs []string    `json:"memberAccountIds"`

	// HubAccountID is the most-connected member, used for diagnostics only.
	HubAccountID string `json:"hubAccountId,omitempty"`
}

// HasMember reports whether the ring contains the given account id.
func (r *FraudRing) HasMember(accountID string) bool {
	for _, id := range r.MemberAccountIDs {
		if id == accountID {
			return true
		}
	}
	return false
}

// Package domain defines the core types and interfaces for Shrike.
package domain

import (
	"time"
)

// Role classifies an account within the affiliate graph.
type Role string

const (
	// RolePartner is a high fan-in account acting as a referral hub.
	RolePartner Role = "PARTNER"

	// RoleClient is an account referred by a partner.
	RoleClient Role = "CLIENT"
)

// Direction is the side of a trade.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Account is a node in the exported graph. IsFraudulent is set by the
// transformer (ring membership) or the injector (synthetic attacks) and is
// never cleared once set.
type Account struct {
	AccountID    string `json:"accountId"`
	Role         Role   `json:"role"`
	Bank         string `json:"bank"`
	Entity       string `json:"entity"`
	IsFraudulent bool   `json:"isFraudulent"`
}

// ReferralEdge is the static partner→client edge. One edge per
// (partner, client) pair; ReferralDate is the earliest qualifying
// ledger transaction between the two.
type ReferralEdge struct {
	PartnerID    string    `json:"partnerId"`
	ClientID     string    `json:"clientId"`
	ReferralDate time.Time `json:"referralDate"`
}

// TradeEvent is a temporal event on a client node. Base events come from
// the raw ledger; the injector appends synthetic events with one of the
// two fraud markers set.
type TradeEvent struct {
	TradeID         string    `json:"tradeId"`
	ClientID        string    `json:"clientId"`
	Instrument      string    `json:"instrument"`
	Timestamp       time.Time `json:"timestamp"`
	Direction       Direction `json:"direction"`
	Volume          float64   `json:"volume"`
	IsOppositeTrade bool      `json:"isOppositeTrade"`
	IsBonusAbuse    bool      `json:"isBonusAbuse"`
}

// CommissionEvent is derived from exactly one trade:
// amount = trade volume × commission rate, currency fixed per client.
type CommissionEvent struct {
	CommissionID     string    `json:"commissionId"`
	ClientID         string    `json:"clientId"`
	PartnerID        string    `json:"partnerId"`
	TradeID          string    `json:"tradeId"`
	Timestamp        time.Time `json:"timestamp"`
	CommissionAmount float64   `json:"commissionAmount"`
	Currency         string    `json:"currency"`
}

// WithdrawalEvent is emitted only by the bonus-abuse routine. Amount is
// bounded by the cumulative deposits preceding it for the same client.
type WithdrawalEvent struct {
	WithdrawalID string    `json:"withdrawalId"`
	ClientID     string    `json:"clientId"`
	Timestamp    time.Time `json:"timestamp"`
	Amount       float64   `json:"amount"`
}

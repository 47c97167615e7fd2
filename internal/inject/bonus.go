package inject

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// injectBonusAbuse emits deposit→withdrawal cycles until the target count
// of withdrawals is reached or candidates run out. Returns the number of
// withdrawal events actually emitted.
//
// Each cycle: one to three rapid deposit trades inside the deposit window,
// then a single withdrawal within the settlement window whose amount is
// bounded by the cycle's cumulative deposits.
func (in *Injector) injectBonusAbuse() int {
	emitted := 0

	for emitted < in.cfg.BonusTarget {
		partner, client, ok := in.pickBonusCandidate()
		if !ok {
			break
		}

		nDeposits := 1 + in.rng.Intn(3)
		start := in.activityTime(partner, client)

		offsets := make([]time.Duration, nDeposits)
		for i := range offsets {
			offsets[i] = time.Duration(in.rng.Int63n(int64(in.cfg.BonusDepositWindow)))
		}
		sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

		var deposited float64
		var lastDeposit time.Time
		for _, off := range offsets {
			ts := start.Add(off)
			// Deposits vary ±20% around the configured base.
			volume := round2(in.cfg.BonusDeposit * (0.8 + in.rng.Float64()*0.4))

			in.appendTrade(partner, domain.TradeEvent{
				ClientID:     client,
				Instrument:   in.cfg.Instruments[in.rng.Intn(len(in.cfg.Instruments))],
				Timestamp:    ts,
				Direction:    domain.DirectionBuy,
				Volume:       volume,
				IsBonusAbuse: true,
			})
			deposited += volume
			lastDeposit = ts
		}

		settle := time.Duration(1 + in.rng.Int63n(int64(in.cfg.BonusSettlementWindow)))
		amount := round2(deposited * (0.5 + in.rng.Float64()*0.5))
		// Hard guard: a withdrawal can never exceed what was deposited.
		if amount > deposited {
			amount = deposited
		}

		in.ds.Withdrawals = append(in.ds.Withdrawals, domain.WithdrawalEvent{
			WithdrawalID: fmt.Sprintf("W_%05d", in.nextWithdrawal),
			ClientID:     client,
			Timestamp:    lastDeposit.Add(settle),
			Amount:       amount,
		})
		in.nextWithdrawal++

		in.usage[client]++
		in.markFraudulent(client)
		in.markFraudulent(partner)
		emitted++
	}

	return emitted
}

// pickBonusCandidate samples a (partner, client) pair from fraud-ring
// partners whose client is still below the reuse cap.
func (in *Injector) pickBonusCandidate() (partner, client string, ok bool) {
	var partners []string
	for p := range in.partnerClients {
		if len(in.availableClients(p)) > 0 {
			partners = append(partners, p)
		}
	}
	if len(partners) == 0 {
		return "", "", false
	}
	sort.Strings(partners)

	partner = partners[in.rng.Intn(len(partners))]
	clients := in.availableClients(partner)
	client = clients[in.rng.Intn(len(clients))]
	return partner, client, true
}

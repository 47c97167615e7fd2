package inject

import (
	"fmt"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// maxResampleAttempts bounds consecutive rejected samples (duplicate
// tuples) before the routine declares the population exhausted.
const maxResampleAttempts = 1000

// injectOpposite emits mirrored trade pairs until the target event count
// is reached or the eligible population is exhausted. Returns the number
// of opposite-trade events actually emitted.
//
// Each pair: two distinct clients of one fraud-ring partner, a shared
// instrument, a base volume v, leg A = Buy(v) at t and leg B = Sell(v ×
// jitter) at t+Δ with Δ inside the configured window. A
// (clientA, clientB, instrument, t) tuple is never reused; duplicates are
// rejected and resampled.
func (in *Injector) injectOpposite() int {
	pairsWanted := in.cfg.OppositeTarget / 2
	emitted := 0
	used := make(map[string]struct{})
	attempts := 0

	for pairs := 0; pairs < pairsWanted; {
		partners := in.eligiblePartners()
		if len(partners) == 0 || attempts >= maxResampleAttempts {
			break
		}

		partner := partners[in.rng.Intn(len(partners))]
		clients := in.availableClients(partner)
		if len(clients) < 2 {
			attempts++
			continue
		}

		// Sample the pair without replacement.
		i := in.rng.Intn(len(clients))
		j := in.rng.Intn(len(clients) - 1)
		if j >= i {
			j++
		}
		clientA, clientB := clients[i], clients[j]

		instrument := in.cfg.Instruments[in.rng.Intn(len(in.cfg.Instruments))]
		t := in.activityTime(partner, clientA, clientB)

		key := fmt.Sprintf("%s|%s|%s|%d", clientA, clientB, instrument, t.Unix())
		if _, dup := used[key]; dup {
			attempts++
			continue
		}
		used[key] = struct{}{}
		attempts = 0

		volume := round2(in.cfg.OppositeVolumeMin +
			in.rng.Float64()*(in.cfg.OppositeVolumeMax-in.cfg.OppositeVolumeMin))
		jitter := 1.0 + in.rng.Float64()*(in.cfg.VolumeJitterMax-1.0)
		delta := time.Duration(in.rng.Int63n(int64(in.cfg.OppositeWindow) + 1))

		in.appendTrade(partner, domain.TradeEvent{
			ClientID:        clientA,
			Instrument:      instrument,
			Timestamp:       t,
			Direction:       domain.DirectionBuy,
			Volume:          volume,
			IsOppositeTrade: true,
		})
		in.appendTrade(partner, domain.TradeEvent{
			ClientID:        clientB,
			Instrument:      instrument,
			Timestamp:       t.Add(delta),
			Direction:       domain.DirectionSell,
			Volume:          round2(volume * jitter),
			IsOppositeTrade: true,
		})

		in.usage[clientA]++
		in.usage[clientB]++
		in.markFraudulent(clientA)
		in.markFraudulent(clientB)
		in.markFraudulent(partner)

		pairs++
		emitted += 2
	}

	return emitted
}

// activityTime anchors a synthetic event after both clients' referral
// dates so injected rows keep the dataset's temporal ordering.
func (in *Injector) activityTime(partner string, clients ...string) time.Time {
	var anchor time.Time
	for _, c := range clients {
		if d, ok := in.referralDate[partner][c]; ok && d.After(anchor) {
			anchor = d
		}
	}
	offset := time.Duration(in.rng.Int63n(int64(in.cfg.ActivitySpread)))
	return anchor.Add(offset)
}

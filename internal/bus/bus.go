package bus

import (
	"fmt"

	"github.com/opensource-finance/shrike/internal/domain"
)

// New creates a new event bus based on configuration.
// The channel bus is the in-process default; NATS is used when external
// observers need the stage event stream.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

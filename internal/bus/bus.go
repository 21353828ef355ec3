package bus

import (
	"fmt"
	"log/slog"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// New builds the event bus named by cfg.Type. The channel bus serves a single
// process; NATS fans decisions and corpus changes out to other services.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	cfg = cfg.WithDefaults()

	var (
		b   domain.EventBus
		err error
	)
	switch cfg.Type {
	case "channel":
		b = NewChannelBus(cfg.ChannelBufferSize)
	case "nats":
		b, err = NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("event bus ready", "type", cfg.Type)
	return b, nil
}

package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/loomcloud/loom/internal/core"
)

type delayNodeConfig struct {
	Seconds float64 `mapstructure:"seconds"`
}

// handleDelay sleeps for the configured number of seconds. The sleep
// is cooperative: cancellation of the run context wakes it up.
func (d *Dispatcher) handleDelay(ctx context.Context, node core.Node, _ Input) (map[string]any, error) {
	var cfg delayNodeConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}
	if cfg.Seconds < 0 {
		return nil, core.NewNodeConfigError(node.ID, fmt.Errorf("%w: %v", core.ErrInvalidDelay, cfg.Seconds))
	}

	timer := time.NewTimer(time.Duration(cfg.Seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return map[string]any{"delayed_seconds": cfg.Seconds}, nil
}

package mockd

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/renjiyun06/mosaic-sub001/internal/wire"
)

// StatusTicker publishes runtime_status_changed notifications with host
// CPU and memory readings. Consoles treat these as a refresh trigger and
// show the figures in the status bar.
type StatusTicker struct {
	hub      *Hub
	store    *Store
	interval time.Duration
	log      zerolog.Logger
}

// NewStatusTicker creates a ticker publishing through hub every interval.
func NewStatusTicker(hub *Hub, store *Store, interval time.Duration, log zerolog.Logger) *StatusTicker {
	return &StatusTicker{hub: hub, store: store, interval: interval, log: log}
}

// Run publishes until ctx is cancelled.
func (t *StatusTicker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.publish(ctx)
		}
	}
}

func (t *StatusTicker) publish(ctx context.Context) {
	payload := wire.RuntimeStatusPayload{Sessions: t.store.ActiveSessions()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		payload.CPUPercent = percents[0]
	} else if err != nil {
		t.log.Debug().Err(err).Msg("cpu sample failed")
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		payload.MemoryPercent = vm.UsedPercent
	} else {
		t.log.Debug().Err(err).Msg("memory sample failed")
	}

	t.hub.Broadcast(wire.Notification("", wire.MsgRuntimeStatusChanged, payload))
}

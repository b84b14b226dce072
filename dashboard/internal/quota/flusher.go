package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/gridpoint-energy/fleetview/pkg/types"
)

// DefaultFlushInterval is how often pending deltas are shipped.
const DefaultFlushInterval = 30 * time.Second

// teardownFlushTimeout bounds the best-effort flush during shutdown.
const teardownFlushTimeout = 2 * time.Second

// IncrementSender delivers one provider delta to the fleet aggregation
// endpoint. The server aggregates by summation and accepts duplicates.
type IncrementSender interface {
	SendTileIncrement(ctx context.Context, inc types.TileIncrement) error
}

// Flusher ships Usage's pending deltas on an interval and once, best
// effort, at teardown.
type Flusher struct {
	usage     *Usage
	sender    IncrementSender
	sessionID string
	interval  time.Duration
	logger    *slog.Logger
}

// NewFlusher creates a flusher. A non-positive interval falls back to the
// default.
func NewFlusher(usage *Usage, sender IncrementSender, sessionID string, interval time.Duration, logger *slog.Logger) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{
		usage:     usage,
		sender:    sender,
		sessionID: sessionID,
		interval:  interval,
		logger:    logger.With("component", "tile_flusher"),
	}
}

// Run flushes on the interval until the context is cancelled, then makes
// one final best-effort flush on a detached context. A teardown delivery
// that is never acknowledged is accepted as lost accounting.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			teardownCtx, cancel := context.WithTimeout(context.Background(), teardownFlushTimeout)
			f.Flush(teardownCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			f.Flush(ctx)
		}
	}
}

// Flush sends every provider's non-zero pending delta, acknowledging only
// the deltas whose delivery succeeded. Failed deltas stay pending for the
// next interval.
func (f *Flusher) Flush(ctx context.Context) {
	pending := f.usage.TakePending()
	if len(pending) == 0 {
		return
	}
	monthKey := f.usage.MonthKey()

	for provider, delta := range pending {
		inc := types.TileIncrement{
			Provider:  provider,
			Delta:     delta,
			MonthKey:  monthKey,
			SessionID: f.sessionID,
		}
		if err := f.sender.SendTileIncrement(ctx, inc); err != nil {
			f.logger.Warn("tile increment delivery failed, delta retained",
				"provider", provider,
				"delta", delta,
				"error", err)
			continue
		}
		if err := f.usage.Acknowledge(ctx, provider, delta); err != nil {
			f.logger.Warn("acknowledging flushed delta failed",
				"provider", provider,
				"error", err)
		}
		f.logger.Debug("tile increment flushed",
			"provider", provider,
			"delta", delta)
	}
}

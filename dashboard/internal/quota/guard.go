package quota

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gridpoint-energy/fleetview/dashboard/internal/kvstore"
	"github.com/gridpoint-energy/fleetview/pkg/types"
)

// DefaultStatusInterval is the fleet-status poll cadence.
const DefaultStatusInterval = 15 * time.Second

// providerKey is where the guard persists the last-chosen provider.
const providerKey = kvstore.Namespace + ":active_provider"

// Warning severities surfaced to the rendering layer.
const (
	WarnLevelWarning  = "warning"
	WarnLevelCritical = "critical"
)

// Warning is a non-blocking guardrail message for display.
type Warning struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// StatusFetcher retrieves fleet-wide tile quota status.
type StatusFetcher interface {
	FetchTileStatus(ctx context.Context) (*types.TileFleetStatus, error)
}

// Guard maintains the active tile provider under the fleet budget policy.
//
// Switching is deliberately sticky: the guard only moves off the active
// provider when the fleet recommendation differs, the recommended provider
// is itself unblocked, and fleet data is current. That hysteresis stops
// oscillation when both providers sit near the threshold. Rendering is
// never silently disabled: with both providers blocked the guard freezes on
// the current one and raises a critical warning instead.
type Guard struct {
	fetcher StatusFetcher
	store   kvstore.Store
	logger  *slog.Logger

	mu               sync.RWMutex
	status           *types.TileFleetStatus // last known good, nil until first success
	fleetUnavailable bool
	activeProvider   string
	warnings         []Warning
}

// NewGuard creates a guard, restoring the last-chosen provider from the
// store when present.
func NewGuard(ctx context.Context, fetcher StatusFetcher, store kvstore.Store, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{
		fetcher: fetcher,
		store:   store,
		logger:  logger.With("component", "tile_guard"),
	}

	if data, err := store.Get(ctx, providerKey); err == nil && data != nil {
		var p string
		if json.Unmarshal(data, &p) == nil && p != "" {
			g.activeProvider = p
			g.logger.Info("restored tile provider", "provider", p)
		}
	}
	return g
}

// Run polls fleet status on the interval until the context is cancelled.
// Each poll settles before the next is scheduled.
func (g *Guard) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}

	// Initial refresh so the session starts with a provider decision.
	g.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.Refresh(ctx)
		}
	}
}

// Refresh fetches fleet status once and applies the selection policy. On
// fetch failure the last-known status is retained and a "fleet totals
// unavailable" warning is surfaced.
func (g *Guard) Refresh(ctx context.Context) {
	st, err := g.fetcher.FetchTileStatus(ctx)
	if err != nil {
		g.mu.Lock()
		g.fleetUnavailable = true
		g.rebuildWarningsLocked()
		g.mu.Unlock()
		g.logger.Warn("fleet tile status fetch failed, retaining last known", "error", err)
		return
	}

	g.mu.Lock()
	g.status = st
	g.fleetUnavailable = false
	g.applyPolicyLocked(ctx)
	g.rebuildWarningsLocked()
	g.mu.Unlock()
}

// applyPolicyLocked runs the provider selection rules against the freshly
// fetched status.
func (g *Guard) applyPolicyLocked(ctx context.Context) {
	st := g.status
	recommended := st.RecommendedProvider

	if g.activeProvider == "" {
		if recommended != "" {
			g.setProviderLocked(ctx, recommended, "adopted fleet recommendation")
		}
		return
	}

	if recommended != "" && recommended != g.activeProvider {
		// Hysteresis: only switch to an unblocked recommendation on
		// current data.
		if !st.Blocked[recommended] && !g.fleetUnavailable {
			g.setProviderLocked(ctx, recommended, "following fleet recommendation")
			return
		}
	}

	// The active provider crossed the guardrail: move to any unblocked
	// alternative. With every provider blocked, freeze where we are.
	if st.Blocked[g.activeProvider] {
		if alt := g.unblockedAlternativeLocked(g.activeProvider); alt != "" {
			g.setProviderLocked(ctx, alt, "active provider over budget")
		}
	}
}

// SelectProvider applies an explicit user choice. A blocked choice is
// redirected to an unblocked alternative when one exists; otherwise the
// current provider is kept and the limiting warning stands.
func (g *Guard) SelectProvider(ctx context.Context, provider string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status == nil || !g.status.Blocked[provider] {
		g.setProviderLocked(ctx, provider, "user selection")
		g.rebuildWarningsLocked()
		return
	}

	if alt := g.unblockedAlternativeLocked(provider); alt != "" {
		g.setProviderLocked(ctx, alt, "user choice blocked, redirected")
	} else {
		g.logger.Warn("requested provider blocked with no alternative, keeping current",
			"requested", provider,
			"active", g.activeProvider)
	}
	g.rebuildWarningsLocked()
}

// unblockedAlternativeLocked returns any provider other than the given one
// that is not blocked, or "".
func (g *Guard) unblockedAlternativeLocked(provider string) string {
	if g.status == nil {
		return ""
	}
	for _, p := range g.status.Providers {
		if p != provider && !g.status.Blocked[p] {
			return p
		}
	}
	return ""
}

// setProviderLocked updates and persists the active provider.
func (g *Guard) setProviderLocked(ctx context.Context, provider, reason string) {
	if provider == g.activeProvider {
		return
	}
	g.logger.Info("tile provider changed",
		"from", g.activeProvider,
		"to", provider,
		"reason", reason)
	g.activeProvider = provider

	data, _ := json.Marshal(provider)
	if err := g.store.Set(ctx, providerKey, data); err != nil {
		g.logger.Warn("persisting tile provider failed", "error", err)
	}
}

// rebuildWarningsLocked derives the display warnings from current state.
func (g *Guard) rebuildWarningsLocked() {
	var warnings []Warning

	if g.fleetUnavailable {
		warnings = append(warnings, Warning{
			Level:   WarnLevelWarning,
			Message: "fleet totals unavailable",
		})
	}

	if st := g.status; st != nil {
		allBlocked := len(st.Providers) > 0
		for _, p := range st.Providers {
			if !st.Blocked[p] {
				allBlocked = false
				break
			}
		}
		if allBlocked {
			warnings = append(warnings, Warning{
				Level:   WarnLevelCritical,
				Message: "all tile providers over budget; frozen on " + g.activeProvider,
			})
		} else if g.activeProvider != "" && st.Blocked[g.activeProvider] {
			warnings = append(warnings, Warning{
				Level:   WarnLevelWarning,
				Message: "tile provider " + g.activeProvider + " over budget",
			})
		}
	}

	g.warnings = warnings
}

// ActiveProvider returns the provider tiles should currently load from.
func (g *Guard) ActiveProvider() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.activeProvider
}

// Status returns the last known fleet status, which may be stale when
// FleetUnavailable is true, and nil before the first successful fetch.
func (g *Guard) Status() *types.TileFleetStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// FleetUnavailable reports whether the last status fetch failed.
func (g *Guard) FleetUnavailable() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.fleetUnavailable
}

// Warnings returns the current guardrail warnings for display.
func (g *Guard) Warnings() []Warning {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Warning, len(g.warnings))
	copy(out, g.warnings)
	return out
}

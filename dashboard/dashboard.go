// Package dashboard provides the state-aggregation engine behind the
// on-site node dashboard and the fleet map.
//
// # Engine Lifecycle
//
//  1. Load configuration
//  2. Open the persisted state store, restore tile usage and provider
//  3. Connect the push channel (optional; snapshot-only without it)
//  4. Start the adaptive snapshot poll loop
//  5. Start the quota flush and fleet-status loops
//  6. Start the heartbeat loop
//  7. Run until shutdown, then flush tile deltas best-effort
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridpoint-energy/fleetview/dashboard/internal/config"
	"github.com/gridpoint-energy/fleetview/dashboard/internal/fleetapi"
	"github.com/gridpoint-energy/fleetview/dashboard/internal/geo"
	"github.com/gridpoint-energy/fleetview/dashboard/internal/health"
	"github.com/gridpoint-energy/fleetview/dashboard/internal/kvstore"
	"github.com/gridpoint-energy/fleetview/dashboard/internal/poll"
	"github.com/gridpoint-energy/fleetview/dashboard/internal/quota"
	"github.com/gridpoint-energy/fleetview/dashboard/internal/realtime"
	"github.com/gridpoint-energy/fleetview/dashboard/internal/view"
	"github.com/gridpoint-energy/fleetview/pkg/types"
)

// Version is set at build time.
var Version = "dev"

// Engine is the dashboard state-aggregation engine.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	client     *fleetapi.Client
	store      kvstore.Store
	cache      *realtime.Cache
	subscriber *realtime.Subscriber
	model      *view.Model
	tracker    *poll.Tracker
	runner     *poll.Runner
	usage      *quota.Usage
	flusher    *quota.Flusher
	guard      *quota.Guard

	sessionID string

	filterMu sync.Mutex
	filter   fleetapi.SnapshotFilter
}

// New creates an engine with the given configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	sessionID := uuid.New().String()

	var httpClient *http.Client
	if cfg.Fleet.RequestTimeout > 0 {
		httpClient = &http.Client{Timeout: cfg.Fleet.RequestTimeout}
	}
	client := fleetapi.NewClient(fleetapi.Config{
		BaseURL:    cfg.Fleet.URL,
		AuthToken:  cfg.Fleet.Token,
		SessionID:  sessionID,
		HTTPClient: httpClient,
		RateLimit:  cfg.Fleet.RateLimit,
	})

	store, err := kvstore.New(ctx, cfg.State, logger)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	usage, err := quota.NewUsage(ctx, store, logger, nil)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading tile usage: %w", err)
	}

	cache := realtime.NewCache(cfg.Push.FreshnessWindow, nil)
	model := view.NewModel(cache, cfg.Poll.EventStalenessWindow, nil)
	tracker := poll.NewTracker(nil, cfg.Poll.MoveThresholdMeters)

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		client:    client,
		store:     store,
		cache:     cache,
		model:     model,
		tracker:   tracker,
		usage:     usage,
		sessionID: sessionID,
		filter: fleetapi.SnapshotFilter{
			DeploymentID: cfg.Filter.DeploymentID,
			EventID:      cfg.Filter.EventID,
		},
	}

	e.runner = poll.NewRunner(tracker, e.fetchPass, logger)
	e.flusher = quota.NewFlusher(usage, client, sessionID, cfg.Quota.FlushInterval, logger)
	e.guard = quota.NewGuard(ctx, client, store, logger)

	if cfg.Push.BrokerURL != "" {
		clientID := cfg.Push.ClientID
		if clientID == "" {
			clientID = "fleetview-" + sessionID
		}
		e.subscriber = realtime.NewSubscriber(cache, realtime.SubscriberConfig{
			BrokerURL:    cfg.Push.BrokerURL,
			ClientID:     clientID,
			TopicPattern: cfg.Push.TopicPattern,
		}, logger)
	}

	return e, nil
}

// Run starts all loops and blocks until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("starting dashboard engine",
		"session_id", e.sessionID,
		"version", Version,
		"fleet", e.cfg.Fleet.URL)

	if e.subscriber != nil {
		if err := e.subscriber.Connect(); err != nil {
			// Snapshot-only degradation; reconnect keeps trying behind us.
			e.logger.Warn("push channel unavailable, running snapshot-only", "error", err)
		}
		defer e.subscriber.Close()
	}
	defer e.store.Close()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	start := func(loop func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- loop(loopCtx)
		}()
	}

	start(e.runner.Run)
	start(e.flusher.Run)
	start(func(ctx context.Context) error {
		return e.guard.Run(ctx, e.cfg.Quota.StatusInterval)
	})
	start(e.runHeartbeat)

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
		runErr = ctx.Err()
	}

	// Stop the remaining loops, then wait for all of them. The flusher's
	// teardown flush runs on a detached context and must complete before
	// the deferred store close.
	cancel()
	wg.Wait()
	return runErr
}

// fetchPass performs one snapshot fetch and classification pass, returning
// the raw positions for the poll tracker.
func (e *Engine) fetchPass(ctx context.Context) (map[string]geo.Point, error) {
	records, err := e.client.FetchSnapshot(ctx, e.currentFilter())
	if err != nil {
		e.model.ApplyFetchError(err)
		return nil, err
	}

	snap := e.model.ApplyRecords(records)
	e.logger.Debug("classification pass published",
		"systems", len(records),
		"groups", len(snap.Groups),
		"events", len(snap.Events))

	return view.Positions(records), nil
}

// SetFilter replaces the active snapshot filter, cancels the pending poll
// delay and triggers an immediate refetch.
func (e *Engine) SetFilter(filter fleetapi.SnapshotFilter) {
	e.filterMu.Lock()
	changed := filter != e.filter
	e.filter = filter
	e.filterMu.Unlock()

	if changed {
		e.logger.Info("snapshot filter changed, refetching",
			"deployment_id", filter.DeploymentID,
			"event_id", filter.EventID)
		e.runner.Kick()
	}
}

func (e *Engine) currentFilter() fleetapi.SnapshotFilter {
	e.filterMu.Lock()
	defer e.filterMu.Unlock()
	return e.filter
}

// View returns the last published view snapshot, or nil before the first
// pass completes.
func (e *Engine) View() *view.Snapshot {
	return e.model.Current()
}

// PushConnected reports the push channel's connection status for display.
func (e *Engine) PushConnected() bool {
	return e.cache.Connected()
}

// OnPushMessage is the transport-free entry point for push updates, for
// callers that own their own dispatcher instead of the MQTT adapter.
func (e *Engine) OnPushMessage(nodeID string, update types.PushUpdate) {
	e.cache.OnMessage(nodeID, update)
}

// RecordTileAttempt counts one tile fetch by the rendering layer against
// the provider's monthly quota.
func (e *Engine) RecordTileAttempt(ctx context.Context, provider string) error {
	return e.usage.RecordAttempt(ctx, provider)
}

// ActiveTileProvider returns the provider tiles should load from.
func (e *Engine) ActiveTileProvider() string {
	return e.guard.ActiveProvider()
}

// SelectTileProvider applies an explicit provider choice through the
// guardrail policy.
func (e *Engine) SelectTileProvider(ctx context.Context, provider string) {
	e.guard.SelectProvider(ctx, provider)
}

// TileWarnings returns the current guardrail warnings for display.
func (e *Engine) TileWarnings() []quota.Warning {
	return e.guard.Warnings()
}

// runHeartbeat reports session health on the configured interval.
func (e *Engine) runHeartbeat(ctx context.Context) error {
	interval := e.cfg.Health.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.sendHeartbeat(ctx); err != nil {
				e.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// sendHeartbeat sends a single heartbeat.
func (e *Engine) sendHeartbeat(ctx context.Context) error {
	stats := health.Collect()

	var systems, nodes int
	if snap := e.model.Current(); snap != nil {
		nodes = len(snap.Groups)
		for _, g := range snap.Groups {
			systems += len(g.Members)
		}
	}

	return e.client.Heartbeat(ctx, types.Heartbeat{
		SessionID:      e.sessionID,
		Timestamp:      time.Now(),
		Version:        Version,
		PushConnected:  e.cache.Connected(),
		SystemsVisible: systems,
		NodesVisible:   nodes,
		PollDelaySec:   int(e.runner.LastDelay() / time.Second),
		MemoryMB:       stats.MemoryMB,
		CPUPercent:     stats.CPUPercent,
		GoroutineCount: stats.GoroutineCount,
	})
}

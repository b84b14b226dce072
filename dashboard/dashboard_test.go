package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gridpoint-energy/fleetview/dashboard/internal/config"
	"github.com/gridpoint-energy/fleetview/dashboard/internal/kvstore"
	"github.com/gridpoint-energy/fleetview/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fleetServer fakes the fleet API with a deliberately slow tile usage
// endpoint, counting acknowledged increments.
func fleetServer(t *testing.T, usageDelay time.Duration, delivered *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/systems", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"systems": []*types.SystemRecord{}})
	})
	mux.HandleFunc("/api/v1/tiles/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.TileFleetStatus{
			Providers:           []string{"mapbox"},
			RecommendedProvider: "mapbox",
		})
	})
	mux.HandleFunc("/api/v1/tiles/usage", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(usageDelay)
		delivered.Add(1)
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/api/v1/sessions/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	return httptest.NewServer(mux)
}

func testConfig(fleetURL, stateDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Fleet.URL = fleetURL
	// Long cadences: only startup passes and the teardown flush fire.
	cfg.Quota.FlushInterval = time.Hour
	cfg.Quota.StatusInterval = time.Hour
	cfg.Health.HeartbeatInterval = time.Hour
	cfg.State = kvstore.Config{Backend: "file", Dir: stateDir}
	return cfg
}

func TestRun_WaitsForTeardownFlush(t *testing.T) {
	var delivered atomic.Int32
	srv := fleetServer(t, 300*time.Millisecond, &delivered)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := New(ctx, testConfig(srv.URL, t.TempDir()), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	// Let the loops start, then leave one unflushed delta behind.
	time.Sleep(100 * time.Millisecond)
	if err := e.RecordTileAttempt(ctx, "mapbox"); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// Run must not return until the slow teardown delivery settled.
	if got := delivered.Load(); got != 1 {
		t.Errorf("delivered increments = %d, want 1", got)
	}
}

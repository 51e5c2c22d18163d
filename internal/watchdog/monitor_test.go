package watchdog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dexalign/internal/config"
)

type fakeService struct {
	srv      *httptest.Server
	payload  atomic.Value // healthPayload-like map
	failing  atomic.Bool
	restarts atomic.Int64
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	f := &fakeService{}
	f.payload.Store(map[string]any{"status": "ok"})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if f.failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(f.payload.Load())
	})
	mux.HandleFunc("POST /restart", func(w http.ResponseWriter, r *http.Request) {
		f.restarts.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeService) config(name string, downThreshold, degradedThreshold time.Duration) config.WatchedServiceConfig {
	return config.WatchedServiceConfig{
		Name:              name,
		HealthURL:         f.srv.URL + "/health",
		RestartURL:        f.srv.URL + "/restart",
		DownThreshold:     downThreshold,
		DegradedThreshold: degradedThreshold,
	}
}

func newTestMonitor(services ...config.WatchedServiceConfig) *Monitor {
	return New(config.WatchdogConfig{
		PollInterval: time.Second,
		CheckTimeout: time.Second,
		EventLogSize: 16,
		Services:     services,
	}, nil, zerolog.Nop())
}

func TestClassifyOK(t *testing.T) {
	fake := newFakeService(t)
	monitor := newTestMonitor(fake.config("feed", time.Minute, time.Minute))

	_ = monitor.Poll(context.Background(), time.Now())

	states := monitor.Snapshot()
	if len(states) != 1 || states[0].Status != StatusOK {
		t.Fatalf("期望 ok, 实际 %+v", states)
	}
	if monitor.Aggregate() != StatusOK {
		t.Fatal("aggregate should be ok")
	}
}

func TestClassifySelfReportedStates(t *testing.T) {
	fake := newFakeService(t)
	monitor := newTestMonitor(fake.config("feed", time.Minute, time.Minute))
	ctx := context.Background()

	fake.payload.Store(map[string]any{"status": "degraded"})
	_ = monitor.Poll(ctx, time.Now())
	if got := monitor.Snapshot()[0].Status; got != StatusDegraded {
		t.Fatalf("self-reported degraded should classify degraded, got %s", got)
	}

	fake.payload.Store(map[string]any{"status": "unhealthy"})
	_ = monitor.Poll(ctx, time.Now())
	if got := monitor.Snapshot()[0].Status; got != StatusDown {
		t.Fatalf("self-reported unhealthy should classify down, got %s", got)
	}

	connected := false
	fake.payload.Store(map[string]any{"status": "ok", "connected": connected})
	_ = monitor.Poll(ctx, time.Now())
	if got := monitor.Snapshot()[0].Status; got != StatusDown {
		t.Fatalf("connected=false must force down, got %s", got)
	}
}

func TestStalenessOverridesSelfReport(t *testing.T) {
	fake := newFakeService(t)
	monitor := newTestMonitor(fake.config("feed", time.Minute, time.Minute))
	ctx := context.Background()

	stale := time.Now().UTC().Add(-20 * time.Second).Format(time.RFC3339)
	fake.payload.Store(map[string]any{"status": "ok", "last_message_ts": stale})
	_ = monitor.Poll(ctx, time.Now())
	if got := monitor.Snapshot()[0].Status; got != StatusDegraded {
		t.Fatalf("20s staleness should degrade, got %s", got)
	}

	veryStale := time.Now().UTC().Add(-2 * time.Minute).Format(time.RFC3339)
	fake.payload.Store(map[string]any{"status": "ok", "last_message_ts": veryStale})
	_ = monitor.Poll(ctx, time.Now())
	if got := monitor.Snapshot()[0].Status; got != StatusDown {
		t.Fatalf("2m staleness should force down, got %s", got)
	}
}

func TestAntiFlapSingleBadPoll(t *testing.T) {
	fake := newFakeService(t)
	monitor := newTestMonitor(fake.config("feed", 50*time.Millisecond, time.Minute))
	ctx := context.Background()

	now := time.Now().UTC()
	monitor.nowFn = func() time.Time { return now }

	fake.failing.Store(true)
	_ = monitor.Poll(ctx, now)
	if fake.restarts.Load() != 0 {
		t.Fatal("单次失败不应触发重启")
	}

	// Service recovers before the threshold elapses.
	fake.failing.Store(false)
	now = now.Add(30 * time.Millisecond)
	_ = monitor.Poll(ctx, now)

	// Goes down again; the old downSince anchor must not carry over.
	fake.failing.Store(true)
	now = now.Add(30 * time.Millisecond)
	_ = monitor.Poll(ctx, now)

	if fake.restarts.Load() != 0 {
		t.Fatalf("transient blips must not restart, got %d restarts", fake.restarts.Load())
	}
}

func TestSustainedDownRestartsExactlyOnce(t *testing.T) {
	fake := newFakeService(t)
	monitor := newTestMonitor(fake.config("feed", 50*time.Millisecond, time.Minute))
	ctx := context.Background()

	now := time.Now().UTC()
	monitor.nowFn = func() time.Time { return now }

	fake.failing.Store(true)
	_ = monitor.Poll(ctx, now)

	now = now.Add(60 * time.Millisecond)
	_ = monitor.Poll(ctx, now)

	if got := fake.restarts.Load(); got != 1 {
		t.Fatalf("sustained down past threshold must restart exactly once, got %d", got)
	}

	// Anchor was reset by the restart; the very next poll must not fire again.
	now = now.Add(10 * time.Millisecond)
	_ = monitor.Poll(ctx, now)
	if got := fake.restarts.Load(); got != 1 {
		t.Fatalf("restart must not repeat immediately, got %d", got)
	}

	state := monitor.Snapshot()[0]
	if state.RestartCount != 1 {
		t.Fatalf("restart counter should be 1, got %d", state.RestartCount)
	}
}

func TestRecoveryEmitsEvent(t *testing.T) {
	fake := newFakeService(t)
	monitor := newTestMonitor(fake.config("feed", time.Minute, time.Minute))
	ctx := context.Background()

	fake.failing.Store(true)
	_ = monitor.Poll(ctx, time.Now())
	fake.failing.Store(false)
	_ = monitor.Poll(ctx, time.Now())

	events := monitor.Events()
	if len(events) != 2 {
		t.Fatalf("expected down + recovered events, got %+v", events)
	}
	if events[0].Event != EventDown || events[1].Event != EventRecovered {
		t.Fatalf("事件顺序错误: %+v", events)
	}
}

func TestEventRingBufferEvicts(t *testing.T) {
	monitor := New(config.WatchdogConfig{EventLogSize: 3}, nil, zerolog.Nop())

	for i := 0; i < 5; i++ {
		monitor.mu.Lock()
		monitor.appendEventLocked(Event{Service: "s", Event: EventDown, Reason: string(rune('a' + i))})
		monitor.mu.Unlock()
	}

	events := monitor.Events()
	if len(events) != 3 {
		t.Fatalf("ring buffer should hold 3 events, got %d", len(events))
	}
	if events[0].Reason != "c" || events[2].Reason != "e" {
		t.Fatalf("oldest entries should be evicted first: %+v", events)
	}
}

func TestManualRestart(t *testing.T) {
	fake := newFakeService(t)
	monitor := newTestMonitor(fake.config("feed", time.Minute, time.Minute))

	if err := monitor.RestartByName(context.Background(), "feed"); err != nil {
		t.Fatalf("manual restart failed: %v", err)
	}
	if fake.restarts.Load() != 1 {
		t.Fatal("manual restart must hit the restart target")
	}
	if err := monitor.RestartByName(context.Background(), "nope"); err == nil {
		t.Fatal("unknown service must error")
	}
}

package watchdog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dexalign/internal/config"
)

// ServiceStatus classifies the liveness of a monitored service.
type ServiceStatus string

const (
	StatusUnknown  ServiceStatus = "unknown"
	StatusOK       ServiceStatus = "ok"
	StatusDegraded ServiceStatus = "degraded"
	StatusDown     ServiceStatus = "down"
)

// Staleness tiers applied to a self-reported last-message timestamp. A
// service that claims health but has produced nothing for a minute is down.
const (
	staleDegraded = 15 * time.Second
	staleDown     = 60 * time.Second
)

// ServiceHealth is the per-service mutable record exposed over HTTP.
type ServiceHealth struct {
	Name                string        `json:"name"`
	Status              ServiceStatus `json:"status"`
	LastCheck           time.Time     `json:"last_check"`
	LastSuccess         time.Time     `json:"last_success,omitzero"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	RestartCount        int           `json:"restart_count"`
	LastRestart         time.Time     `json:"last_restart,omitzero"`
	Dependencies        []string      `json:"dependencies,omitempty"`

	// Hysteresis anchors; transient, never persisted.
	downSince     time.Time
	degradedSince time.Time
}

// Event is one observability entry in the bounded event log.
type Event struct {
	TS      time.Time `json:"ts"`
	Service string    `json:"service"`
	Event   string    `json:"event"`
	Reason  string    `json:"reason"`
}

// Event kinds.
const (
	EventRestart   = "restart"
	EventDown      = "down"
	EventDegraded  = "degraded"
	EventRecovered = "recovered"
)

// healthPayload is the shape a monitored service reports on its health
// endpoint. All fields are optional.
type healthPayload struct {
	Status        string  `json:"status"`
	Connected     *bool   `json:"connected"`
	LastMessageTS *string `json:"last_message_ts"`
}

// Notifier receives restart notifications. Optional.
type Notifier interface {
	NotifyRestart(ctx context.Context, service, reason string)
}

// Monitor polls every configured service, classifies its health, and
// restarts it only after sustained unhealthiness.
type Monitor struct {
	cfg    config.WatchdogConfig
	client *http.Client
	logger zerolog.Logger
	notify Notifier
	nowFn  func() time.Time

	mu     sync.Mutex
	states map[string]*ServiceHealth
	events []Event
	start  int
	count  int
}

// New constructs a Monitor. notify may be nil.
func New(cfg config.WatchdogConfig, notify Notifier, logger zerolog.Logger) *Monitor {
	timeout := cfg.CheckTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	size := cfg.EventLogSize
	if size <= 0 {
		size = 100
	}

	states := make(map[string]*ServiceHealth, len(cfg.Services))
	for _, svc := range cfg.Services {
		states[svc.Name] = &ServiceHealth{
			Name:         svc.Name,
			Status:       StatusUnknown,
			Dependencies: svc.Dependencies,
		}
	}

	return &Monitor{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "watchdog").Logger(),
		notify: notify,
		nowFn:  func() time.Time { return time.Now().UTC() },
		states: states,
		events: make([]Event, size),
	}
}

// Poll checks every configured service once. Each service gets its own
// bounded check so one unreachable target cannot stall the cycle.
func (m *Monitor) Poll(ctx context.Context, _ time.Time) error {
	for _, svc := range m.cfg.Services {
		m.pollService(ctx, svc)
	}
	return nil
}

func (m *Monitor) pollService(ctx context.Context, svc config.WatchedServiceConfig) {
	now := m.nowFn()
	status, reason := m.check(ctx, svc)

	m.mu.Lock()
	state, ok := m.states[svc.Name]
	if !ok {
		state = &ServiceHealth{Name: svc.Name, Status: StatusUnknown}
		m.states[svc.Name] = state
	}

	previous := state.Status
	state.Status = status
	state.LastCheck = now
	if status == StatusOK {
		state.LastSuccess = now
		state.LastError = ""
		state.ConsecutiveFailures = 0
	} else {
		state.LastError = reason
		state.ConsecutiveFailures++
	}

	// Hysteresis anchors: set on transition in, cleared on recovery.
	switch status {
	case StatusDown:
		if state.downSince.IsZero() {
			state.downSince = now
		}
		state.degradedSince = time.Time{}
		if previous != StatusDown {
			m.appendEventLocked(Event{TS: now, Service: svc.Name, Event: EventDown, Reason: reason})
		}
	case StatusDegraded:
		if state.degradedSince.IsZero() {
			state.degradedSince = now
		}
		state.downSince = time.Time{}
		if previous != StatusDegraded {
			m.appendEventLocked(Event{TS: now, Service: svc.Name, Event: EventDegraded, Reason: reason})
		}
	case StatusOK:
		if !state.downSince.IsZero() || !state.degradedSince.IsZero() {
			m.appendEventLocked(Event{TS: now, Service: svc.Name, Event: EventRecovered, Reason: "health check passed"})
		}
		state.downSince = time.Time{}
		state.degradedSince = time.Time{}
	}

	restart := false
	restartReason := ""
	switch {
	case status == StatusDown && !state.downSince.IsZero() && now.Sub(state.downSince) > svc.DownThreshold:
		restart = true
		restartReason = fmt.Sprintf("down for %s (threshold %s): %s", now.Sub(state.downSince), svc.DownThreshold, reason)
	case status == StatusDegraded && !state.degradedSince.IsZero() && now.Sub(state.degradedSince) > svc.DegradedThreshold:
		restart = true
		restartReason = fmt.Sprintf("degraded for %s (threshold %s): %s", now.Sub(state.degradedSince), svc.DegradedThreshold, reason)
	}

	if restart {
		// Reset the anchors before releasing the lock so an overlapping poll
		// cannot double-issue the restart.
		state.downSince = time.Time{}
		state.degradedSince = time.Time{}
		state.RestartCount++
		state.LastRestart = now
		m.appendEventLocked(Event{TS: now, Service: svc.Name, Event: EventRestart, Reason: restartReason})
	}
	m.mu.Unlock()

	if status != StatusOK {
		m.logger.Warn().Str("service", svc.Name).Str("status", string(status)).Str("reason", reason).Msg("service unhealthy")
	}

	if restart {
		m.Restart(ctx, svc, restartReason)
	}
}

// check performs one HTTP health probe and classifies the response.
func (m *Monitor) check(ctx context.Context, svc config.WatchedServiceConfig) (ServiceStatus, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.HealthURL, nil)
	if err != nil {
		return StatusDown, "invalid health url: " + err.Error()
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return StatusDown, "health endpoint unreachable: " + err.Error()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return StatusDown, "health response unreadable: " + err.Error()
	}
	if resp.StatusCode != http.StatusOK {
		return StatusDown, fmt.Sprintf("health endpoint returned %d", resp.StatusCode)
	}

	var payload healthPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return StatusDegraded, "health payload not parseable"
	}

	if payload.Connected != nil && !*payload.Connected {
		return StatusDown, "service reports connected=false"
	}

	status := StatusOK
	reason := ""
	switch payload.Status {
	case "unhealthy", "down":
		return StatusDown, "service self-reports " + payload.Status
	case "degraded":
		status = StatusDegraded
		reason = "service self-reports degraded"
	}

	// A fresh-looking status field does not outrank a stale data stream.
	if payload.LastMessageTS != nil {
		ts, parseErr := time.Parse(time.RFC3339, *payload.LastMessageTS)
		if parseErr == nil {
			age := m.nowFn().Sub(ts)
			switch {
			case age > staleDown:
				return StatusDown, fmt.Sprintf("last message %s old", age.Truncate(time.Second))
			case age > staleDegraded && status == StatusOK:
				status = StatusDegraded
				reason = fmt.Sprintf("last message %s old", age.Truncate(time.Second))
			}
		}
	}

	return status, reason
}

// Restart issues one restart against the service's restart target.
func (m *Monitor) Restart(ctx context.Context, svc config.WatchedServiceConfig, reason string) {
	m.logger.Warn().Str("service", svc.Name).Str("reason", reason).Msg("restarting service")

	if m.notify != nil {
		m.notify.NotifyRestart(ctx, svc.Name, reason)
	}

	if svc.RestartURL == "" {
		m.logger.Error().Str("service", svc.Name).Msg("no restart target configured")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.RestartURL, nil)
	if err != nil {
		m.logger.Error().Err(err).Str("service", svc.Name).Msg("invalid restart target")
		return
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Error().Err(err).Str("service", svc.Name).Msg("restart request failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		m.logger.Error().Int("status", resp.StatusCode).Str("service", svc.Name).Msg("restart target rejected request")
	}
}

// RestartByName is the manual override behind POST /restart/{service}.
func (m *Monitor) RestartByName(ctx context.Context, name string) error {
	for _, svc := range m.cfg.Services {
		if svc.Name != name {
			continue
		}
		now := m.nowFn()
		m.mu.Lock()
		if state, ok := m.states[name]; ok {
			state.RestartCount++
			state.LastRestart = now
			state.downSince = time.Time{}
			state.degradedSince = time.Time{}
		}
		m.appendEventLocked(Event{TS: now, Service: name, Event: EventRestart, Reason: "manual restart"})
		m.mu.Unlock()

		m.Restart(ctx, svc, "manual restart")
		return nil
	}
	return errors.New("unknown service: " + name)
}

// Snapshot returns a copy of every service state.
func (m *Monitor) Snapshot() []ServiceHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ServiceHealth, 0, len(m.cfg.Services))
	for _, svc := range m.cfg.Services {
		if state, ok := m.states[svc.Name]; ok {
			out = append(out, *state)
		}
	}
	return out
}

// Aggregate reduces all service states to one overall status.
func (m *Monitor) Aggregate() ServiceStatus {
	worst := StatusOK
	for _, state := range m.Snapshot() {
		switch state.Status {
		case StatusDown:
			return StatusDown
		case StatusDegraded:
			worst = StatusDegraded
		case StatusUnknown:
			if worst == StatusOK {
				worst = StatusUnknown
			}
		}
	}
	return worst
}

// Events returns the ring buffer contents, oldest first.
func (m *Monitor) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, 0, m.count)
	for i := 0; i < m.count; i++ {
		out = append(out, m.events[(m.start+i)%len(m.events)])
	}
	return out
}

func (m *Monitor) appendEventLocked(event Event) {
	size := len(m.events)
	if m.count < size {
		m.events[(m.start+m.count)%size] = event
		m.count++
		return
	}
	// Full: overwrite the oldest.
	m.events[m.start] = event
	m.start = (m.start + 1) % size
}

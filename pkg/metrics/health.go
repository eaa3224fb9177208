package metrics

import (
	"sync"
	"time"
)

// Health is a point-in-time report of the gateway's subsystems,
// rendered by the management surface's health endpoint.
type Health struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// componentState is the last condition reported for one subsystem.
type componentState struct {
	healthy bool
	message string
	updated time.Time
}

var state = struct {
	mu         sync.RWMutex
	components map[string]componentState
	version    string
	started    time.Time
}{
	components: make(map[string]componentState),
	started:    time.Now(),
}

// SetVersion records the build version reported in health snapshots.
func SetVersion(version string) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.version = version
}

// SetComponent records the condition of a subsystem. Components are
// registered on first report; message carries the failure detail when
// healthy is false.
func SetComponent(name string, healthy bool, message string) {
	state.mu.Lock()
	defer state.mu.Unlock()

	state.components[name] = componentState{
		healthy: healthy,
		message: message,
		updated: time.Now(),
	}
}

// Snapshot reports the current component conditions. The gateway is
// healthy until some subsystem reports otherwise; a gateway with no
// reports yet counts as healthy so the endpoint is usable before the
// first probe lands.
func Snapshot() Health {
	state.mu.RLock()
	defer state.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string, len(state.components))
	for name, comp := range state.components {
		if comp.healthy {
			components[name] = "ok"
			continue
		}
		status = "unhealthy"
		if comp.message != "" {
			components[name] = "error: " + comp.message
		} else {
			components[name] = "error"
		}
	}

	return Health{
		Status:     status,
		Timestamp:  time.Now(),
		Version:    state.version,
		Uptime:     time.Since(state.started).Round(time.Second).String(),
		Components: components,
	}
}

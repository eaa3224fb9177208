package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// resetHealth clears the component registry between tests.
func resetHealth() {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.components = make(map[string]componentState)
	state.version = ""
}

func TestSnapshotHealthyBeforeFirstReport(t *testing.T) {
	resetHealth()

	report := Snapshot()
	assert.Equal(t, "healthy", report.Status)
	assert.Empty(t, report.Components)
	assert.False(t, report.Timestamp.IsZero())
	assert.NotEmpty(t, report.Uptime)
}

func TestSetComponentFailureFlipsStatus(t *testing.T) {
	resetHealth()

	SetComponent("database", true, "")
	SetComponent("broker", false, "redis connection lost")

	report := Snapshot()
	assert.Equal(t, "unhealthy", report.Status)
	assert.Equal(t, "ok", report.Components["database"])
	assert.Equal(t, "error: redis connection lost", report.Components["broker"])
}

func TestSetComponentFailureWithoutDetail(t *testing.T) {
	resetHealth()

	SetComponent("cache", false, "")

	report := Snapshot()
	assert.Equal(t, "unhealthy", report.Status)
	assert.Equal(t, "error", report.Components["cache"])
}

func TestSetComponentRecovery(t *testing.T) {
	resetHealth()

	SetComponent("database", false, "bolt file locked")
	assert.Equal(t, "unhealthy", Snapshot().Status)

	SetComponent("database", true, "")
	report := Snapshot()
	assert.Equal(t, "healthy", report.Status)
	assert.Equal(t, "ok", report.Components["database"])
}

func TestSetVersionAppearsInSnapshot(t *testing.T) {
	resetHealth()

	SetVersion("1.2.3")
	assert.Equal(t, "1.2.3", Snapshot().Version)
}

func TestSnapshotUnderConcurrentReports(t *testing.T) {
	resetHealth()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				SetComponent("database", true, "")
				_ = Snapshot()
			}
		}()
	}
	wg.Wait()

	report := Snapshot()
	assert.Equal(t, "healthy", report.Status)
	assert.Equal(t, "ok", report.Components["database"])
}

func TestSnapshotTimestampAdvances(t *testing.T) {
	resetHealth()

	first := Snapshot()
	time.Sleep(10 * time.Millisecond)
	second := Snapshot()

	assert.False(t, second.Timestamp.Before(first.Timestamp))
}

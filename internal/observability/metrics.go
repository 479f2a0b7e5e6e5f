package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters for the workflow and the
// polling API. All methods are safe on a nil receiver so callers can
// leave metrics unwired.
type Metrics struct {
	mu             sync.Mutex
	requestCount   map[string]int64
	errorCount     map[string]int64
	stageCommits   map[string]int64
	stageRetries   map[string]int64
	qualityRetries int64
	terminals      map[string]int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		stageCommits: make(map[string]int64),
		stageRetries: make(map[string]int64),
		terminals:    make(map[string]int64),
	}
}

// RecordRequest increments counters for HTTP requests.
func (m *Metrics) RecordRequest(path, method string, status int, _ time.Duration) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + strconv.Itoa(status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters for HTTP requests.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordStageCommit counts a committed stage transition.
func (m *Metrics) RecordStageCommit(stage string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stageCommits[stage]++
}

// RecordStageRetry counts a transient in-stage retry.
func (m *Metrics) RecordStageRetry(stage string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stageRetries[stage]++
}

// RecordQualityRetry counts a validation-driven trip back to Generate.
func (m *Metrics) RecordQualityRetry() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qualityRetries++
}

// RecordTerminal counts a finished ticket by terminal status.
func (m *Metrics) RecordTerminal(status string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminals[status]++
}

// Snapshot returns a copy of all counters for the metrics endpoint.
func (m *Metrics) Snapshot() map[string]map[string]int64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]map[string]int64{
		"requests":      copyCounters(m.requestCount),
		"errors":        copyCounters(m.errorCount),
		"stage_commits": copyCounters(m.stageCommits),
		"stage_retries": copyCounters(m.stageRetries),
		"terminals":     copyCounters(m.terminals),
	}
	out["workflow"] = map[string]int64{"quality_retries": m.qualityRetries}
	return out
}

func copyCounters(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

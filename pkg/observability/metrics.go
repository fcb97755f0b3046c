package observability

import (
	"sort"
	"sync"
	"time"
)

// metricsClient is an in-process MetricsClient. It keeps last-written values
// so tests and health endpoints can inspect what the engine recorded.
type metricsClient struct {
	enabled bool
	mu      sync.RWMutex
	counter map[string]float64
	gauges  map[string]float64
}

// NewMetricsClient creates a new metrics client
func NewMetricsClient() MetricsClient {
	return &metricsClient{
		enabled: true,
		counter: make(map[string]float64),
		gauges:  make(map[string]float64),
	}
}

// NewNoopMetricsClient creates a metrics client that discards everything
func NewNoopMetricsClient() MetricsClient {
	return &metricsClient{enabled: false}
}

// IncrementCounter increments a counter metric by a given value
func (m *metricsClient) IncrementCounter(name string, value float64) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.counter[name] += value
	m.mu.Unlock()
}

// IncrementCounterWithLabels increments a counter metric with custom labels
func (m *metricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.counter[flattenName(name, labels)] += value
	m.mu.Unlock()
}

// RecordGauge records a gauge metric
func (m *metricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.gauges[flattenName(name, labels)] = value
	m.mu.Unlock()
}

// RecordHistogram records a histogram observation
func (m *metricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	// Histograms degrade to gauges in the in-process client
	m.RecordGauge(name, value, labels)
}

// RecordDuration records a duration metric
func (m *metricsClient) RecordDuration(name string, duration time.Duration) {
	m.RecordHistogram(name, duration.Seconds(), nil)
}

// Close implements MetricsClient.Close
func (m *metricsClient) Close() error {
	return nil
}

// CounterValue returns the current value of a counter, for tests
func (m *metricsClient) CounterValue(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counter[name]
}

func flattenName(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	flat := name
	for _, k := range keys {
		flat += "," + k + "=" + labels[k]
	}
	return flat
}

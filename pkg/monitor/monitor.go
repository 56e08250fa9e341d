// Copyright 2026 Hearth Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package monitor tracks per-operation performance in a bounded ring buffer
// and derives rolling metrics, SLA compliance, trend, and edge-triggered
// alerts for the agent health dashboard.
package monitor

import (
	"sort"
	"sync"
	"time"
)

// Trend classifies latency movement across the metrics window.
type Trend string

const (
	TrendImproving        Trend = "improving"
	TrendStable           Trend = "stable"
	TrendDegrading        Trend = "degrading"
	TrendInsufficientData Trend = "insufficient_data"
)

// Default sizing.
const (
	DefaultRingSize       = 1000
	DefaultWindowSamples  = 200
	DefaultWindowDuration = 300 * time.Second
	DefaultTrendThreshold = 25.0 // percent
	maxRecentAlerts       = 50
)

// Sample is one recorded operation.
type Sample struct {
	Timestamp  time.Time
	DurationMs float64
	Success    bool
	Capability string
}

// SLAConfig is the per-agent service level agreement.
type SLAConfig struct {
	ResponseTimeMs        float64 `json:"response_time_sla_ms"`
	MinSuccessRatePercent float64 `json:"min_success_rate_percent"`
}

// Config configures a Monitor.
type Config struct {
	RingSize       int
	WindowSamples  int
	WindowDuration time.Duration
	// TrendThresholdPercent is the half-window mean delta that flips the
	// trend away from stable.
	TrendThresholdPercent float64
	SLA                   SLAConfig
}

// Metrics are derived aggregates over the current window. Never stored.
type Metrics struct {
	SampleCount          int     `json:"sample_count"`
	SuccessRatePercent   float64 `json:"success_rate_percent"`
	AvgMs                float64 `json:"avg_ms"`
	P50Ms                float64 `json:"p50_ms"`
	P95Ms                float64 `json:"p95_ms"`
	P99Ms                float64 `json:"p99_ms"`
	ThroughputOpsPerMin  float64 `json:"throughput_ops_per_min"`
	Trend                Trend   `json:"trend"`
}

// SLACompliance is the per-metric compliance verdict.
type SLACompliance struct {
	ResponseTimeCompliant bool    `json:"response_time_compliant"`
	SuccessRateCompliant  bool    `json:"success_rate_compliant"`
	OverallCompliant      bool    `json:"overall_compliant"`
	AvgResponseMs         float64 `json:"avg_response_ms"`
	SuccessRatePercent    float64 `json:"success_rate_percent"`
}

// Alert types.
const (
	AlertSLAViolation           = "sla_violation"
	AlertPerformanceDegradation = "performance_degradation"
	AlertRecovery               = "recovery"
)

// Alert is an edge-triggered health event.
type Alert struct {
	Type      string    `json:"type"`
	Metric    string    `json:"metric,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// windowAgg is a running aggregate over a contiguous suffix of the sample
// stream, addressed by logical sequence numbers.
type windowAgg struct {
	start     int64
	sumMs     float64
	successes int
}

func (w *windowAgg) add(s Sample) {
	w.sumMs += s.DurationMs
	if s.Success {
		w.successes++
	}
}

func (w *windowAgg) drop(s Sample) {
	w.sumMs -= s.DurationMs
	if s.Success {
		w.successes--
	}
}

func (w *windowAgg) size(seq int64) int { return int(seq - w.start) }

// Monitor is the bounded performance tracker. Recording is O(1): SLA edges
// are evaluated from running window aggregates, and the percentile
// computation that needs a window copy runs only on demand.
type Monitor struct {
	mu     sync.Mutex
	config Config

	ring  []Sample
	next  int
	count int
	seq   int64

	durWin windowAgg // samples inside WindowDuration
	cntWin windowAgg // the most recent WindowSamples samples

	// Edge-tracking state for alerts
	responseTimeOK bool
	successRateOK  bool
	everEvaluated  bool
	degradationOn  bool
	baselineP95    float64

	alerts      []Alert
	alertCounts map[string]int
}

// New creates a Monitor with defaults filled in.
func New(config Config) *Monitor {
	if config.RingSize == 0 {
		config.RingSize = DefaultRingSize
	}
	if config.WindowSamples == 0 {
		config.WindowSamples = DefaultWindowSamples
	}
	if config.WindowDuration == 0 {
		config.WindowDuration = DefaultWindowDuration
	}
	if config.TrendThresholdPercent == 0 {
		config.TrendThresholdPercent = DefaultTrendThreshold
	}

	return &Monitor{
		config:         config,
		ring:           make([]Sample, config.RingSize),
		responseTimeOK: true,
		successRateOK:  true,
		alertCounts:    make(map[string]int),
	}
}

// RecordOperation appends a sample to the ring and re-evaluates SLA edges.
func (m *Monitor) RecordOperation(duration time.Duration, success bool, capabilityVerb string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	sample := Sample{
		Timestamp:  now,
		DurationMs: float64(duration.Microseconds()) / 1000.0,
		Success:    success,
		Capability: capabilityVerb,
	}
	ringSize := int64(len(m.ring))

	// Reusing a slot drops the oldest retained sample from any window
	// that still covers it.
	if m.count == len(m.ring) {
		oldest := m.seq - ringSize
		if m.durWin.start == oldest {
			m.durWin.drop(m.ring[m.next])
			m.durWin.start++
		}
		if m.cntWin.start == oldest {
			m.cntWin.drop(m.ring[m.next])
			m.cntWin.start++
		}
	}

	// The count window holds at most WindowSamples entries.
	if m.cntWin.size(m.seq) >= m.config.WindowSamples {
		m.cntWin.drop(m.ring[m.cntWin.start%ringSize])
		m.cntWin.start++
	}
	m.evictExpiredLocked(now)

	m.ring[m.next] = sample
	m.next = (m.next + 1) % len(m.ring)
	if m.count < len(m.ring) {
		m.count++
	}
	m.seq++
	m.durWin.add(sample)
	m.cntWin.add(sample)

	m.evaluateSLAEdgesLocked(now)
}

// evictExpiredLocked advances the duration window past samples older than
// WindowDuration. Each sample is evicted at most once, so the amortized
// cost per record is constant.
func (m *Monitor) evictExpiredLocked(now time.Time) {
	cutoff := now.Add(-m.config.WindowDuration)
	ringSize := int64(len(m.ring))
	for m.durWin.start < m.seq {
		s := m.ring[m.durWin.start%ringSize]
		if !s.Timestamp.Before(cutoff) {
			break
		}
		m.durWin.drop(s)
		m.durWin.start++
	}
}

// SampleCount returns the number of samples currently retained.
func (m *Monitor) SampleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// windowLocked returns the metrics window: all samples within the window
// duration, or the most recent WindowSamples, whichever yields more data.
// Samples are returned oldest-first.
func (m *Monitor) windowLocked() []Sample {
	all := make([]Sample, 0, m.count)
	start := m.next - m.count
	if start < 0 {
		start += len(m.ring)
	}
	for i := 0; i < m.count; i++ {
		all = append(all, m.ring[(start+i)%len(m.ring)])
	}

	cutoff := time.Now().Add(-m.config.WindowDuration)
	inDuration := 0
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Timestamp.Before(cutoff) {
			break
		}
		inDuration++
	}

	n := m.config.WindowSamples
	if inDuration > n {
		n = inDuration
	}
	if n > len(all) {
		n = len(all)
	}
	return all[len(all)-n:]
}

// Metrics computes the current window aggregates.
func (m *Monitor) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metricsLocked()
}

func (m *Monitor) metricsLocked() Metrics {
	window := m.windowLocked()
	if len(window) == 0 {
		return Metrics{Trend: TrendInsufficientData}
	}

	durations := make([]float64, len(window))
	successes := 0
	var sum float64
	for i, s := range window {
		durations[i] = s.DurationMs
		sum += s.DurationMs
		if s.Success {
			successes++
		}
	}
	sort.Float64s(durations)

	span := window[len(window)-1].Timestamp.Sub(window[0].Timestamp)
	throughput := float64(len(window)) // single burst: report count per minute floor
	if span > time.Second {
		throughput = float64(len(window)) / span.Minutes()
	}

	return Metrics{
		SampleCount:         len(window),
		SuccessRatePercent:  100 * float64(successes) / float64(len(window)),
		AvgMs:               sum / float64(len(window)),
		P50Ms:               percentile(durations, 0.50),
		P95Ms:               percentile(durations, 0.95),
		P99Ms:               percentile(durations, 0.99),
		ThroughputOpsPerMin: throughput,
		Trend:               m.trendLocked(window),
	}
}

// percentile returns the exact nearest-rank percentile of sorted values.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(q*float64(len(sorted))+0.999999) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// trendLocked splits the window in two halves and compares mean latency.
func (m *Monitor) trendLocked(window []Sample) Trend {
	if len(window) < 2*m.config.WindowSamples/3 {
		return TrendInsufficientData
	}

	half := len(window) / 2
	earlier, later := window[:half], window[half:]

	meanOf := func(samples []Sample) float64 {
		var sum float64
		for _, s := range samples {
			sum += s.DurationMs
		}
		return sum / float64(len(samples))
	}

	earlyMean, lateMean := meanOf(earlier), meanOf(later)
	if earlyMean == 0 {
		return TrendStable
	}

	deltaPercent := 100 * (lateMean - earlyMean) / earlyMean
	switch {
	case deltaPercent >= m.config.TrendThresholdPercent:
		return TrendDegrading
	case deltaPercent <= -m.config.TrendThresholdPercent:
		return TrendImproving
	default:
		return TrendStable
	}
}

// CheckSLACompliance evaluates the configured SLA over the current window.
func (m *Monitor) CheckSLACompliance() SLACompliance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.complianceLocked(time.Now())
}

func (m *Monitor) complianceLocked(now time.Time) SLACompliance {
	m.evictExpiredLocked(now)

	compliance := SLACompliance{ResponseTimeCompliant: true, SuccessRateCompliant: true, OverallCompliant: true}

	// The SLA window is whichever running window holds more samples:
	// everything inside WindowDuration, or the last WindowSamples.
	agg, n := m.cntWin, m.cntWin.size(m.seq)
	if d := m.durWin.size(m.seq); d > n {
		agg, n = m.durWin, d
	}
	if n == 0 {
		return compliance
	}

	compliance.AvgResponseMs = agg.sumMs / float64(n)
	compliance.SuccessRatePercent = 100 * float64(agg.successes) / float64(n)

	if m.config.SLA.ResponseTimeMs > 0 {
		compliance.ResponseTimeCompliant = compliance.AvgResponseMs <= m.config.SLA.ResponseTimeMs
	}
	if m.config.SLA.MinSuccessRatePercent > 0 {
		compliance.SuccessRateCompliant = compliance.SuccessRatePercent >= m.config.SLA.MinSuccessRatePercent
	}
	compliance.OverallCompliant = compliance.ResponseTimeCompliant && compliance.SuccessRateCompliant
	return compliance
}

// evaluateSLAEdgesLocked emits alerts on compliance transitions only.
func (m *Monitor) evaluateSLAEdgesLocked(now time.Time) {
	if m.config.SLA.ResponseTimeMs == 0 && m.config.SLA.MinSuccessRatePercent == 0 {
		return
	}

	compliance := m.complianceLocked(now)
	wasOK := m.responseTimeOK && m.successRateOK

	if m.everEvaluated {
		if m.responseTimeOK && !compliance.ResponseTimeCompliant {
			m.pushAlertLocked(Alert{
				Type: AlertSLAViolation, Metric: "response_time",
				Message: "average response time exceeds SLA", Timestamp: now,
			})
		}
		if m.successRateOK && !compliance.SuccessRateCompliant {
			m.pushAlertLocked(Alert{
				Type: AlertSLAViolation, Metric: "success_rate",
				Message: "success rate below SLA", Timestamp: now,
			})
		}
		if !wasOK && compliance.OverallCompliant {
			m.pushAlertLocked(Alert{
				Type: AlertRecovery, Message: "SLA compliance restored", Timestamp: now,
			})
		}
	} else if !compliance.ResponseTimeCompliant {
		m.pushAlertLocked(Alert{
			Type: AlertSLAViolation, Metric: "response_time",
			Message: "average response time exceeds SLA", Timestamp: now,
		})
	} else if !compliance.SuccessRateCompliant {
		m.pushAlertLocked(Alert{
			Type: AlertSLAViolation, Metric: "success_rate",
			Message: "success rate below SLA", Timestamp: now,
		})
	}

	m.responseTimeOK = compliance.ResponseTimeCompliant
	m.successRateOK = compliance.SuccessRateCompliant
	m.everEvaluated = true
}

func (m *Monitor) pushAlertLocked(alert Alert) {
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > maxRecentAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxRecentAlerts:]
	}
	m.alertCounts[alert.Type]++
}

// Alerts returns a copy of recent alerts and the per-type counts.
func (m *Monitor) Alerts() ([]Alert, map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alerts := make([]Alert, len(m.alerts))
	copy(alerts, m.alerts)
	counts := make(map[string]int, len(m.alertCounts))
	for k, v := range m.alertCounts {
		counts[k] = v
	}
	return alerts, counts
}

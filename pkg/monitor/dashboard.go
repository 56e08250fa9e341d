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
package monitor

import (
	"fmt"
	"time"
)

// degradationFactor is how far p95 must exceed the baseline before a
// degradation alert fires.
const degradationFactor = 1.5

// Dashboard is the full health snapshot served by the agent HTTP surface.
type Dashboard struct {
	PerformanceSummary PerformanceSummary `json:"performance_summary"`
	SLA                SLASummary         `json:"sla"`
	Alerts             AlertSummary       `json:"alerts"`
	Recommendations    []string           `json:"recommendations"`
	GeneratedAt        time.Time          `json:"generated_at"`
}

// PerformanceSummary pairs current window metrics with trend analysis.
type PerformanceSummary struct {
	Current       Metrics       `json:"current"`
	TrendAnalysis TrendAnalysis `json:"trend_analysis"`
}

// TrendAnalysis describes latency movement relative to the baseline p95.
type TrendAnalysis struct {
	Trend       Trend   `json:"trend"`
	BaselineP95 float64 `json:"baseline_p95_ms"`
	CurrentP95  float64 `json:"current_p95_ms"`
}

// SLASummary embeds the compliance verdict and the configured targets.
type SLASummary struct {
	Config     SLAConfig     `json:"config"`
	Compliance SLACompliance `json:"compliance"`
}

// AlertSummary lists recent alerts with running per-type counts.
type AlertSummary struct {
	Recent []Alert        `json:"recent"`
	Counts map[string]int `json:"counts"`
}

// Dashboard builds the health snapshot. Degradation alerts are evaluated
// here because they need percentiles, which recording keeps off its path.
func (m *Monitor) Dashboard() Dashboard {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.metricsLocked()
	compliance := m.complianceLocked(time.Now())
	m.evaluateDegradationLocked(metrics)

	recent := make([]Alert, len(m.alerts))
	copy(recent, m.alerts)
	counts := make(map[string]int, len(m.alertCounts))
	for k, v := range m.alertCounts {
		counts[k] = v
	}

	return Dashboard{
		PerformanceSummary: PerformanceSummary{
			Current: metrics,
			TrendAnalysis: TrendAnalysis{
				Trend:       metrics.Trend,
				BaselineP95: m.baselineP95,
				CurrentP95:  metrics.P95Ms,
			},
		},
		SLA: SLASummary{
			Config:     m.config.SLA,
			Compliance: compliance,
		},
		Alerts: AlertSummary{Recent: recent, Counts: counts},
		Recommendations: recommend(metrics, compliance, m.degradationOn),
		GeneratedAt:     time.Now(),
	}
}

// evaluateDegradationLocked fires performance_degradation on the rising edge
// of (trend degrading && p95 > baseline*factor) and a recovery alert when
// the condition clears. The first stable window seeds the baseline.
func (m *Monitor) evaluateDegradationLocked(metrics Metrics) {
	if metrics.SampleCount == 0 {
		return
	}
	if m.baselineP95 == 0 {
		if metrics.Trend == TrendInsufficientData {
			return
		}
		m.baselineP95 = metrics.P95Ms
		return
	}

	degraded := metrics.Trend == TrendDegrading && metrics.P95Ms > m.baselineP95*degradationFactor
	if degraded && !m.degradationOn {
		m.pushAlertLocked(Alert{
			Type:   AlertPerformanceDegradation,
			Metric: "p95_ms",
			Message: fmt.Sprintf("p95 latency %.0fms exceeds baseline %.0fms by more than %.0f%%",
				metrics.P95Ms, m.baselineP95, (degradationFactor-1)*100),
			Timestamp: time.Now(),
		})
	}
	if !degraded && m.degradationOn {
		m.pushAlertLocked(Alert{
			Type:      AlertRecovery,
			Message:   "p95 latency back within baseline range",
			Timestamp: time.Now(),
		})
	}
	m.degradationOn = degraded
}

// recommend derives deterministic operator guidance from the current state.
func recommend(metrics Metrics, compliance SLACompliance, degraded bool) []string {
	var recs []string
	if !compliance.ResponseTimeCompliant {
		recs = append(recs, "response time is over SLA: profile slow capability handlers or raise the SLA target")
	}
	if !compliance.SuccessRateCompliant {
		recs = append(recs, "success rate is under SLA: inspect recent handler errors and upstream availability")
	}
	if degraded {
		recs = append(recs, "latency is trending up: check the local model endpoint and background sync load")
	}
	if metrics.Trend == TrendInsufficientData {
		recs = append(recs, "not enough samples yet for trend analysis")
	}
	if len(recs) == 0 {
		recs = append(recs, "performance is nominal")
	}
	return recs
}

// Package metrics counts capture sessions, applied settings and frame
// outcomes. The CLI is short-lived, so metrics are exported once at exit to a
// node_exporter textfile instead of being scraped.
package metrics

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/httprunner/CaptureAgent/pkg/acquire"
)

const namespace = "captureagent"

// Metrics holds one registry of session collectors.
type Metrics struct {
	registry *prometheus.Registry

	sessions        *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	devices         *prometheus.GaugeVec
	settings        *prometheus.CounterVec
	frames          *prometheus.CounterVec
	frameDuration   prometheus.Histogram
}

var _ acquire.FrameRecorder = (*Metrics)(nil)

// New registers the capture collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Capture sessions grouped by result.",
		}, []string{"result"}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of a capture session.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Devices of the last session grouped by final outcome.",
		}, []string{"outcome"}),
		settings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settings_total",
			Help:      "Feature writes grouped by setting and result.",
		}, []string{"setting", "result"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Retrieved frames grouped by device and outcome.",
		}, []string{"serial", "outcome"}),
		frameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_duration_seconds",
			Help:      "Time from retrieval request to release of a frame.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.sessions, m.sessionDuration, m.devices, m.settings, m.frames, m.frameDuration)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveSession counts a finished session.
func (m *Metrics) ObserveSession(ok bool, d time.Duration) {
	m.sessions.WithLabelValues(resultLabel(ok)).Inc()
	m.sessionDuration.Observe(d.Seconds())
}

// SetDevices records how many devices ended with outcome.
func (m *Metrics) SetDevices(outcome string, n int) {
	m.devices.WithLabelValues(outcome).Set(float64(n))
}

// ObserveSetting counts one feature write. Skipped settings are counted
// separately from failures.
func (m *Metrics) ObserveSetting(name string, skipped bool, err error) {
	result := resultLabel(err == nil)
	if skipped {
		result = "skipped"
	}
	m.settings.WithLabelValues(name, result).Inc()
}

// RecordFrame counts a frame outcome.
func (m *Metrics) RecordFrame(_ context.Context, rec acquire.FrameRecord) error {
	m.frames.WithLabelValues(rec.Serial, string(rec.Outcome)).Inc()
	if rec.Outcome != acquire.OutcomeRetrievalFailed {
		m.frameDuration.Observe(rec.Duration.Seconds())
	}
	return nil
}

// WriteTextfile writes the registry in the Prometheus text format, atomically
// replacing path.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrapf(err, "metrics: write %s failed", path)
	}
	return nil
}

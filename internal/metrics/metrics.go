// Package metrics exports prometheus collectors for workflow runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the service records into.
type Metrics struct {
	// Webhook deliveries by event and result
	WebhooksTotal *prometheus.CounterVec

	// Workflow runs
	WorkflowsTotal      *prometheus.CounterVec
	TransitionsTotal    *prometheus.CounterVec
	FilesTotal          *prometheus.CounterVec
	FileStageDuration   prometheus.Histogram
	MachinesTotal       *prometheus.CounterVec
	ArtifactWritesTotal *prometheus.CounterVec
}

// New registers the collectors on reg under namespace.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WebhooksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhooks_total",
				Help:      "Webhook deliveries by event and result",
			},
			[]string{"event", "result"},
		),
		WorkflowsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_total",
				Help:      "Workflow runs that reached a terminal state",
			},
			[]string{"state"},
		),
		TransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_transitions_total",
				Help:      "Committed workflow transitions by target state",
			},
			[]string{"state"},
		),
		FilesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_total",
				Help:      "Processed files by result",
			},
			[]string{"result"},
		),
		FileStageDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "file_stage_duration_seconds",
				Help:      "Duration of one per-file stage",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		MachinesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "machines_total",
				Help:      "Extracted machine definitions by outcome",
			},
			[]string{"outcome"},
		),
		ArtifactWritesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_writes_total",
				Help:      "Artifact store writes by result (stored, reused, error)",
			},
			[]string{"result"},
		),
	}
}

// NewUnregistered returns collectors bound to a private registry. Handy for
// tests and one-shot commands.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry(), "machine_sentry")
}

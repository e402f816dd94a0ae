package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric.
const Namespace = "vision2ui"

// Prometheus turns events into counters, histograms and gauges.
type Prometheus struct {
	messagesTotal  *prometheus.CounterVec
	apiDuration    *prometheus.HistogramVec
	serverEvents   *prometheus.CounterVec
	activeSessions prometheus.Gauge
	themeChanges   prometheus.Counter
}

// NewPrometheus registers the bridge metrics with registry.
func NewPrometheus(registry prometheus.Registerer) *Prometheus {
	factory := promauto.With(registry)
	return &Prometheus{
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_total",
			Help:      "Panel messages handled by the host",
		}, []string{"command", "outcome"}),
		apiDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Duration of component service calls made for apiRequest messages",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
		serverEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "server_events_total",
			Help:      "Component service lifecycle events by type",
		}, []string{"event"}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_panels",
			Help:      "Panels currently attached to the host",
		}),
		themeChanges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "theme_changes_total",
			Help:      "Theme changes propagated to panels",
		}),
	}
}

// Emit implements Telemetry.
func (p *Prometheus) Emit(event Event) {
	switch event.Type {
	case EventMessage:
		p.messagesTotal.WithLabelValues(event.Command, outcomeLabel(event.Outcome)).Inc()
	case EventAPIRequest:
		p.apiDuration.WithLabelValues(event.Command, outcomeLabel(event.Outcome)).Observe(event.Duration.Seconds())
	case EventServer:
		p.serverEvents.WithLabelValues(event.Command).Inc()
	case EventPanelAttach:
		p.activeSessions.Inc()
	case EventPanelDetach:
		p.activeSessions.Dec()
	case EventThemeChanged:
		p.themeChanges.Inc()
	}
}

func outcomeLabel(outcome string) string {
	if outcome == "" {
		return OutcomeOK
	}
	return outcome
}

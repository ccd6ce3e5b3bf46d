package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	signin "github.com/goliatone/go-signin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "signin"

// PrometheusSink turns activity events into Prometheus metrics. It
// implements signin.ActivitySink.
type PrometheusSink struct {
	events         *prometheus.CounterVec
	attempts       *prometheus.CounterVec
	attemptSeconds prometheus.Histogram
	remoteCalls    *prometheus.CounterVec
	signedIn       prometheus.Gauge

	gatherer prometheus.Gatherer

	mu      sync.Mutex
	started map[string]time.Time
}

// NewPrometheusSink registers the collectors on reg. A nil reg uses a new
// private registry.
func NewPrometheusSink(reg *prometheus.Registry, namespace string) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_events_total",
			Help:      "Session activity events by type.",
		}, []string{"event"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Completed sign in attempts by outcome.",
		}, []string{"outcome"}),
		attemptSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Time from sign in start to result.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Remote function calls by function and outcome.",
		}, []string{"function", "outcome"}),
		signedIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signed_in",
			Help:      "1 while a user is signed in.",
		}),
		gatherer: reg,
		started:  map[string]time.Time{},
	}

	for _, c := range []prometheus.Collector{s.events, s.attempts, s.attemptSeconds, s.remoteCalls, s.signedIn} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register collector: %w", err)
		}
	}

	return s, nil
}

var _ signin.ActivitySink = (*PrometheusSink)(nil)

// Record implements signin.ActivitySink.
func (s *PrometheusSink) Record(_ context.Context, event signin.ActivityEvent) error {
	s.events.WithLabelValues(string(event.EventType)).Inc()

	switch event.EventType {
	case signin.ActivityEventSignInStarted:
		s.markStarted(event)
	case signin.ActivityEventSignInSucceeded:
		s.attempts.WithLabelValues("success").Inc()
		s.observeDuration(event)
		s.signedIn.Set(1)
	case signin.ActivityEventSignInFailed:
		s.attempts.WithLabelValues("failure").Inc()
		s.observeDuration(event)
	case signin.ActivityEventSessionRestored:
		s.signedIn.Set(1)
	case signin.ActivityEventSignOut:
		s.signedIn.Set(0)
	case signin.ActivityEventRemoteCall:
		function, _ := event.Metadata["function"].(string)
		outcome, _ := event.Metadata["outcome"].(string)
		if outcome == "" {
			outcome = "unknown"
		}
		s.remoteCalls.WithLabelValues(function, outcome).Inc()
	}

	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

func (s *PrometheusSink) markStarted(event signin.ActivityEvent) {
	if event.AttemptID == "" {
		return
	}
	at := event.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	s.mu.Lock()
	s.started[event.AttemptID] = at
	s.mu.Unlock()
}

func (s *PrometheusSink) observeDuration(event signin.ActivityEvent) {
	s.mu.Lock()
	start, ok := s.started[event.AttemptID]
	delete(s.started, event.AttemptID)
	s.mu.Unlock()
	if !ok {
		return
	}

	end := event.OccurredAt
	if end.IsZero() {
		end = time.Now()
	}
	s.attemptSeconds.Observe(end.Sub(start).Seconds())
}

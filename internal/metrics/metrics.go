// Package metrics exports bridge lifecycle events as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"tokenbridge/internal/bridge"
)

var (
	streamsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokenbridge",
			Subsystem: "stream",
			Name:      "started_total",
			Help:      "Streams handed to the engine",
		},
	)

	streamsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokenbridge",
			Subsystem: "stream",
			Name:      "finished_total",
			Help:      "Streams by terminal outcome",
		},
		[]string{"outcome"},
	)

	streamsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokenbridge",
			Subsystem: "stream",
			Name:      "rejected_total",
			Help:      "Streams the engine refused to start",
		},
	)

	tokensStreamed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokenbridge",
			Subsystem: "stream",
			Name:      "completion_tokens_total",
			Help:      "Completion tokens of completed streams",
		},
	)

	timeToFirstToken = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tokenbridge",
			Subsystem: "stream",
			Name:      "time_to_first_token_seconds",
			Help:      "Time from start to the first token callback",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	tokensPerSecond = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tokenbridge",
			Subsystem: "stream",
			Name:      "tokens_per_second",
			Help:      "Generation throughput of completed streams",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	bridgeFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokenbridge",
			Subsystem: "bridge",
			Name:      "faults_total",
			Help:      "Engine contract violations and thread attach failures",
		},
		[]string{"fault"},
	)
)

func init() {
	prometheus.MustRegister(streamsStarted, streamsFinished, streamsRejected, tokensStreamed,
		timeToFirstToken, tokensPerSecond, bridgeFaults)
}

// Publisher turns lifecycle events into metric updates. Every update is a
// lock-free atomic, so it is fine on the native thread.
type Publisher struct{}

func (Publisher) Publish(e bridge.LifecycleEvent) {
	switch e.Name {
	case bridge.EventGenerationStarted:
		streamsStarted.Inc()
	case bridge.EventGenerationRejected:
		streamsRejected.Inc()
	case bridge.EventFirstToken:
		if ms, ok := e.Fields["ttft_ms"].(int64); ok {
			timeToFirstToken.Observe(float64(ms) / 1000)
		}
	case bridge.EventGenerationCompleted:
		streamsFinished.WithLabelValues("completed").Inc()
		if n, ok := e.Fields["completion_tokens"].(int); ok {
			tokensStreamed.Add(float64(n))
		}
		if tps, ok := e.Fields["tokens_per_second"].(float64); ok && tps > 0 {
			tokensPerSecond.Observe(tps)
		}
	case bridge.EventGenerationFailed:
		streamsFinished.WithLabelValues("failed").Inc()
	case bridge.EventGenerationCancelled:
		streamsFinished.WithLabelValues("cancelled").Inc()
	case bridge.EventContractViolation:
		bridgeFaults.WithLabelValues("contract_violation").Inc()
	case bridge.EventAttachFailed:
		bridgeFaults.WithLabelValues("attach_failed").Inc()
	}
}

var _ bridge.EventPublisher = Publisher{}

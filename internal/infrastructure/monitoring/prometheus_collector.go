package monitoring

import (
	"context"
	"time"

	"lobbysignal/internal/core/domain"
	"lobbysignal/internal/core/services"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements the relay, presence and rate-limit metric
// hooks.
type PrometheusCollector struct {
	messagesPosted  *prometheus.CounterVec
	messagesDrained prometheus.Counter
	lobbySections   prometheus.Gauge
	queuedMessages  prometheus.Gauge
	queueRecipients prometheus.Gauge

	presenceNotifications *prometheus.CounterVec
	rateLimited           *prometheus.CounterVec
	peerEvents            *prometheus.CounterVec
}

// NewPrometheusCollector registers the collectors with reg, or with the
// default registry when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		messagesPosted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lobbysignal_signaling_messages_posted_total",
			Help: "Signaling messages queued on the relay",
		}, []string{"type"}),

		messagesDrained: factory.NewCounter(prometheus.CounterOpts{
			Name: "lobbysignal_signaling_messages_drained_total",
			Help: "Signaling messages delivered through mailbox drains",
		}),

		lobbySections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lobbysignal_relay_lobbies",
			Help: "Lobbies with at least one queued recipient",
		}),

		queuedMessages: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lobbysignal_relay_queued_messages",
			Help: "Messages waiting to be drained",
		}),

		queueRecipients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lobbysignal_relay_recipients",
			Help: "Recipients with a non-empty mailbox",
		}),

		presenceNotifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lobbysignal_presence_notifications_total",
			Help: "Presence messages fanned out to lobby members",
		}, []string{"kind"}),

		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lobbysignal_http_rate_limited_total",
			Help: "HTTP requests rejected by the rate limiter",
		}, []string{"reason"}),

		peerEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lobbysignal_peer_events_total",
			Help: "Peer events observed by a peer process",
		}, []string{"kind"}),
	}
}

var (
	_ services.RelayMetrics    = (*PrometheusCollector)(nil)
	_ services.PresenceMetrics = (*PrometheusCollector)(nil)
)

func (p *PrometheusCollector) MessagePosted(msgType domain.MessageType) {
	p.messagesPosted.WithLabelValues(string(msgType)).Inc()
}

func (p *PrometheusCollector) MessagesDrained(count int) {
	p.messagesDrained.Add(float64(count))
}

func (p *PrometheusCollector) LobbySectionsChanged(delta int) {
	p.lobbySections.Add(float64(delta))
}

func (p *PrometheusCollector) PresenceFanout(kind domain.MessageType, recipients int) {
	p.presenceNotifications.WithLabelValues(string(kind)).Add(float64(recipients))
}

func (p *PrometheusCollector) RateLimited(reason string) {
	p.rateLimited.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordPeerEvent(event domain.PeerEvent) {
	p.peerEvents.WithLabelValues(string(event.Kind)).Inc()
}

// ObserveRelay sets the relay gauges from stats.
func (p *PrometheusCollector) ObserveRelay(stats services.RelayStats) {
	p.queuedMessages.Set(float64(stats.QueuedMessages))
	p.queueRecipients.Set(float64(stats.Recipients))
}

// StartRelaySampler copies relay queue depth into the gauges every interval
// until ctx is done.
func (p *PrometheusCollector) StartRelaySampler(ctx context.Context, relay *services.MailboxRelay, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.ObserveRelay(relay.Stats())
			}
		}
	}()
}

package monitoring

import (
	"context"
	"time"

	"p2prelay/internal/core/domain"
	"p2prelay/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// PrometheusCollector implements ports.TransitionRecorder and samples
// registry sizes.
type PrometheusCollector struct {
	sessionsActive prometheus.Gauge
	groupsActive   prometheus.Gauge
	groupMembers   *prometheus.GaugeVec

	transitionsTotal *prometheus.CounterVec
	completionsTotal *prometheus.CounterVec
	remoteEvents     *prometheus.CounterVec
	sampleDuration   prometheus.Histogram
}

func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "p2prelay_sessions_active",
			Help: "Number of live sessions",
		}),

		groupsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "p2prelay_groups_active",
			Help: "Number of live P2P groups",
		}),

		groupMembers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "p2prelay_group_members",
			Help: "Number of members in each P2P group",
		}, []string{"group_id"}),

		transitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "p2prelay_protocol_transitions_total",
			Help: "Protocol events by outcome",
		}, []string{"event", "result", "reason"}),

		completionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "p2prelay_pair_completions_total",
			Help: "Pairwise stage completions (recycle, direct establish, JIT)",
		}, []string{"event"}),

		remoteEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "p2prelay_remote_events_total",
			Help: "Group lifecycle events received from other instances",
		}, []string{"type"}),

		sampleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "p2prelay_registry_sample_duration_seconds",
			Help:    "Time spent sampling session and group registries",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
	}
}

func (p *PrometheusCollector) RecordTransition(event string, t domain.Transition) {
	p.transitionsTotal.WithLabelValues(event, t.Result.String(), t.Reason).Inc()
	if t.Completed() {
		p.completionsTotal.WithLabelValues(event).Inc()
	}
}

// RecordRemoteEvent counts an event published by another instance.
func (p *PrometheusCollector) RecordRemoteEvent(eventType string) {
	p.remoteEvents.WithLabelValues(eventType).Inc()
}

// Sample refreshes the registry gauges.
func (p *PrometheusCollector) Sample(ctx context.Context, sessions ports.SessionRepository, groups ports.GroupRepository) error {
	start := time.Now()
	defer func() { p.sampleDuration.Observe(time.Since(start).Seconds()) }()

	p.sessionsActive.Set(float64(sessions.Count(ctx)))

	list, err := groups.List(ctx)
	if err != nil {
		return err
	}
	p.groupsActive.Set(float64(len(list)))

	p.groupMembers.Reset()
	for _, g := range list {
		p.groupMembers.WithLabelValues(string(g.ID)).Set(float64(g.Len()))
	}
	return nil
}

// RunSampler calls Sample every interval until ctx is done.
func (p *PrometheusCollector) RunSampler(
	ctx context.Context,
	sessions ports.SessionRepository,
	groups ports.GroupRepository,
	interval time.Duration,
	logger *zap.SugaredLogger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Sample(ctx, sessions, groups); err != nil {
				logger.Warnw("failed to sample registries", "error", err)
			}
		}
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Outcomes          *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	ChallengesIssued  prometheus.Counter
	ChallengesResumed prometheus.Counter
	ResultsPurged     prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "skern_verification_outcomes_total",
			Help: "Terminal verification outcomes by outcome and reason code",
		}, []string{"outcome", "reason"}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skern_verification_stage_duration_seconds",
			Help:    "Pipeline stage latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		ChallengesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "skern_verification_challenges_issued_total",
			Help: "Total verification runs suspended for a challenge",
		}),
		ChallengesResumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "skern_verification_challenges_resumed_total",
			Help: "Total challenge resume attempts processed",
		}),
		ResultsPurged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "skern_verification_results_purged_total",
			Help: "Total verification results deleted by the retention purge",
		}),
	}
}

func (m *Metrics) RecordOutcome(outcome, reason string) {
	m.Outcomes.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) IncrementChallengesIssued()  { m.ChallengesIssued.Inc() }
func (m *Metrics) IncrementChallengesResumed() { m.ChallengesResumed.Inc() }
func (m *Metrics) AddResultsPurged(n int)      { m.ResultsPurged.Add(float64(n)) }

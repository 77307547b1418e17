package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the engine counters. A nil *Metrics is a valid no-op.
type Metrics struct {
	sessionsStarted  *prometheus.CounterVec
	sessionsFinished *prometheus.CounterVec
	rounds           *prometheus.CounterVec
	providerAttempts *prometheus.CounterVec
	answers          prometheus.Counter
	challengeRewards prometheus.Counter
}

// New registers the engine counters on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_sessions_started_total",
				Help: "Quiz sessions started",
			},
			[]string{"mode"},
		),
		sessionsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_sessions_finished_total",
				Help: "Quiz sessions finished by outcome",
			},
			[]string{"mode", "outcome"},
		),
		rounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_rounds_total",
				Help: "Rounds played or skipped",
			},
			[]string{"mode", "result"},
		),
		providerAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_provider_attempts_total",
				Help: "Question generation attempts per model",
			},
			[]string{"model", "outcome"},
		),
		answers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_answers_collected_total",
			Help: "Valid answers collected",
		}),
		challengeRewards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_challenge_rewards_total",
			Help: "Daily challenge rewards credited",
		}),
	}
	reg.MustRegister(
		m.sessionsStarted,
		m.sessionsFinished,
		m.rounds,
		m.providerAttempts,
		m.answers,
		m.challengeRewards,
	)
	return m
}

func (m *Metrics) SessionStarted(mode string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(mode).Inc()
}

func (m *Metrics) SessionFinished(mode, outcome string) {
	if m == nil {
		return
	}
	m.sessionsFinished.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) RoundPlayed(mode string) {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues(mode, "played").Inc()
}

func (m *Metrics) RoundSkipped(mode string) {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues(mode, "skipped").Inc()
}

func (m *Metrics) ProviderAttempt(model, outcome string) {
	if m == nil {
		return
	}
	m.providerAttempts.WithLabelValues(model, outcome).Inc()
}

func (m *Metrics) AnswersCollected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.answers.Add(float64(n))
}

func (m *Metrics) ChallengeRewarded() {
	if m == nil {
		return
	}
	m.challengeRewards.Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

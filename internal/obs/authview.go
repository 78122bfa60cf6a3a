package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	resolutionPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dws_authview_resolution_passes_total",
			Help: "Authorization view-model resolution passes by trigger and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	profileSyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dws_authview_profile_read_seconds",
			Help:    "Latency of the profile read during a resolution pass.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	profileWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dws_authview_profile_upserts_total",
			Help: "Profile upserts issued by resolution passes.",
		},
		[]string{"outcome"},
	)

	emailUpgrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dws_authview_email_upgrades_total",
			Help: "Best-effort synthetic email upgrade attempts.",
		},
		[]string{"outcome"},
	)

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dws_authview_login_attempts_total",
			Help: "Interactive login attempts by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	tokenRevocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dws_auth_token_revocations_total",
			Help: "Server-side logout revocations.",
		},
		[]string{"outcome"},
	)
)

// ObserveResolution counts a finished resolution pass.
func ObserveResolution(trigger, outcome string) {
	resolutionPasses.WithLabelValues(trigger, outcome).Inc()
}

// ObserveProfileRead records profile read latency.
func ObserveProfileRead(outcome string, d time.Duration) {
	profileSyncDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveProfileUpsert counts an upsert outcome.
func ObserveProfileUpsert(outcome string) {
	profileWrites.WithLabelValues(outcome).Inc()
}

// ObserveEmailUpgrade counts an email upgrade outcome.
func ObserveEmailUpgrade(outcome string) {
	emailUpgrades.WithLabelValues(outcome).Inc()
}

// ObserveLogin counts a login attempt.
func ObserveLogin(method, outcome string) {
	loginAttempts.WithLabelValues(method, outcome).Inc()
}

// ObserveRevocation counts a logout revocation outcome.
func ObserveRevocation(outcome string) {
	tokenRevocations.WithLabelValues(outcome).Inc()
}

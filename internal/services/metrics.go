package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the pull-protocol hot paths. Registered on the default
// registry and exposed by the /metrics endpoint in cmd/server.
var (
	pollsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "borgerpc_instruction_polls_total",
		Help: "Number of get_instructions polls served to activated PCs.",
	})

	jobsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "borgerpc_jobs_dispatched_total",
		Help: "Number of jobs flipped NEW to SUBMITTED and handed to a PC.",
	})

	securityEventsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "borgerpc_security_events_accepted_total",
		Help: "Number of security event lines stored.",
	})

	securityEventsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "borgerpc_security_events_rejected_total",
		Help: "Number of security event lines skipped (malformed, unknown rule, or cross-site).",
	})

	citizenLogins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "borgerpc_citizen_logins_total",
		Help: "Citizen login attempts by outcome (allowed, denied, quarantined).",
	}, []string{"outcome"})
)

func recordLoginOutcome(timeAllowed int) {
	switch {
	case timeAllowed > 0:
		citizenLogins.WithLabelValues("allowed").Inc()
	case timeAllowed < 0:
		citizenLogins.WithLabelValues("quarantined").Inc()
	default:
		citizenLogins.WithLabelValues("denied").Inc()
	}
}

// Package metrics exposes Prometheus counters for auth outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Auth holds counters for the authentication flows.
type Auth struct {
	Registrations  prometheus.Counter
	Logins         *prometheus.CounterVec
	Lockouts       prometheus.Counter
	TokenRotations *prometheus.CounterVec
	PasswordResets *prometheus.CounterVec
}

// Login result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultLocked  = "locked"
	ResultRevoked = "revoked"
)

// NewAuth registers the auth counters on the given registerer. Pass
// prometheus.DefaultRegisterer in production.
func NewAuth(reg prometheus.Registerer) *Auth {
	factory := promauto.With(reg)

	return &Auth{
		Registrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "auth_registrations_total",
			Help: "Total number of successful account registrations.",
		}),
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Total number of login attempts by result.",
		}, []string{"result"}),
		Lockouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "auth_lockouts_total",
			Help: "Total number of accounts locked by repeated failures.",
		}),
		TokenRotations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_token_rotations_total",
			Help: "Total number of refresh token rotations by result.",
		}, []string{"result"}),
		PasswordResets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_password_resets_total",
			Help: "Total number of password reset completions by result.",
		}, []string{"result"}),
	}
}

// Package metrics defines the Prometheus instrumentation shared by
// the SMTP edge components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts counts SMTP authentication attempts by mechanism
	// and outcome.
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smtp_auth_attempts_total",
		Help: "SMTP authentication attempts by mechanism and result.",
	}, []string{"mechanism", "result"})

	// OAuth2Validations counts bearer-token validations by provider
	// and outcome.
	OAuth2Validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth2_validations_total",
		Help: "OAuth2 token validations by provider and result.",
	}, []string{"provider", "result"})

	// ARCOperations counts ARC signing and verification operations.
	ARCOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arc_operations_total",
		Help: "ARC signing and verification operations by result.",
	}, []string{"op", "result"})
)

// Package metrics declares the Prometheus collectors of the auth server.
// They register with the default registry, which /metrics exposes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

var (
	// LoginAttemptsTotal counts sign-in attempts by method (password, phone,
	// google) and outcome.
	LoginAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waterauth_login_attempts_total",
		Help: "The total number of login attempts",
	}, []string{"method", "status"})

	RegistrationAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waterauth_registration_attempts_total",
		Help: "The total number of registration attempts",
	}, []string{"method", "status"})

	TokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waterauth_token_refresh_total",
		Help: "The total number of refresh token exchanges",
	}, []string{"status"})

	OtpIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waterauth_otp_issued_total",
		Help: "The total number of one-time codes issued",
	}, []string{"purpose"})

	// OtpValidationsTotal result is one of accepted, rejected, exhausted, missing.
	OtpValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waterauth_otp_validations_total",
		Help: "The total number of one-time code validations",
	}, []string{"purpose", "result"})

	SessionsRevokedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waterauth_sessions_revoked_total",
		Help: "The total number of revoked login sessions",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waterauth_http_requests_total",
		Help: "The total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "waterauth_http_request_duration_seconds",
		Help:    "The HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	GRPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waterauth_grpc_requests_total",
		Help: "The total number of gRPC requests",
	}, []string{"method", "code"})

	// RetentionRowsTotal counts archived and deleted rows by kind (otp, session).
	RetentionRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waterauth_retention_rows_total",
		Help: "The total number of expired rows removed by the retention sweep",
	}, []string{"kind"})
)

// Status maps an error to the status label used by the counters above.
func Status(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}

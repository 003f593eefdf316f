package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registra eventos de autenticacion; lo consume la capa de servicio.
type Collector interface {
	RecordLogin(method string, success bool)
	RecordTokenIssued(kind string)
	RecordTokenConsumed(kind string, result string)
	RecordSessionIssued()
}

// PromCollector es la implementacion Prometheus de Collector.
type PromCollector struct {
	logins         *prometheus.CounterVec
	tokensIssued   *prometheus.CounterVec
	tokensConsumed *prometheus.CounterVec
	sessionsIssued prometheus.Counter
}

// NewPromCollector crea el collector y registra sus metricas en el registry
// dado.
func NewPromCollector(reg prometheus.Registerer) *PromCollector {
	c := &PromCollector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Intentos de login por metodo y resultado",
		}, []string{"method", "outcome"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_onetime_tokens_issued_total",
			Help: "Tokens de un solo uso emitidos por tipo",
		}, []string{"kind"}),
		tokensConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_onetime_tokens_consumed_total",
			Help: "Tokens de un solo uso consumidos por tipo y resultado",
		}, []string{"kind", "result"}),
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_sessions_issued_total",
			Help: "Pares de sesion emitidos",
		}),
	}
	reg.MustRegister(c.logins, c.tokensIssued, c.tokensConsumed, c.sessionsIssued)
	return c
}

func (c *PromCollector) RecordLogin(method string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.logins.WithLabelValues(method, outcome).Inc()
}

func (c *PromCollector) RecordTokenIssued(kind string) {
	c.tokensIssued.WithLabelValues(kind).Inc()
}

func (c *PromCollector) RecordTokenConsumed(kind string, result string) {
	c.tokensConsumed.WithLabelValues(kind, result).Inc()
}

func (c *PromCollector) RecordSessionIssued() {
	c.sessionsIssued.Inc()
}

// NoopCollector descarta todos los eventos; util en tests.
type NoopCollector struct{}

func (NoopCollector) RecordLogin(string, bool)           {}
func (NoopCollector) RecordTokenIssued(string)           {}
func (NoopCollector) RecordTokenConsumed(string, string) {}
func (NoopCollector) RecordSessionIssued()               {}

// Handler expone las metricas del registry en formato Prometheus.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

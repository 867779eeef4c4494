// Package metrics exports Prometheus counters and gauges for pairing
// attempts, tunnel bring-ups, and registry size. cmd/remotexpc-pair and
// cmd/remotexpc-tunnel construct one behind a -metrics-listen flag and
// serve Handler() over HTTP when it's set.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	labelStatus = "status"

	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics bundles the collectors for one process. Each instance owns its
// own registry so tests can create independent Metrics values without
// tripping Prometheus's double-registration panic.
type Metrics struct {
	registry *prometheus.Registry

	PairingAttemptsTotal  *prometheus.CounterVec
	TunnelBringupsTotal   *prometheus.CounterVec
	ServiceStartsTotal    *prometheus.CounterVec
	RegistrySize          prometheus.Gauge
}

// New constructs a Metrics bound to a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PairingAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotexpc_pairing_attempts_total",
				Help: "Total number of Pair-Setup/Pair-Verify attempts",
			},
			[]string{labelStatus},
		),
		TunnelBringupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotexpc_tunnel_bringups_total",
				Help: "Total number of CoreDeviceProxy tunnel bring-up attempts",
			},
			[]string{labelStatus},
		),
		ServiceStartsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotexpc_service_starts_total",
				Help: "Total number of lockdown StartService requests",
			},
			[]string{labelStatus},
		),
		RegistrySize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "remotexpc_tunnel_registry_size",
				Help: "Current number of entries in the tunnel registry",
			},
		),
	}
}

// Handler returns the HTTP handler serving this Metrics' registry in
// Prometheus exposition format, for wiring behind a -metrics-listen flag.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

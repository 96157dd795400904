package server

import (
	"math/big"
	"net/http"
	"time"

	"faucetrelay/internal/ledger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry      *prometheus.Registry
	claimsTotal   *prometheus.CounterVec
	claimDuration prometheus.Histogram
	paidOutEther  prometheus.Counter
	relayBalance  prometheus.Gauge
	rpcHealthy    prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	claims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "faucet_claims_total",
		Help: "Claim requests by outcome",
	}, []string{"outcome"})

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "faucet_claim_duration_seconds",
		Help:    "Time spent handling a claim, including node round trips",
		Buckets: prometheus.DefBuckets,
	})

	paidOut := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "faucet_paid_out_ether_total",
		Help: "Ether sent by accepted claims",
	})

	balance := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faucet_relay_balance_ether",
		Help: "Relay wallet balance at the last health check",
	})

	healthy := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faucet_rpc_healthy",
		Help: "1 if the last health check reached the node",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(claims, duration, paidOut, balance, healthy)

	return &metricsRegistry{
		registry:      r,
		claimsTotal:   claims,
		claimDuration: duration,
		paidOutEther:  paidOut,
		relayBalance:  balance,
		rpcHealthy:    healthy,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incClaim(outcome string) {
	m.claimsTotal.WithLabelValues(outcome).Inc()
}

func (m *metricsRegistry) observeClaim(d time.Duration) {
	m.claimDuration.Observe(d.Seconds())
}

func (m *metricsRegistry) addPaidOut(wei *big.Int) {
	m.paidOutEther.Add(ledger.EtherFloat(wei))
}

func (m *metricsRegistry) setRelayBalance(wei *big.Int) {
	m.relayBalance.Set(ledger.EtherFloat(wei))
}

func (m *metricsRegistry) setHealthy(ok bool) {
	if ok {
		m.rpcHealthy.Set(1)
		return
	}
	m.rpcHealthy.Set(0)
}

package musiclink

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK   = "ok"
	outcomeFail = "fail"
	resultHit   = "hit"
	resultMiss  = "miss"
)

// Metrics collects resolution statistics.
type Metrics struct {
	CacheLookups     *prometheus.CounterVec
	Resolutions      *prometheus.CounterVec
	UpstreamRequests *prometheus.CounterVec
	CacheClears      prometheus.Counter
}

// NewMetrics creates the resolution metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "songspotlight_cache_lookups_total",
				Help: "Total number of resolution cache lookups",
			},
			[]string{"op", "result"},
		),
		Resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "songspotlight_resolutions_total",
				Help: "Total number of uncached resolutions",
			},
			[]string{"op", "service", "outcome"},
		),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "songspotlight_upstream_requests_total",
				Help: "Total number of requests made to music providers",
			},
			[]string{"host", "code"},
		),
		CacheClears: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "songspotlight_cache_clears_total",
				Help: "Total number of full cache clears",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.CacheLookups,
			m.Resolutions,
			m.UpstreamRequests,
			m.CacheClears,
		)
	}

	return m
}

func (m *Metrics) recordLookup(op string, hit bool) {
	if m == nil {
		return
	}
	result := resultMiss
	if hit {
		result = resultHit
	}
	m.CacheLookups.WithLabelValues(op, result).Inc()
}

func (m *Metrics) recordResolution(op, service string, ok bool) {
	if m == nil {
		return
	}
	outcome := outcomeFail
	if ok {
		outcome = outcomeOK
	}
	m.Resolutions.WithLabelValues(op, service, outcome).Inc()
}

func (m *Metrics) recordUpstream(host string, status int) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status/100) + "xx"
	}
	m.UpstreamRequests.WithLabelValues(host, code).Inc()
}

func (m *Metrics) recordClear() {
	if m == nil {
		return
	}
	m.CacheClears.Inc()
}

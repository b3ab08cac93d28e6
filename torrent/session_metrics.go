package torrent

import (
	"time"

	"github.com/drizzle-bt/drizzle/internal/bandwidth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rcrowley/go-metrics"
)

type sessionMetrics struct {
	registry metrics.Registry

	Uptime          metrics.Gauge
	Torrents        metrics.Gauge
	ActiveDownloads metrics.Gauge
	Peers           metrics.Counter
	WritesActive    metrics.Gauge
	WritesPending   metrics.Gauge
	VerifiesActive  metrics.Gauge
	VerifiesPending metrics.Gauge
	EventsDropped   metrics.Gauge
	LimitDownload   metrics.Gauge
	LimitUpload     metrics.Gauge
	PiecesVerified  metrics.Counter
	PiecesFailed    metrics.Counter
	SpeedDownload   metrics.Meter
	SpeedUpload     metrics.Meter
	SpeedWrite      metrics.Meter
}

func (s *Session) initMetrics() {
	r := metrics.NewRegistry()
	s.metrics = &sessionMetrics{
		registry: r,

		Uptime: metrics.NewRegisteredFunctionalGauge("uptime", r, func() int64 { return int64(time.Since(s.createdAt) / time.Second) }),
		Torrents: metrics.NewRegisteredFunctionalGauge("torrents", r, func() int64 {
			s.m.RLock()
			defer s.m.RUnlock()
			return int64(len(s.torrents))
		}),
		ActiveDownloads: metrics.NewRegisteredFunctionalGauge("active_downloads", r, func() int64 { return int64(s.activeDownloads()) }),
		Peers: metrics.NewRegisteredCounter("peers", r),

		WritesActive:    metrics.NewRegisteredFunctionalGauge("writes_active", r, func() int64 { return int64(s.semWrite.Len()) }),
		WritesPending:   metrics.NewRegisteredFunctionalGauge("writes_pending", r, func() int64 { return int64(s.semWrite.Waiting()) }),
		VerifiesActive:  metrics.NewRegisteredFunctionalGauge("verifies_active", r, func() int64 { return int64(s.semVerify.Len()) }),
		VerifiesPending: metrics.NewRegisteredFunctionalGauge("verifies_pending", r, func() int64 { return int64(s.semVerify.Waiting()) }),
		EventsDropped:   metrics.NewRegisteredFunctionalGauge("events_dropped", r, func() int64 { return s.events.Dropped() }),
		LimitDownload:   metrics.NewRegisteredFunctionalGauge("limit_download", r, func() int64 { return s.bandwidth.Limit(bandwidth.Download) }),
		LimitUpload:     metrics.NewRegisteredFunctionalGauge("limit_upload", r, func() int64 { return s.bandwidth.Limit(bandwidth.Upload) }),

		PiecesVerified: metrics.NewRegisteredCounter("pieces_verified", r),
		PiecesFailed:   metrics.NewRegisteredCounter("pieces_failed", r),

		SpeedDownload: metrics.NewRegisteredMeter("speed_download", r),
		SpeedUpload:   metrics.NewRegisteredMeter("speed_upload", r),
		SpeedWrite:    metrics.NewRegisteredMeter("speed_write", r),
	}
}

func (m *sessionMetrics) Close() {
	m.SpeedDownload.Stop()
	m.SpeedUpload.Stop()
	m.SpeedWrite.Stop()
}

// metricsCollector exports the session registry to Prometheus. Meters are exported as their one-minute rate.
type metricsCollector struct {
	registry metrics.Registry
}

var _ prometheus.Collector = (*metricsCollector)(nil)

// Describe sends nothing. The set of metrics is only known while collecting.
func (c *metricsCollector) Describe(chan<- *prometheus.Desc) {}

func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.registry.Each(func(name string, i interface{}) {
		var value float64
		valueType := prometheus.GaugeValue
		switch m := i.(type) {
		case metrics.Gauge:
			value = float64(m.Value())
		case metrics.Counter:
			value = float64(m.Count())
		case metrics.Meter:
			value = m.Rate1()
			name += "_per_second"
		default:
			return
		}
		desc := prometheus.NewDesc(prometheus.BuildFQName("drizzle", "session", name), "Session metric "+name+".", nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, valueType, value)
	})
}

// Package metrics exposes scanner counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is what the scan pipeline calls. A no-op implementation backs
// deployments that run without the API server.
type Recorder interface {
	ScanStarted()
	ScanFinished(outcome string, duration time.Duration)
	AccountScanned(ok bool)
	PostsScored(n int)
	ViralFound(kind string)
	NotificationSent()
	NotificationDeduped()
	NotificationFailed()
}

// Provider is the live Prometheus-backed Recorder. It registers its
// collectors on a private registry so it can be constructed freely in tests.
type Provider struct {
	registry *prometheus.Registry

	scansTotal         *prometheus.CounterVec
	scanDuration       prometheus.Histogram
	scansInFlight      prometheus.Gauge
	accountsScanned    *prometheus.CounterVec
	postsScored        prometheus.Counter
	viralFound         *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
}

func New() *Provider {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Provider{
		registry: reg,
		scansTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "viralscan_scans_total",
			Help: "Completed scan runs by outcome",
		}, []string{"outcome"}),
		scanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "viralscan_scan_duration_seconds",
			Help:    "Duration of a full scan run in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		scansInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "viralscan_scans_in_flight",
			Help: "1 while a scan run is active",
		}),
		accountsScanned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "viralscan_accounts_scanned_total",
			Help: "Accounts processed during scans by fetch result",
		}, []string{"result"}),
		postsScored: factory.NewCounter(prometheus.CounterOpts{
			Name: "viralscan_posts_scored_total",
			Help: "Posts evaluated by the virality scorer",
		}),
		viralFound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "viralscan_viral_posts_total",
			Help: "Posts classified as viral by content kind",
		}, []string{"kind"}),
		notificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "viralscan_notifications_total",
			Help: "Notification dispatch outcomes",
		}, []string{"outcome"}),
	}
}

// Registry returns the registry to mount under /metrics.
func (p *Provider) Registry() *prometheus.Registry { return p.registry }

func (p *Provider) ScanStarted() { p.scansInFlight.Inc() }

func (p *Provider) ScanFinished(outcome string, duration time.Duration) {
	p.scansInFlight.Dec()
	p.scansTotal.WithLabelValues(outcome).Inc()
	p.scanDuration.Observe(duration.Seconds())
}

func (p *Provider) AccountScanned(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	p.accountsScanned.WithLabelValues(result).Inc()
}

func (p *Provider) PostsScored(n int) { p.postsScored.Add(float64(n)) }

func (p *Provider) ViralFound(kind string) { p.viralFound.WithLabelValues(kind).Inc() }

func (p *Provider) NotificationSent()    { p.notificationsTotal.WithLabelValues("sent").Inc() }
func (p *Provider) NotificationDeduped() { p.notificationsTotal.WithLabelValues("deduped").Inc() }
func (p *Provider) NotificationFailed()  { p.notificationsTotal.WithLabelValues("failed").Inc() }

// Nop returns a Recorder that discards everything.
func Nop() Recorder { return nopRecorder{} }

type nopRecorder struct{}

func (nopRecorder) ScanStarted()                       {}
func (nopRecorder) ScanFinished(string, time.Duration) {}
func (nopRecorder) AccountScanned(bool)                {}
func (nopRecorder) PostsScored(int)                    {}
func (nopRecorder) ViralFound(string)                  {}
func (nopRecorder) NotificationSent()                  {}
func (nopRecorder) NotificationDeduped()               {}
func (nopRecorder) NotificationFailed()                {}

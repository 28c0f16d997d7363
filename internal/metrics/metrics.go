package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FreeProject089/PortManager/internal/utils"
)

const namespace = "portmanager"

// Metrics 使用独立的 registry，避免测试之间重复注册
type Metrics struct {
	registry *prometheus.Registry

	Snapshots        prometheus.Counter
	Records          *prometheus.GaugeVec
	Suspicious       prometheus.Gauge
	NewPortAlerts    prometheus.Counter
	HostsProbed      prometheus.Counter
	HostsOnline      prometheus.Counter
	ActiveListeners  prometheus.Gauge
	SnapshotDuration prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Number of connection table snapshots taken.",
		}),
		Records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Records in the latest snapshot by protocol.",
		}, []string{"protocol"}),
		Suspicious: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "suspicious_connections",
			Help:      "Suspicious records in the latest snapshot.",
		}),
		NewPortAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "new_port_alerts_total",
			Help:      "NEW_PORT events written to the journal.",
		}),
		HostsProbed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_hosts_probed_total",
			Help:      "Addresses checked for liveness.",
		}),
		HostsOnline: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_hosts_online_total",
			Help:      "Addresses found online.",
		}),
		ActiveListeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_listeners",
			Help:      "Listeners opened by this process.",
		}),
		SnapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_duration_seconds",
			Help:      "Time spent in one enumerate and enrich cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}

	m.registry.MustRegister(
		m.Snapshots,
		m.Records,
		m.Suspicious,
		m.NewPortAlerts,
		m.HostsProbed,
		m.HostsOnline,
		m.ActiveListeners,
		m.SnapshotDuration,
	)
	return m
}

// ObserveHost 供扫描器回调使用
func (m *Metrics) ObserveHost(addr string, online bool) {
	m.HostsProbed.Inc()
	if online {
		m.HostsOnline.Inc()
	}
}

func (m *Metrics) SetActiveListeners(n int) {
	m.ActiveListeners.Set(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve 在 addr 上提供 /metrics，ctx 取消时关闭
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	utils.NewLogger("metrics").Info("指标服务监听 %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

package monitor

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FreeProject089/PortManager/internal/classifier"
	"github.com/FreeProject089/PortManager/internal/detector"
	"github.com/FreeProject089/PortManager/internal/enrich"
	"github.com/FreeProject089/PortManager/internal/metrics"
	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/utils"
)

type SnapshotSource interface {
	GetSnapshot(ctx context.Context) model.Snapshot
}

type ProcessEnricher interface {
	Enrich(ctx context.Context, rec *model.ConnectionRecord)
}

type HostnameCache interface {
	Hostname(addr string) string
}

type ServiceIdentifier interface {
	Identify(ctx context.Context, host string, port int) string
}

type ReachabilityChecker interface {
	CheckPort(ctx context.Context, port int) (bool, string)
}

// Journal 新端口和可疑连接告警的去重写入
type Journal interface {
	LogNewPort(key model.Key) bool
	LogSuspicious(port int, application, reason string) bool
}

type Deps struct {
	Source       SnapshotSource
	Processes    ProcessEnricher
	DNS          HostnameCache
	Services     ServiceIdentifier
	Reachability ReachabilityChecker
	Journal      Journal
	Metrics      *metrics.Metrics
}

type Options struct {
	Interval         time.Duration
	NewPortAlerts    bool
	SuspiciousAlerts bool
}

// 外部可达性结果
const (
	ExternalOpen   = "OPEN"
	ExternalClosed = "CLOSED"
)

// Monitor 周期性枚举连接表，富化、分类并检测新端口
type Monitor struct {
	deps     Deps
	interval time.Duration
	detector *detector.Detector

	services *enrich.ResultCache
	external *enrich.ResultCache

	suspiciousAlerts atomic.Bool
	inFlight         atomic.Bool

	mu     sync.RWMutex
	latest model.Snapshot

	// OnSnapshot 每轮结束后在后台协程中调用
	OnSnapshot func(model.Snapshot)

	logger *utils.Logger
}

func New(deps Deps, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	var sink detector.Sink
	if deps.Journal != nil {
		sink = deps.Journal
	}
	m := &Monitor{
		deps:     deps,
		interval: opts.Interval,
		detector: detector.New(sink, opts.NewPortAlerts),
		services: enrich.NewResultCache(),
		external: enrich.NewResultCache(),
		logger:   utils.NewLogger("monitor"),
	}
	m.suspiciousAlerts.Store(opts.SuspiciousAlerts)
	return m
}

func (m *Monitor) SetNewPortAlerts(v bool) {
	m.detector.SetAlertsEnabled(v)
}

func (m *Monitor) SetSuspiciousAlerts(v bool) {
	m.suspiciousAlerts.Store(v)
}

// Run 按固定周期触发采集，上一轮未结束时跳过本次，直到 ctx 取消
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Trigger(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Trigger(ctx)
		}
	}
}

// Trigger 在后台启动一轮采集，已有一轮在进行时返回 false
func (m *Monitor) Trigger(ctx context.Context) bool {
	if !m.inFlight.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer m.inFlight.Store(false)
		m.Cycle(ctx)
	}()
	return true
}

// Cycle 同步执行一轮: 枚举、富化、分类、排序、变更检测、告警、发布
func (m *Monitor) Cycle(ctx context.Context) model.Snapshot {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("采集过程发生异常: %v", r)
		}
	}()

	start := time.Now()
	snap := m.deps.Source.GetSnapshot(ctx)

	if p, ok := m.deps.Processes.(interface{ Prune() }); ok {
		p.Prune()
	}

	for i := range snap {
		r := &snap[i]
		if m.deps.Processes != nil {
			m.deps.Processes.Enrich(ctx, r)
		}
		classifier.Apply(r)

		if v, ok := m.services.Get(r.CacheKey()); ok {
			r.ServiceName = v
		}
		if v, ok := m.external.Get(r.CacheKey()); ok {
			r.ExternalStatus = v
		}
		if m.deps.DNS != nil {
			r.RemoteHostname = m.deps.DNS.Hostname(r.RemoteAddress)
		} else {
			r.RemoteHostname = model.HostnameNone
		}
	}

	snap.SortForDisplay()

	_, alerted := m.detector.Observe(snap)
	if len(alerted) > 0 {
		m.logger.Info("发现 %d 个新端口", len(alerted))
	}

	if m.suspiciousAlerts.Load() && m.deps.Journal != nil {
		for _, r := range snap {
			if r.Suspicious {
				m.deps.Journal.LogSuspicious(r.LocalPort, r.ProcessName, r.SuspiciousReason)
			}
		}
	}

	m.record(snap, len(alerted), time.Since(start))

	m.mu.Lock()
	m.latest = snap
	m.mu.Unlock()

	if m.OnSnapshot != nil {
		m.OnSnapshot(snap)
	}
	return snap
}

func (m *Monitor) record(snap model.Snapshot, alerted int, elapsed time.Duration) {
	mt := m.deps.Metrics
	if mt == nil {
		return
	}
	var tcp, udp int
	for _, r := range snap {
		if r.Protocol == model.TCP {
			tcp++
		} else {
			udp++
		}
	}
	mt.Snapshots.Inc()
	mt.Records.WithLabelValues(string(model.TCP)).Set(float64(tcp))
	mt.Records.WithLabelValues(string(model.UDP)).Set(float64(udp))
	mt.Suspicious.Set(float64(snap.SuspiciousCount()))
	mt.NewPortAlerts.Add(float64(alerted))
	mt.SnapshotDuration.Observe(elapsed.Seconds())
}

// Latest 最近一次发布的快照副本
func (m *Monitor) Latest() model.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(model.Snapshot, len(m.latest))
	copy(out, m.latest)
	return out
}

// IdentifyService 识别记录对应的服务，结果按 端口:协议:pid 缓存
func (m *Monitor) IdentifyService(ctx context.Context, rec model.ConnectionRecord) string {
	result := model.ServiceByPort(rec.LocalPort)
	if rec.Protocol == model.TCP && m.deps.Services != nil {
		result = m.deps.Services.Identify(ctx, identifyHost(rec.LocalAddress), rec.LocalPort)
	}
	m.services.Set(rec.CacheKey(), result)
	return result
}

// TestExternal 检测端口能否从外网访问，返回 OPEN/CLOSED 和说明
func (m *Monitor) TestExternal(ctx context.Context, rec model.ConnectionRecord) (string, string) {
	if m.deps.Reachability == nil {
		return ExternalClosed, "reachability checker not configured"
	}
	open, msg := m.deps.Reachability.CheckPort(ctx, rec.LocalPort)
	status := ExternalClosed
	if open {
		status = ExternalOpen
	}
	m.external.Set(rec.CacheKey(), status)
	return status, msg
}

func identifyHost(local string) string {
	switch local {
	case "", "0.0.0.0", "::", "*":
		return "127.0.0.1"
	}
	return local
}

// Filter 按端口、进程名、远端地址或主机名过滤，不区分大小写
func Filter(snap model.Snapshot, text string) model.Snapshot {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return snap
	}

	var out model.Snapshot
	for _, r := range snap {
		if strings.Contains(strconv.Itoa(r.LocalPort), text) ||
			strings.Contains(strings.ToLower(r.ProcessName), text) ||
			strings.Contains(strings.ToLower(r.RemoteAddress), text) ||
			strings.Contains(strings.ToLower(r.RemoteHostname), text) {
			out = append(out, r)
		}
	}
	return out
}

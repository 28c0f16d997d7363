package cli

import (
	"github.com/FreeProject089/PortManager/internal/config"
	"github.com/FreeProject089/PortManager/internal/enrich"
	"github.com/FreeProject089/PortManager/internal/firewall"
	"github.com/FreeProject089/PortManager/internal/journal"
	"github.com/FreeProject089/PortManager/internal/listener"
	"github.com/FreeProject089/PortManager/internal/metrics"
	"github.com/FreeProject089/PortManager/internal/monitor"
	"github.com/FreeProject089/PortManager/internal/process"
	"github.com/FreeProject089/PortManager/internal/scanner"
	"github.com/FreeProject089/PortManager/internal/sockets"
	"github.com/FreeProject089/PortManager/internal/store"
	"github.com/FreeProject089/PortManager/internal/upnp"
	"github.com/FreeProject089/PortManager/internal/utils"
)

// app 根据配置组装各个组件，每个命令只创建自己用到的部分
type app struct {
	cfg     *config.AppConfig
	logger  *utils.Logger
	metrics *metrics.Metrics
	journal *journal.Journal
	store   *store.Store
}

func newApp(cfg *config.AppConfig) *app {
	return &app{
		cfg:     cfg,
		logger:  utils.NewLogger("main"),
		metrics: metrics.New(),
	}
}

// Journal 数据库可用时用它保存已读时间
func (a *app) Journal() *journal.Journal {
	if a.journal == nil {
		a.journal = journal.Open(a.cfg.Journal.Path, a.cfg.Journal.Capacity)
		if st, err := a.Store(); err == nil {
			a.journal.UseSeenStore(st)
		} else {
			a.logger.Warn("数据库不可用，日志已读状态不会保存: %v", err)
		}
	}
	return a.journal
}

// Store 命令之间共享一个连接，由 Close 关闭
func (a *app) Store() (*store.Store, error) {
	if a.store == nil {
		st, err := store.Open(a.cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		a.store = st
	}
	return a.store, nil
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func (a *app) Killer() *process.Killer {
	return process.NewKiller(a.Journal())
}

func (a *app) PTRResolver() *enrich.PTRResolver {
	return enrich.NewPTRResolver(a.cfg.Enrich.DNSServer, a.cfg.Enrich.DNSTimeout)
}

func (a *app) Fingerprinter() *enrich.Fingerprinter {
	return enrich.NewFingerprinter(a.cfg.Enrich.ConnectTimeout, a.cfg.Enrich.ReadTimeout)
}

func (a *app) Reachability() *enrich.Reachability {
	r := enrich.NewReachability(a.cfg.Enrich.HTTPTimeout, a.cfg.Enrich.SelfConnectTimeout)
	if len(a.cfg.Enrich.PublicIPURLs) > 0 {
		r.PublicIPURLs = a.cfg.Enrich.PublicIPURLs
	}
	if a.cfg.Enrich.PortCheckURL != "" {
		r.PortCheckURL = a.cfg.Enrich.PortCheckURL
	}
	return r
}

func (a *app) Scanner() *scanner.Scanner {
	sc := a.cfg.Scanner
	s := scanner.NewScanner(scanner.Config{
		HostWorkers:  sc.HostWorkers,
		ChunkSize:    sc.ChunkSize,
		PingTimeout:  sc.PingTimeout,
		ProbeTimeout: sc.ProbeTimeout,
		PortTimeout:  sc.PortTimeout,
	}, scanner.NewICMPPinger(), nil, a.PTRResolver())
	s.OnHostProbed = a.metrics.ObserveHost
	return s
}

func (a *app) Listeners() *listener.Manager {
	m := listener.NewManager(firewall.New(), upnp.NewManager(a.cfg.Upnp.DiscoveryTimeout), a.Journal())
	m.OnChange = a.metrics.SetActiveListeners
	return m
}

// Monitor 返回监视器和它使用的 DNS 缓存
func (a *app) Monitor() (*monitor.Monitor, *enrich.DNSCache) {
	dns := enrich.NewDNSCache(a.PTRResolver(), a.cfg.Enrich.DNSRate, a.cfg.Enrich.DNSTimeout)
	m := monitor.New(monitor.Deps{
		Source:       sockets.NewReader(),
		Processes:    process.NewEnricher(process.NewPsutilLookup(), a.cfg.Monitor.ProcessCacheTTL),
		DNS:          dns,
		Services:     a.Fingerprinter(),
		Reachability: a.Reachability(),
		Journal:      a.Journal(),
		Metrics:      a.metrics,
	}, monitor.Options{
		Interval:         a.cfg.Monitor.Interval,
		NewPortAlerts:    a.cfg.Monitor.NewPortAlerts,
		SuspiciousAlerts: a.cfg.Monitor.SuspiciousAlerts,
	})
	return m, dns
}

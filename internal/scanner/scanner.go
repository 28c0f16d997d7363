package scanner

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/utils"
)

// DialFunc 与 net.Dialer.DialContext 签名一致
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Pinger 发送一次 ICMP echo，收到应答返回 true
type Pinger interface {
	Ping(ctx context.Context, addr string, timeout time.Duration) bool
}

// Resolver 反向解析主机名
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) (string, error)
}

type Config struct {
	HostWorkers  int
	ChunkSize    int
	PingTimeout  time.Duration
	ProbeTimeout time.Duration
	PortTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		HostWorkers:  254,
		ChunkSize:    20,
		PingTimeout:  500 * time.Millisecond,
		ProbeTimeout: 200 * time.Millisecond,
		PortTimeout:  300 * time.Millisecond,
	}
}

type Scanner struct {
	cfg      Config
	pinger   Pinger
	dial     DialFunc
	resolver Resolver
	logger   *utils.Logger

	// OnHostProbed 每个候选地址完成存活检测后调用
	OnHostProbed func(addr string, online bool)
}

func NewScanner(cfg Config, pinger Pinger, dial DialFunc, resolver Resolver) *Scanner {
	def := DefaultConfig()
	if cfg.HostWorkers <= 0 {
		cfg.HostWorkers = def.HostWorkers
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.PortTimeout <= 0 {
		cfg.PortTimeout = def.PortTimeout
	}
	if dial == nil {
		dialer := &net.Dialer{}
		dial = dialer.DialContext
	}
	return &Scanner{
		cfg:      cfg,
		pinger:   pinger,
		dial:     dial,
		resolver: resolver,
		logger:   utils.NewLogger("scanner"),
	}
}

// Liveness 先 ping，失败后依次尝试连接 135/445/80
func (s *Scanner) Liveness(ctx context.Context, addr string) string {
	if s.pinger != nil && s.pinger.Ping(ctx, addr, s.cfg.PingTimeout) {
		return model.StatusOnline
	}
	for _, port := range model.LivenessProbePorts {
		if s.portOpen(ctx, addr, port, s.cfg.ProbeTimeout) {
			return model.StatusOnlineNoPing
		}
	}
	return model.StatusOffline
}

func (s *Scanner) hostname(ctx context.Context, addr string) string {
	if s.resolver == nil {
		return model.HostnameUnknown
	}
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	name, err := s.resolver.LookupAddr(rctx, addr)
	if err != nil || name == "" {
		return model.HostnameUnknown
	}
	return name
}

// scanHost 对单个地址做存活检测和端口扫描，force 为 true 时离线也扫描端口
func (s *Scanner) scanHost(ctx context.Context, addr string, ports []int, force bool) (model.Device, bool) {
	device := model.Device{
		Address:  addr,
		Hostname: model.HostnameUnknown,
		Status:   s.Liveness(ctx, addr),
	}
	online := device.Status != model.StatusOffline

	if s.OnHostProbed != nil {
		s.OnHostProbed(addr, online)
	}

	if online {
		device.Hostname = s.hostname(ctx, addr)
	}
	if online || force {
		device.OpenPorts = s.ScanPorts(ctx, addr, ports)
	}

	return device, online || len(device.OpenPorts) > 0
}

// ScanSubnet 扫描 /24 子网中 .1 到 .254 的所有地址
func (s *Scanner) ScanSubnet(ctx context.Context, prefix string) (*model.ScanResult, error) {
	subnet, err := NormalizePrefix(prefix)
	if err != nil {
		return nil, err
	}

	result := &model.ScanResult{
		Target:    subnet.String(),
		StartedAt: time.Now(),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	pool, err := ants.NewPoolWithFunc(s.cfg.HostWorkers, func(item interface{}) {
		defer wg.Done()
		addr := item.(netip.Addr).String()
		device, keep := s.scanHost(ctx, addr, model.BasicPorts, false)
		if !keep {
			return
		}
		mu.Lock()
		result.Devices = append(result.Devices, device)
		mu.Unlock()
	})
	if err != nil {
		return nil, fmt.Errorf("创建扫描协程池失败: %w", err)
	}
	defer pool.Release()

	hosts := hostAddrs(subnet)
	s.logger.Info("开始扫描 %s (%d 个地址, 并发 %d)", subnet, len(hosts), s.cfg.HostWorkers)

	for _, addr := range hosts {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		if err := pool.Invoke(addr); err != nil {
			wg.Done()
			s.logger.Warn("提交扫描任务失败 %s: %v", addr, err)
		}
	}
	wg.Wait()

	sortDevices(result.Devices)
	result.Elapsed = time.Since(result.StartedAt)
	s.logger.Info("扫描完成: 发现 %d 台设备, 用时 %s", len(result.Devices), result.Elapsed.Round(time.Millisecond))

	return result, nil
}

// ScanSingleDevice 扫描单个主机的常用端口列表
func (s *Scanner) ScanSingleDevice(ctx context.Context, addr string, fullScan bool) (*model.ScanResult, error) {
	return s.ScanDevicePorts(ctx, addr, model.Top100Ports, fullScan)
}

// ScanDevicePorts 扫描单个主机的指定端口
func (s *Scanner) ScanDevicePorts(ctx context.Context, addr string, ports []int, fullScan bool) (*model.ScanResult, error) {
	ip, err := netip.ParseAddr(addr)
	if err != nil || !ip.Is4() {
		return nil, fmt.Errorf("无效的 IPv4 地址: %s", addr)
	}

	result := &model.ScanResult{
		Target:    ip.String(),
		FullScan:  fullScan,
		StartedAt: time.Now(),
	}

	device, keep := s.scanHost(ctx, ip.String(), ports, fullScan)
	if keep {
		result.Devices = append(result.Devices, device)
	}
	result.Elapsed = time.Since(result.StartedAt)

	return result, nil
}

func sortDevices(devices []model.Device) {
	sort.Slice(devices, func(i, j int) bool {
		a, errA := netip.ParseAddr(devices[i].Address)
		b, errB := netip.ParseAddr(devices[j].Address)
		if errA != nil || errB != nil {
			return devices[i].Address < devices[j].Address
		}
		return a.Less(b)
	})
}

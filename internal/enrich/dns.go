package enrich

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/time/rate"

	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/utils"
)

// DNSState 反向解析缓存中地址的状态
type DNSState int

const (
	DNSUnscheduled DNSState = iota
	DNSPending
	DNSResolved
)

// Resolver 把 IP 地址反向解析为主机名
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) (string, error)
}

var errNoPTR = errors.New("no PTR record")

// PTRResolver 直接向 DNS 服务器发 PTR 查询，失败时退回系统解析器
type PTRResolver struct {
	server string
	client *dns.Client
}

// NewPTRResolver server 为空时读取 /etc/resolv.conf，读取失败则只用系统解析器
func NewPTRResolver(server string, timeout time.Duration) *PTRResolver {
	if server == "" {
		if cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(cfg.Servers) > 0 {
			server = net.JoinHostPort(cfg.Servers[0], cfg.Port)
		}
	}
	return &PTRResolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
	}
}

func (r *PTRResolver) LookupAddr(ctx context.Context, addr string) (string, error) {
	if r.server != "" {
		name, err := r.queryPTR(ctx, addr)
		if err == nil {
			return name, nil
		}
	}

	names, err := net.DefaultResolver.LookupAddr(ctx, addr)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", errNoPTR
	}
	return strings.TrimSuffix(names[0], "."), nil
}

func (r *PTRResolver) queryPTR(ctx context.Context, addr string) (string, error) {
	arpa, err := dns.ReverseAddr(addr)
	if err != nil {
		return "", err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return "", err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", errors.New(dns.RcodeToString[resp.Rcode])
	}
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", errNoPTR
}

// DNSCache 远端地址 -> 主机名。地址一旦被调度就不会再次解析，也不会过期。
type DNSCache struct {
	mu      sync.Mutex
	entries map[string]string

	resolver Resolver
	limiter  *rate.Limiter
	timeout  time.Duration
	wg       sync.WaitGroup
	logger   *utils.Logger
}

// NewDNSCache perSecond <= 0 时不限速
func NewDNSCache(resolver Resolver, perSecond int, timeout time.Duration) *DNSCache {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
	}
	return &DNSCache{
		entries:  make(map[string]string),
		resolver: resolver,
		limiter:  limiter,
		timeout:  timeout,
		logger:   utils.NewLogger("dns"),
	}
}

// State 查询地址的解析状态
func (c *DNSCache) State(addr string) (DNSState, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[addr]
	switch {
	case !ok:
		return DNSUnscheduled, ""
	case v == model.HostnameResolving:
		return DNSPending, v
	default:
		return DNSResolved, v
	}
}

// Hostname 返回地址的主机名。本地或空地址返回 "-"；
// 首次出现的地址调度后台解析并返回 "Resolving..."。
func (c *DNSCache) Hostname(addr string) string {
	if !utils.IsResolvableRemote(addr) {
		return model.HostnameNone
	}

	c.mu.Lock()
	if v, ok := c.entries[addr]; ok {
		c.mu.Unlock()
		return v
	}
	c.entries[addr] = model.HostnameResolving
	c.mu.Unlock()

	c.wg.Add(1)
	go c.resolve(addr)
	return model.HostnameResolving
}

func (c *DNSCache) resolve(addr string) {
	defer c.wg.Done()

	// 排队等待不计入解析超时
	if err := c.limiter.Wait(context.Background()); err != nil {
		c.mu.Lock()
		delete(c.entries, addr)
		c.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	name := model.HostnameUnknown
	if host, err := c.resolver.LookupAddr(ctx, addr); err == nil && host != "" {
		name = host
	} else if err != nil {
		c.logger.Debug("反向解析 %s 失败: %v", addr, err)
	}

	c.mu.Lock()
	c.entries[addr] = name
	c.mu.Unlock()
}

// Wait 等待所有进行中的解析结束
func (c *DNSCache) Wait() {
	c.wg.Wait()
}

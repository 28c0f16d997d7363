package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/FreeProject089/PortManager/internal/firewall"
	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/upnp"
	"github.com/FreeProject089/PortManager/internal/utils"
)

var (
	ErrAlreadyActive = errors.New("listener already active")
	ErrPortInUse     = errors.New("port is probably in use. Try 'Forward Only' mode")
)

// Journal 监听器相关事件的记录
type Journal interface {
	LogPortOpened(port int, protocol, application string)
	LogPortClosed(port int, protocol, application string)
	LogFirewall(ruleName, action string)
	LogUpnp(port int, protocol, action string)
}

type Options struct {
	AddFirewallRule bool
	UseUpnp         bool
	ForwardOnly     bool
	// RuleName 为空时使用 model.FirewallRuleName
	RuleName string
}

// StartResult 每个子步骤独立的结果，前面成功的步骤不会因为后面失败而回滚
type StartResult struct {
	Listener    *ActiveListener
	Socket      model.StepOutcome
	Firewall    model.StepOutcome
	Mapping     model.StepOutcome
	FirewallErr error
	MappingErr  error
}

type key struct {
	port  int
	proto model.Protocol
}

type Manager struct {
	mu     sync.Mutex
	active map[key]*ActiveListener
	// pending 正在启动的键，防止同一端口被并发启动两次
	pending map[key]struct{}

	firewall firewall.Manager
	mapper   upnp.Mapper
	journal  Journal
	bindHost string
	logger   *utils.Logger

	// OnChange 活动监听器数量变化时调用
	OnChange func(active int)
}

// NewManager firewall、mapper、journal 都可以为 nil
func NewManager(fw firewall.Manager, mapper upnp.Mapper, journal Journal) *Manager {
	return &Manager{
		active:   make(map[key]*ActiveListener),
		pending:  make(map[key]struct{}),
		firewall: fw,
		mapper:   mapper,
		journal:  journal,
		bindHost: "0.0.0.0",
		logger:   utils.NewLogger("listener"),
	}
}

// Start 依次执行: 绑定端口、添加防火墙规则、创建端口映射。
// 只有绑定失败会中止，返回 ErrPortInUse。
func (m *Manager) Start(ctx context.Context, port int, proto model.Protocol, opts Options) (*StartResult, error) {
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("无效的端口: %d", port)
	}

	k := key{port, proto}
	if !m.reserve(k) {
		return nil, fmt.Errorf("%d/%s: %w", port, proto, ErrAlreadyActive)
	}

	l := &ActiveListener{
		Port:        port,
		Protocol:    proto,
		RuleName:    opts.RuleName,
		ForwardOnly: opts.ForwardOnly,
		StartedAt:   time.Now(),
	}
	if l.RuleName == "" {
		l.RuleName = model.FirewallRuleName(port, proto)
	}
	res := &StartResult{Listener: l}

	if !opts.ForwardOnly {
		if err := l.bind(m.bindHost); err != nil {
			m.release(k)
			m.logger.Warn("绑定 %d/%s 失败: %v", port, proto, err)
			return nil, fmt.Errorf("%d/%s: %w", port, proto, ErrPortInUse)
		}
		res.Socket = model.StepSucceeded
	}

	if opts.AddFirewallRule {
		res.Firewall, res.FirewallErr = m.addFirewallRule(ctx, l)
	}

	if opts.UseUpnp {
		res.Mapping, res.MappingErr = m.createMapping(ctx, l)
	}

	m.mu.Lock()
	m.active[k] = l
	delete(m.pending, k)
	count := len(m.active)
	m.mu.Unlock()

	if m.journal != nil {
		m.journal.LogPortOpened(port, string(proto), "PortManager")
	}
	m.notify(count)

	m.logger.Info("监听器已启动 %d/%s (socket=%s firewall=%s upnp=%s)",
		port, proto, res.Socket, res.Firewall, res.Mapping)
	return res, nil
}

func (m *Manager) reserve(k key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[k]; ok {
		return false
	}
	if _, ok := m.pending[k]; ok {
		return false
	}
	m.pending[k] = struct{}{}
	return true
}

func (m *Manager) release(k key) {
	m.mu.Lock()
	delete(m.pending, k)
	m.mu.Unlock()
}

func (m *Manager) addFirewallRule(ctx context.Context, l *ActiveListener) (model.StepOutcome, error) {
	if m.firewall == nil {
		return model.StepFailed, firewall.ErrUnsupported
	}
	if err := m.firewall.AddRule(ctx, l.RuleName, l.Port, l.Protocol); err != nil {
		m.logger.Warn("添加防火墙规则 %s 失败: %v", l.RuleName, err)
		return model.StepFailed, err
	}
	l.FirewallAdded = true
	if m.journal != nil {
		m.journal.LogFirewall(l.RuleName, "Added")
	}
	return model.StepSucceeded, nil
}

func (m *Manager) createMapping(ctx context.Context, l *ActiveListener) (model.StepOutcome, error) {
	if m.mapper == nil {
		return model.StepFailed, upnp.ErrNoGateway
	}
	desc := "PortManager " + strconv.Itoa(l.Port)
	if err := m.mapper.CreateMapping(ctx, l.Protocol, l.Port, l.Port, desc); err != nil {
		m.logger.Warn("创建端口映射 %d/%s 失败: %v", l.Port, l.Protocol, err)
		return model.StepFailed, err
	}
	l.UpnpMapped = true
	if m.journal != nil {
		m.journal.LogUpnp(l.Port, string(l.Protocol), "Mapped")
	}
	return model.StepSucceeded, nil
}

// StartBoth 同时启动 TCP 和 UDP，规则名带协议后缀
func (m *Manager) StartBoth(ctx context.Context, port int, opts Options) (map[model.Protocol]*StartResult, error) {
	results := make(map[model.Protocol]*StartResult, 2)
	var errs []error
	base := opts.RuleName
	for _, proto := range []model.Protocol{model.TCP, model.UDP} {
		o := opts
		if base != "" {
			o.RuleName = base + "_" + string(proto)
		}
		res, err := m.Start(ctx, port, proto, o)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results[proto] = res
	}
	return results, errors.Join(errs...)
}

// Stop 逆序释放资源，每一步的错误只记录日志
func (m *Manager) Stop(ctx context.Context, port int, proto model.Protocol) bool {
	k := key{port, proto}
	m.mu.Lock()
	l, ok := m.active[k]
	if ok {
		delete(m.active, k)
	}
	count := len(m.active)
	m.mu.Unlock()
	if !ok {
		return false
	}

	l.close()

	if l.FirewallAdded && m.firewall != nil {
		if err := m.firewall.RemoveRule(ctx, l.RuleName, l.Port, l.Protocol); err != nil {
			m.logger.Warn("删除防火墙规则 %s 失败: %v", l.RuleName, err)
		} else if m.journal != nil {
			m.journal.LogFirewall(l.RuleName, "Removed")
		}
	}

	if l.UpnpMapped && m.mapper != nil {
		if err := m.mapper.DeleteMapping(ctx, l.Protocol, l.Port); err != nil {
			m.logger.Warn("删除端口映射 %d/%s 失败: %v", l.Port, l.Protocol, err)
		} else if m.journal != nil {
			m.journal.LogUpnp(l.Port, string(l.Protocol), "Unmapped")
		}
	}

	if m.journal != nil {
		m.journal.LogPortClosed(port, string(proto), "PortManager")
	}
	m.notify(count)
	m.logger.Info("监听器已停止 %d/%s", port, proto)
	return true
}

// StopAll 退出前关闭全部监听器
func (m *Manager) StopAll(ctx context.Context) {
	for _, l := range m.Active() {
		m.Stop(ctx, l.Port, l.Protocol)
	}
}

// CloseAll 只关闭套接字，保留防火墙规则和端口映射，配合 Descriptors 持久化后下次 Restore
func (m *Manager) CloseAll() int {
	m.mu.Lock()
	list := make([]*ActiveListener, 0, len(m.active))
	for k, l := range m.active {
		list = append(list, l)
		delete(m.active, k)
	}
	m.mu.Unlock()

	for _, l := range list {
		l.close()
	}
	m.notify(0)
	return len(list)
}

// Restore 启动时恢复保存的监听器。防火墙规则已经存在，不再添加。
func (m *Manager) Restore(ctx context.Context, descriptors []model.ListenerDescriptor) int {
	return m.startDescriptors(ctx, descriptors, false)
}

// Launch 启动配置集中的监听器，带规则名的条目会添加防火墙规则
func (m *Manager) Launch(ctx context.Context, descriptors []model.ListenerDescriptor) int {
	return m.startDescriptors(ctx, descriptors, true)
}

func (m *Manager) startDescriptors(ctx context.Context, descriptors []model.ListenerDescriptor, addRules bool) int {
	started := 0
	for _, d := range descriptors {
		_, err := m.Start(ctx, d.Port, d.Protocol, Options{
			AddFirewallRule: addRules && d.FirewallRuleName != "",
			UseUpnp:         d.UpnpEnabled,
			ForwardOnly:     d.ForwardOnly,
			RuleName:        d.FirewallRuleName,
		})
		if err != nil {
			m.logger.Warn("启动监听器 %d/%s 失败: %v", d.Port, d.Protocol, err)
			continue
		}
		if !addRules && d.FirewallRuleName != "" {
			m.mu.Lock()
			if l, ok := m.active[key{d.Port, d.Protocol}]; ok {
				l.FirewallAdded = true
			}
			m.mu.Unlock()
		}
		started++
	}
	return started
}

// Active 按端口、协议排序的活动监听器
func (m *Manager) Active() []*ActiveListener {
	m.mu.Lock()
	list := make([]*ActiveListener, 0, len(m.active))
	for _, l := range m.active {
		list = append(list, l)
	}
	m.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Port != list[j].Port {
			return list[i].Port < list[j].Port
		}
		return list[i].Protocol < list[j].Protocol
	})
	return list
}

// Descriptors 供持久化使用
func (m *Manager) Descriptors() []model.ListenerDescriptor {
	active := m.Active()
	out := make([]model.ListenerDescriptor, 0, len(active))
	for _, l := range active {
		out = append(out, l.Descriptor())
	}
	return out
}

func (m *Manager) notify(count int) {
	if m.OnChange != nil {
		m.OnChange(count)
	}
}

// ActiveListener 一个由本程序打开的端口
type ActiveListener struct {
	Port          int
	Protocol      model.Protocol
	RuleName      string
	FirewallAdded bool
	UpnpMapped    bool
	ForwardOnly   bool
	StartedAt     time.Time

	resource io.Closer
	wg       sync.WaitGroup
}

// Bound 是否持有真实的 socket
func (l *ActiveListener) Bound() bool {
	return l.resource != nil
}

// Addr 绑定的本地地址，未绑定时为 nil
func (l *ActiveListener) Addr() net.Addr {
	switch r := l.resource.(type) {
	case net.Listener:
		return r.Addr()
	case net.PacketConn:
		return r.LocalAddr()
	}
	return nil
}

func (l *ActiveListener) Descriptor() model.ListenerDescriptor {
	d := model.ListenerDescriptor{
		Port:        l.Port,
		Protocol:    l.Protocol,
		UpnpEnabled: l.UpnpMapped,
		ForwardOnly: l.ForwardOnly,
	}
	if l.FirewallAdded {
		d.FirewallRuleName = l.RuleName
	}
	return d
}

func (l *ActiveListener) bind(host string) error {
	addr := net.JoinHostPort(host, strconv.Itoa(l.Port))
	switch l.Protocol {
	case model.TCP:
		ln, err := net.Listen("tcp4", addr)
		if err != nil {
			return err
		}
		l.resource = ln
		l.wg.Add(1)
		go l.acceptLoop(ln)
	case model.UDP:
		pc, err := net.ListenPacket("udp4", addr)
		if err != nil {
			return err
		}
		l.resource = pc
		l.wg.Add(1)
		go l.readLoop(pc)
	default:
		return fmt.Errorf("unknown protocol %q", l.Protocol)
	}
	return nil
}

// acceptLoop 接受连接后立即关闭，只为让端口处于监听状态
func (l *ActiveListener) acceptLoop(ln net.Listener) {
	defer l.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}
}

func (l *ActiveListener) readLoop(pc net.PacketConn) {
	defer l.wg.Done()
	buf := make([]byte, 2048)
	for {
		if _, _, err := pc.ReadFrom(buf); err != nil {
			return
		}
	}
}

func (l *ActiveListener) close() {
	if l.resource == nil {
		return
	}
	l.resource.Close()
	l.wg.Wait()
}

package upnp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway2"
	"golang.org/x/sync/singleflight"

	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/utils"
)

var ErrNoGateway = errors.New("未发现支持 UPnP 的网关")

const leaseForever = 0

// Mapper 路由器端口映射
type Mapper interface {
	CreateMapping(ctx context.Context, proto model.Protocol, internalPort, externalPort int, description string) error
	DeleteMapping(ctx context.Context, proto model.Protocol, port int) error
}

// igdClient WANIPConnection1 和 WANPPPConnection1 共有的方法
type igdClient interface {
	AddPortMappingCtx(ctx context.Context, NewRemoteHost string, NewExternalPort uint16, NewProtocol string,
		NewInternalPort uint16, NewInternalClient string, NewEnabled bool,
		NewPortMappingDescription string, NewLeaseDuration uint32) error
	DeletePortMappingCtx(ctx context.Context, NewRemoteHost string, NewExternalPort uint16, NewProtocol string) error
	GetExternalIPAddressCtx(ctx context.Context) (string, error)
}

// Gateway 已发现的网关以及本机在该网段的地址
type Gateway struct {
	client  igdClient
	localIP string
}

type discoverFunc func(ctx context.Context) (*Gateway, error)

// Manager 网关在第一次使用时发现，之后整个进程复用。
// 并发的首次调用只会触发一次发现，发现失败不缓存。
type Manager struct {
	timeout  time.Duration
	discover discoverFunc
	group    singleflight.Group

	mu sync.Mutex
	gw *Gateway

	logger *utils.Logger
}

func NewManager(timeout time.Duration) *Manager {
	return newManager(timeout, discoverIGD)
}

func newManager(timeout time.Duration, discover discoverFunc) *Manager {
	return &Manager{
		timeout:  timeout,
		discover: discover,
		logger:   utils.NewLogger("upnp"),
	}
}

// DiscoverGateway 返回缓存的网关，没有时执行一次发现
func (m *Manager) DiscoverGateway(ctx context.Context) (*Gateway, error) {
	m.mu.Lock()
	gw := m.gw
	m.mu.Unlock()
	if gw != nil {
		return gw, nil
	}

	v, err, _ := m.group.Do("gateway", func() (interface{}, error) {
		dctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		m.logger.Info("正在发现 UPnP 网关...")
		gw, err := m.discover(dctx)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.gw = gw
		m.mu.Unlock()
		m.logger.Info("发现网关, 本机地址 %s", gw.localIP)
		return gw, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Gateway), nil
}

func (m *Manager) CreateMapping(ctx context.Context, proto model.Protocol, internalPort, externalPort int, description string) error {
	gw, err := m.DiscoverGateway(ctx)
	if err != nil {
		return err
	}

	err = gw.client.AddPortMappingCtx(ctx, "", uint16(externalPort), string(proto),
		uint16(internalPort), gw.localIP, true, description, leaseForever)
	if err != nil {
		return fmt.Errorf("创建端口映射 %d/%s 失败: %w", externalPort, proto, err)
	}
	return nil
}

func (m *Manager) DeleteMapping(ctx context.Context, proto model.Protocol, port int) error {
	gw, err := m.DiscoverGateway(ctx)
	if err != nil {
		return err
	}

	if err := gw.client.DeletePortMappingCtx(ctx, "", uint16(port), string(proto)); err != nil {
		return fmt.Errorf("删除端口映射 %d/%s 失败: %w", port, proto, err)
	}
	return nil
}

// ExternalIP 网关报告的外网地址
func (m *Manager) ExternalIP(ctx context.Context) (string, error) {
	gw, err := m.DiscoverGateway(ctx)
	if err != nil {
		return "", err
	}
	return gw.client.GetExternalIPAddressCtx(ctx)
}

func discoverIGD(ctx context.Context) (*Gateway, error) {
	ipClients, _, err := internetgateway2.NewWANIPConnection1ClientsCtx(ctx)
	if err == nil {
		for _, c := range ipClients {
			if local, err := localAddrFor(c.Location.Host); err == nil {
				return &Gateway{client: c, localIP: local}, nil
			}
		}
	}

	pppClients, _, err := internetgateway2.NewWANPPPConnection1ClientsCtx(ctx)
	if err == nil {
		for _, c := range pppClients {
			if local, err := localAddrFor(c.Location.Host); err == nil {
				return &Gateway{client: c, localIP: local}, nil
			}
		}
	}

	return nil, ErrNoGateway
}

// localAddrFor 本机访问网关时使用的源地址
func localAddrFor(host string) (string, error) {
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "1900")
	}
	conn, err := net.Dial("udp4", host)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

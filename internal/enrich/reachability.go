package enrich

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/FreeProject089/PortManager/internal/utils"
)

const (
	PublicIPUnavailable = "Unable to detect"

	DefaultPortCheckURL = "https://portchecker.co/check?port=%d"
)

var DefaultPublicIPURLs = []string{
	"https://api.ipify.org",
	"https://icanhazip.com",
}

// Reachability 检测公网 IP 以及端口能否从外网访问
type Reachability struct {
	PublicIPURLs       []string
	PortCheckURL       string
	SelfConnectTimeout time.Duration

	httpClient *http.Client
	dial       DialFunc
	logger     *utils.Logger
}

func NewReachability(httpTimeout, selfConnectTimeout time.Duration) *Reachability {
	dialer := &net.Dialer{}
	return &Reachability{
		PublicIPURLs:       append([]string(nil), DefaultPublicIPURLs...),
		PortCheckURL:       DefaultPortCheckURL,
		SelfConnectTimeout: selfConnectTimeout,
		httpClient: &http.Client{
			Timeout: httpTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    4,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		dial:   dialer.DialContext,
		logger: utils.NewLogger("reachability"),
	}
}

// PublicIP 依次尝试各个服务，全部失败时返回 "Unable to detect"
func (r *Reachability) PublicIP(ctx context.Context) string {
	for _, url := range r.PublicIPURLs {
		body, err := r.get(ctx, url)
		if err != nil {
			r.logger.Debug("获取公网 IP 失败 (%s): %v", url, err)
			continue
		}
		ip, err := netip.ParseAddr(strings.TrimSpace(body))
		if err != nil {
			r.logger.Debug("公网 IP 响应无效 (%s): %q", url, body)
			continue
		}
		return ip.String()
	}
	return PublicIPUnavailable
}

// CheckPort 先查询在线端口检测服务，失败时向自己的公网 IP 发起连接
func (r *Reachability) CheckPort(ctx context.Context, port int) (bool, string) {
	if r.PortCheckURL != "" {
		body, err := r.get(ctx, fmt.Sprintf(r.PortCheckURL, port))
		if err == nil {
			if strings.Contains(strings.ToLower(body), "open") {
				return true, "Port is OPEN from internet"
			}
			return false, "Port is CLOSED from internet"
		}
		r.logger.Debug("端口检测服务不可用: %v", err)
	}

	publicIP := r.PublicIP(ctx)
	if publicIP == PublicIPUnavailable {
		return false, "Could not verify: public IP unavailable"
	}

	dctx, cancel := context.WithTimeout(ctx, r.SelfConnectTimeout)
	defer cancel()

	conn, err := r.dial(dctx, "tcp", net.JoinHostPort(publicIP, strconv.Itoa(port)))
	if err != nil {
		return false, fmt.Sprintf("Port %d not reachable on %s (%v)", port, publicIP, err)
	}
	conn.Close()
	return true, fmt.Sprintf("Port %d reachable on %s", port, publicIP)
}

// NatStatus 公网 IP 落在内网地址段时说明存在多层 NAT
func (r *Reachability) NatStatus(ctx context.Context) string {
	ip := r.PublicIP(ctx)
	if ip == PublicIPUnavailable {
		return "Unable to determine NAT status"
	}
	if utils.IsPrivateOrLoopback(ip) || isSharedAddressSpace(ip) {
		return "Double NAT detected (CGNAT or nested router)"
	}
	return "Single NAT (normal router)"
}

var cgnatPrefix = netip.MustParsePrefix("100.64.0.0/10")

func isSharedAddressSpace(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	return err == nil && cgnatPrefix.Contains(ip.Unmap())
}

func (r *Reachability) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "PortManager/1.0")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

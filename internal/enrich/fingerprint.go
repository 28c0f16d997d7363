package enrich

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/utils"
)

// DialFunc 与 net.Dialer.DialContext 签名一致，测试中可替换
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// bannerSignature banner 关键字 -> 显示名称，withVersion 为 true 时附带版本号
type bannerSignature struct {
	keyword     string
	name        string
	withVersion bool
}

// 按顺序匹配，先命中先返回
var bannerSignatures = []bannerSignature{
	{"ssh", "SSH", true},
	{"http", "HTTP", true},
	{"ftp", "FTP", true},
	{"smtp", "SMTP", true},
	{"mysql", "MySQL", false},
	{"postgresql", "PostgreSQL", false},
	{"redis", "Redis", false},
	{"mongo", "MongoDB", false},
}

const (
	maxBannerBytes   = 256
	shortBannerLimit = 50
)

// Fingerprinter 连接端口读取 banner 来识别服务
type Fingerprinter struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	dial     DialFunc
	versions *utils.VersionParser
	logger   *utils.Logger
}

func NewFingerprinter(connectTimeout, readTimeout time.Duration) *Fingerprinter {
	dialer := &net.Dialer{}
	return NewFingerprinterWithDialer(dialer.DialContext, connectTimeout, readTimeout)
}

func NewFingerprinterWithDialer(dial DialFunc, connectTimeout, readTimeout time.Duration) *Fingerprinter {
	return &Fingerprinter{
		ConnectTimeout: connectTimeout,
		ReadTimeout:    readTimeout,
		dial:           dial,
		versions:       utils.NewVersionParser(),
		logger:         utils.NewLogger("fingerprint"),
	}
}

// Identify 返回服务描述。连接、写入或读取失败都退回端口表查询。
func (f *Fingerprinter) Identify(ctx context.Context, host string, port int) string {
	address := net.JoinHostPort(host, strconv.Itoa(port))

	dctx, cancel := context.WithTimeout(ctx, f.ConnectTimeout)
	defer cancel()

	conn, err := f.dial(dctx, "tcp", address)
	if err != nil {
		f.logger.Debug("连接 %s 失败: %v", address, err)
		return model.ServiceByPort(port)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(f.ReadTimeout))

	if _, err := conn.Write([]byte("\r\n")); err != nil {
		return model.ServiceByPort(port)
	}

	buffer := make([]byte, maxBannerBytes)
	n, err := conn.Read(buffer)
	if n == 0 {
		if err != nil {
			f.logger.Debug("端口 %d 没有 banner: %v", port, err)
		}
		return model.ServiceByPort(port)
	}

	return f.FromBanner(strings.TrimSpace(string(buffer[:n])), port)
}

// FromBanner 根据 banner 内容识别服务
func (f *Fingerprinter) FromBanner(banner string, port int) string {
	if banner == "" {
		return model.ServiceByPort(port)
	}

	lower := strings.ToLower(banner)
	for _, sig := range bannerSignatures {
		if !strings.Contains(lower, sig.keyword) {
			continue
		}
		if !sig.withVersion {
			return sig.name
		}
		if version := f.versions.BannerVersion(banner); version != "" {
			return sig.name + " " + version
		}
		return sig.name
	}

	if len(banner) < shortBannerLimit {
		return "Banner: " + banner
	}

	return model.ServiceByPort(port)
}

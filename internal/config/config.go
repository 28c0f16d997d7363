package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Log      LogConfig      `mapstructure:"log"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Enrich   EnrichConfig   `mapstructure:"enrich"`
	Upnp     UpnpConfig     `mapstructure:"upnp"`
	Database DatabaseConfig `mapstructure:"database"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MonitorConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	NewPortAlerts    bool          `mapstructure:"new_port_alerts"`
	SuspiciousAlerts bool          `mapstructure:"suspicious_alerts"`
	ProcessCacheTTL  time.Duration `mapstructure:"process_cache_ttl"`
}

type JournalConfig struct {
	Path     string `mapstructure:"path"`
	Capacity int    `mapstructure:"capacity"`
}

type ScannerConfig struct {
	HostWorkers  int           `mapstructure:"host_workers"`
	ChunkSize    int           `mapstructure:"chunk_size"`
	PingTimeout  time.Duration `mapstructure:"ping_timeout"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	PortTimeout  time.Duration `mapstructure:"port_timeout"`
}

type EnrichConfig struct {
	DNSRate            int           `mapstructure:"dns_rate"`
	DNSServer          string        `mapstructure:"dns_server"`
	DNSTimeout         time.Duration `mapstructure:"dns_timeout"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	PublicIPURLs       []string      `mapstructure:"public_ip_urls"`
	PortCheckURL       string        `mapstructure:"port_check_url"`
	HTTPTimeout        time.Duration `mapstructure:"http_timeout"`
	SelfConnectTimeout time.Duration `mapstructure:"self_connect_timeout"`
}

type UpnpConfig struct {
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// DataDir 默认数据目录，取不到用户配置目录时使用当前目录
func DataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "PortManager")
	}
	return "."
}

// Load 读取配置。path 为空时在当前目录和数据目录中查找 portmanager.yaml，找不到时只用默认值。
// 环境变量 PM_<SECTION>_<KEY> 优先于配置文件。
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("portmanager")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(DataDir())
	}

	v.SetEnvPrefix("PM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	dataDir := DataDir()

	v.SetDefault("log.level", "info")

	v.SetDefault("monitor.interval", "1s")
	v.SetDefault("monitor.new_port_alerts", true)
	v.SetDefault("monitor.suspicious_alerts", true)
	v.SetDefault("monitor.process_cache_ttl", "30s")

	v.SetDefault("journal.path", filepath.Join(dataDir, "events.csv"))
	v.SetDefault("journal.capacity", 500)

	// 254 等于一个 /24 网段的全部主机
	v.SetDefault("scanner.host_workers", 254)
	v.SetDefault("scanner.chunk_size", 20)
	v.SetDefault("scanner.ping_timeout", "500ms")
	v.SetDefault("scanner.probe_timeout", "200ms")
	v.SetDefault("scanner.port_timeout", "300ms")

	v.SetDefault("enrich.dns_rate", 20)
	v.SetDefault("enrich.dns_server", "")
	v.SetDefault("enrich.dns_timeout", "3s")
	v.SetDefault("enrich.connect_timeout", "3s")
	v.SetDefault("enrich.read_timeout", "2s")
	v.SetDefault("enrich.public_ip_urls", []string{"https://api.ipify.org", "https://icanhazip.com"})
	v.SetDefault("enrich.port_check_url", "https://portchecker.co/check?port=%d")
	v.SetDefault("enrich.http_timeout", "10s")
	v.SetDefault("enrich.self_connect_timeout", "5s")

	v.SetDefault("upnp.discovery_timeout", "5s")

	v.SetDefault("database.path", filepath.Join(dataDir, "portmanager.db"))

	v.SetDefault("metrics.listen", "")
}

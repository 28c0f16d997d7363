package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/FreeProject089/PortManager/internal/model"
)

func TestLoadFileDefaultsAndEnv(t *testing.T) {
	yamlContent := []byte(`
log:
  level: "debug"
monitor:
  interval: "2s"
scanner:
  chunk_size: 10
enrich:
  public_ip_urls:
    - "http://127.0.0.1:1/ip"
`)

	path := filepath.Join(t.TempDir(), "portmanager.yaml")
	if err := os.WriteFile(path, yamlContent, 0644); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}

	t.Setenv("PM_SCANNER_HOST_WORKERS", "32")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("期望 log.level debug, 实际得到 %s", cfg.Log.Level)
	}
	if cfg.Monitor.Interval != 2*time.Second {
		t.Errorf("期望 monitor.interval 2s, 实际得到 %s", cfg.Monitor.Interval)
	}
	if cfg.Scanner.ChunkSize != 10 {
		t.Errorf("期望 scanner.chunk_size 10, 实际得到 %d", cfg.Scanner.ChunkSize)
	}
	if cfg.Scanner.HostWorkers != 32 {
		t.Errorf("环境变量应覆盖默认值, 实际得到 %d", cfg.Scanner.HostWorkers)
	}
	if cfg.Scanner.PortTimeout != 300*time.Millisecond {
		t.Errorf("期望默认 port_timeout 300ms, 实际得到 %s", cfg.Scanner.PortTimeout)
	}
	if cfg.Journal.Capacity != 500 {
		t.Errorf("期望默认 journal.capacity 500, 实际得到 %d", cfg.Journal.Capacity)
	}
	if !reflect.DeepEqual(cfg.Enrich.PublicIPURLs, []string{"http://127.0.0.1:1/ip"}) {
		t.Errorf("public_ip_urls 读取错误: %v", cfg.Enrich.PublicIPURLs)
	}
	if !cfg.Monitor.NewPortAlerts {
		t.Error("默认应开启新端口提醒")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("指定的配置文件不存在时应返回错误")
	}
}

func TestProfilesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export", "profiles.yaml")
	set := ProfileSet{
		ActiveProfile: "Gaming",
		Session: []model.ListenerDescriptor{
			{Port: 8080, Protocol: model.TCP, FirewallRuleName: "PortManager_8080_TCP"},
		},
		Profiles: []model.Profile{
			{Name: "Default", Listeners: []model.ListenerDescriptor{}},
			{Name: "Gaming", Listeners: []model.ListenerDescriptor{
				{Port: 25565, Protocol: model.TCP, FirewallRuleName: "PortManager_25565_TCP", UpnpEnabled: true},
				{Port: 27015, Protocol: model.UDP, ForwardOnly: true},
			}},
		},
	}

	if err := ExportProfiles(path, set); err != nil {
		t.Fatalf("导出失败: %v", err)
	}
	got, err := ImportProfiles(path)
	if err != nil {
		t.Fatalf("导入失败: %v", err)
	}
	if !reflect.DeepEqual(got, set) {
		t.Errorf("期望 %+v, 实际得到 %+v", set, got)
	}
}

func TestImportProfilesSkipsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	content := []byte(`
version: 2
profiles:
  - name: Work
    listeners:
      - port: 80
        protocol: tcp
      - port: 0
        protocol: TCP
      - port: 53
        protocol: icmp
  - name: "  "
    listeners:
      - port: 22
        protocol: TCP
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	got, err := ImportProfiles(path)
	if err != nil {
		t.Fatalf("导入失败: %v", err)
	}
	if len(got.Profiles) != 1 || got.Profiles[0].Name != "Work" {
		t.Fatalf("期望只保留配置集 Work, 实际得到 %+v", got.Profiles)
	}
	l := got.Profiles[0].Listeners
	if len(l) != 1 || l[0].Port != 80 || l[0].Protocol != model.TCP {
		t.Errorf("期望只保留 80/TCP, 实际得到 %+v", l)
	}
}

func TestImportVersion1File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.yaml")
	content := []byte("version: 1\nlisteners:\n  - port: 8080\n    protocol: TCP\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	got, err := ImportProfiles(path)
	if err != nil {
		t.Fatalf("导入失败: %v", err)
	}
	if len(got.Session) != 1 || got.Session[0].Port != 8080 || len(got.Profiles) != 0 {
		t.Errorf("版本 1 的 listeners 应作为 Session 导入, 实际得到 %+v", got)
	}
}

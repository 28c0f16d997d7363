package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// runCLI 使用临时目录中的配置执行一条命令
func runCLI(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfgPath, "--quiet"}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
database:
  path: %q
journal:
  path: %q
%s`, filepath.Join(dir, "pm.db"), filepath.Join(dir, "events.csv"), extra)

	path := filepath.Join(dir, "portmanager.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestProfilesImportExport(t *testing.T) {
	cfgPath := writeConfig(t, "")
	dir := filepath.Dir(cfgPath)

	in := filepath.Join(dir, "in.yaml")
	os.WriteFile(in, []byte(`version: 1
listeners:
  - port: 8080
    protocol: TCP
    firewall_rule_name: PortManager_8080_TCP
  - port: 70000
    protocol: TCP
  - port: 27015
    protocol: UDP
    upnp_enabled: true
`), 0644)

	out, err := runCLI(t, cfgPath, "profiles", "import", in)
	if err != nil {
		t.Fatalf("导入失败: %v", err)
	}
	if !strings.Contains(out, "已导入 2 个监听器和 0 个配置集") {
		t.Errorf("期望导入 2 个监听器, 实际输出: %s", out)
	}

	exported := filepath.Join(dir, "out.yaml")
	if _, err := runCLI(t, cfgPath, "profiles", "export", exported); err != nil {
		t.Fatalf("导出失败: %v", err)
	}
	data, err := os.ReadFile(exported)
	if err != nil {
		t.Fatalf("读取导出文件失败: %v", err)
	}
	for _, want := range []string{"version: 2", "active_profile: Default", "name: Default", "port: 8080", "firewall_rule_name: PortManager_8080_TCP", "port: 27015", "upnp_enabled: true"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("期望导出文件包含 %q, 实际得到:\n%s", want, data)
		}
	}
	if strings.Contains(string(data), "70000") {
		t.Error("越界端口不应被导入")
	}
}

func TestExternalPublicIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "203.0.113.5")
	}))
	defer srv.Close()

	cfgPath := writeConfig(t, fmt.Sprintf("enrich:\n  public_ip_urls:\n    - %q\n", srv.URL))
	out, err := runCLI(t, cfgPath, "external")
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if !strings.Contains(out, "203.0.113.5") || !strings.Contains(out, "Single NAT") {
		t.Errorf("输出错误: %s", out)
	}
}

func TestIdentifyCommand(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("监听失败: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("SSH-2.0-OpenSSH_8.9p1\r\n"))
		bufio.NewReader(conn).ReadString('\n')
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	out, err := runCLI(t, writeConfig(t, ""), "identify", "--host", "127.0.0.1", "--port", strconv.Itoa(port))
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if !strings.Contains(out, "SSH 8.9") {
		t.Errorf("期望识别为 SSH 8.9, 实际输出: %s", out)
	}
}

func TestListenRequiresPort(t *testing.T) {
	if _, err := runCLI(t, writeConfig(t, ""), "listen"); err == nil {
		t.Error("期望缺少 --port 时报错")
	}
	if _, err := runCLI(t, writeConfig(t, ""), "listen", "--profile", "missing"); err == nil {
		t.Error("期望配置集不存在时报错")
	}
}

func TestForwardOnlyDefaults(t *testing.T) {
	tests := []struct {
		name         string
		forwardOnly  bool
		changed      map[string]bool
		upnp, fw     bool
		wantUpnp     bool
		wantFirewall bool
	}{
		{"未设置 forward-only", false, nil, false, false, false, false},
		{"默认同时开启", true, nil, false, false, true, true},
		{"显式关闭防火墙", true, map[string]bool{"firewall": true}, false, false, true, false},
		{"显式关闭 UPnP", true, map[string]bool{"upnp": true}, false, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upnp, fw := tt.upnp, tt.fw
			forwardOnlyDefaults(func(name string) bool { return tt.changed[name] }, tt.forwardOnly, &upnp, &fw)
			if upnp != tt.wantUpnp || fw != tt.wantFirewall {
				t.Errorf("期望 upnp=%v firewall=%v, 实际得到 upnp=%v firewall=%v", tt.wantUpnp, tt.wantFirewall, upnp, fw)
			}
		})
	}
}

func TestProfilesCommands(t *testing.T) {
	cfgPath := writeConfig(t, "")

	steps := [][]string{
		{"profiles", "create", "Gaming"},
		{"profiles", "add", "Gaming", "--port", "27015", "--proto", "both", "--forward-only"},
		{"profiles", "add", "Gaming", "--port", "25565"},
		{"profiles", "remove", "Gaming", "--port", "27015", "--proto", "udp"},
		{"profiles", "use", "Gaming"},
	}
	for _, args := range steps {
		if out, err := runCLI(t, cfgPath, args...); err != nil {
			t.Fatalf("%v 失败: %v (%s)", args, err, out)
		}
	}

	out, err := runCLI(t, cfgPath, "profiles", "show")
	if err != nil {
		t.Fatalf("show 失败: %v", err)
	}
	for _, want := range []string{"Gaming", "25565/TCP", "27015/TCP firewall=PortManager_27015_TCP upnp forward-only"} {
		if !strings.Contains(out, want) {
			t.Errorf("期望输出包含 %q, 实际输出:\n%s", want, out)
		}
	}
	if strings.Contains(out, "27015/UDP") {
		t.Error("27015/UDP 应已被移除")
	}

	out, err = runCLI(t, cfgPath, "profiles", "list")
	if err != nil {
		t.Fatalf("list 失败: %v", err)
	}
	if !strings.Contains(out, "* Gaming (2 个监听器)") || !strings.Contains(out, "  Default (0 个监听器)") {
		t.Errorf("列表错误:\n%s", out)
	}

	if _, err := runCLI(t, cfgPath, "profiles", "delete", "Default"); err == nil {
		t.Error("期望不能删除 Default")
	}
	if _, err := runCLI(t, cfgPath, "profiles", "delete", "Gaming"); err != nil {
		t.Fatalf("删除失败: %v", err)
	}
	out, _ = runCLI(t, cfgPath, "profiles", "list")
	if !strings.Contains(out, "* Default") {
		t.Errorf("删除激活的配置集后应回到 Default:\n%s", out)
	}
}

func TestProfilesImportSession(t *testing.T) {
	cfgPath := writeConfig(t, "")
	in := filepath.Join(filepath.Dir(cfgPath), "session.yaml")
	os.WriteFile(in, []byte("version: 1\nlisteners:\n  - port: 8080\n    protocol: TCP\n"), 0644)

	if _, err := runCLI(t, cfgPath, "profiles", "import", in); err != nil {
		t.Fatalf("导入失败: %v", err)
	}
	out, err := runCLI(t, cfgPath, "profiles", "import-session")
	if err != nil {
		t.Fatalf("import-session 失败: %v", err)
	}
	if !strings.Contains(out, "已向 Default 导入 1 个监听器") {
		t.Errorf("输出错误: %s", out)
	}
}

func TestKillFreePort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("监听失败: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = runCLI(t, writeConfig(t, ""), "kill", "--port", strconv.Itoa(port), "--yes")
	if err == nil || !strings.Contains(err.Error(), "没有进程占用端口") {
		t.Errorf("期望没有进程占用端口的错误, 实际得到 %v", err)
	}
}

func TestScanRejectsBothTargets(t *testing.T) {
	_, err := runCLI(t, writeConfig(t, ""), "scan", "--subnet", "10.0.0.", "--host", "10.0.0.5")
	if err == nil || !strings.Contains(err.Error(), "--subnet") {
		t.Errorf("期望参数冲突错误, 实际得到 %v", err)
	}
}

package cli

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/process"
)

func init() {
	color.NoColor = true
}

func sampleScan() model.ScanResult {
	return model.ScanResult{
		Target:    "192.168.1.0/24",
		StartedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local),
		Elapsed:   1500 * time.Millisecond,
		Devices: []model.Device{
			{Address: "192.168.1.1", Hostname: "router.lan", Status: model.StatusOnline, OpenPorts: []int{22, 80, 8765}},
			{Address: "192.168.1.9", Hostname: "Unknown", Status: model.StatusOnlineNoPing},
		},
	}
}

func TestWriteScanText(t *testing.T) {
	var buf bytes.Buffer
	if err := NewOutputFormatter("text").WriteScan(&buf, sampleScan()); err != nil {
		t.Fatalf("输出失败: %v", err)
	}
	out := buf.String()

	for _, want := range []string{"192.168.1.0/24", "22 (SSH), 80 (HTTP), 8765", "None (scanned)", "Online (No Ping)", "共 2 台设备"} {
		if !strings.Contains(out, want) {
			t.Errorf("期望输出包含 %q, 实际得到:\n%s", want, out)
		}
	}
}

func TestWriteScanEmpty(t *testing.T) {
	var buf bytes.Buffer
	NewOutputFormatter("text").WriteScan(&buf, model.ScanResult{Target: "10.0.0.0/24"})
	if !strings.Contains(buf.String(), "未发现在线设备") {
		t.Errorf("期望提示没有设备, 实际得到:\n%s", buf.String())
	}
}

func TestWriteScanCSVAndJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := NewOutputFormatter("csv").WriteScan(&buf, sampleScan()); err != nil {
		t.Fatalf("输出失败: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("CSV 无效: %v", err)
	}
	if len(rows) != 3 || rows[1][3] != "22;80;8765" || rows[2][3] != "" {
		t.Errorf("CSV 内容错误: %v", rows)
	}

	buf.Reset()
	if err := NewOutputFormatter("json").WriteScan(&buf, sampleScan()); err != nil {
		t.Fatalf("输出失败: %v", err)
	}
	var decoded model.ScanResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("JSON 无效: %v", err)
	}
	if len(decoded.Devices) != 2 || decoded.Devices[0].Hostname != "router.lan" {
		t.Errorf("JSON 内容错误: %+v", decoded)
	}
}

func TestPrintScanToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.txt")
	color.NoColor = false
	defer func() { color.NoColor = true }()

	if err := NewOutputFormatter("text").PrintScan(sampleScan(), path); err != nil {
		t.Fatalf("写文件失败: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取文件失败: %v", err)
	}
	if bytes.Contains(data, []byte("\x1b[")) {
		t.Error("写入文件时不应包含颜色控制码")
	}
	if color.NoColor {
		t.Error("写完文件后应恢复颜色设置")
	}
}

func TestWriteSnapshot(t *testing.T) {
	snap := model.Snapshot{
		{Protocol: model.TCP, LocalAddress: "0.0.0.0", LocalPort: 4444, State: model.StateListen, ProcessID: 99,
			ProcessName: "nc", Suspicious: true, SuspiciousReason: "Suspicious port 4444"},
		{Protocol: model.UDP, LocalAddress: "0.0.0.0", LocalPort: 53, State: model.StateNone, ProcessID: 4, ProcessName: "dns"},
	}

	var buf bytes.Buffer
	if err := NewOutputFormatter("text").WriteSnapshot(&buf, snap); err != nil {
		t.Fatalf("输出失败: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Suspicious port 4444") || !strings.Contains(out, "2 条连接, 1 条可疑") {
		t.Errorf("文本输出错误:\n%s", out)
	}

	buf.Reset()
	if err := NewOutputFormatter("csv").WriteSnapshot(&buf, snap); err != nil {
		t.Fatalf("输出失败: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("CSV 无效: %v", err)
	}
	if len(rows) != 3 || rows[1][2] != "4444" || rows[1][9] != "true" {
		t.Errorf("CSV 内容错误: %v", rows)
	}
}

func TestWriteLogs(t *testing.T) {
	entries := []model.LogEntry{{
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local),
		EventType: model.EventSuspicious,
		Category:  model.CategorySecurity,
		Details:   "Suspicious port 4444",
		Port:      4444,
		Protocol:  "TCP",
		Critical:  true,
	}}

	var buf bytes.Buffer
	if err := NewOutputFormatter("text").WriteLogs(&buf, entries); err != nil {
		t.Fatalf("输出失败: %v", err)
	}
	if !strings.Contains(buf.String(), "4444/TCP") || !strings.Contains(buf.String(), "SUSPICIOUS") {
		t.Errorf("文本输出错误:\n%s", buf.String())
	}

	buf.Reset()
	if err := NewOutputFormatter("csv").WriteLogs(&buf, entries); err != nil {
		t.Fatalf("输出失败: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil || len(rows) != 2 || rows[1][7] != "true" {
		t.Errorf("CSV 内容错误: %v (%v)", rows, err)
	}
}

func TestWriteStats(t *testing.T) {
	stats := &process.SystemStats{
		Uptime: 26*time.Hour + 5*time.Minute,
		Memory: process.MemoryUsage{Total: 8 << 30, Used: 2 << 30, Percent: 25},
		Processes: []process.ProcessUsage{
			{PID: 200, Name: "chrome", MemoryMB: 812.4},
		},
	}

	var buf bytes.Buffer
	if err := NewOutputFormatter("text").WriteStats(&buf, stats); err != nil {
		t.Fatalf("输出失败: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"1d 2h 5m", "2.0 / 8.0 GB (25%)", "chrome", "812.4"} {
		if !strings.Contains(out, want) {
			t.Errorf("期望输出包含 %q, 实际输出:\n%s", want, out)
		}
	}
}

func TestPortOwners(t *testing.T) {
	snap := model.Snapshot{
		{Protocol: model.TCP, LocalPort: 8080, ProcessID: 10, ProcessName: "web"},
		{Protocol: model.TCP, LocalPort: 8080, ProcessID: 10, ProcessName: "web", RemoteAddress: "10.0.0.2"},
		{Protocol: model.UDP, LocalPort: 8080, ProcessID: 11, ProcessName: "dns"},
		{Protocol: model.TCP, LocalPort: 8080, ProcessID: 0, ProcessName: "System Idle"},
		{Protocol: model.TCP, LocalPort: 9090, ProcessID: 12, ProcessName: "other"},
	}

	owners := portOwners(snap, 8080, []model.Protocol{model.TCP})
	if len(owners) != 1 || owners[0].ProcessID != 10 {
		t.Errorf("期望只有 pid 10, 实际得到 %+v", owners)
	}
	if got := portOwners(snap, 8080, []model.Protocol{model.TCP, model.UDP}); len(got) != 2 {
		t.Errorf("期望 2 个进程, 实际得到 %d 个", len(got))
	}
}

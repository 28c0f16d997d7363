package classifier

import (
	"strings"
	"testing"

	"github.com/FreeProject089/PortManager/internal/model"
)

func TestClassifyRules(t *testing.T) {
	cases := []struct {
		name   string
		rec    model.ConnectionRecord
		want   bool
		reason string
	}{
		{
			name:   "本地威胁端口",
			rec:    model.ConnectionRecord{Protocol: model.TCP, LocalPort: 31337},
			want:   true,
			reason: "known malware port",
		},
		{
			name:   "远端威胁端口",
			rec:    model.ConnectionRecord{Protocol: model.TCP, LocalPort: 50000, RemotePort: 4444, RemoteAddress: "8.8.8.8"},
			want:   true,
			reason: "known threat port",
		},
		{
			name: "UDP 不检查远端端口",
			rec:  model.ConnectionRecord{Protocol: model.UDP, LocalPort: 50000, RemotePort: 4444},
			want: false,
		},
		{
			name:   "Temp 目录",
			rec:    model.ConnectionRecord{Protocol: model.TCP, LocalPort: 8000, ProcessPath: `C:\Users\bob\AppData\Local\Temp\x.exe`},
			want:   true,
			reason: "Temp directory",
		},
		{
			name:   "POSIX tmp",
			rec:    model.ConnectionRecord{Protocol: model.TCP, LocalPort: 8000, ProcessPath: "/tmp/.x/agent"},
			want:   true,
			reason: "Temp directory",
		},
		{
			name:   "Downloads 目录",
			rec:    model.ConnectionRecord{Protocol: model.TCP, LocalPort: 8000, ProcessPath: `C:\Users\bob\Downloads\tool.exe`},
			want:   true,
			reason: "Downloads folder",
		},
		{
			name:   "伪装系统进程",
			rec:    model.ConnectionRecord{Protocol: model.TCP, LocalPort: 135, ProcessPath: `C:\ProgramData\svchost.exe`},
			want:   true,
			reason: "masquerading system process",
		},
		{
			name: "正常 svchost",
			rec:  model.ConnectionRecord{Protocol: model.TCP, LocalPort: 135, ProcessPath: `C:\Windows\System32\svchost.exe`},
			want: false,
		},
		{
			name: "Windows 目录下的 explorer",
			rec:  model.ConnectionRecord{Protocol: model.TCP, LocalPort: 5000, ProcessPath: `C:\Windows\explorer.exe`},
			want: false,
		},
		{
			name:   "解释器外连",
			rec:    model.ConnectionRecord{Protocol: model.TCP, LocalPort: 50123, RemoteAddress: "203.0.113.7", RemotePort: 443, State: model.StateEstablished, ProcessName: "powershell.exe"},
			want:   true,
			reason: "External connection from interpreter",
		},
		{
			name: "解释器内网连接",
			rec:  model.ConnectionRecord{Protocol: model.TCP, LocalPort: 50123, RemoteAddress: "192.168.1.20", RemotePort: 443, State: model.StateEstablished, ProcessName: "powershell"},
			want: false,
		},
		{
			name: "解释器监听",
			rec:  model.ConnectionRecord{Protocol: model.TCP, LocalPort: 8080, RemoteAddress: "0.0.0.0", State: model.StateListen, ProcessName: "bash"},
			want: false,
		},
		{
			name: "普通记录",
			rec:  model.ConnectionRecord{Protocol: model.TCP, LocalPort: 443, ProcessName: "nginx", ProcessPath: "/usr/sbin/nginx"},
			want: false,
		},
	}

	for _, c := range cases {
		got, reason := Classify(c.rec)
		if got != c.want {
			t.Errorf("%s: 期望 %v, 实际得到 %v (%s)", c.name, c.want, got, reason)
			continue
		}
		if c.want && !strings.Contains(reason, c.reason) {
			t.Errorf("%s: 原因 %q 不包含 %q", c.name, reason, c.reason)
		}
		if !c.want && reason != "" {
			t.Errorf("%s: 未命中时原因应为空, 实际得到 %q", c.name, reason)
		}
	}
}

func TestClassifyPrecedence(t *testing.T) {
	rec := model.ConnectionRecord{
		Protocol:    model.TCP,
		LocalPort:   4444,
		ProcessPath: `C:\Windows\Temp\payload.exe`,
	}
	_, reason := Classify(rec)
	if !strings.Contains(reason, "known malware port") {
		t.Errorf("端口规则应优先于 Temp 规则, 实际原因 %q", reason)
	}
}

func TestClassifyIdempotent(t *testing.T) {
	rec := model.ConnectionRecord{Protocol: model.TCP, LocalPort: 8000, ProcessPath: "/dev/shm/miner"}
	s1, r1 := Classify(rec)
	s2, r2 := Classify(rec)
	if s1 != s2 || r1 != r2 {
		t.Errorf("Classify 不是幂等的: (%v, %q) != (%v, %q)", s1, r1, s2, r2)
	}
}

func TestApplyClearsReason(t *testing.T) {
	rec := model.ConnectionRecord{Protocol: model.TCP, LocalPort: 443, Suspicious: true, SuspiciousReason: "stale"}
	Apply(&rec)
	if rec.Suspicious || rec.SuspiciousReason != "" {
		t.Errorf("Apply 应清空旧的判定结果: %+v", rec)
	}
}

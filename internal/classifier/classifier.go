// Package classifier 对富化后的连接记录做规则判定。
// 规则按顺序执行，命中第一条即返回。
package classifier

import (
	"fmt"
	"path"
	"strings"

	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/utils"
)

// ThreatPorts 历史上与恶意工具相关的端口
var ThreatPorts = map[int]string{
	4444:  "Metasploit",
	31337: "BackOrifice",
	6667:  "IRC botnet",
	12345: "NetBus",
	27374: "Sub7",
	5554:  "Sasser",
}

var sensitiveProcesses = map[string]bool{
	"svchost.exe":  true,
	"csrss.exe":    true,
	"lsass.exe":    true,
	"winlogon.exe": true,
	"services.exe": true,
	"explorer.exe": true,
}

var interpreters = map[string]bool{
	"powershell": true,
	"pwsh":       true,
	"cmd":        true,
	"wscript":    true,
	"cscript":    true,
	"mshta":      true,
	"sh":         true,
	"bash":       true,
	"zsh":        true,
}

var tempSegments = []string{
	`\appdata\local\temp\`,
	`\windows\temp\`,
	"/tmp/",
	"/var/tmp/",
	"/dev/shm/",
}

var downloadSegments = []string{
	`\downloads\`,
	"/downloads/",
}

var systemDirs = []string{
	`\windows\system32`,
	`\windows\syswow64`,
}

// Classify 返回记录是否可疑以及原因，不修改输入
func Classify(r model.ConnectionRecord) (bool, string) {
	if name, ok := ThreatPorts[r.LocalPort]; ok {
		return true, fmt.Sprintf("Port %d is a known malware port (%s)", r.LocalPort, name)
	}
	if r.Protocol == model.TCP {
		if name, ok := ThreatPorts[r.RemotePort]; ok {
			return true, fmt.Sprintf("Process connected to known threat port %d (%s)", r.RemotePort, name)
		}
	}

	if p := strings.ToLower(r.ProcessPath); p != "" {
		if containsAny(p, tempSegments) {
			return true, "Process running from Temp directory"
		}
		if containsAny(p, downloadSegments) {
			return true, "Process running from Downloads folder"
		}
		if file := fileName(p); sensitiveProcesses[file] && !inSystemDir(p, file) {
			return true, fmt.Sprintf("Process '%s' is masquerading system process (non-standard location)", file)
		}
	}

	if interpreters[baseName(r.ProcessName)] &&
		r.Protocol == model.TCP &&
		r.State != model.StateListen &&
		isExternal(r.RemoteAddress) {
		return true, fmt.Sprintf("External connection from interpreter %s", r.ProcessName)
	}

	return false, ""
}

// Apply 把判定结果写回记录，未命中时清空原因
func Apply(r *model.ConnectionRecord) {
	r.Suspicious, r.SuspiciousReason = Classify(*r)
}

func containsAny(s string, segments []string) bool {
	for _, seg := range segments {
		if strings.Contains(s, seg) {
			return true
		}
	}
	return false
}

// fileName 同时兼容 Windows 和 POSIX 路径分隔符
func fileName(p string) string {
	return path.Base(strings.ReplaceAll(p, `\`, "/"))
}

func inSystemDir(p, file string) bool {
	if containsAny(p, systemDirs) {
		return true
	}
	return file == "explorer.exe" && strings.Contains(p, `\windows\explorer.exe`)
}

func baseName(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".exe")
}

func isExternal(addr string) bool {
	return utils.IsResolvableRemote(addr) && !utils.IsPrivateOrLoopback(addr)
}

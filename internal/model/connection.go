package model

import (
	"fmt"
	"sort"
)

type Protocol string

const (
	TCP Protocol = "TCP"
	UDP Protocol = "UDP"
)

// ParseProtocol 接受 tcp/TCP/udp/UDP
func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "tcp", "TCP":
		return TCP, nil
	case "udp", "UDP":
		return UDP, nil
	}
	return "", fmt.Errorf("unknown protocol %q", s)
}

// TCP 连接状态，取值与 MIB_TCP_STATE 的 1..12 一一对应
const (
	StateClosed      = "CLOSED"
	StateListen      = "LISTEN"
	StateSynSent     = "SYN_SENT"
	StateSynRcvd     = "SYN_RCVD"
	StateEstablished = "ESTABLISHED"
	StateFinWait1    = "FIN_WAIT1"
	StateFinWait2    = "FIN_WAIT2"
	StateCloseWait   = "CLOSE_WAIT"
	StateClosing     = "CLOSING"
	StateLastAck     = "LAST_ACK"
	StateTimeWait    = "TIME_WAIT"
	StateDeleteTCB   = "DELETE_TCB"

	// UDP 没有连接状态
	StateNone = "N/A"
)

var mibStates = [...]string{
	"",
	StateClosed,
	StateListen,
	StateSynSent,
	StateSynRcvd,
	StateEstablished,
	StateFinWait1,
	StateFinWait2,
	StateCloseWait,
	StateClosing,
	StateLastAck,
	StateTimeWait,
	StateDeleteTCB,
}

// StateFromMIB 把 MIB_TCP_STATE 数值转换成状态名
func StateFromMIB(v uint32) string {
	if v == 0 || int(v) >= len(mibStates) {
		return fmt.Sprintf("UNKNOWN(%d)", v)
	}
	return mibStates[v]
}

// 富化字段的占位值
const (
	HostnameResolving = "Resolving..."
	HostnameUnknown   = "Unknown"
	HostnameNone      = "-"
)

// ConnectionRecord 一条从系统连接表读取的套接字记录。
// 前半部分字段来自操作系统，读取后不再修改；后半部分由富化流程填充。
type ConnectionRecord struct {
	Protocol      Protocol `json:"protocol"`
	LocalAddress  string   `json:"local_address"`
	LocalPort     int      `json:"local_port"`
	RemoteAddress string   `json:"remote_address,omitempty"`
	RemotePort    int      `json:"remote_port,omitempty"`
	State         string   `json:"state"`
	ProcessID     int      `json:"pid"`

	ProcessName      string `json:"process_name"`
	ProcessPath      string `json:"process_path,omitempty"`
	Suspicious       bool   `json:"suspicious"`
	SuspiciousReason string `json:"suspicious_reason,omitempty"`
	RemoteHostname   string `json:"remote_hostname,omitempty"`
	ServiceName      string `json:"service_name,omitempty"`
	ExternalStatus   string `json:"external_status,omitempty"`
}

// Key 变更检测和告警去重使用的身份键
type Key struct {
	Protocol    Protocol
	LocalPort   int
	ProcessName string
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%s:%s", k.LocalPort, k.Protocol, k.ProcessName)
}

func (r ConnectionRecord) Key() Key {
	return Key{Protocol: r.Protocol, LocalPort: r.LocalPort, ProcessName: r.ProcessName}
}

// CacheKey 服务识别和外部可达性缓存的键
func (r ConnectionRecord) CacheKey() string {
	return fmt.Sprintf("%d:%s:%d", r.LocalPort, r.Protocol, r.ProcessID)
}

// Snapshot 某一时刻的完整连接列表
type Snapshot []ConnectionRecord

// SortForDisplay 可疑记录在前，其次按协议、本地端口排序
func (s Snapshot) SortForDisplay() {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.Suspicious != b.Suspicious {
			return a.Suspicious
		}
		if a.Protocol != b.Protocol {
			return a.Protocol < b.Protocol
		}
		return a.LocalPort < b.LocalPort
	})
}

// Keys 返回快照中所有身份键的集合
func (s Snapshot) Keys() map[Key]struct{} {
	keys := make(map[Key]struct{}, len(s))
	for _, r := range s {
		keys[r.Key()] = struct{}{}
	}
	return keys
}

func (s Snapshot) SuspiciousCount() int {
	n := 0
	for _, r := range s {
		if r.Suspicious {
			n++
		}
	}
	return n
}

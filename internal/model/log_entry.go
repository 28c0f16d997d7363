package model

import "time"

// 事件类型
const (
	EventPortOpened = "PORT_OPENED"
	EventPortClosed = "PORT_CLOSED"
	EventNewPort    = "NEW_PORT"
	EventSuspicious = "SUSPICIOUS"
	EventFirewall   = "FIREWALL"
	EventUpnp       = "UPNP"
	EventSystem     = "SYSTEM"
	EventNetwork    = "NETWORK"
)

// 事件分类
const (
	CategoryNetwork  = "NETWORK"
	CategorySecurity = "SECURITY"
	CategoryFirewall = "FIREWALL"
	CategorySystem   = "SYSTEM"
	CategoryTest     = "TEST"
)

// LogEntry 事件日志中的一条记录
type LogEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	Category    string    `json:"category"`
	Details     string    `json:"details"`
	Application string    `json:"application"`
	Port        int       `json:"port"`
	Protocol    string    `json:"protocol"`
	Critical    bool      `json:"critical"`
}

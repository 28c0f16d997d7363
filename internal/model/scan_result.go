package model

import "time"

// 设备在线状态
const (
	StatusOnline       = "Online"
	StatusOnlineNoPing = "Online (No Ping)"
	StatusOffline      = "Offline"
)

// Device 扫描发现的主机
type Device struct {
	Address   string `json:"address"`
	Hostname  string `json:"hostname"`
	Status    string `json:"status"`
	OpenPorts []int  `json:"open_ports"`
}

// ScanResult 一次扫描的结果
type ScanResult struct {
	Target    string        `json:"target"`
	FullScan  bool          `json:"full_scan"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
	Devices   []Device      `json:"devices"`
}

// ScanOptions 扫描命令的选项
type ScanOptions struct {
	Target       string
	Single       bool
	FullScan     bool
	OutputFile   string
	OutputFormat string // json, text, csv
}

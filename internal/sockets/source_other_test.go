//go:build !windows

package sockets

import (
	"syscall"
	"testing"

	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/FreeProject089/PortManager/internal/model"
)

func TestFromConnectionStats(t *testing.T) {
	stats := []gnet.ConnectionStat{
		{Type: syscall.SOCK_STREAM, Laddr: gnet.Addr{IP: "0.0.0.0", Port: 22}, Status: "LISTEN", Pid: 1},
		{Type: syscall.SOCK_STREAM, Laddr: gnet.Addr{IP: "10.0.0.2", Port: 40000}, Raddr: gnet.Addr{IP: "1.1.1.1", Port: 443}, Status: "SYN_RECV", Pid: 2},
		{Type: syscall.SOCK_DGRAM, Laddr: gnet.Addr{IP: "0.0.0.0", Port: 68}, Raddr: gnet.Addr{IP: "10.0.0.1", Port: 67}, Status: "NONE", Pid: 3},
		{Type: 99},
	}

	records := fromConnectionStats(stats)
	if len(records) != 3 {
		t.Fatalf("期望 3 条记录, 实际得到 %d", len(records))
	}
	if records[0].State != model.StateListen || records[0].RemoteAddress != "0.0.0.0" {
		t.Errorf("监听记录错误: %+v", records[0])
	}
	if records[1].State != model.StateSynRcvd || records[1].RemotePort != 443 {
		t.Errorf("SYN_RECV 应映射为 SYN_RCVD: %+v", records[1])
	}
	udp := records[2]
	if udp.Protocol != model.UDP || udp.State != model.StateNone || udp.RemoteAddress != "" {
		t.Errorf("UDP 记录错误: %+v", udp)
	}
}

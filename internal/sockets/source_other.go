//go:build !windows

package sockets

import (
	"context"
	"syscall"

	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/FreeProject089/PortManager/internal/model"
)

// psutilSource 在非 Windows 系统上通过 gopsutil 读取 inet4 连接
type psutilSource struct{}

func newPlatformSource() Source {
	return psutilSource{}
}

func (psutilSource) Connections(ctx context.Context) ([]model.ConnectionRecord, error) {
	conns, err := gnet.ConnectionsWithContext(ctx, "inet4")
	if err != nil {
		return nil, err
	}
	return fromConnectionStats(conns), nil
}

func fromConnectionStats(conns []gnet.ConnectionStat) []model.ConnectionRecord {
	records := make([]model.ConnectionRecord, 0, len(conns))
	for _, c := range conns {
		rec := model.ConnectionRecord{
			LocalAddress: c.Laddr.IP,
			LocalPort:    int(c.Laddr.Port),
			ProcessID:    int(c.Pid),
		}
		switch c.Type {
		case syscall.SOCK_STREAM:
			rec.Protocol = model.TCP
			rec.RemoteAddress = c.Raddr.IP
			rec.RemotePort = int(c.Raddr.Port)
			rec.State = psutilState(c.Status)
			if rec.RemoteAddress == "" {
				rec.RemoteAddress = "0.0.0.0"
			}
		case syscall.SOCK_DGRAM:
			rec.Protocol = model.UDP
			rec.State = model.StateNone
		default:
			continue
		}
		records = append(records, rec)
	}
	return records
}

func psutilState(s string) string {
	switch s {
	case "SYN_RECV":
		return model.StateSynRcvd
	case "CLOSE":
		return model.StateClosed
	case "", "NONE":
		return model.StateClosed
	}
	return s
}

//go:build windows

package sockets

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/FreeProject089/PortManager/internal/model"
)

var (
	iphlpapi           = windows.NewLazySystemDLL("iphlpapi.dll")
	procGetExtendedTcp = iphlpapi.NewProc("GetExtendedTcpTable")
	procGetExtendedUdp = iphlpapi.NewProc("GetExtendedUdpTable")
)

type iphlpSource struct{}

func newPlatformSource() Source {
	return iphlpSource{}
}

func callTable(proc *windows.LazyProc, class uintptr, buf []byte, size *uint32) error {
	var ptr uintptr
	if len(buf) > 0 {
		ptr = uintptr(unsafe.Pointer(&buf[0]))
	}

	r0, _, _ := proc.Call(
		ptr,
		uintptr(unsafe.Pointer(size)),
		0,
		uintptr(afINET),
		class,
		0,
	)

	switch windows.Errno(r0) {
	case 0:
		return nil
	case windows.ERROR_INSUFFICIENT_BUFFER:
		return errInsufficientBuffer
	}
	return fmt.Errorf("%s failed: %w", proc.Name, windows.Errno(r0))
}

func (iphlpSource) Connections(ctx context.Context) ([]model.ConnectionRecord, error) {
	tcpBuf, err := fetchTable(func(buf []byte, size *uint32) error {
		return callTable(procGetExtendedTcp, tcpTableOwnerPidAll, buf, size)
	})
	if err != nil {
		return nil, err
	}
	tcp, err := decodeTCPTable(tcpBuf)
	if err != nil {
		return nil, err
	}

	udpBuf, err := fetchTable(func(buf []byte, size *uint32) error {
		return callTable(procGetExtendedUdp, udpTableOwnerPid, buf, size)
	})
	if err != nil {
		return nil, err
	}
	udp, err := decodeUDPTable(udpBuf)
	if err != nil {
		return nil, err
	}

	return append(tcp, udp...), nil
}

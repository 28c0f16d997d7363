package sockets

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/FreeProject089/PortManager/internal/model"
)

const (
	afINET              = 2
	tcpTableOwnerPidAll = 5
	udpTableOwnerPid    = 1

	tcpRowSize = 24 // MIB_TCPROW_OWNER_PID: 6 x DWORD
	udpRowSize = 12 // MIB_UDPROW_OWNER_PID: 3 x DWORD
)

var (
	errInsufficientBuffer = errors.New("insufficient buffer")
	errTableGrew          = errors.New("connection table kept growing between calls")
)

// tableQuery 对应一次 GetExtended*Table 调用。
// buf 为 nil 时只查询所需大小；缓冲区不够时返回 errInsufficientBuffer 并把 size 更新为新的需求。
type tableQuery func(buf []byte, size *uint32) error

// fetchTable 两阶段读取：先查大小，再按该大小分配缓冲区读取。
// 两次调用之间表变大时重试一次，仍失败则放弃本轮。
func fetchTable(query tableQuery) ([]byte, error) {
	var size uint32
	if err := query(nil, &size); err != nil && !errors.Is(err, errInsufficientBuffer) {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		if size == 0 {
			return nil, fmt.Errorf("table size query returned 0")
		}
		buf := make([]byte, size)
		err := query(buf, &size)
		if err == nil {
			return buf, nil
		}
		if !errors.Is(err, errInsufficientBuffer) {
			return nil, err
		}
	}
	return nil, errTableGrew
}

// ntohs 端口以网络字节序存放在 DWORD 的低 16 位
func ntohs(v uint32) int {
	p := uint16(v & 0xffff)
	return int(p>>8 | p<<8)
}

func ipv4At(buf []byte, off int) string {
	return netip.AddrFrom4([4]byte(buf[off : off+4])).String()
}

func rowCount(buf []byte, rowSize int) (int, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("table buffer too short: %d bytes", len(buf))
	}
	n := int(binary.LittleEndian.Uint32(buf[0:4]))
	if need := 4 + n*rowSize; len(buf) < need {
		return 0, fmt.Errorf("table truncated: %d rows need %d bytes, have %d", n, need, len(buf))
	}
	return n, nil
}

// decodeTCPTable 解析 MIB_TCPTABLE_OWNER_PID
func decodeTCPTable(buf []byte) ([]model.ConnectionRecord, error) {
	n, err := rowCount(buf, tcpRowSize)
	if err != nil {
		return nil, err
	}

	records := make([]model.ConnectionRecord, 0, n)
	for i := 0; i < n; i++ {
		off := 4 + i*tcpRowSize
		row := buf[off : off+tcpRowSize]
		records = append(records, model.ConnectionRecord{
			Protocol:      model.TCP,
			State:         model.StateFromMIB(binary.LittleEndian.Uint32(row[0:4])),
			LocalAddress:  ipv4At(row, 4),
			LocalPort:     ntohs(binary.LittleEndian.Uint32(row[8:12])),
			RemoteAddress: ipv4At(row, 12),
			RemotePort:    ntohs(binary.LittleEndian.Uint32(row[16:20])),
			ProcessID:     int(binary.LittleEndian.Uint32(row[20:24])),
		})
	}
	return records, nil
}

// decodeUDPTable 解析 MIB_UDPTABLE_OWNER_PID，UDP 没有远端和状态
func decodeUDPTable(buf []byte) ([]model.ConnectionRecord, error) {
	n, err := rowCount(buf, udpRowSize)
	if err != nil {
		return nil, err
	}

	records := make([]model.ConnectionRecord, 0, n)
	for i := 0; i < n; i++ {
		off := 4 + i*udpRowSize
		row := buf[off : off+udpRowSize]
		records = append(records, model.ConnectionRecord{
			Protocol:     model.UDP,
			State:        model.StateNone,
			LocalAddress: ipv4At(row, 0),
			LocalPort:    ntohs(binary.LittleEndian.Uint32(row[4:8])),
			ProcessID:    int(binary.LittleEndian.Uint32(row[8:12])),
		})
	}
	return records, nil
}

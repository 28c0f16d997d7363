package sockets

import (
	"context"

	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/utils"
)

// Source 提供原始的 IPv4 TCP/UDP 连接列表
type Source interface {
	Connections(ctx context.Context) ([]model.ConnectionRecord, error)
}

// Reader 读取系统连接表，失败时返回空快照而不是错误
type Reader struct {
	source Source
	logger *utils.Logger
}

func NewReader() *Reader {
	return NewReaderWithSource(newPlatformSource())
}

func NewReaderWithSource(source Source) *Reader {
	return &Reader{
		source: source,
		logger: utils.NewLogger("sockets"),
	}
}

// GetSnapshot 返回当前连接表
func (r *Reader) GetSnapshot(ctx context.Context) (snapshot model.Snapshot) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("读取连接表 panic: %v", rec)
			snapshot = model.Snapshot{}
		}
	}()

	records, err := r.source.Connections(ctx)
	if err != nil {
		r.logger.Debug("读取连接表失败，本轮返回空快照: %v", err)
		return model.Snapshot{}
	}

	snapshot = make(model.Snapshot, 0, len(records))
	for _, rec := range records {
		if rec.Protocol != model.TCP && rec.Protocol != model.UDP {
			continue
		}
		if rec.LocalPort < 0 || rec.LocalPort > 65535 {
			continue
		}
		snapshot = append(snapshot, rec)
	}
	return snapshot
}

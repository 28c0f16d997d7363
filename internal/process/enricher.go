package process

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/utils"
)

// 进程查找失败时写入记录的描述性名称
const (
	NameSystem       = "System"
	NameExited       = "Unknown (Exited)"
	NameUnknown      = "Unknown"
	PathAccessDenied = "Access Denied / System"
)

var (
	ErrExited       = errors.New("process exited")
	ErrAccessDenied = errors.New("access denied")
)

// Lookup 按 pid 查询进程名和可执行路径。
// 进程已退出返回 ErrExited；只有路径不可读时返回名称和 ErrAccessDenied。
type Lookup interface {
	Lookup(ctx context.Context, pid int) (name, path string, err error)
}

type cached struct {
	name      string
	path      string
	err       error
	fetchedAt time.Time
}

// Enricher 为连接记录填充进程名和路径
type Enricher struct {
	lookup Lookup
	ttl    time.Duration
	logger *utils.Logger

	mu      sync.Mutex
	entries map[int]cached
}

func NewEnricher(lookup Lookup, ttl time.Duration) *Enricher {
	if lookup == nil {
		lookup = NewPsutilLookup()
	}
	return &Enricher{
		lookup:  lookup,
		ttl:     ttl,
		logger:  utils.NewLogger("process"),
		entries: make(map[int]cached),
	}
}

// Enrich 查询记录所属进程，任何失败都只体现在名称/路径上
func (e *Enricher) Enrich(ctx context.Context, rec *model.ConnectionRecord) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("查询进程 %d panic: %v", rec.ProcessID, r)
			rec.ProcessName = NameUnknown
		}
	}()

	if rec.ProcessID <= 0 {
		rec.ProcessName = NameSystem
		return
	}

	name, path, err := e.get(ctx, rec.ProcessID)
	switch {
	case errors.Is(err, ErrExited):
		rec.ProcessName = NameExited
		rec.ProcessPath = ""
	case errors.Is(err, ErrAccessDenied):
		rec.ProcessName = name
		rec.ProcessPath = PathAccessDenied
	case err != nil:
		e.logger.Debug("查询进程 %d 失败: %v", rec.ProcessID, err)
		rec.ProcessName = NameUnknown
	default:
		rec.ProcessName = name
		rec.ProcessPath = path
	}
	if rec.ProcessName == "" {
		rec.ProcessName = NameUnknown
	}
}

func (e *Enricher) get(ctx context.Context, pid int) (string, string, error) {
	now := time.Now()

	e.mu.Lock()
	if c, ok := e.entries[pid]; ok && now.Sub(c.fetchedAt) <= e.ttl {
		e.mu.Unlock()
		return c.name, c.path, c.err
	}
	e.mu.Unlock()

	name, path, err := e.lookup.Lookup(ctx, pid)

	e.mu.Lock()
	if e.ttl > 0 {
		e.entries[pid] = cached{name: name, path: path, err: err, fetchedAt: now}
	}
	e.mu.Unlock()

	return name, path, err
}

// Prune 清理过期缓存，每轮结束后调用
func (e *Enricher) Prune() {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for pid, c := range e.entries {
		if now.Sub(c.fetchedAt) > e.ttl {
			delete(e.entries, pid)
		}
	}
}

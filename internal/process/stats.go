package process

import (
	"context"
	"fmt"
	"sort"
	"time"
)

type MemoryUsage struct {
	Total   uint64
	Used    uint64
	Percent float64
}

// ProcessUsage 单个进程的内存占用
type ProcessUsage struct {
	PID      int     `json:"pid"`
	Name     string  `json:"name"`
	MemoryMB float64 `json:"memory_mb"`
}

// SystemStats 开机时长、内存和按内存排序的进程列表。读取失败的部分保持零值。
type SystemStats struct {
	Uptime    time.Duration  `json:"uptime"`
	Memory    MemoryUsage    `json:"memory"`
	Processes []ProcessUsage `json:"processes"`
}

type StatsSource interface {
	Uptime(ctx context.Context) (time.Duration, error)
	Memory(ctx context.Context) (MemoryUsage, error)
	Processes(ctx context.Context) ([]ProcessUsage, error)
}

// CollectStats 进程列表按内存从大到小排序，top > 0 时只保留前 top 个
func CollectStats(ctx context.Context, src StatsSource, top int) (*SystemStats, error) {
	stats := &SystemStats{}
	if up, err := src.Uptime(ctx); err == nil {
		stats.Uptime = up
	}
	if m, err := src.Memory(ctx); err == nil {
		stats.Memory = m
	}

	procs, err := src.Processes(ctx)
	if err != nil {
		return stats, fmt.Errorf("读取进程列表失败: %w", err)
	}

	for _, p := range procs {
		if p.PID == 0 || p.PID == 4 {
			continue
		}
		stats.Processes = append(stats.Processes, p)
	}
	sort.SliceStable(stats.Processes, func(i, j int) bool {
		return stats.Processes[i].MemoryMB > stats.Processes[j].MemoryMB
	})
	if top > 0 && len(stats.Processes) > top {
		stats.Processes = stats.Processes[:top]
	}
	return stats, nil
}

// FormatUptime 格式如 "3d 4h 12m"
func FormatUptime(d time.Duration) string {
	d = d.Truncate(time.Minute)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
}

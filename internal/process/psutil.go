package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// PsutilLookup 基于 gopsutil 的进程查询
type PsutilLookup struct{}

func NewPsutilLookup() *PsutilLookup {
	return &PsutilLookup{}
}

func (PsutilLookup) Lookup(ctx context.Context, pid int) (string, string, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return "", "", ErrExited
		}
		return "", "", err
	}

	name, err := p.NameWithContext(ctx)
	if err != nil {
		// 进程可能在查表和查询之间退出
		if running, rerr := p.IsRunningWithContext(ctx); rerr == nil && !running {
			return "", "", ErrExited
		}
		return "", "", err
	}

	exe, err := p.ExeWithContext(ctx)
	if err != nil {
		return name, "", fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}

	return name, exe, nil
}

func psutilKill(ctx context.Context, pid int) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return ErrExited
		}
		return err
	}
	return p.KillWithContext(ctx)
}

// PsutilStats 基于 gopsutil 的系统和进程资源统计
type PsutilStats struct{}

func (PsutilStats) Uptime(ctx context.Context) (time.Duration, error) {
	secs, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

func (PsutilStats) Memory(ctx context.Context) (MemoryUsage, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemoryUsage{}, err
	}
	return MemoryUsage{Total: vm.Total, Used: vm.Used, Percent: vm.UsedPercent}, nil
}

// Processes 读不到名称或内存的进程直接跳过
func (PsutilStats) Processes(ctx context.Context) ([]ProcessUsage, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ProcessUsage, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		info, err := p.MemoryInfoWithContext(ctx)
		if err != nil || info == nil {
			continue
		}
		out = append(out, ProcessUsage{
			PID:      int(p.Pid),
			Name:     name,
			MemoryMB: float64(info.RSS) / 1024 / 1024,
		})
	}
	return out, nil
}

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/monitor"
)

func newMonitorCmd(a *app) *cobra.Command {
	var (
		once     bool
		search   string
		format   string
		identify bool
		newPort  bool
		suspect  bool
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "监视本机的 TCP/UDP 端点",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFormat(format)
			if err != nil {
				return err
			}
			out := NewOutputFormatter(f)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mon, dns := a.Monitor()
			if cmd.Flags().Changed("new-port-alerts") {
				mon.SetNewPortAlerts(newPort)
			}
			if cmd.Flags().Changed("suspicious-alerts") {
				mon.SetSuspiciousAlerts(suspect)
			}

			if once {
				snap := mon.Cycle(ctx)
				if identify {
					identifyListeners(ctx, mon, snap)
				}
				waitDNS(dns.Wait, 3*time.Second)
				snap = mon.Cycle(ctx)
				return out.WriteSnapshot(color.Output, monitor.Filter(snap, search))
			}

			if a.cfg.Metrics.Listen != "" {
				go func() {
					if err := a.metrics.Serve(ctx, a.cfg.Metrics.Listen); err != nil {
						a.logger.Error("指标服务启动失败: %v", err)
					}
				}()
			}

			watcher := &changePrinter{search: search}
			mon.OnSnapshot = watcher.print
			a.logger.Info("开始监视 (间隔 %s), Ctrl+C 退出", a.cfg.Monitor.Interval)
			a.Journal().LogSystem("Monitoring started")
			mon.Run(ctx)
			a.Journal().LogSystem("Monitoring stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "采集一次后输出并退出")
	cmd.Flags().StringVarP(&search, "search", "s", "", "按端口、进程名、远端地址或主机名过滤")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "输出格式 (text, json, csv)")
	cmd.Flags().BoolVar(&newPort, "new-port-alerts", true, "新端口出现时写入日志 (默认取配置文件)")
	cmd.Flags().BoolVar(&suspect, "suspicious-alerts", true, "可疑端口出现时写入日志 (默认取配置文件)")
	cmd.Flags().BoolVar(&identify, "identify", false, "对监听中的 TCP 端口做服务识别 (仅 --once)")
	return cmd
}

func identifyListeners(ctx context.Context, mon *monitor.Monitor, snap model.Snapshot) {
	for _, r := range snap {
		if r.Protocol == model.TCP && r.State == model.StateListen {
			mon.IdentifyService(ctx, r)
		}
	}
}

func waitDNS(wait func(), timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// changePrinter 持续监视时只输出新出现和消失的端点
type changePrinter struct {
	search string
	prev   map[model.Key]model.ConnectionRecord
}

func (p *changePrinter) print(snap model.Snapshot) {
	snap = monitor.Filter(snap, p.search)
	current := make(map[model.Key]model.ConnectionRecord, len(snap))
	for _, r := range snap {
		current[r.Key()] = r
	}

	now := time.Now().Format("15:04:05")
	if p.prev == nil {
		fmt.Fprintf(color.Output, "[%s] 当前 %d 个端点, %d 个可疑\n", now, len(current), snap.SuspiciousCount())
	} else {
		for k, r := range current {
			if _, ok := p.prev[k]; !ok {
				line := fmt.Sprintf("[%s] + %d/%s %s (pid %d)", now, k.LocalPort, k.Protocol, r.ProcessName, r.ProcessID)
				if r.Suspicious {
					colorDanger.Fprintln(color.Output, line+" ⚠ "+r.SuspiciousReason)
				} else {
					colorOnline.Fprintln(color.Output, line)
				}
			}
		}
		for k := range p.prev {
			if _, ok := current[k]; !ok {
				colorFaint.Fprintf(color.Output, "[%s] - %d/%s %s\n", now, k.LocalPort, k.Protocol, k.ProcessName)
			}
		}
	}
	p.prev = current
}

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/process"
)

func newKillCmd(a *app) *cobra.Command {
	var (
		port  int
		proto string
		yes   bool
	)

	cmd := &cobra.Command{
		Use:   "kill",
		Short: "结束占用端口的进程",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validatePort(port); err != nil {
				return err
			}
			protocols, err := parseProtocols(proto)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			mon, _ := a.Monitor()
			mon.Cycle(ctx)
			owners := portOwners(mon.Latest(), port, protocols)
			if len(owners) == 0 {
				return fmt.Errorf("没有进程占用端口 %d", port)
			}

			out := cmd.OutOrStdout()
			killer := a.Killer()
			in := bufio.NewReader(cmd.InOrStdin())
			var errs []error
			for _, rec := range owners {
				if !yes && !confirm(in, out, fmt.Sprintf("结束进程 %s (pid %d, %d/%s)?", rec.ProcessName, rec.ProcessID, rec.LocalPort, rec.Protocol)) {
					continue
				}
				if err := killer.ClosePort(ctx, rec); err != nil {
					colorDanger.Fprintln(out, err)
					errs = append(errs, err)
					continue
				}
				colorOnline.Fprintf(out, "已结束 %s (pid %d)\n", rec.ProcessName, rec.ProcessID)
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "端口号")
	cmd.Flags().StringVar(&proto, "proto", "both", "协议 (tcp, udp, both)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "不询问直接结束")
	cmd.MarkFlagRequired("port")
	return cmd
}

// portOwners 每个进程只返回一条记录
func portOwners(snap model.Snapshot, port int, protocols []model.Protocol) []model.ConnectionRecord {
	want := make(map[model.Protocol]bool, len(protocols))
	for _, p := range protocols {
		want[p] = true
	}

	seen := make(map[int]bool)
	var out []model.ConnectionRecord
	for _, r := range snap {
		if r.LocalPort != port || !want[r.Protocol] || r.ProcessID <= 0 || seen[r.ProcessID] {
			continue
		}
		seen[r.ProcessID] = true
		out = append(out, r)
	}
	return out
}

func confirm(in *bufio.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, _ := in.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func newStatsCmd(a *app) *cobra.Command {
	var (
		top    int
		format string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "显示开机时长、内存和占用内存最多的进程",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFormat(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			stats, err := process.CollectStats(ctx, process.PsutilStats{}, top)
			if err != nil {
				a.logger.Warn("%v", err)
			}
			return NewOutputFormatter(f).WriteStats(color.Output, stats)
		},
	}

	cmd.Flags().IntVarP(&top, "top", "n", 20, "只显示内存占用最多的 N 个进程 (0 表示全部)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "输出格式 (text, json)")
	return cmd
}

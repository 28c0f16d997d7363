package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/scanner"
)

func newScanCmd(a *app) *cobra.Command {
	var (
		subnet string
		host   string
		ports  string
		full   bool
		format string
		output string
		noSave bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "扫描局域网或单个主机",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := scanOptions(subnet, host, full, format, output)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s := a.Scanner()
			var result *model.ScanResult

			if opts.Single {
				list := model.Top100Ports
				if ports != "" {
					if list, err = scanner.ParsePortRange(ports); err != nil {
						return err
					}
				}
				result, err = s.ScanDevicePorts(ctx, opts.Target, list, opts.FullScan)
			} else {
				if opts.Target == "" {
					opts.Target = scanner.LocalSubnetPrefix()
					a.logger.Info("未指定子网, 使用本机网段 %s", opts.Target)
				}
				result, err = s.ScanSubnet(ctx, opts.Target)
			}
			if err != nil {
				return err
			}

			if !noSave {
				saveScan(a, result)
			}

			return NewOutputFormatter(opts.OutputFormat).PrintScan(*result, opts.OutputFile)
		},
	}

	cmd.Flags().StringVar(&subnet, "subnet", "", "子网前缀, 如 192.168.1. 或 192.168.1.0/24")
	cmd.Flags().StringVar(&host, "host", "", "扫描单个主机")
	cmd.Flags().StringVarP(&ports, "ports", "p", "", "单主机扫描的端口 (默认常用 100 个端口)")
	cmd.Flags().BoolVar(&full, "full", false, "主机看起来离线时也扫描端口")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "输出格式 (text, json, csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "输出文件")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "不保存到扫描历史")

	cmd.AddCommand(newScanHistoryCmd(a))
	return cmd
}

func saveScan(a *app, result *model.ScanResult) {
	st, err := a.Store()
	if err != nil {
		a.logger.Warn("打开数据库失败, 扫描结果未保存: %v", err)
		return
	}
	if _, err := st.SaveScan(result); err != nil {
		a.logger.Warn("保存扫描结果失败: %v", err)
	}
}

func newScanHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		showID int64
		format string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "查看扫描历史",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFormat(format)
			if err != nil {
				return err
			}

			st, err := a.Store()
			if err != nil {
				return err
			}

			if showID > 0 {
				devices, err := st.ScanDevices(showID)
				if err != nil {
					return err
				}
				return NewOutputFormatter(f).WriteScan(cmd.OutOrStdout(), model.ScanResult{
					Target:  fmt.Sprintf("#%d", showID),
					Devices: devices,
				})
			}

			scans, err := st.RecentScans(limit)
			if err != nil {
				return err
			}
			if len(scans) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "没有扫描历史")
				return nil
			}
			for _, s := range scans {
				fmt.Fprintf(cmd.OutOrStdout(), "#%d  %s  %-18s  设备 %d  用时 %s\n",
					s.ID, s.StartedAt.Local().Format(timeLayoutOut), s.Target, s.DeviceCount, s.Elapsed)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "显示条数")
	cmd.Flags().Int64Var(&showID, "id", 0, "显示某次扫描发现的设备")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "输出格式 (text, json, csv)")
	return cmd
}

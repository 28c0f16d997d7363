package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/upnp"
)

func newIdentifyCmd(a *app) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "identify",
		Short: "读取端口 banner 识别服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validatePort(port); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			service := a.Fingerprinter().Identify(ctx, host, port)
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%s  %s\n", host, strconv.Itoa(port), service)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "目标主机")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "端口号")
	cmd.MarkFlagRequired("port")
	return cmd
}

func newExternalCmd(a *app) *cobra.Command {
	var (
		port    int
		gateway bool
	)

	cmd := &cobra.Command{
		Use:   "external",
		Short: "查询公网 IP、NAT 状态, 或检测端口能否从外网访问",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r := a.Reachability()
			out := cmd.OutOrStdout()

			if port == 0 {
				fmt.Fprintf(out, "Public IP:  %s\n", r.PublicIP(ctx))
				fmt.Fprintf(out, "NAT:        %s\n", r.NatStatus(ctx))
				if gateway {
					ip, err := upnp.NewManager(a.cfg.Upnp.DiscoveryTimeout).ExternalIP(ctx)
					if err != nil {
						ip = fmt.Sprintf("不可用 (%v)", err)
					}
					fmt.Fprintf(out, "Gateway:    %s\n", ip)
				}
				return nil
			}

			if err := validatePort(port); err != nil {
				return err
			}
			open, msg := r.CheckPort(ctx, port)
			if open {
				colorOnline.Fprintln(out, msg)
			} else {
				colorDanger.Fprintln(out, msg)
			}
			a.Journal().Log(model.EventNetwork, model.CategoryTest, msg, "PortManager", port, string(model.TCP), false)
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "要检测的端口")
	cmd.Flags().BoolVar(&gateway, "upnp", false, "同时查询 UPnP 网关报告的外网地址")
	return cmd
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/FreeProject089/PortManager/internal/listener"
	"github.com/FreeProject089/PortManager/internal/model"
)

func newListenCmd(a *app) *cobra.Command {
	var (
		port        int
		proto       string
		firewall    bool
		useUpnp     bool
		forwardOnly bool
		ruleName    string
		restore     bool
		persist     bool
		profile     string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "打开端口并保持监听, 可选添加防火墙规则和 UPnP 映射",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == 0 && !restore && profile == "" {
				return errors.New("需要 --port, --restore 或 --profile")
			}
			forwardOnlyDefaults(cmd.Flags().Changed, forwardOnly, &useUpnp, &firewall)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := a.Listeners()
			out := cmd.OutOrStdout()

			if restore {
				n, err := restoreListeners(ctx, a, m)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "已恢复 %d 个监听器\n", n)
			}
			if profile != "" {
				name, n, err := startProfile(ctx, a, m, profile)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "已从配置集 %s 启动 %d 个监听器\n", name, n)
			}

			if port != 0 {
				if err := validatePort(port); err != nil {
					return err
				}
				protocols, err := parseProtocols(proto)
				if err != nil {
					return err
				}
				opts := listener.Options{
					AddFirewallRule: firewall,
					UseUpnp:         useUpnp,
					ForwardOnly:     forwardOnly,
					RuleName:        ruleName,
				}
				if err := startListeners(ctx, m, out, port, protocols, opts); err != nil {
					return err
				}
			}

			if len(m.Active()) == 0 {
				return errors.New("没有活动的监听器")
			}

			fmt.Fprintln(out, "按 Ctrl+C 停止")
			<-ctx.Done()

			// 信号到达后 ctx 已取消, 清理使用新的 context
			cleanup := context.Background()
			if persist {
				if err := saveListeners(a, m.Descriptors()); err != nil {
					a.logger.Warn("保存监听器失败: %v", err)
				}
				n := m.CloseAll()
				fmt.Fprintf(out, "已关闭 %d 个监听器, 规则已保留到下次 --restore\n", n)
				return nil
			}
			m.StopAll(cleanup)
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "端口号")
	cmd.Flags().StringVar(&proto, "proto", "tcp", "协议 (tcp, udp, both)")
	cmd.Flags().BoolVar(&firewall, "firewall", false, "添加入站防火墙规则")
	cmd.Flags().BoolVar(&useUpnp, "upnp", false, "在路由器上创建 UPnP 端口映射")
	cmd.Flags().BoolVar(&forwardOnly, "forward-only", false, "只做端口映射, 不在本机绑定端口")
	cmd.Flags().StringVar(&ruleName, "name", "", "防火墙规则名 (默认 PortManager_<端口>_<协议>)")
	cmd.Flags().BoolVar(&restore, "restore", false, "恢复上次保存的监听器")
	cmd.Flags().StringVar(&profile, "profile", "", "启动配置集中的监听器 (active 表示当前激活的配置集)")
	cmd.Flags().BoolVar(&persist, "persist", false, "退出时保存监听器并保留防火墙规则")
	return cmd
}

// forwardOnlyDefaults 只做端口映射时，未显式给出的 --upnp 和 --firewall 默认开启
func forwardOnlyDefaults(changed func(name string) bool, forwardOnly bool, useUpnp, firewall *bool) {
	if !forwardOnly {
		return
	}
	if !changed("upnp") {
		*useUpnp = true
	}
	if !changed("firewall") {
		*firewall = true
	}
}

func startListeners(ctx context.Context, m *listener.Manager, out io.Writer, port int, protocols []model.Protocol, opts listener.Options) error {
	if len(protocols) == 2 {
		results, err := m.StartBoth(ctx, port, opts)
		for _, proto := range protocols {
			if res, ok := results[proto]; ok {
				printStartResult(out, res)
			}
		}
		if len(results) == 0 {
			return err
		}
		if err != nil {
			colorWarn.Fprintf(out, "部分协议启动失败: %v\n", err)
		}
		return nil
	}

	res, err := m.Start(ctx, port, protocols[0], opts)
	if err != nil {
		return err
	}
	printStartResult(out, res)
	return nil
}

func printStartResult(w io.Writer, res *listener.StartResult) {
	l := res.Listener
	colorTitle.Fprintf(w, "%d/%s\n", l.Port, l.Protocol)
	printStep(w, "Socket", res.Socket, nil)
	printStep(w, "Firewall", res.Firewall, res.FirewallErr)
	printStep(w, "UPnP", res.Mapping, res.MappingErr)
}

func printStep(w io.Writer, name string, outcome model.StepOutcome, err error) {
	var c *color.Color
	switch outcome {
	case model.StepSucceeded:
		c = colorOnline
	case model.StepFailed:
		c = colorDanger
	default:
		c = colorFaint
	}
	line := fmt.Sprintf("  %-9s %s", name, outcome)
	if err != nil {
		line += fmt.Sprintf(" (%v)", err)
	}
	c.Fprintln(w, line)
}

func restoreListeners(ctx context.Context, a *app, m *listener.Manager) (int, error) {
	st, err := a.Store()
	if err != nil {
		return 0, err
	}

	descriptors, err := st.LoadListeners()
	if err != nil {
		return 0, err
	}
	n := m.Restore(ctx, descriptors)
	a.Journal().LogSystem(fmt.Sprintf("Restored %d of %d saved listeners", n, len(descriptors)))
	return n, nil
}

func startProfile(ctx context.Context, a *app, m *listener.Manager, name string) (string, int, error) {
	st, err := a.Store()
	if err != nil {
		return "", 0, err
	}
	if strings.EqualFold(name, "active") {
		if name, err = st.ActiveProfile(); err != nil {
			return "", 0, err
		}
	}

	p, err := st.Profile(name)
	if err != nil {
		return "", 0, err
	}
	n := m.Launch(ctx, p.Listeners)
	a.Journal().LogSystem(fmt.Sprintf("Started %d of %d listeners from profile '%s'", n, len(p.Listeners), p.Name))
	return p.Name, n, nil
}

func saveListeners(a *app, descriptors []model.ListenerDescriptor) error {
	st, err := a.Store()
	if err != nil {
		return err
	}
	return st.SaveListeners(descriptors)
}

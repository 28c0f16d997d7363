package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FreeProject089/PortManager/internal/config"
	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/store"
)

func newProfilesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "管理命名的监听器配置集",
	}

	cmd.AddCommand(
		newProfilesListCmd(a),
		newProfilesCreateCmd(a),
		newProfilesDeleteCmd(a),
		newProfilesUseCmd(a),
		newProfilesShowCmd(a),
		newProfilesAddCmd(a),
		newProfilesRemoveCmd(a),
		newProfilesImportSessionCmd(a),
		newProfilesExportCmd(a),
		newProfilesImportCmd(a),
	)
	return cmd
}

// profileArg 未指定名称时使用当前激活的配置集
func profileArg(st *store.Store, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return st.ActiveProfile()
}

func newProfilesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "列出配置集, * 表示当前激活",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.Store()
			if err != nil {
				return err
			}
			active, err := st.ActiveProfile()
			if err != nil {
				return err
			}
			profiles, err := st.Profiles()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, p := range profiles {
				mark := " "
				if strings.EqualFold(p.Name, active) {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %s (%d 个监听器)\n", mark, p.Name, len(p.Listeners))
			}
			return nil
		},
	}
}

func newProfilesCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "创建空的配置集",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.Store()
			if err != nil {
				return err
			}
			if err := st.CreateProfile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已创建配置集 %s\n", args[0])
			return nil
		},
	}
}

func newProfilesDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "删除配置集 (Default 不能删除)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.Store()
			if err != nil {
				return err
			}
			if err := st.DeleteProfile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已删除配置集 %s\n", args[0])
			return nil
		},
	}
}

func newProfilesUseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "use <name>",
		Short: "设置当前激活的配置集",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.Store()
			if err != nil {
				return err
			}
			if err := st.SetActiveProfile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "当前配置集: %s\n", args[0])
			return nil
		},
	}
}

func newProfilesShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [name]",
		Short: "显示配置集中的监听器",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.Store()
			if err != nil {
				return err
			}
			name, err := profileArg(st, args)
			if err != nil {
				return err
			}
			p, err := st.Profile(name)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorTitle.Fprintf(out, "%s\n", p.Name)
			if len(p.Listeners) == 0 {
				colorFaint.Fprintln(out, "  (空)")
			}
			for _, d := range p.Listeners {
				fmt.Fprintf(out, "  %s\n", descriptorText(d))
			}
			return nil
		},
	}
}

func descriptorText(d model.ListenerDescriptor) string {
	s := fmt.Sprintf("%d/%s", d.Port, d.Protocol)
	if d.FirewallRuleName != "" {
		s += " firewall=" + d.FirewallRuleName
	}
	if d.UpnpEnabled {
		s += " upnp"
	}
	if d.ForwardOnly {
		s += " forward-only"
	}
	return s
}

func newProfilesAddCmd(a *app) *cobra.Command {
	var (
		port        int
		proto       string
		firewall    bool
		useUpnp     bool
		forwardOnly bool
		ruleName    string
	)

	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "向配置集添加监听器",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validatePort(port); err != nil {
				return err
			}
			protocols, err := parseProtocols(proto)
			if err != nil {
				return err
			}
			forwardOnlyDefaults(cmd.Flags().Changed, forwardOnly, &useUpnp, &firewall)

			st, err := a.Store()
			if err != nil {
				return err
			}
			name, err := profileArg(st, args)
			if err != nil {
				return err
			}

			descriptors := make([]model.ListenerDescriptor, 0, len(protocols))
			for _, p := range protocols {
				d := model.ListenerDescriptor{Port: port, Protocol: p, UpnpEnabled: useUpnp, ForwardOnly: forwardOnly}
				if firewall {
					d.FirewallRuleName = ruleName
					if d.FirewallRuleName == "" {
						d.FirewallRuleName = model.FirewallRuleName(port, p)
					}
				}
				descriptors = append(descriptors, d)
			}

			n, err := st.AddToProfile(name, descriptors...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已向 %s 添加 %d 个监听器\n", name, n)
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "端口号")
	cmd.Flags().StringVar(&proto, "proto", "tcp", "协议 (tcp, udp, both)")
	cmd.Flags().BoolVar(&firewall, "firewall", false, "启动时添加入站防火墙规则")
	cmd.Flags().BoolVar(&useUpnp, "upnp", false, "启动时创建 UPnP 端口映射")
	cmd.Flags().BoolVar(&forwardOnly, "forward-only", false, "只做端口映射, 不在本机绑定端口")
	cmd.Flags().StringVar(&ruleName, "name", "", "防火墙规则名 (默认 PortManager_<端口>_<协议>)")
	cmd.MarkFlagRequired("port")
	return cmd
}

func newProfilesRemoveCmd(a *app) *cobra.Command {
	var (
		port  int
		proto string
	)

	cmd := &cobra.Command{
		Use:   "remove [name]",
		Short: "从配置集移除监听器",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			protocols, err := parseProtocols(proto)
			if err != nil {
				return err
			}
			st, err := a.Store()
			if err != nil {
				return err
			}
			name, err := profileArg(st, args)
			if err != nil {
				return err
			}

			removed := 0
			for _, p := range protocols {
				ok, err := st.RemoveFromProfile(name, port, p)
				if err != nil {
					return err
				}
				if ok {
					removed++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已从 %s 移除 %d 个监听器\n", name, removed)
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "端口号")
	cmd.Flags().StringVar(&proto, "proto", "tcp", "协议 (tcp, udp, both)")
	cmd.MarkFlagRequired("port")
	return cmd
}

func newProfilesImportSessionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import-session [name]",
		Short: "把上次保存的监听器加入配置集",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.Store()
			if err != nil {
				return err
			}
			name, err := profileArg(st, args)
			if err != nil {
				return err
			}
			session, err := st.LoadListeners()
			if err != nil {
				return err
			}

			n, err := st.AddToProfile(name, session...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已向 %s 导入 %d 个监听器\n", name, n)
			return nil
		},
	}
}

func newProfilesExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "把保存的监听器和所有配置集导出为 YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.Store()
			if err != nil {
				return err
			}

			var set config.ProfileSet
			if set.ActiveProfile, err = st.ActiveProfile(); err != nil {
				return err
			}
			if set.Session, err = st.LoadListeners(); err != nil {
				return err
			}
			if set.Profiles, err = st.Profiles(); err != nil {
				return err
			}

			if err := config.ExportProfiles(args[0], set); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已导出 %d 个监听器和 %d 个配置集到 %s\n", len(set.Session), len(set.Profiles), args[0])
			return nil
		},
	}
}

func newProfilesImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>",
		Short: "从 YAML 导入监听器和配置集, 替换同名配置",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := config.ImportProfiles(args[0])
			if err != nil {
				return err
			}
			st, err := a.Store()
			if err != nil {
				return err
			}

			if err := st.SaveListeners(set.Session); err != nil {
				return err
			}
			for _, p := range set.Profiles {
				if err := st.ReplaceProfile(p); err != nil {
					return err
				}
			}
			if set.ActiveProfile != "" {
				if err := st.SetActiveProfile(set.ActiveProfile); err != nil {
					a.logger.Warn("无法激活配置集 %s: %v", set.ActiveProfile, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已导入 %d 个监听器和 %d 个配置集, 使用 listen --restore 或 --profile 启动\n",
				len(set.Session), len(set.Profiles))
			return nil
		},
	}
}

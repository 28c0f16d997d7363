package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/FreeProject089/PortManager/internal/config"
	"github.com/FreeProject089/PortManager/internal/utils"
)

const version = "1.0.0"

// Execute 入口
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
		quiet      bool
		a          *app
	)

	root := &cobra.Command{
		Use:           "portmanager",
		Short:         "PortManager - 本机端口监视、局域网扫描与端口开放工具",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			utils.SetLevel(cfg.Log.Level)
			if verbose || os.Getenv("DEBUG") == "true" {
				utils.SetLevel("debug")
			}
			if quiet {
				utils.SetQuiet()
			}
			*a = *newApp(cfg)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.Close()
		},
	}

	a = &app{}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径 (默认查找 portmanager.yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "显示调试日志")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "只显示错误日志")

	root.AddCommand(
		newMonitorCmd(a),
		newScanCmd(a),
		newListenCmd(a),
		newIdentifyCmd(a),
		newExternalCmd(a),
		newLogsCmd(a),
		newProfilesCmd(a),
		newKillCmd(a),
		newStatsCmd(a),
	)
	return root
}

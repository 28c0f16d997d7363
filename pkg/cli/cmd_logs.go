package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newLogsCmd(a *app) *cobra.Command {
	var (
		export string
		clear  bool
		format string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "查看、导出或清空事件日志",
		RunE: func(cmd *cobra.Command, args []string) error {
			j := a.Journal()
			out := cmd.OutOrStdout()

			if clear {
				j.Clear()
				fmt.Fprintln(out, "日志已清空")
				return nil
			}
			if export != "" {
				if err := j.Export(export); err != nil {
					return err
				}
				fmt.Fprintf(out, "已导出 %d 条日志到 %s\n", len(j.Entries()), export)
				return nil
			}

			f, err := parseFormat(format)
			if err != nil {
				return err
			}
			if j.HasCriticalUnseen() {
				colorDanger.Fprintln(color.Output, "有未查看的严重事件")
			}
			entries := j.Entries()
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			if err := NewOutputFormatter(f).WriteLogs(color.Output, entries); err != nil {
				return err
			}
			j.MarkSeen()
			return nil
		},
	}

	cmd.Flags().StringVarP(&export, "export", "e", "", "导出为 CSV 文件")
	cmd.Flags().BoolVar(&clear, "clear", false, "清空日志")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "输出格式 (text, json, csv)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "只显示最新的 N 条")
	return cmd
}

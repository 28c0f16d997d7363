package cli

import (
	"fmt"
	"strings"

	"github.com/FreeProject089/PortManager/internal/model"
)

var outputFormats = []string{"text", "json", "csv"}

// parseFormat 校验输出格式
func parseFormat(format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		return "text", nil
	}
	for _, f := range outputFormats {
		if f == format {
			return format, nil
		}
	}
	return "", fmt.Errorf("无效的输出格式 %q (可选: %s)", format, strings.Join(outputFormats, ", "))
}

// parseProtocols 接受 tcp、udp 或 both
func parseProtocols(s string) ([]model.Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tcp":
		return []model.Protocol{model.TCP}, nil
	case "udp":
		return []model.Protocol{model.UDP}, nil
	case "both", "tcp+udp":
		return []model.Protocol{model.TCP, model.UDP}, nil
	}
	return nil, fmt.Errorf("无效的协议 %q (可选: tcp, udp, both)", s)
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("端口号必须在 1-65535 之间: %d", port)
	}
	return nil
}

// scanOptions 把 scan 命令的参数整理为 model.ScanOptions
func scanOptions(subnet, host string, full bool, format, output string) (model.ScanOptions, error) {
	opts := model.ScanOptions{FullScan: full, OutputFile: output}

	f, err := parseFormat(format)
	if err != nil {
		return opts, err
	}
	opts.OutputFormat = f

	switch {
	case subnet != "" && host != "":
		return opts, fmt.Errorf("--subnet 和 --host 不能同时使用")
	case host != "":
		opts.Target = host
		opts.Single = true
	default:
		opts.Target = subnet
	}
	return opts, nil
}

package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/process"
)

var (
	colorTitle    = color.New(color.FgCyan, color.Bold)
	colorOnline   = color.New(color.FgGreen)
	colorWarn     = color.New(color.FgYellow)
	colorDanger   = color.New(color.FgRed, color.Bold)
	colorFaint    = color.New(color.Faint)
	timeLayoutOut = "2006-01-02 15:04:05"
)

type OutputFormatter struct {
	format string
}

func NewOutputFormatter(format string) *OutputFormatter {
	return &OutputFormatter{format: strings.ToLower(format)}
}

// emit 输出到文件或标准输出。写文件时不带颜色。
func emit(outputFile string, render func(w io.Writer) error) error {
	if outputFile == "" {
		return render(color.Output)
	}

	f, err := os.Create(outputFile)
	if err != nil {
		return err
	}
	defer f.Close()

	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	return render(f)
}

func (of *OutputFormatter) PrintScan(result model.ScanResult, outputFile string) error {
	return emit(outputFile, func(w io.Writer) error { return of.WriteScan(w, result) })
}

func (of *OutputFormatter) WriteScan(w io.Writer, result model.ScanResult) error {
	switch of.format {
	case "json":
		return writeJSON(w, result)
	case "csv":
		return writeScanCSV(w, result)
	default:
		return writeScanText(w, result)
	}
}

func writeScanText(w io.Writer, result model.ScanResult) error {
	var b strings.Builder

	colorTitle.Fprintf(&b, "\nPortManager 网络扫描\n")
	b.WriteString(strings.Repeat("═", 60) + "\n")
	fmt.Fprintf(&b, "目标: %s\n", result.Target)
	fmt.Fprintf(&b, "开始: %s  用时: %s\n\n", result.StartedAt.Format(timeLayoutOut), result.Elapsed.Round(time.Millisecond))

	if len(result.Devices) == 0 {
		colorWarn.Fprintln(&b, "未发现在线设备")
		_, err := io.WriteString(w, b.String())
		return err
	}

	tw := tabwriter.NewWriter(&b, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "地址\t主机名\t状态\t开放端口")
	for _, d := range result.Devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Address, d.Hostname, statusText(d.Status), portsText(d.OpenPorts))
	}
	tw.Flush()

	b.WriteString("\n" + strings.Repeat("═", 60) + "\n")
	fmt.Fprintf(&b, "共 %d 台设备\n", len(result.Devices))

	_, err := io.WriteString(w, b.String())
	return err
}

func statusText(status string) string {
	switch status {
	case model.StatusOnline:
		return colorOnline.Sprint(status)
	case model.StatusOnlineNoPing:
		return colorWarn.Sprint(status)
	default:
		return colorFaint.Sprint(status)
	}
}

// portsText 没有开放端口时显示 "None (scanned)"
func portsText(ports []int) string {
	if len(ports) == 0 {
		return "None (scanned)"
	}
	parts := make([]string, len(ports))
	for i, p := range ports {
		name := model.ServiceByPort(p)
		if name == "Unknown" {
			parts[i] = strconv.Itoa(p)
		} else {
			parts[i] = fmt.Sprintf("%d (%s)", p, name)
		}
	}
	return strings.Join(parts, ", ")
}

func writeScanCSV(w io.Writer, result model.ScanResult) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"Address", "Hostname", "Status", "OpenPorts"})
	for _, d := range result.Devices {
		ports := make([]string, len(d.OpenPorts))
		for i, p := range d.OpenPorts {
			ports[i] = strconv.Itoa(p)
		}
		cw.Write([]string{d.Address, d.Hostname, d.Status, strings.Join(ports, ";")})
	}
	cw.Flush()
	return cw.Error()
}

func (of *OutputFormatter) WriteSnapshot(w io.Writer, snap model.Snapshot) error {
	switch of.format {
	case "json":
		return writeJSON(w, snap)
	case "csv":
		return writeSnapshotCSV(w, snap)
	default:
		return writeSnapshotText(w, snap)
	}
}

func writeSnapshotText(w io.Writer, snap model.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "协议\t本地地址\t远端地址\t主机名\t状态\tPID\t进程\t服务\t外网\t备注")

	for _, r := range snap {
		remote := "-"
		if r.RemoteAddress != "" {
			remote = fmt.Sprintf("%s:%d", r.RemoteAddress, r.RemotePort)
		}
		note := ""
		if r.Suspicious {
			note = colorDanger.Sprint("⚠ " + r.SuspiciousReason)
		}
		fmt.Fprintf(tw, "%s\t%s:%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			r.Protocol, r.LocalAddress, r.LocalPort, remote, orDash(r.RemoteHostname),
			r.State, r.ProcessID, orDash(r.ProcessName), orDash(r.ServiceName), orDash(r.ExternalStatus), note)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	summary := fmt.Sprintf("\n%d 条连接, %d 条可疑\n", len(snap), snap.SuspiciousCount())
	if snap.SuspiciousCount() > 0 {
		summary = colorDanger.Sprint(summary)
	}
	_, err := io.WriteString(w, summary)
	return err
}

func writeSnapshotCSV(w io.Writer, snap model.Snapshot) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"Protocol", "LocalAddress", "LocalPort", "RemoteAddress", "RemotePort", "State",
		"PID", "Process", "Path", "Suspicious", "Reason", "Hostname", "Service", "External"})
	for _, r := range snap {
		cw.Write([]string{
			string(r.Protocol), r.LocalAddress, strconv.Itoa(r.LocalPort),
			r.RemoteAddress, strconv.Itoa(r.RemotePort), r.State,
			strconv.Itoa(r.ProcessID), r.ProcessName, r.ProcessPath,
			strconv.FormatBool(r.Suspicious), r.SuspiciousReason,
			r.RemoteHostname, r.ServiceName, r.ExternalStatus,
		})
	}
	cw.Flush()
	return cw.Error()
}

func (of *OutputFormatter) WriteLogs(w io.Writer, entries []model.LogEntry) error {
	switch of.format {
	case "json":
		return writeJSON(w, entries)
	case "csv":
		cw := csv.NewWriter(w)
		cw.Write([]string{"Timestamp", "EventType", "Category", "Port", "Protocol", "Application", "Details", "Critical"})
		for _, e := range entries {
			cw.Write([]string{e.Timestamp.Format(timeLayoutOut), e.EventType, e.Category, strconv.Itoa(e.Port),
				e.Protocol, e.Application, e.Details, strconv.FormatBool(e.Critical)})
		}
		cw.Flush()
		return cw.Error()
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "时间\t事件\t类别\t端口\t应用\t详情")
	for _, e := range entries {
		event := e.EventType
		if e.Critical {
			event = colorDanger.Sprint(event)
		}
		port := "-"
		if e.Port > 0 {
			port = strconv.Itoa(e.Port)
			if e.Protocol != "" {
				port += "/" + e.Protocol
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(timeLayoutOut), event, e.Category, port, orDash(e.Application), e.Details)
	}
	return tw.Flush()
}

func (of *OutputFormatter) WriteStats(w io.Writer, stats *process.SystemStats) error {
	if of.format == "json" {
		return writeJSON(w, stats)
	}

	var b strings.Builder
	colorTitle.Fprintf(&b, "\nPortManager 系统状态\n")
	b.WriteString(strings.Repeat("═", 60) + "\n")
	fmt.Fprintf(&b, "开机时长: %s\n", process.FormatUptime(stats.Uptime))
	fmt.Fprintf(&b, "内存:     %.1f / %.1f GB (%.0f%%)\n\n",
		float64(stats.Memory.Used)/(1<<30), float64(stats.Memory.Total)/(1<<30), stats.Memory.Percent)

	tw := tabwriter.NewWriter(&b, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "PID\t进程\t内存 (MB)")
	for _, p := range stats.Processes {
		fmt.Fprintf(tw, "%d\t%s\t%.1f\n", p.PID, p.Name, p.MemoryMB)
	}
	tw.Flush()

	_, err := io.WriteString(w, b.String())
	return err
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

package journal

import (
	"encoding/csv"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/FreeProject089/PortManager/internal/model"
)

const timeLayout = "2006-01-02 15:04:05"

var header = []string{"Timestamp", "EventType", "Category", "Port", "Protocol", "Application", "Details", "IsCritical"}

// 分隔符交给 csv 加引号处理，这里只保证每条记录占一行
var flatten = strings.NewReplacer("\r", " ", "\n", " ")

func writeEntries(w io.Writer, withHeader bool, entries ...model.LogEntry) error {
	cw := csv.NewWriter(w)
	if withHeader {
		if err := cw.Write(header); err != nil {
			return err
		}
	}
	for _, e := range entries {
		row := []string{
			e.Timestamp.Format(timeLayout),
			e.EventType,
			e.Category,
			strconv.Itoa(e.Port),
			e.Protocol,
			flatten.Replace(e.Application),
			flatten.Replace(e.Details),
			strconv.FormatBool(e.Critical),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// readEntries 解析日志文件，格式错误的行直接跳过
func readEntries(r io.Reader) ([]model.LogEntry, int) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var entries []model.LogEntry
	skipped := 0
	first := true
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		if first {
			first = false
			if len(row) > 0 && row[0] == header[0] {
				continue
			}
		}

		entry, ok := parseRow(row)
		if !ok {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	return entries, skipped
}

func parseRow(row []string) (model.LogEntry, bool) {
	if len(row) < 7 {
		return model.LogEntry{}, false
	}
	ts, err := time.ParseInLocation(timeLayout, row[0], time.Local)
	if err != nil {
		return model.LogEntry{}, false
	}
	port, err := strconv.Atoi(row[3])
	if err != nil {
		return model.LogEntry{}, false
	}

	entry := model.LogEntry{
		Timestamp:   ts,
		EventType:   row[1],
		Category:    row[2],
		Port:        port,
		Protocol:    row[4],
		Application: row[5],
		Details:     row[6],
	}
	if len(row) > 7 {
		entry.Critical, _ = strconv.ParseBool(row[7])
	}
	return entry, true
}

func sortNewestFirst(entries []model.LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}

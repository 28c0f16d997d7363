package journal

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FreeProject089/PortManager/internal/model"
	"github.com/FreeProject089/PortManager/internal/utils"
)

const DefaultCapacity = 500

// Journal 事件日志：内存中按时间倒序保留最近的记录，同时追加写入 CSV 文件
type Journal struct {
	mu       sync.Mutex
	entries  []model.LogEntry
	capacity int
	path     string

	criticalUnseen atomic.Bool
	seen           SeenStore
	notified       *NotifiedKeySet
	now            func() time.Time
	logger         *utils.Logger
}

// SeenStore 保存最后一次查看告警的时间，进程重启后据此恢复未读标记
type SeenStore interface {
	LastSeen() (time.Time, error)
	SaveLastSeen(t time.Time) error
}

// Open 创建日志并加载已有文件，path 为空时只保存在内存中
func Open(path string, capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	j := &Journal{
		capacity: capacity,
		path:     path,
		notified: NewNotifiedKeySet(),
		now:      time.Now,
		logger:   utils.NewLogger("journal"),
	}
	j.load()
	return j
}

func (j *Journal) load() {
	if j.path == "" {
		return
	}
	f, err := os.Open(j.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			j.logger.Debug("读取日志文件失败: %v", err)
		}
		return
	}
	defer f.Close()

	entries, skipped := readEntries(f)
	if skipped > 0 {
		j.logger.Debug("跳过 %d 条格式错误的日志行", skipped)
	}
	sortNewestFirst(entries)
	if len(entries) > j.capacity {
		entries = entries[:j.capacity]
	}
	j.entries = entries
}

// Log 写入一条事件
func (j *Journal) Log(eventType, category, details, application string, port int, protocol string, critical bool) model.LogEntry {
	entry := model.LogEntry{
		Timestamp:   j.now(),
		EventType:   eventType,
		Category:    category,
		Details:     details,
		Application: application,
		Port:        port,
		Protocol:    protocol,
		Critical:    critical,
	}

	j.mu.Lock()
	j.entries = append([]model.LogEntry{entry}, j.entries...)
	if len(j.entries) > j.capacity {
		j.entries = j.entries[:j.capacity]
	}
	j.mu.Unlock()

	if critical {
		j.criticalUnseen.Store(true)
	}

	j.append(entry)
	return entry
}

// append 追加写文件，失败只记录调试日志，内存状态为准
func (j *Journal) append(entry model.LogEntry) {
	if j.path == "" {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	_, statErr := os.Stat(j.path)
	needsHeader := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		j.logger.Debug("打开日志文件失败: %v", err)
		return
	}
	defer f.Close()

	if err := writeEntries(f, needsHeader, entry); err != nil {
		j.logger.Debug("写入日志文件失败: %v", err)
	}
}

func (j *Journal) LogPortOpened(port int, protocol, application string) {
	j.Log(model.EventPortOpened, model.CategoryNetwork, fmt.Sprintf("Port %d/%s opened", port, protocol), application, port, protocol, false)
}

func (j *Journal) LogPortClosed(port int, protocol, application string) {
	j.Log(model.EventPortClosed, model.CategoryNetwork, fmt.Sprintf("Port %d/%s closed", port, protocol), application, port, protocol, false)
}

// LogProcessKilled 手动结束占用端口的进程
func (j *Journal) LogProcessKilled(port int, protocol, application string) {
	j.Log(model.EventPortClosed, model.CategoryNetwork,
		fmt.Sprintf("Killed process %s on port %d", application, port), application, port, protocol, false)
}

// LogNewPort 键未告警过时写入 NEW_PORT 事件并返回 true
func (j *Journal) LogNewPort(key model.Key) bool {
	if !j.notified.Add(key.String()) {
		return false
	}
	j.Log(model.EventNewPort, model.CategoryNetwork,
		fmt.Sprintf("New active port: %d/%s", key.LocalPort, key.Protocol),
		key.ProcessName, key.LocalPort, string(key.Protocol), true)
	return true
}

// LogSuspicious 每个 (端口, 应用) 只告警一次
func (j *Journal) LogSuspicious(port int, application, reason string) bool {
	if !j.notified.Add(fmt.Sprintf("SUSP:%d:%s", port, application)) {
		return false
	}
	j.Log(model.EventSuspicious, model.CategorySecurity, fmt.Sprintf("%s - Port %d", reason, port), application, port, "", true)
	return true
}

func (j *Journal) LogFirewall(ruleName, action string) {
	j.Log(model.EventFirewall, model.CategoryFirewall, fmt.Sprintf("Rule '%s' %s", ruleName, action), "", 0, "", false)
}

func (j *Journal) LogUpnp(port int, protocol, action string) {
	j.Log(model.EventUpnp, model.CategorySystem, fmt.Sprintf("UPnP %s %d/%s", action, port, protocol), "", port, protocol, false)
}

func (j *Journal) LogSystem(message string) {
	j.Log(model.EventSystem, model.CategorySystem, message, "", 0, "", false)
}

// Entries 返回内存中的记录副本，最新的在前
func (j *Journal) Entries() []model.LogEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]model.LogEntry, len(j.entries))
	copy(out, j.entries)
	return out
}

func (j *Journal) Notified() *NotifiedKeySet {
	return j.notified
}

// UseSeenStore 设置查看记录的存储，并按已加载的记录重新计算未读标记
func (j *Journal) UseSeenStore(s SeenStore) {
	last, err := s.LastSeen()
	if err != nil {
		j.logger.Debug("读取查看记录失败: %v", err)
		return
	}

	j.mu.Lock()
	j.seen = s
	unseen := false
	for _, e := range j.entries {
		if e.Critical && e.Timestamp.After(last) {
			unseen = true
			break
		}
	}
	j.mu.Unlock()

	if unseen {
		j.criticalUnseen.Store(true)
	}
}

func (j *Journal) HasCriticalUnseen() bool {
	return j.criticalUnseen.Load()
}

// MarkSeen 告警视图被查看后调用
func (j *Journal) MarkSeen() {
	j.criticalUnseen.Store(false)

	j.mu.Lock()
	s := j.seen
	j.mu.Unlock()
	if s == nil {
		return
	}
	if err := s.SaveLastSeen(j.now()); err != nil {
		j.logger.Debug("保存查看记录失败: %v", err)
	}
}

// Export 把内存中的记录导出为 CSV
func (j *Journal) Export(path string) error {
	entries := j.Entries()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()
	return writeEntries(f, true, entries...)
}

// Clear 清空内存记录、已告警键、未读标记和日志文件
func (j *Journal) Clear() {
	j.mu.Lock()
	j.entries = nil
	if j.path != "" {
		if err := os.Remove(j.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			j.logger.Debug("删除日志文件失败: %v", err)
		}
	}
	j.mu.Unlock()

	j.notified.Clear()
	j.criticalUnseen.Store(false)
}

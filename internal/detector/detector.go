package detector

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/FreeProject089/PortManager/internal/model"
)

// Sink 接收新端口告警，键已告警过时返回 false
type Sink interface {
	LogNewPort(key model.Key) bool
}

// Detector 对比相邻两次快照，找出新出现的端点。
// 第一次快照只作为基线，不产生告警。
type Detector struct {
	mu       sync.Mutex
	previous map[model.Key]struct{}
	primed   bool

	sink    Sink
	enabled atomic.Bool
}

func New(sink Sink, alertsEnabled bool) *Detector {
	d := &Detector{
		previous: make(map[model.Key]struct{}),
		sink:     sink,
	}
	d.enabled.Store(alertsEnabled)
	return d
}

func (d *Detector) SetAlertsEnabled(v bool) {
	d.enabled.Store(v)
}

// Observe 返回本轮新出现的键，以及其中实际发出告警的键。
// previous 每轮整体替换为当前键集合。
func (d *Detector) Observe(snapshot model.Snapshot) (newKeys, alerted []model.Key) {
	current := snapshot.Keys()

	d.mu.Lock()
	defer d.mu.Unlock()

	for k := range current {
		if _, seen := d.previous[k]; !seen {
			newKeys = append(newKeys, k)
		}
	}
	sortKeys(newKeys)

	if d.primed && d.enabled.Load() && d.sink != nil {
		for _, k := range newKeys {
			if d.sink.LogNewPort(k) {
				alerted = append(alerted, k)
			}
		}
	}

	d.previous = current
	d.primed = true
	return newKeys, alerted
}

func sortKeys(keys []model.Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].LocalPort != keys[j].LocalPort {
			return keys[i].LocalPort < keys[j].LocalPort
		}
		if keys[i].Protocol != keys[j].Protocol {
			return keys[i].Protocol < keys[j].Protocol
		}
		return keys[i].ProcessName < keys[j].ProcessName
	})
}

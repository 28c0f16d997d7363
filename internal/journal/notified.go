package journal

import "sync"

// NotifiedKeySet 本次运行中已经告警过的键，只在清空日志时重置
type NotifiedKeySet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewNotifiedKeySet() *NotifiedKeySet {
	return &NotifiedKeySet{keys: make(map[string]struct{})}
}

// Add 键不存在时加入并返回 true
func (s *NotifiedKeySet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

func (s *NotifiedKeySet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

func (s *NotifiedKeySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func (s *NotifiedKeySet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[string]struct{})
}

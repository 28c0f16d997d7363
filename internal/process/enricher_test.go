package process

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/FreeProject089/PortManager/internal/model"
)

type fakeLookup struct {
	calls   int
	results map[int]struct {
		name, path string
		err        error
	}
}

func (f *fakeLookup) Lookup(ctx context.Context, pid int) (string, string, error) {
	f.calls++
	r, ok := f.results[pid]
	if !ok {
		return "", "", ErrExited
	}
	return r.name, r.path, r.err
}

func newFake() *fakeLookup {
	return &fakeLookup{results: map[int]struct {
		name, path string
		err        error
	}{
		100: {"nginx", "/usr/sbin/nginx", nil},
		200: {"lsass.exe", "", ErrAccessDenied},
		300: {"", "", errors.New("weird failure")},
	}}
}

func TestEnrichOutcomes(t *testing.T) {
	e := NewEnricher(newFake(), time.Minute)
	ctx := context.Background()

	cases := []struct {
		pid      int
		wantName string
		wantPath string
	}{
		{0, NameSystem, ""},
		{-1, NameSystem, ""},
		{100, "nginx", "/usr/sbin/nginx"},
		{200, "lsass.exe", PathAccessDenied},
		{300, NameUnknown, ""},
		{999, NameExited, ""},
	}

	for _, c := range cases {
		rec := model.ConnectionRecord{ProcessID: c.pid}
		e.Enrich(ctx, &rec)
		if rec.ProcessName != c.wantName || rec.ProcessPath != c.wantPath {
			t.Errorf("pid %d: 期望 (%q, %q), 实际得到 (%q, %q)",
				c.pid, c.wantName, c.wantPath, rec.ProcessName, rec.ProcessPath)
		}
	}
}

func TestEnrichCachesLookups(t *testing.T) {
	f := newFake()
	e := NewEnricher(f, time.Minute)
	for i := 0; i < 5; i++ {
		rec := model.ConnectionRecord{ProcessID: 100}
		e.Enrich(context.Background(), &rec)
	}
	if f.calls != 1 {
		t.Errorf("期望只查询 1 次, 实际 %d 次", f.calls)
	}

	e = NewEnricher(f, 0)
	f.calls = 0
	for i := 0; i < 3; i++ {
		rec := model.ConnectionRecord{ProcessID: 100}
		e.Enrich(context.Background(), &rec)
	}
	if f.calls != 3 {
		t.Errorf("ttl 为 0 时不应缓存, 实际查询 %d 次", f.calls)
	}
}

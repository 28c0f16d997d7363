package enrich

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/FreeProject089/PortManager/internal/model"
)

type fakeResolver struct {
	calls atomic.Int32
	name  string
	err   error
}

func (f *fakeResolver) LookupAddr(ctx context.Context, addr string) (string, error) {
	f.calls.Add(1)
	return f.name, f.err
}

func TestDNSCacheLocalAddresses(t *testing.T) {
	resolver := &fakeResolver{name: "should-not-be-used"}
	cache := NewDNSCache(resolver, 0, time.Second)

	for _, addr := range []string{"", "0.0.0.0", "::", "*", "127.0.0.1"} {
		if got := cache.Hostname(addr); got != model.HostnameNone {
			t.Errorf("%q: 期望 %q, 实际得到 %q", addr, model.HostnameNone, got)
		}
	}
	cache.Wait()

	if resolver.calls.Load() != 0 {
		t.Errorf("本地地址不应触发解析, 实际调用 %d 次", resolver.calls.Load())
	}
}

func TestDNSCacheResolvesOnce(t *testing.T) {
	resolver := &fakeResolver{name: "dns.google"}
	cache := NewDNSCache(resolver, 0, time.Second)

	if state, _ := cache.State("8.8.8.8"); state != DNSUnscheduled {
		t.Errorf("期望 unscheduled, 实际得到 %v", state)
	}

	if got := cache.Hostname("8.8.8.8"); got != model.HostnameResolving {
		t.Errorf("首次查询期望 %q, 实际得到 %q", model.HostnameResolving, got)
	}
	cache.Wait()

	state, name := cache.State("8.8.8.8")
	if state != DNSResolved || name != "dns.google" {
		t.Errorf("期望 resolved/dns.google, 实际得到 %v/%s", state, name)
	}

	for i := 0; i < 5; i++ {
		if got := cache.Hostname("8.8.8.8"); got != "dns.google" {
			t.Errorf("期望 dns.google, 实际得到 %s", got)
		}
	}
	cache.Wait()

	if resolver.calls.Load() != 1 {
		t.Errorf("期望只解析 1 次, 实际 %d 次", resolver.calls.Load())
	}
}

func TestDNSCacheQueuedLookupsAllResolve(t *testing.T) {
	resolver := &fakeResolver{name: "host.example"}
	// 突发 50 个，其余排队约 1.4s，远超 20ms 的解析超时
	cache := NewDNSCache(resolver, 50, 20*time.Millisecond)

	const total = 120
	addrs := make([]string, total)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("198.51.%d.%d", i/200, i%200+1)
		cache.Hostname(addrs[i])
	}
	cache.Wait()

	if got := resolver.calls.Load(); got != total {
		t.Errorf("期望解析 %d 次, 实际 %d 次", total, got)
	}
	for _, addr := range addrs {
		if state, name := cache.State(addr); state != DNSResolved || name != "host.example" {
			t.Errorf("%s: 期望 resolved/host.example, 实际得到 %v/%s", addr, state, name)
		}
	}
}

func TestDNSCacheFailureIsNotRetried(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("nxdomain")}
	cache := NewDNSCache(resolver, 10, time.Second)

	cache.Hostname("203.0.113.9")
	cache.Wait()

	if got := cache.Hostname("203.0.113.9"); got != model.HostnameUnknown {
		t.Errorf("期望 %q, 实际得到 %q", model.HostnameUnknown, got)
	}
	cache.Wait()

	if resolver.calls.Load() != 1 {
		t.Errorf("失败后不应重新解析, 实际调用 %d 次", resolver.calls.Load())
	}
}

func startPTRServer(t *testing.T, answers map[string]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("监听 UDP 失败: %v", err)
	}

	mux := dns.NewServeMux()
	mux.HandleFunc("in-addr.arpa.", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		if name, ok := answers[q.Name]; ok {
			m.Answer = append(m.Answer, &dns.PTR{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 60},
				Ptr: name,
			})
		} else {
			m.Rcode = dns.RcodeNameError
		}
		w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go srv.ActivateAndServe()
	<-started
	t.Cleanup(func() { srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestPTRResolver(t *testing.T) {
	server := startPTRServer(t, map[string]string{
		"4.3.2.1.in-addr.arpa.": "host.example.",
	})

	resolver := NewPTRResolver(server, time.Second)
	name, err := resolver.LookupAddr(context.Background(), "1.2.3.4")
	if err != nil {
		t.Fatalf("PTR 查询失败: %v", err)
	}
	if name != "host.example" {
		t.Errorf("期望 host.example, 实际得到 %s", name)
	}
}

func TestPTRResolverNameError(t *testing.T) {
	server := startPTRServer(t, nil)

	resolver := NewPTRResolver(server, time.Second)
	if _, err := resolver.queryPTR(context.Background(), "1.2.3.4"); err == nil {
		t.Error("NXDOMAIN 应返回错误")
	}
}

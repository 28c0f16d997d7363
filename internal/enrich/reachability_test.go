package enrich

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func textServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPublicIPFallback(t *testing.T) {
	primary := textServer(t, http.StatusInternalServerError, "")
	secondary := textServer(t, http.StatusOK, "203.0.113.7\n")

	r := NewReachability(2*time.Second, time.Second)
	r.PublicIPURLs = []string{primary.URL, secondary.URL}

	if got := r.PublicIP(context.Background()); got != "203.0.113.7" {
		t.Errorf("期望 203.0.113.7, 实际得到 %s", got)
	}
}

func TestPublicIPExhausted(t *testing.T) {
	primary := textServer(t, http.StatusOK, "<html>not an ip</html>")
	secondary := textServer(t, http.StatusBadGateway, "")

	r := NewReachability(2*time.Second, time.Second)
	r.PublicIPURLs = []string{primary.URL, secondary.URL}

	if got := r.PublicIP(context.Background()); got != PublicIPUnavailable {
		t.Errorf("期望 %q, 实际得到 %q", PublicIPUnavailable, got)
	}
}

func TestCheckPortService(t *testing.T) {
	tests := []struct {
		body     string
		wantOpen bool
		wantMsg  string
	}{
		{"Port 8080 is Open", true, "Port is OPEN from internet"},
		{"Port 8080 is closed", false, "Port is CLOSED from internet"},
	}

	for _, tt := range tests {
		checker := textServer(t, http.StatusOK, tt.body)
		r := NewReachability(2*time.Second, time.Second)
		r.PortCheckURL = checker.URL + "/check?port=%d"

		open, msg := r.CheckPort(context.Background(), 8080)
		if open != tt.wantOpen || msg != tt.wantMsg {
			t.Errorf("%q: 期望 %v/%q, 实际得到 %v/%q", tt.body, tt.wantOpen, tt.wantMsg, open, msg)
		}
	}
}

func TestCheckPortSelfConnectFallback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("监听失败: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	checker := textServer(t, http.StatusServiceUnavailable, "")
	ipServer := textServer(t, http.StatusOK, "127.0.0.1")

	r := NewReachability(2*time.Second, time.Second)
	r.PortCheckURL = checker.URL + "/check?port=%d"
	r.PublicIPURLs = []string{ipServer.URL}

	open, msg := r.CheckPort(context.Background(), port)
	if !open {
		t.Errorf("期望端口可达, 实际: %s", msg)
	}
}

func TestCheckPortNoPublicIP(t *testing.T) {
	checker := textServer(t, http.StatusServiceUnavailable, "")
	ipServer := textServer(t, http.StatusServiceUnavailable, "")

	r := NewReachability(2*time.Second, time.Second)
	r.PortCheckURL = checker.URL + "/check?port=%d"
	r.PublicIPURLs = []string{ipServer.URL}

	if open, _ := r.CheckPort(context.Background(), 8080); open {
		t.Error("没有公网 IP 时不应判定为可达")
	}
}

func TestNatStatus(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   string
	}{
		{http.StatusOK, "10.1.2.3", "Double NAT detected (CGNAT or nested router)"},
		{http.StatusOK, "100.64.1.1", "Double NAT detected (CGNAT or nested router)"},
		{http.StatusOK, "203.0.113.7", "Single NAT (normal router)"},
		{http.StatusInternalServerError, "", "Unable to determine NAT status"},
	}

	for _, tt := range tests {
		srv := textServer(t, tt.status, tt.body)
		r := NewReachability(2*time.Second, time.Second)
		r.PublicIPURLs = []string{srv.URL}

		if got := r.NatStatus(context.Background()); got != tt.want {
			t.Errorf("%q: 期望 %q, 实际得到 %q", tt.body, tt.want, got)
		}
	}
}

package scanner

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FreeProject089/PortManager/internal/model"
)

// ParsePortRange 解析端口范围，例如 "22,80,8000-8100"。
// 空字符串或 "basic" 返回基础端口，"top100" 返回常用端口，"all" 返回全部端口。
func ParsePortRange(portRange string) ([]int, error) {
	switch strings.ToLower(strings.TrimSpace(portRange)) {
	case "", "basic", "default":
		return append([]int(nil), model.BasicPorts...), nil
	case "top100", "common":
		return append([]int(nil), model.Top100Ports...), nil
	case "all":
		ports := make([]int, 0, 65535)
		for port := 1; port <= 65535; port++ {
			ports = append(ports, port)
		}
		return ports, nil
	}

	var ports []int
	for _, part := range strings.Split(portRange, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if !strings.Contains(part, "-") {
			port, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("无效的端口号: %s", part)
			}
			if port < 1 || port > 65535 {
				return nil, fmt.Errorf("端口号必须在 1-65535 之间: %d", port)
			}
			ports = append(ports, port)
			continue
		}

		rangeParts := strings.Split(part, "-")
		if len(rangeParts) != 2 {
			return nil, fmt.Errorf("无效的端口范围: %s", part)
		}
		start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
		if err != nil {
			return nil, fmt.Errorf("无效的起始端口: %s", rangeParts[0])
		}
		end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
		if err != nil {
			return nil, fmt.Errorf("无效的结束端口: %s", rangeParts[1])
		}
		if start > end {
			return nil, fmt.Errorf("起始端口不能大于结束端口: %s", part)
		}
		if start < 1 || end > 65535 {
			return nil, fmt.Errorf("端口范围必须在 1-65535 之间: %s", part)
		}
		for port := start; port <= end; port++ {
			ports = append(ports, port)
		}
	}

	return dedupSorted(ports), nil
}

func dedupSorted(ports []int) []int {
	seen := make(map[int]bool, len(ports))
	unique := ports[:0]
	for _, port := range ports {
		if !seen[port] {
			seen[port] = true
			unique = append(unique, port)
		}
	}
	sort.Ints(unique)
	return unique
}

// chunkPorts 按 size 切分端口列表
func chunkPorts(ports []int, size int) [][]int {
	if size <= 0 {
		size = len(ports)
	}
	var chunks [][]int
	for start := 0; start < len(ports); start += size {
		end := start + size
		if end > len(ports) {
			end = len(ports)
		}
		chunks = append(chunks, ports[start:end])
	}
	return chunks
}

// ScanPorts 分块扫描端口。块之间顺序执行，块内全部并发，返回升序的开放端口。
func (s *Scanner) ScanPorts(ctx context.Context, host string, ports []int) []int {
	var (
		mu   sync.Mutex
		open []int
	)

	for _, chunk := range chunkPorts(ports, s.cfg.ChunkSize) {
		if ctx.Err() != nil {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(len(chunk))
		for _, port := range chunk {
			port := port
			g.Go(func() error {
				if s.portOpen(gctx, host, port, s.cfg.PortTimeout) {
					mu.Lock()
					open = append(open, port)
					mu.Unlock()
				}
				return nil
			})
		}
		g.Wait()
	}

	sort.Ints(open)
	return open
}

func (s *Scanner) portOpen(ctx context.Context, host string, port int, timeout time.Duration) bool {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := s.dial(dctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

package scanner

import (
	"fmt"
	"net/netip"
	"strings"

	gnet "github.com/shirou/gopsutil/v3/net"
	"go4.org/netipx"
)

const defaultSubnetPrefix = "192.168.1."

var linkLocal = netip.MustParsePrefix("169.254.0.0/16")

// NormalizePrefix 接受 "a.b.c."、"a.b.c"、"a.b.c.d" 和 "a.b.c.0/24"，统一为 /24 网段
func NormalizePrefix(raw string) (netip.Prefix, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Prefix{}, fmt.Errorf("子网不能为空")
	}

	if strings.Contains(raw, "/") {
		p, err := netip.ParsePrefix(raw)
		if err != nil || !p.Addr().Is4() {
			return netip.Prefix{}, fmt.Errorf("无效的子网: %s", raw)
		}
		if p.Bits() != 24 {
			return netip.Prefix{}, fmt.Errorf("只支持 /24 子网: %s", raw)
		}
		return p.Masked(), nil
	}

	raw = strings.TrimSuffix(raw, ".")
	parts := strings.Split(raw, ".")
	switch len(parts) {
	case 3:
		raw += ".0"
	case 4:
	default:
		return netip.Prefix{}, fmt.Errorf("无效的子网: %s", raw)
	}

	addr, err := netip.ParseAddr(raw)
	if err != nil || !addr.Is4() {
		return netip.Prefix{}, fmt.Errorf("无效的子网: %s", raw)
	}
	return netip.PrefixFrom(addr, 24).Masked(), nil
}

// DisplayPrefix 把 /24 网段写成 "a.b.c." 形式
func DisplayPrefix(p netip.Prefix) string {
	s := p.Masked().Addr().String()
	return s[:strings.LastIndex(s, ".")+1]
}

// hostAddrs 返回网段中去掉网络地址和广播地址后的主机地址
func hostAddrs(p netip.Prefix) []netip.Addr {
	r := netipx.RangeOfPrefix(p.Masked())
	if !r.IsValid() {
		return nil
	}
	var addrs []netip.Addr
	for addr := r.From().Next(); addr.IsValid() && addr.Less(r.To()); addr = addr.Next() {
		addrs = append(addrs, addr)
	}
	return addrs
}

// LocalSubnetPrefix 返回第一个启用的非回环 IPv4 网卡所在的 /24 网段
func LocalSubnetPrefix() string {
	ifaces, err := gnet.Interfaces()
	if err != nil {
		return defaultSubnetPrefix
	}
	return pickSubnetPrefix(ifaces)
}

func pickSubnetPrefix(ifaces gnet.InterfaceStatList) string {
	for _, iface := range ifaces {
		if !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") {
			continue
		}
		for _, a := range iface.Addrs {
			p, err := netip.ParsePrefix(a.Addr)
			if err != nil {
				continue
			}
			addr := p.Addr()
			if !addr.Is4() || addr.IsLoopback() || linkLocal.Contains(addr) {
				continue
			}
			return DisplayPrefix(netip.PrefixFrom(addr, 24))
		}
	}
	return defaultSubnetPrefix
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

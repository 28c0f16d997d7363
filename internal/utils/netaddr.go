package utils

import (
	"net/netip"
	"strings"
)

// IsPrivateOrLoopback 判断地址是否属于内网或回环
func IsPrivateOrLoopback(addr string) bool {
	ip, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

// IsResolvableRemote 排除空地址、通配地址和回环，这些地址不做反向解析
func IsResolvableRemote(addr string) bool {
	switch addr {
	case "", "0.0.0.0", "::", "*":
		return false
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	return !ip.IsUnspecified() && !ip.IsLoopback()
}

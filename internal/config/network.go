package config

import (
	"net"
	"strings"
)

// cgnatBlock is 100.64.0.0/10. WARP, Tailscale and carrier-grade NAT hand
// out addresses from it, and host candidates behind it rarely connect.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// tunnelPrefixes are interface name fragments of VPN and virtual adapters.
var tunnelPrefixes = []string{"tun", "tap", "wg", "ppp", "warp"}

// restrictedNetwork is swapped out in tests.
var restrictedNetwork = RestrictedNetwork

// RestrictedNetwork reports whether this host sits behind a VPN tunnel or
// CGNAT, where a bedside call should go through TURN from the start.
func RestrictedNetwork() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			addrs = nil
		}
		if restrictedInterface(iface.Name, addrs) {
			return true
		}
	}
	return false
}

func restrictedInterface(name string, addrs []net.Addr) bool {
	name = strings.ToLower(name)
	for _, p := range tunnelPrefixes {
		if strings.Contains(name, p) {
			return true
		}
	}

	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil && cgnatBlock.Contains(ip) {
			return true
		}
	}
	return false
}

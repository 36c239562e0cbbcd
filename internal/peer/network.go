package peer

import (
	"net"
	"strings"
)

var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// behindRestrictiveNAT reports whether an interface looks like a VPN tunnel
// or sits in the carrier-grade NAT range. Direct peer connections rarely
// work from there, so TURN relaying is forced.
func behindRestrictiveNAT() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if tunnelInterface(iface.Name) {
			return true
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && cgnatBlock.Contains(ipnet.IP) {
				return true
			}
		}
	}
	return false
}

func tunnelInterface(name string) bool {
	name = strings.ToLower(name)
	for _, marker := range []string{"tun", "tap", "wg", "ppp", "warp"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

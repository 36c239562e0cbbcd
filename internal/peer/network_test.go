package peer

import (
	"net"
	"testing"
)

func TestTunnelInterface(t *testing.T) {
	tests := map[string]bool{
		"tun0":           true,
		"utun3":          true,
		"wg0":            true,
		"CloudflareWARP": true,
		"ppp0":           true,
		"tap1":           true,
		"eth0":           false,
		"en0":            false,
		"wlan0":          false,
		"docker0":        false,
	}
	for name, want := range tests {
		if got := tunnelInterface(name); got != want {
			t.Errorf("tunnelInterface(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestCGNATBlock(t *testing.T) {
	for ip, want := range map[string]bool{
		"100.64.0.1":      true,
		"100.127.255.254": true,
		"100.128.0.1":     false,
		"192.168.1.2":     false,
	} {
		if got := cgnatBlock.Contains(net.ParseIP(ip)); got != want {
			t.Errorf("cgnatBlock.Contains(%s) = %v, want %v", ip, got, want)
		}
	}
}

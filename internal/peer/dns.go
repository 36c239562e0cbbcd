package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// publicDNS are queried when the system resolver cannot resolve the
// signaling host.
var publicDNS = []string{
	"1.1.1.1", // Cloudflare
	"1.0.0.1", // Cloudflare
	"8.8.8.8", // Google
	"8.8.4.4", // Google
	"9.9.9.9", // Quad9
}

// lookupHost resolves host to one address, preferring IPv4. IP literals are
// returned unchanged.
func lookupHost(ctx context.Context, host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}

	local, cancel := context.WithTimeout(ctx, time.Second)
	ip, err := resolve(local, &net.Resolver{}, host)
	cancel()
	if err == nil {
		return ip, nil
	}
	return raceResolvers(ctx, host)
}

// raceResolvers asks every public resolver at once and returns the first
// answer.
func raceResolvers(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	results := make(chan result, len(publicDNS))
	for _, server := range publicDNS {
		go func() {
			r := &net.Resolver{
				PreferGo: true,
				Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
				},
			}
			ip, err := resolve(ctx, r, host)
			results <- result{ip: ip, err: err}
		}()
	}

	for range publicDNS {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: %w", host, ctx.Err())
		}
	}
	return "", fmt.Errorf("resolve %s: all %d public resolvers failed", host, len(publicDNS))
}

func resolve(ctx context.Context, r *net.Resolver, host string) (string, error) {
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", errors.New("no addresses found")
	}
	for _, ip := range ips {
		if net.ParseIP(ip).To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

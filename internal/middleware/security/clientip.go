package security

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// DefaultTrustedProxies are loopback and the private ranges.
var DefaultTrustedProxies = []string{
	"127.0.0.0/8",
	"::1/128",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}

// IPResolver finds the address of the client that made a request. Forwarding
// headers are honoured only when the peer is a trusted proxy.
type IPResolver struct {
	trusted []*net.IPNet
}

func NewIPResolver(cidrs ...string) (*IPResolver, error) {
	res := &IPResolver{}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy CIDR %s: %w", cidr, err)
		}
		res.trusted = append(res.trusted, network)
	}
	return res, nil
}

// MustIPResolver is NewIPResolver for constant input.
func MustIPResolver(cidrs ...string) *IPResolver {
	res, err := NewIPResolver(cidrs...)
	if err != nil {
		panic(err)
	}
	return res
}

func (res *IPResolver) trustedPeer(ip net.IP) bool {
	for _, network := range res.trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the left-most valid X-Forwarded-For address, then
// X-Real-IP, when the peer is trusted, and the peer address otherwise.
func (res *IPResolver) ClientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}

	peerIP := net.ParseIP(peer)
	if peerIP == nil || !res.trustedPeer(peerIP) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		first = strings.TrimSpace(first)
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return peer
}

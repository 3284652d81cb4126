package utils

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// hostOnly strips an optional port from "ip:port", "[v6]:port" or "ip".
func hostOnly(s string) string {
	s = strings.TrimSpace(s)
	if h, _, err := net.SplitHostPort(s); err == nil {
		return h
	}
	return strings.Trim(s, "[]")
}

// firstHop returns the left-most address of an X-Forwarded-For list.
func firstHop(xff string) string {
	first, _, _ := strings.Cut(xff, ",")
	return strings.TrimSpace(first)
}

// ClientAddr resolves the client address of r.
//
// With trustProxy the ingress headers win: X-Forwarded-For (first hop), then
// X-Real-Ip, as set by Traefik. Otherwise only RemoteAddr is used. IPv4-mapped
// IPv6 addresses are unmapped so they match IPv4 prefixes.
func ClientAddr(r *http.Request, trustProxy bool) (netip.Addr, bool) {
	if trustProxy {
		for _, v := range []string{firstHop(r.Header.Get("X-Forwarded-For")), r.Header.Get("X-Real-Ip")} {
			if addr, err := netip.ParseAddr(hostOnly(v)); err == nil {
				return addr.Unmap(), true
			}
		}
	}
	addr, err := netip.ParseAddr(hostOnly(r.RemoteAddr))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// ClientIP is ClientAddr as a string, falling back to the raw RemoteAddr.
// Used as rate limit key and in logs.
func ClientIP(r *http.Request, trustProxy bool) string {
	if addr, ok := ClientAddr(r, trustProxy); ok {
		return addr.String()
	}
	return r.RemoteAddr
}

// PrefixSet matches addresses against CIDRs and single IPs.
type PrefixSet struct {
	prefixes []netip.Prefix
}

// NewPrefixSet parses entries such as "10.0.0.0/8" or "192.0.2.7". Invalid
// entries are returned separately so the caller can report them.
func NewPrefixSet(list []string) (*PrefixSet, []string) {
	s := &PrefixSet{}
	var invalid []string
	for _, raw := range list {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		if p, err := netip.ParsePrefix(v); err == nil {
			s.prefixes = append(s.prefixes, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(v); err == nil {
			a = a.Unmap()
			s.prefixes = append(s.prefixes, netip.PrefixFrom(a, a.BitLen()))
			continue
		}
		invalid = append(invalid, v)
	}
	return s, invalid
}

func (s *PrefixSet) Len() int { return len(s.prefixes) }

func (s *PrefixSet) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range s.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

/*
File: transport.go
Version: 1.3.0
Description: Transport implementations for the fallback chain. Each transport
             answers the same contract: given a sanitized query, return the raw
             TXT strings of the response or a classifiable error. The wire-level
             transports (udp, tcp) carry the hand codec's bytes; native uses the
             resolver pinned to the zone host; legacy is the library-client tier.
*/

package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/yl2chen/cidranger"
	"golang.org/x/time/rate"
)

// Method identifies one transport in the fallback chain.
type Method string

const (
	MethodNative Method = "native"
	MethodUDP    Method = "udp"
	MethodTCP    Method = "tcp"
	MethodHTTPS  Method = "https"
	MethodDoQ    Method = "doq"
	MethodLegacy Method = "legacy"
	MethodMock   Method = "mock"
)

// ParseMethod validates a configured method name.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodNative, MethodUDP, MethodTCP, MethodHTTPS, MethodDoQ, MethodLegacy, MethodMock:
		return Method(s), nil
	}
	return "", fmt.Errorf("unknown transport method %q", s)
}

// Transport issues one TXT query and returns the response's TXT strings.
type Transport interface {
	Method() Method
	// Allow reports whether the transport's QPS pacer has capacity. A paced-out
	// transport is skipped by the chain with a throttled attempt record.
	Allow() bool
	Query(ctx context.Context, q *SanitizedQuery) ([]string, error)
}

// transportBase carries the method tag and the optional QPS pacer.
type transportBase struct {
	method Method
	pacer  *rate.Limiter
}

func (b *transportBase) Method() Method { return b.method }

func (b *transportBase) Allow() bool {
	if b.pacer == nil {
		return true
	}
	return b.pacer.Allow()
}

func newPacer(qps int) *rate.Limiter {
	if qps <= 0 {
		return nil
	}
	burst := qps * 2
	if burst < 10 {
		burst = 10
	}
	return rate.NewLimiter(rate.Limit(qps), burst)
}

// --- Server Address Guard ---

// ServerGuard refuses to dial servers inside blocked CIDR ranges. A zone that
// resolves into loopback or an unspecified address is rejected unless local
// targets are explicitly allowed (development against a local resolver).
type ServerGuard struct {
	ranger     cidranger.Ranger
	allowLocal bool
}

func NewServerGuard(blockedCIDRs []string, allowLocal bool) (*ServerGuard, error) {
	ranger := cidranger.NewPCTrieRanger()
	for _, c := range blockedCIDRs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("invalid blocked range %q: %w", c, err)
		}
		if err := ranger.Insert(cidranger.NewBasicRangerEntry(*ipnet)); err != nil {
			return nil, fmt.Errorf("blocked range %q: %w", c, err)
		}
	}
	return &ServerGuard{ranger: ranger, allowLocal: allowLocal}, nil
}

func (g *ServerGuard) Check(ip net.IP) error {
	if ip == nil {
		return &BlockedServerError{Reason: "server address did not resolve"}
	}
	if !g.allowLocal && (ip.IsLoopback() || ip.IsUnspecified()) {
		return &BlockedServerError{IP: ip, Reason: "local target not allowed"}
	}
	if contains, err := g.ranger.Contains(ip); err == nil && contains {
		return &BlockedServerError{IP: ip, Reason: "address is in a blocked range"}
	}
	return nil
}

// resolveServer turns the configured zone host into a dialable IP, checked
// against the guard before any socket is opened.
func (g *ServerGuard) resolveServer(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, g.Check(ip)
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if err := g.Check(ip); err == nil {
			return ip, nil
		}
	}
	return nil, &BlockedServerError{Reason: fmt.Sprintf("all addresses for %s are blocked", host)}
}

func deadlineFor(ctx context.Context, fallback time.Duration) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(fallback)
}

// --- UDP Transport ---

type udpTransport struct {
	transportBase
	server  string
	port    string
	guard   *ServerGuard
	timeout time.Duration
}

func newUDPTransport(server, port string, guard *ServerGuard, qps int, timeout time.Duration) *udpTransport {
	return &udpTransport{
		transportBase: transportBase{method: MethodUDP, pacer: newPacer(qps)},
		server:        server,
		port:          port,
		guard:         guard,
		timeout:       timeout,
	}
}

func (t *udpTransport) Query(ctx context.Context, q *SanitizedQuery) ([]string, error) {
	packet, id, err := EncodeQuery(q.QueryName)
	if err != nil {
		return nil, err
	}

	ip, err := t.guard.resolveServer(ctx, t.server)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "udp", net.JoinHostPort(ip.String(), t.port))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	conn.SetDeadline(deadlineFor(ctx, t.timeout))

	if _, err := conn.Write(packet); err != nil {
		return nil, err
	}

	// 4096 avoids truncation of long TXT answers without EDNS.
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}

	msg, err := DecodeResponse(buf[:n], id)
	if err != nil {
		return nil, err
	}
	return msg.TXT, nil
}

// --- TCP Transport ---

type tcpTransport struct {
	transportBase
	server  string
	port    string
	guard   *ServerGuard
	timeout time.Duration
}

func newTCPTransport(server, port string, guard *ServerGuard, qps int, timeout time.Duration) *tcpTransport {
	return &tcpTransport{
		transportBase: transportBase{method: MethodTCP, pacer: newPacer(qps)},
		server:        server,
		port:          port,
		guard:         guard,
		timeout:       timeout,
	}
}

func (t *tcpTransport) Query(ctx context.Context, q *SanitizedQuery) ([]string, error) {
	packet, id, err := EncodeQuery(q.QueryName)
	if err != nil {
		return nil, err
	}

	ip, err := t.guard.resolveServer(ctx, t.server)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), t.port))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	conn.SetDeadline(deadlineFor(ctx, t.timeout))

	// RFC 1035 4.2.2: two-byte length prefix over TCP.
	framed := make([]byte, 0, len(packet)+2)
	framed = appendUint16(framed, uint16(len(packet)))
	framed = append(framed, packet...)
	if _, err := conn.Write(framed); err != nil {
		return nil, err
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	respLen := int(lenBuf[0])<<8 | int(lenBuf[1])
	if respLen == 0 {
		return nil, &MalformedResponseError{Reason: "zero-length TCP response"}
	}

	buf := make([]byte, respLen)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}

	msg, err := DecodeResponse(buf, id)
	if err != nil {
		return nil, err
	}
	return msg.TXT, nil
}

// --- Native Transport ---

// nativeTransport uses the Go resolver with its dialer pinned to the zone
// host, keeping the platform's error semantics (net.DNSError) intact.
type nativeTransport struct {
	transportBase
	resolver *net.Resolver
}

func newNativeTransport(server, port string, qps int) *nativeTransport {
	addr := net.JoinHostPort(server, port)
	return &nativeTransport{
		transportBase: transportBase{method: MethodNative, pacer: newPacer(qps)},
		resolver: &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				d := net.Dialer{}
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

func (t *nativeTransport) Query(ctx context.Context, q *SanitizedQuery) ([]string, error) {
	// LookupTXT joins the character-strings of each record; record order is
	// preserved, which is all the reassembler needs.
	return t.resolver.LookupTXT(ctx, q.QueryName)
}

// --- Legacy Transport ---

// legacyTransport is the library-client tier: a plain miekg/dns exchange,
// kept last in the chain like the original's library fallback.
type legacyTransport struct {
	transportBase
	server  string
	port    string
	timeout time.Duration
}

func newLegacyTransport(server, port string, qps int, timeout time.Duration) *legacyTransport {
	return &legacyTransport{
		transportBase: transportBase{method: MethodLegacy, pacer: newPacer(qps)},
		server:        server,
		port:          port,
		timeout:       timeout,
	}
}

func (t *legacyTransport) Query(ctx context.Context, q *SanitizedQuery) ([]string, error) {
	c := &dns.Client{
		Net:     "udp",
		Timeout: t.timeout,
		UDPSize: 4096,
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(q.QueryName), dns.TypeTXT)
	m.RecursionDesired = true

	addr := net.JoinHostPort(t.server, t.port)
	resp, _, err := c.ExchangeContext(ctx, m, addr)
	if err != nil {
		return nil, err
	}
	if resp.Truncated {
		c.Net = "tcp"
		resp, _, err = c.ExchangeContext(ctx, m, addr)
		if err != nil {
			return nil, err
		}
	}

	var out []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			out = append(out, txt.Txt...)
		}
	}
	return out, nil
}

// --- Mock Transport ---

// mockTransport answers deterministically without network I/O. Development
// only: config validation rejects it unless allow_mock is set.
type mockTransport struct {
	transportBase
	reply string
}

func newMockTransport(reply string) *mockTransport {
	if reply == "" {
		reply = "mock reply"
	}
	return &mockTransport{
		transportBase: transportBase{method: MethodMock},
		reply:         reply,
	}
}

func (t *mockTransport) Query(ctx context.Context, q *SanitizedQuery) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return []string{fmt.Sprintf("%s [%s]", t.reply, q.Label)}, nil
}

// --- Wiring ---

// buildTransports constructs the configured transport set. Methods absent from
// the configured order are not constructed.
func buildTransports(cfg *Config, guard *ServerGuard) (map[Method]Transport, error) {
	server := cfg.Server.parsedZone
	port := cfg.Server.Port
	timeout := cfg.Server.parsedTimeout

	transports := make(map[Method]Transport, len(cfg.Server.parsedOrder))
	for _, m := range cfg.Server.parsedOrder {
		qps := cfg.Server.TransportQPS[string(m)]
		switch m {
		case MethodNative:
			transports[m] = newNativeTransport(server, port, qps)
		case MethodUDP:
			transports[m] = newUDPTransport(server, port, guard, qps, timeout)
		case MethodTCP:
			transports[m] = newTCPTransport(server, port, guard, qps, timeout)
		case MethodHTTPS:
			transports[m] = newDoHTransport(cfg.Server.DOHURL, qps, timeout)
		case MethodDoQ:
			transports[m] = newDoQTransport(cfg.Server.DOQAddr, server, guard, qps, timeout, cfg.Server.Insecure)
		case MethodLegacy:
			transports[m] = newLegacyTransport(server, port, qps, timeout)
		case MethodMock:
			transports[m] = newMockTransport(cfg.Server.MockReply)
		default:
			return nil, fmt.Errorf("transport %q has no implementation", m)
		}
	}
	return transports, nil
}

/*
File: transport_test.go
Version: 1.0.0
Description: Tests for the server guard, the mock transport and the wire
             transports against a local DNS server.
*/

package main

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func TestParseMethod(t *testing.T) {
	for _, s := range []string{"native", "udp", "tcp", "https", "doq", "legacy", "mock"} {
		if _, err := ParseMethod(s); err != nil {
			t.Errorf("ParseMethod(%q): %v", s, err)
		}
	}
	if _, err := ParseMethod("smoke-signal"); err == nil {
		t.Error("unknown method accepted")
	}
}

func TestServerGuard(t *testing.T) {
	g, err := NewServerGuard([]string{"10.0.0.0/8", "192.168.0.0/16"}, false)
	if err != nil {
		t.Fatal(err)
	}

	if err := g.Check(net.ParseIP("10.1.2.3")); err == nil {
		t.Error("blocked range address accepted")
	}
	if err := g.Check(net.ParseIP("127.0.0.1")); err == nil {
		t.Error("loopback accepted without allow_local")
	}
	if err := g.Check(net.ParseIP("0.0.0.0")); err == nil {
		t.Error("unspecified address accepted")
	}
	if err := g.Check(net.ParseIP("198.51.100.7")); err != nil {
		t.Errorf("public address rejected: %v", err)
	}
	if err := g.Check(nil); err == nil {
		t.Error("nil address accepted")
	}

	var blocked *BlockedServerError
	if err := g.Check(net.ParseIP("192.168.1.1")); !errors.As(err, &blocked) {
		t.Errorf("got %T, want *BlockedServerError", err)
	}
}

func TestServerGuardAllowLocal(t *testing.T) {
	g, err := NewServerGuard(nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Check(net.ParseIP("127.0.0.1")); err != nil {
		t.Errorf("loopback rejected with allow_local: %v", err)
	}
}

func TestServerGuardRejectsBadRange(t *testing.T) {
	if _, err := NewServerGuard([]string{"not-a-cidr"}, false); err == nil {
		t.Fatal("invalid CIDR accepted")
	}
}

func TestMockTransport(t *testing.T) {
	tr := newMockTransport("canned")
	q, err := Sanitize("hello", DefaultZone)
	if err != nil {
		t.Fatal(err)
	}
	txts, err := tr.Query(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if len(txts) != 1 || txts[0] != "canned [hello]" {
		t.Errorf("mock reply = %q", txts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Query(ctx, q); err == nil {
		t.Error("mock ignored a cancelled context")
	}
}

func TestNewPacer(t *testing.T) {
	if newPacer(0) != nil {
		t.Error("zero qps built a pacer")
	}
	p := newPacer(1)
	if p == nil {
		t.Fatal("positive qps built no pacer")
	}
	// Burst floor lets a short spike through before pacing kicks in.
	for i := 0; i < 10; i++ {
		if !p.Allow() {
			t.Fatalf("request %d denied inside the burst floor", i+1)
		}
	}
	if p.Allow() {
		t.Error("request allowed past the burst")
	}
}

// serveTXT runs a local DNS server answering every TXT question with the
// given strings, and returns its host and port.
func serveTXT(t *testing.T, network string, txt []string) (string, string) {
	t.Helper()

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		if len(req.Question) == 1 && req.Question[0].Qtype == dns.TypeTXT {
			resp.Answer = append(resp.Answer, &dns.TXT{
				Hdr: dns.RR_Header{
					Name:   req.Question[0].Name,
					Rrtype: dns.TypeTXT,
					Class:  dns.ClassINET,
					Ttl:    60,
				},
				Txt: txt,
			})
		}
		w.WriteMsg(resp)
	})

	srv := &dns.Server{Addr: "127.0.0.1:0", Net: network, Handler: handler}
	var addr net.Addr
	switch network {
	case "udp":
		pc, err := net.ListenPacket("udp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		srv.PacketConn = pc
		addr = pc.LocalAddr()
	case "tcp":
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		srv.Listener = l
		addr = l.Addr()
	}

	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })

	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}

func TestUDPTransportAgainstLocalServer(t *testing.T) {
	host, port := serveTXT(t, "udp", []string{"local answer"})

	guard, err := NewServerGuard(nil, true)
	if err != nil {
		t.Fatal(err)
	}
	tr := newUDPTransport(host, port, guard, 0, 2*time.Second)

	q, err := Sanitize("hello", DefaultZone)
	if err != nil {
		t.Fatal(err)
	}
	txts, err := tr.Query(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if len(txts) != 1 || txts[0] != "local answer" {
		t.Errorf("TXT = %q", txts)
	}
}

func TestTCPTransportAgainstLocalServer(t *testing.T) {
	host, port := serveTXT(t, "tcp", []string{"1/2:first ", "2/2:second"})

	guard, err := NewServerGuard(nil, true)
	if err != nil {
		t.Fatal(err)
	}
	tr := newTCPTransport(host, port, guard, 0, 2*time.Second)

	q, err := Sanitize("hello", DefaultZone)
	if err != nil {
		t.Fatal(err)
	}
	txts, err := tr.Query(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	answer, err := Reassemble(txts)
	if err != nil {
		t.Fatal(err)
	}
	if answer != "first second" {
		t.Errorf("answer = %q", answer)
	}
}

func TestLegacyTransportAgainstLocalServer(t *testing.T) {
	host, port := serveTXT(t, "udp", []string{"legacy answer"})

	tr := newLegacyTransport(host, port, 0, 2*time.Second)
	q, err := Sanitize("hello", DefaultZone)
	if err != nil {
		t.Fatal(err)
	}
	txts, err := tr.Query(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if len(txts) != 1 || txts[0] != "legacy answer" {
		t.Errorf("TXT = %q", txts)
	}
}

func TestUDPTransportRefusesBlockedServer(t *testing.T) {
	guard, err := NewServerGuard(nil, false)
	if err != nil {
		t.Fatal(err)
	}
	tr := newUDPTransport("127.0.0.1", "53", guard, 0, time.Second)

	q, err := Sanitize("hello", DefaultZone)
	if err != nil {
		t.Fatal(err)
	}
	_, err = tr.Query(context.Background(), q)
	var blocked *BlockedServerError
	if !errors.As(err, &blocked) {
		t.Fatalf("got %T (%v), want *BlockedServerError", err, err)
	}
}

func TestBuildTransportsConstructsConfiguredOnly(t *testing.T) {
	cfg := DefaultConfig()
	guard, err := NewServerGuard(nil, false)
	if err != nil {
		t.Fatal(err)
	}
	transports, err := buildTransports(cfg, guard)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range DefaultTransportOrder {
		if transports[m] == nil {
			t.Errorf("transport %s not built", m)
		}
	}
	if transports[MethodDoQ] != nil {
		t.Error("doq built without being configured")
	}
	if transports[MethodMock] != nil {
		t.Error("mock built without being configured")
	}
}

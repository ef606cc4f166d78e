/*
File: doq.go
Version: 1.1.0
Description: DNS-over-QUIC transport (RFC 9250). Reuses one QUIC session per
             transport instance and redials when the session dies; framing is
             the 2-byte length prefix shared with TCP.
*/

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

type doqTransport struct {
	transportBase
	addr     string // host:port of the DoQ server
	sni      string
	guard    *ServerGuard
	timeout  time.Duration
	insecure bool

	mu   sync.Mutex
	sess quic.Connection
}

// newDoQTransport targets addr ("host:853"); when addr is empty the zone host
// is used on the default DoQ port.
func newDoQTransport(addr, server string, guard *ServerGuard, qps int, timeout time.Duration, insecure bool) *doqTransport {
	if addr == "" {
		addr = net.JoinHostPort(server, "853")
	}
	sni := addr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		sni = host
	}
	return &doqTransport{
		transportBase: transportBase{method: MethodDoQ, pacer: newPacer(qps)},
		addr:          addr,
		sni:           sni,
		guard:         guard,
		timeout:       timeout,
		insecure:      insecure,
	}
}

// session returns a live QUIC connection, dialing a fresh one when the cached
// session has been torn down.
func (t *doqTransport) session(ctx context.Context) (quic.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sess != nil {
		select {
		case <-t.sess.Context().Done():
			t.sess = nil
		default:
			return t.sess, nil
		}
	}

	ip, err := t.guard.resolveServer(ctx, t.sni)
	if err != nil {
		return nil, err
	}
	_, port, err := net.SplitHostPort(t.addr)
	if err != nil {
		port = "853"
	}

	tlsConf := &tls.Config{
		ServerName:         t.sni,
		InsecureSkipVerify: t.insecure,
		NextProtos:         []string{"doq"},
		MinVersion:         tls.VersionTLS12,
	}
	sess, err := quic.DialAddr(ctx, net.JoinHostPort(ip.String(), port), tlsConf, &quic.Config{
		KeepAlivePeriod: 30 * time.Second,
		MaxIdleTimeout:  60 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	t.sess = sess
	return sess, nil
}

func (t *doqTransport) Query(ctx context.Context, q *SanitizedQuery) ([]string, error) {
	packet, id, err := EncodeQuery(q.QueryName)
	if err != nil {
		return nil, err
	}

	sess, err := t.session(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := sess.OpenStreamSync(ctx)
	if err != nil {
		// Session may have died between liveness check and open; drop it so
		// the next attempt redials.
		t.mu.Lock()
		if t.sess == sess {
			t.sess = nil
		}
		t.mu.Unlock()
		return nil, err
	}
	defer stream.Close()

	stream.SetDeadline(deadlineFor(ctx, t.timeout))

	framed := make([]byte, 0, len(packet)+2)
	framed = appendUint16(framed, uint16(len(packet)))
	framed = append(framed, packet...)
	if _, err := stream.Write(framed); err != nil {
		return nil, fmt.Errorf("DoQ write: %w", err)
	}
	// RFC 9250: the client closes the send side after the query.
	if err := stream.Close(); err != nil {
		return nil, fmt.Errorf("DoQ close send side: %w", err)
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(stream, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("DoQ read length: %w", err)
	}
	respLen := int(lenBuf[0])<<8 | int(lenBuf[1])
	if respLen == 0 {
		return nil, &MalformedResponseError{Reason: "zero-length DoQ response"}
	}

	buf := make([]byte, respLen)
	if _, err := io.ReadFull(stream, buf); err != nil {
		return nil, fmt.Errorf("DoQ read body: %w", err)
	}

	msg, err := DecodeResponse(buf, id)
	if err != nil {
		return nil, err
	}
	return msg.TXT, nil
}

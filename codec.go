/*
File: codec.go
Version: 1.2.0
Description: Hand-rolled DNS wire codec for TXT queries. Every multi-byte read
             and every length-prefixed skip in the decoder is bounds-checked
             against the remaining buffer: rdata is network-controlled and has
             crashed clients that trusted declared lengths.
*/

package main

import (
	"fmt"
	"math/rand"
	"strings"
)

const (
	headerLen = 12

	qtypeTXT = 16
	qclassIN = 1

	// Standard query, recursion desired.
	flagsQuery = 0x0100

	flagQR         = 0x8000
	maskOpcode     = 0x7800
	maxPointerHops = 16
)

// Question is the decoded question section entry.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// DNSMessage is the decoded view of a response. Only TXT payloads are
// extracted; other record types are skipped, not decoded.
type DNSMessage struct {
	ID        uint16
	Flags     uint16
	Questions []Question
	TXT       []string
}

// EncodeQuery builds a standard TXT query for name: a 12-byte header with a
// random transaction id followed by the single question. The id is returned
// so the response can be verified against it.
func EncodeQuery(name string) ([]byte, uint16, error) {
	qname, err := encodeName(name)
	if err != nil {
		return nil, 0, err
	}

	id := uint16(rand.Uint32())

	buf := make([]byte, 0, headerLen+len(qname)+4)
	buf = appendUint16(buf, id)
	buf = appendUint16(buf, flagsQuery)
	buf = appendUint16(buf, 1) // QDCOUNT
	buf = appendUint16(buf, 0) // ANCOUNT
	buf = appendUint16(buf, 0) // NSCOUNT
	buf = appendUint16(buf, 0) // ARCOUNT
	buf = append(buf, qname...)
	buf = appendUint16(buf, qtypeTXT)
	buf = appendUint16(buf, qclassIN)

	return buf, id, nil
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

// encodeName label-encodes a dotted name: one length byte per segment, then
// the segment bytes, terminated by a zero byte.
func encodeName(name string) ([]byte, error) {
	labels := strings.Split(strings.TrimSuffix(name, "."), ".")
	out := make([]byte, 0, len(name)+2)
	for _, label := range labels {
		if label == "" {
			return nil, &ValidationError{Reason: "query name contains an empty label"}
		}
		if len(label) > maxLabelLen {
			return nil, &ValidationError{Reason: fmt.Sprintf("label %q exceeds %d bytes", label, maxLabelLen)}
		}
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	out = append(out, 0)
	if len(out) > maxNameLen {
		return nil, &ValidationError{Reason: fmt.Sprintf("query name exceeds %d bytes", maxNameLen)}
	}
	return out, nil
}

// wireReader is a bounds-checked cursor over a response buffer.
type wireReader struct {
	buf []byte
	off int
}

func (r *wireReader) need(n int) error {
	if n < 0 || r.off+n > len(r.buf) {
		return &MalformedResponseError{Reason: fmt.Sprintf("read of %d bytes at offset %d exceeds %d-byte buffer", n, r.off, len(r.buf))}
	}
	return nil
}

func (r *wireReader) u8() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *wireReader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := uint16(r.buf[r.off])<<8 | uint16(r.buf[r.off+1])
	r.off += 2
	return v, nil
}

func (r *wireReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := uint32(r.buf[r.off])<<24 | uint32(r.buf[r.off+1])<<16 |
		uint32(r.buf[r.off+2])<<8 | uint32(r.buf[r.off+3])
	r.off += 4
	return v, nil
}

func (r *wireReader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// DecodeResponse parses a response buffer, verifying it against the query's
// transaction id, and extracts TXT payloads in record order.
func DecodeResponse(buf []byte, wantID uint16) (*DNSMessage, error) {
	if len(buf) < headerLen {
		return nil, &MalformedResponseError{Reason: fmt.Sprintf("buffer of %d bytes is shorter than the DNS header", len(buf))}
	}

	r := &wireReader{buf: buf}

	id, _ := r.u16()
	flags, _ := r.u16()
	qdCount, _ := r.u16()
	anCount, _ := r.u16()
	r.u16() // NSCOUNT
	r.u16() // ARCOUNT

	if id != wantID {
		return nil, &MalformedResponseError{Reason: fmt.Sprintf("transaction id %#04x does not match query id %#04x", id, wantID)}
	}
	if flags&flagQR == 0 {
		return nil, &MalformedResponseError{Reason: "QR flag not set, not a response"}
	}
	if flags&maskOpcode != 0 {
		return nil, &MalformedResponseError{Reason: "opcode is not a standard query"}
	}

	msg := &DNSMessage{ID: id, Flags: flags}

	for i := 0; i < int(qdCount); i++ {
		name, err := readName(r)
		if err != nil {
			return nil, err
		}
		qtype, err := r.u16()
		if err != nil {
			return nil, err
		}
		qclass, err := r.u16()
		if err != nil {
			return nil, err
		}
		msg.Questions = append(msg.Questions, Question{Name: name, Type: qtype, Class: qclass})
	}

	// The loop runs exactly ANCOUNT times; any shortage in the buffer fails
	// through the bounds checks, so a count that overstates the actual
	// records cannot be silently accepted.
	for i := 0; i < int(anCount); i++ {
		if _, err := readName(r); err != nil {
			return nil, err
		}
		rrType, err := r.u16()
		if err != nil {
			return nil, err
		}
		rrClass, err := r.u16()
		if err != nil {
			return nil, err
		}
		if _, err := r.u32(); err != nil { // TTL
			return nil, err
		}
		rdLength, err := r.u16()
		if err != nil {
			return nil, err
		}
		rdata, err := r.bytes(int(rdLength))
		if err != nil {
			return nil, err
		}

		if rrType != qtypeTXT || rrClass != qclassIN {
			continue
		}
		txt, err := decodeTXT(rdata)
		if err != nil {
			return nil, err
		}
		msg.TXT = append(msg.TXT, txt...)
	}

	return msg, nil
}

// decodeTXT splits TXT rdata into its length-prefixed character-strings.
// Each declared length is checked against the remaining rdata.
func decodeTXT(rdata []byte) ([]string, error) {
	var out []string
	for p := 0; p < len(rdata); {
		n := int(rdata[p])
		p++
		if p+n > len(rdata) {
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("TXT string length %d exceeds remaining rdata %d", n, len(rdata)-p)}
		}
		out = append(out, string(rdata[p:p+n]))
		p += n
	}
	return out, nil
}

// readName reads a possibly-compressed name. Compression pointers must point
// strictly backwards and are followed at most maxPointerHops times, so
// self-referential or cyclic pointers in hostile input cannot loop forever.
func readName(r *wireReader) (string, error) {
	var labels []string
	total := 0
	hops := 0
	returnOff := -1

	for {
		length, err := r.u8()
		if err != nil {
			return "", err
		}

		if length&0xC0 == 0xC0 {
			low, err := r.u8()
			if err != nil {
				return "", err
			}
			target := int(length&0x3F)<<8 | int(low)
			if target >= r.off-2 {
				return "", &MalformedResponseError{Reason: fmt.Sprintf("compression pointer to %d does not point backwards", target)}
			}
			hops++
			if hops > maxPointerHops {
				return "", &MalformedResponseError{Reason: "compression pointer chain too long"}
			}
			if returnOff < 0 {
				returnOff = r.off
			}
			r.off = target
			continue
		}
		if length&0xC0 != 0 {
			return "", &MalformedResponseError{Reason: fmt.Sprintf("reserved label type %#02x", length&0xC0)}
		}

		if length == 0 {
			break
		}
		if length > maxLabelLen {
			return "", &MalformedResponseError{Reason: fmt.Sprintf("label length %d exceeds %d", length, maxLabelLen)}
		}
		label, err := r.bytes(int(length))
		if err != nil {
			return "", err
		}
		total += int(length) + 1
		if total > maxNameLen {
			return "", &MalformedResponseError{Reason: fmt.Sprintf("name exceeds %d bytes", maxNameLen)}
		}
		labels = append(labels, string(label))
	}

	if returnOff >= 0 {
		r.off = returnOff
	}
	return strings.Join(labels, "."), nil
}

package tls

import (
	"github.com/gravwell/netfpd/internal/datum"
)

// ServerHello is the parsed, server-visible subset of a TLS ServerHello.
type ServerHello struct {
	Version     uint16
	Random      []byte
	SessionID   []byte
	CipherSuite uint16
	Extensions  []Extension
}

// ParseServerHello parses a ServerHello body (handshake header already
// stripped).
func ParseServerHello(body []byte) (ServerHello, bool) {
	d := datum.New(body)
	sh := ServerHello{}

	v, ok := d.ReadUintBE(2)
	if !ok {
		return ServerHello{}, false
	}
	sh.Version = uint16(v)

	random := make([]byte, 32)
	if !d.ReadBytes(32, random) {
		return ServerHello{}, false
	}
	sh.Random = random

	sidLen, ok := d.ReadUintBE(1)
	if !ok {
		return ServerHello{}, false
	}
	sid, ok := d.Split(int(sidLen))
	if !ok {
		return ServerHello{}, false
	}
	sh.SessionID = sid.Bytes()

	cs, ok := d.ReadUintBE(2)
	if !ok {
		return ServerHello{}, false
	}
	sh.CipherSuite = uint16(cs)

	// compression method, single byte
	if !d.Skip(1) {
		return ServerHello{}, false
	}

	if d.Remaining() < 2 {
		return sh, true
	}
	extLenV, ok := d.ReadUintBE(2)
	if !ok {
		return ServerHello{}, false
	}
	extBytes, ok := d.Split(int(extLenV))
	if !ok {
		return ServerHello{}, false
	}
	ed := extBytes
	for ed.Remaining() >= 4 {
		etype, _ := ed.ReadUintBE(2)
		elen, _ := ed.ReadUintBE(2)
		eval, ok := ed.Split(int(elen))
		if !ok {
			break
		}
		sh.Extensions = append(sh.Extensions, Extension{Type: uint16(etype), Value: eval.Bytes()})
	}

	return sh, true
}

// Fingerprint renders the deterministic server-visible fingerprint string:
// version, selected cipher suite, and extension types, each parenthesized
// in wire order.
func (sh ServerHello) Fingerprint() string {
	b := make([]byte, 0, 64)
	writeHex16 := func(v uint16) {
		const hexDigits = "0123456789abcdef"
		b = append(b, hexDigits[(v>>12)&0xF], hexDigits[(v>>8)&0xF], hexDigits[(v>>4)&0xF], hexDigits[v&0xF])
	}

	b = append(b, '(')
	writeHex16(sh.Version)
	b = append(b, ')', '(')
	writeHex16(sh.CipherSuite)
	b = append(b, ')', '(')
	for _, e := range sh.Extensions {
		writeHex16(e.Type)
	}
	b = append(b, ')')

	return string(b)
}

package tls

import (
	"fmt"
	"strings"

	"github.com/gravwell/netfpd/internal/datum"
)

// Extension is one parsed ClientHello/ServerHello extension: a 16-bit type
// and its raw value bytes.
type Extension struct {
	Type  uint16
	Value []byte
}

// ClientHello is the parsed, client-visible subset of a TLS ClientHello
// needed for fingerprinting and SNI-based classification.
type ClientHello struct {
	Version          uint16
	Random           []byte
	SessionID        []byte
	CipherSuites     []uint16
	CompressionMeths []byte
	Extensions       []Extension
	ServerName       string // from the SNI extension, if present
	SupportedGroups  []uint16
	ECPointFormats   []byte
	SignatureAlgs    []uint16
}

const (
	extServerName        uint16 = 0
	extSupportedGroups    uint16 = 10
	extECPointFormats     uint16 = 11
	extSignatureAlgorithm uint16 = 13
)

// ParseClientHello parses a ClientHello body (the handshake message body,
// already stripped of the 4-byte handshake header). A short read leaves
// the Datum's emptiness as the malformed signal, matching the rest of the
// package's contract; ClientHello bodies are not incrementally
// reassembled field-by-field -- the *record* layer above already ensured
// the whole body is present before this is called.
func ParseClientHello(body []byte) (ClientHello, bool) {
	d := datum.New(body)
	ch := ClientHello{}

	v, ok := d.ReadUintBE(2)
	if !ok {
		return ClientHello{}, false
	}
	ch.Version = uint16(v)

	random := make([]byte, 32)
	if !d.ReadBytes(32, random) {
		return ClientHello{}, false
	}
	ch.Random = random

	sidLen, ok := d.ReadUintBE(1)
	if !ok {
		return ClientHello{}, false
	}
	sid, ok := d.Split(int(sidLen))
	if !ok {
		return ClientHello{}, false
	}
	ch.SessionID = sid.Bytes()

	csLenV, ok := d.ReadUintBE(2)
	if !ok {
		return ClientHello{}, false
	}
	csBytes, ok := d.Split(int(csLenV))
	if !ok {
		return ClientHello{}, false
	}
	csd := csBytes
	for csd.Remaining() >= 2 {
		cs, _ := csd.ReadUintBE(2)
		ch.CipherSuites = append(ch.CipherSuites, uint16(cs))
	}

	compLenV, ok := d.ReadUintBE(1)
	if !ok {
		return ClientHello{}, false
	}
	compBytes, ok := d.Split(int(compLenV))
	if !ok {
		return ClientHello{}, false
	}
	ch.CompressionMeths = compBytes.Bytes()

	if d.Remaining() < 2 {
		// no extensions block present; still a valid (old-style) ClientHello
		return ch, true
	}
	extLenV, ok := d.ReadUintBE(2)
	if !ok {
		return ClientHello{}, false
	}
	extBytes, ok := d.Split(int(extLenV))
	if !ok {
		return ClientHello{}, false
	}
	ed := extBytes
	for ed.Remaining() >= 4 {
		etype, _ := ed.ReadUintBE(2)
		elen, _ := ed.ReadUintBE(2)
		eval, ok := ed.Split(int(elen))
		if !ok {
			break
		}
		ext := Extension{Type: uint16(etype), Value: eval.Bytes()}
		ch.Extensions = append(ch.Extensions, ext)
		switch ext.Type {
		case extServerName:
			ch.ServerName = parseSNI(ext.Value)
		case extSupportedGroups:
			ch.SupportedGroups = parseUint16List(ext.Value)
		case extECPointFormats:
			ch.ECPointFormats = parseECPointFormats(ext.Value)
		case extSignatureAlgorithm:
			ch.SignatureAlgs = parseUint16List(ext.Value)
		}
	}

	return ch, true
}

// parseSNI extracts the host_name entry from a server_name extension
// value: 2-byte list length, then (1-byte type, 2-byte length, name)*.
func parseSNI(value []byte) string {
	d := datum.New(value)
	listLen, ok := d.ReadUintBE(2)
	if !ok {
		return ""
	}
	list, ok := d.Split(int(listLen))
	if !ok {
		return ""
	}
	for list.Remaining() >= 3 {
		nameType, _ := list.ReadUintBE(1)
		nameLen, _ := list.ReadUintBE(2)
		name, ok := list.Split(int(nameLen))
		if !ok {
			break
		}
		if nameType == 0 {
			return string(name.Bytes())
		}
	}
	return ""
}

// parseUint16List reads a 2-byte-length-prefixed list of uint16s (used by
// supported_groups and signature_algorithms).
func parseUint16List(value []byte) []uint16 {
	d := datum.New(value)
	listLen, ok := d.ReadUintBE(2)
	if !ok {
		return nil
	}
	list, ok := d.Split(int(listLen))
	if !ok {
		return nil
	}
	var out []uint16
	for list.Remaining() >= 2 {
		v, _ := list.ReadUintBE(2)
		out = append(out, uint16(v))
	}
	return out
}

func parseECPointFormats(value []byte) []byte {
	d := datum.New(value)
	listLen, ok := d.ReadUintBE(1)
	if !ok {
		return nil
	}
	list, ok := d.Split(int(listLen))
	if !ok {
		return nil
	}
	return list.Bytes()
}

// Fingerprint renders the deterministic, client-visible fingerprint string
// for this ClientHello: parenthesized hex tuples of version, cipher
// suites, extension types (in wire order; GREASE-reserved values are never
// filtered here, since the engine fingerprints exactly what was sent), and
// the curve and signature-algorithm lists, in that order.
func (ch ClientHello) Fingerprint() string {
	var b strings.Builder
	b.WriteByte('(')
	fmt.Fprintf(&b, "%04x", ch.Version)
	b.WriteByte(')')

	b.WriteByte('(')
	for _, cs := range ch.CipherSuites {
		fmt.Fprintf(&b, "%04x", cs)
	}
	b.WriteByte(')')

	b.WriteByte('(')
	for _, e := range ch.Extensions {
		fmt.Fprintf(&b, "%04x", e.Type)
	}
	b.WriteByte(')')

	b.WriteByte('(')
	for _, g := range ch.SupportedGroups {
		fmt.Fprintf(&b, "%04x", g)
	}
	b.WriteByte(')')

	b.WriteByte('(')
	for _, s := range ch.SignatureAlgs {
		fmt.Fprintf(&b, "%04x", s)
	}
	b.WriteByte(')')

	return b.String()
}

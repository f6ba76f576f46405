// Package tls parses TLS records, the handshake header, and ClientHello /
// ServerHello / Certificate messages (spec section 4.2), and renders the
// deterministic fingerprint string spec section 3 describes ("a canonical,
// deterministic string derived from client-visible fields"). Parsing is
// datum-based throughout: a short read reports additional_bytes_needed
// without consuming, matching the mercury contract.
package tls

import (
	"github.com/gravwell/netfpd/internal/datum"
)

// ContentType is the outermost TLS record type.
type ContentType byte

const (
	ContentChangeCipherSpec ContentType = 20
	ContentAlert            ContentType = 21
	ContentHandshake        ContentType = 22
	ContentApplicationData  ContentType = 23
)

// HandshakeType is the handshake message type inside a handshake record.
type HandshakeType byte

const (
	HandshakeClientHello HandshakeType = 1
	HandshakeServerHello HandshakeType = 2
	HandshakeCertificate HandshakeType = 11
)

// Record is a parsed TLS record header plus its fragment.
type Record struct {
	ContentType ContentType
	Version     uint16
	Fragment    []byte
}

// IsValid is a cheap structural probe used by the processor to avoid
// double-reporting a TLS record as raw "unknown" payload (pkt_proc.cc's
// `tls_record::is_valid` check): plausible content type, plausible
// version, and a length field that doesn't overrun what's present.
func IsValid(b []byte) bool {
	if len(b) < 5 {
		return false
	}
	ct := ContentType(b[0])
	if ct != ContentHandshake && ct != ContentChangeCipherSpec && ct != ContentAlert && ct != ContentApplicationData {
		return false
	}
	major, minor := b[1], b[2]
	if major != 3 {
		return false
	}
	_ = minor
	length := int(b[3])<<8 | int(b[4])
	return length <= len(b)-5+16384 // generous slack; reassembly handles genuine split records
}

// ParseRecord reads one TLS record header and its fragment (bounded by the
// header's length field, or the rest of the datum if fewer bytes are
// present so far -- the caller is responsible for treating a short
// fragment as "needs reassembly").
func ParseRecord(d *datum.Datum) (rec Record, additionalBytesNeeded int, ok bool) {
	start := *d
	ctv, ok := d.ReadUintBE(1)
	if !ok {
		return Record{}, 0, false
	}
	verv, ok := d.ReadUintBE(2)
	if !ok {
		*d = start
		d.SetEmpty()
		return Record{}, 0, false
	}
	lenv, ok := d.ReadUintBE(2)
	if !ok {
		*d = start
		d.SetEmpty()
		return Record{}, 0, false
	}
	length := int(lenv)
	if length > d.Remaining() {
		needed := length - d.Remaining()
		*d = start
		return Record{}, needed, true // incomplete, not consumed
	}
	frag, ok := d.Split(length)
	if !ok {
		return Record{}, 0, false
	}
	return Record{ContentType: ContentType(ctv), Version: uint16(verv), Fragment: frag.Bytes()}, 0, true
}

// Handshake is a parsed handshake message header plus its body.
type Handshake struct {
	Type HandshakeType
	Body []byte
}

// ParseHandshake reads one handshake message (1-byte type, 3-byte length)
// from d.
func ParseHandshake(d *datum.Datum) (hs Handshake, additionalBytesNeeded int, ok bool) {
	start := *d
	typv, ok := d.ReadUintBE(1)
	if !ok {
		return Handshake{}, 0, false
	}
	lenv, ok := d.ReadUintBE(3)
	if !ok {
		*d = start
		d.SetEmpty()
		return Handshake{}, 0, false
	}
	length := int(lenv)
	if length > d.Remaining() {
		needed := length - d.Remaining()
		*d = start
		return Handshake{}, needed, true
	}
	body, ok := d.Split(length)
	if !ok {
		return Handshake{}, 0, false
	}
	return Handshake{Type: HandshakeType(typv), Body: body.Bytes()}, 0, true
}

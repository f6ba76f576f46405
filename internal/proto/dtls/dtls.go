// Package dtls parses DTLS records and the handshake header, reusing
// tls.ParseClientHello / tls.ParseServerHello / tls.ParseCertificate for the
// message bodies themselves -- DTLS's ClientHello differs from TLS's only by
// an extra cookie field, which is skipped here before handing the remainder
// to the shared TLS body parser (spec section 4.2, module layout note
// grouping dtls/ with tls/ for "record/handshake/ClientHello/ServerHello/
// X.509").
package dtls

import (
	"github.com/gravwell/netfpd/internal/datum"
	"github.com/gravwell/netfpd/internal/proto/tls"
)

// ContentType mirrors tls.ContentType; DTLS reuses the same values.
type ContentType = tls.ContentType

const (
	ContentHandshake ContentType = 22
)

// Record is a parsed DTLS record header plus its fragment. DTLS records
// add a 2-byte epoch and 6-byte sequence number after the version field,
// compared to TLS.
type Record struct {
	ContentType ContentType
	Version     uint16
	Epoch       uint16
	SequenceNum uint64
	Fragment    []byte
}

// ParseRecord reads one DTLS record header. Unlike TLS, DTLS rides over
// UDP datagrams that arrive whole or not at all, so there is no
// additional_bytes_needed signaling here: a short read is simply
// malformed.
func ParseRecord(d *datum.Datum) (Record, bool) {
	ctv, ok := d.ReadUintBE(1)
	if !ok {
		return Record{}, false
	}
	verv, ok := d.ReadUintBE(2)
	if !ok {
		return Record{}, false
	}
	epoch, ok := d.ReadUintBE(2)
	if !ok {
		return Record{}, false
	}
	seq, ok := d.ReadUintBE(6)
	if !ok {
		return Record{}, false
	}
	lenv, ok := d.ReadUintBE(2)
	if !ok {
		return Record{}, false
	}
	frag, ok := d.Split(int(lenv))
	if !ok {
		return Record{}, false
	}
	return Record{
		ContentType: ContentType(ctv),
		Version:     uint16(verv),
		Epoch:       uint16(epoch),
		SequenceNum: seq,
		Fragment:    frag.Bytes(),
	}, true
}

// Handshake is a parsed DTLS handshake message header plus its
// (already-reassembled, single-fragment) body. message_seq and the
// fragment offset/length fields are retained for completeness but this
// engine only reports first-flight, single-fragment handshakes; a
// fragmented ClientHello is treated as unknown rather than reassembled
// across DTLS records.
type Handshake struct {
	Type              tls.HandshakeType
	MessageSeq        uint16
	FragmentOffset    uint32
	FragmentLength    uint32
	Body              []byte
	IsSingleFragment  bool
}

// ParseHandshake reads one DTLS handshake header (1-byte type, 3-byte
// length, 2-byte message_seq, 3-byte fragment_offset, 3-byte
// fragment_length) from d.
func ParseHandshake(d *datum.Datum) (Handshake, bool) {
	typv, ok := d.ReadUintBE(1)
	if !ok {
		return Handshake{}, false
	}
	lenv, ok := d.ReadUintBE(3)
	if !ok {
		return Handshake{}, false
	}
	msgSeq, ok := d.ReadUintBE(2)
	if !ok {
		return Handshake{}, false
	}
	fragOff, ok := d.ReadUintBE(3)
	if !ok {
		return Handshake{}, false
	}
	fragLen, ok := d.ReadUintBE(3)
	if !ok {
		return Handshake{}, false
	}
	body, ok := d.Split(int(fragLen))
	if !ok {
		return Handshake{}, false
	}
	return Handshake{
		Type:             tls.HandshakeType(typv),
		MessageSeq:       uint16(msgSeq),
		FragmentOffset:   uint32(fragOff),
		FragmentLength:   uint32(fragLen),
		Body:             body.Bytes(),
		IsSingleFragment: fragOff == 0 && fragLen == lenv,
	}, true
}

// ParseClientHello parses a DTLS ClientHello body: identical to TLS's up
// through session_id, then an extra cookie field, then cipher suites /
// compression methods / extensions exactly as in TLS.
func ParseClientHello(body []byte) (tls.ClientHello, bool) {
	d := datum.New(body)

	v, ok := d.ReadUintBE(2)
	if !ok {
		return tls.ClientHello{}, false
	}
	random := make([]byte, 32)
	if !d.ReadBytes(32, random) {
		return tls.ClientHello{}, false
	}
	sidLen, ok := d.ReadUintBE(1)
	if !ok {
		return tls.ClientHello{}, false
	}
	sid, ok := d.Split(int(sidLen))
	if !ok {
		return tls.ClientHello{}, false
	}

	cookieLen, ok := d.ReadUintBE(1)
	if !ok {
		return tls.ClientHello{}, false
	}
	if !d.Skip(int(cookieLen)) {
		return tls.ClientHello{}, false
	}

	rest := d.Bytes()
	ch, ok := tls.ParseClientHello(rebuild(v, random, sid.Bytes(), rest))
	return ch, ok
}

// rebuild re-assembles a body that tls.ParseClientHello can read directly
// (version, random, session_id, then whatever followed the DTLS cookie),
// so the shared parser's field layout lines up after the cookie is
// removed.
func rebuild(version uint64, random, sessionID, rest []byte) []byte {
	out := make([]byte, 0, 2+32+1+len(sessionID)+len(rest))
	out = append(out, byte(version>>8), byte(version))
	out = append(out, random...)
	out = append(out, byte(len(sessionID)))
	out = append(out, sessionID...)
	out = append(out, rest...)
	return out
}

// ParseServerHello and ParseCertificate for DTLS are structurally
// identical to TLS's; DTLS only changes the record and handshake headers,
// not the message bodies themselves.
var ParseServerHello = tls.ParseServerHello
var ParseCertificate = tls.ParseCertificate

package tls

import (
	"strings"
	"testing"

	"github.com/gravwell/netfpd/internal/datum"
)

func buildClientHello(sni string, ciphers []uint16) []byte {
	var b []byte
	b = append(b, 0x03, 0x03) // version TLS 1.2
	b = append(b, make([]byte, 32)...)
	b = append(b, 0x00) // session id len

	csLen := len(ciphers) * 2
	b = append(b, byte(csLen>>8), byte(csLen))
	for _, c := range ciphers {
		b = append(b, byte(c>>8), byte(c))
	}

	b = append(b, 0x01, 0x00) // compression methods: len 1, null

	var ext []byte
	if sni != "" {
		nameBytes := []byte(sni)
		var sniEntry []byte
		sniEntry = append(sniEntry, 0x00) // host_name
		sniEntry = append(sniEntry, byte(len(nameBytes)>>8), byte(len(nameBytes)))
		sniEntry = append(sniEntry, nameBytes...)
		listLen := len(sniEntry)
		var val []byte
		val = append(val, byte(listLen>>8), byte(listLen))
		val = append(val, sniEntry...)
		ext = append(ext, 0x00, 0x00) // extension type server_name
		ext = append(ext, byte(len(val)>>8), byte(len(val)))
		ext = append(ext, val...)
	}
	extLen := len(ext)
	b = append(b, byte(extLen>>8), byte(extLen))
	b = append(b, ext...)

	return b
}

func wrapHandshake(htype HandshakeType, body []byte) []byte {
	var b []byte
	b = append(b, byte(htype))
	l := len(body)
	b = append(b, byte(l>>16), byte(l>>8), byte(l))
	b = append(b, body...)
	return b
}

func wrapRecord(ct ContentType, version uint16, fragment []byte) []byte {
	var b []byte
	b = append(b, byte(ct))
	b = append(b, byte(version>>8), byte(version))
	l := len(fragment)
	b = append(b, byte(l>>8), byte(l))
	b = append(b, fragment...)
	return b
}

func TestParseRecordAndHandshakeClientHello(t *testing.T) {
	chBody := buildClientHello("example.com", []uint16{0x1301, 0x1302, 0xC02F})
	hs := wrapHandshake(HandshakeClientHello, chBody)
	rec := wrapRecord(ContentHandshake, 0x0301, hs)

	d := datum.New(rec)
	r, needed, ok := ParseRecord(&d)
	if !ok || needed != 0 {
		t.Fatalf("ParseRecord failed: ok=%v needed=%d", ok, needed)
	}
	if r.ContentType != ContentHandshake {
		t.Fatalf("unexpected content type %v", r.ContentType)
	}

	hd := datum.New(r.Fragment)
	h, needed, ok := ParseHandshake(&hd)
	if !ok || needed != 0 {
		t.Fatalf("ParseHandshake failed: ok=%v needed=%d", ok, needed)
	}
	if h.Type != HandshakeClientHello {
		t.Fatalf("unexpected handshake type %v", h.Type)
	}

	ch, ok := ParseClientHello(h.Body)
	if !ok {
		t.Fatalf("ParseClientHello failed")
	}
	if ch.ServerName != "example.com" {
		t.Fatalf("got SNI %q", ch.ServerName)
	}
	if len(ch.CipherSuites) != 3 || ch.CipherSuites[2] != 0xC02F {
		t.Fatalf("got cipher suites %v", ch.CipherSuites)
	}
}

func TestParseRecordIncompleteSignalsNeededWithoutConsuming(t *testing.T) {
	chBody := buildClientHello("x.com", []uint16{0x1301})
	hs := wrapHandshake(HandshakeClientHello, chBody)
	rec := wrapRecord(ContentHandshake, 0x0301, hs)

	truncated := rec[:len(rec)-10]
	d := datum.New(truncated)
	before := d

	_, needed, ok := ParseRecord(&d)
	if !ok || needed != 10 {
		t.Fatalf("expected needed=10, got needed=%d ok=%v", needed, ok)
	}
	if d.Remaining() != before.Remaining() {
		t.Fatalf("expected datum unconsumed on incomplete record")
	}
}

func TestIsValidRejectsGarbage(t *testing.T) {
	if IsValid([]byte{0x00, 0x00, 0x00, 0x00, 0x00}) {
		t.Fatalf("expected garbage to be rejected")
	}
	chBody := buildClientHello("y.com", []uint16{0x1301})
	hs := wrapHandshake(HandshakeClientHello, chBody)
	rec := wrapRecord(ContentHandshake, 0x0301, hs)
	if !IsValid(rec) {
		t.Fatalf("expected well-formed record to validate")
	}
}

func TestClientHelloFingerprintDeterministic(t *testing.T) {
	body := buildClientHello("z.com", []uint16{0x1301, 0x1302})
	ch1, ok := ParseClientHello(body)
	if !ok {
		t.Fatalf("parse failed")
	}
	ch2, ok := ParseClientHello(body)
	if !ok {
		t.Fatalf("parse failed")
	}
	if ch1.Fingerprint() != ch2.Fingerprint() {
		t.Fatalf("expected identical fingerprints for identical input")
	}
	if !strings.Contains(ch1.Fingerprint(), "13011302") {
		t.Fatalf("fingerprint missing cipher suite hex: %s", ch1.Fingerprint())
	}
}

package ssh

import (
	"testing"

	"github.com/gravwell/netfpd/internal/datum"
)

func TestParseBanner(t *testing.T) {
	b, ok := ParseBanner([]byte("SSH-2.0-OpenSSH_9.6\r\n"))
	if !ok {
		t.Fatalf("expected banner parse to succeed")
	}
	if b.ProtoVersion != "2.0" || b.SoftwareVersion != "OpenSSH_9.6" {
		t.Fatalf("got %+v", b)
	}
}

func TestParseBannerRejectsNonSSH(t *testing.T) {
	if _, ok := ParseBanner([]byte("HTTP/1.1 200 OK\r\n")); ok {
		t.Fatalf("expected non-SSH banner to be rejected")
	}
}

func buildKexInitPacket() []byte {
	var payload []byte
	payload = append(payload, msgKexInit)
	payload = append(payload, make([]byte, 16)...) // cookie

	writeList := func(items string) {
		payload = append(payload, byte(len(items)>>24), byte(len(items)>>16), byte(len(items)>>8), byte(len(items)))
		payload = append(payload, items...)
	}
	writeList("curve25519-sha256,diffie-hellman-group14-sha256")
	for i := 0; i < 9; i++ {
		writeList("x")
	}

	padLen := 4
	packetLen := 1 + len(payload) + padLen
	var pkt []byte
	pkt = append(pkt, byte(packetLen>>24), byte(packetLen>>16), byte(packetLen>>8), byte(packetLen))
	pkt = append(pkt, byte(padLen))
	pkt = append(pkt, payload...)
	pkt = append(pkt, make([]byte, padLen)...)
	return pkt
}

func TestParsePacketKexInit(t *testing.T) {
	raw := buildKexInitPacket()
	d := datum.New(raw)
	ki, needed, ok := ParsePacket(&d)
	if !ok || needed != 0 {
		t.Fatalf("expected kex init parse to succeed, needed=%d ok=%v", needed, ok)
	}
	if len(ki.KexAlgorithms) != 2 || ki.KexAlgorithms[0] != "curve25519-sha256" {
		t.Fatalf("got kex algorithms %v", ki.KexAlgorithms)
	}
}

func TestParsePacketIncomplete(t *testing.T) {
	raw := buildKexInitPacket()
	truncated := raw[:len(raw)-5]
	d := datum.New(truncated)
	_, needed, ok := ParsePacket(&d)
	if !ok || needed != 5 {
		t.Fatalf("expected needed=5, got needed=%d ok=%v", needed, ok)
	}
}

package wireguard

import "testing"

func buildHandshakeInit() []byte {
	b := make([]byte, handshakeInitiationLen)
	b[0] = typeHandshakeInitiation
	b[4] = 0xAB // sender index low byte
	return b
}

func TestParseHandshakeInitiation(t *testing.T) {
	raw := buildHandshakeInit()
	hi, ok := Parse(raw)
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if hi.SenderIndex != 0xAB {
		t.Fatalf("got sender index %x", hi.SenderIndex)
	}
	if hi.Fingerprint() != "wg-handshake-init" {
		t.Fatalf("got fingerprint %q", hi.Fingerprint())
	}
}

func TestParseRejectsWrongLength(t *testing.T) {
	raw := buildHandshakeInit()[:100]
	if _, ok := Parse(raw); ok {
		t.Fatalf("expected wrong-length message to be rejected")
	}
}

func TestParseRejectsWrongType(t *testing.T) {
	raw := buildHandshakeInit()
	raw[0] = typeHandshakeResponse
	if _, ok := Parse(raw); ok {
		t.Fatalf("expected non-initiation type to be rejected")
	}
}

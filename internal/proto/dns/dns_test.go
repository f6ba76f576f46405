package dns

import (
	"testing"

	"github.com/miekg/dns"
)

func TestParseQuery(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn("example.com"), dns.TypeA)
	raw, err := m.Pack()
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}

	msg, ok := Parse(raw)
	if !ok {
		t.Fatalf("expected DNS parse to succeed")
	}
	if !msg.IsQuery {
		t.Fatalf("expected query message")
	}
	if len(msg.Questions) != 1 || msg.Questions[0].Name != "example.com." {
		t.Fatalf("got questions %+v", msg.Questions)
	}
	if msg.Questions[0].Qtype != dns.TypeA {
		t.Fatalf("got qtype %d", msg.Questions[0].Qtype)
	}
}

func TestFingerprint(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn("example.com"), dns.TypeAAAA)
	raw, _ := m.Pack()
	msg, _ := Parse(raw)
	if fp := msg.Fingerprint(); fp != "AAAA" {
		t.Fatalf("got fingerprint %q", fp)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, ok := Parse([]byte{0x00, 0x01, 0x02}); ok {
		t.Fatalf("expected garbage input to be rejected")
	}
}

package ipnet

import (
	"bytes"
	"net"
	"testing"
)

// buildIPv6Packet hand-assembles an IPv6 fixed header followed by a chain
// of extension headers (extTypes, in traversal order) and a final TCP
// payload. Each extension header is built minimally: next-header byte,
// HdrExtLen 0 (an 8-byte header), and 6 bytes of Pad1 options -- a valid,
// if trivial, encoding of RFC 8200's Hop-by-Hop/Destination/Routing
// options format. gopacket/layers has no SerializeTo support worth
// depending on here, so the bytes are built directly.
func buildIPv6Packet(t *testing.T, extTypes []byte, payload []byte) []byte {
	t.Helper()
	const tcpProto = 6

	chain := append(append([]byte{}, extTypes...), tcpProto)

	var exts []byte
	for i := range extTypes {
		next := chain[i+1]
		exts = append(exts, next, 0x00, 0, 0, 0, 0, 0, 0)
	}

	src := net.ParseIP("2001:db8::1").To16()
	dst := net.ParseIP("2001:db8::2").To16()

	hdr := make([]byte, 40)
	hdr[0] = 0x60 // version 6, traffic class/flow label 0
	plen := len(exts) + len(payload)
	hdr[4] = byte(plen >> 8)
	hdr[5] = byte(plen)
	hdr[6] = chain[0] // first next-header: the outermost extension, or TCP if none
	hdr[7] = 64       // hop limit
	copy(hdr[8:24], src)
	copy(hdr[24:40], dst)

	pkt := append(hdr, exts...)
	pkt = append(pkt, payload...)
	return pkt
}

func TestPeelIPv6ExtensionHeaderCountInvariance(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}

	cases := []struct {
		name     string
		extTypes []byte
	}{
		{"no extension headers", nil},
		{"one extension header (hop-by-hop)", []byte{0x00}},
		{"two extension headers (hop-by-hop, destination)", []byte{0x00, 0x3c}},
	}

	var keys []string
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			pkt := buildIPv6Packet(t, c.extTypes, payload)
			res, ok := Peel(0x86DD, pkt, false)
			if !ok {
				t.Fatalf("expected a successful peel")
			}
			if res.Protocol != 6 {
				t.Fatalf("expected protocol 6 (TCP), got %d", res.Protocol)
			}
			if !bytes.Equal(res.Payload, payload) {
				t.Fatalf("expected the transport payload to start right after the extension headers, got %x", res.Payload)
			}
			keys = append(keys, res.Key.String())
		})
	}

	for i := 1; i < len(keys); i++ {
		if keys[i] != keys[0] {
			t.Fatalf("expected every extension-header depth to yield the same flow key, got %q and %q", keys[0], keys[i])
		}
	}
}

func TestPeelIPv6UnknownEtherTypeFails(t *testing.T) {
	if _, ok := Peel(0x0806, []byte{0x01, 0x02}, false); ok {
		t.Fatalf("expected ARP ethertype to fail IP peeling")
	}
}

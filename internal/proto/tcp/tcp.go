// Package tcp parses the TCP transport header (spec section 4.8 step 3,
// "TCP"), backed by gopacket/layers for the header decode. Handshake
// message parsing (ClientHello, HTTP request, SSH banner, ...) lives in
// the per-protocol packages under internal/proto and operates on the
// datum-based payload this package hands back.
package tcp

import (
	"fmt"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Option kinds the TCP-SYN fingerprint cares about; anything else only
// contributes its kind byte to the option-order tuple.
const (
	OptionMSS         = 2
	OptionWindowScale = 3
)

// Option is a single TCP option as seen on the wire: kind byte plus its
// value bytes (kind/length octets stripped).
type Option struct {
	Kind byte
	Data []byte
}

// Header is the subset of the TCP header the processor needs.
type Header struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	SYN     bool
	ACK     bool
	FIN     bool
	RST     bool
	Window  uint16
	Options []Option
	Payload []byte
}

// Parse decodes a TCP segment from b. ok is false on a truncated or
// malformed header (the caller drops the packet silently).
func Parse(b []byte) (Header, bool) {
	packet := gopacket.NewPacket(b, layers.LayerTypeTCP, gopacket.NoCopy)
	l := packet.Layer(layers.LayerTypeTCP)
	if l == nil {
		return Header{}, false
	}
	tcp, _ := l.(*layers.TCP)
	opts := make([]Option, 0, len(tcp.Options))
	for _, o := range tcp.Options {
		opts = append(opts, Option{Kind: byte(o.OptionType), Data: o.OptionData})
	}
	return Header{
		SrcPort: uint16(tcp.SrcPort),
		DstPort: uint16(tcp.DstPort),
		Seq:     tcp.Seq,
		SYN:     tcp.SYN,
		ACK:     tcp.ACK,
		FIN:     tcp.FIN,
		RST:     tcp.RST,
		Window:  uint16(tcp.Window),
		Options: opts,
		Payload: tcp.Payload,
	}, true
}

// option returns the value bytes of the first option of the given kind.
func (h Header) option(kind byte) ([]byte, bool) {
	for _, o := range h.Options {
		if o.Kind == kind {
			return o.Data, true
		}
	}
	return nil, false
}

// Fingerprint renders the classic TCP-SYN fingerprint tuple (window size,
// option-kind order, MSS, window scale) in the same paren-grouped hex
// convention as the TLS/QUIC ClientHello fingerprints: each feature group
// wrapped in its own parens, concatenated with no separator. Grounded on
// mercury's select_tcp_syn path (pkt_proc.cc), which fingerprints the SYN's
// stack-level signature rather than any handshake payload.
func (h Header) Fingerprint() string {
	var b strings.Builder

	b.WriteByte('(')
	fmt.Fprintf(&b, "%04x", h.Window)
	b.WriteByte(')')

	b.WriteByte('(')
	for _, o := range h.Options {
		fmt.Fprintf(&b, "%02x", o.Kind)
	}
	b.WriteByte(')')

	b.WriteByte('(')
	if mss, ok := h.option(OptionMSS); ok {
		for _, by := range mss {
			fmt.Fprintf(&b, "%02x", by)
		}
	}
	b.WriteByte(')')

	b.WriteByte('(')
	if wscale, ok := h.option(OptionWindowScale); ok {
		for _, by := range wscale {
			fmt.Fprintf(&b, "%02x", by)
		}
	}
	b.WriteByte(')')

	return b.String()
}

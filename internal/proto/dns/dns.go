// Package dns extracts question-section metadata from a DNS message using
// github.com/miekg/dns for the wire-format decode (spec section 4.2,
// "DNS"); the message-type *probe* that decides whether a UDP payload is
// DNS at all stays allocation-light and hand-rolled in the probe package,
// consulting udp.EstimateFromPorts as a fallback -- this package is only
// reached once that decision has already been made.
package dns

import (
	"strings"

	"github.com/miekg/dns"
)

// Question is one parsed question-section entry.
type Question struct {
	Name  string
	Qtype uint16
	Class uint16
}

// Message is the parsed subset of a DNS message the engine reports:
// header flags and the question section. Answer/authority/additional
// records are not reported -- this is a first-flight fingerprint of the
// query, not a resolver.
type Message struct {
	ID        uint16
	IsQuery   bool
	Opcode    int
	Questions []Question
}

// Parse decodes a DNS message from b.
func Parse(b []byte) (Message, bool) {
	msg := new(dns.Msg)
	if err := msg.Unpack(b); err != nil {
		return Message{}, false
	}
	out := Message{
		ID:      msg.Id,
		IsQuery: !msg.Response,
		Opcode:  msg.Opcode,
	}
	for _, q := range msg.Question {
		out.Questions = append(out.Questions, Question{
			Name:  q.Name,
			Qtype: q.Qtype,
			Class: q.Qclass,
		})
	}
	return out, true
}

// Fingerprint renders a deterministic fingerprint from the query types
// requested, in wire order -- query names themselves vary too much
// per-observation to be useful as a fingerprint dimension.
func (m Message) Fingerprint() string {
	var parts []string
	for _, q := range m.Questions {
		parts = append(parts, dns.TypeToString[q.Qtype])
	}
	return strings.Join(parts, ",")
}

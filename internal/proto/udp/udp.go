// Package udp parses the UDP transport header (spec section 4.8 step 3,
// "UDP"), backed by gopacket/layers. A port-based fallback table
// (udp.h's estimate_msg_type_from_ports) is exposed here as EstimateFromPorts
// for the probe package to consult when a payload-signature match fails.
package udp

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Header is the subset of the UDP header the processor needs.
type Header struct {
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

// Parse decodes a UDP datagram from b.
func Parse(b []byte) (Header, bool) {
	packet := gopacket.NewPacket(b, layers.LayerTypeUDP, gopacket.NoCopy)
	l := packet.Layer(layers.LayerTypeUDP)
	if l == nil {
		return Header{}, false
	}
	udp, _ := l.(*layers.UDP)
	return Header{SrcPort: uint16(udp.SrcPort), DstPort: uint16(udp.DstPort), Payload: udp.Payload}, true
}

// PortFallback is the message type inferred from well-known ports alone,
// used only when the payload signature probe is inconclusive.
type PortFallback int

const (
	FallbackNone PortFallback = iota
	FallbackDNS
	FallbackVXLAN
)

// EstimateFromPorts mirrors udp_packet::estimate_msg_type_from_ports:
// port 5353 (mDNS) probes as DNS, destination port 4789 probes as VXLAN.
func EstimateFromPorts(h Header) PortFallback {
	if h.SrcPort == 5353 || h.DstPort == 5353 {
		return FallbackDNS
	}
	if h.DstPort == 4789 {
		return FallbackVXLAN
	}
	return FallbackNone
}

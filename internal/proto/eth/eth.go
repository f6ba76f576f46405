// Package eth peels the Ethernet/802.1Q/802.1ad link-layer header off a raw
// packet (spec section 4.8 step 1), backed by gopacket/layers for the
// header decode itself; only the "what ethertype, where does the payload
// start" contract is our own, since the engine's own datum-based parsing
// takes over at the network layer.
package eth

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// EtherType names the resolved payload protocol after stripping any VLAN
// tags, mirroring the switch in stateful_pkt_proc::write_json.
type EtherType uint16

const (
	IPv4 EtherType = 0x0800
	IPv6 EtherType = 0x86DD
	ARP  EtherType = 0x0806
)

// Peeled is the result of stripping Ethernet and any 802.1Q/802.1ad tags.
type Peeled struct {
	EtherType EtherType
	Payload   []byte
	VLANTags  []uint16 // outermost first
}

// Peel decodes the Ethernet header (and any stacked VLAN tags) at the
// front of pkt and returns the resolved ethertype and remaining payload.
// Truncated or malformed framing returns ok=false; the caller drops the
// packet silently per spec section 6.
func Peel(pkt []byte) (Peeled, bool) {
	if len(pkt) < 14 {
		return Peeled{}, false
	}
	packet := gopacket.NewPacket(pkt, layers.LayerTypeEthernet, gopacket.NoCopy)
	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return Peeled{}, false
	}
	ethernet, _ := ethLayer.(*layers.Ethernet)

	var vlanTags []uint16
	etherType := ethernet.EthernetType
	payload := ethernet.Payload

	for _, l := range packet.Layers() {
		if dot1q, ok := l.(*layers.Dot1Q); ok {
			vlanTags = append(vlanTags, dot1q.VLANIdentifier)
			etherType = dot1q.Type
			payload = dot1q.Payload
		}
	}

	switch EtherType(etherType) {
	case IPv4, IPv6, ARP:
		return Peeled{EtherType: EtherType(etherType), Payload: payload, VLANTags: vlanTags}, true
	default:
		return Peeled{}, false
	}
}

// Package ipnet peels IPv4/IPv6 network headers (with an optional GRE
// tunnel layer) and produces a partially-filled flow key (spec section 4.8
// step 2), backed by gopacket/layers for header decode. gopacket decodes
// each IPv6 extension header as its own layer rather than skipping past
// them on our behalf, so peelIPv6 walks that layer chain itself to find the
// true transport protocol and payload, matching the traversal in
// packet.c's ipv6_packet_fprintf_flow_key.
package ipnet

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/gravwell/netfpd/internal/flowkey"
)

// GREProtocolNumber is IPPROTO_GRE; spec section 4.8 step 2 peels GRE and
// recurses into the inner network header when this protocol number
// appears on the outer IP header and GRE handling is enabled.
const GREProtocolNumber = 47

// Result is a peeled network-layer header: the partially-built flow key
// (ports are still zero; the transport-layer parser fills them in) and the
// transport-layer payload.
type Result struct {
	Key      flowkey.Key
	Payload  []byte
	Protocol uint8 // IP protocol / next-header number of the transport layer
}

// Peel decodes an IPv4 or IPv6 header (optionally inside one layer of GRE)
// from payload, whose ethertype was already resolved by the eth package.
// enableGRE controls whether protocol 47 is peeled and the inner header
// parsed recursively; when false a GRE-encapsulated packet is reported as
// unparseable, matching mercury's report_GRE-disabled default.
func Peel(etherType uint16, payload []byte, enableGRE bool) (Result, bool) {
	switch etherType {
	case 0x0800:
		return peelIPv4(payload, enableGRE)
	case 0x86DD:
		return peelIPv6(payload, enableGRE)
	default:
		return Result{}, false
	}
}

func peelIPv4(b []byte, enableGRE bool) (Result, bool) {
	packet := gopacket.NewPacket(b, layers.LayerTypeIPv4, gopacket.NoCopy)
	l := packet.Layer(layers.LayerTypeIPv4)
	if l == nil {
		return Result{}, false
	}
	ip4, _ := l.(*layers.IPv4)

	proto := uint8(ip4.Protocol)
	payload := ip4.Payload

	if proto == GREProtocolNumber {
		if !enableGRE {
			return Result{}, false
		}
		inner, ok := peelGRE(payload)
		if !ok {
			return Result{}, false
		}
		return Peel(inner.etherType, inner.payload, false) // no nested GRE
	}

	var src, dst [4]byte
	copy(src[:], ip4.SrcIP.To4())
	copy(dst[:], ip4.DstIP.To4())
	k := flowkey.NewV4(be32(src), be32(dst), 0, 0, proto)
	return Result{Key: k, Payload: payload, Protocol: proto}, true
}

func peelIPv6(b []byte, enableGRE bool) (Result, bool) {
	packet := gopacket.NewPacket(b, layers.LayerTypeIPv6, gopacket.NoCopy)
	l := packet.Layer(layers.LayerTypeIPv6)
	if l == nil {
		return Result{}, false
	}
	ip6, _ := l.(*layers.IPv6)

	// Walk every extension header layer gopacket decoded, not just
	// hop-by-hop: each advances proto/payload past itself, so the final
	// values here are the true transport protocol and payload regardless
	// of how many extension headers (0, 1, or more) the packet carried --
	// the extension-header-count invariance spec section 8 requires.
	proto := uint8(ip6.NextHeader)
	payload := ip6.Payload
	for _, l := range packet.Layers() {
		switch opt := l.(type) {
		case *layers.IPv6HopByHop:
			proto = uint8(opt.NextHeader)
			payload = opt.Payload
		case *layers.IPv6Routing:
			proto = uint8(opt.NextHeader)
			payload = opt.Payload
		case *layers.IPv6Fragment:
			proto = uint8(opt.NextHeader)
			payload = opt.Payload
		case *layers.IPv6Destination:
			proto = uint8(opt.NextHeader)
			payload = opt.Payload
		}
	}

	if proto == GREProtocolNumber {
		if !enableGRE {
			return Result{}, false
		}
		inner, ok := peelGRE(payload)
		if !ok {
			return Result{}, false
		}
		return Peel(inner.etherType, inner.payload, false)
	}

	var src, dst [16]byte
	copy(src[:], ip6.SrcIP.To16())
	copy(dst[:], ip6.DstIP.To16())
	k := flowkey.NewV6(src, dst, 0, 0, proto)
	return Result{Key: k, Payload: payload, Protocol: proto}, true
}

type greInner struct {
	etherType uint16
	payload   []byte
}

func peelGRE(b []byte) (greInner, bool) {
	packet := gopacket.NewPacket(b, layers.LayerTypeGRE, gopacket.NoCopy)
	l := packet.Layer(layers.LayerTypeGRE)
	if l == nil {
		return greInner{}, false
	}
	gre, _ := l.(*layers.GRE)
	return greInner{etherType: uint16(gre.Protocol), payload: gre.Payload}, true
}

func be32(b [4]byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

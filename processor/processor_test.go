package processor

import (
	"net"
	"strings"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"

	"github.com/gravwell/netfpd/config"
)

func buildClientHelloBody(sni string) []byte {
	var b []byte
	b = append(b, 0x03, 0x03)            // client_version
	b = append(b, make([]byte, 32)...)   // random
	b = append(b, 0x00)                  // session_id len
	b = append(b, 0x00, 0x02, 0x00, 0x2f) // cipher_suites: len 2, TLS_RSA_WITH_AES_128_CBC_SHA
	b = append(b, 0x01, 0x00)            // compression methods

	var ext []byte
	nameBytes := []byte(sni)
	var entry []byte
	entry = append(entry, 0x00)
	entry = append(entry, byte(len(nameBytes)>>8), byte(len(nameBytes)))
	entry = append(entry, nameBytes...)
	listLen := len(entry)
	var val []byte
	val = append(val, byte(listLen>>8), byte(listLen))
	val = append(val, entry...)
	ext = append(ext, 0x00, 0x00)
	ext = append(ext, byte(len(val)>>8), byte(len(val)))
	ext = append(ext, val...)

	b = append(b, byte(len(ext)>>8), byte(len(ext)))
	b = append(b, ext...)
	return b
}

func wrapHandshake(body []byte) []byte {
	var b []byte
	b = append(b, 1) // client_hello
	l := len(body)
	b = append(b, byte(l>>16), byte(l>>8), byte(l))
	return append(b, body...)
}

func wrapRecord(fragment []byte) []byte {
	var b []byte
	b = append(b, 22, 0x03, 0x01) // handshake, TLS 1.0 record version
	l := len(fragment)
	b = append(b, byte(l>>8), byte(l))
	return append(b, fragment...)
}

func buildTCPPacket(t *testing.T, srcPort, dstPort uint16, seq uint32, syn bool, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(93, 184, 216, 34),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     seq,
		SYN:     syn,
		ACK:     !syn,
		Window:  65535,
	}
	tcp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	layerList := []gopacket.SerializableLayer{eth, ip, tcp}
	if len(payload) > 0 {
		layerList = append(layerList, gopacket.Payload(payload))
	}
	if err := gopacket.SerializeLayers(buf, opts, layerList...); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return append([]byte(nil), buf.Bytes()...)
}

func buildUDPPacket(t *testing.T, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(8, 8, 8, 8),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	udp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return append([]byte(nil), buf.Bytes()...)
}

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	cfg := config.Default()
	cfg.MetadataOutput = true
	cfg.DNSJSONOutput = true
	p, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestProcessTLSClientHelloEmitsFingerprint(t *testing.T) {
	p := newTestProcessor(t)

	chBody := buildClientHelloBody("www.example.com")
	record := wrapRecord(wrapHandshake(chBody))
	pkt := buildTCPPacket(t, 51234, 443, 1000, false, record)

	out := p.Process(1700000000000000000, pkt)
	if out == nil {
		t.Fatalf("expected a JSON record for a TLS ClientHello segment")
	}
	s := string(out)
	if !strings.Contains(s, `"fingerprints"`) || !strings.Contains(s, `"tls"`) {
		t.Fatalf("expected a tls fingerprint key, got %s", s)
	}
	if !strings.Contains(s, "www.example.com") {
		t.Fatalf("expected server_name metadata, got %s", s)
	}
	if !strings.HasSuffix(s, "\n") {
		t.Fatalf("expected a newline-terminated record")
	}
}

func TestProcessTLSClientHelloAcrossTwoSegmentsReassembles(t *testing.T) {
	p := newTestProcessor(t)

	chBody := buildClientHelloBody("split.example.com")
	record := wrapRecord(wrapHandshake(chBody))

	first := record[:10]
	second := record[10:]

	pkt1 := buildTCPPacket(t, 55000, 443, 2000, false, first)
	if out := p.Process(0, pkt1); out != nil {
		t.Fatalf("expected no record from the first, incomplete segment")
	}

	pkt2 := buildTCPPacket(t, 55000, 443, 2000+uint32(len(first)), false, second)
	out := p.Process(1, pkt2)
	if out == nil {
		t.Fatalf("expected a completed record once reassembly finishes")
	}
	if !strings.Contains(string(out), "split.example.com") {
		t.Fatalf("expected the reassembled ClientHello's SNI, got %s", out)
	}
}

func TestProcessSYNEmitsTCPFingerprint(t *testing.T) {
	p := newTestProcessor(t)
	pkt := buildTCPPacket(t, 51234, 443, 500, true, nil)
	out := p.Process(0, pkt)
	if out == nil {
		t.Fatalf("expected a bare SYN to emit a tcp fingerprint record")
	}
	if !strings.Contains(string(out), `"tcp":"(`) {
		t.Fatalf("expected a fingerprints.tcp entry, got %s", out)
	}
	if p.tcpTable.Len() != 1 {
		t.Fatalf("expected the SYN to be recorded in the TCP flow table, got %d entries", p.tcpTable.Len())
	}
}

func TestProcessSYNEmitsNothingWhenTCPFilterDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.PacketFilterCfg = "http"
	p, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pkt := buildTCPPacket(t, 51234, 443, 500, true, nil)
	if out := p.Process(0, pkt); out != nil {
		t.Fatalf("expected a bare SYN to emit nothing when \"tcp\" is not in the filter, got %s", out)
	}
	if p.tcpTable.Len() != 1 {
		t.Fatalf("expected the SYN to still be recorded in the TCP flow table regardless of filtering")
	}
}

func TestProcessUDPDNSQuery(t *testing.T) {
	p := newTestProcessor(t)

	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	wire, err := m.Pack()
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	pkt := buildUDPPacket(t, 40000, 53, wire)
	out := p.Process(0, pkt)
	if out == nil {
		t.Fatalf("expected a DNS metadata record")
	}
	if !strings.Contains(string(out), "example.com") {
		t.Fatalf("expected the query name in the record, got %s", out)
	}
}

func TestProcessUnknownTCPEmitsHexOnFirstDataSegmentWhenConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.OutputTCPInitialData = true
	p, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	syn := buildTCPPacket(t, 55001, 4242, 500, true, nil)
	if out := p.Process(0, syn); out == nil {
		t.Fatalf("expected the SYN to emit its tcp fingerprint")
	}

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	data := buildTCPPacket(t, 55001, 4242, 501, false, payload)
	out := p.Process(1, data)
	if out == nil {
		t.Fatalf("expected a hex-payload record for the first unknown data segment")
	}
	if !strings.Contains(string(out), "deadbeef") {
		t.Fatalf("expected hex payload in record, got %s", out)
	}

	// a second, later data segment on the same flow should not re-emit
	second := buildTCPPacket(t, 55001, 4242, 505, false, payload)
	if out := p.Process(2, second); out != nil {
		t.Fatalf("expected no record on a later data segment of the same flow, got %s", out)
	}
}

func TestProcessUnknownUDPEmitsHexOnFirstSightingWhenConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.OutputUDPInitialData = true
	p, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	pkt := buildUDPPacket(t, 12345, 9999, payload)

	out := p.Process(0, pkt)
	if out == nil {
		t.Fatalf("expected a hex-payload record for new unknown UDP flow")
	}
	if !strings.Contains(string(out), "deadbeef") {
		t.Fatalf("expected hex payload in record, got %s", out)
	}

	// second sighting of the same flow should not re-emit
	if out := p.Process(1, pkt); out != nil {
		t.Fatalf("expected no record on the second sighting of the same flow, got %s", out)
	}
}

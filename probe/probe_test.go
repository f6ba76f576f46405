package probe

import (
	"testing"

	"github.com/gravwell/netfpd/internal/proto/udp"
)

func TestProbeTCPHTTPRequest(t *testing.T) {
	if got := ProbeTCP([]byte("GET / HTTP/1.1\r\n")); got != TCPHTTPRequest {
		t.Fatalf("got %v", got)
	}
}

func TestProbeTCPHTTPResponse(t *testing.T) {
	if got := ProbeTCP([]byte("HTTP/1.1 200 OK\r\n")); got != TCPHTTPResponse {
		t.Fatalf("got %v", got)
	}
}

func TestProbeTCPSSHBanner(t *testing.T) {
	if got := ProbeTCP([]byte("SSH-2.0-OpenSSH_9.6\r\n")); got != TCPSSH {
		t.Fatalf("got %v", got)
	}
}

func TestProbeTCPTLSClientHello(t *testing.T) {
	rec := []byte{22, 3, 1, 0, 10, 1, 0, 0, 6, 3, 3, 0, 0, 0, 0}
	if got := ProbeTCP(rec); got != TCPTLSClientHello {
		t.Fatalf("got %v", got)
	}
}

func TestProbeTCPUnknown(t *testing.T) {
	if got := ProbeTCP([]byte{0x01, 0x02, 0x03}); got != TCPUnknown {
		t.Fatalf("got %v", got)
	}
}

func TestProbeUDPPortFallbackDNS(t *testing.T) {
	h := udp.Header{SrcPort: 5353, DstPort: 12345}
	if got := ProbeUDP([]byte{0x00}, h); got != UDPDNS {
		t.Fatalf("got %v", got)
	}
}

func TestProbeUDPWireGuard(t *testing.T) {
	payload := make([]byte, 148)
	payload[0] = 1
	if got := ProbeUDP(payload, udp.Header{}); got != UDPWireGuard {
		t.Fatalf("got %v", got)
	}
}

func TestProbeUDPQUIC(t *testing.T) {
	payload := make([]byte, 20)
	payload[0] = 0xC0 // long header form, fixed bit set
	payload[1], payload[2], payload[3], payload[4] = 0, 0, 0, 1
	if got := ProbeUDP(payload, udp.Header{}); got != UDPQUIC {
		t.Fatalf("got %v", got)
	}
}

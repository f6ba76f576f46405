package dhcp

import "testing"

func buildDiscover(paramList []byte) []byte {
	b := make([]byte, 0, 300)
	b = append(b, 1, 1, 6, 0) // op=BOOTREQUEST, htype=ethernet, hlen=6, hops=0
	b = append(b, 0x12, 0x34, 0x56, 0x78) // xid
	b = append(b, 0, 0, 0, 0)             // secs, flags
	b = append(b, 0, 0, 0, 0)             // ciaddr
	b = append(b, 0, 0, 0, 0)             // yiaddr
	b = append(b, 0, 0, 0, 0)             // siaddr
	b = append(b, 0, 0, 0, 0)             // giaddr
	b = append(b, make([]byte, 16)...)    // chaddr
	b = append(b, make([]byte, 64)...)    // sname
	b = append(b, make([]byte, 128)...)   // file
	b = append(b, 0x63, 0x82, 0x53, 0x63) // magic cookie

	b = append(b, 53, 1, byte(Discover))
	b = append(b, 55, byte(len(paramList)))
	b = append(b, paramList...)
	b = append(b, 0xFF) // End
	return b
}

func TestParseDiscover(t *testing.T) {
	raw := buildDiscover([]byte{1, 3, 6, 15, 119, 252})
	msg, ok := Parse(raw)
	if !ok {
		t.Fatalf("expected DHCP parse to succeed")
	}
	if msg.MessageType != Discover {
		t.Fatalf("got message type %d", msg.MessageType)
	}
	if len(msg.ParamRequest) != 6 || msg.ParamRequest[0] != 1 {
		t.Fatalf("got param request %v", msg.ParamRequest)
	}
}

func TestFingerprintIsParamOrderList(t *testing.T) {
	raw := buildDiscover([]byte{1, 3, 6})
	msg, _ := Parse(raw)
	if fp := msg.Fingerprint(); fp != "1,3,6" {
		t.Fatalf("got fingerprint %q", fp)
	}
}

func TestParseRejectsBadCookie(t *testing.T) {
	raw := buildDiscover([]byte{1})
	raw[236] = 0x00 // corrupt the magic cookie
	if _, ok := Parse(raw); ok {
		t.Fatalf("expected bad magic cookie to be rejected")
	}
}

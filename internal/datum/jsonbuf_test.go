package datum

import (
	"strings"
	"testing"
)

func TestObjectAlwaysBalances(t *testing.T) {
	buf := NewJSONBuffer(make([]byte, 8)) // too small for a real record
	o := NewObject(buf)
	o.KeyString("fingerprints.tls", strings.Repeat("a", 64))
	o.Close()
	if !buf.Truncated() {
		t.Fatalf("expected truncation with an 8-byte buffer")
	}
	out := buf.Bytes()
	if out[0] != '{' || out[len(out)-1] != '}' {
		t.Fatalf("expected balanced braces even when truncated, got %q", out)
	}
}

func TestStringEscaping(t *testing.T) {
	buf := NewJSONBuffer(make([]byte, 256))
	o := NewObject(buf)
	o.KeyString("v", "a\"b\\c\nd")
	o.Close()
	want := `{"v":"a\"b\\c\nd"}`
	if got := string(buf.Bytes()); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestControlByteEscaping(t *testing.T) {
	buf := NewJSONBuffer(make([]byte, 64))
	o := NewObject(buf)
	o.KeyString("v", "\x01")
	o.Close()
	want := "{\"v\":\"\\u0001\"}"
	if got := string(buf.Bytes()); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSurrogatePairForAstralCodepoint(t *testing.T) {
	buf := NewJSONBuffer(make([]byte, 64))
	o := NewObject(buf)
	o.KeyString("v", "\U0001F600") // outside the BMP
	o.Close()
	want := "{\"v\":\"\\ud83d\\ude00\"}"
	if got := string(buf.Bytes()); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNestedObjectAndArray(t *testing.T) {
	buf := NewJSONBuffer(make([]byte, 256))
	o := NewObject(buf)
	o.KeyUint("src_port", 443)
	arr := o.Array("os_info")
	e := arr.Object()
	e.KeyString("os", "windows")
	e.KeyUint("count", 10)
	e.Close()
	arr.Close()
	o.Close()
	want := `{"src_port":443,"os_info":[{"os":"windows","count":10}]}`
	if got := string(buf.Bytes()); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

package http

import "testing"

func TestParseRequestComplete(t *testing.T) {
	raw := []byte("GET /index.html HTTP/1.1\r\nHost: example.com\r\nUser-Agent: curl/8.0\r\n\r\n")
	req, ok := ParseRequest(raw)
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if !req.Complete {
		t.Fatalf("expected complete header block")
	}
	if req.Method != "GET" || req.URI != "/index.html" {
		t.Fatalf("got method=%q uri=%q", req.Method, req.URI)
	}
	if len(req.Headers) != 2 || req.Headers[0].Name != "Host" {
		t.Fatalf("got headers %+v", req.Headers)
	}
}

func TestParseRequestIncomplete(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n")
	req, ok := ParseRequest(raw)
	if !ok {
		t.Fatalf("expected best-effort parse to succeed")
	}
	if req.Complete {
		t.Fatalf("expected incomplete header block")
	}
}

func TestParseResponse(t *testing.T) {
	raw := []byte("HTTP/1.1 404 Not Found\r\nServer: nginx\r\n\r\n")
	resp, ok := ParseResponse(raw)
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if resp.StatusCode != 404 || resp.Reason != "Not Found" {
		t.Fatalf("got code=%d reason=%q", resp.StatusCode, resp.Reason)
	}
	if !resp.Complete {
		t.Fatalf("expected complete header block")
	}
}

func TestFingerprintIsHeaderNameOnly(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\nHost: secret.example.com\r\nAccept: */*\r\n\r\n")
	req, _ := ParseRequest(raw)
	fp := req.Fingerprint()
	if fp != "GET(Host,Accept)" {
		t.Fatalf("got fingerprint %q", fp)
	}
}

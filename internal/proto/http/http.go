// Package http parses the first-flight bytes of an HTTP/1.x request or
// response: the request/status line and headers, stopping at the blank
// line that ends the header block (spec section 4.2, section C "complete"
// supplement). No body is parsed; this is a passive fingerprinting probe,
// not an HTTP client or server.
package http

import (
	"bytes"
	"strconv"
	"strings"
)

var crlfcrlf = []byte("\r\n\r\n")

// Request is the parsed first-flight subset of an HTTP request.
type Request struct {
	Method     string
	URI        string
	Version    string
	Headers    []Header
	Complete   bool // true iff the full header block (terminated by CRLFCRLF) was present
}

// Response is the parsed first-flight subset of an HTTP response.
type Response struct {
	Version    string
	StatusCode int
	Reason     string
	Headers    []Header
	Complete   bool
}

// Header is one raw header line, name and value split on the first colon.
type Header struct {
	Name  string
	Value string
}

// ParseRequest parses an HTTP request from the start of b. Complete is
// false (but the parse is still returned, best-effort) when the header
// block's terminating blank line hasn't arrived yet; the caller decides
// whether to wait for more bytes via reassembly.
func ParseRequest(b []byte) (Request, bool) {
	headerBlock, complete := splitHeaderBlock(b)
	lines := splitLines(headerBlock)
	if len(lines) == 0 {
		return Request{}, false
	}
	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) != 3 {
		return Request{}, false
	}
	req := Request{
		Method:   parts[0],
		URI:      parts[1],
		Version:  parts[2],
		Complete: complete,
	}
	req.Headers = parseHeaderLines(lines[1:])
	return req, true
}

// ParseResponse parses an HTTP response from the start of b.
func ParseResponse(b []byte) (Response, bool) {
	headerBlock, complete := splitHeaderBlock(b)
	lines := splitLines(headerBlock)
	if len(lines) == 0 {
		return Response{}, false
	}
	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) < 2 {
		return Response{}, false
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return Response{}, false
	}
	resp := Response{
		Version:    parts[0],
		StatusCode: code,
		Complete:   complete,
	}
	if len(parts) == 3 {
		resp.Reason = parts[2]
	}
	resp.Headers = parseHeaderLines(lines[1:])
	return resp, true
}

// splitHeaderBlock returns the bytes up to (not including) the
// terminating CRLFCRLF, and whether that terminator was actually found.
// When it is not found, the whole input is treated as a (possibly
// truncated) header block so a best-effort fingerprint can still be
// attempted.
func splitHeaderBlock(b []byte) ([]byte, bool) {
	if idx := bytes.Index(b, crlfcrlf); idx >= 0 {
		return b[:idx], true
	}
	return b, false
}

func splitLines(b []byte) []string {
	raw := strings.Split(string(b), "\r\n")
	var out []string
	for _, l := range raw {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func parseHeaderLines(lines []string) []Header {
	var out []Header
	for _, l := range lines {
		idx := strings.IndexByte(l, ':')
		if idx < 0 {
			continue
		}
		out = append(out, Header{
			Name:  strings.TrimSpace(l[:idx]),
			Value: strings.TrimSpace(l[idx+1:]),
		})
	}
	return out
}

// Fingerprint renders a deterministic fingerprint string from the
// client-visible fields of a request: the method, then the header names
// as sent, in wire order and comma-separated inside parentheses (values
// omitted, matching mercury's header-name-only fingerprinting of HTTP).
func (r Request) Fingerprint() string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('(')
	for i, h := range r.Headers {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(h.Name)
	}
	b.WriteByte(')')
	return b.String()
}

// Fingerprint is the response-side analog of Request.Fingerprint.
func (r Response) Fingerprint() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(r.StatusCode))
	b.WriteByte('(')
	for i, h := range r.Headers {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(h.Name)
	}
	b.WriteByte(')')
	return b.String()
}

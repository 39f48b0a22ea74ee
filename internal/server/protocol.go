// protocol.go - Hand-rolled HTTP/1.1 request parsing and response framing.
//
// Only the subset the service needs: request line, headers, blank line,
// body in; status line, optional Content-Type, blank line, body out.
// No chunked encoding and no keep-alive.
package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// readChunk is the size of each read from the connection.
const readChunk = 1024

// ErrMalformedRequest is returned when the request line has fewer than two
// tokens.
var ErrMalformedRequest = errors.New("malformed request line")

// Request is a parsed inbound request.
type Request struct {
	Method  string
	Target  string // as sent, including any query string
	Path    string // Target without the query string
	Proto   string
	Headers map[string]string // lower-cased names
	Body    string
}

// Header returns the value of the named header, matched case-insensitively.
func (r *Request) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// ParseRequest turns raw request bytes into a Request. Invalid UTF-8 is
// replaced rather than rejected. The body is everything after the first
// blank line; with no blank line the body is empty.
func ParseRequest(raw []byte) (*Request, error) {
	text := strings.ToValidUTF8(string(raw), "\uFFFD")

	head, body, _ := splitHeadBody(text)

	lines := strings.Split(head, "\n")
	fields := strings.Fields(strings.TrimSuffix(lines[0], "\r"))
	if len(fields) < 2 {
		return nil, ErrMalformedRequest
	}

	req := &Request{
		Method:  fields[0],
		Target:  fields[1],
		Path:    fields[1],
		Headers: make(map[string]string),
		Body:    body,
	}
	if len(fields) > 2 {
		req.Proto = fields[2]
	}
	if i := strings.IndexByte(req.Path, '?'); i >= 0 {
		req.Path = req.Path[:i]
	}

	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		req.Headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	return req, nil
}

// splitHeadBody splits at the first blank line, accepting CRLF or bare LF.
func splitHeadBody(text string) (head, body string, found bool) {
	crlf := strings.Index(text, "\r\n\r\n")
	lf := strings.Index(text, "\n\n")
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return text[:crlf], text[crlf+4:], true
	case lf >= 0:
		return text[:lf], text[lf+2:], true
	default:
		return text, "", false
	}
}

// headerEnd returns the offset just past the blank line, or -1.
func headerEnd(buf []byte) int {
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))
	lf := bytes.Index(buf, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf + 4
	case lf >= 0:
		return lf + 2
	default:
		return -1
	}
}

// contentLength scans raw header bytes for Content-Length. Missing or
// invalid values count as zero.
func contentLength(head []byte) int {
	for _, line := range bytes.Split(head, []byte("\n")) {
		name, value, ok := bytes.Cut(bytes.TrimSuffix(line, []byte("\r")), []byte(":"))
		if !ok || !strings.EqualFold(string(bytes.TrimSpace(name)), "content-length") {
			continue
		}
		n, err := strconv.Atoi(string(bytes.TrimSpace(value)))
		if err != nil || n < 0 {
			return 0
		}
		return n
	}
	return 0
}

// readRequest reads from r until the headers and Content-Length bytes of
// body have arrived, or limit bytes have been read. Bytes beyond limit are not
// consumed. If the peer stops early (EOF, deadline) after sending
// something, what arrived is returned with a nil error.
func readRequest(r io.Reader, limit int) ([]byte, error) {
	buf := make([]byte, 0, readChunk)
	chunk := make([]byte, readChunk)

	for {
		want := len(chunk)
		if room := limit - len(buf); room < want {
			want = room
		}
		n, err := r.Read(chunk[:want])
		buf = append(buf, chunk[:n]...)

		if end := headerEnd(buf); end >= 0 && len(buf) >= end+contentLength(buf[:end]) {
			return buf, nil
		}
		if len(buf) >= limit {
			return buf, nil
		}
		if err != nil {
			if len(buf) > 0 {
				return buf, nil
			}
			return nil, err
		}
	}
}

// Response is a status code plus a text body.
type Response struct {
	Status      int
	ContentType string
	Body        string
}

// Bytes renders the response on the wire.
func (r Response) Bytes() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", r.Status, reasonPhrase(r.Status))
	if r.ContentType != "" {
		fmt.Fprintf(&b, "Content-Type: %s\r\n", r.ContentType)
	}
	b.WriteString("\r\n")
	b.WriteString(r.Body)
	return b.Bytes()
}

func reasonPhrase(status int) string {
	if text := http.StatusText(status); text != "" {
		return strings.ToUpper(text)
	}
	return "UNKNOWN"
}

const contentTypeJSON = "application/json"

func success(body string) Response {
	return Response{Status: http.StatusOK, ContentType: contentTypeJSON, Body: body}
}

func failure(status int, body string) Response {
	return Response{Status: status, Body: body}
}

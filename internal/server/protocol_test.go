package server

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantMethod string
		wantPath   string
		wantTarget string
		wantBody   string
	}{
		{
			name:       "create with body",
			raw:        "POST /users HTTP/1.1\r\nHost: x\r\nContent-Length: 40\r\n\r\n{\"name\":\"Ada\",\"email\":\"ada@example.org\"}",
			wantMethod: "POST",
			wantPath:   "/users",
			wantTarget: "/users",
			wantBody:   `{"name":"Ada","email":"ada@example.org"}`,
		},
		{
			name:       "no separator means empty body",
			raw:        "GET /users HTTP/1.1\r\nHost: x",
			wantMethod: "GET",
			wantPath:   "/users",
			wantTarget: "/users",
		},
		{
			name:       "query string stripped from path",
			raw:        "GET /users?limit=5 HTTP/1.1\r\n\r\n",
			wantMethod: "GET",
			wantPath:   "/users",
			wantTarget: "/users?limit=5",
		},
		{
			name:       "body keeps its own blank lines",
			raw:        "PUT /users/2 HTTP/1.1\r\n\r\n{\"name\":\"B\",\r\n\r\n\"email\":\"b@x\"}",
			wantMethod: "PUT",
			wantPath:   "/users/2",
			wantTarget: "/users/2",
			wantBody:   "{\"name\":\"B\",\r\n\r\n\"email\":\"b@x\"}",
		},
		{
			name:       "bare LF separators",
			raw:        "DELETE /users/3 HTTP/1.1\nHost: x\n\nignored",
			wantMethod: "DELETE",
			wantPath:   "/users/3",
			wantTarget: "/users/3",
			wantBody:   "ignored",
		},
		{
			name:       "request line without protocol",
			raw:        "GET /health",
			wantMethod: "GET",
			wantPath:   "/health",
			wantTarget: "/health",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.wantMethod, req.Method)
			assert.Equal(t, tt.wantPath, req.Path)
			assert.Equal(t, tt.wantTarget, req.Target)
			assert.Equal(t, tt.wantBody, req.Body)
		})
	}
}

func TestParseRequest_Malformed(t *testing.T) {
	for _, raw := range []string{"", "GARBAGE", "\r\n\r\n", "   \r\nHost: x\r\n\r\n"} {
		_, err := ParseRequest([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedRequest, "raw=%q", raw)
	}
}

func TestParseRequest_Headers(t *testing.T) {
	raw := "GET /users HTTP/1.1\r\nHost: example.org\r\nX-Forwarded-For: 10.0.0.1, 10.0.0.2\r\nnot a header\r\n: empty name\r\n\r\n"

	req, err := ParseRequest([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "HTTP/1.1", req.Proto)
	assert.Equal(t, "example.org", req.Header("host"))
	assert.Equal(t, "example.org", req.Header("HOST"))
	assert.Equal(t, "10.0.0.1, 10.0.0.2", req.Header("X-Forwarded-For"))
	assert.Len(t, req.Headers, 2)
}

func TestParseRequest_InvalidUTF8(t *testing.T) {
	raw := []byte("POST /users HTTP/1.1\r\n\r\nab\xffc")

	req, err := ParseRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "ab\uFFFDc", req.Body)
}

func TestReadRequest_StopsAtContentLength(t *testing.T) {
	body := strings.Repeat("x", 3000)
	raw := "POST /users HTTP/1.1\r\nContent-Length: 3000\r\n\r\n" + body

	// The trailing reader must never be touched.
	r := io.MultiReader(strings.NewReader(raw), strings.NewReader("EXTRA"))

	got, err := readRequest(r, DefaultMaxRequestBytes)
	require.NoError(t, err)
	assert.Equal(t, raw, string(got))
}

func TestReadRequest_OneByteAtATime(t *testing.T) {
	raw := "PUT /users/1 HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"
	r := iotest.OneByteReader(strings.NewReader(raw + "more"))

	got, err := readRequest(r, DefaultMaxRequestBytes)
	require.NoError(t, err)
	assert.Equal(t, raw, string(got))
}

func TestReadRequest_TruncatesAtLimit(t *testing.T) {
	raw := "POST /users HTTP/1.1\r\nContent-Length: 100\r\n\r\n" + strings.Repeat("y", 100)

	got, err := readRequest(strings.NewReader(raw), 32)
	require.NoError(t, err)
	assert.Equal(t, raw[:32], string(got))
}

func TestReadRequest_PartialBeforeEOF(t *testing.T) {
	raw := "POST /users HTTP/1.1\r\nContent-Length: 50\r\n\r\nshort"

	got, err := readRequest(strings.NewReader(raw), DefaultMaxRequestBytes)
	require.NoError(t, err)
	assert.Equal(t, raw, string(got))
}

func TestReadRequest_NothingSent(t *testing.T) {
	_, err := readRequest(strings.NewReader(""), DefaultMaxRequestBytes)
	assert.ErrorIs(t, err, io.EOF)
}

func TestContentLength(t *testing.T) {
	assert.Equal(t, 12, contentLength([]byte("POST / HTTP/1.1\r\ncontent-length: 12\r\n")))
	assert.Equal(t, 0, contentLength([]byte("POST / HTTP/1.1\r\nContent-Length: -4\r\n")))
	assert.Equal(t, 0, contentLength([]byte("POST / HTTP/1.1\r\nContent-Length: abc\r\n")))
	assert.Equal(t, 0, contentLength([]byte("GET / HTTP/1.1\r\n")))
}

func TestResponseBytes(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want string
	}{
		{
			name: "success carries content type",
			resp: success("User created"),
			want: "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\nUser created",
		},
		{
			name: "not found",
			resp: failure(http.StatusNotFound, "User not found"),
			want: "HTTP/1.1 404 NOT FOUND\r\n\r\nUser not found",
		},
		{
			name: "server error",
			resp: failure(http.StatusInternalServerError, "Error"),
			want: "HTTP/1.1 500 INTERNAL SERVER ERROR\r\n\r\nError",
		},
		{
			name: "unavailable",
			resp: failure(http.StatusServiceUnavailable, "Service Unavailable"),
			want: "HTTP/1.1 503 SERVICE UNAVAILABLE\r\n\r\nService Unavailable",
		},
		{
			name: "unknown status",
			resp: failure(599, ""),
			want: "HTTP/1.1 599 UNKNOWN\r\n\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.resp.Bytes()))
		})
	}
}

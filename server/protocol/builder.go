package protocol

import (
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/s00inx/webserver/server/engine"
)

// lookup table for status codes
// i use flat list instead of map bc codes is fixed
var statusTable = [505][]byte{
	200: []byte("200 OK"),
	302: []byte("302 Found"),
	400: []byte("400 Bad Request"),
	403: []byte("403 Forbidden"),
	404: []byte("404 Not Found"),
	405: []byte("405 Method Not Allowed"),
	413: []byte("413 Payload Too Large"),
	500: []byte("500 Internal Server Error"),
	503: []byte("503 Service Unavailable"),
}

// messages for the generated page used when no file can be served
var errorForms = map[int]string{
	400: "Your request has bad syntax or is inherently impossible to satisfy.",
	403: "You do not have permission to get file from this server.",
	404: "The requested file was not found on this server.",
	500: "There was an unusual problem serving the requested file.",
}

// for fast access
var (
	proto = []byte("HTTP/1.1 ")
	crlf  = []byte("\r\n")
)

// Response builds response heads into a session's write buffer and maps file bodies.
type Response struct {
	// document root, targets are resolved below it
	Root string

	// ErrorPage is served for 400, 403 and 404, so errors still show real markup
	ErrorPage string

	// advertised in the Keep-Alive header
	KeepAliveMax     int
	KeepAliveTimeout time.Duration
}

// Build writes the status line and headers for target into out and returns the final
// status with the mapped body, nil when the body was written inline.
//
// code 0 or 200 means the status is decided by the filesystem: a missing target or a
// directory is 404, a target that is not world-readable is 403, anything else 200.
// Error codes supplied by the caller are kept as they are.
func (r *Response) Build(out *engine.Buffer, target string, keepAlive bool, code int) (int, *engine.Mapping) {
	if code == 0 || code == 200 {
		code = r.stat(target)
	}
	if fb := r.fallback(code); fb != "" {
		target = fb
	}
	if code < 100 || code >= len(statusTable) || statusTable[code] == nil {
		code = 500
	}

	out.Append(proto)
	out.Append(statusTable[code])
	out.Append(crlf)

	if keepAlive {
		out.AppendString("Connection: keep-alive\r\nKeep-Alive: max=")
		appendInt(out, r.KeepAliveMax)
		out.AppendString(", timeout=")
		appendInt(out, int(r.KeepAliveTimeout/time.Second))
		out.Append(crlf)
	} else {
		out.AppendString("Connection: close\r\n")
	}

	m, err := engine.MapFile(r.path(target))
	if err != nil {
		body := errorPage(code, "File Not Found!")
		out.AppendString("Content-Type: text/html\r\nContent-Length: ")
		appendInt(out, len(body))
		out.Append(crlf)
		out.Append(crlf)
		out.AppendString(body)
		return code, nil
	}

	out.AppendString("Content-Type: ")
	out.AppendString(ContentType(target))
	out.AppendString("\r\nContent-Length: ")
	appendInt(out, m.Len())
	out.Append(crlf)
	out.Append(crlf)
	return code, m
}

func (r *Response) stat(target string) int {
	fi, err := os.Stat(r.path(target))
	switch {
	case err != nil || fi.IsDir():
		return 404
	case fi.Mode().Perm()&0o004 == 0:
		return 403
	}
	return 200
}

func (r *Response) fallback(code int) string {
	switch code {
	case 400, 403, 404:
		if r.ErrorPage != "" {
			return r.ErrorPage
		}
		return "/index.html"
	}
	return ""
}

// path joins target under Root; cleaning it as an absolute path first keeps ".." inside the root
func (r *Response) path(target string) string {
	return filepath.Join(r.Root, filepath.FromSlash(path.Clean("/"+target)))
}

// BusyResponse is sent to connections refused for capacity.
func BusyResponse() []byte {
	const body = "Server busy!"
	return []byte("HTTP/1.1 503 Service Unavailable\r\n" +
		"Connection: close\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body)
}

func errorPage(code int, message string) string {
	status := statusTable[code]
	form := errorForms[code]
	if form == "" {
		form = errorForms[500]
	}
	return "<html><title>Error</title><body bgcolor=\"ffffff\">" +
		string(status) + "\n<p>" + form + "</p><p>" + message + "</p><hr><em>webserver</em></body></html>"
}

// zero alloc int formatting into the buffer
func appendInt(out *engine.Buffer, n int) {
	var tmp [20]byte
	out.Append(strconv.AppendInt(tmp[:0], int64(n), 10))
}

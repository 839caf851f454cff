// request parser: a resumable state machine fed from the session read buffer,
// every call consumes only complete lines so a request may arrive in any number of pieces
package protocol

import (
	"fmt"
	"mime"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/s00inx/webserver/server/engine"
)

// State is the position of the parser inside one request.
type State uint8

const (
	StateRequestLine State = iota
	StateHeaders
	StateBody
	StateDone
)

func (s State) String() string {
	switch s {
	case StateRequestLine:
		return "request-line"
	case StateHeaders:
		return "headers"
	case StateBody:
		return "body"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// Code is the outcome of one Parse call.
type Code uint8

const (
	Incomplete Code = iota
	GetRequest
	BadRequest
)

const (
	// longest request line or header line we wait for
	maxLineSize = 8 << 10

	DefaultMaxBody = 1 << 20

	formContentType = "application/x-www-form-urlencoded"
)

// InputLimit is how many unparsed bytes a connection may buffer: one full line
// plus the largest body accepted, beyond that the request is rejected anyway.
func InputLimit(maxBody int) int {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	return 2*maxLineSize + maxBody
}

// ResolveFunc rewrites a request path into the document target.
type ResolveFunc func(path string) string

// Request is one parsed request. A Request is reused across the requests of a
// keep-alive connection, Reset clears it between them.
type Request struct {
	Method  string
	Target  string
	Query   string
	Version string

	// canonical header names, last occurrence wins
	Headers map[string]string

	KeepAlive     bool
	ContentLength int
	Body          []byte

	// decoded url-encoded body, nil unless the request is a form POST
	Form map[string]string

	// why the request was rejected, set together with BadRequest
	Err error

	state   State
	resolve ResolveFunc
	maxBody int
}

// NewRequest returns a parser. resolve may be nil, maxBody <= 0 selects DefaultMaxBody.
func NewRequest(resolve ResolveFunc, maxBody int) *Request {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	return &Request{
		Headers: make(map[string]string),
		resolve: resolve,
		maxBody: maxBody,
	}
}

// State reports the current parser position.
func (r *Request) State() State { return r.state }

// Header returns a header value by any spelling of its name.
func (r *Request) Header(name string) (string, bool) {
	v, ok := r.Headers[textproto.CanonicalMIMEHeaderKey(name)]
	return v, ok
}

// Parse advances the state machine with whatever is buffered in in.
// Incomplete leaves any partial line in the buffer for the next call.
func (r *Request) Parse(in *engine.Buffer) Code {
	for {
		switch r.state {
		case StateRequestLine:
			line, ok := in.ConsumeLine()
			if !ok {
				return r.incomplete(in)
			}
			if err := r.parseRequestLine(line); err != nil {
				return r.fail(err)
			}
			r.state = StateHeaders

		case StateHeaders:
			line, ok := in.ConsumeLine()
			if !ok {
				return r.incomplete(in)
			}
			if line == "" {
				if r.ContentLength == 0 {
					return r.done()
				}
				r.state = StateBody
				continue
			}
			if err := r.parseHeader(line); err != nil {
				return r.fail(err)
			}

		case StateBody:
			// bytes beyond Content-Length belong to the next pipelined request
			take := min(r.ContentLength-len(r.Body), in.Len())
			r.Body = append(r.Body, in.Bytes()[:take]...)
			in.Consume(take)
			if len(r.Body) < r.ContentLength {
				return Incomplete
			}
			return r.done()

		default:
			return GetRequest
		}
	}
}

// Reset prepares the parser for the next request on the same connection.
func (r *Request) Reset() {
	r.Method, r.Target, r.Query, r.Version = "", "", "", ""
	clear(r.Headers)
	r.KeepAlive = false
	r.ContentLength = 0
	r.Body = r.Body[:0]
	r.Form = nil
	r.Err = nil
	r.state = StateRequestLine
}

// IsForm reports whether the body is url-encoded form data.
func (r *Request) IsForm() bool {
	ct, ok := r.Headers["Content-Type"]
	if !ok {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && mt == formContentType
}

func (r *Request) incomplete(in *engine.Buffer) Code {
	if in.Len() > maxLineSize {
		return r.fail(ErrLineTooLong)
	}
	return Incomplete
}

func (r *Request) fail(err error) Code {
	r.Err = err
	r.KeepAlive = false
	r.state = StateDone
	return BadRequest
}

func (r *Request) done() Code {
	if r.Method == "POST" && r.IsForm() {
		r.Form = ParseForm(string(r.Body))
	}
	r.state = StateDone
	return GetRequest
}

// METHOD SP TARGET SP HTTP/VERSION
func (r *Request) parseRequestLine(line string) error {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return fmt.Errorf("%w: request line %q", ErrBadRequest, line)
	}
	method, target, version := parts[0], parts[1], parts[2]

	switch method {
	case "GET", "POST":
	default:
		return fmt.Errorf("%w: %q", ErrMethodNotAllowed, method)
	}
	if !strings.HasPrefix(version, "HTTP/") {
		return fmt.Errorf("%w: version %q", ErrBadRequest, version)
	}
	if !strings.HasPrefix(target, "/") {
		return fmt.Errorf("%w: target %q", ErrBadRequest, target)
	}

	path, query, _ := strings.Cut(target, "?")
	if r.resolve != nil {
		path = r.resolve(path)
	}

	r.Method, r.Target, r.Query, r.Version = method, path, query, version
	return nil
}

func (r *Request) parseHeader(line string) error {
	name, value, ok := strings.Cut(line, ":")
	if !ok || name == "" || strings.ContainsAny(name, " \t") {
		return fmt.Errorf("%w: header %q", ErrBadRequest, line)
	}
	name = textproto.CanonicalMIMEHeaderKey(name)
	value = strings.TrimSpace(value)
	r.Headers[name] = value

	switch name {
	case "Connection":
		r.KeepAlive = strings.EqualFold(value, "keep-alive")
	case "Content-Length":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: content length %q", ErrBadRequest, value)
		}
		if n > r.maxBody {
			return fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, n, r.maxBody)
		}
		r.ContentLength = n
	}
	return nil
}

// session is the transport half of one connection: descriptor, buffers, pending body
package engine

import (
	"sync"
)

const defaultBufferSize = 1024

// Handler turns the bytes buffered in a session into a response.
// Serve consumes s.In; once a full request is parsed it writes the response head
// into s.Out, attaches the body with SetBody, sets KeepAlive and returns true.
// It returns false when more bytes are needed.
type Handler interface {
	Serve(s *Session) bool
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(s *Session) bool

func (f HandlerFunc) Serve(s *Session) bool { return f(s) }

// HandlerFactory builds the per-connection handler when a session is accepted.
type HandlerFactory func(s *Session) Handler

// Session is owned by exactly one goroutine at a time: the loop while it is idle,
// a single worker while a task for it is running (one-shot readiness makes sure of it),
// so its fields are not locked.
type Session struct {
	Fd   int
	Peer string

	In  *Buffer
	Out *Buffer

	// KeepAlive is set by the handler, the connection is reused after the response is sent
	KeepAlive bool

	handler Handler
	body    *Mapping
	bodyOff int

	// loop-owned
	busy    bool
	closing bool
}

// pool for sessions, so keep-alive churn doesn't allocate new buffers every time
var sessionPool = sync.Pool{
	New: func() any {
		return &Session{
			In:  NewBuffer(defaultBufferSize),
			Out: NewBuffer(defaultBufferSize),
		}
	},
}

// NewSession returns a session for fd with empty buffers.
func NewSession(fd int, peer string) *Session {
	s := sessionPool.Get().(*Session)
	s.Fd = fd
	s.Peer = peer
	return s
}

// SetBody attaches the response body; the previous mapping, if any, is released first,
// so at most one mapping is alive per session.
func (s *Session) SetBody(m *Mapping) {
	if s.body != nil && s.body != m {
		s.body.Release()
	}
	s.body = m
	s.bodyOff = 0
}

// Body is the attached response body.
func (s *Session) Body() *Mapping { return s.body }

// Pending is the number of response bytes not written yet.
func (s *Session) Pending() int {
	return s.Out.Len() + s.body.Len() - s.bodyOff
}

// prepare for the next request on a keep-alive connection
func (s *Session) next() {
	s.Out.Reset()
	s.SetBody(nil)
	if s.In.Len() == 0 {
		s.In.Reset()
	}
}

// read drains the socket into In. With edge set it loops until EAGAIN or until In
// holds limit bytes, the rest stays in the kernel and re-arming reports it again.
// A read that ended on EAGAIN is not an error.
func (s *Session) read(edge bool, limit int) (int, error) {
	total := 0
	for {
		n, err := s.In.ReadFd(s.Fd)
		total += n
		if err != nil {
			if wouldBlock(err) {
				return total, nil
			}
			return total, err
		}
		if !edge || s.In.Len() >= limit {
			return total, nil
		}
	}
}

// reset session for put it to pool
func (s *Session) reset() {
	s.SetBody(nil)
	s.Fd = -1
	s.Peer = ""
	s.In.Reset()
	s.Out.Reset()
	s.KeepAlive = false
	s.handler = nil
	s.busy = false
	s.closing = false
}

// release the mapped body and return session to the pool
func (s *Session) release() {
	s.reset()
	sessionPool.Put(s)
}

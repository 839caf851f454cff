// exchange is the protocol half of one connection, the engine calls Serve
// from a worker whenever new bytes were read or a keep-alive response was sent
package protocol

import (
	"context"

	"github.com/joeycumines/logiface"
	"github.com/s00inx/webserver/server/engine"
)

// Router maps request targets to documents and runs form actions.
type Router interface {
	Resolve(path string) string
	// Submit runs the form action registered for target and returns the page to answer with.
	Submit(ctx context.Context, target string, form map[string]string) (string, bool)
}

// Exchange parses requests from a session and answers them.
type Exchange struct {
	ctx    context.Context
	req    *Request
	resp   *Response
	router Router
	log    *logiface.Logger[logiface.Event]
}

// NewExchange returns the handler for one session. router may be nil.
func NewExchange(ctx context.Context, resp *Response, router Router, maxBody int, log *logiface.Logger[logiface.Event]) *Exchange {
	var resolve ResolveFunc
	if router != nil {
		resolve = router.Resolve
	}
	return &Exchange{
		ctx:    ctx,
		req:    NewRequest(resolve, maxBody),
		resp:   resp,
		router: router,
		log:    log,
	}
}

// Request exposes the parser, for tests.
func (x *Exchange) Request() *Request { return x.req }

// Serve implements engine.Handler.
func (x *Exchange) Serve(s *engine.Session) bool {
	switch x.req.Parse(s.In) {
	case Incomplete:
		return false

	case BadRequest:
		x.log.Debug().
			Int("fd", s.Fd).
			Str("peer", s.Peer).
			Err(x.req.Err).
			Log("bad request")

		// nothing after a malformed request can be trusted
		s.In.Reset()
		_, body := x.resp.Build(s.Out, x.req.Target, false, 400)
		s.SetBody(body)
		s.KeepAlive = false
		x.req.Reset()
		return true
	}

	target := x.req.Target
	if x.req.Form != nil && x.router != nil {
		if next, ok := x.router.Submit(x.ctx, target, x.req.Form); ok {
			target = next
		}
	}

	keepAlive := x.req.KeepAlive
	code, body := x.resp.Build(s.Out, target, keepAlive, 0)
	s.SetBody(body)
	s.KeepAlive = keepAlive

	x.log.Debug().
		Int("fd", s.Fd).
		Str("method", x.req.Method).
		Str("target", target).
		Int("code", code).
		Int("size", body.Len()).
		Bool("keep_alive", keepAlive).
		Log("request")

	x.req.Reset()
	return true
}

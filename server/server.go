// server wires configuration, logging, the user store and the router into the engine
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/joeycumines/logiface"
	"github.com/s00inx/webserver/server/auth"
	"github.com/s00inx/webserver/server/config"
	"github.com/s00inx/webserver/server/engine"
	"github.com/s00inx/webserver/server/protocol"
	"github.com/s00inx/webserver/server/router"
)

type Server struct {
	cfg     config.Config
	log     *logiface.Logger[logiface.Event]
	router  *router.Router
	resp    *protocol.Response
	reactor *engine.Reactor

	// handed to form actions, set by Run before the loop starts
	ctx context.Context
}

// New validates cfg and opens the listening socket. log may be nil.
func New(cfg config.Config, v auth.Verifier, log *logiface.Logger[logiface.Event]) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	addr, err := cfg.Addr()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		log:    log,
		router: router.Default(v, log),
		resp: &protocol.Response{
			Root:             cfg.Root,
			ErrorPage:        cfg.ErrorPage,
			KeepAliveMax:     cfg.KeepAliveMax,
			KeepAliveTimeout: cfg.Timeout.Duration,
		},
		ctx: context.Background(),
	}

	s.reactor, err = engine.New(engine.Config{
		Addr:          addr,
		Port:          cfg.Port,
		Backlog:       cfg.Backlog,
		ListenEdge:    cfg.ListenEdge(),
		ConnEdge:      cfg.ConnEdge(),
		Linger:        cfg.Linger,
		LingerSeconds: cfg.LingerSeconds,
		IdleTimeout:   cfg.Timeout.Duration,
		Workers:       cfg.Workers,
		QueueSize:     cfg.QueueSize,
		MaxConns:      cfg.MaxConns,
		MaxInput:      protocol.InputLimit(cfg.MaxBody),
		BusyMessage:   protocol.BusyResponse(),
	}, s.newExchange, engine.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	return s, nil
}

func (s *Server) newExchange(*engine.Session) engine.Handler {
	return protocol.NewExchange(s.ctx, s.resp, s.router, s.cfg.MaxBody, s.log)
}

// Port is the bound port, useful when cfg.Port was 0.
func (s *Server) Port() int { return s.reactor.Port() }

// Stats returns the engine counters.
func (s *Server) Stats() engine.Stats { return s.reactor.Stats() }

// Run serves until ctx is done, a cancelled ctx is a clean stop.
func (s *Server) Run(ctx context.Context) error {
	s.ctx = ctx
	s.log.Info().
		Str("root", s.cfg.Root).
		Int("max_conns", s.cfg.MaxConns).
		Dur("timeout", s.cfg.Timeout.Duration).
		Log("serving")

	err := s.reactor.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

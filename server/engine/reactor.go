// reactor: one loop goroutine owns the poller, the timers and the session table,
// workers only run read/process/write tasks and report back through completions
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

const (
	defaultMaxConns = 65536
	defaultMaxInput = 2 << 20
)

// Config is the engine level configuration, protocol agnostic.
type Config struct {
	Addr    [4]byte
	Port    int
	Backlog int

	// trigger modes, independent for the listener and for connections
	ListenEdge bool
	ConnEdge   bool

	Linger        bool
	LingerSeconds int

	// IdleTimeout <= 0 disables idle eviction
	IdleTimeout time.Duration

	Workers   int
	QueueSize int
	MaxConns  int

	// MaxInput caps the unparsed bytes buffered per session, reads stop there and a
	// handler that still wants more gets the connection closed
	MaxInput int

	// BusyMessage is written to connections refused because of capacity
	BusyMessage []byte
}

// Stats are counters for the lifetime of a reactor.
type Stats struct {
	Live     int64
	Accepted uint64
	Rejected uint64
	Evicted  uint64
	Closed   uint64
}

// Option configures a Reactor.
type Option func(r *Reactor)

// WithLogger attaches a logger, by default nothing is logged.
func WithLogger(l *logiface.Logger[logiface.Event]) Option {
	return func(r *Reactor) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock replaces time.Now for timers.
func WithClock(now func() time.Time) Option {
	return func(r *Reactor) {
		if now != nil {
			r.now = now
		}
	}
}

type action uint8

const (
	armRead action = iota
	armWrite
	teardown
)

type completion struct {
	s   *Session
	act action
}

// Reactor dispatches readiness events to the worker pool.
type Reactor struct {
	cfg     Config
	factory HandlerFactory
	log     *logiface.Logger[logiface.Event]
	now     func() time.Time
	busyLog *catrate.Limiter

	ln     int
	port   int
	poller *Poller
	wake   *wakeup
	timers *TimerHeap
	pool   *Pool

	// loop-owned
	sessions map[int]*Session

	cmu       sync.Mutex
	completed []completion
	spare     []completion

	started atomic.Bool
	stopped atomic.Bool
	stats   struct {
		live     atomic.Int64
		accepted atomic.Uint64
		rejected atomic.Uint64
		evicted  atomic.Uint64
		closed   atomic.Uint64
	}
}

// New opens the listening socket and the poller, workers start here too.
func New(cfg Config, factory HandlerFactory, opts ...Option) (*Reactor, error) {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaultMaxConns
	}
	if cfg.MaxInput <= 0 {
		cfg.MaxInput = defaultMaxInput
	}
	if cfg.BusyMessage == nil {
		cfg.BusyMessage = []byte("Server busy!")
	}

	r := &Reactor{
		cfg:      cfg,
		factory:  factory,
		log:      logiface.New[logiface.Event](),
		now:      time.Now,
		busyLog:  catrate.NewLimiter(map[time.Duration]int{time.Second: 5, time.Minute: 60}),
		timers:   NewTimerHeap(),
		sessions: make(map[int]*Session),
		ln:       -1,
	}
	for _, o := range opts {
		o(r)
	}

	var err error
	if r.poller, err = NewPoller(); err != nil {
		return nil, err
	}
	if r.wake, err = newWakeup(); err != nil {
		r.poller.Close()
		return nil, err
	}
	if r.ln, err = listenSocket(&r.cfg); err != nil {
		r.wake.close()
		r.poller.Close()
		return nil, err
	}
	if r.port, err = localPort(r.ln); err != nil {
		r.closeFds()
		return nil, &IOError{Op: "getsockname", Err: err}
	}

	if err = r.poller.Add(r.wake.fd, EventRead); err != nil {
		r.closeFds()
		return nil, err
	}
	if err = r.poller.Add(r.ln, r.listenEvents()); err != nil {
		r.closeFds()
		return nil, err
	}

	r.pool = NewPool(cfg.Workers, cfg.QueueSize)
	return r, nil
}

// Port is the bound TCP port.
func (r *Reactor) Port() int { return r.port }

// Stats returns a snapshot of the counters, safe from any goroutine.
func (r *Reactor) Stats() Stats {
	return Stats{
		Live:     r.stats.live.Load(),
		Accepted: r.stats.accepted.Load(),
		Rejected: r.stats.rejected.Load(),
		Evicted:  r.stats.evicted.Load(),
		Closed:   r.stats.closed.Load(),
	}
}

// Run is the dispatch loop, it returns when ctx is done or polling fails.
// Every session is closed and every worker joined before it returns.
func (r *Reactor) Run(ctx context.Context) error {
	if r.stopped.Load() {
		return ErrServerClosed
	}
	if !r.started.CompareAndSwap(false, true) {
		return ErrReactorAlreadyStart
	}
	defer r.shutdown()

	stop := context.AfterFunc(ctx, r.wake.signal)
	defer stop()

	r.log.Info().
		Int("port", r.port).
		Bool("listen_et", r.cfg.ListenEdge).
		Bool("conn_et", r.cfg.ConnEdge).
		Int("workers", r.pool.Size()).
		Log("server start")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		events, err := r.poller.Wait(r.nextTick())
		if err != nil {
			r.log.Err().Err(err).Log("poll failed")
			return err
		}

		for _, ev := range events {
			r.dispatch(ev)
		}
		r.drainCompletions()

		if r.cfg.IdleTimeout > 0 {
			r.timers.PopExpired(r.now())
		}
	}
}

// poll timeout in ms derived from the next timer, -1 blocks until an event
func (r *Reactor) nextTick() int {
	if r.cfg.IdleTimeout <= 0 {
		return -1
	}
	d, ok := r.timers.NextExpiry(r.now())
	if !ok {
		return -1
	}
	// round up so a wakeup never happens just before the deadline
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

func (r *Reactor) dispatch(ev Event) {
	switch ev.Fd {
	case r.ln:
		r.accept()
		return
	case r.wake.fd:
		r.wake.drain()
		return
	}

	s := r.sessions[ev.Fd]
	if s == nil {
		return
	}

	switch {
	case ev.Events&(EventPeerClosed|EventHangup|EventError) != 0:
		r.closeSession(s, "peer closed")
	case ev.Events&EventRead != 0:
		r.extend(s)
		r.submit(s, r.onRead)
	case ev.Events&EventWrite != 0:
		r.extend(s)
		r.submit(s, r.onWrite)
	default:
		r.log.Warning().Int("fd", s.Fd).Uint64("events", uint64(ev.Events)).Log("unexpected event")
	}
}

func (r *Reactor) accept() {
	for {
		fd, peer, err := acceptConn(r.ln)
		if err != nil {
			if !wouldBlock(err) && err != unix.EINTR {
				r.log.Warning().Err(err).Log("accept failed")
			}
			return
		}

		if len(r.sessions) >= r.cfg.MaxConns {
			r.reject(fd, peer, "clients is full")
			return
		}
		r.addSession(fd, peer)

		if !r.cfg.ListenEdge {
			return
		}
	}
}

func (r *Reactor) addSession(fd int, peer string) {
	s := NewSession(fd, peer)
	if r.factory != nil {
		s.handler = r.factory(s)
	}
	if err := r.poller.Add(fd, r.connEvents()|EventRead); err != nil {
		r.log.Warning().Int("fd", fd).Err(err).Log("register client failed")
		unix.Close(fd)
		s.release()
		return
	}

	r.sessions[fd] = s
	if r.cfg.IdleTimeout > 0 {
		r.timers.Add(fd, r.now(), r.cfg.IdleTimeout, r.evict)
	}

	r.stats.accepted.Add(1)
	live := r.stats.live.Add(1)
	r.log.Info().Int("fd", fd).Str("peer", peer).Int64("user_count", live).Log("client in")
}

// reject writes the busy message and closes fd without registering it
func (r *Reactor) reject(fd int, peer string, reason string) {
	r.stats.rejected.Add(1)
	rejectConn(fd, r.cfg.BusyMessage)
	if _, ok := r.busyLog.Allow(reason); ok {
		r.log.Warning().Str("peer", peer).Str("reason", reason).Log("server busy")
	}
}

// timer callback, runs on the loop goroutine
func (r *Reactor) evict(fd int) {
	s := r.sessions[fd]
	if s == nil {
		return
	}
	r.stats.evicted.Add(1)
	r.log.Info().Int("fd", fd).Str("peer", s.Peer).Log("idle timeout")

	if s.busy {
		// the running task reports back, teardown happens then
		s.closing = true
		return
	}
	r.closeSession(s, "idle timeout")
}

// activity resets the idle clock
func (r *Reactor) extend(s *Session) {
	if r.cfg.IdleTimeout > 0 {
		r.timers.Refresh(s.Fd, r.now(), r.cfg.IdleTimeout)
	}
}

func (r *Reactor) submit(s *Session, fn func(s *Session) action) {
	s.busy = true
	err := r.pool.Submit(func() { r.run(s, fn) })
	if err == nil {
		return
	}

	s.busy = false
	r.log.Debug().Int("fd", s.Fd).Err(err).Log("submit failed")
	if _, werr := unix.Write(s.Fd, r.cfg.BusyMessage); werr != nil {
		r.log.Debug().Int("fd", s.Fd).Err(werr).Log("send busy failed")
	}
	r.stats.rejected.Add(1)
	if _, ok := r.busyLog.Allow("queue"); ok {
		r.log.Warning().Str("peer", s.Peer).Str("reason", "task queue full").Log("server busy")
	}
	r.closeSession(s, "server busy")
}

// run executes a task on a worker; whatever happens the loop gets a completion
func (r *Reactor) run(s *Session, fn func(s *Session) action) {
	act := teardown
	defer func() {
		if v := recover(); v != nil {
			r.log.Err().Int("fd", s.Fd).Interface("panic", v).Log("task panicked")
			act = teardown
		}
		r.complete(s, act)
	}()
	act = fn(s)
}

// read task: drain socket, feed handler, decide next direction
func (r *Reactor) onRead(s *Session) action {
	if _, err := s.read(r.cfg.ConnEdge, r.cfg.MaxInput); err != nil {
		r.log.Debug().Int("fd", s.Fd).Err(err).Log("read")
		return teardown
	}
	act := r.process(s)
	if act == armRead && s.In.Len() >= r.cfg.MaxInput {
		r.log.Debug().Int("fd", s.Fd).Str("peer", s.Peer).Int("buffered", s.In.Len()).Log("input limit")
		return teardown
	}
	return act
}

func (r *Reactor) process(s *Session) action {
	if s.handler != nil && s.handler.Serve(s) {
		return armWrite
	}
	return armRead
}

// write task: scatter-write head and body, then reuse or close
func (r *Reactor) onWrite(s *Session) action {
	_, err := s.flush()
	if s.Pending() == 0 {
		if !s.KeepAlive {
			return teardown
		}
		s.next()
		return r.process(s)
	}
	if err == nil || wouldBlock(err) {
		return armWrite
	}
	r.log.Debug().Int("fd", s.Fd).Err(err).Log("write")
	return teardown
}

// complete is called by workers, the loop applies it
func (r *Reactor) complete(s *Session, act action) {
	r.cmu.Lock()
	r.completed = append(r.completed, completion{s: s, act: act})
	r.cmu.Unlock()
	r.wake.signal()
}

func (r *Reactor) drainCompletions() {
	r.cmu.Lock()
	batch := r.completed
	r.completed = r.spare[:0]
	r.cmu.Unlock()

	for i, c := range batch {
		batch[i] = completion{}
		s := c.s
		s.busy = false

		if s.closing || c.act == teardown {
			r.closeSession(s, "done")
			continue
		}

		ev := r.connEvents() | EventRead
		if c.act == armWrite {
			ev = r.connEvents() | EventWrite
		}
		if err := r.poller.Modify(s.Fd, ev); err != nil {
			r.log.Debug().Int("fd", s.Fd).Err(err).Log("re-arm failed")
			r.closeSession(s, "re-arm failed")
		}
	}
	r.spare = batch[:0]
}

// closeSession unregisters, closes the descriptor, cancels the timer and releases the body.
// Only the loop calls it, and never while a task for s is outstanding.
func (r *Reactor) closeSession(s *Session, reason string) {
	if s.busy {
		s.closing = true
		return
	}
	if r.sessions[s.Fd] != s {
		return
	}

	fd := s.Fd
	delete(r.sessions, fd)
	r.poller.Remove(fd)
	r.timers.Remove(fd)

	r.stats.closed.Add(1)
	live := r.stats.live.Add(-1)
	closeConn(fd)
	r.log.Info().Int("fd", fd).Str("peer", s.Peer).Str("reason", reason).Int64("user_count", live).Log("client quit")
	s.release()
}

func (r *Reactor) listenEvents() Events {
	ev := EventRead
	if r.cfg.ListenEdge {
		ev |= EventEdge
	}
	return ev
}

func (r *Reactor) connEvents() Events {
	ev := EventOneShot | EventPeerClosed
	if r.cfg.ConnEdge {
		ev |= EventEdge
	}
	return ev
}

func (r *Reactor) shutdown() {
	// join workers first, nothing may still reference a session afterwards
	r.pool.Close()

	r.cmu.Lock()
	r.completed = nil
	r.cmu.Unlock()

	for _, s := range r.sessions {
		s.busy = false
		r.closeSession(s, "server closed")
	}
	r.closeFds()
	r.stopped.Store(true)
	r.log.Info().Log("server stop")
}

func (r *Reactor) closeFds() {
	if r.ln >= 0 {
		unix.Close(r.ln)
		r.ln = -1
	}
	r.wake.close()
	r.poller.Close()
}

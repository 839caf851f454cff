// readiness multiplexer: thin epoll wrapper, no HTTP logic here
package engine

import (
	"golang.org/x/sys/unix"
)

const maxEvents = 128

// Events is an interest set or a readiness mask.
type Events uint32

const (
	// EventRead means the descriptor is readable.
	EventRead Events = 1 << iota
	// EventWrite means the descriptor is writable.
	EventWrite
	// EventPeerClosed means the peer shut down its writing side.
	EventPeerClosed
	// EventError is reported on socket errors, it is always part of the interest.
	EventError
	// EventHangup is reported on hangup, it is always part of the interest.
	EventHangup
	// EventOneShot disables the descriptor after one report until it is re-armed with Modify.
	EventOneShot
	// EventEdge switches the descriptor to edge-triggered mode, readers must drain until EAGAIN.
	EventEdge
)

// Event is one ready descriptor returned by Wait.
type Event struct {
	Fd     int
	Events Events
}

// Poller tracks the interest set of every registered descriptor.
// It is owned by the loop goroutine and is not safe for concurrent use.
type Poller struct {
	epfd     int
	interest map[int]Events
	raw      [maxEvents]unix.EpollEvent
	ready    []Event
	closed   bool
}

// NewPoller creates the epoll instance.
func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, &IOError{Op: "epoll_create1", Err: err}
	}

	return &Poller{
		epfd:     epfd,
		interest: make(map[int]Events),
		ready:    make([]Event, 0, maxEvents),
	}, nil
}

// Add registers fd with the given interest.
func (p *Poller) Add(fd int, ev Events) error {
	if p.closed {
		return ErrPollerClosed
	}
	if _, ok := p.interest[fd]; ok {
		return ErrAlreadyRegistered
	}

	if err := p.ctl(unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return err
	}
	p.interest[fd] = ev
	return nil
}

// Modify replaces the interest of fd, this is also how a one-shot descriptor is re-armed.
func (p *Poller) Modify(fd int, ev Events) error {
	if p.closed {
		return ErrPollerClosed
	}
	if _, ok := p.interest[fd]; !ok {
		return ErrNotRegistered
	}

	if err := p.ctl(unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return err
	}
	p.interest[fd] = ev
	return nil
}

// Remove unregisters fd.
func (p *Poller) Remove(fd int) error {
	if p.closed {
		return ErrPollerClosed
	}
	if _, ok := p.interest[fd]; !ok {
		return ErrNotRegistered
	}
	delete(p.interest, fd)

	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return &IOError{Op: "epoll_ctl del", Err: err}
	}
	return nil
}

// Interest returns the registered interest of fd.
func (p *Poller) Interest(fd int) (Events, bool) {
	ev, ok := p.interest[fd]
	return ev, ok
}

// Wait blocks up to timeoutMs (-1 forever) and returns the ready batch.
// The slice is reused by the next call. An interrupted wait returns an empty batch.
func (p *Poller) Wait(timeoutMs int) ([]Event, error) {
	if p.closed {
		return nil, ErrPollerClosed
	}

	n, err := unix.EpollWait(p.epfd, p.raw[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return p.ready[:0], nil
		}
		return nil, &IOError{Op: "epoll_wait", Err: err}
	}

	p.ready = p.ready[:0]
	for i := range n {
		p.ready = append(p.ready, Event{
			Fd:     int(p.raw[i].Fd),
			Events: fromEpoll(p.raw[i].Events),
		})
	}
	return p.ready, nil
}

// Close releases the epoll descriptor, registered fds are not closed.
func (p *Poller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	clear(p.interest)
	return unix.Close(p.epfd)
}

func (p *Poller) ctl(op, fd int, ev Events) error {
	err := unix.EpollCtl(p.epfd, op, fd, &unix.EpollEvent{
		Events: toEpoll(ev),
		Fd:     int32(fd),
	})
	if err != nil {
		return &IOError{Op: "epoll_ctl", Err: err}
	}
	return nil
}

func toEpoll(ev Events) uint32 {
	var e uint32
	if ev&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if ev&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	if ev&EventPeerClosed != 0 {
		e |= unix.EPOLLRDHUP
	}
	if ev&EventOneShot != 0 {
		e |= unix.EPOLLONESHOT
	}
	if ev&EventEdge != 0 {
		e |= unix.EPOLLET
	}
	return e
}

func fromEpoll(e uint32) Events {
	var ev Events
	if e&unix.EPOLLIN != 0 {
		ev |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		ev |= EventWrite
	}
	if e&unix.EPOLLRDHUP != 0 {
		ev |= EventPeerClosed
	}
	if e&unix.EPOLLERR != 0 {
		ev |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		ev |= EventHangup
	}
	return ev
}

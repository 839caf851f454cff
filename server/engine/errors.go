package engine

import (
	"errors"

	"golang.org/x/sys/unix"
)

// errors for engine
var (
	ErrPeerClosed          = errors.New("engine: peer closed connection")
	ErrPoolClosed          = errors.New("engine: pool closed")
	ErrPoolBusy            = errors.New("engine: pool busy")
	ErrAlreadyRegistered   = errors.New("engine: fd already registered")
	ErrNotRegistered       = errors.New("engine: fd not registered")
	ErrPollerClosed        = errors.New("engine: poller closed")
	ErrTimerNotFound       = errors.New("engine: timer not found")
	ErrServerClosed        = errors.New("engine: server closed")
	ErrReactorAlreadyStart = errors.New("engine: reactor already started")
)

// IOError is a socket failure other than would-block, it is terminal for the connection.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return "engine: " + e.Op + ": " + e.Err.Error() }

func (e *IOError) Unwrap() error { return e.Err }

// would-block ends a read or write loop, it is never a failure
func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

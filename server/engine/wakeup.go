package engine

import (
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"
)

// wakeup is an eventfd registered in the poller so other goroutines
// can interrupt a blocking Wait (completions, shutdown)
type wakeup struct {
	fd int

	// guards fd against a signal racing close, the number could be reused
	mu     sync.Mutex
	closed bool
}

func newWakeup() (*wakeup, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, &IOError{Op: "eventfd", Err: err}
	}
	return &wakeup{fd: fd}, nil
}

// signal is safe from any goroutine, a full counter still wakes the loop so errors are ignored
func (w *wakeup) signal() {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		unix.Write(w.fd, b[:])
	}
}

// drain resets the counter so a level-triggered registration stops firing
func (w *wakeup) drain() {
	var b [8]byte
	for {
		if _, err := unix.Read(w.fd, b[:]); err != nil {
			return
		}
	}
}

func (w *wakeup) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return unix.Close(w.fd)
}

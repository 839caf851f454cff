// listening socket creation and accept helpers
package engine

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

const defaultBacklog = 128

// create new non-blocking socket, set options, bind and start listening
func listenSocket(cfg *Config) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, &IOError{Op: "socket", Err: err}
	}

	fail := func(op string, err error) (int, error) {
		unix.Close(fd)
		return -1, &IOError{Op: op, Err: err}
	}

	// graceful close: keep sending what is left until linger time runs out
	linger := unix.Linger{}
	if cfg.Linger {
		linger.Onoff = 1
		linger.Linger = int32(cfg.LingerSeconds)
	}
	if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &linger); err != nil {
		return fail("setsockopt SO_LINGER", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt SO_REUSEADDR", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: cfg.Port, Addr: cfg.Addr}); err != nil {
		return fail("bind", err)
	}

	backlog := cfg.Backlog
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}
	return fd, nil
}

// accept one pending connection, the new descriptor is already non-blocking
func acceptConn(lfd int) (int, string, error) {
	nfd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, "", err
	}
	return nfd, peerString(sa), nil
}

// bound port of a listening socket, useful when Port was 0
func localPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	}
	return 0, nil
}

func peerString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)).String()
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)).String()
	}
	return "unknown"
}

// best effort message for a connection we refuse to serve, then close it
func rejectConn(fd int, msg []byte) {
	if len(msg) > 0 {
		unix.Write(fd, msg)
	}
	closeConn(fd)
}

// upper bound on input discarded while closing
const maxDiscard = 256 << 10

// closeConn sends FIN after whatever was written, discards the unread input and closes fd.
// Closing with bytes left in the receive queue makes the kernel reset the connection,
// and the peer loses the response still in flight.
func closeConn(fd int) {
	unix.Shutdown(fd, unix.SHUT_WR)

	var tmp [4096]byte
	for discarded := 0; discarded < maxDiscard; {
		n, err := unix.Read(fd, tmp[:])
		if n <= 0 || err != nil {
			break
		}
		discarded += n
	}
	unix.Close(fd)
}

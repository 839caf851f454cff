package engine

import "golang.org/x/sys/unix"

// flush sends the response head and the mapped body with one writev per round,
// so the body is never copied into Out. Offsets survive a partial write,
// the next writable event continues where this one stopped.
// It returns EAGAIN (check with wouldBlock) when the socket is full.
func (s *Session) flush() (int, error) {
	total := 0
	for s.Pending() > 0 {
		iov := make([][]byte, 0, 2)
		if s.Out.Len() > 0 {
			iov = append(iov, s.Out.Bytes())
		}
		if body := s.body.Bytes(); s.bodyOff < len(body) {
			iov = append(iov, body[s.bodyOff:])
		}

		n, err := unix.Writev(s.Fd, iov)
		if n > 0 {
			total += n
			s.advance(n)
		}
		if err != nil {
			if wouldBlock(err) {
				return total, err
			}
			return total, &IOError{Op: "writev", Err: err}
		}
	}
	return total, nil
}

// advance moves the head and body offsets past n written bytes
func (s *Session) advance(n int) {
	if h := s.Out.Len(); n >= h {
		s.Out.Reset()
		s.bodyOff += n - h
		return
	}
	s.Out.Consume(n)
}

// growable byte buffer with separate read and write cursors,
// every session exchanges bytes with the socket through two of these
package engine

import (
	"bytes"

	"golang.org/x/sys/unix"
)

// size of the stack fallback region used by ReadFd
const extraReadSize = 64 << 10

var crlf = []byte("\r\n")

// Buffer keeps readable bytes in buf[rpos:wpos] and free space in buf[wpos:].
// rpos <= wpos <= len(buf) always holds.
type Buffer struct {
	buf  []byte
	rpos int
	wpos int
}

// NewBuffer returns an empty buffer with the given initial capacity.
func NewBuffer(size int) *Buffer {
	if size < 0 {
		size = 0
	}
	return &Buffer{buf: make([]byte, size)}
}

// Len is the number of readable bytes.
func (b *Buffer) Len() int { return b.wpos - b.rpos }

// Writable is the free space after the write cursor.
func (b *Buffer) Writable() int { return len(b.buf) - b.wpos }

// Prependable is the consumed space in front of the read cursor that compaction can reclaim.
func (b *Buffer) Prependable() int { return b.rpos }

// Cap is the size of the underlying store.
func (b *Buffer) Cap() int { return len(b.buf) }

// Bytes returns the readable region, valid until the next mutation.
func (b *Buffer) Bytes() []byte { return b.buf[b.rpos:b.wpos] }

// EnsureWritable makes sure at least n bytes can be written without another allocation.
func (b *Buffer) EnsureWritable(n int) {
	if b.Writable() >= n {
		return
	}

	// compaction is enough: slide readable bytes to the front
	if b.Writable()+b.rpos >= n {
		r := b.Len()
		copy(b.buf, b.buf[b.rpos:b.wpos])
		b.rpos, b.wpos = 0, r
		return
	}

	// grow geometrically so a stream of small reads stays linear
	size := max(2*len(b.buf), b.wpos+n+1)
	nb := make([]byte, size)
	copy(nb, b.buf[:b.wpos])
	b.buf = nb
}

// Append copies p after the readable region.
func (b *Buffer) Append(p []byte) {
	b.EnsureWritable(len(p))
	b.wpos += copy(b.buf[b.wpos:], p)
}

// AppendString is Append for strings, it avoids the []byte conversion.
func (b *Buffer) AppendString(s string) {
	b.EnsureWritable(len(s))
	b.wpos += copy(b.buf[b.wpos:], s)
}

// Write implements io.Writer, it never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// Consume advances the read cursor by n bytes, clamped to Len.
func (b *Buffer) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= b.Len() {
		b.Reset()
		return
	}
	b.rpos += n
}

// ConsumeUntil consumes everything up to and including the first marker.
// It returns the bytes before the marker (copied) and true, or nil and false
// if the marker is not buffered yet, in which case nothing is consumed.
func (b *Buffer) ConsumeUntil(marker []byte) ([]byte, bool) {
	idx := bytes.Index(b.Bytes(), marker)
	if idx == -1 {
		return nil, false
	}

	out := make([]byte, idx)
	copy(out, b.buf[b.rpos:b.rpos+idx])
	b.Consume(idx + len(marker))
	return out, true
}

// ConsumeLine consumes one CRLF-terminated line and returns it without the CRLF.
func (b *Buffer) ConsumeLine() (string, bool) {
	line, ok := b.ConsumeUntil(crlf)
	if !ok {
		return "", false
	}
	return string(line), true
}

// Drain returns a copy of every readable byte and empties the buffer.
func (b *Buffer) Drain() []byte {
	out := make([]byte, b.Len())
	copy(out, b.Bytes())
	b.Reset()
	return out
}

// DrainString is Drain returning a string.
func (b *Buffer) DrainString() string {
	s := string(b.Bytes())
	b.Reset()
	return s
}

// Reset drops all readable bytes, capacity is kept.
func (b *Buffer) Reset() {
	b.rpos, b.wpos = 0, 0
}

// ReadFd reads from fd with one readv call into the writable tail plus a stack region,
// so a single call can take in more than the current free space.
// Zero bytes read means the peer closed its end and is reported as ErrPeerClosed.
// EAGAIN is returned as is, callers decide with wouldBlock.
func (b *Buffer) ReadFd(fd int) (int, error) {
	var extra [extraReadSize]byte

	w := b.Writable()
	n, err := unix.Readv(fd, [][]byte{b.buf[b.wpos:], extra[:]})
	if err != nil {
		if wouldBlock(err) {
			return 0, err
		}
		return 0, &IOError{Op: "read", Err: err}
	}
	if n == 0 {
		return 0, ErrPeerClosed
	}

	if n <= w {
		b.wpos += n
	} else {
		b.wpos = len(b.buf)
		b.Append(extra[:n-w])
	}
	return n, nil
}

// WriteFd writes the readable region to fd and consumes what was written.
func (b *Buffer) WriteFd(fd int) (int, error) {
	if b.Len() == 0 {
		return 0, nil
	}

	n, err := unix.Write(fd, b.Bytes())
	if n > 0 {
		b.Consume(n)
	}
	if err != nil {
		if wouldBlock(err) {
			return max(n, 0), err
		}
		return max(n, 0), &IOError{Op: "write", Err: err}
	}
	return n, nil
}

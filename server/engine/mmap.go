package engine

import (
	"golang.org/x/sys/unix"
)

// Mapping is a read-only memory mapped file used as a response body.
// Release unmaps it and is safe to call more than once.
type Mapping struct {
	data []byte
}

// MapFile maps the whole file at path read-only and private.
// An empty file gives an empty mapping, mmap of zero bytes is not allowed.
func MapFile(path string) (*Mapping, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &IOError{Op: "open", Err: err}
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, &IOError{Op: "fstat", Err: err}
	}
	if st.Size == 0 {
		return &Mapping{}, nil
	}

	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, &IOError{Op: "mmap", Err: err}
	}
	return &Mapping{data: data}, nil
}

// Bytes is the mapped region, nil after Release.
func (m *Mapping) Bytes() []byte {
	if m == nil {
		return nil
	}
	return m.data
}

// Len is the mapped size.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.data)
}

// Release unmaps the region.
func (m *Mapping) Release() error {
	if m == nil || m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	return unix.Munmap(data)
}

package media

import (
	"errors"
	"io"
	"os"
	"sync"
)

var errSpoolClosed = errors.New("media: spool closed")

// spool is an append-only temp file that readers can consume while the
// download is still writing to it. Reads past the written end block until
// more data arrives or the download finishes.
type spool struct {
	f    *os.File
	mu   sync.Mutex
	cond *sync.Cond

	size   int64
	total  int64 // Content-Length, or -1
	done   bool
	err    error
	closed bool
}

func newSpool(total int64) (*spool, error) {
	f, err := os.CreateTemp("", "podvault-spool-*")
	if err != nil {
		return nil, err
	}
	s := &spool{f: f, total: total}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

func (s *spool) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errSpoolClosed
	}
	off := s.size
	s.mu.Unlock()

	n, err := s.f.WriteAt(p, off)

	s.mu.Lock()
	s.size += int64(n)
	s.cond.Broadcast()
	s.mu.Unlock()
	return n, err
}

// finish marks the download complete. A nil err means the whole body arrived.
func (s *spool) finish(err error) {
	s.mu.Lock()
	s.done = true
	s.err = err
	if err == nil {
		s.total = s.size
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *spool) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	for !s.closed && !s.done && s.size < off+int64(len(p)) {
		s.cond.Wait()
	}
	if s.closed {
		s.mu.Unlock()
		return 0, errSpoolClosed
	}
	size, done, dlErr := s.size, s.done, s.err
	s.mu.Unlock()

	if off >= size {
		if done && dlErr != nil {
			return 0, dlErr
		}
		return 0, io.EOF
	}

	want := min(int64(len(p)), size-off)
	n, err := s.f.ReadAt(p[:want], off)
	if err == nil && int64(n) < int64(len(p)) {
		err = io.EOF
		if dlErr != nil {
			err = dlErr
		}
	}
	return n, err
}

// length returns the final size, waiting for it when Content-Length is unknown.
func (s *spool) length() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.closed && !s.done && s.total < 0 {
		s.cond.Wait()
	}
	if s.closed {
		return 0, errSpoolClosed
	}
	if s.total < 0 {
		return s.size, nil
	}
	return s.total, nil
}

// buffered returns how many bytes past off are on disk, and whether the
// download has finished.
func (s *spool) buffered(off int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size - off, s.done
}

func (s *spool) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	name := s.f.Name()
	err := s.f.Close()
	if rmErr := os.Remove(name); err == nil {
		err = rmErr
	}
	return err
}

func (s *spool) reader() *spoolReader {
	return &spoolReader{s: s}
}

type spoolReader struct {
	s   *spool
	mu  sync.Mutex
	off int64
}

func (r *spoolReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	off := r.off
	r.mu.Unlock()

	n, err := r.s.ReadAt(p, off)

	r.mu.Lock()
	r.off += int64(n)
	r.mu.Unlock()

	if n > 0 && errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

func (r *spoolReader) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		r.mu.Lock()
		base = r.off
		r.mu.Unlock()
	case io.SeekEnd:
		size, err := r.s.length()
		if err != nil {
			return 0, err
		}
		base = size
	default:
		return 0, errors.New("media: invalid whence")
	}

	pos := base + offset
	if pos < 0 {
		return 0, errors.New("media: negative position")
	}
	r.mu.Lock()
	r.off = pos
	r.mu.Unlock()
	return pos, nil
}

func (r *spoolReader) position() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.off
}

// Close is a no-op; the spool is owned by the element.
func (r *spoolReader) Close() error { return nil }

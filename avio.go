package libav

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
)

// Seek whence extensions understood by custom I/O.
const (
	avseekSize  = 0x10000
	avseekForce = 0x20000
)

// maxEmptyReads bounds consecutive (0, nil) reads before giving up.
const maxEmptyReads = 100

// IOHandler is the managed side of a custom I/O context.
type IOHandler interface {
	io.Reader
	io.Writer
	io.Seeker
}

// ReaderHandler adapts a read-only source. Writes always fail; seeks work
// only when r also implements io.Seeker.
func ReaderHandler(r io.Reader) IOHandler {
	h := &readerHandler{r: r}
	if s, ok := r.(io.Seeker); ok {
		h.seeker = s
	}
	return h
}

type readerHandler struct {
	r      io.Reader
	seeker io.Seeker
}

func (h *readerHandler) Read(p []byte) (int, error) { return h.r.Read(p) }

func (h *readerHandler) Write([]byte) (int, error) {
	return 0, fmt.Errorf("custom io write: %w", errors.ErrUnsupported)
}

func (h *readerHandler) Seek(offset int64, whence int) (int64, error) {
	if h.seeker == nil {
		return 0, fmt.Errorf("custom io seek: %w", errors.ErrUnsupported)
	}
	return h.seeker.Seek(offset, whence)
}

func canSeek(h IOHandler) bool {
	if rh, ok := h.(*readerHandler); ok {
		return rh.seeker != nil
	}
	return true
}

// IOStats counts traffic through a custom I/O context.
type IOStats struct {
	Reads        int64
	BytesRead    int64
	Writes       int64
	BytesWritten int64
	Seeks        int64
	Failures     int64
}

// ioState is the value registered behind an AVIOContext's opaque pointer.
type ioState struct {
	h IOHandler

	mu      sync.Mutex
	err     error // first managed failure other than io.EOF
	pending error // error returned together with data, reported on the next read
	stats   IOStats
}

func (s *ioState) fail(err error) {
	s.stats.Failures++
	if s.err == nil && !errors.Is(err, io.EOF) {
		s.err = err
	}
}

func (s *ioState) read(p []byte) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pending; err != nil {
		s.pending = nil
		if errors.Is(err, io.EOF) {
			return averrorEOF
		}
		s.fail(err)
		return ioFailure
	}

	for range maxEmptyReads {
		n, err := s.h.Read(p)
		s.stats.Reads++
		if n > 0 {
			s.stats.BytesRead += int64(n)
			s.pending = err
			return int32(n)
		}
		if errors.Is(err, io.EOF) {
			return averrorEOF
		}
		if err != nil {
			s.fail(err)
			return ioFailure
		}
	}
	s.fail(io.ErrNoProgress)
	return ioFailure
}

func (s *ioState) write(p []byte) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.h.Write(p)
	s.stats.Writes++
	s.stats.BytesWritten += int64(n)
	if err != nil {
		s.fail(err)
		return ioFailure
	}
	return int32(n)
}

func (s *ioState) seek(offset int64, whence int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Seeks++

	if whence&avseekSize != 0 {
		size, err := s.size()
		if err != nil {
			s.fail(err)
			return ioFailure
		}
		return size
	}

	pos, err := s.h.Seek(offset, whence&^avseekForce)
	if err != nil {
		s.fail(err)
		return ioFailure
	}
	return pos
}

// size reports the stream length without moving the current position.
func (s *ioState) size() (int64, error) {
	cur, err := s.h.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := s.h.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := s.h.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return end, nil
}

func (l *Library) ioState(opaque uintptr) (*ioState, bool) {
	v, ok := l.slots.lookup(opaque)
	if !ok {
		return nil, false
	}
	s, ok := v.(*ioState)
	return s, ok
}

func (l *Library) avioReadEntry(opaque, buf uintptr, size int32) (ret int32) {
	defer recoverCallback("avioRead", &ret, ioFailure)
	s, ok := l.ioState(opaque)
	if !ok || size < 0 {
		return ioFailure
	}
	return s.read(nativeBytes(buf, int(size)))
}

func (l *Library) avioWriteEntry(opaque, buf uintptr, size int32) (ret int32) {
	defer recoverCallback("avioWrite", &ret, ioFailure)
	s, ok := l.ioState(opaque)
	if !ok || size < 0 {
		return ioFailure
	}
	return s.write(nativeBytes(buf, int(size)))
}

func (l *Library) avioSeekEntry(opaque uintptr, offset int64, whence int32) (ret int64) {
	defer recoverCallback("avioSeek", &ret, ioFailure)
	s, ok := l.ioState(opaque)
	if !ok {
		return ioFailure
	}
	return s.seek(offset, int(whence))
}

// IOContext is an AVIOContext whose read, write and seek calls land on an
// IOHandler. The callbacks are installed once and never replaced.
type IOContext struct {
	lib   *Library
	ptr   uintptr
	slot  uintptr
	state *ioState
}

// NewIOContext allocates a scratch buffer of bufferSize bytes and an
// AVIOContext over h. Only writable contexts route writes to h.
func NewIOContext(lib *Library, h IOHandler, bufferSize int, writable bool) (*IOContext, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: nil io handler", ErrConfig)
	}
	if bufferSize <= 0 || bufferSize > math.MaxInt32 {
		return nil, fmt.Errorf("%w: io buffer size %d out of range", ErrConfig, bufferSize)
	}

	buf := lib.avMalloc(uintptr(bufferSize))
	if buf == 0 {
		return nil, lib.statusError("av_malloc", averrorENOMEM, ErrOpen)
	}

	state := &ioState{h: h}
	slot := lib.slots.register(state)
	entries := lib.entryPoints()

	var writeFlag int32
	var write, seek uintptr
	if writable {
		writeFlag, write = 1, entries.write
	}
	if canSeek(h) {
		seek = entries.seek
	}

	ptr := lib.avioAllocContext(buf, int32(bufferSize), writeFlag, slot, entries.read, write, seek)
	if ptr == 0 {
		lib.avFree(buf)
		lib.slots.release(slot)
		return nil, lib.statusError("avio_alloc_context", averrorENOMEM, ErrOpen)
	}

	return &IOContext{lib: lib, ptr: ptr, slot: slot, state: state}, nil
}

// Err returns the first failure reported by the handler, if any.
func (c *IOContext) Err() error {
	if c == nil || c.state == nil {
		return nil
	}
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	return c.state.err
}

// Stats returns a snapshot of the traffic counters.
func (c *IOContext) Stats() IOStats {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	return c.state.stats
}

// Close frees the scratch buffer, then the context, then the handler slot.
// The buffer pointer is re-read because the native side may have replaced it.
func (c *IOContext) Close() {
	if c == nil || c.ptr == 0 {
		return
	}
	if buf := avioAt(c.ptr).buffer; buf != 0 {
		avioAt(c.ptr).buffer = 0
		c.lib.avFree(buf)
	}
	c.lib.avFree(c.ptr)
	c.ptr = 0
	c.lib.slots.release(c.slot)
	c.slot = 0
}

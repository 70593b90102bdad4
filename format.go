package libav

import (
	"fmt"
	"io"
	"unsafe"
)

// FormatContext is a demuxing AVFormatContext.
type FormatContext struct {
	lib *Library
	ptr uintptr
	io  *IOContext // not owned, must outlive the context
}

// OpenInput opens a demuxer reading through ioc. opts is consumed and the
// unrecognised options are returned, even on failure. ioc stays owned by
// the caller and must be closed after the FormatContext.
func OpenInput(lib *Library, ioc *IOContext, opts *Dictionary) (*FormatContext, *Dictionary, error) {
	if ioc == nil || ioc.ptr == 0 {
		opts.Free()
		return nil, nil, fmt.Errorf("%w: no io context", ErrConfig)
	}
	if opts != nil {
		if err := opts.usable(); err != nil {
			return nil, nil, err
		}
	}
	ptr := lib.avformatAllocContext()
	if ptr == 0 {
		opts.Free()
		return nil, nil, lib.statusError("avformat_alloc_context", averrorENOMEM, ErrOpen)
	}
	rec := formatAt(ptr)
	rec.pb = ioc.ptr
	rec.flags |= avfmtFlagCustomIO

	return openInput(lib, ptr, ioc, "", opts)
}

// OpenFile opens a demuxer on a path or URL using native I/O.
func OpenFile(lib *Library, path string, opts *Dictionary) (*FormatContext, *Dictionary, error) {
	return openInput(lib, 0, nil, path, opts)
}

func openInput(lib *Library, ptr uintptr, ioc *IOContext, url string, opts *Dictionary) (*FormatContext, *Dictionary, error) {
	status, leftovers, err := configure(lib, opts, func(pm *uintptr) int32 {
		return lib.avformatOpenInput(&ptr, url, 0, pm)
	})
	if err != nil {
		return nil, nil, err
	}
	if status < 0 {
		// avformat_open_input frees the context on failure.
		if ioErr := ioc.Err(); ioErr != nil {
			return nil, leftovers, fmt.Errorf("%w: %w", ErrIO, ioErr)
		}
		return nil, leftovers, lib.statusError("avformat_open_input", status, ErrOpen)
	}
	return &FormatContext{lib: lib, ptr: ptr, io: ioc}, leftovers, nil
}

func (f *FormatContext) rec() *formatContext { return formatAt(f.ptr) }

// StreamCount returns the number of streams found so far.
func (f *FormatContext) StreamCount() int {
	return int(f.rec().nbStreams)
}

func (f *FormatContext) stream(i int) (*avStream, error) {
	if i < 0 || i >= f.StreamCount() {
		return nil, fmt.Errorf("%w: stream %d of %d", ErrStreamNotFound, i, f.StreamCount())
	}
	return streamAt(ptrAt(f.rec().streams, i)), nil
}

// FindStreamInfo probes the input to fill in stream parameters. When opts
// is non-empty it must hold one dictionary per stream; they are consumed
// and the unrecognised options are returned in the same order.
func (f *FormatContext) FindStreamInfo(opts ...*Dictionary) ([]*Dictionary, error) {
	if len(opts) == 0 {
		if status := f.lib.avformatFindStreamInfo(f.ptr, 0); status < 0 {
			return nil, f.probeError(status)
		}
		return nil, nil
	}

	n := f.StreamCount()
	if len(opts) != n {
		for _, d := range opts {
			d.Free()
		}
		return nil, fmt.Errorf("%w: %d option sets for %d streams", ErrConfig, len(opts), n)
	}
	for _, d := range opts {
		if d != nil && d.consumed {
			return nil, ErrDictionaryConsumed
		}
	}

	array := f.lib.avMalloc(uintptr(n) * unsafe.Sizeof(uintptr(0)))
	if array == 0 {
		return nil, f.lib.statusError("av_malloc", averrorENOMEM, ErrOpen)
	}
	defer f.lib.avFree(array)

	slots := unsafe.Slice((*uintptr)(unsafe.Pointer(array)), n)
	for i, d := range opts {
		slots[i] = 0
		if d != nil {
			slots[i], d.ptr, d.consumed = d.ptr, 0, true
		}
	}

	status := f.lib.avformatFindStreamInfo(f.ptr, array)

	leftovers := make([]*Dictionary, n)
	for i := range leftovers {
		leftovers[i] = &Dictionary{lib: f.lib, ptr: slots[i]}
	}
	if status < 0 {
		return leftovers, f.probeError(status)
	}
	return leftovers, nil
}

// FindStream returns the index of the first stream of type t.
func (f *FormatContext) FindStream(t MediaType) (int, error) {
	for i := range f.StreamCount() {
		s, _ := f.stream(i)
		if s.codec == 0 {
			continue
		}
		if MediaType(*streamCodecContext(f.lib, s.codec).ref.codecType()) == t {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: no %s stream", ErrStreamNotFound, t)
}

// StreamTimeBase returns the time base of stream i.
func (f *FormatContext) StreamTimeBase(i int) (Rational, error) {
	s, err := f.stream(i)
	if err != nil {
		return Rational{}, err
	}
	return s.timeBase, nil
}

// StreamCodecContext returns the unopened codec context owned by stream i.
// It is closed, not freed, by CodecContext.Close.
func (f *FormatContext) StreamCodecContext(i int) (*CodecContext, error) {
	s, err := f.stream(i)
	if err != nil {
		return nil, err
	}
	if s.codec == 0 {
		return nil, fmt.Errorf("%w: stream %d has no codec context", ErrStreamNotFound, i)
	}
	return streamCodecContext(f.lib, s.codec), nil
}

// OpenStream opens the decoder of stream i with opts and returns the
// unrecognised options.
func (f *FormatContext) OpenStream(i int, opts *Dictionary) (*CodecContext, *Dictionary, error) {
	cc, err := f.StreamCodecContext(i)
	if err != nil {
		opts.Free()
		return nil, nil, err
	}
	leftovers, err := cc.OpenDecoder(opts)
	if err != nil {
		return nil, leftovers, err
	}
	return cc, leftovers, nil
}

// ReadPacket reads the next packet of any stream into pkt, releasing what
// pkt held before. It returns io.EOF at the end of the input.
func (f *FormatContext) ReadPacket(pkt *Packet) error {
	if !pkt.record.valid() {
		return fmt.Errorf("%w: packet already freed", ErrClosed)
	}
	pkt.unref()
	status := f.lib.avReadFrame(f.ptr, pkt.ref.ptr)
	if status < 0 {
		return f.readError("av_read_frame", status, ErrDecode)
	}
	pkt.markDemuxed()
	return nil
}

// readError maps a failed demuxer status, preferring the I/O handler's own
// error over the native sentinel it was translated into.
func (f *FormatContext) readError(op string, status int32, kind error) error {
	if ioErr := f.io.Err(); ioErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrIO, op, ioErr)
	}
	if status == averrorEOF {
		return io.EOF
	}
	return f.lib.statusError(op, status, kind)
}

func (f *FormatContext) probeError(status int32) error {
	if ioErr := f.io.Err(); ioErr != nil {
		return fmt.Errorf("%w: avformat_find_stream_info: %w", ErrIO, ioErr)
	}
	return f.lib.statusError("avformat_find_stream_info", status, ErrOpen)
}

// Metadata returns the container-level metadata.
func (f *FormatContext) Metadata() map[string]string {
	d := &Dictionary{lib: f.lib, ptr: f.rec().metadata}
	return d.Entries()
}

// Close closes the demuxer. A custom IOContext is left open for its owner.
func (f *FormatContext) Close() {
	if f == nil || f.ptr == 0 {
		return
	}
	f.lib.avformatCloseInput(&f.ptr)
	f.ptr = 0
}

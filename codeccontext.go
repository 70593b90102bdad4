package libav

import (
	"fmt"
	"math"
)

// CodecContext is an AVCodecContext. Contexts created with NewCodecContext
// are owned and freed on Close; contexts obtained from a FormatContext
// belong to their stream and are only closed.
type CodecContext struct {
	lib   *Library
	ref   codecContextRef
	owned bool

	opened    bool
	extradata *nativeHandle[byte]
}

// NewCodecContext allocates a context with defaults for codec, which may be nil.
func NewCodecContext(lib *Library, codec *Codec) (*CodecContext, error) {
	var codecPtr uintptr
	if codec != nil {
		codecPtr = codec.ptr
	}
	ptr := lib.avcodecAllocContext3(codecPtr)
	if ptr == 0 {
		return nil, lib.statusError("avcodec_alloc_context3", averrorENOMEM, ErrOpen)
	}
	return &CodecContext{lib: lib, ref: codecContextRef{layout: lib.layout(), ptr: ptr}, owned: true}, nil
}

func streamCodecContext(lib *Library, ptr uintptr) *CodecContext {
	return &CodecContext{lib: lib, ref: codecContextRef{layout: lib.layout(), ptr: ptr}}
}

// Open opens the context with codec. opts is consumed; the returned
// dictionary holds the options the codec did not recognise and is owned by
// the caller, even when Open fails.
func (c *CodecContext) Open(codec *Codec, opts *Dictionary) (*Dictionary, error) {
	if codec == nil {
		return nil, fmt.Errorf("%w: nil codec", ErrConfig)
	}
	status, leftovers, err := configure(c.lib, opts, func(pm *uintptr) int32 {
		return c.lib.avcodecOpen2(c.ref.ptr, codec.ptr, pm)
	})
	if err != nil {
		return nil, err
	}
	if status < 0 {
		kind := ErrOpen
		if status == averrorOptionNotFound || status == averrorEINVAL {
			kind = ErrConfig
		}
		return leftovers, c.lib.statusError("avcodec_open2", status, kind)
	}
	c.opened = true
	return leftovers, nil
}

// OpenDecoder opens the context with the decoder registered for its codec id.
func (c *CodecContext) OpenDecoder(opts *Dictionary) (*Dictionary, error) {
	codec, err := FindDecoder(c.lib, c.CodecID())
	if err != nil {
		opts.Free()
		return nil, err
	}
	return c.Open(codec, opts)
}

// SetRequestSampleFormat asks the decoder for f. It must be called before
// Open; decoders are free to ignore the request.
func (c *CodecContext) SetRequestSampleFormat(f SampleFormat) {
	*c.ref.requestSampleFmt() = int32(f)
}

// SetExtraData stores a zero-padded native copy of data as codec extradata.
func (c *CodecContext) SetExtraData(data []byte) error {
	if len(data) > math.MaxInt32-InputPaddingSize {
		return fmt.Errorf("%w: extradata of %d bytes too large", ErrConfig, len(data))
	}
	total := len(data) + InputPaddingSize
	buf := c.lib.avMalloc(uintptr(total))
	if buf == 0 {
		return c.lib.statusError("av_malloc", averrorENOMEM, ErrOpen)
	}
	dst := nativeBytes(buf, total)
	copy(dst, data)
	clear(dst[len(data):])

	c.releaseExtraData()
	c.extradata = newHandle[byte](buf, c.lib.avFree)
	ptr, size := c.ref.extradata()
	*ptr, *size = buf, int32(len(data))
	return nil
}

// ExtraData returns the codec extradata.
func (c *CodecContext) ExtraData() []byte {
	ptr, size := c.ref.extradata()
	return nativeBytes(*ptr, int(*size))
}

func (c *CodecContext) releaseExtraData() {
	if !c.extradata.valid() {
		return
	}
	ptr, size := c.ref.extradata()
	if *ptr == c.extradata.addr() {
		*ptr, *size = 0, 0
	}
	c.extradata.free()
}

// SetGetBufferCallback makes fn run every time the decoder allocates a
// frame buffer, after the default allocator. A non-nil error fails the
// allocation. Installing again replaces the previous callback.
func (c *CodecContext) SetGetBufferCallback(fn func(*Frame) error) {
	c.lib.slots.install(c.ref.opaque(), getBufferFunc(fn))
	*c.ref.getBuffer() = c.lib.entryPoints().getBuffer
}

// DoubleOption reads a numeric AVOption of the context.
func (c *CodecContext) DoubleOption(name string) (float64, error) {
	var v float64
	if ret := c.lib.avOptGetDbl(c.ref.ptr, name, 0, &v); ret < 0 {
		return 0, c.lib.statusError("av_opt_get_double", ret, ErrConfig)
	}
	return v, nil
}

// RationalOption reads a rational AVOption of the context.
func (c *CodecContext) RationalOption(name string) (Rational, error) {
	var v Rational
	if ret := c.lib.avOptGetQ(c.ref.ptr, name, 0, &v); ret < 0 {
		return Rational{}, c.lib.statusError("av_opt_get_q", ret, ErrConfig)
	}
	return v, nil
}

// DecodeAudio decodes at most one frame from the undecoded part of pkt and
// advances the packet past the bytes the decoder consumed. It reports
// whether a frame was produced; a decoder may consume input without
// producing output.
func (c *CodecContext) DecodeAudio(frame *Frame, pkt *Packet) (bool, error) {
	if !c.opened {
		return false, fmt.Errorf("%w: codec context not open", ErrClosed)
	}
	if !pkt.record.valid() || !frame.handle.valid() {
		return false, fmt.Errorf("%w: packet or frame already freed", ErrClosed)
	}
	frame.resetDefaults()

	var got int32
	n := c.lib.avcodecDecodeAudio4(c.ref.ptr, frame.handle.addr(), &got, pkt.ref.ptr)
	if n < 0 {
		return false, c.lib.statusError("avcodec_decode_audio4", n, ErrDecode)
	}
	pkt.advance(n)
	return got != 0, nil
}

func (c *CodecContext) CodecID() CodecID           { return CodecID(*c.ref.codecID()) }
func (c *CodecContext) MediaType() MediaType       { return MediaType(*c.ref.codecType()) }
func (c *CodecContext) SampleRate() int            { return int(*c.ref.sampleRate()) }
func (c *CodecContext) Channels() int              { return int(*c.ref.channels()) }
func (c *CodecContext) SampleFormat() SampleFormat { return SampleFormat(*c.ref.sampleFmt()) }
func (c *CodecContext) ChannelLayout() uint64      { return *c.ref.channelLayout() }
func (c *CodecContext) FrameSize() int             { return int(*c.ref.frameSize()) }
func (c *CodecContext) TimeBase() Rational         { return *c.ref.timeBase() }

// Close closes the codec, releases the get_buffer callback and extradata,
// and frees the context if it is owned.
func (c *CodecContext) Close() {
	if c == nil || c.ref.ptr == 0 {
		return
	}
	if c.opened {
		c.lib.avcodecClose(c.ref.ptr)
		c.opened = false
	}
	c.lib.slots.clear(c.ref.opaque())
	c.releaseExtraData()
	if c.owned {
		c.lib.avFree(c.ref.ptr)
	}
	c.ref.ptr = 0
}

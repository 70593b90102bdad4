package libav

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"maps"
	"unsafe"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DecoderState describes what an AudioDecoder holds between pulls.
type DecoderState int

const (
	// StateEmpty holds neither undecoded packet bytes nor decoded samples.
	StateEmpty DecoderState = iota
	// StatePacketLoaded holds undecoded packet bytes but no decoded samples.
	StatePacketLoaded
	// StateFrameBuffered holds decoded samples not yet consumed.
	StateFrameBuffered
)

func (s DecoderState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePacketLoaded:
		return "packet-loaded"
	case StateFrameBuffered:
		return "frame-buffered"
	default:
		return fmt.Sprintf("DecoderState(%d)", int(s))
	}
}

// DecoderStats counts decoder activity.
type DecoderStats struct {
	Packets        int64 // packets read from the audio stream
	SkippedPackets int64 // packets of other streams
	Frames         int64 // frames that produced samples
	EmptyDecodes   int64 // decode calls that produced no frame
	DroppedBytes   int64 // packet bytes the decoder made no progress on
	IO             IOStats
}

type decoderOptions struct {
	lib        *Library
	bufferSize int
	formatOpts map[string]string
	codecOpts  map[string]string
}

// DecoderOption configures NewAudioDecoder.
type DecoderOption func(*decoderOptions)

// WithLibrary uses lib instead of the default Library.
func WithLibrary(lib *Library) DecoderOption {
	return func(o *decoderOptions) { o.lib = lib }
}

// WithBufferSize sets the custom I/O buffer size.
func WithBufferSize(n int) DecoderOption {
	return func(o *decoderOptions) { o.bufferSize = n }
}

// WithFormatOptions passes options to the demuxer.
func WithFormatOptions(opts map[string]string) DecoderOption {
	return func(o *decoderOptions) { o.formatOpts = opts }
}

// WithCodecOptions passes options to the decoder.
func WithCodecOptions(opts map[string]string) DecoderOption {
	return func(o *decoderOptions) { o.codecOpts = opts }
}

// AudioDecoder streams the first audio stream of a container as
// interleaved samples of type T. It pulls compressed data from its source
// only when every decoded sample has been consumed.
//
// An AudioDecoder is not safe for concurrent use.
type AudioDecoder[T Sample] struct {
	lib *Library
	log *logrus.Entry

	io     *IOContext
	demux  *FormatContext
	codec  *CodecContext
	frame  *Frame
	packet *Packet

	stream     int
	sampleFmt  SampleFormat
	sampleSize int
	channels   int
	sampleRate int

	frameSize   int // bytes of decoded samples in the current frame
	frameOffset int // bytes of the current frame already consumed
	consumed    uint64

	stats   DecoderStats
	unused  map[string]string
	err     error // sticky terminal error
	iterErr error
	release []func()
}

// NewAudioDecoder opens r, probes it and opens a decoder for its first
// audio stream producing samples of type T.
func NewAudioDecoder[T Sample](r io.Reader, opts ...DecoderOption) (*AudioDecoder[T], error) {
	var o decoderOptions
	for _, opt := range opts {
		opt(&o)
	}
	lib := o.lib
	if lib == nil {
		var err error
		if lib, err = Load(); err != nil {
			return nil, err
		}
	}
	if o.bufferSize == 0 {
		o.bufferSize = lib.IOBufferSize()
	}

	d := &AudioDecoder[T]{
		lib:        lib,
		log:        logFn("AudioDecoder").WithField("session", uuid.NewString()),
		sampleFmt:  SampleFormatOf[T](),
		sampleSize: int(unsafe.Sizeof(T(0))),
		unused:     make(map[string]string),
	}
	if err := d.open(r, &o); err != nil {
		d.Close()
		return nil, err
	}

	d.log.WithFields(logrus.Fields{
		"codec":       d.codec.CodecID().String(),
		"stream":      d.stream,
		"sample_rate": d.sampleRate,
		"channels":    d.channels,
		"format":      d.sampleFmt.String(),
	}).Debug("Opened audio decoder")
	if len(d.unused) > 0 {
		d.log.WithField("options", d.unused).Debug("Options not recognised")
	}
	return d, nil
}

// open acquires every native object, registering its release in order so
// Close undoes them in reverse.
func (d *AudioDecoder[T]) open(r io.Reader, o *decoderOptions) error {
	lib := d.lib

	ioc, err := NewIOContext(lib, ReaderHandler(r), o.bufferSize, false)
	if err != nil {
		return err
	}
	d.io = ioc
	d.release = append(d.release, ioc.Close)

	formatOpts, err := DictionaryFromMap(lib, o.formatOpts)
	if err != nil {
		return err
	}
	demux, left, err := OpenInput(lib, ioc, formatOpts)
	d.keepUnused(left)
	if err != nil {
		return err
	}
	d.demux = demux
	d.release = append(d.release, demux.Close)

	if _, err := demux.FindStreamInfo(); err != nil {
		return err
	}
	if d.stream, err = demux.FindStream(MediaTypeAudio); err != nil {
		return err
	}
	codec, err := demux.StreamCodecContext(d.stream)
	if err != nil {
		return err
	}
	codec.SetRequestSampleFormat(d.sampleFmt)

	codecOpts, err := DictionaryFromMap(lib, o.codecOpts)
	if err != nil {
		return err
	}
	left, err = codec.OpenDecoder(codecOpts)
	d.keepUnused(left)
	if err != nil {
		return err
	}
	d.codec = codec
	d.release = append(d.release, codec.Close)

	d.channels = codec.Channels()
	d.sampleRate = codec.SampleRate()
	if d.channels <= 0 {
		return fmt.Errorf("%w: stream %d reports %d channels", ErrOpen, d.stream, d.channels)
	}
	if got := codec.SampleFormat(); got != d.sampleFmt {
		// Planar and packed layouts are identical for a single channel.
		if !(d.channels == 1 && got.Packed() == d.sampleFmt) {
			return fmt.Errorf("%w: decoder produces %s, want %s", ErrSampleFormat, got, d.sampleFmt)
		}
	}

	if d.frame, err = NewFrame(lib); err != nil {
		return err
	}
	d.release = append(d.release, d.frame.Free)

	if d.packet, err = AllocPacket(lib); err != nil {
		return err
	}
	d.release = append(d.release, d.packet.Free)
	return nil
}

func (d *AudioDecoder[T]) keepUnused(left *Dictionary) {
	if left == nil {
		return
	}
	for k, v := range left.All() {
		d.unused[k] = v
	}
	left.Free()
}

// readFrame advances the pipeline by one step: decode from the loaded
// packet, or load the next packet of the audio stream.
func (d *AudioDecoder[T]) readFrame() error {
	if before := d.packet.Len(); before > 0 {
		got, err := d.codec.DecodeAudio(d.frame, d.packet)
		if err != nil {
			d.packet.drop()
			return err
		}
		if !got {
			d.stats.EmptyDecodes++
			if d.packet.Len() == before {
				d.stats.DroppedBytes += int64(before)
				d.log.WithField("bytes", before).Warn("Decoder made no progress, dropping packet remainder")
				d.packet.drop()
			}
			return nil
		}

		size := d.frame.NumSamples() * d.channels * d.sampleSize
		if data := d.frame.AudioData(0, d.channels); len(data) < size {
			d.packet.drop()
			return fmt.Errorf("%w: frame holds %d bytes, expected %d", ErrDecode, len(data), size)
		}
		d.stats.Frames++
		d.frameOffset, d.frameSize = 0, size
		return nil
	}

	for {
		if err := d.demux.ReadPacket(d.packet); err != nil {
			return err
		}
		if d.packet.StreamIndex() == d.stream {
			d.stats.Packets++
			return nil
		}
		d.stats.SkippedPackets++
	}
}

// fillBuffer makes at least one decoded byte available. End of input and
// I/O failures are terminal; decode errors are returned once and the
// offending packet is skipped.
func (d *AudioDecoder[T]) fillBuffer() error {
	if d.err != nil {
		return d.err
	}
	for d.frameOffset >= d.frameSize {
		if err := d.readFrame(); err != nil {
			if !errors.Is(err, ErrDecode) {
				d.err = err
			}
			return err
		}
	}
	return nil
}

// Peek returns the unconsumed bytes of the current frame, decoding more
// input first if none are buffered. It returns io.EOF at the end of input.
// The slice is valid until the next call that decodes.
func (d *AudioDecoder[T]) Peek() ([]byte, error) {
	if err := d.fillBuffer(); err != nil {
		return nil, err
	}
	return d.frame.AudioData(0, d.channels)[d.frameOffset:d.frameSize], nil
}

// Consume marks n bytes returned by Peek as read.
func (d *AudioDecoder[T]) Consume(n int) {
	if n < 0 || n > d.BufferSize() {
		panic(fmt.Sprintf("libav: consume %d bytes with %d buffered", n, d.BufferSize()))
	}
	d.frameOffset += n
	d.consumed += uint64(n)
}

// Read implements io.Reader over the interleaved sample bytes.
func (d *AudioDecoder[T]) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf, err := d.Peek()
	if err != nil {
		return 0, err
	}
	n := copy(p, buf)
	d.Consume(n)
	return n, nil
}

// Next returns the next sample. Samples split across frames are joined.
func (d *AudioDecoder[T]) Next() (T, error) {
	var v T
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&v)), d.sampleSize)
	for got := 0; got < len(raw); {
		buf, err := d.Peek()
		if err != nil {
			if got > 0 && errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			var zero T
			return zero, err
		}
		n := copy(raw[got:], buf)
		d.Consume(n)
		got += n
	}
	return v, nil
}

// ReadSamples fills dst with as many samples as are available. At the end
// of input it returns 0, io.EOF.
func (d *AudioDecoder[T]) ReadSamples(dst []T) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(dst))), len(dst)*d.sampleSize)
	got := 0
	for got < len(raw) {
		buf, err := d.Peek()
		if err != nil {
			if got >= d.sampleSize && errors.Is(err, io.EOF) {
				break
			}
			return got / d.sampleSize, err
		}
		n := copy(raw[got:], buf)
		d.Consume(n)
		got += n
	}
	return got / d.sampleSize, nil
}

// Samples iterates over the remaining samples. Iteration stops at the end
// of input or on the first error, which Err then reports.
func (d *AudioDecoder[T]) Samples() iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, err := d.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					d.iterErr = err
				}
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Err returns the error that stopped Samples, if any.
func (d *AudioDecoder[T]) Err() error { return d.iterErr }

// Position returns the number of samples consumed, counting every channel.
func (d *AudioDecoder[T]) Position() uint64 {
	return d.consumed / uint64(d.sampleSize)
}

// State reports what the decoder currently holds.
func (d *AudioDecoder[T]) State() DecoderState {
	switch {
	case d.frameOffset < d.frameSize:
		return StateFrameBuffered
	case d.packet != nil && d.packet.Len() > 0:
		return StatePacketLoaded
	default:
		return StateEmpty
	}
}

func (d *AudioDecoder[T]) Channels() int              { return d.channels }
func (d *AudioDecoder[T]) SampleRate() int            { return d.sampleRate }
func (d *AudioDecoder[T]) SampleFormat() SampleFormat { return d.sampleFmt }
func (d *AudioDecoder[T]) StreamIndex() int           { return d.stream }

// CodecContext exposes the underlying decoder context.
func (d *AudioDecoder[T]) CodecContext() *CodecContext { return d.codec }

// BufferSize returns the number of decoded bytes not yet consumed.
func (d *AudioDecoder[T]) BufferSize() int {
	return d.frameSize - d.frameOffset
}

// BufferLen returns the number of buffered samples per channel.
func (d *AudioDecoder[T]) BufferLen() int {
	return d.BufferSize() / (d.channels * d.sampleSize)
}

// Stats returns a snapshot of the decoder counters.
func (d *AudioDecoder[T]) Stats() DecoderStats {
	s := d.stats
	if d.io != nil && d.io.ptr != 0 {
		s.IO = d.io.Stats()
	}
	return s
}

// UnusedOptions returns the demuxer and decoder options that were not recognised.
func (d *AudioDecoder[T]) UnusedOptions() map[string]string {
	return maps.Clone(d.unused)
}

// Close releases every native object in reverse order of acquisition.
func (d *AudioDecoder[T]) Close() error {
	if errors.Is(d.err, ErrClosed) {
		return nil
	}
	for i := len(d.release) - 1; i >= 0; i-- {
		d.release[i]()
	}
	d.release = nil
	d.frameOffset, d.frameSize = 0, 0
	d.err = ErrClosed
	d.log.WithField("position", d.Position()).Debug("Closed audio decoder")
	return nil
}

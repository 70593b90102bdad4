// Decoded frame wrapper.

package libav

// Frame is an AVFrame. Frames handed to get_buffer callbacks are borrowed
// from the decoder and must not be kept past the callback.
type Frame struct {
	lib      *Library
	handle   *nativeHandle[avFrame]
	borrowed bool
}

// NewFrame allocates an empty frame.
func NewFrame(lib *Library) (*Frame, error) {
	ptr := lib.avFrameAlloc()
	if ptr == 0 {
		return nil, lib.statusError("av_frame_alloc", averrorENOMEM, ErrDecode)
	}
	release := func(p uintptr) { lib.avFrameFree(&p) }
	return &Frame{lib: lib, handle: newHandle[avFrame](ptr, release)}, nil
}

func (f *Frame) rec() *avFrame { return f.handle.record() }

func (f *Frame) Width() int  { return int(f.rec().width) }
func (f *Frame) Height() int { return int(f.rec().height) }

// Linesize returns the line size in bytes of plane i.
func (f *Frame) Linesize(i int) int { return int(f.rec().linesize[i]) }

// NumSamples returns the number of audio samples per channel.
func (f *Frame) NumSamples() int { return int(f.rec().nbSamples) }

// SampleFormat returns the format of audio frames.
func (f *Frame) SampleFormat() SampleFormat { return SampleFormat(f.rec().format) }

func (f *Frame) SampleRate() int       { return int(f.rec().sampleRate) }
func (f *Frame) ChannelLayout() uint64 { return f.rec().channelLayout }
func (f *Frame) PTS() int64            { return f.rec().pts }
func (f *Frame) PacketPTS() int64      { return f.rec().pktPts }
func (f *Frame) PacketDTS() int64      { return f.rec().pktDts }
func (f *Frame) BestEffortPTS() int64  { return f.rec().bestEffortTimestamp }
func (f *Frame) DecodeErrorFlags() int { return int(f.rec().decodeErrorFlags) }

// AudioData returns the bytes of plane for a frame carrying channels
// channels. For packed formats plane 0 holds every channel interleaved.
// The slice aliases decoder memory and is valid until the next decode.
func (f *Frame) AudioData(plane, channels int) []byte {
	if plane < 0 || plane >= numDataPointers {
		return nil
	}
	r := f.rec()
	var linesize int32
	size := f.lib.avSamplesGetBufferSize(&linesize, int32(channels), r.nbSamples, r.format, 1)
	if size <= 0 {
		return nil
	}
	return nativeBytes(r.data[plane], int(linesize))
}

// SetUserData attaches v to the frame, releasing any value attached before.
// Values implementing Releaser are released with the frame.
func (f *Frame) SetUserData(v any) {
	f.lib.slots.install(&f.rec().opaque, v)
}

// UserData returns the value attached with SetUserData.
func (f *Frame) UserData() (any, bool) {
	id := f.rec().opaque
	if id == 0 {
		return nil, false
	}
	return f.lib.slots.lookup(id)
}

// resetDefaults clears the frame for the next decode, keeping user data.
func (f *Frame) resetDefaults() {
	r := f.rec()
	opaque := r.opaque
	f.lib.avcodecGetFrameDefaults(f.handle.addr())
	r.opaque = opaque
}

// Free releases the frame and its user data. Borrowed frames are left alone.
func (f *Frame) Free() {
	if f == nil || f.borrowed || !f.handle.valid() {
		return
	}
	f.lib.slots.clear(&f.rec().opaque)
	f.handle.free()
}

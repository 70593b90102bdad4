//go:build darwin || linux

package libav

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

// fakeLib is an in-process stand-in for the FFmpeg libraries. It allocates
// every record outside the Go heap with the layout matching its configured
// version, reads and writes fields through the concrete layout structs,
// demuxes WAV through the registered custom I/O callbacks and decodes PCM.
// Every release is logged so tests can check ordering and leaks.

const avNoPTS = math.MinInt64

// memArena hands out zeroed, 16-byte aligned blocks of mmap'd memory.
type memArena struct {
	chunks [][]byte
	cur    []byte
	off    int
}

func (a *memArena) alloc(n int) uintptr {
	n = (n + 15) &^ 15
	if n == 0 {
		n = 16
	}
	if a.cur == nil || a.off+n > len(a.cur) {
		size := max(n, 1<<20)
		mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
		if err != nil {
			panic(fmt.Sprintf("fakelib: mmap %d bytes: %v", size, err))
		}
		a.chunks = append(a.chunks, mem)
		a.cur, a.off = mem, 0
	}
	p := uintptr(unsafe.Pointer(&a.cur[a.off]))
	a.off += n
	return p
}

func (a *memArena) release() {
	for _, c := range a.chunks {
		_ = unix.Munmap(c)
	}
	a.chunks, a.cur = nil, nil
}

type fakeConfig struct {
	version         uint32
	packetBytes     int   // audio payload bytes per demuxed packet
	maxFrameSamples int   // samples per channel consumed by one decode call
	warmupCalls     int   // leading decode calls that consume input without output
	stallPacket     int64 // packet whose decode consumes nothing and yields nothing
	corruptFrom     int64 // first packet rejected as invalid data
	videoOnly       bool
	leadingVideo    bool // stream 0 is video and its packets interleave with audio
	planarOutput    bool
	reallocIOBuffer bool // demuxer swaps the custom I/O buffer while opening
	probeFail       bool
}

type fakeOption func(*fakeConfig)

func withVersion(v uint32) fakeOption      { return func(c *fakeConfig) { c.version = v } }
func withPacketBytes(n int) fakeOption     { return func(c *fakeConfig) { c.packetBytes = n } }
func withMaxFrameSamples(n int) fakeOption { return func(c *fakeConfig) { c.maxFrameSamples = n } }
func withWarmupCalls(n int) fakeOption     { return func(c *fakeConfig) { c.warmupCalls = n } }
func withStallPacket(seq int64) fakeOption { return func(c *fakeConfig) { c.stallPacket = seq } }
func withCorruptFrom(seq int64) fakeOption { return func(c *fakeConfig) { c.corruptFrom = seq } }
func withVideoOnly() fakeOption            { return func(c *fakeConfig) { c.videoOnly = true } }
func withLeadingVideo() fakeOption         { return func(c *fakeConfig) { c.leadingVideo = true } }
func withPlanarOutput() fakeOption         { return func(c *fakeConfig) { c.planarOutput = true } }
func withReallocatedIOBuffer() fakeOption  { return func(c *fakeConfig) { c.reallocIOBuffer = true } }
func withProbeFailure() fakeOption         { return func(c *fakeConfig) { c.probeFail = true } }

type wavFormat struct {
	audioFormat uint16
	channels    uint16
	sampleRate  uint32
	blockAlign  uint16
	bits        uint16
}

func (w wavFormat) sampleFormat() SampleFormat {
	switch {
	case w.audioFormat == 3 && w.bits == 32:
		return SampleFormatF32
	case w.bits == 8:
		return SampleFormatU8
	case w.bits == 16:
		return SampleFormatS16
	case w.bits == 32:
		return SampleFormatS32
	}
	return SampleFormatNone
}

func (w wavFormat) codecID() CodecID {
	switch w.sampleFormat() {
	case SampleFormatF32:
		return CodecIDPCMF32LE
	case SampleFormatU8:
		return CodecIDPCMU8
	case SampleFormatS16:
		return CodecIDPCMS16LE
	case SampleFormatS32:
		return CodecIDPCMS32LE
	}
	return CodecIDNone
}

type fakeDict struct {
	entries []uintptr // avDictEntry records
}

type fakeAVIO struct {
	opaque, read, write, seek uintptr
}

type fakeDemux struct {
	pb          uintptr
	buffered    []byte
	eof         bool
	ioErr       int32
	wav         wavFormat
	dataLeft    int
	streams     []uintptr
	streamArray uintptr
	audioIndex  int
	videoIndex  int
	videoTurn   bool
	seq         int64
}

type fakeDecoder struct {
	wav       wavFormat
	video     bool
	open      bool
	requested int32
	outFmt    SampleFormat
	warmup    int
	pending   []byte
	buffers   []uintptr
}

type fakeLib struct {
	t      testing.TB
	cfg    fakeConfig
	layout layoutID

	mem        memArena
	allocs     map[uintptr]string
	log        []string
	callbacks  map[uintptr]any
	codecs     map[CodecID]uintptr
	dicts      map[uintptr]*fakeDict
	avio       map[uintptr]*fakeAVIO
	demux      map[uintptr]*fakeDemux
	decoders   map[uintptr]*fakeDecoder
	packetData map[uintptr]bool

	versionCalls       int
	registered         int
	getBufferCalls     int
	releaseBufferCalls int
	decodeCalls        int
}

func newFakeLib(t testing.TB, opts ...fakeOption) (*fakeLib, *Library) {
	t.Helper()
	cfg := fakeConfig{
		version:         0x380D64,
		packetBytes:     1024,
		maxFrameSamples: 256,
		stallPacket:     -1,
		corruptFrom:     -1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &fakeLib{
		t:          t,
		cfg:        cfg,
		allocs:     make(map[uintptr]string),
		callbacks:  make(map[uintptr]any),
		codecs:     make(map[CodecID]uintptr),
		dicts:      make(map[uintptr]*fakeDict),
		avio:       make(map[uintptr]*fakeAVIO),
		demux:      make(map[uintptr]*fakeDemux),
		decoders:   make(map[uintptr]*fakeDecoder),
		packetData: make(map[uintptr]bool),
	}
	f.layout, _ = selectLayout(VersionTag(cfg.version))
	t.Cleanup(f.mem.release)

	lib := &Library{
		cfg: Config{IOBufferSize: DefaultIOBufferSize, LogLevel: "warn"},

		avcodecVersion:              f.avcodecVersion,
		avcodecFindDecoder:          f.avcodecFindDecoder,
		avcodecAllocContext3:        f.avcodecAllocContext3,
		avcodecOpen2:                f.avcodecOpen2,
		avcodecClose:                f.avcodecClose,
		avcodecDecodeAudio4:         f.avcodecDecodeAudio4,
		avcodecDefaultGetBuffer:     f.avcodecDefaultGetBuffer,
		avcodecDefaultReleaseBuffer: f.avcodecDefaultReleaseBuffer,
		avcodecGetFrameDefaults:     f.avcodecGetFrameDefaults,
		avInitPacket:                f.avInitPacket,
		avFreePacket:                f.avFreePacket,
		avFrameAlloc:                f.avFrameAlloc,
		avFrameFree:                 f.avFrameFree,

		avDictSet:   f.avDictSet,
		avDictGet:   f.avDictGet,
		avDictFree:  f.avDictFree,
		avOptGetDbl: f.avOptGetDouble,
		avOptGetQ:   f.avOptGetQ,

		avSamplesGetBufferSize: f.avSamplesGetBufferSize,
		avMalloc:               f.avMalloc,
		avFree:                 f.avFree,
		avStrerror:             f.avStrerror,

		avformatAllocContext:   f.avformatAllocContext,
		avformatOpenInput:      f.avformatOpenInput,
		avformatFindStreamInfo: f.avformatFindStreamInfo,
		avformatCloseInput:     f.avformatCloseInput,
		avioAllocContext:       f.avioAllocContext,
		avReadFrame:            f.avReadFrame,

		avRegisterAll: func() { f.registered++ },

		newCallback: f.newCallback,
	}
	lib.init()
	return f, lib
}

// Bookkeeping

func (f *fakeLib) alloc(n int, kind string) uintptr {
	p := f.mem.alloc(n)
	f.allocs[p] = kind
	return p
}

// free releases a tracked allocation and logs op:kind.
func (f *fakeLib) free(p uintptr, op string) {
	kind, ok := f.allocs[p]
	if !ok {
		f.t.Errorf("%s: %#x was never allocated or is already freed", op, p)
		return
	}
	delete(f.allocs, p)
	f.log = append(f.log, op+":"+kind)
}

// drop releases a tracked allocation without logging.
func (f *fakeLib) drop(p uintptr) {
	if _, ok := f.allocs[p]; !ok {
		f.t.Errorf("drop: %#x was never allocated or is already freed", p)
	}
	delete(f.allocs, p)
}

func (f *fakeLib) cstring(s string) uintptr {
	p := f.mem.alloc(len(s) + 1)
	copy(nativeBytes(p, len(s)), s)
	return p
}

func (f *fakeLib) newCallback(fn any) uintptr {
	p := f.mem.alloc(16)
	f.callbacks[p] = fn
	return p
}

// leaks lists the kinds of allocations still alive, sorted.
func (f *fakeLib) leaks() []string {
	var kinds []string
	for _, k := range f.allocs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func (f *fakeLib) assertNoLeaks(t testing.TB, lib *Library) {
	t.Helper()
	if leaks := f.leaks(); len(leaks) > 0 {
		t.Errorf("native allocations leaked: %v", leaks)
	}
	if n := lib.slots.len(); n != 0 {
		t.Errorf("callback registry holds %d values, want 0", n)
	}
}

// Direct typed access to the version dependent records.

type ccFields struct {
	codecType, codecID, sampleRate, channels *int32
	sampleFmt, blockAlign, requestSampleFmt  *int32
	opaque, getBuffer                        *uintptr
	timeBase                                 *Rational
	channelLayout                            *uint64
}

func (f *fakeLib) cc(ptr uintptr) ccFields {
	switch f.layout {
	case layoutLavc54:
		c := (*codecContextLavc54)(unsafe.Pointer(ptr))
		return ccFields{&c.codecType, &c.codecID, &c.sampleRate, &c.channels,
			&c.sampleFmt, &c.blockAlign, &c.requestSampleFmt,
			&c.opaque, &c.getBuffer, &c.timeBase, &c.channelLayout}
	case layoutLavc56:
		c := (*codecContextLavc56)(unsafe.Pointer(ptr))
		return ccFields{&c.codecType, &c.codecID, &c.sampleRate, &c.channels,
			&c.sampleFmt, &c.blockAlign, &c.requestSampleFmt,
			&c.opaque, &c.getBuffer, &c.timeBase, &c.channelLayout}
	}
	panic("fakelib: unknown layout")
}

func (f *fakeLib) codecContextSize() int {
	switch f.layout {
	case layoutLavc54:
		return int(unsafe.Sizeof(codecContextLavc54{}))
	case layoutLavc56:
		return int(unsafe.Sizeof(codecContextLavc56{}))
	}
	panic("fakelib: unknown layout")
}

type pkFields struct {
	data                        *uintptr
	size, streamIndex, duration *int32
	pts, dts, pos               *int64
}

func (f *fakeLib) pk(ptr uintptr) pkFields {
	switch f.layout {
	case layoutLavc54:
		p := (*packetLavc54)(unsafe.Pointer(ptr))
		return pkFields{&p.data, &p.size, &p.streamIndex, &p.duration, &p.pts, &p.dts, &p.pos}
	case layoutLavc56:
		p := (*packetLavc56)(unsafe.Pointer(ptr))
		return pkFields{&p.data, &p.size, &p.streamIndex, &p.duration, &p.pts, &p.dts, &p.pos}
	}
	panic("fakelib: unknown layout")
}

func (f *fakeLib) setupCodecContext(ptr uintptr, dec *fakeDecoder) {
	c := f.cc(ptr)
	*c.requestSampleFmt = int32(SampleFormatNone)
	if dec.video {
		*c.codecType = int32(MediaTypeVideo)
		*c.codecID = int32(CodecIDH264)
		*c.timeBase = Rational{Num: 1, Den: 90000}
		return
	}
	*c.codecType = int32(MediaTypeAudio)
	*c.codecID = int32(dec.wav.codecID())
	*c.sampleRate = int32(dec.wav.sampleRate)
	*c.channels = int32(dec.wav.channels)
	*c.blockAlign = int32(dec.wav.blockAlign)
	*c.sampleFmt = int32(dec.wav.sampleFormat())
	*c.timeBase = Rational{Num: 1, Den: int32(dec.wav.sampleRate)}
	if dec.wav.channels == 1 {
		*c.channelLayout = 0x4
	} else {
		*c.channelLayout = 0x3
	}
}

// libavutil

func (f *fakeLib) avMalloc(size uintptr) uintptr {
	return f.alloc(int(size), "av_malloc")
}

func (f *fakeLib) avFree(p uintptr) {
	if p == 0 {
		return
	}
	f.free(p, "av_free")
}

var fakeErrors = map[int32]string{
	averrorEOF:             "End of file",
	averrorInvalidData:     "Invalid data found when processing input",
	averrorOptionNotFound:  "Option not found",
	averrorDecoderNotFound: "Decoder not found",
	averrorEINVAL:          "Invalid argument",
	averrorEIO:             "Input/output error",
	averrorENOMEM:          "Cannot allocate memory",
}

func (f *fakeLib) avStrerror(code int32, buf *byte, size uintptr) int32 {
	msg, ok := fakeErrors[code]
	if !ok {
		msg = fmt.Sprintf("Error number %d occurred", code)
	}
	dst := unsafe.Slice(buf, size)
	n := copy(dst[:size-1], msg)
	dst[n] = 0
	if !ok {
		return -1
	}
	return 0
}

func (f *fakeLib) avDictSet(pm *uintptr, key, value string, flags int32) int32 {
	if *pm == 0 {
		*pm = f.alloc(16, "dict")
		f.dicts[*pm] = &fakeDict{}
	}
	d := f.dicts[*pm]
	entry := f.mem.alloc(int(unsafe.Sizeof(avDictEntry{})))
	e := dictEntryAt(entry)
	e.key, e.value = f.cstring(key), f.cstring(value)
	for i, old := range d.entries {
		if strings.EqualFold(goStringFromPtr(dictEntryAt(old).key), key) {
			d.entries[i] = entry
			return 0
		}
	}
	d.entries = append(d.entries, entry)
	return 0
}

func (f *fakeLib) avDictGet(m uintptr, key string, prev uintptr, flags int32) uintptr {
	d, ok := f.dicts[m]
	if !ok {
		return 0
	}
	start := 0
	if prev != 0 {
		start = slices.Index(d.entries, prev) + 1
	}
	for _, e := range d.entries[start:] {
		k := goStringFromPtr(dictEntryAt(e).key)
		var match bool
		switch {
		case flags&avDictIgnoreSuffix != 0 && flags&avDictMatchCase != 0:
			match = strings.HasPrefix(k, key)
		case flags&avDictIgnoreSuffix != 0:
			match = len(k) >= len(key) && strings.EqualFold(k[:len(key)], key)
		case flags&avDictMatchCase != 0:
			match = k == key
		default:
			match = strings.EqualFold(k, key)
		}
		if match {
			return e
		}
	}
	return 0
}

func (f *fakeLib) avDictFree(pm *uintptr) {
	if *pm == 0 {
		return
	}
	delete(f.dicts, *pm)
	f.free(*pm, "av_dict_free")
	*pm = 0
}

// consumeOptions removes the known keys from *pm and replaces it with a
// fresh dictionary of the rest, as avcodec_open2 does.
func (f *fakeLib) consumeOptions(pm *uintptr, known ...string) {
	if pm == nil || *pm == 0 {
		return
	}
	var left uintptr
	for _, e := range f.dicts[*pm].entries {
		k := goStringFromPtr(dictEntryAt(e).key)
		if !slices.Contains(known, k) {
			f.avDictSet(&left, k, goStringFromPtr(dictEntryAt(e).value), 0)
		}
	}
	f.avDictFree(pm)
	*pm = left
}

func (f *fakeLib) avOptGetDouble(obj uintptr, name string, flags int32, out *float64) int32 {
	if _, ok := f.decoders[obj]; !ok {
		return averrorEINVAL
	}
	c := f.cc(obj)
	switch name {
	case "ar":
		*out = float64(*c.sampleRate)
	case "ac":
		*out = float64(*c.channels)
	default:
		return averrorOptionNotFound
	}
	return 0
}

func (f *fakeLib) avOptGetQ(obj uintptr, name string, flags int32, out *Rational) int32 {
	if _, ok := f.decoders[obj]; !ok {
		return averrorEINVAL
	}
	if name != "time_base" {
		return averrorOptionNotFound
	}
	*out = *f.cc(obj).timeBase
	return 0
}

func (f *fakeLib) avSamplesGetBufferSize(linesize *int32, channels, samples, format, align int32) int32 {
	sf := SampleFormat(format)
	bps := int32(sf.BytesPerSample())
	if bps == 0 || channels <= 0 || samples <= 0 {
		return averrorEINVAL
	}
	line, total := samples*channels*bps, samples*channels*bps
	if sf.IsPlanar() {
		line = samples * bps
	}
	if linesize != nil {
		*linesize = line
	}
	return total
}

func (f *fakeLib) avFrameAlloc() uintptr {
	return f.alloc(int(unsafe.Sizeof(avFrame{})), "frame")
}

func (f *fakeLib) avFrameFree(pf *uintptr) {
	if *pf == 0 {
		return
	}
	f.free(*pf, "av_frame_free")
	*pf = 0
}

// libavcodec

func (f *fakeLib) avcodecVersion() uint32 {
	f.versionCalls++
	return f.cfg.version
}

func (f *fakeLib) avcodecFindDecoder(id int32) uintptr {
	cid := CodecID(id)
	switch cid {
	case CodecIDPCMS16LE, CodecIDPCMU8, CodecIDPCMS32LE, CodecIDPCMF32LE:
	default:
		return 0
	}
	if p, ok := f.codecs[cid]; ok {
		return p
	}
	p := f.mem.alloc(int(unsafe.Sizeof(avCodec{})))
	c := codecAt(p)
	c.name = f.cstring(cid.String())
	c.longName = f.cstring("PCM " + cid.String())
	c.mediaType = int32(MediaTypeAudio)
	c.id = id
	f.codecs[cid] = p
	return p
}

func (f *fakeLib) avcodecAllocContext3(codec uintptr) uintptr {
	ptr := f.alloc(f.codecContextSize(), "codec_context")
	dec := &fakeDecoder{wav: wavFormat{audioFormat: 1, channels: 1, sampleRate: 8000, blockAlign: 2, bits: 16}}
	f.decoders[ptr] = dec
	f.setupCodecContext(ptr, dec)
	if codec != 0 {
		c := f.cc(ptr)
		*c.codecID = codecAt(codec).id
		*c.codecType = codecAt(codec).mediaType
	}
	return ptr
}

func (f *fakeLib) avcodecOpen2(ctx, codec uintptr, opts *uintptr) int32 {
	dec, ok := f.decoders[ctx]
	if !ok || codec == 0 || dec.open {
		return averrorEINVAL
	}
	f.consumeOptions(opts, "threads", "refcounted_frames")

	c := f.cc(ctx)
	dec.requested = *c.requestSampleFmt
	dec.outFmt = dec.wav.sampleFormat()
	if f.cfg.planarOutput {
		dec.outFmt = dec.outFmt.Planar()
	}
	*c.sampleFmt = int32(dec.outFmt)
	dec.warmup = f.cfg.warmupCalls
	dec.open = true
	return 0
}

func (f *fakeLib) avcodecClose(ctx uintptr) int32 {
	dec, ok := f.decoders[ctx]
	if !ok {
		f.t.Errorf("avcodec_close: unknown context %#x", ctx)
		return averrorEINVAL
	}
	f.releaseFrameBuffers(dec)
	dec.open = false
	f.log = append(f.log, "avcodec_close")
	return 0
}

func (f *fakeLib) releaseFrameBuffers(dec *fakeDecoder) {
	for _, b := range dec.buffers {
		f.drop(b)
	}
	dec.buffers = dec.buffers[:0]
}

func (f *fakeLib) avcodecGetFrameDefaults(frame uintptr) {
	*frameAt(frame) = avFrame{}
	fr := frameAt(frame)
	fr.pts, fr.pktPts, fr.pktDts = avNoPTS, avNoPTS, avNoPTS
	fr.format = -1
}

func (f *fakeLib) avcodecDefaultGetBuffer(ctx, frame uintptr) int32 {
	f.getBufferCalls++
	dec, ok := f.decoders[ctx]
	if !ok {
		return averrorEINVAL
	}
	fr := frameAt(frame)
	sf := SampleFormat(fr.format)
	bps := sf.BytesPerSample()
	ch := int(*f.cc(ctx).channels)
	if bps == 0 || fr.nbSamples <= 0 || ch <= 0 {
		return averrorEINVAL
	}
	planes, per := 1, int(fr.nbSamples)*ch*bps
	if sf.IsPlanar() {
		planes, per = ch, int(fr.nbSamples)*bps
	}
	for i := range planes {
		buf := f.alloc(per+InputPaddingSize, "frame_buffer")
		dec.buffers = append(dec.buffers, buf)
		fr.data[i] = buf
		fr.linesize[i] = int32(per)
	}
	return 0
}

// avcodecDefaultReleaseBuffer frees the planes one default get_buffer call
// attached to frame.
func (f *fakeLib) avcodecDefaultReleaseBuffer(ctx, frame uintptr) {
	f.releaseBufferCalls++
	dec, ok := f.decoders[ctx]
	if !ok {
		f.t.Errorf("release_buffer: unknown context %#x", ctx)
		return
	}
	fr := frameAt(frame)
	for i, p := range fr.data {
		if p == 0 {
			continue
		}
		idx := slices.Index(dec.buffers, p)
		if idx < 0 {
			f.t.Errorf("release_buffer: plane %d %#x was not allocated by get_buffer", i, p)
			continue
		}
		dec.buffers = slices.Delete(dec.buffers, idx, idx+1)
		f.free(p, "avcodec_default_release_buffer")
		fr.data[i], fr.linesize[i] = 0, 0
	}
}

// getBuffer calls whatever allocator the context's get_buffer field holds.
func (f *fakeLib) getBuffer(ctx, frame uintptr) int32 {
	cb := *f.cc(ctx).getBuffer
	if cb == 0 {
		return f.avcodecDefaultGetBuffer(ctx, frame)
	}
	fn, ok := f.callbacks[cb].(func(uintptr, uintptr) int32)
	if !ok {
		f.t.Errorf("get_buffer %#x is not a registered callback", cb)
		return averrorEINVAL
	}
	return fn(ctx, frame)
}

func (f *fakeLib) avcodecDecodeAudio4(ctx, frame uintptr, got *int32, pkt uintptr) int32 {
	f.decodeCalls++
	*got = 0
	dec, ok := f.decoders[ctx]
	if !ok || !dec.open {
		return averrorEINVAL
	}
	p := f.pk(pkt)
	size := int(*p.size)
	if size <= 0 {
		return 0
	}
	seq := *p.pts
	if f.cfg.corruptFrom >= 0 && seq >= f.cfg.corruptFrom {
		return averrorInvalidData
	}
	if seq == f.cfg.stallPacket {
		return 0
	}

	block := int(dec.wav.blockAlign)
	consumed := min(size, f.cfg.maxFrameSamples*block)
	whole := consumed - consumed%block
	dec.pending = append(dec.pending, nativeBytes(*p.data, whole)...)
	if dec.warmup > 0 {
		dec.warmup--
		return int32(consumed)
	}
	if len(dec.pending) == 0 {
		return int32(consumed)
	}

	f.releaseFrameBuffers(dec)
	ch := int(dec.wav.channels)
	samples := len(dec.pending) / block
	fr := frameAt(frame)
	fr.nbSamples = int32(samples)
	fr.format = int32(dec.outFmt)
	fr.sampleRate = int32(dec.wav.sampleRate)
	fr.channels = int32(ch)
	fr.channelLayout = *f.cc(ctx).channelLayout
	fr.pts, fr.pktPts, fr.pktDts = seq, seq, *p.dts
	if ret := f.getBuffer(ctx, frame); ret < 0 {
		return ret
	}

	if dec.outFmt.IsPlanar() && ch > 1 {
		bps := dec.outFmt.BytesPerSample()
		for c := range ch {
			plane := nativeBytes(fr.data[c], samples*bps)
			for s := range samples {
				copy(plane[s*bps:(s+1)*bps], dec.pending[s*block+c*bps:])
			}
		}
	} else {
		copy(nativeBytes(fr.data[0], len(dec.pending)), dec.pending)
	}
	dec.pending = dec.pending[:0]
	*got = 1
	return int32(consumed)
}

func (f *fakeLib) avInitPacket(pkt uintptr) {
	if _, ok := f.allocs[pkt]; ok {
		f.allocs[pkt] = "packet"
	}
	p := f.pk(pkt)
	*p.pts, *p.dts, *p.pos = avNoPTS, avNoPTS, -1
	*p.streamIndex, *p.duration = 0, 0
	switch f.layout {
	case layoutLavc54:
		r := (*packetLavc54)(unsafe.Pointer(pkt))
		r.flags, r.sideData, r.sideDataElems, r.destruct, r.private = 0, 0, 0, 0, 0
	case layoutLavc56:
		r := (*packetLavc56)(unsafe.Pointer(pkt))
		r.buf, r.flags, r.sideData, r.sideDataElems, r.destruct, r.private = 0, 0, 0, 0, 0, 0
	}
}

func (f *fakeLib) avFreePacket(pkt uintptr) {
	p := f.pk(pkt)
	if data := *p.data; data != 0 {
		if !f.packetData[data] {
			f.t.Errorf("av_free_packet: data %#x is not a pointer the demuxer produced", data)
		} else {
			delete(f.packetData, data)
			f.free(data, "av_free_packet")
		}
	}
	*p.data, *p.size = 0, 0
}

// libavformat

func (f *fakeLib) avformatAllocContext() uintptr {
	return f.alloc(int(unsafe.Sizeof(formatContext{})), "format_context")
}

func (f *fakeLib) avioAllocContext(buf uintptr, size, writeFlag int32, opaque, read, write, seek uintptr) uintptr {
	if _, ok := f.allocs[buf]; !ok {
		f.t.Errorf("avio_alloc_context: buffer %#x not from av_malloc", buf)
	} else {
		f.allocs[buf] = "avio_buffer"
	}
	if read == 0 {
		f.t.Errorf("avio_alloc_context: no read callback")
	}
	p := f.alloc(int(unsafe.Sizeof(avioContext{})), "avio_context")
	r := avioAt(p)
	r.buffer, r.bufferSize = buf, size
	f.avio[p] = &fakeAVIO{opaque: opaque, read: read, write: write, seek: seek}
	return p
}

// fill pulls input through the custom I/O read callback until n bytes are
// buffered or the input ends.
func (f *fakeLib) fill(dm *fakeDemux, n int) {
	for len(dm.buffered) < n && !dm.eof {
		cb := f.avio[dm.pb]
		read, ok := f.callbacks[cb.read].(func(uintptr, uintptr, int32) int32)
		if !ok {
			f.t.Errorf("avio read %#x is not a registered callback", cb.read)
			dm.eof = true
			return
		}
		rec := avioAt(dm.pb)
		ret := read(cb.opaque, rec.buffer, rec.bufferSize)
		switch {
		case ret == averrorEOF || ret == 0:
			dm.eof = true
		case ret < 0:
			dm.eof, dm.ioErr = true, ret
		default:
			dm.buffered = append(dm.buffered, nativeBytes(rec.buffer, int(ret))...)
		}
	}
}

func (dm *fakeDemux) take(n int) []byte {
	n = min(n, len(dm.buffered))
	out := dm.buffered[:n:n]
	dm.buffered = dm.buffered[n:]
	return out
}

func (f *fakeLib) parseWAV(dm *fakeDemux) int32 {
	f.fill(dm, 12)
	hdr := dm.take(12)
	if len(hdr) < 12 || string(hdr[:4]) != "RIFF" || string(hdr[8:]) != "WAVE" {
		return f.demuxFailure(dm)
	}
	var haveFmt bool
	for {
		f.fill(dm, 8)
		chunk := dm.take(8)
		if len(chunk) < 8 {
			return f.demuxFailure(dm)
		}
		id, size := string(chunk[:4]), int(binary.LittleEndian.Uint32(chunk[4:]))
		switch id {
		case "fmt ":
			f.fill(dm, size)
			body := dm.take(size)
			if len(body) < 16 {
				return f.demuxFailure(dm)
			}
			dm.wav = wavFormat{
				audioFormat: binary.LittleEndian.Uint16(body[0:]),
				channels:    binary.LittleEndian.Uint16(body[2:]),
				sampleRate:  binary.LittleEndian.Uint32(body[4:]),
				blockAlign:  binary.LittleEndian.Uint16(body[12:]),
				bits:        binary.LittleEndian.Uint16(body[14:]),
			}
			haveFmt = dm.wav.sampleFormat() != SampleFormatNone && dm.wav.blockAlign > 0
		case "data":
			if !haveFmt {
				return averrorInvalidData
			}
			dm.dataLeft = size
			return 0
		default:
			f.fill(dm, size+size&1)
			dm.take(size + size&1)
		}
	}
}

func (f *fakeLib) demuxFailure(dm *fakeDemux) int32 {
	if dm.ioErr != 0 {
		return averrorEIO
	}
	return averrorInvalidData
}

func (f *fakeLib) avformatOpenInput(ps *uintptr, url string, fmtPtr uintptr, opts *uintptr) int32 {
	ctx := *ps
	if ctx == 0 {
		return -2 // ENOENT, only custom I/O is simulated
	}
	fc := formatAt(ctx)
	if fc.flags&avfmtFlagCustomIO == 0 || fc.pb == 0 {
		f.t.Errorf("avformat_open_input: context without custom I/O")
	}

	dm := &fakeDemux{pb: fc.pb}
	if ret := f.parseWAV(dm); ret < 0 {
		f.free(ctx, "avformat_open_input")
		*ps = 0
		return ret
	}
	f.consumeOptions(opts, "probesize", "analyzeduration")

	if f.cfg.reallocIOBuffer {
		rec := avioAt(fc.pb)
		old := rec.buffer
		rec.buffer = f.alloc(int(rec.bufferSize), "avio_buffer")
		f.free(old, "avio_realloc")
	}

	kinds := []bool{false} // true for video
	switch {
	case f.cfg.videoOnly:
		kinds = []bool{true}
	case f.cfg.leadingVideo:
		kinds = []bool{true, false}
	}
	dm.streamArray = f.alloc(len(kinds)*int(unsafe.Sizeof(uintptr(0))), "stream_array")
	for i, video := range kinds {
		s := f.alloc(int(unsafe.Sizeof(avStream{})), "stream")
		st := streamAt(s)
		st.index = int32(i)
		cc := f.alloc(f.codecContextSize(), "stream_codec_context")
		dec := &fakeDecoder{wav: dm.wav, video: video}
		f.decoders[cc] = dec
		f.setupCodecContext(cc, dec)
		st.codec = cc
		st.timeBase = *f.cc(cc).timeBase
		*(*uintptr)(unsafe.Pointer(dm.streamArray + uintptr(i)*unsafe.Sizeof(uintptr(0)))) = s
		dm.streams = append(dm.streams, s)
		if video {
			dm.videoIndex = i
		} else {
			dm.audioIndex = i
		}
	}
	fc.nbStreams = uint32(len(kinds))
	fc.streams = dm.streamArray
	f.avDictSet(&fc.metadata, "encoder", "fakelib", 0)
	f.avDictSet(&fc.metadata, "title", "fixture", 0)

	f.demux[ctx] = dm
	return 0
}

func (f *fakeLib) avformatFindStreamInfo(ctx uintptr, opts uintptr) int32 {
	dm, ok := f.demux[ctx]
	if !ok {
		return averrorEINVAL
	}
	if f.cfg.probeFail {
		return averrorInvalidData
	}
	if opts != 0 {
		for i := range dm.streams {
			slot := (*uintptr)(unsafe.Pointer(opts + uintptr(i)*unsafe.Sizeof(uintptr(0))))
			f.consumeOptions(slot, "threads")
		}
	}
	return 0
}

func (f *fakeLib) avReadFrame(ctx, pkt uintptr) int32 {
	dm, ok := f.demux[ctx]
	if !ok {
		return averrorEINVAL
	}
	p := f.pk(pkt)
	if f.packetData[*p.data] {
		f.t.Errorf("av_read_frame: packet still holds demuxed data")
	}
	if f.cfg.videoOnly {
		return averrorEOF
	}

	var payload []byte
	stream, pts := dm.audioIndex, int64(avNoPTS)
	if f.cfg.leadingVideo && !dm.videoTurn && dm.dataLeft > 0 {
		payload = []byte{0, 0, 0, 1, 0x65, 0x88}
		stream = dm.videoIndex
		dm.videoTurn = true
	} else {
		block := int(dm.wav.blockAlign)
		want := min(f.cfg.packetBytes, dm.dataLeft)
		f.fill(dm, want)
		payload = dm.take(want)
		if len(payload) < want {
			dm.dataLeft = 0
		} else {
			dm.dataLeft -= want
		}
		payload = payload[:len(payload)-len(payload)%block]
		if len(payload) == 0 {
			if dm.ioErr != 0 {
				return averrorEIO
			}
			return averrorEOF
		}
		pts = dm.seq
		dm.seq++
		dm.videoTurn = false
	}

	data := f.alloc(len(payload)+InputPaddingSize, "packet_data")
	copy(nativeBytes(data, len(payload)), payload)
	f.packetData[data] = true
	*p.data, *p.size = data, int32(len(payload))
	*p.streamIndex = int32(stream)
	*p.pts, *p.dts = pts, pts
	*p.duration = int32(len(payload))
	return 0
}

func (f *fakeLib) avformatCloseInput(ps *uintptr) {
	ctx := *ps
	dm, ok := f.demux[ctx]
	if !ok {
		f.t.Errorf("avformat_close_input: unknown context %#x", ctx)
		return
	}
	fc := formatAt(ctx)
	if _, alive := f.allocs[fc.pb]; !alive {
		f.t.Errorf("avformat_close_input: custom I/O context already freed")
	}
	for _, s := range dm.streams {
		cc := streamAt(s).codec
		if f.decoders[cc].open {
			f.t.Errorf("avformat_close_input: stream %d decoder still open", streamAt(s).index)
		}
		delete(f.decoders, cc)
		f.drop(cc)
		f.drop(s)
	}
	f.drop(dm.streamArray)
	if fc.metadata != 0 {
		delete(f.dicts, fc.metadata)
		f.drop(fc.metadata)
	}
	delete(f.demux, ctx)
	f.free(ctx, "avformat_close_input")
	*ps = 0
}

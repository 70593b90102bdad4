package libav

import (
	"fmt"
	"unsafe"
)

// Rational mirrors AVRational.
type Rational struct {
	Num int32
	Den int32
}

// Float returns r as a float64, or 0 for a zero denominator.
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Records below mirror the C declarations of the supported libav* releases
// field for field. Records whose tail is never touched are declared up to
// the last field read; those are only ever allocated by the native side.

// codecContextLavc54 is the AVCodecContext prefix for libavcodec before 56.13.100.
type codecContextLavc54 struct {
	avClass               uintptr
	logLevelOffset        int32
	codecType             int32
	codec                 uintptr
	codecName             [32]byte
	codecID               int32
	codecTag              uint32
	streamCodecTag        uint32
	subID                 int32
	privData              uintptr
	internal              uintptr
	opaque                uintptr
	bitRate               int32
	bitRateTolerance      int32
	globalQuality         int32
	compressionLevel      int32
	flags                 int32
	flags2                int32
	extradata             uintptr
	extradataSize         int32
	timeBase              Rational
	ticksPerFrame         int32
	delay                 int32
	width                 int32
	height                int32
	codedWidth            int32
	codedHeight           int32
	gopSize               int32
	pixFmt                int32
	meMethod              int32
	drawHorizBand         uintptr
	getFormat             uintptr
	maxBFrames            int32
	bQuantFactor          float32
	rcStrategy            int32
	bFrameStrategy        int32
	lumaElimThreshold     int32
	chromaElimThreshold   int32
	bQuantOffset          float32
	hasBFrames            int32
	mpegQuant             int32
	iQuantFactor          float32
	iQuantOffset          float32
	lumiMasking           float32
	temporalCplxMasking   float32
	spatialCplxMasking    float32
	pMasking              float32
	darkMasking           float32
	sliceCount            int32
	predictionMethod      int32
	sliceOffset           uintptr
	sampleAspectRatio     Rational
	meCmp                 int32
	meSubCmp              int32
	mbCmp                 int32
	ildctCmp              int32
	diaSize               int32
	lastPredictorCount    int32
	preMe                 int32
	mePreCmp              int32
	preDiaSize            int32
	meSubpelQuality       int32
	dtgActiveFormat       int32
	meRange               int32
	intraQuantBias        int32
	interQuantBias        int32
	colorTableID          int32
	sliceFlags            int32
	xvmcAcceleration      int32
	mbDecision            int32
	intraMatrix           uintptr
	interMatrix           uintptr
	scenechangeThreshold  int32
	noiseReduction        int32
	interThreshold        int32
	quantizerNoiseShaping int32
	meThreshold           int32
	mbThreshold           int32
	intraDcPrecision      int32
	skipTop               int32
	skipBottom            int32
	borderMasking         float32
	mbLmin                int32
	mbLmax                int32
	mePenaltyCompensation int32
	bidirRefine           int32
	brdScale              int32
	keyintMin             int32
	refs                  int32
	chromaoffset          int32
	scenechangeFactor     int32
	mv0Threshold          int32
	bSensitivity          int32
	colorPrimaries        int32
	colorTrc              int32
	colorspace            int32
	colorRange            int32
	chromaSampleLocation  int32
	slices                int32
	fieldOrder            int32
	sampleRate            int32
	channels              int32
	sampleFmt             int32
	frameSize             int32
	frameNumber           int32
	blockAlign            int32
	cutoff                int32
	requestChannels       int32
	channelLayout         uint64
	requestChannelLayout  uint64
	audioServiceType      int32
	requestSampleFmt      int32
	getBuffer             uintptr
	releaseBuffer         uintptr
	regetBuffer           uintptr
	getBuffer2            uintptr
}

// codecContextLavc56 is the AVCodecContext prefix for libavcodec 56.13.100 and newer.
type codecContextLavc56 struct {
	avClass               uintptr
	logLevelOffset        int32
	codecType             int32
	codec                 uintptr
	codecName             [32]byte
	codecID               int32
	codecTag              uint32
	streamCodecTag        uint32
	privData              uintptr
	internal              uintptr
	opaque                uintptr
	bitRate               int32
	bitRateTolerance      int32
	globalQuality         int32
	compressionLevel      int32
	flags                 int32
	flags2                int32
	extradata             uintptr
	extradataSize         int32
	timeBase              Rational
	ticksPerFrame         int32
	delay                 int32
	width                 int32
	height                int32
	codedWidth            int32
	codedHeight           int32
	gopSize               int32
	pixFmt                int32
	meMethod              int32
	drawHorizBand         uintptr
	getFormat             uintptr
	maxBFrames            int32
	bQuantFactor          float32
	rcStrategy            int32
	bFrameStrategy        int32
	bQuantOffset          float32
	hasBFrames            int32
	mpegQuant             int32
	iQuantFactor          float32
	iQuantOffset          float32
	lumiMasking           float32
	temporalCplxMasking   float32
	spatialCplxMasking    float32
	pMasking              float32
	darkMasking           float32
	sliceCount            int32
	predictionMethod      int32
	sliceOffset           uintptr
	sampleAspectRatio     Rational
	meCmp                 int32
	meSubCmp              int32
	mbCmp                 int32
	ildctCmp              int32
	diaSize               int32
	lastPredictorCount    int32
	preMe                 int32
	mePreCmp              int32
	preDiaSize            int32
	meSubpelQuality       int32
	dtgActiveFormat       int32
	meRange               int32
	intraQuantBias        int32
	interQuantBias        int32
	sliceFlags            int32
	xvmcAcceleration      int32
	mbDecision            int32
	intraMatrix           uintptr
	interMatrix           uintptr
	scenechangeThreshold  int32
	noiseReduction        int32
	meThreshold           int32
	mbThreshold           int32
	intraDcPrecision      int32
	skipTop               int32
	skipBottom            int32
	borderMasking         float32
	mbLmin                int32
	mbLmax                int32
	mePenaltyCompensation int32
	bidirRefine           int32
	brdScale              int32
	keyintMin             int32
	refs                  int32
	chromaoffset          int32
	scenechangeFactor     int32
	mv0Threshold          int32
	bSensitivity          int32
	colorPrimaries        int32
	colorTrc              int32
	colorspace            int32
	colorRange            int32
	chromaSampleLocation  int32
	slices                int32
	fieldOrder            int32
	sampleRate            int32
	channels              int32
	sampleFmt             int32
	frameSize             int32
	frameNumber           int32
	blockAlign            int32
	cutoff                int32
	requestChannels       int32
	channelLayout         uint64
	requestChannelLayout  uint64
	audioServiceType      int32
	requestSampleFmt      int32
	getBuffer             uintptr
	releaseBuffer         uintptr
	regetBuffer           uintptr
	getBuffer2            uintptr
}

// packetLavc54 is AVPacket for libavcodec before 56.13.100.
type packetLavc54 struct {
	pts                 int64
	dts                 int64
	data                uintptr
	size                int32
	streamIndex         int32
	flags               int32
	sideData            uintptr
	sideDataElems       int32
	duration            int32
	destruct            uintptr
	private             uintptr
	pos                 int64
	convergenceDuration int64
}

// packetLavc56 is AVPacket for libavcodec 56.13.100 and newer.
type packetLavc56 struct {
	buf                 uintptr
	pts                 int64
	dts                 int64
	data                uintptr
	size                int32
	streamIndex         int32
	flags               int32
	sideData            uintptr
	sideDataElems       int32
	duration            int32
	destruct            uintptr
	private             uintptr
	pos                 int64
	convergenceDuration int64
}

// avFrame has a single layout across the supported range.
type avFrame struct {
	data                  [8]uintptr
	linesize              [8]int32
	extendedData          uintptr
	width                 int32
	height                int32
	nbSamples             int32
	format                int32
	keyframe              int32
	pictType              int32
	base                  [8]uintptr
	sampleAspectRatio     Rational
	pts                   int64
	pktPts                int64
	pktDts                int64
	codedPictureNumber    int32
	displayPictureNumber  int32
	quality               int32
	reference             int32
	qscaleTable           uintptr
	qstride               int32
	qscaleType            int32
	mbskipTable           uintptr
	motionVal             [2][2]uintptr
	mbType                uintptr
	dctCoeff              uintptr
	refIndex              [2]uintptr
	opaque                uintptr
	errorSSE              [8]uint64
	frameType             int32
	repeatPict            int32
	interlacedFrame       int32
	topFieldFirst         int32
	paletteHasChanged     int32
	bufferHints           int32
	panScan               uintptr
	reorderedOpaque       int64
	hwaccelPicturePrivate uintptr
	owner                 uintptr
	threadOpaque          uintptr
	motionSubsampleLog2   uint8
	sampleRate            int32
	channelLayout         uint64
	buf                   [8]uintptr
	extendedBuf           uintptr
	nbExtendedBuf         int32
	sideData              uintptr
	nbSideData            int32
	flags                 int32
	bestEffortTimestamp   int64
	pktPos                int64
	pktDuration           int64
	metadata              uintptr
	decodeErrorFlags      int32
	channels              int32
	pktSize               int32
	colorspace            int32
	colorRange            int32
	qpTableBuf            uintptr
}

// formatContext is the AVFormatContext prefix up to metadata.
type formatContext struct {
	avClass            uintptr
	iformat            uintptr
	oformat            uintptr
	privData           uintptr
	pb                 uintptr
	ctxFlags           int32
	nbStreams          uint32
	streams            uintptr
	filename           [1024]byte
	startTime          int64
	duration           int64
	bitRate            int32
	packetSize         uint32
	maxDelay           int32
	flags              int32
	probesize          uint32
	maxAnalyzeDuration int32
	key                uintptr
	keylen             int32
	nbPrograms         uint32
	programs           uintptr
	videoCodecID       int32
	audioCodecID       int32
	subtitleCodecID    int32
	maxIndexSize       uint32
	maxPictureBuffer   uint32
	nbChapters         uint32
	chapters           uintptr
	metadata           uintptr
}

type avFrac struct {
	val, num, den int64
}

// avStream is the AVStream prefix up to time_base.
type avStream struct {
	index    int32
	id       int32
	codec    uintptr
	privData uintptr
	pts      avFrac
	timeBase Rational
}

// avioContext is the AVIOContext prefix.
type avioContext struct {
	avClass    uintptr
	buffer     uintptr
	bufferSize int32
}

// avCodec is the AVCodec prefix, stable across the supported range.
type avCodec struct {
	name      uintptr
	longName  uintptr
	mediaType int32
	id        int32
}

type avDictEntry struct {
	key   uintptr
	value uintptr
}

const (
	numDataPointers = 8

	// avfmtFlagCustomIO marks a format context whose pb is owned by the caller.
	avfmtFlagCustomIO = 0x0080

	avDictMatchCase    = 1
	avDictIgnoreSuffix = 2
)

func badLayout(id layoutID) string {
	return fmt.Sprintf("libav: record accessed with unknown layout %s", id)
}

// codecContextRef is an AVCodecContext tagged with the layout it was
// allocated with. The tag comes from the owning Library and never changes.
type codecContextRef struct {
	layout layoutID
	ptr    uintptr
}

func (c codecContextRef) lavc54() *codecContextLavc54 {
	return (*codecContextLavc54)(unsafe.Pointer(c.ptr))
}

func (c codecContextRef) lavc56() *codecContextLavc56 {
	return (*codecContextLavc56)(unsafe.Pointer(c.ptr))
}

func (c codecContextRef) codecType() *int32 {
	switch c.layout {
	case layoutLavc54:
		return &c.lavc54().codecType
	case layoutLavc56:
		return &c.lavc56().codecType
	}
	panic(badLayout(c.layout))
}

func (c codecContextRef) codecID() *int32 {
	switch c.layout {
	case layoutLavc54:
		return &c.lavc54().codecID
	case layoutLavc56:
		return &c.lavc56().codecID
	}
	panic(badLayout(c.layout))
}

func (c codecContextRef) opaque() *uintptr {
	switch c.layout {
	case layoutLavc54:
		return &c.lavc54().opaque
	case layoutLavc56:
		return &c.lavc56().opaque
	}
	panic(badLayout(c.layout))
}

func (c codecContextRef) extradata() (*uintptr, *int32) {
	switch c.layout {
	case layoutLavc54:
		r := c.lavc54()
		return &r.extradata, &r.extradataSize
	case layoutLavc56:
		r := c.lavc56()
		return &r.extradata, &r.extradataSize
	}
	panic(badLayout(c.layout))
}

func (c codecContextRef) timeBase() *Rational {
	switch c.layout {
	case layoutLavc54:
		return &c.lavc54().timeBase
	case layoutLavc56:
		return &c.lavc56().timeBase
	}
	panic(badLayout(c.layout))
}

func (c codecContextRef) sampleRate() *int32 {
	switch c.layout {
	case layoutLavc54:
		return &c.lavc54().sampleRate
	case layoutLavc56:
		return &c.lavc56().sampleRate
	}
	panic(badLayout(c.layout))
}

func (c codecContextRef) channels() *int32 {
	switch c.layout {
	case layoutLavc54:
		return &c.lavc54().channels
	case layoutLavc56:
		return &c.lavc56().channels
	}
	panic(badLayout(c.layout))
}

func (c codecContextRef) sampleFmt() *int32 {
	switch c.layout {
	case layoutLavc54:
		return &c.lavc54().sampleFmt
	case layoutLavc56:
		return &c.lavc56().sampleFmt
	}
	panic(badLayout(c.layout))
}

func (c codecContextRef) frameSize() *int32 {
	switch c.layout {
	case layoutLavc54:
		return &c.lavc54().frameSize
	case layoutLavc56:
		return &c.lavc56().frameSize
	}
	panic(badLayout(c.layout))
}

func (c codecContextRef) channelLayout() *uint64 {
	switch c.layout {
	case layoutLavc54:
		return &c.lavc54().channelLayout
	case layoutLavc56:
		return &c.lavc56().channelLayout
	}
	panic(badLayout(c.layout))
}

func (c codecContextRef) requestSampleFmt() *int32 {
	switch c.layout {
	case layoutLavc54:
		return &c.lavc54().requestSampleFmt
	case layoutLavc56:
		return &c.lavc56().requestSampleFmt
	}
	panic(badLayout(c.layout))
}

func (c codecContextRef) getBuffer() *uintptr {
	switch c.layout {
	case layoutLavc54:
		return &c.lavc54().getBuffer
	case layoutLavc56:
		return &c.lavc56().getBuffer
	}
	panic(badLayout(c.layout))
}

// packetRef is an AVPacket tagged with its layout.
type packetRef struct {
	layout layoutID
	ptr    uintptr
}

func (p packetRef) lavc54() *packetLavc54 {
	return (*packetLavc54)(unsafe.Pointer(p.ptr))
}

func (p packetRef) lavc56() *packetLavc56 {
	return (*packetLavc56)(unsafe.Pointer(p.ptr))
}

// size returns the byte size of the record for allocation from Go.
func (p packetRef) size() uintptr {
	return packetSize(p.layout)
}

func packetSize(layout layoutID) uintptr {
	switch layout {
	case layoutLavc54:
		return unsafe.Sizeof(packetLavc54{})
	case layoutLavc56:
		return unsafe.Sizeof(packetLavc56{})
	}
	panic(badLayout(layout))
}

func (p packetRef) data() *uintptr {
	switch p.layout {
	case layoutLavc54:
		return &p.lavc54().data
	case layoutLavc56:
		return &p.lavc56().data
	}
	panic(badLayout(p.layout))
}

func (p packetRef) dataSize() *int32 {
	switch p.layout {
	case layoutLavc54:
		return &p.lavc54().size
	case layoutLavc56:
		return &p.lavc56().size
	}
	panic(badLayout(p.layout))
}

func (p packetRef) streamIndex() *int32 {
	switch p.layout {
	case layoutLavc54:
		return &p.lavc54().streamIndex
	case layoutLavc56:
		return &p.lavc56().streamIndex
	}
	panic(badLayout(p.layout))
}

func (p packetRef) pts() *int64 {
	switch p.layout {
	case layoutLavc54:
		return &p.lavc54().pts
	case layoutLavc56:
		return &p.lavc56().pts
	}
	panic(badLayout(p.layout))
}

func (p packetRef) dts() *int64 {
	switch p.layout {
	case layoutLavc54:
		return &p.lavc54().dts
	case layoutLavc56:
		return &p.lavc56().dts
	}
	panic(badLayout(p.layout))
}

func (p packetRef) flags() *int32 {
	switch p.layout {
	case layoutLavc54:
		return &p.lavc54().flags
	case layoutLavc56:
		return &p.lavc56().flags
	}
	panic(badLayout(p.layout))
}

func (p packetRef) duration() *int32 {
	switch p.layout {
	case layoutLavc54:
		return &p.lavc54().duration
	case layoutLavc56:
		return &p.lavc56().duration
	}
	panic(badLayout(p.layout))
}

func frameAt(ptr uintptr) *avFrame {
	return (*avFrame)(unsafe.Pointer(ptr))
}

func formatAt(ptr uintptr) *formatContext {
	return (*formatContext)(unsafe.Pointer(ptr))
}

func streamAt(ptr uintptr) *avStream {
	return (*avStream)(unsafe.Pointer(ptr))
}

func avioAt(ptr uintptr) *avioContext {
	return (*avioContext)(unsafe.Pointer(ptr))
}

func codecAt(ptr uintptr) *avCodec {
	return (*avCodec)(unsafe.Pointer(ptr))
}

func dictEntryAt(ptr uintptr) *avDictEntry {
	return (*avDictEntry)(unsafe.Pointer(ptr))
}

// ptrAt reads the i-th pointer of a native pointer array.
func ptrAt(base uintptr, i int) uintptr {
	return *(*uintptr)(unsafe.Pointer(base + uintptr(i)*unsafe.Sizeof(uintptr(0))))
}

package libav

import "fmt"

// CodecID mirrors enum AVCodecID. Only ids this package refers to by name
// are listed; any value reported by the native side is accepted.
type CodecID int32

const (
	CodecIDNone     CodecID = 0
	CodecIDH264     CodecID = 28
	CodecIDPCMS16LE CodecID = 0x10000
	CodecIDPCMS16BE CodecID = 0x10001
	CodecIDPCMU8    CodecID = 0x10005
	CodecIDPCMS32LE CodecID = 0x10008
	CodecIDPCMF32LE CodecID = 0x10015
	CodecIDMP3      CodecID = 0x15001
	CodecIDAAC      CodecID = 0x15002
	CodecIDVorbis   CodecID = 0x15005
	CodecIDFLAC     CodecID = 0x1500C
)

func (c CodecID) String() string {
	switch c {
	case CodecIDNone:
		return "none"
	case CodecIDH264:
		return "h264"
	case CodecIDPCMS16LE:
		return "pcm_s16le"
	case CodecIDPCMS16BE:
		return "pcm_s16be"
	case CodecIDPCMU8:
		return "pcm_u8"
	case CodecIDPCMS32LE:
		return "pcm_s32le"
	case CodecIDPCMF32LE:
		return "pcm_f32le"
	case CodecIDMP3:
		return "mp3"
	case CodecIDAAC:
		return "aac"
	case CodecIDVorbis:
		return "vorbis"
	case CodecIDFLAC:
		return "flac"
	default:
		return fmt.Sprintf("codec(%#x)", int32(c))
	}
}

// MediaType mirrors enum AVMediaType.
type MediaType int32

const (
	MediaTypeUnknown    MediaType = -1
	MediaTypeVideo      MediaType = 0
	MediaTypeAudio      MediaType = 1
	MediaTypeData       MediaType = 2
	MediaTypeSubtitle   MediaType = 3
	MediaTypeAttachment MediaType = 4
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	case MediaTypeData:
		return "data"
	case MediaTypeSubtitle:
		return "subtitle"
	case MediaTypeAttachment:
		return "attachment"
	default:
		return "unknown"
	}
}

// Codec is a registered AVCodec. Codecs are static in the native library
// and are never freed.
type Codec struct {
	lib *Library
	ptr uintptr
}

// FindDecoder looks up the decoder registered for id.
func FindDecoder(lib *Library, id CodecID) (*Codec, error) {
	ptr := lib.avcodecFindDecoder(int32(id))
	if ptr == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDecoderNotFound, id)
	}
	return &Codec{lib: lib, ptr: ptr}, nil
}

func (c *Codec) ID() CodecID          { return CodecID(codecAt(c.ptr).id) }
func (c *Codec) MediaType() MediaType { return MediaType(codecAt(c.ptr).mediaType) }
func (c *Codec) Name() string         { return goStringFromPtr(codecAt(c.ptr).name) }
func (c *Codec) LongName() string     { return goStringFromPtr(codecAt(c.ptr).longName) }

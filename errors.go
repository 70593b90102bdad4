package libav

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by this package matches exactly one
// of ErrConfig, ErrOpen, ErrDecode or ErrIO with errors.Is, except
// end-of-stream which is reported as io.EOF.
var (
	// ErrLibraryUnavailable indicates the FFmpeg shared libraries could not be loaded.
	ErrLibraryUnavailable = errors.New("libav: native library not available")

	// ErrConfig indicates an invalid or unconvertible option. Not retriable.
	ErrConfig = errors.New("libav: invalid configuration")

	// ErrOpen indicates the native library rejected the source while opening or probing.
	ErrOpen = errors.New("libav: open failed")

	// ErrDecode indicates malformed packet data.
	ErrDecode = errors.New("libav: decode failed")

	// ErrIO indicates the managed byte source failed.
	ErrIO = errors.New("libav: i/o failed")

	// ErrClosed is returned by operations on a released object.
	ErrClosed = errors.New("libav: use of closed object")
)

var (
	// ErrStreamNotFound indicates the container holds no stream of the requested type.
	ErrStreamNotFound = fmt.Errorf("%w: stream not found", ErrOpen)

	// ErrDecoderNotFound indicates no decoder is registered for a codec id.
	ErrDecoderNotFound = fmt.Errorf("%w: decoder not found", ErrOpen)

	// ErrPacketPadding indicates a borrowed packet buffer is shorter than InputPaddingSize.
	ErrPacketPadding = fmt.Errorf("%w: packet buffer lacks trailing padding", ErrConfig)

	// ErrSampleFormat indicates the decoder cannot produce the requested sample format.
	ErrSampleFormat = fmt.Errorf("%w: unsupported sample format", ErrConfig)

	// ErrDictionaryConsumed is returned when a dictionary is reused after
	// ownership was handed to the native library.
	ErrDictionaryConsumed = fmt.Errorf("%w: dictionary already consumed", ErrConfig)
)

// Native status codes (AVERROR values) this package interprets.
const (
	averrorEOF             int32 = -('E' | 'O'<<8 | 'F'<<16 | ' '<<24)
	averrorInvalidData     int32 = -('I' | 'N'<<8 | 'D'<<16 | 'A'<<24)
	averrorOptionNotFound  int32 = -(0xF8 | 'O'<<8 | 'P'<<16 | 'T'<<24)
	averrorDecoderNotFound int32 = -(0xF8 | 'D'<<8 | 'E'<<16 | 'C'<<24)
	averrorEINVAL          int32 = -22
	averrorEIO             int32 = -5
	averrorENOMEM          int32 = -12

	// ioFailure is what custom I/O callbacks return on failure.
	ioFailure = -1
)

// Error carries a negative status code returned by the native library.
type Error struct {
	Op   string // native operation, e.g. "avformat_open_input"
	Code int32  // AVERROR value
	Msg  string // av_strerror text, if available

	kind error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("libav: %s failed with code %d", e.Op, e.Code)
	}
	return fmt.Sprintf("libav: %s: %s (%d)", e.Op, e.Msg, e.Code)
}

// Unwrap returns the category sentinel (ErrOpen, ErrDecode, ...).
func (e *Error) Unwrap() error {
	return e.kind
}

// statusError converts a native status into an *Error of the given category.
func (l *Library) statusError(op string, code int32, kind error) error {
	return &Error{Op: op, Code: code, Msg: l.strerror(code), kind: kind}
}

func (l *Library) strerror(code int32) string {
	if l.avStrerror == nil {
		return ""
	}
	buf := make([]byte, 128)
	if l.avStrerror(code, &buf[0], uintptr(len(buf))) < 0 {
		return ""
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// Package libav decodes audio through the FFmpeg shared libraries
// (libavutil, libavcodec, libavformat) loaded at runtime, without cgo.
//
// Key pieces include:
//   - Library: the native function table, loaded once with Load
//   - AudioDecoder: a pull-based stream of decoded samples over any io.Reader
//   - IOContext: custom I/O that routes native reads, writes and seeks to Go
//   - FormatContext, CodecContext, Packet, Frame and Dictionary wrappers
//
// # Architecture
//
//	io.Reader -> IOContext -> FormatContext -> Packet -> CodecContext -> Frame -> AudioDecoder
//
// # Record layouts
//
// AVCodecContext and AVPacket changed layout between libavcodec releases
// without a change in the function signatures. The layout is chosen once
// per Library from avcodec_version():
//
//	54.35.0   <= v < 56.13.100  lavc54 layout
//	56.13.100 <= v              lavc56 layout
//
// Versions older than 54.35.0 fall back to the lavc54 layout and versions
// from 57.0.0 on use the lavc56 layout. Both cases are unverified and log a
// warning when the Library is loaded: field access may silently read the
// wrong memory on such releases.
//
// # Callbacks
//
// Native records never hold Go pointers. Values reachable from native
// callbacks (get_buffer hooks, custom I/O handlers, frame user data) live
// in a per-Library registry and the record's opaque field carries only the
// registry id. Panics inside callbacks are recovered and reported to the
// native side as a failure status.
//
// # Native Libraries
//
// Set LIBAV_LIB_PATH to the directory containing the FFmpeg libraries.
// LIBAV_IO_BUFFER_SIZE and LIBAV_LOG_LEVEL tune the custom I/O buffer and
// the package logger.
package libav

package libav

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Library is one loaded set of FFmpeg shared libraries (libavutil,
// libavcodec, libavformat). Every native record created through a Library
// uses the record layout selected from that library's libavcodec version.
type Library struct {
	cfg Config

	avcodecVersion              func() uint32
	avcodecFindDecoder          func(id int32) uintptr
	avcodecAllocContext3        func(codec uintptr) uintptr
	avcodecOpen2                func(ctx, codec uintptr, opts *uintptr) int32
	avcodecClose                func(ctx uintptr) int32
	avcodecDecodeAudio4         func(ctx, frame uintptr, gotFrame *int32, pkt uintptr) int32
	avcodecDefaultGetBuffer     func(ctx, frame uintptr) int32
	avcodecDefaultReleaseBuffer func(ctx, frame uintptr)
	avcodecGetFrameDefaults     func(frame uintptr)
	avInitPacket                func(pkt uintptr)
	avFreePacket                func(pkt uintptr)
	avFrameAlloc                func() uintptr
	avFrameFree                 func(frame *uintptr)

	avDictSet   func(pm *uintptr, key, value string, flags int32) int32
	avDictGet   func(m uintptr, key string, prev uintptr, flags int32) uintptr
	avDictFree  func(pm *uintptr)
	avOptGetDbl func(obj uintptr, name string, searchFlags int32, out *float64) int32
	avOptGetQ   func(obj uintptr, name string, searchFlags int32, out *Rational) int32

	avSamplesGetBufferSize func(linesize *int32, channels, samples, format, align int32) int32
	avMalloc               func(size uintptr) uintptr
	avFree                 func(ptr uintptr)
	avStrerror             func(code int32, buf *byte, size uintptr) int32

	avformatAllocContext   func() uintptr
	avformatOpenInput      func(ps *uintptr, url string, fmt uintptr, opts *uintptr) int32
	avformatFindStreamInfo func(ctx uintptr, opts uintptr) int32
	avformatCloseInput     func(ps *uintptr)
	avioAllocContext       func(buf uintptr, size, writeFlag int32, opaque, read, write, seek uintptr) uintptr
	avReadFrame            func(ctx, pkt uintptr) int32

	// Optional registration entry points, nil when the library lacks them.
	avRegisterAll      func()
	avcodecRegisterAll func()

	// newCallback turns a Go func into a C function pointer.
	newCallback func(fn any) uintptr

	probe versionProbe
	slots callbackRegistry

	entryOnce sync.Once
	entries   entryPoints

	close func()
}

// entryPoints are the fixed C function pointers handed to the native side.
// They are minted lazily, once per Library, and never released: purego's
// callback table is process-wide and cannot shrink.
type entryPoints struct {
	getBuffer uintptr
	read      uintptr
	write     uintptr
	seek      uintptr
}

var (
	defaultOnce sync.Once
	defaultLib  *Library
	defaultErr  error
)

// Load returns the process-wide Library configured from the environment.
// The shared libraries are loaded on first use only.
func Load() (*Library, error) {
	defaultOnce.Do(func() {
		cfg, err := NewConfigFromEnv()
		if err != nil {
			defaultErr = err
			return
		}
		defaultLib, defaultErr = LoadWithConfig(cfg)
	})
	return defaultLib, defaultErr
}

// IsAvailable reports whether the default Library can be loaded.
func IsAvailable() bool {
	_, err := Load()
	return err == nil
}

// LoadWithConfig loads a fresh Library using cfg.
//
// Each Library that creates an IOContext or installs a get_buffer callback
// permanently consumes four slots of purego's fixed callback table, even
// after Close. Loading Libraries repeatedly in a long lived process will
// eventually exhaust the table and panic; share one Library instead, such
// as the one returned by Load.
func LoadWithConfig(cfg *Config) (*Library, error) {
	if cfg == nil {
		var err error
		if cfg, err = NewConfigFromEnv(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setLogLevel(cfg.logLevel())

	lib, err := openLibrary(cfg)
	if err != nil {
		logFn("LoadWithConfig").WithError(err).Debug("FFmpeg libraries not loaded")
		return nil, err
	}
	lib.init()
	return lib, nil
}

// init runs the registration calls and pins the record layout.
func (l *Library) init() {
	if l.avRegisterAll != nil {
		l.avRegisterAll()
	}
	if l.avcodecRegisterAll != nil {
		l.avcodecRegisterAll()
	}
	v, layout := l.probe.get(l.avcodecVersion)
	logFn("Library.init").WithFields(logrus.Fields{
		"avcodec": v.String(),
		"layout":  layout.String(),
	}).Info("Loaded FFmpeg libraries")
}

// Version returns the libavcodec version, queried once per Library.
func (l *Library) Version() VersionTag {
	v, _ := l.probe.get(l.avcodecVersion)
	return v
}

func (l *Library) layout() layoutID {
	_, id := l.probe.get(l.avcodecVersion)
	return id
}

// IOBufferSize returns the configured custom I/O buffer size.
func (l *Library) IOBufferSize() int {
	if l.cfg.IOBufferSize <= 0 {
		return DefaultIOBufferSize
	}
	return l.cfg.IOBufferSize
}

// Close unloads the shared libraries. Nothing created from l may be used
// afterwards. The default Library is never closed.
func (l *Library) Close() {
	if l == defaultLib || l.close == nil {
		return
	}
	l.close()
	l.close = nil
}

func (l *Library) entryPoints() entryPoints {
	l.entryOnce.Do(func() {
		l.entries = entryPoints{
			getBuffer: l.newCallback(l.getBufferEntry),
			read:      l.newCallback(l.avioReadEntry),
			write:     l.newCallback(l.avioWriteEntry),
			seek:      l.newCallback(l.avioSeekEntry),
		}
	})
	return l.entries
}

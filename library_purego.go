//go:build darwin || linux

package libav

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/ebitengine/purego"
)

// Major versions tried per library, newest first.
var sonameVersions = map[string][]int{
	"avutil":   {54, 53, 52, 51},
	"avcodec":  {56, 55, 54},
	"avformat": {56, 55, 54},
}

func openLibrary(cfg *Config) (*Library, error) {
	var handles []uintptr
	closeAll := func() {
		for i := len(handles) - 1; i >= 0; i-- {
			purego.Dlclose(handles[i])
		}
	}

	open := map[string]uintptr{}
	for _, name := range []string{"avutil", "avcodec", "avformat"} {
		handle, err := dlopenFirst(libPaths(cfg, name))
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("%w: lib%s: %w", ErrLibraryUnavailable, name, err)
		}
		handles = append(handles, handle)
		open[name] = handle
	}

	lib := &Library{
		cfg:         *cfg,
		newCallback: purego.NewCallback,
		close:       closeAll,
	}
	if err := lib.bindSymbols(open["avutil"], open["avcodec"], open["avformat"]); err != nil {
		closeAll()
		return nil, fmt.Errorf("%w: %w", ErrLibraryUnavailable, err)
	}
	return lib, nil
}

func dlopenFirst(paths []string) (uintptr, error) {
	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return handle, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("not found in any standard location")
	}
	return 0, lastErr
}

func libFileNames(name string) []string {
	var names []string
	for _, v := range sonameVersions[name] {
		if runtime.GOOS == "darwin" {
			names = append(names, fmt.Sprintf("lib%s.%d.dylib", name, v))
		} else {
			names = append(names, fmt.Sprintf("lib%s.so.%d", name, v))
		}
	}
	if runtime.GOOS == "darwin" {
		return append(names, "lib"+name+".dylib")
	}
	return append(names, "lib"+name+".so")
}

func libPaths(cfg *Config, name string) []string {
	var dirs []string

	// Configured location first
	if cfg.LibraryPath != "" {
		dirs = append(dirs, cfg.LibraryPath)
	}

	// Next to the executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		dirs = append(dirs, exeDir, filepath.Join(exeDir, "..", "lib"))
	}

	if root := findSourceRoot(); root != "" {
		dirs = append(dirs, filepath.Join(root, "build"))
	}
	if root := findModuleRoot(); root != "" {
		dirs = append(dirs, filepath.Join(root, "build"))
	}

	switch runtime.GOOS {
	case "darwin":
		dirs = append(dirs, "/usr/local/lib", "/opt/homebrew/lib")
	case "linux":
		dirs = append(dirs, "/usr/local/lib", "/usr/lib", "/usr/lib/x86_64-linux-gnu", "/usr/lib/aarch64-linux-gnu")
	}

	var paths []string
	for _, dir := range dirs {
		for _, file := range libFileNames(name) {
			paths = append(paths, filepath.Join(dir, file))
		}
	}
	// Finally let the dynamic loader search its own path.
	return append(paths, libFileNames(name)...)
}

// bind resolves name in handle and stores it into fptr.
func bind(fptr any, handle uintptr, name string) error {
	addr, err := purego.Dlsym(handle, name)
	if err != nil {
		return fmt.Errorf("symbol %s: %w", name, err)
	}
	purego.RegisterFunc(fptr, addr)
	return nil
}

// bindOptional binds name when present and reports whether it was.
func bindOptional(fptr any, handle uintptr, name string) bool {
	return bind(fptr, handle, name) == nil
}

func (l *Library) bindSymbols(avutil, avcodec, avformat uintptr) error {
	required := []struct {
		fptr   any
		handle uintptr
		name   string
	}{
		{&l.avMalloc, avutil, "av_malloc"},
		{&l.avFree, avutil, "av_free"},
		{&l.avStrerror, avutil, "av_strerror"},
		{&l.avDictSet, avutil, "av_dict_set"},
		{&l.avDictGet, avutil, "av_dict_get"},
		{&l.avDictFree, avutil, "av_dict_free"},
		{&l.avOptGetDbl, avutil, "av_opt_get_double"},
		{&l.avOptGetQ, avutil, "av_opt_get_q"},
		{&l.avSamplesGetBufferSize, avutil, "av_samples_get_buffer_size"},

		{&l.avcodecVersion, avcodec, "avcodec_version"},
		{&l.avcodecFindDecoder, avcodec, "avcodec_find_decoder"},
		{&l.avcodecAllocContext3, avcodec, "avcodec_alloc_context3"},
		{&l.avcodecOpen2, avcodec, "avcodec_open2"},
		{&l.avcodecClose, avcodec, "avcodec_close"},
		{&l.avcodecDecodeAudio4, avcodec, "avcodec_decode_audio4"},
		{&l.avcodecDefaultGetBuffer, avcodec, "avcodec_default_get_buffer"},
		{&l.avcodecDefaultReleaseBuffer, avcodec, "avcodec_default_release_buffer"},
		{&l.avcodecGetFrameDefaults, avcodec, "avcodec_get_frame_defaults"},
		{&l.avInitPacket, avcodec, "av_init_packet"},
		{&l.avFreePacket, avcodec, "av_free_packet"},

		{&l.avformatAllocContext, avformat, "avformat_alloc_context"},
		{&l.avformatOpenInput, avformat, "avformat_open_input"},
		{&l.avformatFindStreamInfo, avformat, "avformat_find_stream_info"},
		{&l.avformatCloseInput, avformat, "avformat_close_input"},
		{&l.avioAllocContext, avformat, "avio_alloc_context"},
		{&l.avReadFrame, avformat, "av_read_frame"},
	}
	for _, sym := range required {
		if err := bind(sym.fptr, sym.handle, sym.name); err != nil {
			return err
		}
	}

	// AVFrame moved to libavutil in 55.28; older releases allocate it in libavcodec.
	if !bindOptional(&l.avFrameAlloc, avutil, "av_frame_alloc") ||
		!bindOptional(&l.avFrameFree, avutil, "av_frame_free") {
		if err := bind(&l.avFrameAlloc, avcodec, "avcodec_alloc_frame"); err != nil {
			return err
		}
		if err := bind(&l.avFrameFree, avcodec, "avcodec_free_frame"); err != nil {
			return err
		}
	}

	// Registration became implicit in later releases.
	bindOptional(&l.avRegisterAll, avformat, "av_register_all")
	bindOptional(&l.avcodecRegisterAll, avcodec, "avcodec_register_all")
	return nil
}

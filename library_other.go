//go:build !darwin && !linux

package libav

import (
	"fmt"
	"runtime"
)

func openLibrary(*Config) (*Library, error) {
	return nil, fmt.Errorf("%w: unsupported platform %s", ErrLibraryUnavailable, runtime.GOOS)
}

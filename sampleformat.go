package libav

import (
	"fmt"
	"reflect"
)

// SampleFormat mirrors enum AVSampleFormat.
type SampleFormat int32

const (
	SampleFormatNone SampleFormat = -1
	SampleFormatU8   SampleFormat = 0 // unsigned 8 bits
	SampleFormatS16  SampleFormat = 1 // signed 16 bits
	SampleFormatS32  SampleFormat = 2 // signed 32 bits
	SampleFormatF32  SampleFormat = 3 // float
	SampleFormatF64  SampleFormat = 4 // double
	SampleFormatU8P  SampleFormat = 5 // unsigned 8 bits, planar
	SampleFormatS16P SampleFormat = 6 // signed 16 bits, planar
	SampleFormatS32P SampleFormat = 7 // signed 32 bits, planar
	SampleFormatF32P SampleFormat = 8 // float, planar
	SampleFormatF64P SampleFormat = 9 // double, planar
)

func (f SampleFormat) String() string {
	switch f {
	case SampleFormatU8:
		return "u8"
	case SampleFormatS16:
		return "s16"
	case SampleFormatS32:
		return "s32"
	case SampleFormatF32:
		return "flt"
	case SampleFormatF64:
		return "dbl"
	case SampleFormatU8P:
		return "u8p"
	case SampleFormatS16P:
		return "s16p"
	case SampleFormatS32P:
		return "s32p"
	case SampleFormatF32P:
		return "fltp"
	case SampleFormatF64P:
		return "dblp"
	case SampleFormatNone:
		return "none"
	default:
		return fmt.Sprintf("SampleFormat(%d)", int32(f))
	}
}

// IsPlanar reports whether each channel lives in its own plane.
func (f SampleFormat) IsPlanar() bool {
	return f >= SampleFormatU8P && f <= SampleFormatF64P
}

// Packed returns the interleaved counterpart of f.
func (f SampleFormat) Packed() SampleFormat {
	if f.IsPlanar() {
		return f - SampleFormatU8P
	}
	return f
}

// Planar returns the planar counterpart of f.
func (f SampleFormat) Planar() SampleFormat {
	if f >= SampleFormatU8 && f <= SampleFormatF64 {
		return f + SampleFormatU8P
	}
	return f
}

// BytesPerSample returns the size of one sample of one channel, or 0 for
// unknown formats.
func (f SampleFormat) BytesPerSample() int {
	switch f.Packed() {
	case SampleFormatU8:
		return 1
	case SampleFormatS16:
		return 2
	case SampleFormatS32, SampleFormatF32:
		return 4
	case SampleFormatF64:
		return 8
	default:
		return 0
	}
}

// BufferSize returns the bytes needed for samples samples of channels
// channels, summed over all planes and without alignment.
func (f SampleFormat) BufferSize(channels, samples int) int {
	return channels * samples * f.BytesPerSample()
}

// Sample is the set of Go types a decoder can produce.
type Sample interface {
	~uint8 | ~int16 | ~int32 | ~float32 | ~float64
}

// SampleFormatOf returns the packed format whose samples have type T.
func SampleFormatOf[T Sample]() SampleFormat {
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Uint8:
		return SampleFormatU8
	case reflect.Int16:
		return SampleFormatS16
	case reflect.Int32:
		return SampleFormatS32
	case reflect.Float32:
		return SampleFormatF32
	case reflect.Float64:
		return SampleFormatF64
	}
	return SampleFormatNone
}

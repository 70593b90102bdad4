package libav

import "unsafe"

// noCopy makes go vet flag copies of the structs embedding it.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// nativeHandle owns exactly one native allocation of record type T and
// releases it exactly once. Ownership can move out with take.
type nativeHandle[T any] struct {
	_ noCopy

	ptr     uintptr
	release func(uintptr)
}

func newHandle[T any](ptr uintptr, release func(uintptr)) *nativeHandle[T] {
	return &nativeHandle[T]{ptr: ptr, release: release}
}

func (h *nativeHandle[T]) valid() bool {
	return h != nil && h.ptr != 0
}

func (h *nativeHandle[T]) addr() uintptr {
	if h == nil {
		return 0
	}
	return h.ptr
}

// record returns the owned record. Touching a released handle is a
// programming error.
func (h *nativeHandle[T]) record() *T {
	if !h.valid() {
		panic("libav: access to released native handle")
	}
	return (*T)(unsafe.Pointer(h.ptr))
}

// take moves the allocation out of h. The caller becomes responsible for
// releasing it.
func (h *nativeHandle[T]) take() uintptr {
	ptr := h.ptr
	h.ptr = 0
	return ptr
}

// free releases the allocation. Later calls do nothing.
func (h *nativeHandle[T]) free() {
	if !h.valid() {
		return
	}
	ptr := h.take()
	if h.release != nil {
		h.release(ptr)
	}
}

package libav

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Releaser is implemented by callback values that hold resources of their
// own. Release is called once when the value leaves its slot.
type Releaser interface {
	Release()
}

// callbackRegistry maps the ids stored in native user-data slots to Go
// values. Native records only ever carry the id, never a Go pointer.
type callbackRegistry struct {
	mu      sync.RWMutex
	entries map[uintptr]any
	counter uintptr
}

func (r *callbackRegistry) register(v any) uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[uintptr]any)
	}
	r.counter++
	r.entries[r.counter] = v
	return r.counter
}

// lookup borrows the value behind id; the slot keeps ownership.
func (r *callbackRegistry) lookup(id uintptr) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[id]
	return v, ok
}

func (r *callbackRegistry) release(id uintptr) {
	if id == 0 {
		return
	}
	r.mu.Lock()
	v, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if rel, isReleaser := v.(Releaser); ok && isReleaser {
		rel.Release()
	}
}

func (r *callbackRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// install stores v behind slot, releasing whatever the slot held before.
func (r *callbackRegistry) install(slot *uintptr, v any) {
	if old := *slot; old != 0 {
		*slot = 0
		r.release(old)
	}
	*slot = r.register(v)
}

// clear releases the value behind slot, if any.
func (r *callbackRegistry) clear(slot *uintptr) {
	old := *slot
	*slot = 0
	r.release(old)
}

// recoverCallback converts a panic escaping a callback into the native
// failure sentinel. Must be deferred directly by the entry point.
func recoverCallback[T int32 | int64](name string, ret *T, sentinel T) {
	if r := recover(); r != nil {
		logFn(name).WithFields(logrus.Fields{
			"panic": r,
		}).Error("Recovered panic in native callback")
		*ret = sentinel
	}
}

// getBufferFunc is the Go side of AVCodecContext.get_buffer.
type getBufferFunc func(*Frame) error

// getBufferEntry runs the default allocator and then hands the frame to the
// callback installed in the codec context's opaque slot.
func (l *Library) getBufferEntry(ctx, frame uintptr) (ret int32) {
	defer recoverCallback("getBuffer", &ret, averrorEINVAL)

	if ret = l.avcodecDefaultGetBuffer(ctx, frame); ret < 0 {
		return ret
	}
	ref := codecContextRef{layout: l.layout(), ptr: ctx}
	v, ok := l.slots.lookup(*ref.opaque())
	if !ok {
		return ret
	}
	fn, ok := v.(getBufferFunc)
	if !ok {
		return ret
	}
	if err := callFrameFunc(fn, &Frame{lib: l, handle: newHandle[avFrame](frame, nil), borrowed: true}); err != nil {
		logFn("getBuffer").WithError(err).Debug("Frame callback failed")
		// The decoder never releases a buffer whose allocation failed.
		l.avcodecDefaultReleaseBuffer(ctx, frame)
		return averrorEINVAL
	}
	return ret
}

// callFrameFunc runs fn, turning a panic into an error so the caller can
// still undo the allocation.
func callFrameFunc(fn getBufferFunc, fr *Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logFn("getBuffer").WithField("panic", r).Error("Recovered panic in native callback")
			err = fmt.Errorf("frame callback panicked: %v", r)
		}
	}()
	return fn(fr)
}

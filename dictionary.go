package libav

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
)

// Dictionary is an owned AVDictionary. Handing it to an open call
// transfers it to the native side; the call hands back a new Dictionary
// with the entries it did not recognise and the original must not be
// used again.
type Dictionary struct {
	lib      *Library
	ptr      uintptr
	consumed bool
}

// NewDictionary returns an empty dictionary. No native memory is
// allocated until the first Set.
func NewDictionary(lib *Library) *Dictionary {
	return &Dictionary{lib: lib}
}

// DictionaryFromMap builds a dictionary holding every entry of m.
func DictionaryFromMap(lib *Library, m map[string]string) (*Dictionary, error) {
	d := NewDictionary(lib)
	for _, k := range slices.Sorted(maps.Keys(m)) {
		if err := d.Set(k, m[k]); err != nil {
			d.Free()
			return nil, err
		}
	}
	return d, nil
}

func (d *Dictionary) usable() error {
	if d.consumed {
		return ErrDictionaryConsumed
	}
	return nil
}

// Set adds or replaces an entry. Keys must be non-empty and neither keys
// nor values may contain NUL bytes.
func (d *Dictionary) Set(key, value string) error {
	if err := d.usable(); err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("%w: empty option name", ErrConfig)
	}
	if strings.IndexByte(key, 0) >= 0 || strings.IndexByte(value, 0) >= 0 {
		return fmt.Errorf("%w: option %q contains a NUL byte", ErrConfig, key)
	}
	if ret := d.lib.avDictSet(&d.ptr, key, value, 0); ret < 0 {
		return d.lib.statusError("av_dict_set", ret, ErrConfig)
	}
	return nil
}

// Get returns the value stored under key, matched case-sensitively.
func (d *Dictionary) Get(key string) (string, bool) {
	if d == nil || d.ptr == 0 || d.consumed {
		return "", false
	}
	e := d.lib.avDictGet(d.ptr, key, 0, avDictMatchCase)
	if e == 0 {
		return "", false
	}
	return goStringFromPtr(dictEntryAt(e).value), true
}

// All iterates over the entries in native order.
func (d *Dictionary) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		if d == nil || d.ptr == 0 || d.consumed {
			return
		}
		var prev uintptr
		for {
			prev = d.lib.avDictGet(d.ptr, "", prev, avDictIgnoreSuffix)
			if prev == 0 {
				return
			}
			e := dictEntryAt(prev)
			if !yield(goStringFromPtr(e.key), goStringFromPtr(e.value)) {
				return
			}
		}
	}
}

// Entries copies the dictionary into a map.
func (d *Dictionary) Entries() map[string]string {
	m := make(map[string]string)
	for k, v := range d.All() {
		m[k] = v
	}
	return m
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	n := 0
	for range d.All() {
		n++
	}
	return n
}

// Free releases the native dictionary. Safe on nil and consumed dictionaries.
func (d *Dictionary) Free() {
	if d == nil || d.ptr == 0 {
		return
	}
	d.lib.avDictFree(&d.ptr)
	d.ptr = 0
}

// configure hands the dictionary to call, which may consume entries and
// replace the pointer. Whatever pointer call leaves behind is returned as
// a new Dictionary owned by the caller. d may be nil.
func configure(lib *Library, d *Dictionary, call func(pm *uintptr) int32) (int32, *Dictionary, error) {
	var ptr uintptr
	if d != nil {
		if err := d.usable(); err != nil {
			return 0, nil, err
		}
		ptr = d.ptr
		d.ptr = 0
		d.consumed = true
	}
	status := call(&ptr)
	return status, &Dictionary{lib: lib, ptr: ptr}, nil
}

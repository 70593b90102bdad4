package libav

import (
	"fmt"
	"runtime"
	"unsafe"
)

// InputPaddingSize is the number of zero bytes decoders may read past the
// end of packet data (FF_INPUT_BUFFER_PADDING_SIZE).
const InputPaddingSize = 32

// Packet is an AVPacket plus a cursor over its data. Decoding consumes a
// packet incrementally: every decode call advances data and shrinks size,
// and the packet is empty once size reaches zero.
type Packet struct {
	lib *Library
	ref packetRef

	record  *nativeHandle[byte]
	payload *nativeHandle[byte] // NewPacket copy, owned

	borrowed []byte // WrapPacket buffer, pinned while wrapped
	pinner   runtime.Pinner

	// Data window as produced, restored before av_free_packet.
	origData uintptr
	origSize int32
	demuxed  bool
}

// AllocPacket allocates an empty packet, typically filled by
// FormatContext.ReadPacket.
func AllocPacket(lib *Library) (*Packet, error) {
	layout := lib.layout()
	ptr := lib.avMalloc(packetSize(layout))
	if ptr == 0 {
		return nil, lib.statusError("av_malloc", averrorENOMEM, ErrDecode)
	}
	lib.avInitPacket(ptr)

	p := &Packet{
		lib:    lib,
		ref:    packetRef{layout: layout, ptr: ptr},
		record: newHandle[byte](ptr, lib.avFree),
	}
	p.setWindow(0, 0)
	return p, nil
}

// NewPacket copies data into a native buffer followed by InputPaddingSize
// zero bytes.
func NewPacket(lib *Library, data []byte) (*Packet, error) {
	if len(data) > maxPacketSize {
		return nil, fmt.Errorf("%w: packet of %d bytes too large", ErrConfig, len(data))
	}
	p, err := AllocPacket(lib)
	if err != nil {
		return nil, err
	}

	total := len(data) + InputPaddingSize
	buf := lib.avMalloc(uintptr(total))
	if buf == 0 {
		p.Free()
		return nil, lib.statusError("av_malloc", averrorENOMEM, ErrDecode)
	}
	p.payload = newHandle[byte](buf, lib.avFree)

	dst := nativeBytes(buf, total)
	copy(dst, data)
	clear(dst[len(data):])

	p.setWindow(buf, int32(len(data)))
	return p, nil
}

// WrapPacket borrows buf without copying. buf[:n] is the payload and the
// remainder must be at least InputPaddingSize zero bytes. buf must not be
// modified or reused until the packet is freed.
func WrapPacket(lib *Library, buf []byte, n int) (*Packet, error) {
	if n < 0 || n > len(buf) || n > maxPacketSize {
		return nil, fmt.Errorf("%w: payload length %d outside buffer of %d bytes", ErrConfig, n, len(buf))
	}
	if len(buf)-n < InputPaddingSize {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrPacketPadding, len(buf)-n, InputPaddingSize)
	}
	for _, b := range buf[n : n+InputPaddingSize] {
		if b != 0 {
			return nil, fmt.Errorf("%w: padding is not zeroed", ErrPacketPadding)
		}
	}

	p, err := AllocPacket(lib)
	if err != nil {
		return nil, err
	}
	p.pinner.Pin(&buf[0])
	p.borrowed = buf[:n]
	p.setWindow(pinnedAddr(buf), int32(n))
	return p, nil
}

const maxPacketSize = 1<<31 - 1 - InputPaddingSize

// pinnedAddr returns the address of a buffer the caller has pinned.
func pinnedAddr(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(&buf[0]))
}

func (p *Packet) setWindow(data uintptr, size int32) {
	*p.ref.data() = data
	*p.ref.dataSize() = size
	p.origData, p.origSize = data, size
}

// Len returns the number of undecoded bytes.
func (p *Packet) Len() int {
	if !p.record.valid() {
		return 0
	}
	return int(*p.ref.dataSize())
}

// live returns the record reference. Touching a freed packet panics.
func (p *Packet) live() packetRef {
	if !p.record.valid() {
		panic("libav: access to released packet")
	}
	return p.ref
}

// Data returns the undecoded bytes. The slice aliases packet memory.
func (p *Packet) Data() []byte {
	ref := p.live()
	size := *ref.dataSize()
	if p.borrowed != nil {
		consumed := int(p.origSize - size)
		return p.borrowed[consumed:]
	}
	return nativeBytes(*ref.data(), int(size))
}

func (p *Packet) StreamIndex() int { return int(*p.live().streamIndex()) }
func (p *Packet) PTS() int64       { return *p.live().pts() }
func (p *Packet) DTS() int64       { return *p.live().dts() }
func (p *Packet) Duration() int    { return int(*p.live().duration()) }

// advance moves the cursor past n decoded bytes.
func (p *Packet) advance(n int32) {
	ref := p.live()
	size := ref.dataSize()
	if n > *size {
		n = *size
	}
	*ref.data() += uintptr(n)
	*size -= n
}

// drop discards the remaining bytes.
func (p *Packet) drop() {
	p.advance(*p.live().dataSize())
}

// markDemuxed records the window produced by av_read_frame.
func (p *Packet) markDemuxed() {
	ref := p.live()
	p.origData, p.origSize = *ref.data(), *ref.dataSize()
	p.demuxed = true
}

// unref releases demuxed data, restoring the original window first since
// the native side frees what it allocated.
func (p *Packet) unref() {
	if !p.demuxed {
		return
	}
	*p.ref.data() = p.origData
	*p.ref.dataSize() = p.origSize
	p.lib.avFreePacket(p.ref.ptr)
	p.demuxed = false
	p.setWindow(0, 0)
}

// Free releases the packet and any data it owns. Borrowed buffers are
// unpinned.
func (p *Packet) Free() {
	if p == nil || !p.record.valid() {
		return
	}
	p.unref()
	p.setWindow(0, 0)
	p.payload.free()
	if p.borrowed != nil {
		p.pinner.Unpin()
		p.borrowed = nil
	}
	p.record.free()
	p.ref.ptr = 0
}

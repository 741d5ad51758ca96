// Package gpucmd defines the five virtio-gpu 2D command structures this
// driver emits, and the response codes and sentinel used with the single
// response slot it reads completions into.
// Type codes, field ordering, and byte layout are fixed by the virtio-gpu
// specification and must be emitted verbatim.
package gpucmd

import "unsafe"

// Command type codes (virtio-gpu 2D command set).
const (
	CmdResourceCreate2D      uint32 = 0x0101
	CmdSetScanout            uint32 = 0x0103
	CmdResourceFlush         uint32 = 0x0104
	CmdTransferToHost2D      uint32 = 0x0105
	CmdResourceAttachBacking uint32 = 0x0106
)

// RespOKNoData is the only success response code this driver accepts.
const RespOKNoData uint32 = 0x1100

// FormatB8G8R8A8Unorm is the pixel format used for the framebuffer resource.
const FormatB8G8R8A8Unorm uint32 = 1

// ControlHeader is the 24-byte header every command begins with. Only Type
// is ever set by the driver; the remaining fields stay zero.
type ControlHeader struct {
	Type    uint32
	Flags   uint32
	FenceID uint64
	CtxID   uint32
	Padding uint32
}

var _ [24]byte = [unsafe.Sizeof(ControlHeader{})]byte{}

// Rect is a 2D rectangle, fields ordered {x, y, width, height}.
type Rect struct {
	X      uint32
	Y      uint32
	Width  uint32
	Height uint32
}

// ResourceCreate2D backs CMD_RESOURCE_CREATE_2D.
type ResourceCreate2D struct {
	ControlHeader
	ResourceID uint32
	Format     uint32
	Width      uint32
	Height     uint32
}

var _ [40]byte = [unsafe.Sizeof(ResourceCreate2D{})]byte{}

// MemEntry is one backing-memory entry: {addr, length, padding}.
type MemEntry struct {
	Addr    uint64
	Length  uint32
	Padding uint32
}

// ResourceAttachBacking backs CMD_RESOURCE_ATTACH_BACKING for the
// single-entry case this driver always uses.
type ResourceAttachBacking struct {
	ControlHeader
	ResourceID uint32
	NrEntries  uint32
	Entry      MemEntry
}

var _ [48]byte = [unsafe.Sizeof(ResourceAttachBacking{})]byte{}

// SetScanout backs CMD_SET_SCANOUT.
type SetScanout struct {
	ControlHeader
	Rect       Rect
	ScanoutID  uint32
	ResourceID uint32
}

var _ [48]byte = [unsafe.Sizeof(SetScanout{})]byte{}

// TransferToHost2D backs CMD_TRANSFER_TO_HOST_2D.
type TransferToHost2D struct {
	ControlHeader
	Rect       Rect
	Offset     uint64
	ResourceID uint32
	Padding    uint32
}

var _ [56]byte = [unsafe.Sizeof(TransferToHost2D{})]byte{}

// ResourceFlush backs CMD_RESOURCE_FLUSH.
type ResourceFlush struct {
	ControlHeader
	Rect       Rect
	ResourceID uint32
	Padding    uint32
}

var _ [48]byte = [unsafe.Sizeof(ResourceFlush{})]byte{}

// ResponseSentinel is written into the response slot before every command
// is published, distinct from any valid response code, so a stale read
// surfaces as a protocol violation rather than a false success.
const ResponseSentinel uint32 = 0xa5a5a5a5

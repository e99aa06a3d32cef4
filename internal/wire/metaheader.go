// Package wire implements the packed, ABI-stable codec for the two types
// that ever travel on a sub-socket or the region ack queue: MetaHeader and
// RegionBlock (§3, §6 "Wire format on a sub-socket", normative field order).
package wire

import "encoding/binary"

// MetaHeaderSize is the fixed packed size of a MetaHeader on the wire:
// size, hint, handle, shared (8 bytes each) + region_id, segment_id (2
// bytes each) + managed (1 byte) + 3 bytes padding to natural alignment.
// Fixed at an ABI-stable size per §9 Open Question #2. Peers configured
// with a different metadata message size are not detected.
const MetaHeaderSize = 40

// MetaHeader is the only descriptor that travels on the wire in place of
// payload bytes (§3). Field order is normative (§6).
type MetaHeader struct {
	Size      uint64
	Hint      uint64
	Handle    int64
	Shared    int64
	RegionID  uint16
	SegmentID uint16
	Managed   bool
}

// Put encodes h into dst, which must be at least MetaHeaderSize bytes.
func (h MetaHeader) Put(dst []byte) {
	_ = dst[MetaHeaderSize-1]
	binary.BigEndian.PutUint64(dst[0:8], h.Size)
	binary.BigEndian.PutUint64(dst[8:16], h.Hint)
	binary.BigEndian.PutUint64(dst[16:24], uint64(h.Handle))
	binary.BigEndian.PutUint64(dst[24:32], uint64(h.Shared))
	binary.BigEndian.PutUint16(dst[32:34], h.RegionID)
	binary.BigEndian.PutUint16(dst[34:36], h.SegmentID)
	if h.Managed {
		dst[36] = 1
	} else {
		dst[36] = 0
	}
	dst[37], dst[38], dst[39] = 0, 0, 0
}

// ParseMetaHeader decodes a MetaHeader from src, which must be at least
// MetaHeaderSize bytes (additional bytes, from metadata-msg-size padding,
// are ignored).
func ParseMetaHeader(src []byte) (MetaHeader, error) {
	if len(src) < MetaHeaderSize {
		return MetaHeader{}, ErrShortHeader
	}
	return MetaHeader{
		Size:      binary.BigEndian.Uint64(src[0:8]),
		Hint:      binary.BigEndian.Uint64(src[8:16]),
		Handle:    int64(binary.BigEndian.Uint64(src[16:24])),
		Shared:    int64(binary.BigEndian.Uint64(src[24:32])),
		RegionID:  binary.BigEndian.Uint16(src[32:34]),
		SegmentID: binary.BigEndian.Uint16(src[34:36]),
		Managed:   src[36] != 0,
	}, nil
}

// PaddedSize returns the wire size of a single MetaHeader message given the
// configured minimum metadata-message size (0 means no padding).
func PaddedSize(minMsgSize int) int {
	if minMsgSize > MetaHeaderSize {
		return minMsgSize
	}
	return MetaHeaderSize
}

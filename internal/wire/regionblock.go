package wire

import "encoding/binary"

// RegionBlockSize is the fixed packed size of a RegionBlock: handle(8) +
// size(8) + hint(8).
const RegionBlockSize = 24

// RegionBlock is the descriptor enqueued on a region's ack queue to
// notify the creator that a buffer is no longer in use (§3, §6).
type RegionBlock struct {
	Handle int64
	Size   uint64
	Hint   uint64
}

func (b RegionBlock) Put(dst []byte) {
	_ = dst[RegionBlockSize-1]
	binary.BigEndian.PutUint64(dst[0:8], uint64(b.Handle))
	binary.BigEndian.PutUint64(dst[8:16], b.Size)
	binary.BigEndian.PutUint64(dst[16:24], b.Hint)
}

func ParseRegionBlock(src []byte) RegionBlock {
	return RegionBlock{
		Handle: int64(binary.BigEndian.Uint64(src[0:8])),
		Size:   binary.BigEndian.Uint64(src[8:16]),
		Hint:   binary.BigEndian.Uint64(src[16:24]),
	}
}

// EncodeBlocks packs a bunch of RegionBlocks for a single ack-queue message.
func EncodeBlocks(blocks []RegionBlock) []byte {
	buf := make([]byte, RegionBlockSize*len(blocks))
	for i, b := range blocks {
		b.Put(buf[i*RegionBlockSize : (i+1)*RegionBlockSize])
	}
	return buf
}

// DecodeBlocks unpacks a received ack-queue message into RegionBlocks.
func DecodeBlocks(buf []byte) []RegionBlock {
	n := len(buf) / RegionBlockSize
	out := make([]RegionBlock, n)
	for i := 0; i < n; i++ {
		out[i] = ParseRegionBlock(buf[i*RegionBlockSize : (i+1)*RegionBlockSize])
	}
	return out
}

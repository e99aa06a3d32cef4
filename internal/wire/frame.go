package wire

import "encoding/binary"

// EncodeFrame serializes a slice of MetaHeaders as the multi-part wire
// frame `[uint64 n][MetaHeader]*n`, optionally zero-padded per message to
// minMsgSize (§6 "Multi-part send").
func EncodeFrame(headers []MetaHeader, minMsgSize int) []byte {
	perMsg := PaddedSize(minMsgSize)
	buf := make([]byte, 8+perMsg*len(headers))
	binary.BigEndian.PutUint64(buf[0:8], uint64(len(headers)))
	off := 8
	for _, h := range headers {
		h.Put(buf[off : off+MetaHeaderSize])
		off += perMsg
	}
	return buf
}

// DecodeFrame parses a multi-part wire frame produced by EncodeFrame.
func DecodeFrame(buf []byte, minMsgSize int) ([]MetaHeader, error) {
	if len(buf) < 8 {
		return nil, ErrShortFrame
	}
	n := binary.BigEndian.Uint64(buf[0:8])
	perMsg := PaddedSize(minMsgSize)
	want := 8 + perMsg*int(n)
	if len(buf) < want {
		return nil, ErrShortFrame
	}
	out := make([]MetaHeader, n)
	off := 8
	for i := range out {
		h, err := ParseMetaHeader(buf[off : off+MetaHeaderSize])
		if err != nil {
			return nil, err
		}
		out[i] = h
		off += perMsg
	}
	return out, nil
}

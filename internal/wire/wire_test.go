package wire_test

import (
	"testing"

	"github.com/FairRootGroup/fairmq-go/internal/wire"
)

func TestMetaHeaderRoundTrip(t *testing.T) {
	h := wire.MetaHeader{
		Size: 5, Hint: 42, Handle: 1024, Shared: -1,
		RegionID: 0, SegmentID: 0, Managed: true,
	}
	buf := make([]byte, wire.MetaHeaderSize)
	h.Put(buf)
	got, err := wire.ParseMetaHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestParseMetaHeaderShort(t *testing.T) {
	if _, err := wire.ParseMetaHeader(make([]byte, 4)); err != wire.ErrShortHeader {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	headers := []wire.MetaHeader{
		{Size: 1, Handle: 10, Shared: -1},
		{Size: 2, Handle: 20, Shared: -1},
		{Size: 3, Handle: 30, Shared: -1},
	}
	buf := wire.EncodeFrame(headers, 0)
	got, err := wire.DecodeFrame(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(headers) {
		t.Fatalf("expected %d headers, got %d", len(headers), len(got))
	}
	for i := range headers {
		if got[i] != headers[i] {
			t.Fatalf("header %d mismatch: got %+v want %+v", i, got[i], headers[i])
		}
	}
}

func TestFramePadding(t *testing.T) {
	headers := []wire.MetaHeader{{Size: 1, Handle: 1, Shared: -1}}
	buf := wire.EncodeFrame(headers, 64)
	if len(buf) != 8+64 {
		t.Fatalf("expected padded frame size %d, got %d", 8+64, len(buf))
	}
	got, err := wire.DecodeFrame(buf, 64)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != headers[0] {
		t.Fatalf("padded round trip mismatch: got %+v want %+v", got[0], headers[0])
	}
}

func TestRegionBlockBunch(t *testing.T) {
	blocks := []wire.RegionBlock{
		{Handle: 0, Size: 2_000_000, Hint: 0},
		{Handle: 2_000_000, Size: 2_000_000, Hint: 1},
	}
	buf := wire.EncodeBlocks(blocks)
	got := wire.DecodeBlocks(buf)
	if len(got) != len(blocks) {
		t.Fatalf("expected %d blocks, got %d", len(blocks), len(got))
	}
	for i := range blocks {
		if got[i] != blocks[i] {
			t.Fatalf("block %d mismatch: got %+v want %+v", i, got[i], blocks[i])
		}
	}
}

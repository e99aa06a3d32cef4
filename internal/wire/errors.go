package wire

import "errors"

var (
	// ErrShortHeader indicates fewer than MetaHeaderSize bytes were available to parse.
	ErrShortHeader = errors.New("wire: short meta header")
	// ErrShortFrame indicates a multi-part frame was truncated before its declared count.
	ErrShortFrame = errors.New("wire: short multi-part frame")
	// ErrSizeMismatch indicates a peer's MetaHeader wire size does not match ours (§9 OQ#2).
	ErrSizeMismatch = errors.New("wire: peer metadata message size mismatch")
)

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version     byte = 1
	kindDoc     byte = 1
	headerBytes      = 4 + 1 + 1 + 4
)

var (
	ErrCorrupt = errors.New("refcache: corrupt entry")
	magic4     = [...]byte{'R', 'E', 'F', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// EncodeDocument frames an encoded owner document:
//
//	magic(4) | ver(1) | kind(1=doc) | plen(u32 be) | payload(plen)
func EncodeDocument(payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(headerBytes + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindDoc)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeDocument validates the frame and returns the payload.
// Anything not written by EncodeDocument, including trailing bytes, is ErrCorrupt.
func DecodeDocument(b []byte) ([]byte, error) {
	if len(b) < headerBytes || !hasMagic(b) || b[4] != version || b[5] != kindDoc {
		return nil, ErrCorrupt
	}
	off := 6
	plen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if plen < 0 || plen != len(b)-off {
		return nil, ErrCorrupt
	}
	return b[off:], nil
}

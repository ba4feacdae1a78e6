package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
)

const (
	version    byte = 1
	kindRecord byte = 1
	headerLen       = 4 + 1 + 1 + 1 + 4 + 4
)

var (
	ErrCorrupt = errors.New("visitguard: corrupt record")
	// ErrFormat means the frame is intact but was written by another codec.
	ErrFormat = errors.New("visitguard: record format mismatch")
	magic4    = [...]byte{'E', 'V', 'V', 'G'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Record frame:
//
//	magic(4) | ver(1) | kind(1=record) | format(1) | crc32(u32 be) | vlen(u32 be) | payload(vlen)
//
// format identifies the codec that produced payload; crc32 (IEEE) covers payload.
func EncodeRecord(format byte, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(headerLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindRecord)
	buf.WriteByte(format)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], crc32.ChecksumIEEE(payload))
	buf.Write(u4[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeRecord validates the frame and returns a slice into b (no copy).
// Trailing bytes are rejected.
func DecodeRecord(format byte, b []byte) ([]byte, error) {
	if len(b) < headerLen || !hasMagic(b) || b[4] != version || b[5] != kindRecord {
		return nil, ErrCorrupt
	}
	off := 7

	sum := binary.BigEndian.Uint32(b[off : off+4])
	off += 4

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return nil, ErrCorrupt
	}

	payload := b[off : off+vlen]
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, ErrCorrupt
	}
	if b[6] != format {
		return nil, ErrFormat
	}
	return payload, nil
}

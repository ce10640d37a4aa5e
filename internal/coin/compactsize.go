package coin

import (
	"encoding/binary"
	"fmt"
)

// CompactSize is a minimal variable-length unsigned integer encoding,
// patterned on the teacher's consensus.readCompactSize: one tag byte,
// then 0/2/4/8 little-endian bytes depending on the tag, always encoded
// minimally.
func encodeCompactSize(v uint64) []byte {
	switch {
	case v < 0xfd:
		return []byte{byte(v)}
	case v <= 0xffff:
		out := make([]byte, 3)
		out[0] = 0xfd
		binary.LittleEndian.PutUint16(out[1:], uint16(v))
		return out
	case v <= 0xffffffff:
		out := make([]byte, 5)
		out[0] = 0xfe
		binary.LittleEndian.PutUint32(out[1:], uint32(v))
		return out
	default:
		out := make([]byte, 9)
		out[0] = 0xff
		binary.LittleEndian.PutUint64(out[1:], v)
		return out
	}
}

func readCompactSize(b []byte, off *int) (uint64, error) {
	if *off >= len(b) {
		return 0, fmt.Errorf("coin: compactsize: truncated")
	}
	tag := b[*off]
	*off++
	switch {
	case tag < 0xfd:
		return uint64(tag), nil
	case tag == 0xfd:
		if *off+2 > len(b) {
			return 0, fmt.Errorf("coin: compactsize: truncated u16")
		}
		v := binary.LittleEndian.Uint16(b[*off:])
		*off += 2
		return uint64(v), nil
	case tag == 0xfe:
		if *off+4 > len(b) {
			return 0, fmt.Errorf("coin: compactsize: truncated u32")
		}
		v := binary.LittleEndian.Uint32(b[*off:])
		*off += 4
		return uint64(v), nil
	default:
		if *off+8 > len(b) {
			return 0, fmt.Errorf("coin: compactsize: truncated u64")
		}
		v := binary.LittleEndian.Uint64(b[*off:])
		*off += 8
		return v, nil
	}
}

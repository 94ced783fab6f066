package vlfs

import "encoding/binary"

// EncodeU16x4 stores v four times, big-endian. Each copy lives in its own
// pair of bytes so a partially programmed field still holds a majority.
func EncodeU16x4(v uint16) [8]byte {
	var b [8]byte
	putU16x4(b[:], v)
	return b
}

func putU16x4(b []byte, v uint16) {
	for i := 0; i < 8; i += 2 {
		binary.BigEndian.PutUint16(b[i:], v)
	}
}

// DecodeU16x4 returns the value found in at least two of the four copies in
// b. It fails when all four copies differ.
func DecodeU16x4(b []byte) (uint16, bool) {
	if len(b) < 8 {
		return 0, false
	}
	var v [4]uint16
	for i := range v {
		v[i] = binary.BigEndian.Uint16(b[i*2:])
	}

	for i := 0; i < 3; i++ {
		for j := i + 1; j < 4; j++ {
			if v[i] == v[j] {
				return v[i], true
			}
		}
	}
	return 0, false
}

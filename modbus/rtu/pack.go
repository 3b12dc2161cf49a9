// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

// bitBytes returns the number of bytes needed to carry count packed bits.
func bitBytes(count int) int {
	return (count + 7) / 8
}

// PackBits packs the first count values LSB-first, one bit per value.
// Any non-zero value is ON.
func PackBits(values []uint16, count int) []byte {
	out := make([]byte, bitBytes(count))
	for i := 0; i < count; i++ {
		if values[i] != 0 {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// PackRegisters packs the first count values as big-endian words.
func PackRegisters(values []uint16, count int) []byte {
	out := make([]byte, 0, 2*count)
	for _, v := range values[:count] {
		out = append(out, byte(v>>8), byte(v))
	}
	return out
}

// UnpackBits expands LSB-first packed bits into dst, writing 1 or 0 per point.
// At most len(dst) points are written; missing bytes read as OFF.
func UnpackBits(data []byte, dst []uint16) {
	for i := range dst {
		byteIdx := i / 8
		if byteIdx >= len(data) {
			dst[i] = 0
			continue
		}
		dst[i] = uint16(data[byteIdx]>>uint(i%8)) & 1
	}
}

// UnpackRegisters decodes big-endian words into dst, up to len(dst) entries.
func UnpackRegisters(data []byte, dst []uint16) {
	n := len(data) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
}

// Package tinycompress wraps data in the zlib container using stored DEFLATE
// blocks. It needs no tables or hashing beyond Adler-32, so it fits the
// firmware, and any zlib reader on the host can inflate the result.
package tinycompress

import (
	"errors"
	"hash/adler32"
)

var ErrCorrupt = errors.New("tinycompress: corrupt zlib stream")

const (
	headerSize   = 2
	blockHeader  = 5
	trailerSize  = 4
	maxBlockSize = 0xFFFF
)

// CompressedSize returns the zlib size of n input bytes
func CompressedSize(n int) int {
	blocks := (n + maxBlockSize - 1) / maxBlockSize
	if blocks == 0 {
		blocks = 1
	}
	return headerSize + blocks*blockHeader + n + trailerSize
}

// Compress appends the zlib stream for input to dst
func Compress(dst, input []byte) []byte {
	// CMF 0x78: deflate, 32K window. FLG 0x01 makes the header a multiple of 31.
	dst = append(dst, 0x78, 0x01)

	rest := input
	for {
		n := len(rest)
		final := byte(1)
		if n > maxBlockSize {
			n = maxBlockSize
			final = 0
		}
		length := uint16(n)
		dst = append(dst, final, byte(length), byte(length>>8), byte(^length), byte(^length>>8))
		dst = append(dst, rest[:n]...)
		rest = rest[n:]
		if final == 1 {
			break
		}
	}

	sum := adler32.Checksum(input)
	return append(dst, byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum))
}

// Decompress inflates a stream made of stored blocks, as Compress produces
func Decompress(data []byte) ([]byte, error) {
	if len(data) < headerSize+blockHeader+trailerSize {
		return nil, ErrCorrupt
	}
	if data[0]&0x0F != 8 || (uint16(data[0])<<8|uint16(data[1]))%31 != 0 {
		return nil, ErrCorrupt
	}
	pos := headerSize
	var out []byte
	for {
		if pos+blockHeader > len(data) {
			return nil, ErrCorrupt
		}
		hdr := data[pos]
		if hdr&0x06 != 0 {
			// Only stored blocks
			return nil, ErrCorrupt
		}
		length := uint16(data[pos+1]) | uint16(data[pos+2])<<8
		nlength := uint16(data[pos+3]) | uint16(data[pos+4])<<8
		if length != ^nlength {
			return nil, ErrCorrupt
		}
		pos += blockHeader
		if pos+int(length) > len(data) {
			return nil, ErrCorrupt
		}
		out = append(out, data[pos:pos+int(length)]...)
		pos += int(length)
		if hdr&0x01 != 0 {
			break
		}
	}

	if pos+trailerSize > len(data) {
		return nil, ErrCorrupt
	}
	want := uint32(data[pos])<<24 | uint32(data[pos+1])<<16 | uint32(data[pos+2])<<8 | uint32(data[pos+3])
	if adler32.Checksum(out) != want {
		return nil, ErrCorrupt
	}
	return out, nil
}

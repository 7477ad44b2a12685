// Package memview provides a zero-copy view over a sequence of byte slices.
//
// TDS messages are carved out of a reassembled TCP stream that is itself
// built by concatenating segments without copying them into one contiguous
// buffer (see package flow). MemView lets the framer and decoder walk that
// concatenation, and read big- and little-endian fields out of it, without
// ever materializing the whole stream unless a caller actually asks for the
// bytes.
package memview

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MemView represents a "view" on a collection of byte slices. Conceptually you
// may think of it as a [][]byte, with helper methods that make it behave like
// one contiguous []byte.
//
// Modifying a MemView does not change the underlying data; it only changes
// the pointers used to read it. Copying a MemView or passing it by value is
// like copying a slice: cheap, and the copy aliases the same bytes. Use
// DeepCopy to snip that aliasing.
//
// The zero value is an empty MemView ready to use.
type MemView struct {
	buf    [][]byte
	length int64
}

// New wraps data in a MemView without copying it. The caller must not modify
// data afterward.
func New(data []byte) MemView {
	if len(data) == 0 {
		return MemView{}
	}
	return MemView{
		buf:    [][]byte{data},
		length: int64(len(data)),
	}
}

// Append appends src's chunks to dst without copying their contents.
func (dst *MemView) Append(src MemView) {
	dst.buf = append(dst.buf, src.buf...)
	dst.length += src.length
}

// DeepCopy returns a MemView that shares no backing storage with mv.
func (mv MemView) DeepCopy() MemView {
	return New(mv.Bytes())
}

func (mv *MemView) Reader() *Reader {
	return &Reader{mv: mv}
}

func (mv MemView) Len() int64 {
	return mv.length
}

// GetByte returns the byte at index. It returns 0 if index is out of bounds.
func (mv MemView) GetByte(index int64) byte {
	if index < 0 {
		return 0
	}
	n := index
	for i := 0; i < len(mv.buf); i++ {
		lb := int64(len(mv.buf[i]))
		if n < lb {
			return mv.buf[i][n]
		}
		n -= lb
	}
	return 0
}

// getBytes returns a copy of mv[start:end], or nil if the range is invalid.
func (mv MemView) getBytes(start, end int64) []byte {
	if !(0 <= start && start <= end && end <= mv.Len()) {
		return nil
	}

	result := make([]byte, end-start)
	resultIdx := int64(0)

	for bufIdx := 0; bufIdx < len(mv.buf) && start < end; bufIdx++ {
		bufLen := int64(len(mv.buf[bufIdx]))
		if start >= bufLen {
			start -= bufLen
			end -= bufLen
			continue
		}

		copyEnd := end
		if copyEnd > bufLen {
			copyEnd = bufLen
		}

		copy(result[resultIdx:], mv.buf[bufIdx][start:copyEnd])

		copySize := copyEnd - start
		start = 0
		end -= bufLen
		resultIdx += copySize
	}

	return result
}

// Bytes returns a copy of the full contents of mv as one contiguous slice.
func (mv MemView) Bytes() []byte {
	b := mv.getBytes(0, mv.length)
	if b == nil {
		return []byte{}
	}
	return b
}

// GetUint16BE returns mv[offset:offset+2] as a big-endian uint16. It returns
// 0 if the range is out of bounds. TDS packet headers use big-endian length
// fields.
func (mv MemView) GetUint16BE(offset int64) uint16 {
	buf := mv.getBytes(offset, offset+2)
	if buf == nil {
		return 0
	}
	return binary.BigEndian.Uint16(buf)
}

// GetUint16LE returns mv[offset:offset+2] as a little-endian uint16. TDS
// payload fields (ALL_HEADERS, RPC parameters) use little-endian.
func (mv MemView) GetUint16LE(offset int64) uint16 {
	buf := mv.getBytes(offset, offset+2)
	if buf == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(buf)
}

// GetUint32LE returns mv[offset:offset+4] as a little-endian uint32.
func (mv MemView) GetUint32LE(offset int64) uint32 {
	buf := mv.getBytes(offset, offset+4)
	if buf == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(buf)
}

// SubView returns mv[start:end) without copying. It returns an empty MemView
// if the range is invalid.
func (mv MemView) SubView(start, end int64) MemView {
	if start >= end {
		return MemView{}
	}

	startBuf := -1
	endBuf := -1
	var startOffset, endOffset int

	var n int64
	for i, b := range mv.buf {
		lb := int64(len(b))
		if startBuf == -1 && n+lb > start {
			startBuf = i
			startOffset = int(start - n)
		}
		if endBuf == -1 && n+lb >= end {
			endBuf = i
			endOffset = int(end - n)
			break
		}
		n += lb
	}

	if startBuf == -1 || endBuf == -1 {
		return MemView{}
	}

	newBuf := make([][]byte, endBuf+1-startBuf)
	copy(newBuf, mv.buf[startBuf:endBuf+1])
	sub := MemView{
		buf:    newBuf,
		length: end - start,
	}
	if len(sub.buf) == 1 {
		sub.buf[0] = sub.buf[0][startOffset:endOffset]
	} else {
		sub.buf[0] = sub.buf[0][startOffset:]
		sub.buf[len(sub.buf)-1] = sub.buf[len(sub.buf)-1][:endOffset]
	}
	return sub
}

// String returns a copy of the data referenced by mv.
func (mv MemView) String() string {
	var buf bytes.Buffer
	io.Copy(&buf, mv.Reader())
	return buf.String()
}

// Equal reports whether left and right reference identical byte content,
// independent of how each is chunked internally.
func (left MemView) Equal(right MemView) bool {
	if left.length != right.length {
		return false
	}

	li, lo, ri, ro := 0, 0, 0, 0
	for idx := int64(0); idx < left.length; idx++ {
		for lo >= len(left.buf[li]) {
			li++
			lo = 0
		}
		for ro >= len(right.buf[ri]) {
			ri++
			ro = 0
		}
		if left.buf[li][lo] != right.buf[ri][ro] {
			return false
		}
		lo++
		ro++
	}
	return true
}

// Reader sequentially consumes a MemView's bytes.
type Reader struct {
	mv      *MemView
	rIndex  int
	rOffset int
	gOffset int64
}

var _ io.ReadSeeker = (*Reader)(nil)

func (r *Reader) ReadByte() (byte, error) {
	if r.rIndex >= len(r.mv.buf) {
		return 0, io.EOF
	}
	for i := r.rIndex; i < len(r.mv.buf); i++ {
		curBuf := r.mv.buf[r.rIndex]
		if r.rOffset < len(curBuf) {
			result := curBuf[r.rOffset]
			r.rOffset++
			r.gOffset++
			return result, nil
		}
		r.rIndex++
		r.rOffset = 0
	}
	return 0, io.EOF
}

func (r *Reader) ReadUint16BE() (uint16, error) {
	buf := make([]byte, 2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

func (r *Reader) ReadUint16LE() (uint16, error) {
	buf := make([]byte, 2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

func (r *Reader) ReadUint32LE() (uint32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadBytes reads exactly n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Read implements io.Reader. Unlike bytes.Buffer it never returns io.EOF for
// a partial read; callers that need "short read" semantics should use
// io.ReadFull, as the field readers above do.
func (r *Reader) Read(out []byte) (int, error) {
	if len(out) == 0 {
		return 0, nil
	} else if r.rIndex >= len(r.mv.buf) {
		return 0, io.EOF
	}

	bytesRead := 0
	for i := r.rIndex; i < len(r.mv.buf); i++ {
		curr := r.mv.buf[i][r.rOffset:]
		cp := copy(out[bytesRead:], curr)
		bytesRead += cp
		if cp == len(curr) {
			r.rIndex++
			r.rOffset = 0
			r.gOffset += int64(cp)
		} else {
			r.rOffset += cp
			r.gOffset += int64(cp)
			return bytesRead, nil
		}
	}
	return bytesRead, nil
}

// Seek implements io.Seeker.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var err error
	rIndex, rOffset, gOffset := r.rIndex, r.rOffset, r.gOffset
	defer func() {
		if err != nil {
			r.rIndex, r.rOffset, r.gOffset = rIndex, rOffset, gOffset
		}
	}()

	switch whence {
	case io.SeekStart:
		r.rIndex, r.rOffset, r.gOffset = 0, 0, 0
		return r.Seek(offset, io.SeekCurrent)

	case io.SeekEnd:
		r.rIndex, r.rOffset, r.gOffset = len(r.mv.buf), 0, r.mv.length
		return r.Seek(offset, io.SeekCurrent)

	case io.SeekCurrent:
		for {
			if offset == 0 {
				return r.gOffset, nil
			}
			if r.rIndex < len(r.mv.buf) {
				newROffset := int64(r.rOffset) + offset
				if 0 <= newROffset && newROffset < int64(len(r.mv.buf[r.rIndex])) {
					r.rOffset += int(offset)
					r.gOffset += offset
					return r.gOffset, nil
				}
			}

			if offset < 0 {
				offset += int64(r.rOffset)
				r.gOffset -= int64(r.rOffset)
				r.rIndex--
				if r.rIndex < 0 {
					err = errors.New("memview: seek before start")
					return 0, err
				}
				r.rOffset = len(r.mv.buf[r.rIndex])
			} else if r.rIndex < len(r.mv.buf) {
				curBuf := r.mv.buf[r.rIndex]
				numSkipped := len(curBuf) - r.rOffset
				offset -= int64(numSkipped)
				r.gOffset += int64(numSkipped)
				r.rIndex++
				r.rOffset = 0
			} else {
				return r.gOffset, nil
			}
		}

	default:
		err = errors.New("memview: invalid whence")
		return 0, err
	}
}

package bio

import (
	"io"

	"github.com/mrjoshuak/go-jpeg2000/internal/derr"
)

// ByteStream is a seekable, buffered byte reader with big-endian primitive
// reads, used by the codestream marker state machine. Endianness is fixed
// regardless of host per the codestream convention (section 4.1).
type ByteStream struct {
	r      io.Reader
	s      io.Seeker // non-nil if r also implements io.Seeker
	pos    int64
	size   int64 // -1 if unknown
	atSize bool
}

// NewByteStream wraps r. If r implements io.Seeker, Seek and BytesLeft (when
// the size is discoverable via io.Seeker to io.SeekEnd) become available.
func NewByteStream(r io.Reader) *ByteStream {
	bs := &ByteStream{r: r, size: -1}
	if s, ok := r.(io.Seeker); ok {
		bs.s = s
		if cur, err := s.Seek(0, io.SeekCurrent); err == nil {
			if end, err := s.Seek(0, io.SeekEnd); err == nil {
				if _, err := s.Seek(cur, io.SeekStart); err == nil {
					bs.size = end - cur
				}
			}
		}
	}
	return bs
}

// NewByteStreamBytes wraps an in-memory buffer, which is always seekable
// and has a known size.
func NewByteStreamBytes(data []byte) *ByteStream {
	br := &sliceReader{data: data}
	return &ByteStream{r: br, s: br, size: int64(len(data))}
}

type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func (r *sliceReader) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(r.pos)
	case io.SeekEnd:
		base = int64(len(r.data))
	}
	np := base + offset
	if np < 0 || np > int64(len(r.data)) {
		return 0, derr.New(derr.Unseekable, "seek out of range")
	}
	r.pos = int(np)
	return np, nil
}

// Read reads exactly n bytes, returning Truncated on short read.
func (s *ByteStream) Read(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(s.r, buf)
	s.pos += int64(read)
	if err != nil {
		return nil, derr.Wrap(derr.Truncated, s.pos, "short read", err)
	}
	return buf, nil
}

// ReadInto reads exactly len(buf) bytes into buf.
func (s *ByteStream) ReadInto(buf []byte) error {
	read, err := io.ReadFull(s.r, buf)
	s.pos += int64(read)
	if err != nil {
		return derr.Wrap(derr.Truncated, s.pos, "short read", err)
	}
	return nil
}

// ReadU8 reads one byte.
func (s *ByteStream) ReadU8() (uint8, error) {
	var b [1]byte
	if err := s.ReadInto(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16 reads a big-endian uint16.
func (s *ByteStream) ReadU16() (uint16, error) {
	var b [2]byte
	if err := s.ReadInto(b[:]); err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// ReadU32 reads a big-endian uint32.
func (s *ByteStream) ReadU32() (uint32, error) {
	var b [4]byte
	if err := s.ReadInto(b[:]); err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// Skip advances n bytes without returning them.
func (s *ByteStream) Skip(n int64) error {
	if n == 0 {
		return nil
	}
	if s.s != nil {
		np, err := s.s.Seek(n, io.SeekCurrent)
		if err != nil {
			return derr.Wrap(derr.Truncated, s.pos, "skip past end", err)
		}
		s.pos = np
		return nil
	}
	copied, err := io.CopyN(io.Discard, s.r, n)
	s.pos += copied
	if err != nil {
		return derr.Wrap(derr.Truncated, s.pos, "skip past end", err)
	}
	return nil
}

// Seek moves to an absolute byte position. Fails with Unseekable on a
// non-seekable transport.
func (s *ByteStream) Seek(pos int64) error {
	if s.s == nil {
		return derr.New(derr.Unseekable, "underlying transport does not support seek")
	}
	np, err := s.s.Seek(pos, io.SeekStart)
	if err != nil {
		return derr.Wrap(derr.Unseekable, pos, "seek failed", err)
	}
	s.pos = np
	return nil
}

// Tell returns the current byte position.
func (s *ByteStream) Tell() int64 { return s.pos }

// BytesLeft returns the number of unread bytes, or -1 if the stream has no
// known size (non-seekable transport without a reported length).
func (s *ByteStream) BytesLeft() int64 {
	if s.size < 0 {
		return -1
	}
	return s.size - s.pos
}

package ntfs

import (
	"io"
)

// Access selects what a Stream may do.
type Access int

const (
	AccessRead Access = 1 << iota
	AccessWrite

	AccessReadWrite = AccessRead | AccessWrite
)

// Stream is a byte stream over an attribute's content, resident or not.
//
// Storage is resolved on every call, so a stream stays valid across residency
// conversions of its attribute. Growing a non-resident stream allocates
// clusters; shrinking it releases them.
type Stream struct {
	attr   *Attribute
	access Access
	pos    int64
}

var (
	_ io.ReadWriteSeeker = (*Stream)(nil)
	_ io.ReaderAt        = (*Stream)(nil)
	_ io.WriterAt        = (*Stream)(nil)
)

func (s *Stream) check(want Access) error {
	if s.access&want == 0 {
		return newError(ErrInvalidState, s.attr.file.Reference(), "stream on attribute %s not opened for this access", s.attr)
	}
	return nil
}

// Attribute returns the attribute the stream reads and writes.
func (s *Stream) Attribute() *Attribute {
	return s.attr
}

// Length returns the current length of the content.
func (s *Stream) Length() int64 {
	return int64(s.attr.Length())
}

// ReadAt implements io.ReaderAt.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if err := s.check(AccessRead); err != nil {
		return 0, err
	}
	return s.attr.readAt(p, off)
}

// WriteAt implements io.WriterAt, extending the content as needed.
func (s *Stream) WriteAt(p []byte, off int64) (int, error) {
	if err := s.check(AccessWrite); err != nil {
		return 0, err
	}
	return s.attr.writeAt(p, off)
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.ReadAt(p, s.pos)
	s.pos += int64(n)
	return n, err
}

// Write implements io.Writer.
func (s *Stream) Write(p []byte) (int, error) {
	n, err := s.WriteAt(p, s.pos)
	s.pos += int64(n)
	return n, err
}

// Seek implements io.Seeker.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = s.pos + offset
	case io.SeekEnd:
		pos = s.Length() + offset
	default:
		return s.pos, newError(ErrInvalidArgument, s.attr.file.Reference(), "bad whence %d", whence)
	}
	if pos < 0 {
		return s.pos, newError(ErrInvalidArgument, s.attr.file.Reference(), "seek to negative offset %d", pos)
	}
	s.pos = pos
	return pos, nil
}

// SetLength truncates or extends the content. Extension reads as zeros.
func (s *Stream) SetLength(n int64) error {
	if err := s.check(AccessWrite); err != nil {
		return err
	}
	return s.attr.setLength(n)
}

// ReadAll returns the full content.
func (s *Stream) ReadAll() ([]byte, error) {
	if err := s.check(AccessRead); err != nil {
		return nil, err
	}
	return s.attr.content()
}

// Replace sets the content and length in one step.
func (s *Stream) Replace(data []byte) error {
	if err := s.check(AccessWrite); err != nil {
		return err
	}
	return s.attr.replace(data)
}

package stream

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

var (
	ErrAborted        = errors.New("stream aborted")
	ErrClosed         = errors.New("stream closed")
	ErrSeekOutOfRange = errors.New("seek out of range")
)

// Byte-addressable source a video is read from.
//
// Read follows io.Reader semantics. Seek positions the next Read at an
// absolute offset from the start of the stream.
type InputStream interface {
	io.Reader
	Seek(offset int64) error
	Size() int64
	Close() error
}

// Implemented by sources whose reads can block (network, user callbacks).
// After Abort every pending and future Read returns ErrAborted.
type Aborter interface {
	Abort()
}

// Sink used when writing containers. Seek is absolute, like InputStream.
type OutputStream interface {
	io.Writer
	Seek(offset int64) error
	Close() error
}

// Reads exactly len(p) bytes at offset.
func ReadAt(s InputStream, offset int64, p []byte) error {
	if offset < 0 || offset+int64(len(p)) > s.Size() {
		return errors.Wrapf(ErrSeekOutOfRange, "read %d bytes at %d (size %d)", len(p), offset, s.Size())
	}
	if err := s.Seek(offset); err != nil {
		return err
	}
	if _, err := io.ReadFull(s, p); err != nil {
		return errors.Wrapf(err, "read %d bytes at %d", len(p), offset)
	}
	return nil
}

// InputStream over a local file
type FileStream struct {
	mu      sync.Mutex
	file    *os.File
	size    int64
	aborted atomic.Bool
}

// Opens path for reading
func OpenFile(path string) (*FileStream, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open video file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "stat video file")
	}
	return &FileStream{file: file, size: info.Size()}, nil
}

func (f *FileStream) Read(p []byte) (int, error) {
	if f.aborted.Load() {
		return 0, ErrAborted
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return 0, ErrClosed
	}
	return f.file.Read(p)
}

func (f *FileStream) Seek(offset int64) error {
	if offset < 0 || offset > f.size {
		return errors.Wrapf(ErrSeekOutOfRange, "seek to %d (size %d)", offset, f.size)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return ErrClosed
	}
	_, err := f.file.Seek(offset, io.SeekStart)
	return errors.Wrap(err, "seek video file")
}

func (f *FileStream) Size() int64 {
	return f.size
}

func (f *FileStream) Abort() {
	f.aborted.Store(true)
}

func (f *FileStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// InputStream over an in-memory buffer
type MemoryStream struct {
	mu      sync.Mutex
	data    []byte
	pos     int64
	aborted atomic.Bool
}

// Wraps data without copying it
func NewMemoryStream(data []byte) *MemoryStream {
	return &MemoryStream{data: data}
}

func (m *MemoryStream) Read(p []byte) (int, error) {
	if m.aborted.Load() {
		return 0, ErrAborted
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *MemoryStream) Seek(offset int64) error {
	if offset < 0 || offset > int64(len(m.data)) {
		return errors.Wrapf(ErrSeekOutOfRange, "seek to %d (size %d)", offset, len(m.data))
	}
	m.mu.Lock()
	m.pos = offset
	m.mu.Unlock()
	return nil
}

func (m *MemoryStream) Size() int64 {
	return int64(len(m.data))
}

func (m *MemoryStream) Abort() {
	m.aborted.Store(true)
}

func (m *MemoryStream) Close() error {
	return nil
}

// User-supplied stream functions. Read, Seek and Size are required.
type Callbacks struct {
	Read  func(p []byte) (int, error)
	Seek  func(offset int64) error
	Size  func() int64
	Close func() error
	// Optional; called once when the stream is aborted to unblock a pending Read.
	Abort func()
}

// InputStream backed by Callbacks
type CallbackStream struct {
	cb      Callbacks
	aborted atomic.Bool
	closed  atomic.Bool
}

// Validates cb and wraps it
func NewCallbackStream(cb Callbacks) (*CallbackStream, error) {
	if cb.Read == nil || cb.Seek == nil || cb.Size == nil {
		return nil, errors.New("callback stream needs read, seek and size")
	}
	return &CallbackStream{cb: cb}, nil
}

func (c *CallbackStream) Read(p []byte) (int, error) {
	if c.aborted.Load() {
		return 0, ErrAborted
	}
	if c.closed.Load() {
		return 0, ErrClosed
	}
	n, err := c.cb.Read(p)
	if c.aborted.Load() {
		return n, ErrAborted
	}
	if n == 0 && err == nil {
		// a zero-length read with no error would spin io.ReadFull
		return 0, io.ErrUnexpectedEOF
	}
	return n, err
}

func (c *CallbackStream) Seek(offset int64) error {
	if c.aborted.Load() {
		return ErrAborted
	}
	return c.cb.Seek(offset)
}

func (c *CallbackStream) Size() int64 {
	return c.cb.Size()
}

func (c *CallbackStream) Abort() {
	if c.aborted.Swap(true) {
		return
	}
	if c.cb.Abort != nil {
		c.cb.Abort()
	}
}

func (c *CallbackStream) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.cb.Close != nil {
		return c.cb.Close()
	}
	return nil
}

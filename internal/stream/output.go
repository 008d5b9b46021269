package stream

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// OutputStream writing to a local file
type FileOutput struct {
	file *os.File
}

// Creates (or truncates) path
func CreateFile(path string) (*FileOutput, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create output file")
	}
	return &FileOutput{file: file}, nil
}

func (f *FileOutput) Write(p []byte) (int, error) {
	return f.file.Write(p)
}

func (f *FileOutput) Seek(offset int64) error {
	_, err := f.file.Seek(offset, io.SeekStart)
	return errors.Wrap(err, "seek output file")
}

func (f *FileOutput) Close() error {
	if err := f.file.Sync(); err != nil {
		f.file.Close()
		return errors.Wrap(err, "sync output file")
	}
	return f.file.Close()
}

// Growable in-memory OutputStream. Writes past the end extend the buffer.
type MemoryOutput struct {
	data []byte
	pos  int
}

func NewMemoryOutput() *MemoryOutput {
	return &MemoryOutput{}
}

func (m *MemoryOutput) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.data) {
		if end > cap(m.data) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.data)
			m.data = grown
		} else {
			m.data = m.data[:end]
		}
	}
	copy(m.data[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *MemoryOutput) Seek(offset int64) error {
	if offset < 0 || offset > int64(len(m.data)) {
		return errors.Wrapf(ErrSeekOutOfRange, "seek to %d (size %d)", offset, len(m.data))
	}
	m.pos = int(offset)
	return nil
}

func (m *MemoryOutput) Close() error {
	return nil
}

// Returns the written bytes. The slice aliases the buffer.
func (m *MemoryOutput) Bytes() []byte {
	return m.data
}

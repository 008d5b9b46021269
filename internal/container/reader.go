package container

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/0bVdnt/xrvideo/internal/stream"
	"github.com/pkg/errors"
)

type rawHeader struct {
	Magic            [4]byte
	Version          uint16
	Flags            uint16
	FrameCount       uint32
	Reserved         uint32
	IndexOffset      uint64
	Start            int64
	End              int64
	MaxVertexCount   uint32
	MaxIndexDataSize uint32
	MaxTextureWidth  uint32
	MaxTextureHeight uint32
	Padding          [8]byte
}

type rawIndexEntry struct {
	Offset     uint64
	RecordSize uint32
	Flags      uint32
	Start      int64
	End        int64
}

// Parses the header and index of an XRVideo stream and reads frame records
type Reader struct {
	mu    sync.Mutex
	src   stream.InputStream
	info  Info
	index *Index
}

// Reads the header and the frame index from src
func Open(src stream.InputStream) (*Reader, error) {
	size := src.Size()
	if size < HeaderSize {
		return nil, errors.Wrapf(ErrTruncated, "stream of %d bytes", size)
	}

	headerBuf := make([]byte, HeaderSize)
	if err := stream.ReadAt(src, 0, headerBuf); err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	var hdr rawHeader
	if err := binary.Read(bytes.NewReader(headerBuf), binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "decode header")
	}
	if string(hdr.Magic[:]) != Magic {
		return nil, ErrBadMagic
	}
	if hdr.Version != Version {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "version %d", hdr.Version)
	}

	indexSize := int64(hdr.FrameCount) * IndexEntrySize
	if hdr.FrameCount == 0 || hdr.IndexOffset < HeaderSize || hdr.IndexOffset > uint64(size) ||
		uint64(indexSize) > uint64(size)-hdr.IndexOffset {
		return nil, errors.Wrapf(ErrTruncated, "index of %d frames at %d", hdr.FrameCount, hdr.IndexOffset)
	}

	indexBuf := make([]byte, indexSize)
	if err := stream.ReadAt(src, int64(hdr.IndexOffset), indexBuf); err != nil {
		return nil, errors.Wrap(err, "read index")
	}

	raw := make([]rawIndexEntry, hdr.FrameCount)
	if err := binary.Read(bytes.NewReader(indexBuf), binary.LittleEndian, raw); err != nil {
		return nil, errors.Wrap(err, "decode index")
	}

	entries := make([]IndexEntry, len(raw))
	for i, e := range raw {
		if e.Offset < HeaderSize || e.Offset > hdr.IndexOffset ||
			uint64(e.RecordSize) > hdr.IndexOffset-e.Offset {
			return nil, errors.Wrapf(ErrCorruptIndex, "frame %d overlaps the index", i)
		}
		entries[i] = IndexEntry{
			Offset:         int64(e.Offset),
			RecordSize:     e.RecordSize,
			Keyframe:       e.Flags&flagKeyframe != 0,
			StartTimestamp: e.Start,
			EndTimestamp:   e.End,
		}
	}

	index, err := NewIndex(entries)
	if err != nil {
		return nil, err
	}

	return &Reader{
		src:   src,
		index: index,
		info: Info{
			FrameCount:       len(entries),
			StartTimestamp:   index.StartTimestamp(),
			EndTimestamp:     index.EndTimestamp(),
			MaxVertexCount:   hdr.MaxVertexCount,
			MaxIndexDataSize: hdr.MaxIndexDataSize,
			MaxTextureWidth:  hdr.MaxTextureWidth,
			MaxTextureHeight: hdr.MaxTextureHeight,
		},
	}, nil
}

func (r *Reader) Info() Info {
	return r.info
}

func (r *Reader) Index() *Index {
	return r.index
}

// Reads the record of frame i into buf, growing it when needed.
func (r *Reader) ReadFrame(i int, buf []byte) ([]byte, error) {
	if i < 0 || i >= r.index.Len() {
		return buf, errors.Errorf("frame %d out of range [0,%d)", i, r.index.Len())
	}
	e := r.index.Entry(i)

	if cap(buf) < int(e.RecordSize) {
		buf = make([]byte, e.RecordSize)
	}
	buf = buf[:e.RecordSize]

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := stream.ReadAt(r.src, e.Offset, buf); err != nil {
		return buf, errors.Wrapf(err, "read frame %d", i)
	}
	return buf, nil
}

// Aborts a blocked read on sources that support it
func (r *Reader) Abort() {
	if a, ok := r.src.(stream.Aborter); ok {
		a.Abort()
	}
}

// Closes the underlying stream
func (r *Reader) Close() error {
	return r.src.Close()
}

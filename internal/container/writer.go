package container

import (
	"bytes"
	"encoding/binary"

	"github.com/0bVdnt/xrvideo/internal/stream"
	"github.com/pkg/errors"
)

// Writes an XRVideo stream: header placeholder, frame records, then the
// index, then the patched header.
type Writer struct {
	out     stream.OutputStream
	offset  int64
	entries []IndexEntry
	info    Info
	done    bool
}

// Reserves space for the header in out
func NewWriter(out stream.OutputStream) (*Writer, error) {
	if _, err := out.Write(make([]byte, HeaderSize)); err != nil {
		return nil, errors.Wrap(err, "write header placeholder")
	}
	return &Writer{out: out, offset: HeaderSize}, nil
}

// Appends one frame record. meta.PayloadSize is set from payload.
func (w *Writer) WriteFrame(meta FrameMetadata, payload []byte) error {
	if w.done {
		return errors.New("writer already finished")
	}
	if len(w.entries) == 0 && !meta.IsKeyframe {
		return errors.Wrap(ErrInvalidMetadata, "first frame must be a keyframe")
	}
	if n := len(w.entries); n > 0 && meta.StartTimestamp < w.entries[n-1].StartTimestamp {
		return errors.Wrapf(ErrInvalidMetadata, "frame %d timestamp goes backwards", n)
	}

	meta.PayloadSize = uint32(len(payload))
	if err := meta.Validate(); err != nil {
		return err
	}
	block, err := meta.MarshalBinary()
	if err != nil {
		return err
	}

	if _, err := w.out.Write(block); err != nil {
		return errors.Wrap(err, "write frame metadata")
	}
	if _, err := w.out.Write(payload); err != nil {
		return errors.Wrap(err, "write frame payload")
	}

	size := uint32(len(block) + len(payload))
	w.entries = append(w.entries, IndexEntry{
		Offset:         w.offset,
		RecordSize:     size,
		Keyframe:       meta.IsKeyframe,
		StartTimestamp: meta.StartTimestamp,
		EndTimestamp:   meta.EndTimestamp,
	})
	w.offset += int64(size)

	if meta.UniqueVertexCount > w.info.MaxVertexCount {
		w.info.MaxVertexCount = meta.UniqueVertexCount
	}
	if meta.IndexDataSize > w.info.MaxIndexDataSize {
		w.info.MaxIndexDataSize = meta.IndexDataSize
	}
	if meta.TextureWidth > w.info.MaxTextureWidth {
		w.info.MaxTextureWidth = meta.TextureWidth
	}
	if meta.TextureHeight > w.info.MaxTextureHeight {
		w.info.MaxTextureHeight = meta.TextureHeight
	}
	return nil
}

// Writes the index and the final header. The output stream is left open.
func (w *Writer) Finish() error {
	if w.done {
		return nil
	}
	if len(w.entries) == 0 {
		return errors.Wrap(ErrCorruptIndex, "no frames written")
	}
	w.done = true

	var buf bytes.Buffer
	for _, e := range w.entries {
		raw := rawIndexEntry{
			Offset:     uint64(e.Offset),
			RecordSize: e.RecordSize,
			Start:      e.StartTimestamp,
			End:        e.EndTimestamp,
		}
		if e.Keyframe {
			raw.Flags = flagKeyframe
		}
		binary.Write(&buf, binary.LittleEndian, &raw)
	}
	if _, err := w.out.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "write index")
	}

	hdr := rawHeader{
		Version:          Version,
		FrameCount:       uint32(len(w.entries)),
		IndexOffset:      uint64(w.offset),
		Start:            w.entries[0].StartTimestamp,
		End:              w.entries[len(w.entries)-1].EndTimestamp,
		MaxVertexCount:   w.info.MaxVertexCount,
		MaxIndexDataSize: w.info.MaxIndexDataSize,
		MaxTextureWidth:  w.info.MaxTextureWidth,
		MaxTextureHeight: w.info.MaxTextureHeight,
	}
	copy(hdr.Magic[:], Magic)

	buf.Reset()
	binary.Write(&buf, binary.LittleEndian, &hdr)
	if err := w.out.Seek(0); err != nil {
		return errors.Wrap(err, "seek to header")
	}
	if _, err := w.out.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "write header")
	}
	return nil
}

// Number of frames written so far
func (w *Writer) FrameCount() int {
	return len(w.entries)
}

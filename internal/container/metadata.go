package container

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

const (
	Magic          = "XRVF"
	Version        = 1
	HeaderSize     = 64
	MetadataSize   = 72
	IndexEntrySize = 32

	// float32 x, y, z
	VertexStride = 12
	// float32 dx, dy, dz per keyframe vertex
	DeformationStride = 12
	IndexStride       = 4
)

var (
	ErrBadMagic           = errors.New("not an XRVideo stream")
	ErrUnsupportedVersion = errors.New("unsupported XRVideo version")
	ErrTruncated          = errors.New("truncated XRVideo stream")
	ErrCorruptIndex       = errors.New("corrupt frame index")
	ErrInvalidMetadata    = errors.New("invalid frame metadata")
)

const (
	flagKeyframe uint32 = 1 << iota
	flagVertexAlpha
)

// Describes one compressed frame
type FrameMetadata struct {
	StartTimestamp int64
	EndTimestamp   int64
	IsKeyframe     bool
	HasVertexAlpha bool

	// Luma plane size; chroma planes are half resolution on both axes.
	TextureWidth  uint32
	TextureHeight uint32

	UniqueVertexCount        uint32
	RenderableVertexDataSize uint32
	IndexDataSize            uint32
	DeformationDataSize      uint32
	PayloadSize              uint32

	// position = VertexFactor * decoded + BBoxMin
	BBoxMin      [3]float32
	VertexFactor [3]float32
}

type rawMetadata struct {
	Start                    int64
	End                      int64
	Flags                    uint32
	TextureWidth             uint32
	TextureHeight            uint32
	UniqueVertexCount        uint32
	RenderableVertexDataSize uint32
	IndexDataSize            uint32
	DeformationDataSize      uint32
	PayloadSize              uint32
	BBoxMin                  [3]float32
	VertexFactor             [3]float32
}

// Returns the YUV 4:2:0 texture size in bytes
func (m *FrameMetadata) TextureDataSize() int {
	w, h := int(m.TextureWidth), int(m.TextureHeight)
	return w*h + 2*((w/2)*(h/2))
}

// Number of renderable vertices, including duplicates of unique vertices
func (m *FrameMetadata) RenderableVertexCount() int {
	return int(m.RenderableVertexDataSize) / VertexStride
}

// Number of renderable vertices that duplicate a unique vertex
func (m *FrameMetadata) DuplicatedVertexCount() int {
	n := m.RenderableVertexCount() - int(m.UniqueVertexCount)
	if n < 0 {
		return 0
	}
	return n
}

func (m *FrameMetadata) Duration() time.Duration {
	return time.Duration(m.EndTimestamp - m.StartTimestamp)
}

// Checks the keyframe/non-keyframe payload invariants
func (m *FrameMetadata) Validate() error {
	if m.EndTimestamp < m.StartTimestamp {
		return errors.Wrapf(ErrInvalidMetadata, "end %d before start %d", m.EndTimestamp, m.StartTimestamp)
	}
	if m.DeformationDataSize%DeformationStride != 0 {
		return errors.Wrapf(ErrInvalidMetadata, "deformation size %d not a multiple of %d",
			m.DeformationDataSize, DeformationStride)
	}
	if m.IsKeyframe {
		if m.UniqueVertexCount == 0 || m.IndexDataSize == 0 {
			return errors.Wrap(ErrInvalidMetadata, "keyframe without vertices or indices")
		}
		if m.RenderableVertexDataSize%VertexStride != 0 ||
			m.RenderableVertexCount() < int(m.UniqueVertexCount) {
			return errors.Wrapf(ErrInvalidMetadata, "renderable vertex size %d for %d unique vertices",
				m.RenderableVertexDataSize, m.UniqueVertexCount)
		}
		if m.IndexDataSize%IndexStride != 0 {
			return errors.Wrapf(ErrInvalidMetadata, "index size %d not a multiple of %d",
				m.IndexDataSize, IndexStride)
		}
		return nil
	}
	if m.RenderableVertexDataSize != 0 || m.IndexDataSize != 0 || m.HasVertexAlpha {
		return errors.Wrap(ErrInvalidMetadata, "non-keyframe carries topology")
	}
	return nil
}

// Encodes the metadata block
func (m *FrameMetadata) MarshalBinary() ([]byte, error) {
	raw := rawMetadata{
		Start:                    m.StartTimestamp,
		End:                      m.EndTimestamp,
		TextureWidth:             m.TextureWidth,
		TextureHeight:            m.TextureHeight,
		UniqueVertexCount:        m.UniqueVertexCount,
		RenderableVertexDataSize: m.RenderableVertexDataSize,
		IndexDataSize:            m.IndexDataSize,
		DeformationDataSize:      m.DeformationDataSize,
		PayloadSize:              m.PayloadSize,
		BBoxMin:                  m.BBoxMin,
		VertexFactor:             m.VertexFactor,
	}
	if m.IsKeyframe {
		raw.Flags |= flagKeyframe
	}
	if m.HasVertexAlpha {
		raw.Flags |= flagVertexAlpha
	}

	var buf bytes.Buffer
	buf.Grow(MetadataSize)
	if err := binary.Write(&buf, binary.LittleEndian, &raw); err != nil {
		return nil, errors.Wrap(err, "encode frame metadata")
	}
	return buf.Bytes(), nil
}

// Decodes the metadata block at the start of a frame record and returns
// the compressed payload that follows it.
func ParseFrame(record []byte) (FrameMetadata, []byte, error) {
	if len(record) < MetadataSize {
		return FrameMetadata{}, nil, errors.Wrapf(ErrTruncated, "frame record of %d bytes", len(record))
	}

	var raw rawMetadata
	if err := binary.Read(bytes.NewReader(record[:MetadataSize]), binary.LittleEndian, &raw); err != nil {
		return FrameMetadata{}, nil, errors.Wrap(err, "decode frame metadata")
	}

	meta := FrameMetadata{
		StartTimestamp:           raw.Start,
		EndTimestamp:             raw.End,
		IsKeyframe:               raw.Flags&flagKeyframe != 0,
		HasVertexAlpha:           raw.Flags&flagVertexAlpha != 0,
		TextureWidth:             raw.TextureWidth,
		TextureHeight:            raw.TextureHeight,
		UniqueVertexCount:        raw.UniqueVertexCount,
		RenderableVertexDataSize: raw.RenderableVertexDataSize,
		IndexDataSize:            raw.IndexDataSize,
		DeformationDataSize:      raw.DeformationDataSize,
		PayloadSize:              raw.PayloadSize,
		BBoxMin:                  raw.BBoxMin,
		VertexFactor:             raw.VertexFactor,
	}
	if err := meta.Validate(); err != nil {
		return FrameMetadata{}, nil, err
	}

	payload := record[MetadataSize:]
	if len(payload) < int(meta.PayloadSize) {
		return FrameMetadata{}, nil, errors.Wrapf(ErrTruncated, "payload %d of %d bytes",
			len(payload), meta.PayloadSize)
	}
	return meta, payload[:meta.PayloadSize], nil
}

// Per-video information handed to frame resource factories
type Info struct {
	FrameCount     int
	StartTimestamp int64
	EndTimestamp   int64

	MaxVertexCount   uint32
	MaxIndexDataSize uint32
	MaxTextureWidth  uint32
	MaxTextureHeight uint32
}

func (i Info) Duration() time.Duration {
	return time.Duration(i.EndTimestamp - i.StartTimestamp)
}

// Average frames per second, 0 for an empty or instantaneous video
func (i Info) FrameRate() float64 {
	d := i.Duration()
	if i.FrameCount == 0 || d <= 0 {
		return 0
	}
	return float64(i.FrameCount) / d.Seconds()
}

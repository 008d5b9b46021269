package codec

import (
	"encoding/binary"
	"math"

	"github.com/0bVdnt/xrvideo/internal/container"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Uncompressed frame content accepted by the Encoder
type RawFrame struct {
	StartTimestamp int64
	EndTimestamp   int64
	Keyframe       bool

	// Keyframe topology
	Positions  [][3]float32
	Alpha      []byte
	Duplicates []uint32
	Indices    []uint32

	// Offsets from the keyframe positions, one per keyframe vertex
	Deformation [][3]float32

	TextureWidth  int
	TextureHeight int
	Texture       []byte
}

// Produces reference codec payloads
type Encoder struct {
	enc *zstd.Encoder
}

func NewEncoder() (*Encoder, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, errors.Wrap(err, "create zstd encoder")
	}
	return &Encoder{enc: enc}, nil
}

func (e *Encoder) Close() error {
	return e.enc.Close()
}

// Builds the metadata and compressed payload of f
func (e *Encoder) Encode(f *RawFrame) (container.FrameMetadata, []byte, error) {
	meta := container.FrameMetadata{
		StartTimestamp:      f.StartTimestamp,
		EndTimestamp:        f.EndTimestamp,
		IsKeyframe:          f.Keyframe,
		TextureWidth:        uint32(f.TextureWidth),
		TextureHeight:       uint32(f.TextureHeight),
		DeformationDataSize: uint32(len(f.Deformation) * container.DeformationStride),
	}
	if len(f.Texture) != meta.TextureDataSize() {
		return meta, nil, errors.Errorf("texture of %d bytes, want %d", len(f.Texture), meta.TextureDataSize())
	}

	var raw []byte
	if f.Keyframe {
		if len(f.Positions) == 0 || len(f.Indices) == 0 {
			return meta, nil, errors.New("keyframe needs positions and indices")
		}
		if f.Alpha != nil && len(f.Alpha) != len(f.Positions) {
			return meta, nil, errors.New("alpha count differs from vertex count")
		}

		meta.UniqueVertexCount = uint32(len(f.Positions))
		meta.RenderableVertexDataSize = uint32((len(f.Positions) + len(f.Duplicates)) * container.VertexStride)
		meta.IndexDataSize = uint32(len(f.Indices) * container.IndexStride)
		meta.HasVertexAlpha = f.Alpha != nil
		meta.BBoxMin, meta.VertexFactor = quantizationRange(f.Positions)

		for _, p := range f.Positions {
			for c := 0; c < 3; c++ {
				raw = binary.LittleEndian.AppendUint16(raw, quantize(p[c], meta.BBoxMin[c], meta.VertexFactor[c]))
			}
		}
		raw = append(raw, f.Alpha...)
		for _, d := range f.Duplicates {
			raw = binary.LittleEndian.AppendUint32(raw, d)
		}
		for _, i := range f.Indices {
			raw = binary.LittleEndian.AppendUint32(raw, i)
		}
	} else if len(f.Positions) != 0 || len(f.Indices) != 0 {
		return meta, nil, errors.New("non-keyframe carries topology")
	}

	for _, d := range f.Deformation {
		for c := 0; c < 3; c++ {
			raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(d[c]))
		}
	}
	raw = append(raw, f.Texture...)

	if err := meta.Validate(); err != nil {
		return meta, nil, err
	}
	return meta, e.enc.EncodeAll(raw, nil), nil
}

func quantizationRange(positions [][3]float32) (min, factor [3]float32) {
	max := positions[0]
	min = positions[0]
	for _, p := range positions[1:] {
		for c := 0; c < 3; c++ {
			min[c] = float32(math.Min(float64(min[c]), float64(p[c])))
			max[c] = float32(math.Max(float64(max[c]), float64(p[c])))
		}
	}
	for c := 0; c < 3; c++ {
		factor[c] = (max[c] - min[c]) / math.MaxUint16
	}
	return min, factor
}

func quantize(v, min, factor float32) uint16 {
	if factor == 0 {
		return 0
	}
	q := math.Round(float64((v - min) / factor))
	if q < 0 {
		return 0
	}
	if q > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(q)
}

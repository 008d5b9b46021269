package codec

import (
	"encoding/binary"
	"math"

	"github.com/0bVdnt/xrvideo/internal/container"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

var (
	ErrMissingDestination = errors.New("missing decode destination")
	ErrShortDestination   = errors.New("decode destination too small")
	ErrCorruptPayload     = errors.New("corrupt frame payload")
)

// Buffers a frame is decoded into. They are owned by the frame resource
// layer; for GPU backends these are mapped staging buffers.
type Destinations struct {
	Vertices    []byte
	Indices     []byte
	Deformation []byte
	Texture     []byte
	// Optional. Receives the renderable-to-unique vertex map of duplicated vertices.
	DuplicatedVertexIndices []byte
}

// Turns a compressed payload into renderable buffers
type Decoder interface {
	// Decode fills dst from payload. The returned per-vertex alpha is nil
	// unless meta.HasVertexAlpha, and stays valid until the next call.
	Decode(meta *container.FrameMetadata, payload []byte, dst *Destinations) ([]byte, error)
	Close()
}

// Checks that every destination meta requires is present and large enough.
// Keyframes need vertices, indices, deformation and texture; other frames
// only deformation and texture.
func CheckDestinations(meta *container.FrameMetadata, dst *Destinations) error {
	if dst == nil {
		return ErrMissingDestination
	}
	type need struct {
		name string
		buf  []byte
		size int
	}
	needs := []need{
		{"deformation", dst.Deformation, int(meta.DeformationDataSize)},
		{"texture", dst.Texture, meta.TextureDataSize()},
	}
	if meta.IsKeyframe {
		needs = append(needs,
			need{"vertices", dst.Vertices, int(meta.RenderableVertexDataSize)},
			need{"indices", dst.Indices, int(meta.IndexDataSize)},
		)
	}
	for _, n := range needs {
		if n.buf == nil {
			return errors.Wrap(ErrMissingDestination, n.name)
		}
		if len(n.buf) < n.size {
			return errors.Wrapf(ErrShortDestination, "%s: %d of %d bytes", n.name, len(n.buf), n.size)
		}
	}
	if meta.IsKeyframe && dst.DuplicatedVertexIndices != nil &&
		len(dst.DuplicatedVertexIndices) < meta.DuplicatedVertexCount()*4 {
		return errors.Wrap(ErrShortDestination, "duplicated vertex indices")
	}
	return nil
}

// Reference codec: zstd-compressed sections with 16-bit quantized positions.
type ZstdDecoder struct {
	dec     *zstd.Decoder
	scratch []byte
	alpha   []byte
}

// Creates a decoder for use by a single goroutine
func NewZstdDecoder() (*ZstdDecoder, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, errors.Wrap(err, "create zstd decoder")
	}
	return &ZstdDecoder{dec: dec}, nil
}

func (d *ZstdDecoder) Close() {
	d.dec.Close()
}

func (d *ZstdDecoder) Decode(meta *container.FrameMetadata, payload []byte, dst *Destinations) ([]byte, error) {
	if err := CheckDestinations(meta, dst); err != nil {
		return nil, err
	}

	raw, err := d.dec.DecodeAll(payload, d.scratch[:0])
	if err != nil {
		return nil, errors.Wrap(ErrCorruptPayload, err.Error())
	}
	d.scratch = raw

	if want := sectionsSize(meta); len(raw) != want {
		return nil, errors.Wrapf(ErrCorruptPayload, "decompressed %d bytes, want %d", len(raw), want)
	}

	pos := 0
	var alpha []byte
	if meta.IsKeyframe {
		unique := int(meta.UniqueVertexCount)
		for v := 0; v < unique; v++ {
			for c := 0; c < 3; c++ {
				q := binary.LittleEndian.Uint16(raw[pos:])
				p := meta.VertexFactor[c]*float32(q) + meta.BBoxMin[c]
				binary.LittleEndian.PutUint32(dst.Vertices[v*container.VertexStride+c*4:], math.Float32bits(p))
				pos += 2
			}
		}

		if meta.HasVertexAlpha {
			d.alpha = append(d.alpha[:0], raw[pos:pos+unique]...)
			alpha = d.alpha
			pos += unique
		}

		dups := meta.DuplicatedVertexCount()
		for j := 0; j < dups; j++ {
			src := binary.LittleEndian.Uint32(raw[pos+j*4:])
			if int(src) >= unique {
				return nil, errors.Wrapf(ErrCorruptPayload, "duplicate %d refers to vertex %d", j, src)
			}
			from := int(src) * container.VertexStride
			to := (unique + j) * container.VertexStride
			copy(dst.Vertices[to:to+container.VertexStride], dst.Vertices[from:from+container.VertexStride])
		}
		if dst.DuplicatedVertexIndices != nil {
			copy(dst.DuplicatedVertexIndices, raw[pos:pos+dups*4])
		}
		pos += dups * 4

		renderable := uint32(meta.RenderableVertexCount())
		indices := raw[pos : pos+int(meta.IndexDataSize)]
		for i := 0; i < len(indices); i += container.IndexStride {
			if binary.LittleEndian.Uint32(indices[i:]) >= renderable {
				return nil, errors.Wrapf(ErrCorruptPayload, "index %d out of range", i/container.IndexStride)
			}
		}
		copy(dst.Indices, indices)
		pos += len(indices)
	}

	pos += copy(dst.Deformation[:meta.DeformationDataSize], raw[pos:pos+int(meta.DeformationDataSize)])
	copy(dst.Texture[:meta.TextureDataSize()], raw[pos:pos+meta.TextureDataSize()])

	return alpha, nil
}

// Size of the decompressed section stream described by meta
func sectionsSize(meta *container.FrameMetadata) int {
	n := int(meta.DeformationDataSize) + meta.TextureDataSize()
	if meta.IsKeyframe {
		unique := int(meta.UniqueVertexCount)
		n += unique*6 + meta.DuplicatedVertexCount()*4 + int(meta.IndexDataSize)
		if meta.HasVertexAlpha {
			n += unique
		}
	}
	return n
}

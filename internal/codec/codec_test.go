package codec

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/0bVdnt/xrvideo/internal/container"
	"github.com/pkg/errors"
)

func texture(w, h int, fill byte) []byte {
	buf := make([]byte, w*h+2*((w/2)*(h/2)))
	for i := range buf {
		buf[i] = fill
	}
	return buf
}

func allocate(meta *container.FrameMetadata) *Destinations {
	dst := &Destinations{
		Deformation: make([]byte, meta.DeformationDataSize),
		Texture:     make([]byte, meta.TextureDataSize()),
	}
	if meta.IsKeyframe {
		dst.Vertices = make([]byte, meta.RenderableVertexDataSize)
		dst.Indices = make([]byte, meta.IndexDataSize)
		dst.DuplicatedVertexIndices = make([]byte, meta.DuplicatedVertexCount()*4)
	}
	return dst
}

func vertex(buf []byte, i int) [3]float32 {
	var v [3]float32
	for c := 0; c < 3; c++ {
		v[c] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*12+c*4:]))
	}
	return v
}

func TestKeyframeRoundTrip(t *testing.T) {
	enc, err := NewEncoder()
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	dec, err := NewZstdDecoder()
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	positions := [][3]float32{{-1, 0, 2}, {1, 0.5, 2}, {0, 1, -2}, {0.25, -0.75, 0}}
	raw := &RawFrame{
		StartTimestamp: 0,
		EndTimestamp:   33,
		Keyframe:       true,
		Positions:      positions,
		Alpha:          []byte{255, 128, 64, 0},
		Duplicates:     []uint32{2},
		Indices:        []uint32{0, 1, 2, 2, 3, 4},
		Deformation:    make([][3]float32, 4),
		TextureWidth:   4,
		TextureHeight:  2,
		Texture:        texture(4, 2, 7),
	}

	meta, payload, err := enc.Encode(raw)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if meta.RenderableVertexCount() != 5 || meta.DuplicatedVertexCount() != 1 {
		t.Fatalf("vertex counts: renderable=%d duplicated=%d", meta.RenderableVertexCount(), meta.DuplicatedVertexCount())
	}
	meta.PayloadSize = uint32(len(payload))

	dst := allocate(&meta)
	alpha, err := dec.Decode(&meta, payload, dst)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	// quantization error is bounded by half a step on each axis
	for i, want := range positions {
		got := vertex(dst.Vertices, i)
		for c := 0; c < 3; c++ {
			if diff := math.Abs(float64(got[c] - want[c])); diff > float64(meta.VertexFactor[c])+1e-5 {
				t.Errorf("vertex %d axis %d: got %v want %v", i, c, got[c], want[c])
			}
		}
	}
	if vertex(dst.Vertices, 4) != vertex(dst.Vertices, 2) {
		t.Error("duplicated vertex not copied from its source")
	}
	if binary.LittleEndian.Uint32(dst.DuplicatedVertexIndices) != 2 {
		t.Error("duplicated vertex map not written")
	}
	if len(alpha) != 4 || alpha[1] != 128 {
		t.Errorf("alpha = %v", alpha)
	}
	if binary.LittleEndian.Uint32(dst.Indices[20:]) != 4 {
		t.Error("indices not copied")
	}
	if dst.Texture[0] != 7 {
		t.Error("texture not copied")
	}
}

func TestDeltaFrameNeedsOnlyDeformationAndTexture(t *testing.T) {
	enc, _ := NewEncoder()
	defer enc.Close()
	dec, _ := NewZstdDecoder()
	defer dec.Close()

	meta, payload, err := enc.Encode(&RawFrame{
		StartTimestamp: 33,
		EndTimestamp:   66,
		Deformation:    [][3]float32{{0.5, 0, 0}, {0, -0.25, 0}},
		TextureWidth:   2,
		TextureHeight:  2,
		Texture:        texture(2, 2, 1),
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dst := &Destinations{
		Deformation: make([]byte, meta.DeformationDataSize),
		Texture:     make([]byte, meta.TextureDataSize()),
	}
	alpha, err := dec.Decode(&meta, payload, dst)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if alpha != nil {
		t.Error("delta frame returned alpha")
	}
	if got := vertex(dst.Deformation, 0); got[0] != 0.5 {
		t.Errorf("deformation[0] = %v", got)
	}
}

func TestMissingDestinationIsHardFailure(t *testing.T) {
	enc, _ := NewEncoder()
	defer enc.Close()
	dec, _ := NewZstdDecoder()
	defer dec.Close()

	meta, payload, err := enc.Encode(&RawFrame{
		Keyframe:      true,
		EndTimestamp:  10,
		Positions:     [][3]float32{{0, 0, 0}, {1, 1, 1}, {2, 2, 2}},
		Indices:       []uint32{0, 1, 2},
		Deformation:   make([][3]float32, 3),
		TextureWidth:  2,
		TextureHeight: 2,
		Texture:       texture(2, 2, 0),
	})
	if err != nil {
		t.Fatal(err)
	}

	dst := allocate(&meta)
	dst.Indices = nil
	if _, err := dec.Decode(&meta, payload, dst); !errors.Is(err, ErrMissingDestination) {
		t.Errorf("nil indices: got %v, want ErrMissingDestination", err)
	}

	dst = allocate(&meta)
	dst.Texture = dst.Texture[:1]
	if _, err := dec.Decode(&meta, payload, dst); !errors.Is(err, ErrShortDestination) {
		t.Errorf("short texture: got %v, want ErrShortDestination", err)
	}
}

func TestCorruptPayload(t *testing.T) {
	dec, _ := NewZstdDecoder()
	defer dec.Close()

	meta := container.FrameMetadata{
		EndTimestamp:        1,
		DeformationDataSize: 12,
		TextureWidth:        2,
		TextureHeight:       2,
	}
	dst := allocate(&meta)
	if _, err := dec.Decode(&meta, []byte("definitely not zstd"), dst); !errors.Is(err, ErrCorruptPayload) {
		t.Errorf("got %v, want ErrCorruptPayload", err)
	}
}

package resources

import (
	"testing"
	"time"

	"github.com/0bVdnt/xrvideo/internal/codec"
	"github.com/0bVdnt/xrvideo/internal/container"
	"github.com/0bVdnt/xrvideo/internal/synth"
	"github.com/pkg/errors"
)

// encodes, decodes and transfers frame i of a synthetic video into frame
func decodeInto(t *testing.T, m *Memory, frame UserData, opts synth.Options, i int) container.FrameMetadata {
	t.Helper()
	enc, err := codec.NewEncoder()
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	dec, err := codec.NewZstdDecoder()
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	meta, payload, err := enc.Encode(synth.Frame(opts, i))
	if err != nil {
		t.Fatal(err)
	}
	dst, err := m.PrepareDecodeDestinations(frame, &meta)
	if err != nil {
		t.Fatal(err)
	}
	alpha, err := dec.Decode(&meta, payload, dst)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.AfterDecode(frame, &meta, alpha); err != nil {
		t.Fatal(err)
	}
	if err := m.CompleteTransfer(frame, &meta); err != nil {
		t.Fatal(err)
	}
	return meta
}

func TestMemoryKeyframeTransfer(t *testing.T) {
	opts := synth.Options{GridSize: 4, Alpha: true}
	m := NewMemory(container.Info{}, time.Millisecond)
	frame, err := m.ConstructFrame()
	if err != nil {
		t.Fatal(err)
	}

	meta := decodeInto(t, m, frame, opts, 0)
	f := frame.(*MemoryFrame)

	if !f.IsKeyframe() {
		t.Fatal("frame 0 not flagged as keyframe")
	}
	if f.VertexCount() != meta.RenderableVertexCount() || f.VertexCount() != 17 {
		t.Errorf("VertexCount = %d, want 17", f.VertexCount())
	}
	if f.IndexCount() != 3*3*6 {
		t.Errorf("IndexCount = %d", f.IndexCount())
	}
	if f.DeformationCount() != 16 {
		t.Errorf("DeformationCount = %d", f.DeformationCount())
	}
	// the seam duplicate copies vertex 0
	if f.Vertex(16) != f.Vertex(0) {
		t.Errorf("duplicate vertex %v != %v", f.Vertex(16), f.Vertex(0))
	}
	if len(f.VertexAlpha()) != 16 {
		t.Errorf("alpha for %d vertices", len(f.VertexAlpha()))
	}
	if f.Texture()[0] != 0 {
		t.Errorf("texture tag = %d", f.Texture()[0])
	}
}

func TestMemoryReusesFrameForDelta(t *testing.T) {
	opts := synth.Options{GridSize: 4}
	m := NewMemory(container.Info{}, 0)
	frame, _ := m.ConstructFrame()

	decodeInto(t, m, frame, opts, 0)
	decodeInto(t, m, frame, opts, 3)
	f := frame.(*MemoryFrame)

	if f.IsKeyframe() {
		t.Fatal("frame 3 flagged as keyframe")
	}
	if f.VertexCount() != 0 || f.IndexCount() != 0 {
		t.Errorf("delta frame kept topology: %d vertices, %d indices", f.VertexCount(), f.IndexCount())
	}
	if f.VertexAlpha() != nil {
		t.Error("delta frame kept alpha")
	}
	if f.Texture()[0] != 3 {
		t.Errorf("texture tag = %d, want 3", f.Texture()[0])
	}
}

func TestMemoryRejectsAlphaMismatch(t *testing.T) {
	m := NewMemory(container.Info{}, 0)
	frame, _ := m.ConstructFrame()
	meta := &container.FrameMetadata{IsKeyframe: true, HasVertexAlpha: true, UniqueVertexCount: 4}

	if err := m.AfterDecode(frame, meta, []byte{1, 2}); !errors.Is(err, ErrAfterDecode) {
		t.Errorf("got %v, want ErrAfterDecode", err)
	}
	if err := m.CompleteTransfer(frame, meta); err == nil {
		t.Error("CompleteTransfer without a transfer in flight should fail")
	}
}

func TestMemoryLiveFrames(t *testing.T) {
	factory := MemoryFactory(0)
	res, err := factory(container.Info{FrameCount: 3})
	if err != nil {
		t.Fatal(err)
	}
	m := res.(*Memory)

	a, _ := m.ConstructFrame()
	b, _ := m.ConstructFrame()
	if m.Live() != 2 {
		t.Fatalf("Live = %d", m.Live())
	}

	// pending transfer is drained on destruction
	meta := &container.FrameMetadata{}
	if err := m.AfterDecode(a, meta, nil); err != nil {
		t.Fatal(err)
	}
	m.DestructFrame(a)
	m.DestructFrame(b)
	if m.Live() != 0 {
		t.Errorf("Live = %d after destruction", m.Live())
	}
}

package resources

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"time"

	"github.com/0bVdnt/xrvideo/internal/codec"
	"github.com/0bVdnt/xrvideo/internal/container"
	"github.com/pkg/errors"
)

// CPU-side frame. Decoding writes the staging buffers; the transfer copies
// them into the front buffers the renderer reads.
type MemoryFrame struct {
	staging codec.Destinations
	alpha   []byte

	meta        container.FrameMetadata
	vertices    []byte
	indices     []byte
	deformation []byte
	texture     []byte
	vertexAlpha []byte

	transfer chan error
}

func (f *MemoryFrame) Metadata() container.FrameMetadata {
	return f.meta
}

func (f *MemoryFrame) IsKeyframe() bool {
	return f.meta.IsKeyframe
}

func (f *MemoryFrame) VertexCount() int {
	return len(f.vertices) / container.VertexStride
}

func (f *MemoryFrame) Vertex(i int) [3]float32 {
	return readVec3(f.vertices, i)
}

func (f *MemoryFrame) IndexCount() int {
	return len(f.indices) / container.IndexStride
}

func (f *MemoryFrame) Index(i int) uint32 {
	return binary.LittleEndian.Uint32(f.indices[i*container.IndexStride:])
}

func (f *MemoryFrame) DeformationCount() int {
	return len(f.deformation) / container.DeformationStride
}

// Offset of keyframe vertex i in this frame
func (f *MemoryFrame) Deformation(i int) [3]float32 {
	return readVec3(f.deformation, i)
}

// Y plane followed by the U and V planes
func (f *MemoryFrame) Texture() []byte {
	return f.texture
}

// Per-vertex alpha, nil when the frame carries none
func (f *MemoryFrame) VertexAlpha() []byte {
	return f.vertexAlpha
}

func readVec3(buf []byte, i int) [3]float32 {
	var v [3]float32
	for c := 0; c < 3; c++ {
		v[c] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*12+c*4:]))
	}
	return v
}

// FrameResources keeping frames in Go memory. A non-zero latency delays
// every transfer to mimic an upload.
type Memory struct {
	info    container.Info
	latency time.Duration
	live    atomic.Int64
}

func NewMemory(info container.Info, latency time.Duration) *Memory {
	return &Memory{info: info, latency: latency}
}

// Factory producing Memory resources
func MemoryFactory(latency time.Duration) Factory {
	return func(info container.Info) (FrameResources, error) {
		return NewMemory(info, latency), nil
	}
}

// Number of constructed, not yet destructed frames
func (m *Memory) Live() int {
	return int(m.live.Load())
}

func (m *Memory) ConstructFrame() (UserData, error) {
	m.live.Add(1)
	return &MemoryFrame{}, nil
}

func (m *Memory) DestructFrame(frame UserData) {
	f, ok := frame.(*MemoryFrame)
	if !ok {
		return
	}
	if f.transfer != nil {
		<-f.transfer
		f.transfer = nil
	}
	m.live.Add(-1)
}

func (m *Memory) PrepareDecodeDestinations(frame UserData, meta *container.FrameMetadata) (*codec.Destinations, error) {
	f, ok := frame.(*MemoryFrame)
	if !ok {
		return nil, errors.Errorf("unexpected frame type %T", frame)
	}

	st := &f.staging
	st.Deformation = grow(st.Deformation, int(meta.DeformationDataSize))
	st.Texture = grow(st.Texture, meta.TextureDataSize())
	if meta.IsKeyframe {
		st.Vertices = grow(st.Vertices, int(meta.RenderableVertexDataSize))
		st.Indices = grow(st.Indices, int(meta.IndexDataSize))
		st.DuplicatedVertexIndices = grow(st.DuplicatedVertexIndices, meta.DuplicatedVertexCount()*4)
	} else {
		st.Vertices = nil
		st.Indices = nil
		st.DuplicatedVertexIndices = nil
	}

	dst := *st
	return &dst, nil
}

// Starts the staging-to-front copy without waiting for it
func (m *Memory) AfterDecode(frame UserData, meta *container.FrameMetadata, vertexAlpha []byte) error {
	f, ok := frame.(*MemoryFrame)
	if !ok {
		return errors.Wrapf(ErrAfterDecode, "unexpected frame type %T", frame)
	}
	if meta.HasVertexAlpha && len(vertexAlpha) != int(meta.UniqueVertexCount) {
		return errors.Wrapf(ErrAfterDecode, "alpha for %d of %d vertices", len(vertexAlpha), meta.UniqueVertexCount)
	}

	f.alpha = append(f.alpha[:0], vertexAlpha...)
	f.meta = *meta

	done := make(chan error, 1)
	f.transfer = done
	go func() {
		if m.latency > 0 {
			time.Sleep(m.latency)
		}
		st := &f.staging
		f.deformation = append(f.deformation[:0], st.Deformation...)
		f.texture = append(f.texture[:0], st.Texture...)
		f.vertices = append(f.vertices[:0], st.Vertices...)
		f.indices = append(f.indices[:0], st.Indices...)
		f.vertexAlpha = nil
		if f.meta.HasVertexAlpha {
			f.vertexAlpha = append(f.vertexAlpha[:0], f.alpha...)
		}
		done <- nil
	}()
	return nil
}

// Waits for the copy started by AfterDecode
func (m *Memory) CompleteTransfer(frame UserData, meta *container.FrameMetadata) error {
	f, ok := frame.(*MemoryFrame)
	if !ok {
		return errors.Errorf("unexpected frame type %T", frame)
	}
	if f.transfer == nil {
		return errors.New("no transfer in flight")
	}
	err := <-f.transfer
	f.transfer = nil
	return err
}

func grow(buf []byte, n int) []byte {
	if cap(buf) < n {
		return make([]byte, n)
	}
	return buf[:n]
}

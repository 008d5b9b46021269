package resources

import (
	"github.com/0bVdnt/xrvideo/internal/codec"
	"github.com/0bVdnt/xrvideo/internal/container"
	"github.com/pkg/errors"
)

// Backend-owned per-slot frame object, handed back to the renderer through
// render locks.
type UserData = any

var ErrAfterDecode = errors.New("frame resources rejected decoded frame")

// Per-video collaborator that owns the memory frames are decoded into.
//
// ConstructFrame and DestructFrame run once per cache slot. The other three
// run on the pipeline: PrepareDecodeDestinations and AfterDecode on the
// decoding goroutine, CompleteTransfer on the transfer goroutine. AfterDecode
// may start an asynchronous upload but must not wait for it;
// CompleteTransfer is where the wait happens.
type FrameResources interface {
	ConstructFrame() (UserData, error)
	DestructFrame(frame UserData)
	PrepareDecodeDestinations(frame UserData, meta *container.FrameMetadata) (*codec.Destinations, error)
	AfterDecode(frame UserData, meta *container.FrameMetadata, vertexAlpha []byte) error
	CompleteTransfer(frame UserData, meta *container.FrameMetadata) error
}

// Creates the resources for one loaded video
type Factory func(info container.Info) (FrameResources, error)

package renderer

import "fmt"

type BufferHandle uint64
type TextureHandle uint64
type BindingSetHandle uint64
type PipelineHandle uint64
type QueryPoolHandle uint64

// InvalidHandle is never returned by a backend.
const InvalidHandle = 0

type BufferUsage uint32

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageStorage
	BufferUsageUniform
	BufferUsageTransferDst
)

type BufferDesc struct {
	Name  string
	Size  uint64
	Usage BufferUsage
	// Host visible buffers are written directly with WriteBuffer.
	HostVisible bool
}

type TextureDesc struct {
	Name   string
	Width  uint32
	Height uint32
	Layers uint32
	Depth  bool
	// Target makes the texture the depth attachment of Pass. The layer given to
	// BeginPass selects the array layer rendered into.
	Target bool
	Pass   PassKind
}

type BindingSetDesc struct {
	Name     string
	Pipeline PipelineHandle
	Set      uint32
	Buffers  []BufferHandle
	Textures []TextureHandle
}

type PipelineType uint8

const (
	PipelineTypeGraphics PipelineType = iota
	PipelineTypeCompute
)

type PipelineDesc struct {
	Name             string
	Type             PipelineType
	Pass             PassKind
	Shaders          []string
	PushConstantSize uint32
	DepthOnly        bool
	Blend            bool
}

type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
	ShaderStageCompute
)

type PipelineStage uint32

const (
	PipelineStageVertexInput PipelineStage = 1 << iota
	PipelineStageVertexShader
	PipelineStageFragmentShader
	PipelineStageComputeShader
	PipelineStageTransfer
)

type Access uint32

const (
	AccessVertexAttributeRead Access = 1 << iota
	AccessShaderRead
	AccessShaderWrite
	AccessTransferWrite
)

type QueueKind uint8

const (
	QueueGraphics QueueKind = iota
	QueueCompute
)

/**
 * @brief A buffer memory barrier. When SrcQueue and DstQueue differ the barrier
 * also transfers queue family ownership.
 */
type BufferBarrier struct {
	Buffer    BufferHandle
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcAccess Access
	DstAccess Access
	SrcQueue  QueueKind
	DstQueue  QueueKind
}

// PassKind names the passes of a frame in the order they are recorded.
type PassKind uint8

const (
	PassSkinning PassKind = iota
	PassDepth
	PassDirectionalShadow
	PassPointShadow
	PassOcclusion
	PassDisplay
)

func (p PassKind) String() string {
	switch p {
	case PassSkinning:
		return "skinning"
	case PassDepth:
		return "depth"
	case PassDirectionalShadow:
		return "directional_shadow"
	case PassPointShadow:
		return "point_shadow"
	case PassOcclusion:
		return "occlusion"
	case PassDisplay:
		return "display"
	}
	return fmt.Sprintf("pass(%d)", uint8(p))
}

// CommandRecorder records into the command buffer of the current frame in flight.
type CommandRecorder interface {
	// layer selects the array layer of the target, e.g. the cube face of a point shadow.
	BeginPass(pass PassKind, layer uint32)
	EndPass()
	BindPipeline(pipeline PipelineHandle)
	BindVertexBuffers(first uint32, buffers ...BufferHandle)
	BindIndexBuffer(buffer BufferHandle)
	BindBindingSet(pipeline PipelineHandle, set uint32, bindingSet BindingSetHandle)
	PushParameters(pipeline PipelineHandle, stage ShaderStage, offset uint32, data []byte)
	Dispatch(x, y, z uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32)
	PipelineBarrier(barriers ...BufferBarrier)
	ResetQueries(pool QueryPoolHandle, first, count uint32)
	BeginQuery(pool QueryPoolHandle, slot uint32)
	EndQuery(pool QueryPoolHandle, slot uint32)
}

type FrameContext struct {
	// Index of the frame in flight, in [0, FramesInFlight).
	FrameIndex uint32
	// Monotonic frame counter.
	FrameNumber uint64
	Commands    CommandRecorder
}

/**
 * @brief The primitive GPU command service used by the engine. Creation failures
 * are device-level failures and are treated as fatal by the callers.
 */
type RendererBackend interface {
	FramesInFlight() uint32

	CreateBuffer(desc BufferDesc) (BufferHandle, error)
	WriteBuffer(buffer BufferHandle, offset uint64, data []byte) error
	DestroyBuffer(buffer BufferHandle)

	CreateTexture(desc TextureDesc, pixels []byte) (TextureHandle, error)
	DestroyTexture(texture TextureHandle)

	CreateBindingSet(desc BindingSetDesc) (BindingSetHandle, error)
	DestroyBindingSet(bindingSet BindingSetHandle)

	CreatePipeline(desc PipelineDesc) (PipelineHandle, error)
	DestroyPipeline(pipeline PipelineHandle)

	CreateQueryPool(count uint32) (QueryPoolHandle, error)
	DestroyQueryPool(pool QueryPoolHandle)
	// PollQuery never blocks. ok is false when the result is not available yet.
	PollQuery(pool QueryPoolHandle, slot uint32) (samples uint64, ok bool)

	BeginFrame() (*FrameContext, error)
	EndFrame(frame *FrameContext) error
	// WaitIdle blocks until all submitted work has completed.
	WaitIdle() error
	Shutdown() error
}

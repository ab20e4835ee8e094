package headless

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer"
)

type Op uint8

const (
	OpBeginPass Op = iota
	OpEndPass
	OpBindPipeline
	OpBindVertexBuffers
	OpBindIndexBuffer
	OpBindBindingSet
	OpPushParameters
	OpDispatch
	OpDrawIndexed
	OpBarrier
	OpResetQueries
	OpBeginQuery
	OpEndQuery
)

var opNames = [...]string{
	"BeginPass", "EndPass", "BindPipeline", "BindVertexBuffers", "BindIndexBuffer",
	"BindBindingSet", "PushParameters", "Dispatch", "DrawIndexed", "Barrier",
	"ResetQueries", "BeginQuery", "EndQuery",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Command is one recorded call. Only the fields relevant to Op are set.
type Command struct {
	Op         Op
	Pass       renderer.PassKind
	Layer      uint32
	Pipeline   renderer.PipelineHandle
	Buffers    []renderer.BufferHandle
	BindingSet renderer.BindingSetHandle
	Set        uint32
	Stage      renderer.ShaderStage
	Offset     uint32
	Data       []byte
	Counts     [3]uint32
	Barriers   []renderer.BufferBarrier
	QueryPool  renderer.QueryPoolHandle
	Slot       uint32
}

type Frame struct {
	Index    uint32
	Number   uint64
	Commands []Command
	ended    bool
}

type buffer struct {
	desc   renderer.BufferDesc
	data   []byte
	writes int
}

type query struct {
	submittedFrame uint64
	ended          bool
}

/**
 * @brief A backend that keeps every resource in memory and records commands instead
 * of executing them. Occlusion results become available QueryLatency frames after
 * the frame that issued them; Samples decides the sample count of a slot.
 */
type Backend struct {
	mu sync.Mutex

	framesInFlight uint32
	nextHandle     uint64
	frameNumber    uint64

	buffers     map[renderer.BufferHandle]*buffer
	textures    map[renderer.TextureHandle]renderer.TextureDesc
	bindingSets map[renderer.BindingSetHandle]renderer.BindingSetDesc
	pipelines   map[renderer.PipelineHandle]renderer.PipelineDesc
	queryPools  map[renderer.QueryPoolHandle][]query

	frames []*Frame
	// KeepFrames bounds the recorded history. Zero keeps everything.
	KeepFrames int

	QueryLatency uint64
	Samples      func(slot uint32) uint64

	waitIdleCalls int
	// FailCreate makes every Create* call fail, to exercise device failure paths.
	FailCreate bool
}

func New(framesInFlight uint32) *Backend {
	return &Backend{
		framesInFlight: framesInFlight,
		buffers:        make(map[renderer.BufferHandle]*buffer),
		textures:       make(map[renderer.TextureHandle]renderer.TextureDesc),
		bindingSets:    make(map[renderer.BindingSetHandle]renderer.BindingSetDesc),
		pipelines:      make(map[renderer.PipelineHandle]renderer.PipelineDesc),
		queryPools:     make(map[renderer.QueryPoolHandle][]query),
		QueryLatency:   1,
		Samples:        func(uint32) uint64 { return 1 },
	}
}

func (b *Backend) FramesInFlight() uint32 {
	return b.framesInFlight
}

func (b *Backend) handle() uint64 {
	b.nextHandle++
	return b.nextHandle
}

func (b *Backend) failure(what, name string) error {
	err := fmt.Errorf("%w: failed to create %s '%s'", core.ErrDeviceFailure, what, name)
	core.LogError(err.Error())
	return err
}

func (b *Backend) CreateBuffer(desc renderer.BufferDesc) (renderer.BufferHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailCreate {
		return renderer.InvalidHandle, b.failure("buffer", desc.Name)
	}
	h := renderer.BufferHandle(b.handle())
	b.buffers[h] = &buffer{desc: desc, data: make([]byte, desc.Size)}
	return h, nil
}

func (b *Backend) WriteBuffer(h renderer.BufferHandle, offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[h]
	if !ok {
		return fmt.Errorf("write to unknown buffer %d", h)
	}
	if offset+uint64(len(data)) > uint64(len(buf.data)) {
		return fmt.Errorf("write of %d bytes at %d overflows buffer '%s' of %d bytes", len(data), offset, buf.desc.Name, len(buf.data))
	}
	copy(buf.data[offset:], data)
	buf.writes++
	return nil
}

func (b *Backend) DestroyBuffer(h renderer.BufferHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buffers, h)
}

func (b *Backend) CreateTexture(desc renderer.TextureDesc, pixels []byte) (renderer.TextureHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailCreate {
		return renderer.InvalidHandle, b.failure("texture", desc.Name)
	}
	h := renderer.TextureHandle(b.handle())
	b.textures[h] = desc
	return h, nil
}

func (b *Backend) DestroyTexture(h renderer.TextureHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.textures, h)
}

func (b *Backend) CreateBindingSet(desc renderer.BindingSetDesc) (renderer.BindingSetHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailCreate {
		return renderer.InvalidHandle, b.failure("binding set", desc.Name)
	}
	h := renderer.BindingSetHandle(b.handle())
	b.bindingSets[h] = desc
	return h, nil
}

func (b *Backend) DestroyBindingSet(h renderer.BindingSetHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bindingSets, h)
}

func (b *Backend) CreatePipeline(desc renderer.PipelineDesc) (renderer.PipelineHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailCreate {
		return renderer.InvalidHandle, b.failure("pipeline", desc.Name)
	}
	h := renderer.PipelineHandle(b.handle())
	b.pipelines[h] = desc
	return h, nil
}

func (b *Backend) DestroyPipeline(h renderer.PipelineHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pipelines, h)
}

func (b *Backend) CreateQueryPool(count uint32) (renderer.QueryPoolHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailCreate {
		return renderer.InvalidHandle, b.failure("query pool", fmt.Sprintf("%d", count))
	}
	h := renderer.QueryPoolHandle(b.handle())
	b.queryPools[h] = make([]query, count)
	return h, nil
}

func (b *Backend) DestroyQueryPool(h renderer.QueryPoolHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queryPools, h)
}

func (b *Backend) PollQuery(pool renderer.QueryPoolHandle, slot uint32) (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	queries, ok := b.queryPools[pool]
	if !ok || int(slot) >= len(queries) {
		return 0, false
	}
	q := queries[slot]
	if !q.ended || b.frameNumber < q.submittedFrame+b.QueryLatency {
		return 0, false
	}
	return b.Samples(slot), true
}

func (b *Backend) BeginFrame() (*renderer.FrameContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frameNumber++
	f := &Frame{
		Index:  uint32((b.frameNumber - 1) % uint64(b.framesInFlight)),
		Number: b.frameNumber,
	}
	b.frames = append(b.frames, f)
	if b.KeepFrames > 0 && len(b.frames) > b.KeepFrames {
		b.frames = b.frames[len(b.frames)-b.KeepFrames:]
	}
	return &renderer.FrameContext{
		FrameIndex:  f.Index,
		FrameNumber: f.Number,
		Commands:    &recorder{backend: b, frame: f},
	}, nil
}

func (b *Backend) EndFrame(frame *renderer.FrameContext) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := frame.Commands.(*recorder)
	if !ok || rec.backend != b {
		return fmt.Errorf("frame %d was not started by this backend", frame.FrameNumber)
	}
	if rec.frame.ended {
		return fmt.Errorf("frame %d already ended", frame.FrameNumber)
	}
	rec.frame.ended = true
	return nil
}

func (b *Backend) WaitIdle() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waitIdleCalls++
	return nil
}

func (b *Backend) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffers = make(map[renderer.BufferHandle]*buffer)
	b.textures = make(map[renderer.TextureHandle]renderer.TextureDesc)
	b.bindingSets = make(map[renderer.BindingSetHandle]renderer.BindingSetDesc)
	b.pipelines = make(map[renderer.PipelineHandle]renderer.PipelineDesc)
	b.queryPools = make(map[renderer.QueryPoolHandle][]query)
	return nil
}

// Inspection helpers used by tests and the demo.

func (b *Backend) LastFrame() *Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return nil
	}
	return b.frames[len(b.frames)-1]
}

func (b *Backend) Frames() []*Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Frame(nil), b.frames...)
}

func (b *Backend) BufferExists(h renderer.BufferHandle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.buffers[h]
	return ok
}

func (b *Backend) BufferData(h renderer.BufferHandle) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.buffers[h]; ok {
		return append([]byte(nil), buf.data...)
	}
	return nil
}

func (b *Backend) BufferWrites(h renderer.BufferHandle) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.buffers[h]; ok {
		return buf.writes
	}
	return 0
}

func (b *Backend) BufferCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffers)
}

func (b *Backend) Pipeline(h renderer.PipelineHandle) (renderer.PipelineDesc, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.pipelines[h]
	return d, ok
}

func (b *Backend) WaitIdleCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waitIdleCalls
}

// Filter returns the commands of f with the given op.
func (f *Frame) Filter(op Op) []Command {
	var out []Command
	for _, c := range f.Commands {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// PassOrder lists the passes begun in f, one entry per BeginPass.
func (f *Frame) PassOrder() []renderer.PassKind {
	var out []renderer.PassKind
	for _, c := range f.Commands {
		if c.Op == OpBeginPass {
			out = append(out, c.Pass)
		}
	}
	return out
}

// InPass returns the commands recorded between the BeginPass/EndPass of the
// n-th occurrence of pass (counting from zero).
func (f *Frame) InPass(pass renderer.PassKind, n int) []Command {
	seen := -1
	var out []Command
	inside := false
	for _, c := range f.Commands {
		switch {
		case c.Op == OpBeginPass && c.Pass == pass:
			seen++
			inside = seen == n
		case c.Op == OpEndPass:
			if inside {
				return out
			}
		case inside:
			out = append(out, c)
		}
	}
	return out
}

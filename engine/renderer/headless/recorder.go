package headless

import (
	"github.com/spaghettifunk/anima/engine/renderer"
)

type recorder struct {
	backend *Backend
	frame   *Frame
}

func (r *recorder) add(c Command) {
	r.frame.Commands = append(r.frame.Commands, c)
}

func (r *recorder) BeginPass(pass renderer.PassKind, layer uint32) {
	r.add(Command{Op: OpBeginPass, Pass: pass, Layer: layer})
}

func (r *recorder) EndPass() {
	r.add(Command{Op: OpEndPass})
}

func (r *recorder) BindPipeline(pipeline renderer.PipelineHandle) {
	r.add(Command{Op: OpBindPipeline, Pipeline: pipeline})
}

func (r *recorder) BindVertexBuffers(first uint32, buffers ...renderer.BufferHandle) {
	r.add(Command{Op: OpBindVertexBuffers, Offset: first, Buffers: append([]renderer.BufferHandle(nil), buffers...)})
}

func (r *recorder) BindIndexBuffer(buffer renderer.BufferHandle) {
	r.add(Command{Op: OpBindIndexBuffer, Buffers: []renderer.BufferHandle{buffer}})
}

func (r *recorder) BindBindingSet(pipeline renderer.PipelineHandle, set uint32, bindingSet renderer.BindingSetHandle) {
	r.add(Command{Op: OpBindBindingSet, Pipeline: pipeline, Set: set, BindingSet: bindingSet})
}

func (r *recorder) PushParameters(pipeline renderer.PipelineHandle, stage renderer.ShaderStage, offset uint32, data []byte) {
	r.add(Command{Op: OpPushParameters, Pipeline: pipeline, Stage: stage, Offset: offset, Data: append([]byte(nil), data...)})
}

func (r *recorder) Dispatch(x, y, z uint32) {
	r.add(Command{Op: OpDispatch, Counts: [3]uint32{x, y, z}})
}

// Counts holds index count, instance count and first index.
func (r *recorder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32) {
	r.add(Command{Op: OpDrawIndexed, Counts: [3]uint32{indexCount, instanceCount, firstIndex}, Offset: uint32(vertexOffset)})
}

func (r *recorder) PipelineBarrier(barriers ...renderer.BufferBarrier) {
	r.add(Command{Op: OpBarrier, Barriers: append([]renderer.BufferBarrier(nil), barriers...)})
}

func (r *recorder) ResetQueries(pool renderer.QueryPoolHandle, first, count uint32) {
	r.add(Command{Op: OpResetQueries, QueryPool: pool, Slot: first, Counts: [3]uint32{count, 0, 0}})
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	queries := r.backend.queryPools[pool]
	for i := first; i < first+count && int(i) < len(queries); i++ {
		queries[i] = query{}
	}
}

func (r *recorder) BeginQuery(pool renderer.QueryPoolHandle, slot uint32) {
	r.add(Command{Op: OpBeginQuery, QueryPool: pool, Slot: slot})
}

func (r *recorder) EndQuery(pool renderer.QueryPoolHandle, slot uint32) {
	r.add(Command{Op: OpEndQuery, QueryPool: pool, Slot: slot})
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	queries := r.backend.queryPools[pool]
	if int(slot) < len(queries) {
		queries[slot] = query{submittedFrame: r.frame.Number, ended: true}
	}
}

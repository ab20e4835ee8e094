package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer"
)

// commandRecorder translates engine commands into the frame's command buffer.
type commandRecorder struct {
	backend *Backend
	cmd     *VulkanCommandBuffer

	pass       renderer.PassKind
	renderpass *VulkanRenderpass
}

func pipelineStageFlags(stage renderer.PipelineStage) vk.PipelineStageFlags {
	var flags vk.PipelineStageFlags
	if stage&renderer.PipelineStageVertexInput != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageVertexInputBit)
	}
	if stage&renderer.PipelineStageVertexShader != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit)
	}
	if stage&renderer.PipelineStageFragmentShader != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	}
	if stage&renderer.PipelineStageComputeShader != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
	}
	if stage&renderer.PipelineStageTransfer != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	}
	if flags == 0 {
		flags = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	return flags
}

func accessFlags(access renderer.Access) vk.AccessFlags {
	var flags vk.AccessFlags
	if access&renderer.AccessVertexAttributeRead != 0 {
		flags |= vk.AccessFlags(vk.AccessVertexAttributeReadBit)
	}
	if access&renderer.AccessShaderRead != 0 {
		flags |= vk.AccessFlags(vk.AccessShaderReadBit)
	}
	if access&renderer.AccessShaderWrite != 0 {
		flags |= vk.AccessFlags(vk.AccessShaderWriteBit)
	}
	if access&renderer.AccessTransferWrite != 0 {
		flags |= vk.AccessFlags(vk.AccessTransferWriteBit)
	}
	return flags
}

func shaderStageFlags(stage renderer.ShaderStage) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlags
	if stage&renderer.ShaderStageVertex != 0 {
		flags |= vk.ShaderStageFlags(vk.ShaderStageVertexBit)
	}
	if stage&renderer.ShaderStageFragment != 0 {
		flags |= vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	}
	if stage&renderer.ShaderStageCompute != 0 {
		flags |= vk.ShaderStageFlags(vk.ShaderStageComputeBit)
	}
	return flags
}

// queueFamilies resolves the ownership transfer of a barrier. Both queue kinds map to
// the graphics family, so the transfer degenerates into a plain memory barrier.
func queueFamilies(families [2]uint32, src, dst renderer.QueueKind) (uint32, uint32) {
	srcFamily, dstFamily := families[src], families[dst]
	if srcFamily == dstFamily {
		return vk.QueueFamilyIgnored, vk.QueueFamilyIgnored
	}
	return srcFamily, dstFamily
}

func (r *commandRecorder) BeginPass(pass renderer.PassKind, layer uint32) {
	r.pass = pass
	if pass == renderer.PassSkinning {
		return
	}
	renderpass, ok := r.backend.renderpasses[pass]
	if !ok {
		core.LogError("pass %s has no render pass", pass)
		return
	}
	fb, err := r.backend.framebuffer(renderpass, layer)
	if err != nil {
		core.LogError("pass %s layer %d: %s", pass, layer, err)
		return
	}
	renderpass.RenderpassBegin(r.cmd, fb)
	r.renderpass = renderpass
}

func (r *commandRecorder) EndPass() {
	if r.renderpass != nil {
		r.renderpass.RenderpassEnd(r.cmd)
		r.renderpass = nil
	}
}

func (r *commandRecorder) BindPipeline(h renderer.PipelineHandle) {
	if p, ok := r.backend.pipeline(h); ok {
		p.Bind(r.cmd)
	}
}

func (r *commandRecorder) BindVertexBuffers(first uint32, buffers ...renderer.BufferHandle) {
	handles := make([]vk.Buffer, 0, len(buffers))
	for _, h := range buffers {
		vb, ok := r.backend.buffer(h)
		if !ok {
			core.LogError("bind of unknown vertex buffer %d", h)
			return
		}
		handles = append(handles, vb.Handle)
	}
	offsets := make([]vk.DeviceSize, len(handles))
	vk.CmdBindVertexBuffers(r.cmd.Handle, first, uint32(len(handles)), handles, offsets)
}

func (r *commandRecorder) BindIndexBuffer(h renderer.BufferHandle) {
	if vb, ok := r.backend.buffer(h); ok {
		vk.CmdBindIndexBuffer(r.cmd.Handle, vb.Handle, 0, vk.IndexTypeUint32)
	}
}

func (r *commandRecorder) BindBindingSet(pipeline renderer.PipelineHandle, set uint32, bindingSet renderer.BindingSetHandle) {
	p, ok := r.backend.pipeline(pipeline)
	if !ok {
		return
	}
	bs, ok := r.backend.bindingSet(bindingSet)
	if !ok {
		core.LogError("bind of unknown binding set %d", bindingSet)
		return
	}
	vk.CmdBindDescriptorSets(r.cmd.Handle, p.BindPoint, p.PipelineLayout, set, 1, []vk.DescriptorSet{bs.Handle}, 0, nil)
}

func (r *commandRecorder) PushParameters(pipeline renderer.PipelineHandle, stage renderer.ShaderStage, offset uint32, data []byte) {
	p, ok := r.backend.pipeline(pipeline)
	if !ok || len(data) == 0 {
		return
	}
	// the layout declares a single range, so push to every stage it covers
	stages := p.PushStages
	if flags := shaderStageFlags(stage); flags&^stages != 0 {
		core.LogWarn("pipeline '%s' does not take push parameters in stages %#x", p.Name, uint32(flags&^stages))
	}
	vk.CmdPushConstants(r.cmd.Handle, p.PipelineLayout, stages, offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (r *commandRecorder) Dispatch(x, y, z uint32) {
	vk.CmdDispatch(r.cmd.Handle, x, y, z)
}

func (r *commandRecorder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32) {
	vk.CmdDrawIndexed(r.cmd.Handle, indexCount, instanceCount, firstIndex, vertexOffset, 0)
}

func (r *commandRecorder) PipelineBarrier(barriers ...renderer.BufferBarrier) {
	if len(barriers) == 0 {
		return
	}
	var srcStages, dstStages vk.PipelineStageFlags
	vkBarriers := make([]vk.BufferMemoryBarrier, 0, len(barriers))
	for _, barrier := range barriers {
		vb, ok := r.backend.buffer(barrier.Buffer)
		if !ok {
			core.LogError("barrier on unknown buffer %d", barrier.Buffer)
			continue
		}
		srcFamily, dstFamily := queueFamilies(r.backend.queueFamilies, barrier.SrcQueue, barrier.DstQueue)
		vkBarriers = append(vkBarriers, vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       accessFlags(barrier.SrcAccess),
			DstAccessMask:       accessFlags(barrier.DstAccess),
			SrcQueueFamilyIndex: srcFamily,
			DstQueueFamilyIndex: dstFamily,
			Buffer:              vb.Handle,
			Offset:              0,
			Size:                vk.DeviceSize(vk.WholeSize),
		})
		srcStages |= pipelineStageFlags(barrier.SrcStage)
		dstStages |= pipelineStageFlags(barrier.DstStage)
	}
	if len(vkBarriers) == 0 {
		return
	}
	vk.CmdPipelineBarrier(r.cmd.Handle, srcStages, dstStages, 0, 0, nil, uint32(len(vkBarriers)), vkBarriers, 0, nil)
}

func (r *commandRecorder) ResetQueries(pool renderer.QueryPoolHandle, first, count uint32) {
	if qp, ok := r.backend.queryPool(pool); ok && count > 0 {
		vk.CmdResetQueryPool(r.cmd.Handle, qp.Handle, first, count)
	}
}

func (r *commandRecorder) BeginQuery(pool renderer.QueryPoolHandle, slot uint32) {
	if qp, ok := r.backend.queryPool(pool); ok {
		vk.CmdBeginQuery(r.cmd.Handle, qp.Handle, slot, 0)
	}
}

func (r *commandRecorder) EndQuery(pool renderer.QueryPoolHandle, slot uint32) {
	if qp, ok := r.backend.queryPool(pool); ok {
		vk.CmdEndQuery(r.cmd.Handle, qp.Handle, slot)
	}
}

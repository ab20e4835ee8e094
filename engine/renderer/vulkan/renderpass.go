package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer"
)

/**
 * @brief One render pass per graphics pass of the frame. Every pass renders into a
 * depth attachment; only the display pass also has a color attachment.
 */
type VulkanRenderpass struct {
	Handle     vk.RenderPass
	Pass       renderer.PassKind
	HasColor   bool
	R, G, B, A float32
	Depth      float32
	Stencil    uint32
}

// Passes that start from the depth written earlier in the frame instead of clearing it.
func loadsDepth(pass renderer.PassKind) bool {
	return pass == renderer.PassOcclusion || pass == renderer.PassDisplay
}

func isShadowPass(pass renderer.PassKind) bool {
	return pass == renderer.PassDirectionalShadow || pass == renderer.PassPointShadow
}

func RenderpassCreate(context *VulkanContext, pass renderer.PassKind) (*VulkanRenderpass, error) {
	outRenderpass := &VulkanRenderpass{
		Pass:     pass,
		HasColor: pass == renderer.PassDisplay,
		R:        0.1, G: 0.1, B: 0.12, A: 1,
		Depth: 1,
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint: vk.PipelineBindPointGraphics,
	}
	var attachmentDescriptions []vk.AttachmentDescription

	if outRenderpass.HasColor {
		attachmentDescriptions = append(attachmentDescriptions, vk.AttachmentDescription{
			Format:         context.Device.ColorFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
		subpass.ColorAttachmentCount = 1
		subpass.PColorAttachments = []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}}
	}

	depthAttachment := vk.AttachmentDescription{
		Format:         context.Device.DepthFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
	}
	if loadsDepth(pass) {
		depthAttachment.LoadOp = vk.AttachmentLoadOpLoad
		depthAttachment.InitialLayout = vk.ImageLayoutDepthStencilAttachmentOptimal
	}
	if isShadowPass(pass) {
		depthAttachment.FinalLayout = vk.ImageLayoutShaderReadOnlyOptimal
	}
	attachmentDescriptions = append(attachmentDescriptions, depthAttachment)
	subpass.PDepthStencilAttachment = &vk.AttachmentReference{
		Attachment: uint32(len(attachmentDescriptions) - 1),
		Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
	}

	fragmentTests := vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit) | vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit)
	attachmentStages := fragmentTests | vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	attachmentWrites := vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
	dependencies := []vk.SubpassDependency{
		{
			// attachments written by earlier passes of the frame
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  attachmentStages,
			SrcAccessMask: attachmentWrites,
			DstStageMask:  attachmentStages | vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			DstAccessMask: attachmentWrites | vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit) |
				vk.AccessFlags(vk.AccessShaderReadBit),
		},
		{
			// shadow maps are sampled by the display pass
			SrcSubpass:    0,
			DstSubpass:    vk.SubpassExternal,
			SrcStageMask:  fragmentTests,
			SrcAccessMask: vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit),
		},
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}

	var pRenderPass vk.RenderPass
	err := context.locks.SafeCall(RenderpassManagement, func() error {
		return vkCall("vkCreateRenderPass", vk.CreateRenderPass(context.Device.LogicalDevice, &renderpassCreateInfo, context.Allocator, &pRenderPass))
	})
	if err != nil {
		return nil, fmt.Errorf("render pass %s: %w", pass, err)
	}
	outRenderpass.Handle = pRenderPass
	return outRenderpass, nil
}

func (vr *VulkanRenderpass) RenderpassDestroy(context *VulkanContext) {
	if vr.Handle != nil {
		vk.DestroyRenderPass(context.Device.LogicalDevice, vr.Handle, context.Allocator)
		vr.Handle = nil
	}
}

func (vr *VulkanRenderpass) RenderpassBegin(commandBuffer *VulkanCommandBuffer, frameBuffer *VulkanFramebuffer) {
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  vr.Handle,
		Framebuffer: frameBuffer.Handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: frameBuffer.Width, Height: frameBuffer.Height},
		},
	}

	var clearValues []vk.ClearValue
	if vr.HasColor {
		var color vk.ClearValue
		color.SetColor([]float32{vr.R, vr.G, vr.B, vr.A})
		clearValues = append(clearValues, color)
	}
	var depth vk.ClearValue
	depth.SetDepthStencil(vr.Depth, vr.Stencil)
	clearValues = append(clearValues, depth)

	beginInfo.ClearValueCount = uint32(len(clearValues))
	beginInfo.PClearValues = clearValues

	vk.CmdBeginRenderPass(commandBuffer.Handle, &beginInfo, vk.SubpassContentsInline)
	commandBuffer.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS

	viewport := vk.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(frameBuffer.Width),
		Height:   float32(frameBuffer.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}
	vk.CmdSetViewport(commandBuffer.Handle, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(commandBuffer.Handle, 0, 1, []vk.Rect2D{beginInfo.RenderArea})
}

func (vr *VulkanRenderpass) RenderpassEnd(commandBuffer *VulkanCommandBuffer) {
	vk.CmdEndRenderPass(commandBuffer.Handle)
	commandBuffer.State = COMMAND_BUFFER_STATE_RECORDING
}

package vulkan

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer"
)

/**
 * @brief The Vulkan implementation of renderer.RendererBackend. It renders every
 * pass into offscreen targets; presentation is left to the host that created the
 * device.
 */
type Backend struct {
	config  DeviceConfig
	context *VulkanContext

	setLayouts     *VulkanDescriptorSetLayouts
	descriptorPool vk.DescriptorPool
	renderpasses   map[renderer.PassKind]*VulkanRenderpass
	framebuffers   *framebufferCache

	colorTarget *VulkanImage
	depthTarget *VulkanImage
	// depth targets registered through TextureDesc.Target
	targets map[renderer.PassKind]*VulkanImage
	// bound to texture slots that have nothing to sample
	placeholder *VulkanImage

	buffers     map[renderer.BufferHandle]*VulkanBuffer
	textures    map[renderer.TextureHandle]*VulkanImage
	bindingSets map[renderer.BindingSetHandle]*VulkanBindingSet
	pipelines   map[renderer.PipelineHandle]*VulkanPipeline
	queryPools  map[renderer.QueryPoolHandle]*VulkanQueryPool

	// family of QueueGraphics and QueueCompute
	queueFamilies [2]uint32
	handles       atomic.Uint64
}

var _ renderer.RendererBackend = (*Backend)(nil)

func New(config DeviceConfig) (*Backend, error) {
	if config.FramesInFlight == 0 {
		return nil, fmt.Errorf("frames in flight must be positive")
	}
	if config.Width == 0 || config.Height == 0 {
		return nil, fmt.Errorf("render target extent %dx%d is empty", config.Width, config.Height)
	}
	b := &Backend{
		config: config,
		context: &VulkanContext{
			FramebufferWidth:  config.Width,
			FramebufferHeight: config.Height,
			locks:             NewVulkanLockPool(),
		},
		renderpasses: make(map[renderer.PassKind]*VulkanRenderpass),
		framebuffers: newFramebufferCache(),
		targets:      make(map[renderer.PassKind]*VulkanImage),
		buffers:      make(map[renderer.BufferHandle]*VulkanBuffer),
		textures:     make(map[renderer.TextureHandle]*VulkanImage),
		bindingSets:  make(map[renderer.BindingSetHandle]*VulkanBindingSet),
		pipelines:    make(map[renderer.PipelineHandle]*VulkanPipeline),
		queryPools:   make(map[renderer.QueryPoolHandle]*VulkanQueryPool),
	}
	if err := b.initialize(); err != nil {
		b.Shutdown()
		return nil, err
	}
	core.LogInfo("Vulkan renderer initialized successfully.")
	return b, nil
}

func (b *Backend) initialize() error {
	if err := DeviceCreate(b.context, b.config); err != nil {
		return err
	}
	device := b.context.Device
	b.queueFamilies = [2]uint32{device.GraphicsQueueIndex, device.GraphicsQueueIndex}

	var err error
	if b.setLayouts, err = NewDescriptorSetLayouts(b.context); err != nil {
		return err
	}
	if b.descriptorPool, err = NewDescriptorPool(b.context); err != nil {
		return err
	}
	for _, pass := range []renderer.PassKind{
		renderer.PassDepth,
		renderer.PassDirectionalShadow,
		renderer.PassPointShadow,
		renderer.PassOcclusion,
		renderer.PassDisplay,
	} {
		rp, err := RenderpassCreate(b.context, pass)
		if err != nil {
			return err
		}
		b.renderpasses[pass] = rp
	}

	if b.colorTarget, err = NewVulkanImage(b.context, imageConfig{
		name:   "target.color",
		width:  b.config.Width,
		height: b.config.Height,
		format: device.ColorFormat,
		usage:  vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) | vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit),
		aspect: vk.ImageAspectFlags(vk.ImageAspectColorBit),
	}); err != nil {
		return err
	}
	if b.depthTarget, err = NewVulkanImage(b.context, imageConfig{
		name:   "target.depth",
		width:  b.config.Width,
		height: b.config.Height,
		format: device.DepthFormat,
		usage:  vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		aspect: vk.ImageAspectFlags(vk.ImageAspectDepthBit),
	}); err != nil {
		return err
	}
	if b.placeholder, err = NewVulkanImage(b.context, imageConfig{
		name:    "placeholder",
		width:   1,
		height:  1,
		format:  vk.FormatR8g8b8a8Unorm,
		usage:   vk.ImageUsageFlags(vk.ImageUsageSampledBit) | vk.ImageUsageFlags(vk.ImageUsageTransferDstBit),
		aspect:  vk.ImageAspectFlags(vk.ImageAspectColorBit),
		sampled: true,
	}); err != nil {
		return err
	}
	if err := b.placeholder.Upload(b.context, []byte{255, 255, 255, 255}); err != nil {
		return err
	}

	n := b.config.FramesInFlight
	b.context.GraphicsCommandBuffers = make([]*VulkanCommandBuffer, n)
	b.context.InFlightFences = make([]*VulkanFence, n)
	for i := uint32(0); i < n; i++ {
		if b.context.GraphicsCommandBuffers[i], err = NewVulkanCommandBuffer(b.context, device.GraphicsCommandPool, true); err != nil {
			return err
		}
		// signaled so the first wait on each slot returns at once
		if b.context.InFlightFences[i], err = NewFence(b.context, true); err != nil {
			return err
		}
	}
	core.LogDebug("Vulkan command buffers created.")
	return nil
}

func (b *Backend) nextHandle() uint64 {
	return b.handles.Add(1)
}

func (b *Backend) FramesInFlight() uint32 {
	return b.config.FramesInFlight
}

// depthFor returns the depth target pass renders into.
func (b *Backend) depthFor(pass renderer.PassKind) *VulkanImage {
	if isShadowPass(pass) {
		var target *VulkanImage
		b.context.locks.SafeCall(ImageManagement, func() error {
			target = b.targets[pass]
			return nil
		})
		return target
	}
	return b.depthTarget
}

func (b *Backend) framebuffer(renderpass *VulkanRenderpass, layer uint32) (*VulkanFramebuffer, error) {
	var fb *VulkanFramebuffer
	err := b.context.locks.SafeCall(RenderpassManagement, func() error {
		var err error
		fb, err = b.framebuffers.get(b.context, renderpass, layer, b.colorTarget, b.depthFor(renderpass.Pass))
		return err
	})
	return fb, err
}

func (b *Backend) BeginFrame() (*renderer.FrameContext, error) {
	ctx := b.context
	ctx.FrameNumber++
	ctx.CurrentFrame = uint32((ctx.FrameNumber - 1) % uint64(b.config.FramesInFlight))

	// Wait for the execution of the current frame to complete. The fence being free will allow this one to move on.
	fence := ctx.InFlightFences[ctx.CurrentFrame]
	if err := fence.FenceWait(ctx, fenceTimeoutNs); err != nil {
		return nil, fmt.Errorf("in-flight fence wait failure: %w", err)
	}
	if err := fence.FenceReset(ctx); err != nil {
		return nil, err
	}

	// Begin recording commands.
	commandBuffer := ctx.GraphicsCommandBuffers[ctx.CurrentFrame]
	commandBuffer.Reset()
	if err := commandBuffer.Begin(true, false, false); err != nil {
		return nil, err
	}

	return &renderer.FrameContext{
		FrameIndex:  ctx.CurrentFrame,
		FrameNumber: ctx.FrameNumber,
		Commands:    &commandRecorder{backend: b, cmd: commandBuffer},
	}, nil
}

func (b *Backend) EndFrame(frame *renderer.FrameContext) error {
	ctx := b.context
	commandBuffer := ctx.GraphicsCommandBuffers[frame.FrameIndex]
	if rec, ok := frame.Commands.(*commandRecorder); ok && rec.renderpass != nil {
		core.LogWarn("frame %d ended inside pass %s", frame.FrameNumber, rec.pass)
		rec.EndPass()
	}
	if err := commandBuffer.End(); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{commandBuffer.Handle},
	}
	fence := ctx.InFlightFences[frame.FrameIndex]
	err := ctx.locks.SafeQueueCall(ctx.Device.GraphicsQueueIndex, func() error {
		return vkCall("vkQueueSubmit", vk.QueueSubmit(ctx.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle))
	})
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	commandBuffer.UpdateSubmitted()
	return nil
}

func (b *Backend) WaitIdle() error {
	if b.context.Device == nil {
		return nil
	}
	if err := vkCall("vkDeviceWaitIdle", vk.DeviceWaitIdle(b.context.Device.LogicalDevice)); err != nil {
		core.LogError(err.Error())
		return err
	}
	// every submitted frame has completed
	for _, fence := range b.context.InFlightFences {
		if fence != nil && fence.Handle != nil && vk.GetFenceStatus(b.context.Device.LogicalDevice, fence.Handle) == vk.Success {
			fence.IsSignaled = true
		}
	}
	return nil
}

// Shutdown destroys everything the backend created. The device itself stays with its owner.
func (b *Backend) Shutdown() error {
	ctx := b.context
	if ctx.Device == nil {
		return nil
	}
	if err := b.WaitIdle(); err != nil {
		core.LogError(err.Error())
	}

	for h := range b.queryPools {
		b.DestroyQueryPool(h)
	}
	for h := range b.bindingSets {
		b.DestroyBindingSet(h)
	}
	for h := range b.pipelines {
		b.DestroyPipeline(h)
	}
	for h := range b.textures {
		b.DestroyTexture(h)
	}
	for h := range b.buffers {
		b.DestroyBuffer(h)
	}

	b.framebuffers.destroy(ctx)
	for _, image := range []*VulkanImage{b.colorTarget, b.depthTarget, b.placeholder} {
		if image != nil {
			image.Destroy(ctx)
		}
	}
	for pass, rp := range b.renderpasses {
		rp.RenderpassDestroy(ctx)
		delete(b.renderpasses, pass)
	}
	if b.descriptorPool != nil {
		vk.DestroyDescriptorPool(ctx.Device.LogicalDevice, b.descriptorPool, ctx.Allocator)
		b.descriptorPool = nil
	}
	if b.setLayouts != nil {
		b.setLayouts.Destroy(ctx)
	}

	for i, fence := range ctx.InFlightFences {
		if fence != nil {
			fence.FenceDestroy(ctx)
			ctx.InFlightFences[i] = nil
		}
	}
	for i, cb := range ctx.GraphicsCommandBuffers {
		if cb != nil && cb.Handle != nil {
			cb.Free(ctx, ctx.Device.GraphicsCommandPool)
		}
		ctx.GraphicsCommandBuffers[i] = nil
	}

	core.LogDebug("Destroying Vulkan device resources...")
	DeviceDestroy(ctx)
	ctx.Device = nil
	return nil
}

// DebugCallback logs validation layer reports. Hosts pass it to vk.CreateDebugReportCallback.
func DebugCallback(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		core.LogDebug("DEBUG: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}

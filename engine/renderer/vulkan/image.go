package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer"
)

/**
 * @brief An image with its memory and a sampled view over every layer. Render
 * targets additionally get one view per layer, created on first use.
 */
type VulkanImage struct {
	Name    string
	Handle  vk.Image
	Memory  vk.DeviceMemory
	View    vk.ImageView
	Sampler vk.Sampler
	Width   uint32
	Height  uint32
	Layers  uint32
	Format  vk.Format
	Aspect  vk.ImageAspectFlags

	layerViews map[uint32]vk.ImageView
}

type imageConfig struct {
	name          string
	width, height uint32
	layers        uint32
	format        vk.Format
	usage         vk.ImageUsageFlags
	aspect        vk.ImageAspectFlags
	sampled       bool
}

func NewVulkanImage(context *VulkanContext, config imageConfig) (*VulkanImage, error) {
	if config.layers == 0 {
		config.layers = 1
	}
	device := context.Device.LogicalDevice
	image := &VulkanImage{
		Name:       config.name,
		Width:      config.width,
		Height:     config.height,
		Layers:     config.layers,
		Format:     config.format,
		Aspect:     config.aspect,
		layerViews: make(map[uint32]vk.ImageView),
	}

	createInfo := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        config.format,
		Extent:        vk.Extent3D{Width: config.width, Height: config.height, Depth: 1},
		MipLevels:     1,
		ArrayLayers:   config.layers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         config.usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var handle vk.Image
	if err := vkCall("vkCreateImage", vk.CreateImage(device, &createInfo, context.Allocator, &handle)); err != nil {
		return nil, err
	}
	image.Handle = handle

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, handle, &requirements)
	requirements.Deref()
	index := context.FindMemoryIndex(requirements.MemoryTypeBits, uint32(vk.MemoryPropertyDeviceLocalBit))
	if index < 0 {
		image.Destroy(context)
		return nil, fmt.Errorf("image '%s': no memory type matches", config.name)
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(index),
	}
	var memory vk.DeviceMemory
	if err := vkCall("vkAllocateMemory", vk.AllocateMemory(device, &allocateInfo, context.Allocator, &memory)); err != nil {
		image.Destroy(context)
		return nil, err
	}
	image.Memory = memory
	if err := vkCall("vkBindImageMemory", vk.BindImageMemory(device, handle, memory, 0)); err != nil {
		image.Destroy(context)
		return nil, err
	}

	// every sampled view is an array view so shaders bind one sampler type
	view, err := image.createView(context, vk.ImageViewType2dArray, 0, config.layers)
	if err != nil {
		image.Destroy(context)
		return nil, err
	}
	image.View = view

	if config.sampled {
		if image.Sampler, err = newSampler(context, config.aspect); err != nil {
			image.Destroy(context)
			return nil, err
		}
	}
	return image, nil
}

func (vi *VulkanImage) createView(context *VulkanContext, viewType vk.ImageViewType, baseLayer, layerCount uint32) (vk.ImageView, error) {
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    vi.Handle,
		ViewType: viewType,
		Format:   vi.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vi.Aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: baseLayer,
			LayerCount:     layerCount,
		},
	}
	var view vk.ImageView
	if err := vkCall("vkCreateImageView", vk.CreateImageView(context.Device.LogicalDevice, &viewCreateInfo, context.Allocator, &view)); err != nil {
		return nil, err
	}
	return view, nil
}

// LayerView returns the single layer view used as a framebuffer attachment.
func (vi *VulkanImage) LayerView(context *VulkanContext, layer uint32) (vk.ImageView, error) {
	if layer >= vi.Layers {
		return nil, fmt.Errorf("image '%s' has %d layers, asked for layer %d", vi.Name, vi.Layers, layer)
	}
	if view, ok := vi.layerViews[layer]; ok {
		return view, nil
	}
	view, err := vi.createView(context, vk.ImageViewType2d, layer, 1)
	if err != nil {
		return nil, err
	}
	vi.layerViews[layer] = view
	return view, nil
}

func newSampler(context *VulkanContext, aspect vk.ImageAspectFlags) (vk.Sampler, error) {
	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		AddressModeU:            vk.SamplerAddressModeRepeat,
		AddressModeV:            vk.SamplerAddressModeRepeat,
		AddressModeW:            vk.SamplerAddressModeRepeat,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1,
		BorderColor:             vk.BorderColorFloatOpaqueWhite,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
	}
	if aspect&vk.ImageAspectFlags(vk.ImageAspectDepthBit) != 0 {
		// shadow lookups stay inside the map
		samplerInfo.MagFilter = vk.FilterNearest
		samplerInfo.MinFilter = vk.FilterNearest
		samplerInfo.AddressModeU = vk.SamplerAddressModeClampToEdge
		samplerInfo.AddressModeV = vk.SamplerAddressModeClampToEdge
		samplerInfo.AddressModeW = vk.SamplerAddressModeClampToEdge
	}
	var sampler vk.Sampler
	if err := vkCall("vkCreateSampler", vk.CreateSampler(context.Device.LogicalDevice, &samplerInfo, context.Allocator, &sampler)); err != nil {
		return nil, err
	}
	return sampler, nil
}

// TransitionLayout records a layout change of every layer of vi into cmd.
func (vi *VulkanImage) TransitionLayout(cmd *VulkanCommandBuffer, oldLayout, newLayout vk.ImageLayout, srcStage, dstStage vk.PipelineStageFlags, srcAccess, dstAccess vk.AccessFlags) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               vi.Handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vi.Aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     vi.Layers,
		},
		SrcAccessMask: srcAccess,
		DstAccessMask: dstAccess,
	}
	vk.CmdPipelineBarrier(cmd.Handle, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

// Upload copies tightly packed RGBA8 pixels into layer 0 and leaves the image ready for sampling.
func (vi *VulkanImage) Upload(context *VulkanContext, pixels []byte) error {
	staging, err := NewVulkanBuffer(context, vi.Name+".staging", uint64(len(pixels)), vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit), true)
	if err != nil {
		return err
	}
	defer staging.Destroy(context)
	if err := staging.LoadData(context, 0, pixels); err != nil {
		return err
	}

	pool := context.Device.GraphicsCommandPool
	cmd, err := AllocateAndBeginSingleUse(context, pool)
	if err != nil {
		return err
	}
	vi.TransitionLayout(cmd, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0, vk.AccessFlags(vk.AccessTransferWriteBit))
	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vi.Aspect,
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageExtent: vk.Extent3D{Width: vi.Width, Height: vi.Height, Depth: 1},
	}
	vk.CmdCopyBufferToImage(cmd.Handle, staging.Handle, vi.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
	vi.TransitionLayout(cmd, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		vk.AccessFlags(vk.AccessTransferWriteBit), vk.AccessFlags(vk.AccessShaderReadBit))
	return cmd.EndSingleUse(context, pool, context.Device.GraphicsQueue)
}

// Prepare moves a freshly created image to layout so it can be sampled before its first pass.
func (vi *VulkanImage) Prepare(context *VulkanContext, layout vk.ImageLayout) error {
	pool := context.Device.GraphicsCommandPool
	cmd, err := AllocateAndBeginSingleUse(context, pool)
	if err != nil {
		return err
	}
	vi.TransitionLayout(cmd, vk.ImageLayoutUndefined, layout,
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		0, vk.AccessFlags(vk.AccessShaderReadBit))
	return cmd.EndSingleUse(context, pool, context.Device.GraphicsQueue)
}

func (vi *VulkanImage) Destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	for layer, view := range vi.layerViews {
		vk.DestroyImageView(device, view, context.Allocator)
		delete(vi.layerViews, layer)
	}
	if vi.Sampler != nil {
		vk.DestroySampler(device, vi.Sampler, context.Allocator)
		vi.Sampler = nil
	}
	if vi.View != nil {
		vk.DestroyImageView(device, vi.View, context.Allocator)
		vi.View = nil
	}
	if vi.Handle != nil {
		vk.DestroyImage(device, vi.Handle, context.Allocator)
		vi.Handle = nil
	}
	if vi.Memory != nil {
		vk.FreeMemory(device, vi.Memory, context.Allocator)
		vi.Memory = nil
	}
}

func (b *Backend) CreateTexture(desc renderer.TextureDesc, pixels []byte) (renderer.TextureHandle, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return renderer.InvalidHandle, fmt.Errorf("texture '%s' has zero extent", desc.Name)
	}
	config := imageConfig{
		name:    desc.Name,
		width:   desc.Width,
		height:  desc.Height,
		layers:  desc.Layers,
		format:  vk.FormatR8g8b8a8Unorm,
		usage:   vk.ImageUsageFlags(vk.ImageUsageSampledBit) | vk.ImageUsageFlags(vk.ImageUsageTransferDstBit),
		aspect:  vk.ImageAspectFlags(vk.ImageAspectColorBit),
		sampled: true,
	}
	if desc.Depth {
		config.format = b.context.Device.DepthFormat
		config.usage = vk.ImageUsageFlags(vk.ImageUsageSampledBit) | vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
		config.aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	image, err := NewVulkanImage(b.context, config)
	if err != nil {
		return renderer.InvalidHandle, fmt.Errorf("texture '%s': %w", desc.Name, err)
	}

	switch {
	case len(pixels) > 0 && !desc.Depth:
		if want := int(desc.Width * desc.Height * 4); len(pixels) != want {
			image.Destroy(b.context)
			return renderer.InvalidHandle, fmt.Errorf("texture '%s': got %d bytes of pixels, want %d", desc.Name, len(pixels), want)
		}
		err = image.Upload(b.context, pixels)
	default:
		err = image.Prepare(b.context, vk.ImageLayoutShaderReadOnlyOptimal)
	}
	if err != nil {
		image.Destroy(b.context)
		return renderer.InvalidHandle, err
	}

	var h renderer.TextureHandle
	b.context.locks.SafeCall(ImageManagement, func() error {
		h = renderer.TextureHandle(b.nextHandle())
		b.textures[h] = image
		if desc.Target {
			b.targets[desc.Pass] = image
		}
		return nil
	})
	return h, nil
}

func (b *Backend) texture(h renderer.TextureHandle) (*VulkanImage, bool) {
	var image *VulkanImage
	var ok bool
	b.context.locks.SafeCall(ImageManagement, func() error {
		image, ok = b.textures[h]
		return nil
	})
	return image, ok
}

func (b *Backend) DestroyTexture(h renderer.TextureHandle) {
	b.context.locks.SafeCall(ImageManagement, func() error {
		image, ok := b.textures[h]
		if !ok {
			return nil
		}
		for pass, target := range b.targets {
			if target == image {
				delete(b.targets, pass)
				b.framebuffers.dropImage(b.context, image)
			}
		}
		image.Destroy(b.context)
		delete(b.textures, h)
		return nil
	})
}

package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer"
)

type VulkanFramebuffer struct {
	Handle        vk.Framebuffer
	Width, Height uint32
	Attachments   []vk.ImageView
	Renderpass    *VulkanRenderpass
	// images whose layer views are attached
	images []*VulkanImage
}

func FramebufferCreate(context *VulkanContext, renderpass *VulkanRenderpass, width uint32, height uint32, attachments []vk.ImageView) (*VulkanFramebuffer, error) {
	outFramebuffer := &VulkanFramebuffer{
		Width:       width,
		Height:      height,
		Attachments: append([]vk.ImageView(nil), attachments...),
		Renderpass:  renderpass,
	}

	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(outFramebuffer.Attachments)),
		PAttachments:    outFramebuffer.Attachments,
		Width:           width,
		Height:          height,
		Layers:          1,
	}

	var pFramebuffer vk.Framebuffer
	if err := vkCall("vkCreateFramebuffer", vk.CreateFramebuffer(context.Device.LogicalDevice, &framebufferCreateInfo, context.Allocator, &pFramebuffer)); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	outFramebuffer.Handle = pFramebuffer
	return outFramebuffer, nil
}

func (vfb *VulkanFramebuffer) Destroy(context *VulkanContext) {
	if vfb.Handle != nil {
		vk.DestroyFramebuffer(context.Device.LogicalDevice, vfb.Handle, context.Allocator)
	}
	vfb.Attachments = nil
	vfb.Handle = nil
	vfb.Renderpass = nil
	vfb.images = nil
}

type framebufferKey struct {
	pass  renderer.PassKind
	layer uint32
}

// framebufferCache creates the framebuffer of a (pass, layer) pair on first use.
type framebufferCache struct {
	entries map[framebufferKey]*VulkanFramebuffer
}

func newFramebufferCache() *framebufferCache {
	return &framebufferCache{entries: make(map[framebufferKey]*VulkanFramebuffer)}
}

func (fc *framebufferCache) get(context *VulkanContext, renderpass *VulkanRenderpass, layer uint32, color, depth *VulkanImage) (*VulkanFramebuffer, error) {
	key := framebufferKey{pass: renderpass.Pass, layer: layer}
	if fb, ok := fc.entries[key]; ok {
		return fb, nil
	}
	if depth == nil {
		return nil, fmt.Errorf("pass %s has no depth target", renderpass.Pass)
	}

	var attachments []vk.ImageView
	var images []*VulkanImage
	if renderpass.HasColor {
		view, err := color.LayerView(context, 0)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, view)
		images = append(images, color)
	}
	view, err := depth.LayerView(context, layer)
	if err != nil {
		return nil, err
	}
	attachments = append(attachments, view)
	images = append(images, depth)

	fb, err := FramebufferCreate(context, renderpass, depth.Width, depth.Height, attachments)
	if err != nil {
		return nil, err
	}
	fb.images = images
	fc.entries[key] = fb
	return fb, nil
}

// dropImage destroys every framebuffer attaching image.
func (fc *framebufferCache) dropImage(context *VulkanContext, image *VulkanImage) {
	for key, fb := range fc.entries {
		for _, attached := range fb.images {
			if attached == image {
				fb.Destroy(context)
				delete(fc.entries, key)
				break
			}
		}
	}
}

func (fc *framebufferCache) destroy(context *VulkanContext) {
	for key, fb := range fc.entries {
		fb.Destroy(context)
		delete(fc.entries, key)
	}
}

package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
)

/**
 * @brief Device level state shared by every object of the backend. The instance and
 * the logical device belong to the caller; the context only borrows them.
 */
type VulkanContext struct {
	// Extent of the offscreen targets of the depth, occlusion and display passes.
	FramebufferWidth  uint32
	FramebufferHeight uint32

	Allocator *vk.AllocationCallbacks

	Device *VulkanDevice

	// One command buffer and one fence per frame in flight.
	GraphicsCommandBuffers []*VulkanCommandBuffer
	InFlightFences         []*VulkanFence

	CurrentFrame uint32
	FrameNumber  uint64

	locks *VulkanLockPool
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	memoryProperties := vc.Device.Memory
	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

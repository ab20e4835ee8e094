package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
)

/**
 * @brief A device created by the host application. The graphics queue family must
 * also support compute: skinning is recorded into the frame's graphics command buffer.
 */
type DeviceConfig struct {
	PhysicalDevice      vk.PhysicalDevice
	Device              vk.Device
	GraphicsQueueFamily uint32
	FramesInFlight      uint32
	// Directory holding the compiled SPIR-V programs.
	ShaderDir string
	Width     uint32
	Height    uint32
	// Format of the display pass color target.
	ColorFormat vk.Format
}

type VulkanDevice struct {
	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	GraphicsQueueIndex uint32
	GraphicsQueue      vk.Queue

	GraphicsCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format
	ColorFormat vk.Format
}

/**
 * @brief Wraps the device of config: fetches the graphics queue, reads the
 * properties the backend depends on and creates the graphics command pool.
 */
func DeviceCreate(context *VulkanContext, config DeviceConfig) error {
	if config.Device == nil || config.PhysicalDevice == nil {
		return fmt.Errorf("vulkan backend needs an already created device")
	}
	device := &VulkanDevice{
		PhysicalDevice:     config.PhysicalDevice,
		LogicalDevice:      config.Device,
		GraphicsQueueIndex: config.GraphicsQueueFamily,
		ColorFormat:        config.ColorFormat,
	}
	if device.ColorFormat == vk.FormatUndefined {
		device.ColorFormat = vk.FormatR8g8b8a8Unorm
	}

	vk.GetPhysicalDeviceProperties(device.PhysicalDevice, &device.Properties)
	device.Properties.Deref()
	vk.GetPhysicalDeviceMemoryProperties(device.PhysicalDevice, &device.Memory)
	device.Memory.Deref()

	if !deviceSupportsCompute(device.PhysicalDevice, device.GraphicsQueueIndex) {
		return fmt.Errorf("queue family %d does not support both graphics and compute", device.GraphicsQueueIndex)
	}
	if !DeviceDetectDepthFormat(device) {
		return fmt.Errorf("failed to find a supported depth format")
	}

	var queue vk.Queue
	vk.GetDeviceQueue(device.LogicalDevice, device.GraphicsQueueIndex, 0, &queue)
	device.GraphicsQueue = queue
	context.locks.SetQueueFamily(device.GraphicsQueueIndex)

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: device.GraphicsQueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if res := vk.CreateCommandPool(device.LogicalDevice, &poolCreateInfo, context.Allocator, &device.GraphicsCommandPool); res != vk.Success {
		return fmt.Errorf("vkCreateCommandPool failed with %s", VulkanResultString(res, true))
	}
	core.LogInfo("Graphics command pool created.")

	device.Properties.Limits.Deref()
	core.LogInfo("Selected device: '%s'", vk.ToString(device.Properties.DeviceName[:]))
	context.Device = device
	return nil
}

// DeviceDestroy releases what the backend created. The logical device stays alive.
func DeviceDestroy(context *VulkanContext) {
	if context.Device == nil {
		return
	}
	core.LogInfo("Destroying command pools...")
	if context.Device.GraphicsCommandPool != nil {
		vk.DestroyCommandPool(context.Device.LogicalDevice, context.Device.GraphicsCommandPool, context.Allocator)
		context.Device.GraphicsCommandPool = nil
	}
	context.Device.GraphicsQueue = nil
}

func deviceSupportsCompute(physicalDevice vk.PhysicalDevice, family uint32) bool {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(physicalDevice, &count, nil)
	if family >= count {
		return false
	}
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(physicalDevice, &count, families)
	families[family].Deref()
	want := vk.QueueFlags(vk.QueueGraphicsBit) | vk.QueueFlags(vk.QueueComputeBit)
	return families[family].QueueFlags&want == want
}

func DeviceDetectDepthFormat(device *VulkanDevice) bool {
	// Format candidates
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit) | vk.FormatFeatureFlags(vk.FormatFeatureSampledImageBit)
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(device.PhysicalDevice, candidate, &properties)
		properties.Deref()
		if properties.OptimalTilingFeatures&flags == flags {
			device.DepthFormat = candidate
			return true
		}
	}
	return false
}

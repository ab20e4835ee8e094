package vulkan

import vk "github.com/goki/vulkan"

/**
 * @brief Max number of binding sets alive at once. Every variant owns one compute
 * set per frame in flight, every essence one material set.
 * @todo TODO: derive from EngineConfig.MaxVariants
 */
const VULKAN_MAX_BINDING_SET_COUNT uint32 = 4096

/**
 * @brief Texture slots of the essence set. Unused slots point at the placeholder.
 */
const VULKAN_MAX_ESSENCE_TEXTURES uint32 = 8

// Descriptor set indices shared with the shaders.
const (
	setFrame   uint32 = 0
	setEssence uint32 = 1
	setSkin    uint32 = 0
)

// Vertex layout of the geometry buffers: binding 0 interleaves position, normal,
// tangent, joints and weights, binding 1 carries texture coordinates.
const (
	vertexStride uint32 = 72
	uvStride     uint32 = 8
)

var vertexAttributes = []vk.VertexInputAttributeDescription{
	{Location: 0, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 0},
	{Location: 1, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 12},
	{Location: 2, Binding: 0, Format: vk.FormatR32g32b32a32Sfloat, Offset: 24},
	{Location: 3, Binding: 0, Format: vk.FormatR32g32b32a32Uint, Offset: 40},
	{Location: 4, Binding: 0, Format: vk.FormatR32g32b32a32Sfloat, Offset: 56},
	{Location: 5, Binding: 1, Format: vk.FormatR32g32Sfloat, Offset: 0},
}

var vertexBindings = []vk.VertexInputBindingDescription{
	{Binding: 0, Stride: vertexStride, InputRate: vk.VertexInputRateVertex},
	{Binding: 1, Stride: uvStride, InputRate: vk.VertexInputRateVertex},
}

// Fence waits give up after one second and report the frame as failed.
const fenceTimeoutNs uint64 = 1_000_000_000

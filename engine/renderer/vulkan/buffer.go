package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer"
)

type VulkanBuffer struct {
	Name        string
	Handle      vk.Buffer
	Memory      vk.DeviceMemory
	Size        uint64
	HostVisible bool
}

func bufferUsageFlags(usage renderer.BufferUsage, hostVisible bool) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlags
	if usage&renderer.BufferUsageVertex != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	}
	if usage&renderer.BufferUsageIndex != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	}
	if usage&renderer.BufferUsageStorage != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	if usage&renderer.BufferUsageUniform != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	}
	// device local buffers are filled through a staging copy
	if usage&renderer.BufferUsageTransferDst != 0 || !hostVisible {
		flags |= vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	}
	return flags
}

func memoryFlags(hostVisible bool) uint32 {
	if hostVisible {
		return uint32(vk.MemoryPropertyHostVisibleBit) | uint32(vk.MemoryPropertyHostCoherentBit)
	}
	return uint32(vk.MemoryPropertyDeviceLocalBit)
}

func NewVulkanBuffer(context *VulkanContext, name string, size uint64, usage vk.BufferUsageFlags, hostVisible bool) (*VulkanBuffer, error) {
	device := context.Device.LogicalDevice
	buffer := &VulkanBuffer{Name: name, Size: size, HostVisible: hostVisible}

	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if err := vkCall("vkCreateBuffer", vk.CreateBuffer(device, &createInfo, context.Allocator, &handle)); err != nil {
		return nil, err
	}
	buffer.Handle = handle

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, handle, &requirements)
	requirements.Deref()

	index := context.FindMemoryIndex(requirements.MemoryTypeBits, memoryFlags(hostVisible))
	if index < 0 {
		buffer.Destroy(context)
		return nil, fmt.Errorf("buffer '%s': no memory type matches", name)
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(index),
	}
	var memory vk.DeviceMemory
	if err := vkCall("vkAllocateMemory", vk.AllocateMemory(device, &allocateInfo, context.Allocator, &memory)); err != nil {
		buffer.Destroy(context)
		return nil, err
	}
	buffer.Memory = memory
	if err := vkCall("vkBindBufferMemory", vk.BindBufferMemory(device, handle, memory, 0)); err != nil {
		buffer.Destroy(context)
		return nil, err
	}
	return buffer, nil
}

// LoadData copies data into a host visible buffer at offset.
func (vb *VulkanBuffer) LoadData(context *VulkanContext, offset uint64, data []byte) error {
	var mapped unsafe.Pointer
	if err := vkCall("vkMapMemory", vk.MapMemory(context.Device.LogicalDevice, vb.Memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &mapped)); err != nil {
		return err
	}
	vk.Memcopy(mapped, data)
	vk.UnmapMemory(context.Device.LogicalDevice, vb.Memory)
	return nil
}

// CopyFrom records and waits for a copy of size bytes of src into vb at offset.
func (vb *VulkanBuffer) CopyFrom(context *VulkanContext, src *VulkanBuffer, offset, size uint64) error {
	cmd, err := AllocateAndBeginSingleUse(context, context.Device.GraphicsCommandPool)
	if err != nil {
		return err
	}
	region := vk.BufferCopy{SrcOffset: 0, DstOffset: vk.DeviceSize(offset), Size: vk.DeviceSize(size)}
	vk.CmdCopyBuffer(cmd.Handle, src.Handle, vb.Handle, 1, []vk.BufferCopy{region})
	return cmd.EndSingleUse(context, context.Device.GraphicsCommandPool, context.Device.GraphicsQueue)
}

func (vb *VulkanBuffer) Destroy(context *VulkanContext) {
	if vb.Handle != nil {
		vk.DestroyBuffer(context.Device.LogicalDevice, vb.Handle, context.Allocator)
		vb.Handle = nil
	}
	if vb.Memory != nil {
		vk.FreeMemory(context.Device.LogicalDevice, vb.Memory, context.Allocator)
		vb.Memory = nil
	}
}

func (b *Backend) CreateBuffer(desc renderer.BufferDesc) (renderer.BufferHandle, error) {
	if desc.Size == 0 {
		return renderer.InvalidHandle, fmt.Errorf("buffer '%s' has zero size", desc.Name)
	}
	vb, err := NewVulkanBuffer(b.context, desc.Name, desc.Size, bufferUsageFlags(desc.Usage, desc.HostVisible), desc.HostVisible)
	if err != nil {
		return renderer.InvalidHandle, fmt.Errorf("buffer '%s': %w", desc.Name, err)
	}
	var h renderer.BufferHandle
	b.context.locks.SafeCall(BufferManagement, func() error {
		h = renderer.BufferHandle(b.nextHandle())
		b.buffers[h] = vb
		return nil
	})
	return h, nil
}

func (b *Backend) buffer(h renderer.BufferHandle) (*VulkanBuffer, bool) {
	var vb *VulkanBuffer
	var ok bool
	b.context.locks.SafeCall(BufferManagement, func() error {
		vb, ok = b.buffers[h]
		return nil
	})
	return vb, ok
}

func (b *Backend) WriteBuffer(h renderer.BufferHandle, offset uint64, data []byte) error {
	vb, ok := b.buffer(h)
	if !ok {
		return fmt.Errorf("write to unknown buffer %d", h)
	}
	if offset+uint64(len(data)) > vb.Size {
		return fmt.Errorf("write of %d bytes at %d overflows buffer '%s' of %d bytes", len(data), offset, vb.Name, vb.Size)
	}
	if len(data) == 0 {
		return nil
	}
	if vb.HostVisible {
		return vb.LoadData(b.context, offset, data)
	}

	staging, err := NewVulkanBuffer(b.context, vb.Name+".staging", uint64(len(data)), vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit), true)
	if err != nil {
		return err
	}
	defer staging.Destroy(b.context)
	if err := staging.LoadData(b.context, 0, data); err != nil {
		return err
	}
	return vb.CopyFrom(b.context, staging, offset, uint64(len(data)))
}

func (b *Backend) DestroyBuffer(h renderer.BufferHandle) {
	b.context.locks.SafeCall(BufferManagement, func() error {
		if vb, ok := b.buffers[h]; ok {
			vb.Destroy(b.context)
			delete(b.buffers, h)
		}
		return nil
	})
}

package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer"
)

type VulkanQueryPool struct {
	Handle vk.QueryPool
	Count  uint32
}

func NewQueryPool(context *VulkanContext, count uint32) (*VulkanQueryPool, error) {
	createInfo := vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  vk.QueryTypeOcclusion,
		QueryCount: count,
	}
	var handle vk.QueryPool
	if err := vkCall("vkCreateQueryPool", vk.CreateQueryPool(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle)); err != nil {
		return nil, err
	}
	return &VulkanQueryPool{Handle: handle, Count: count}, nil
}

/**
 * @brief Reads one occlusion result without waiting. The availability word tells a
 * finished query from one the device has not reached yet.
 */
func (qp *VulkanQueryPool) Poll(context *VulkanContext, slot uint32) (uint64, bool) {
	if slot >= qp.Count {
		return 0, false
	}
	var result [2]uint64
	flags := vk.QueryResultFlags(vk.QueryResult64Bit) | vk.QueryResultFlags(vk.QueryResultWithAvailabilityBit)
	res := vk.GetQueryPoolResults(context.Device.LogicalDevice, qp.Handle, slot, 1,
		uint(unsafe.Sizeof(result)), unsafe.Pointer(&result[0]), vk.DeviceSize(unsafe.Sizeof(result)), flags)
	if res != vk.Success && res != vk.NotReady {
		return 0, false
	}
	if result[1] == 0 {
		return 0, false
	}
	return result[0], true
}

func (qp *VulkanQueryPool) Destroy(context *VulkanContext) {
	if qp.Handle != nil {
		vk.DestroyQueryPool(context.Device.LogicalDevice, qp.Handle, context.Allocator)
		qp.Handle = nil
	}
}

func (b *Backend) CreateQueryPool(count uint32) (renderer.QueryPoolHandle, error) {
	if count == 0 {
		return renderer.InvalidHandle, fmt.Errorf("query pool needs at least one query")
	}
	qp, err := NewQueryPool(b.context, count)
	if err != nil {
		return renderer.InvalidHandle, err
	}
	// a query is unavailable until written, but only after its first reset
	cmd, err := AllocateAndBeginSingleUse(b.context, b.context.Device.GraphicsCommandPool)
	if err != nil {
		qp.Destroy(b.context)
		return renderer.InvalidHandle, err
	}
	vk.CmdResetQueryPool(cmd.Handle, qp.Handle, 0, count)
	if err := cmd.EndSingleUse(b.context, b.context.Device.GraphicsCommandPool, b.context.Device.GraphicsQueue); err != nil {
		qp.Destroy(b.context)
		return renderer.InvalidHandle, err
	}

	var h renderer.QueryPoolHandle
	b.context.locks.SafeCall(QueryManagement, func() error {
		h = renderer.QueryPoolHandle(b.nextHandle())
		b.queryPools[h] = qp
		return nil
	})
	return h, nil
}

func (b *Backend) queryPool(h renderer.QueryPoolHandle) (*VulkanQueryPool, bool) {
	var qp *VulkanQueryPool
	var ok bool
	b.context.locks.SafeCall(QueryManagement, func() error {
		qp, ok = b.queryPools[h]
		return nil
	})
	return qp, ok
}

func (b *Backend) PollQuery(h renderer.QueryPoolHandle, slot uint32) (uint64, bool) {
	qp, ok := b.queryPool(h)
	if !ok {
		return 0, false
	}
	return qp.Poll(b.context, slot)
}

func (b *Backend) DestroyQueryPool(h renderer.QueryPoolHandle) {
	b.context.locks.SafeCall(QueryManagement, func() error {
		if qp, ok := b.queryPools[h]; ok {
			qp.Destroy(b.context)
			delete(b.queryPools, h)
		}
		return nil
	})
}

package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer"
)

type descriptorKind uint8

const (
	descriptorFrame descriptorKind = iota
	descriptorEssence
	descriptorSkin
)

func (k descriptorKind) String() string {
	switch k {
	case descriptorFrame:
		return "frame"
	case descriptorEssence:
		return "essence"
	}
	return "skin"
}

/**
 * @brief The three set layouts every program shares: the per-frame uniforms with
 * the shadow maps, the material block with the textures of an essence, and the
 * source, joint and output buffers of a skinning dispatch.
 */
type VulkanDescriptorSetLayouts struct {
	Frame   vk.DescriptorSetLayout
	Essence vk.DescriptorSetLayout
	Skin    vk.DescriptorSetLayout
}

func (l *VulkanDescriptorSetLayouts) of(kind descriptorKind) vk.DescriptorSetLayout {
	switch kind {
	case descriptorFrame:
		return l.Frame
	case descriptorEssence:
		return l.Essence
	}
	return l.Skin
}

// Graphics is the set list of every graphics pipeline layout.
func (l *VulkanDescriptorSetLayouts) Graphics() []vk.DescriptorSetLayout {
	return []vk.DescriptorSetLayout{l.Frame, l.Essence}
}

func (l *VulkanDescriptorSetLayouts) Compute() []vk.DescriptorSetLayout {
	return []vk.DescriptorSetLayout{l.Skin}
}

func createSetLayout(context *VulkanContext, bindings []vk.DescriptorSetLayoutBinding) (vk.DescriptorSetLayout, error) {
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var layout vk.DescriptorSetLayout
	err := vkCall("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &createInfo, context.Allocator, &layout))
	return layout, err
}

func NewDescriptorSetLayouts(context *VulkanContext) (*VulkanDescriptorSetLayouts, error) {
	vertexFragment := vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	fragment := vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	compute := vk.ShaderStageFlags(vk.ShaderStageComputeBit)

	layouts := &VulkanDescriptorSetLayouts{}
	var err error
	layouts.Frame, err = createSetLayout(context, []vk.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeUniformBuffer, DescriptorCount: 1, StageFlags: vertexFragment},
		{Binding: 1, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 1, StageFlags: fragment},
		{Binding: 2, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 1, StageFlags: fragment},
	})
	if err != nil {
		return nil, err
	}
	layouts.Essence, err = createSetLayout(context, []vk.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: vertexFragment},
		{Binding: 1, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: VULKAN_MAX_ESSENCE_TEXTURES, StageFlags: fragment},
	})
	if err != nil {
		layouts.Destroy(context)
		return nil, err
	}
	layouts.Skin, err = createSetLayout(context, []vk.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: compute},
		{Binding: 1, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: compute},
		{Binding: 2, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: compute},
	})
	if err != nil {
		layouts.Destroy(context)
		return nil, err
	}
	return layouts, nil
}

func (l *VulkanDescriptorSetLayouts) Destroy(context *VulkanContext) {
	for _, layout := range []*vk.DescriptorSetLayout{&l.Frame, &l.Essence, &l.Skin} {
		if *layout != nil {
			vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, *layout, context.Allocator)
			*layout = nil
		}
	}
}

func NewDescriptorPool(context *VulkanContext) (vk.DescriptorPool, error) {
	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: VULKAN_MAX_BINDING_SET_COUNT},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: VULKAN_MAX_BINDING_SET_COUNT * 3},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: VULKAN_MAX_BINDING_SET_COUNT * VULKAN_MAX_ESSENCE_TEXTURES},
	}
	createInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       VULKAN_MAX_BINDING_SET_COUNT,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vk.DescriptorPool
	err := vkCall("vkCreateDescriptorPool", vk.CreateDescriptorPool(context.Device.LogicalDevice, &createInfo, context.Allocator, &pool))
	return pool, err
}

type VulkanBindingSet struct {
	Name   string
	Handle vk.DescriptorSet
	Kind   descriptorKind
}

func descriptorKindOf(pipeline *VulkanPipeline, set uint32) (descriptorKind, error) {
	switch {
	case pipeline.BindPoint == vk.PipelineBindPointCompute && set == setSkin:
		return descriptorSkin, nil
	case pipeline.BindPoint == vk.PipelineBindPointGraphics && set == setFrame:
		return descriptorFrame, nil
	case pipeline.BindPoint == vk.PipelineBindPointGraphics && set == setEssence:
		return descriptorEssence, nil
	}
	return 0, fmt.Errorf("pipeline '%s' has no set %d", pipeline.Name, set)
}

func (b *Backend) imageInfo(h renderer.TextureHandle) (vk.DescriptorImageInfo, error) {
	image := b.placeholder
	if h != renderer.InvalidHandle {
		var ok bool
		if image, ok = b.texture(h); !ok {
			return vk.DescriptorImageInfo{}, fmt.Errorf("unknown texture %d", h)
		}
	}
	return vk.DescriptorImageInfo{
		Sampler:     image.Sampler,
		ImageView:   image.View,
		ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
	}, nil
}

func (b *Backend) bufferInfo(h renderer.BufferHandle) (vk.DescriptorBufferInfo, error) {
	vb, ok := b.buffer(h)
	if !ok {
		return vk.DescriptorBufferInfo{}, fmt.Errorf("unknown buffer %d", h)
	}
	return vk.DescriptorBufferInfo{Buffer: vb.Handle, Offset: 0, Range: vk.DeviceSize(vk.WholeSize)}, nil
}

// writesFor maps desc onto the bindings of kind. Unset texture slots get the placeholder.
func (b *Backend) writesFor(kind descriptorKind, set vk.DescriptorSet, desc renderer.BindingSetDesc) ([]vk.WriteDescriptorSet, error) {
	wantBuffers := map[descriptorKind]int{descriptorFrame: 1, descriptorEssence: 1, descriptorSkin: 3}[kind]
	if len(desc.Buffers) != wantBuffers {
		return nil, fmt.Errorf("%s set '%s' takes %d buffers, got %d", kind, desc.Name, wantBuffers, len(desc.Buffers))
	}

	var writes []vk.WriteDescriptorSet
	bufferType := vk.DescriptorTypeStorageBuffer
	if kind == descriptorFrame {
		bufferType = vk.DescriptorTypeUniformBuffer
	}
	for i, h := range desc.Buffers {
		info, err := b.bufferInfo(h)
		if err != nil {
			return nil, err
		}
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      uint32(i),
			DescriptorCount: 1,
			DescriptorType:  bufferType,
			PBufferInfo:     []vk.DescriptorBufferInfo{info},
		})
	}

	switch kind {
	case descriptorFrame:
		// binding 1 is the directional map, binding 2 the point light cube faces
		for slot := 0; slot < 2; slot++ {
			h := renderer.TextureHandle(renderer.InvalidHandle)
			if slot < len(desc.Textures) {
				h = desc.Textures[slot]
			}
			info, err := b.imageInfo(h)
			if err != nil {
				return nil, err
			}
			writes = append(writes, vk.WriteDescriptorSet{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          set,
				DstBinding:      uint32(1 + slot),
				DescriptorCount: 1,
				DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
				PImageInfo:      []vk.DescriptorImageInfo{info},
			})
		}
	case descriptorEssence:
		if len(desc.Textures) > int(VULKAN_MAX_ESSENCE_TEXTURES) {
			return nil, fmt.Errorf("essence set '%s' has %d textures, at most %d fit", desc.Name, len(desc.Textures), VULKAN_MAX_ESSENCE_TEXTURES)
		}
		infos := make([]vk.DescriptorImageInfo, VULKAN_MAX_ESSENCE_TEXTURES)
		for i := range infos {
			h := renderer.TextureHandle(renderer.InvalidHandle)
			if i < len(desc.Textures) {
				h = desc.Textures[i]
			}
			info, err := b.imageInfo(h)
			if err != nil {
				return nil, err
			}
			infos[i] = info
		}
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      1,
			DescriptorCount: uint32(len(infos)),
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			PImageInfo:      infos,
		})
	}
	return writes, nil
}

func (b *Backend) CreateBindingSet(desc renderer.BindingSetDesc) (renderer.BindingSetHandle, error) {
	pipeline, ok := b.pipeline(desc.Pipeline)
	if !ok {
		return renderer.InvalidHandle, fmt.Errorf("binding set '%s' names unknown pipeline %d", desc.Name, desc.Pipeline)
	}
	kind, err := descriptorKindOf(pipeline, desc.Set)
	if err != nil {
		return renderer.InvalidHandle, err
	}

	var set vk.DescriptorSet
	err = b.context.locks.SafeCall(DescriptorManagement, func() error {
		allocateInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     b.descriptorPool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{b.setLayouts.of(kind)},
		}
		return vkCall("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(b.context.Device.LogicalDevice, &allocateInfo, &set))
	})
	if err != nil {
		return renderer.InvalidHandle, fmt.Errorf("binding set '%s': %w", desc.Name, err)
	}

	writes, err := b.writesFor(kind, set, desc)
	if err != nil {
		b.freeSet(set)
		return renderer.InvalidHandle, err
	}
	vk.UpdateDescriptorSets(b.context.Device.LogicalDevice, uint32(len(writes)), writes, 0, nil)

	var h renderer.BindingSetHandle
	b.context.locks.SafeCall(DescriptorManagement, func() error {
		h = renderer.BindingSetHandle(b.nextHandle())
		b.bindingSets[h] = &VulkanBindingSet{Name: desc.Name, Handle: set, Kind: kind}
		return nil
	})
	return h, nil
}

func (b *Backend) freeSet(set vk.DescriptorSet) {
	b.context.locks.SafeCall(DescriptorManagement, func() error {
		return vkCall("vkFreeDescriptorSets", vk.FreeDescriptorSets(b.context.Device.LogicalDevice, b.descriptorPool, 1, &set))
	})
}

func (b *Backend) bindingSet(h renderer.BindingSetHandle) (*VulkanBindingSet, bool) {
	var bs *VulkanBindingSet
	var ok bool
	b.context.locks.SafeCall(DescriptorManagement, func() error {
		bs, ok = b.bindingSets[h]
		return nil
	})
	return bs, ok
}

func (b *Backend) DestroyBindingSet(h renderer.BindingSetHandle) {
	bs, ok := b.bindingSet(h)
	if !ok {
		return
	}
	b.freeSet(bs.Handle)
	b.context.locks.SafeCall(DescriptorManagement, func() error {
		delete(b.bindingSets, h)
		return nil
	})
}

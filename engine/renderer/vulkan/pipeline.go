package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer"
)

/**
 * @brief Holds a Vulkan pipeline and its layout.
 */
type VulkanPipeline struct {
	Name string
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The pipeline layout. */
	PipelineLayout vk.PipelineLayout
	BindPoint      vk.PipelineBindPoint
	Pass           renderer.PassKind
	/** @brief Stages the push constant range is visible to. */
	PushStages vk.ShaderStageFlags
}

type VulkanPipelineConfig struct {
	Name string
	/** @brief The renderpass to associate with the pipeline. */
	Renderpass *VulkanRenderpass
	/** @brief An array of descriptor set layouts. */
	DescriptorSetLayouts []vk.DescriptorSetLayout
	/** @brief An array of stages. */
	Stages []vk.PipelineShaderStageCreateInfo
	/** @brief The face cull mode. */
	CullMode   vk.CullModeFlagBits
	DepthWrite bool
	// Blend enables alpha blending on the color attachment.
	Blend bool
	/** @brief Size of the single push constant range; zero for none. */
	PushConstantSize uint32
}

func newPipelineLayout(context *VulkanContext, setLayouts []vk.DescriptorSetLayout, pushStages vk.ShaderStageFlags, pushSize uint32) (vk.PipelineLayout, error) {
	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}
	if pushSize > 0 {
		// NOTE: only 128 bytes are guaranteed by every implementation.
		if pushSize > 128 || pushSize%4 != 0 {
			return nil, fmt.Errorf("push constant size %d must be a multiple of 4 up to 128", pushSize)
		}
		pipelineLayoutCreateInfo.PushConstantRangeCount = 1
		pipelineLayoutCreateInfo.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: pushStages,
			Offset:     0,
			Size:       pushSize,
		}}
	}

	var pPipelineLayout vk.PipelineLayout
	err := context.locks.SafeCall(PipelineManagement, func() error {
		return vkCall("vkCreatePipelineLayout", vk.CreatePipelineLayout(context.Device.LogicalDevice, &pipelineLayoutCreateInfo, context.Allocator, &pPipelineLayout))
	})
	return pPipelineLayout, err
}

func NewGraphicsPipeline(context *VulkanContext, config *VulkanPipelineConfig) (*VulkanPipeline, error) {
	outPipeline := &VulkanPipeline{
		Name:       config.Name,
		BindPoint:  vk.PipelineBindPointGraphics,
		Pass:       config.Renderpass.Pass,
		PushStages: vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
	}

	// Viewport and scissor are dynamic; only the counts are fixed here.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	// Rasterizer
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(config.CullMode),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}
	if isShadowPass(outPipeline.Pass) {
		// slope scaled bias against shadow acne
		rasterizerCreateInfo.DepthBiasEnable = vk.True
		rasterizerCreateInfo.DepthBiasConstantFactor = 1.25
		rasterizerCreateInfo.DepthBiasSlopeFactor = 1.75
	}

	// Multisampling.
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	// Depth and stencil testing.
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.True,
		DepthWriteEnable:  vk.False,
		DepthCompareOp:    vk.CompareOpLessOrEqual,
		StencilTestEnable: vk.False,
	}
	if config.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:         vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable: vk.False,
		LogicOp:       vk.LogicOpCopy,
	}
	if config.Renderpass.HasColor {
		colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
			BlendEnable:         vk.False,
			SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
			DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			ColorBlendOp:        vk.BlendOpAdd,
			SrcAlphaBlendFactor: vk.BlendFactorSrcAlpha,
			DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			AlphaBlendOp:        vk.BlendOpAdd,
			ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
				vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
		}
		if config.Blend {
			colorBlendAttachmentState.BlendEnable = vk.True
		}
		colorBlendStateCreateInfo.AttachmentCount = 1
		colorBlendStateCreateInfo.PAttachments = []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState}
	}

	// Dynamic state
	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(vertexBindings)),
		PVertexBindingDescriptions:      vertexBindings,
		VertexAttributeDescriptionCount: uint32(len(vertexAttributes)),
		PVertexAttributeDescriptions:    vertexAttributes,
	}

	// Input assembly
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	layout, err := newPipelineLayout(context, config.DescriptorSetLayouts, outPipeline.PushStages, config.PushConstantSize)
	if err != nil {
		return nil, err
	}
	outPipeline.PipelineLayout = layout

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(config.Stages)),
		PStages:             config.Stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              outPipeline.PipelineLayout,
		RenderPass:          config.Renderpass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pPipelines := make([]vk.Pipeline, 1)
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		return vkCall("vkCreateGraphicsPipelines", vk.CreateGraphicsPipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pPipelines))
	}); err != nil {
		outPipeline.Destroy(context)
		return nil, err
	}
	outPipeline.Handle = pPipelines[0]

	core.LogDebug("Graphics pipeline '%s' created!", config.Name)
	return outPipeline, nil
}

func NewComputePipeline(context *VulkanContext, config *VulkanPipelineConfig) (*VulkanPipeline, error) {
	if len(config.Stages) != 1 {
		return nil, fmt.Errorf("compute pipeline '%s' needs exactly one stage, got %d", config.Name, len(config.Stages))
	}
	outPipeline := &VulkanPipeline{
		Name:       config.Name,
		BindPoint:  vk.PipelineBindPointCompute,
		Pass:       renderer.PassSkinning,
		PushStages: vk.ShaderStageFlags(vk.ShaderStageComputeBit),
	}
	layout, err := newPipelineLayout(context, config.DescriptorSetLayouts, outPipeline.PushStages, config.PushConstantSize)
	if err != nil {
		return nil, err
	}
	outPipeline.PipelineLayout = layout

	createInfo := vk.ComputePipelineCreateInfo{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              config.Stages[0],
		Layout:             layout,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}
	pPipelines := make([]vk.Pipeline, 1)
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		return vkCall("vkCreateComputePipelines", vk.CreateComputePipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.ComputePipelineCreateInfo{createInfo},
			context.Allocator,
			pPipelines))
	}); err != nil {
		outPipeline.Destroy(context)
		return nil, err
	}
	outPipeline.Handle = pPipelines[0]

	core.LogDebug("Compute pipeline '%s' created!", config.Name)
	return outPipeline, nil
}

func (pipeline *VulkanPipeline) Destroy(context *VulkanContext) {
	context.locks.SafeCall(PipelineManagement, func() error {
		if pipeline.Handle != nil {
			vk.DestroyPipeline(context.Device.LogicalDevice, pipeline.Handle, context.Allocator)
			pipeline.Handle = nil
		}
		if pipeline.PipelineLayout != nil {
			vk.DestroyPipelineLayout(context.Device.LogicalDevice, pipeline.PipelineLayout, context.Allocator)
			pipeline.PipelineLayout = nil
		}
		return nil
	})
}

func (pipeline *VulkanPipeline) Bind(commandBuffer *VulkanCommandBuffer) {
	vk.CmdBindPipeline(commandBuffer.Handle, pipeline.BindPoint, pipeline.Handle)
}

func (b *Backend) CreatePipeline(desc renderer.PipelineDesc) (renderer.PipelineHandle, error) {
	config := &VulkanPipelineConfig{
		Name:             desc.Name,
		CullMode:         vk.CullModeBackBit,
		DepthWrite:       !desc.Blend && desc.Pass != renderer.PassOcclusion && desc.Pass != renderer.PassDisplay,
		Blend:            desc.Blend,
		PushConstantSize: desc.PushConstantSize,
	}
	if desc.Blend {
		config.CullMode = vk.CullModeNone
	}

	var stages []*VulkanShaderStage
	defer func() {
		// modules are only needed while the pipeline is built
		for _, s := range stages {
			s.Destroy(b.context)
		}
	}()
	for _, name := range desc.Shaders {
		s, err := NewShaderModule(b.context, b.config.ShaderDir, name)
		if err != nil {
			return renderer.InvalidHandle, fmt.Errorf("pipeline '%s': %w", desc.Name, err)
		}
		stages = append(stages, s)
		config.Stages = append(config.Stages, s.ShaderStageCreateInfo)
	}

	var pipeline *VulkanPipeline
	var err error
	switch desc.Type {
	case renderer.PipelineTypeCompute:
		config.DescriptorSetLayouts = b.setLayouts.Compute()
		pipeline, err = NewComputePipeline(b.context, config)
	case renderer.PipelineTypeGraphics:
		renderpass, ok := b.renderpasses[desc.Pass]
		if !ok {
			return renderer.InvalidHandle, fmt.Errorf("pipeline '%s': pass %s has no render pass", desc.Name, desc.Pass)
		}
		config.Renderpass = renderpass
		config.DescriptorSetLayouts = b.setLayouts.Graphics()
		pipeline, err = NewGraphicsPipeline(b.context, config)
	default:
		return renderer.InvalidHandle, fmt.Errorf("pipeline '%s': unknown type %d", desc.Name, desc.Type)
	}
	if err != nil {
		return renderer.InvalidHandle, fmt.Errorf("pipeline '%s': %w", desc.Name, err)
	}

	var h renderer.PipelineHandle
	b.context.locks.SafeCall(ResourceManagement, func() error {
		h = renderer.PipelineHandle(b.nextHandle())
		b.pipelines[h] = pipeline
		return nil
	})
	return h, nil
}

func (b *Backend) pipeline(h renderer.PipelineHandle) (*VulkanPipeline, bool) {
	var p *VulkanPipeline
	var ok bool
	b.context.locks.SafeCall(ResourceManagement, func() error {
		p, ok = b.pipelines[h]
		return nil
	})
	return p, ok
}

func (b *Backend) DestroyPipeline(h renderer.PipelineHandle) {
	p, ok := b.pipeline(h)
	if !ok {
		return
	}
	p.Destroy(b.context)
	b.context.locks.SafeCall(ResourceManagement, func() error {
		delete(b.pipelines, h)
		return nil
	})
}

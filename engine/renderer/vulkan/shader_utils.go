package vulkan

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	vk "github.com/goki/vulkan"
)

/**
 * @brief Represents a single shader stage.
 */
type VulkanShaderStage struct {
	/** @brief The internal shader module Handle. */
	Handle vk.ShaderModule
	/** @brief The pipeline shader stage creation info. */
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

// shaderStageOf reads the stage from names like "pbr.vert.spv".
func shaderStageOf(name string) (vk.ShaderStageFlagBits, error) {
	parts := strings.Split(filepath.Base(name), ".")
	if len(parts) < 3 || parts[len(parts)-1] != "spv" {
		return 0, fmt.Errorf("shader '%s' is not named <program>.<stage>.spv", name)
	}
	switch parts[len(parts)-2] {
	case "vert":
		return vk.ShaderStageVertexBit, nil
	case "frag":
		return vk.ShaderStageFragmentBit, nil
	case "comp":
		return vk.ShaderStageComputeBit, nil
	}
	return 0, fmt.Errorf("shader '%s' has unknown stage '%s'", name, parts[len(parts)-2])
}

// spirvWords decodes a little endian SPIR-V binary.
func spirvWords(code []byte) ([]uint32, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V size %d is not a positive multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	if words[0] != 0x07230203 {
		return nil, fmt.Errorf("bad SPIR-V magic %#x", words[0])
	}
	return words, nil
}

func NewShaderModule(context *VulkanContext, dir, name string) (*VulkanShaderStage, error) {
	stage, err := shaderStageOf(name)
	if err != nil {
		return nil, err
	}
	code, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("unable to read shader module: %w", err)
	}
	words, err := spirvWords(code)
	if err != nil {
		return nil, fmt.Errorf("shader '%s': %w", name, err)
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}
	shaderStage := &VulkanShaderStage{}
	if err := vkCall("vkCreateShaderModule", vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &shaderStage.Handle)); err != nil {
		return nil, fmt.Errorf("shader '%s': %w", name, err)
	}

	shaderStage.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  stage,
		Module: shaderStage.Handle,
		PName:  VulkanSafeString("main"),
	}
	return shaderStage, nil
}

func (s *VulkanShaderStage) Destroy(context *VulkanContext) {
	if s.Handle != nil {
		vk.DestroyShaderModule(context.Device.LogicalDevice, s.Handle, context.Allocator)
		s.Handle = nil
	}
}

package vulkan

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShaderStageFromName(t *testing.T) {
	for name, want := range map[string]vk.ShaderStageFlagBits{
		"pbr.vert.spv":         vk.ShaderStageVertexBit,
		"shaders/pbr.frag.spv": vk.ShaderStageFragmentBit,
		"skinning.comp.spv":    vk.ShaderStageComputeBit,
	} {
		got, err := shaderStageOf(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := shaderStageOf("pbr.spv")
	assert.Error(t, err)
	_, err = shaderStageOf("pbr.geom.spv")
	assert.Error(t, err)
}

func TestSpirvWords(t *testing.T) {
	code := binary.LittleEndian.AppendUint32(nil, 0x07230203)
	code = binary.LittleEndian.AppendUint32(code, 0x00010300)
	words, err := spirvWords(code)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x07230203, 0x00010300}, words)

	_, err = spirvWords(code[:6])
	assert.Error(t, err)
	_, err = spirvWords([]byte{0, 0, 0, 0})
	assert.ErrorContains(t, err, "magic")
}

func TestBufferUsageFlags(t *testing.T) {
	flags := bufferUsageFlags(renderer.BufferUsageStorage|renderer.BufferUsageVertex, false)
	assert.NotZero(t, flags&vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit))
	assert.NotZero(t, flags&vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	// device local buffers are filled through a copy
	assert.NotZero(t, flags&vk.BufferUsageFlags(vk.BufferUsageTransferDstBit))

	flags = bufferUsageFlags(renderer.BufferUsageUniform, true)
	assert.Equal(t, vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit), flags)
}

func TestBarrierTranslation(t *testing.T) {
	assert.Equal(t,
		vk.PipelineStageFlags(vk.PipelineStageVertexInputBit)|vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		pipelineStageFlags(renderer.PipelineStageVertexInput|renderer.PipelineStageComputeShader))
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), pipelineStageFlags(0))
	assert.Equal(t, vk.AccessFlags(vk.AccessShaderWriteBit), accessFlags(renderer.AccessShaderWrite))
	assert.Equal(t,
		vk.ShaderStageFlags(vk.ShaderStageVertexBit)|vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		shaderStageFlags(renderer.ShaderStageVertex|renderer.ShaderStageFragment))
}

func TestQueueFamilyOwnership(t *testing.T) {
	src, dst := queueFamilies([2]uint32{0, 0}, renderer.QueueGraphics, renderer.QueueCompute)
	assert.Equal(t, uint32(vk.QueueFamilyIgnored), src)
	assert.Equal(t, uint32(vk.QueueFamilyIgnored), dst)

	src, dst = queueFamilies([2]uint32{0, 2}, renderer.QueueCompute, renderer.QueueGraphics)
	assert.Equal(t, uint32(2), src)
	assert.Equal(t, uint32(0), dst)
}

func TestPassAttachmentRules(t *testing.T) {
	assert.False(t, loadsDepth(renderer.PassDepth))
	assert.True(t, loadsDepth(renderer.PassOcclusion))
	assert.True(t, loadsDepth(renderer.PassDisplay))
	assert.True(t, isShadowPass(renderer.PassPointShadow))
	assert.False(t, isShadowPass(renderer.PassDisplay))
}

func TestResultStrings(t *testing.T) {
	assert.Equal(t, "VK_NOT_READY", VulkanResultString(vk.NotReady, false))
	assert.Contains(t, VulkanResultString(vk.ErrorDeviceLost, true), "has been lost")
	assert.True(t, VulkanResultIsSuccess(vk.NotReady))
	assert.False(t, VulkanResultIsSuccess(vk.ErrorOutOfDeviceMemory))
	assert.NoError(t, vkCall("vkQueueSubmit", vk.Success))
	err := vkCall("vkQueueSubmit", vk.ErrorDeviceLost)
	assert.ErrorIs(t, err, core.ErrDeviceFailure)
	assert.ErrorContains(t, err, "vkQueueSubmit failed with VK_ERROR_DEVICE_LOST")
}

func TestSafeString(t *testing.T) {
	assert.Equal(t, "main\x00", VulkanSafeString("main"))
	assert.Equal(t, "main\x00", VulkanSafeString("main\x00"))
	assert.Equal(t, "\x00", VulkanSafeString(""))
}

func TestLockPoolSerializesGroups(t *testing.T) {
	pool := NewVulkanLockPool()
	pool.SetQueueFamily(0)

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			pool.SafeCall(BufferManagement, func() error { counter++; return nil })
		}()
		go func() {
			defer wg.Done()
			pool.SafeQueueCall(0, func() error { return nil })
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)

	boom := errors.New("boom")
	assert.ErrorIs(t, pool.SafeCall(ImageManagement, func() error { return boom }), boom)
	// unknown families get a lock on first use
	assert.NoError(t, pool.SafeQueueCall(7, func() error { return nil }))
}

func TestNewRejectsMissingDevice(t *testing.T) {
	_, err := New(DeviceConfig{FramesInFlight: 2, Width: 4, Height: 4})
	assert.ErrorContains(t, err, "already created device")

	_, err = New(DeviceConfig{Width: 4, Height: 4})
	assert.Error(t, err)
}

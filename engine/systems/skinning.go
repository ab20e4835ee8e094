package systems

import (
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/model"
	"github.com/spaghettifunk/anima/engine/renderer"
)

type SkinningConfig struct {
	// Threads per compute workgroup; must match local_size_x of skinning.comp.
	Workgroup uint32
}

/**
 * @brief Records the compute pass that deforms the vertices of every skinned variant
 * into its per-frame output buffer. The pass is bracketed by ownership barriers so
 * the graphics queue never reads a buffer the compute queue is still writing.
 */
type SkinningStage struct {
	backend  renderer.RendererBackend
	config   SkinningConfig
	pipeline renderer.PipelineHandle
	metrics  *core.Metrics
	// Number of joint blocks written by the last Record call.
	uploads int
}

func NewSkinningStage(backend renderer.RendererBackend, config SkinningConfig, metrics *core.Metrics) (*SkinningStage, error) {
	if config.Workgroup == 0 {
		config.Workgroup = 64
	}
	h, err := backend.CreatePipeline(renderer.PipelineDesc{
		Name:             "skinning",
		Type:             renderer.PipelineTypeCompute,
		Pass:             renderer.PassSkinning,
		Shaders:          []string{"skinning.comp.spv"},
		PushConstantSize: SkinParamsSize,
	})
	if err != nil {
		return nil, err
	}
	return &SkinningStage{backend: backend, config: config, pipeline: h, metrics: metrics}, nil
}

func (s *SkinningStage) Pipeline() renderer.PipelineHandle {
	return s.pipeline
}

func (s *SkinningStage) Uploads() int {
	return s.uploads
}

func acquireForCompute(buffer renderer.BufferHandle) renderer.BufferBarrier {
	return renderer.BufferBarrier{
		Buffer:    buffer,
		SrcStage:  renderer.PipelineStageVertexInput,
		DstStage:  renderer.PipelineStageComputeShader,
		SrcAccess: renderer.AccessVertexAttributeRead,
		DstAccess: renderer.AccessShaderWrite,
		SrcQueue:  renderer.QueueGraphics,
		DstQueue:  renderer.QueueCompute,
	}
}

func releaseToGraphics(buffer renderer.BufferHandle) renderer.BufferBarrier {
	return renderer.BufferBarrier{
		Buffer:    buffer,
		SrcStage:  renderer.PipelineStageComputeShader,
		DstStage:  renderer.PipelineStageVertexInput,
		SrcAccess: renderer.AccessShaderWrite,
		DstAccess: renderer.AccessVertexAttributeRead,
		SrcQueue:  renderer.QueueCompute,
		DstQueue:  renderer.QueueGraphics,
	}
}

/**
 * @brief Records the skinning work of frame for variants. Inactive variants,
 * unskinned essences and pipelines that do not skin are skipped. Joint blocks are
 * uploaded only to the frame-in-flight copies that have not seen the latest change.
 */
func (s *SkinningStage) Record(frame *renderer.FrameContext, variants []*model.Variant) {
	s.uploads = 0
	cmd := frame.Commands
	fi := frame.FrameIndex
	pass := renderer.PassSkinning.String()

	cmd.BeginPass(renderer.PassSkinning, 0)
	defer cmd.EndPass()
	cmd.BindPipeline(s.pipeline)

	for _, v := range variants {
		e := v.Essence
		if !v.Active || !e.IsSkinned() || len(v.Buffers.SkinnedBuffers) == 0 {
			if s.metrics != nil && e.IsSkinned() {
				s.metrics.RecordSkip(pass)
			}
			continue
		}

		if v.ConsumeJointUpload() {
			if err := s.backend.WriteBuffer(v.Buffers.JointBuffers[fi], 0, v.JointBytes()); err != nil {
				core.LogError("joint upload of variant %s failed: %s", v.ID, err)
			} else {
				s.uploads++
			}
		}

		out := v.Buffers.SkinnedBuffers[fi]
		cmd.PipelineBarrier(acquireForCompute(out))
		cmd.BindBindingSet(s.pipeline, 0, v.Buffers.BindingSets[fi])
		for _, item := range e.SkinnedItems {
			prim := e.Primitive(item)
			skin := e.Data.Nodes[item.Node].Skin
			params := SkinParams{
				Model:       v.SkinModel(skin),
				FirstVertex: prim.FirstVertex,
				VertexCount: prim.VertexCount,
				JointOffset: v.Skins[skin].JointOffset,
				VertexWords: e.Geometry.VertexStride / 4,
			}
			cmd.PushParameters(s.pipeline, renderer.ShaderStageCompute, 0, params.Bytes())
			cmd.Dispatch((prim.VertexCount+s.config.Workgroup-1)/s.config.Workgroup, 1, 1)
			if s.metrics != nil {
				s.metrics.RecordDispatch(pass)
			}
		}
		cmd.PipelineBarrier(releaseToGraphics(out))
	}
}

func (s *SkinningStage) Shutdown() error {
	s.backend.DestroyPipeline(s.pipeline)
	return nil
}

package systems

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/model"
	"github.com/spaghettifunk/anima/engine/renderer"
)

// Binding set indices shared by every graphics pipeline.
const (
	SetFrame   uint32 = 0
	SetEssence uint32 = 1
)

/**
 * @brief A pipeline owns the GPU programs of one PipelineKind and knows which
 * passes and alpha modes it takes part in.
 */
type Pipeline interface {
	Kind() model.PipelineKind
	Participates(pass renderer.PassKind, alpha assets.AlphaMode) bool
	// Skins reports whether variants of this pipeline go through the skinning stage.
	Skins() bool
	// BindForGraphics binds the program for pass/alpha and returns it.
	BindForGraphics(cmd renderer.CommandRecorder, pass renderer.PassKind, alpha assets.AlphaMode) renderer.PipelineHandle
	// Layout is the program binding sets shared across passes are created against.
	Layout() renderer.PipelineHandle
	PrepareEssence(e *model.Essence) error
	ReleaseEssence(e *model.Essence)
	CreateVariant(e *model.Essence) (*model.Variant, error)
	DestroyVariant(v *model.Variant)
	Render(rc *RenderContext, e *model.Essence, v *model.Variant)
	// Activate is called when the pipeline's variant list becomes non-empty or empty.
	Activate(active bool)
	Active() bool
	Destroy()
}

/** @brief State shared by every Render call of one pass. */
type RenderContext struct {
	Frame *renderer.FrameContext
	Pass  renderer.PassKind
	Alpha assets.AlphaMode
	Light uint32
	Face  uint32
	// Program bound by BindForGraphics for this pass and alpha mode.
	Pipeline renderer.PipelineHandle
	Metrics  *core.Metrics

	boundVertex renderer.BufferHandle
}

// bindVertices avoids rebinding the same vertex stream between consecutive draws.
func (rc *RenderContext) bindVertices(vertices, uvs renderer.BufferHandle) {
	if rc.boundVertex == vertices {
		return
	}
	rc.Frame.Commands.BindVertexBuffers(0, vertices, uvs)
	rc.boundVertex = vertices
}

// BindEssence binds the resources shared by every variant of e, once per pass.
func (rc *RenderContext) BindEssence(e *model.Essence) {
	cmd := rc.Frame.Commands
	rc.boundVertex = renderer.InvalidHandle
	rc.bindVertices(e.Geometry.VertexBuffer, e.Geometry.UVBuffer)
	cmd.BindIndexBuffer(e.Geometry.IndexBuffer)
	cmd.BindBindingSet(rc.Pipeline, SetEssence, e.BindingSet)
}

type PipelineConfig struct {
	Kind           model.PipelineKind
	FramesInFlight uint32
	// Frames a changed joint block keeps being uploaded. Defaults to FramesInFlight.
	JointDirtyFrames uint32
	// Compute program the per-variant skinning binding sets are created against.
	SkinningPipeline renderer.PipelineHandle
}

type passKey struct {
	pass  renderer.PassKind
	alpha assets.AlphaMode
}

type pipeline struct {
	kind     model.PipelineKind
	backend  renderer.RendererBackend
	config   PipelineConfig
	programs map[passKey]renderer.PipelineHandle
	active   bool
}

var pipelinePasses = map[model.PipelineKind][]passKey{
	model.PipelinePBR: {
		{renderer.PassDepth, assets.AlphaModeOpaque},
		{renderer.PassDepth, assets.AlphaModeMask},
		{renderer.PassDirectionalShadow, assets.AlphaModeOpaque},
		{renderer.PassDirectionalShadow, assets.AlphaModeMask},
		{renderer.PassPointShadow, assets.AlphaModeOpaque},
		{renderer.PassPointShadow, assets.AlphaModeMask},
		{renderer.PassOcclusion, assets.AlphaModeOpaque},
		{renderer.PassDisplay, assets.AlphaModeOpaque},
		{renderer.PassDisplay, assets.AlphaModeMask},
		{renderer.PassDisplay, assets.AlphaModeBlend},
	},
	model.PipelineDebug: {
		{renderer.PassDisplay, assets.AlphaModeOpaque},
		{renderer.PassDisplay, assets.AlphaModeMask},
		{renderer.PassDisplay, assets.AlphaModeBlend},
	},
	model.PipelineParticle: {
		{renderer.PassDisplay, assets.AlphaModeBlend},
	},
}

func shadersFor(kind model.PipelineKind, key passKey) []string {
	switch key.pass {
	case renderer.PassDepth, renderer.PassDirectionalShadow:
		return []string{"depth.vert.spv", "depth.frag.spv"}
	case renderer.PassPointShadow:
		return []string{"shadow_point.vert.spv", "shadow_point.frag.spv"}
	case renderer.PassOcclusion:
		return []string{"occlusion.vert.spv", "occlusion.frag.spv"}
	}
	return []string{kind.String() + ".vert.spv", kind.String() + ".frag.spv"}
}

/**
 * @brief Creates the programs of kind for every pass it takes part in.
 * Failures are device failures and leave nothing allocated.
 */
func NewPipeline(backend renderer.RendererBackend, config PipelineConfig) (Pipeline, error) {
	passes, ok := pipelinePasses[config.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownPipeline, config.Kind)
	}
	p := &pipeline{
		kind:     config.Kind,
		backend:  backend,
		config:   config,
		programs: make(map[passKey]renderer.PipelineHandle, len(passes)),
	}
	if p.config.JointDirtyFrames < config.FramesInFlight {
		p.config.JointDirtyFrames = config.FramesInFlight
	}
	for _, key := range passes {
		h, err := backend.CreatePipeline(renderer.PipelineDesc{
			Name:             fmt.Sprintf("%s.%s.%s", config.Kind, key.pass, key.alpha),
			Type:             renderer.PipelineTypeGraphics,
			Pass:             key.pass,
			Shaders:          shadersFor(config.Kind, key),
			PushConstantSize: DrawParamsSize,
			DepthOnly:        key.pass != renderer.PassDisplay,
			Blend:            key.alpha == assets.AlphaModeBlend,
		})
		if err != nil {
			p.Destroy()
			return nil, err
		}
		p.programs[key] = h
	}
	return p, nil
}

func (p *pipeline) Kind() model.PipelineKind {
	return p.kind
}

func (p *pipeline) Participates(pass renderer.PassKind, alpha assets.AlphaMode) bool {
	if pass == renderer.PassSkinning {
		return p.Skins()
	}
	_, ok := p.programs[passKey{pass, alpha}]
	return ok
}

func (p *pipeline) Skins() bool {
	return p.kind != model.PipelineParticle
}

func (p *pipeline) BindForGraphics(cmd renderer.CommandRecorder, pass renderer.PassKind, alpha assets.AlphaMode) renderer.PipelineHandle {
	h, ok := p.programs[passKey{pass, alpha}]
	if !ok {
		return renderer.InvalidHandle
	}
	cmd.BindPipeline(h)
	return h
}

func (p *pipeline) Layout() renderer.PipelineHandle {
	// every program of a kind shares the frame and essence set layouts
	return p.programs[pipelinePasses[p.kind][0]]
}

// PrepareEssence creates the binding set with the material block and textures of e.
func (p *pipeline) PrepareEssence(e *model.Essence) error {
	if e.Geometry == nil {
		return fmt.Errorf("essence '%s' has no geometry", e.Name)
	}
	bs, err := p.backend.CreateBindingSet(renderer.BindingSetDesc{
		Name:     e.Name + ".essence",
		Pipeline: p.Layout(),
		Set:      SetEssence,
		Buffers:  []renderer.BufferHandle{e.Geometry.MaterialBuffer},
		Textures: e.Geometry.Textures,
	})
	if err != nil {
		return err
	}
	e.BindingSet = bs
	return nil
}

func (p *pipeline) ReleaseEssence(e *model.Essence) {
	if e.BindingSet != renderer.InvalidHandle {
		p.backend.DestroyBindingSet(e.BindingSet)
		e.BindingSet = renderer.InvalidHandle
	}
}

/**
 * @brief Builds a variant of e. Skinned essences get one joint buffer, one skinned
 * vertex buffer and one compute binding set per frame in flight.
 */
func (p *pipeline) CreateVariant(e *model.Essence) (*model.Variant, error) {
	v := model.NewVariant(e, p.config.JointDirtyFrames)
	if !e.IsSkinned() || !p.Skins() || e.Geometry == nil {
		return v, nil
	}

	n := p.config.FramesInFlight
	v.Buffers = model.VariantBuffers{
		JointBuffers:   make([]renderer.BufferHandle, n),
		SkinnedBuffers: make([]renderer.BufferHandle, n),
		BindingSets:    make([]renderer.BindingSetHandle, n),
	}
	for i := uint32(0); i < n; i++ {
		var err error
		v.Buffers.JointBuffers[i], err = p.backend.CreateBuffer(renderer.BufferDesc{
			Name:        fmt.Sprintf("%s.joints.%d", v.ID, i),
			Size:        uint64(e.JointCount) * model.JointMatrixSize,
			Usage:       renderer.BufferUsageStorage,
			HostVisible: true,
		})
		if err != nil {
			p.DestroyVariant(v)
			return nil, err
		}
		v.Buffers.SkinnedBuffers[i], err = p.backend.CreateBuffer(renderer.BufferDesc{
			Name:  fmt.Sprintf("%s.skinned.%d", v.ID, i),
			Size:  uint64(e.Geometry.VertexCount) * uint64(e.Geometry.VertexStride),
			Usage: renderer.BufferUsageStorage | renderer.BufferUsageVertex,
		})
		if err != nil {
			p.DestroyVariant(v)
			return nil, err
		}
		v.Buffers.BindingSets[i], err = p.backend.CreateBindingSet(renderer.BindingSetDesc{
			Name:     fmt.Sprintf("%s.skinning.%d", v.ID, i),
			Pipeline: p.config.SkinningPipeline,
			Set:      0,
			Buffers:  []renderer.BufferHandle{e.Geometry.VertexBuffer, v.Buffers.JointBuffers[i], v.Buffers.SkinnedBuffers[i]},
		})
		if err != nil {
			p.DestroyVariant(v)
			return nil, err
		}
	}
	return v, nil
}

func (p *pipeline) DestroyVariant(v *model.Variant) {
	for _, bs := range v.Buffers.BindingSets {
		if bs != renderer.InvalidHandle {
			p.backend.DestroyBindingSet(bs)
		}
	}
	for _, b := range v.Buffers.JointBuffers {
		if b != renderer.InvalidHandle {
			p.backend.DestroyBuffer(b)
		}
	}
	for _, b := range v.Buffers.SkinnedBuffers {
		if b != renderer.InvalidHandle {
			p.backend.DestroyBuffer(b)
		}
	}
	v.Buffers = model.VariantBuffers{}
}

/**
 * @brief Draws the primitives of v that belong to rc.Alpha, in stored order.
 * Skinned primitives read the variant's skinned vertices of this frame, which are
 * already in world space.
 */
func (p *pipeline) Render(rc *RenderContext, e *model.Essence, v *model.Variant) {
	cmd := rc.Frame.Commands
	skinned := e.IsSkinned() && p.Skins() && len(v.Buffers.SkinnedBuffers) > 0
	for _, item := range e.DrawLists[rc.Alpha] {
		prim := e.Primitive(item)
		params := DrawParams{
			Model:    v.Nodes[item.Node].Model,
			Material: item.Material,
			Light:    rc.Light,
			Face:     rc.Face,
		}
		switch rc.Alpha {
		case assets.AlphaModeMask:
			params.Flags |= DrawFlagAlphaMask
		case assets.AlphaModeBlend:
			params.Flags |= DrawFlagAlphaBlend
		}
		if rc.Pass == renderer.PassDirectionalShadow {
			params.Flags |= DrawFlagLightView
		}
		if skinned && e.Data.Nodes[item.Node].Skin >= 0 {
			rc.bindVertices(v.Buffers.SkinnedBuffers[rc.Frame.FrameIndex], e.Geometry.UVBuffer)
			params.Model = mgl32.Ident4()
			params.Flags |= DrawFlagSkinned
		} else {
			rc.bindVertices(e.Geometry.VertexBuffer, e.Geometry.UVBuffer)
		}
		cmd.PushParameters(rc.Pipeline, renderer.ShaderStageVertex|renderer.ShaderStageFragment, 0, params.Bytes())
		cmd.DrawIndexed(prim.IndexCount, 1, prim.FirstIndex, 0)
		if rc.Metrics != nil {
			rc.Metrics.RecordDraw(rc.Pass.String())
		}
	}
}

func (p *pipeline) Activate(active bool) {
	if p.active == active {
		return
	}
	p.active = active
	if active {
		core.LogInfo("pipeline '%s' activated", p.kind)
	} else {
		core.LogInfo("pipeline '%s' idle", p.kind)
	}
}

func (p *pipeline) Active() bool {
	return p.active
}

func (p *pipeline) Destroy() {
	for key, h := range p.programs {
		p.backend.DestroyPipeline(h)
		delete(p.programs, key)
	}
}

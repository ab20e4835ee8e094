package systems

import (
	"encoding/binary"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/components"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/math"
	"github.com/spaghettifunk/anima/engine/model"
	"github.com/spaghettifunk/anima/engine/renderer"
)

const occlusionProxyKey = "__occlusion_proxy"

var displayOrder = []assets.AlphaMode{assets.AlphaModeOpaque, assets.AlphaModeMask, assets.AlphaModeBlend}
var depthOrder = []assets.AlphaMode{assets.AlphaModeOpaque, assets.AlphaModeMask}

type OrchestratorConfig struct {
	FramesInFlight uint32
	MaxPointLights uint32
	ShadowMapSize  uint32
}

/**
 * @brief Records one frame: occlusion readback, frame uniforms, skinning, depth,
 * directional shadow, point shadows, occlusion queries and display, in that order.
 */
type Orchestrator struct {
	backend  renderer.RendererBackend
	config   OrchestratorConfig
	registry *Registry
	skinning *SkinningStage
	queries  *QueryPool
	metrics  *core.Metrics

	camera      components.Camera
	directional *model.DirectionalLight
	points      []model.PointLight

	frameBuffers []renderer.BufferHandle
	frameSets    map[model.PipelineKind][]renderer.BindingSetHandle
	shadowMaps   []renderer.TextureHandle

	proxy           *model.Geometry
	proxyIndexCount uint32
	geometry        *GeometrySystem
}

func NewOrchestrator(backend renderer.RendererBackend, config OrchestratorConfig, registry *Registry, skinning *SkinningStage, queries *QueryPool, geometry *GeometrySystem, metrics *core.Metrics) (*Orchestrator, error) {
	if config.FramesInFlight == 0 {
		return nil, fmt.Errorf("%w: frames in flight must be > 0", core.ErrInvalidConfig)
	}
	if config.ShadowMapSize == 0 {
		config.ShadowMapSize = 2048
	}
	o := &Orchestrator{
		backend:   backend,
		config:    config,
		registry:  registry,
		skinning:  skinning,
		queries:   queries,
		metrics:   metrics,
		geometry:  geometry,
		frameSets: make(map[model.PipelineKind][]renderer.BindingSetHandle),
	}

	cube := assets.UnitCube()
	proxy, err := geometry.Acquire(occlusionProxyKey, cube, nil)
	if err != nil {
		return nil, err
	}
	o.proxy = proxy
	o.proxyIndexCount = uint32(len(cube.Indices))

	dirMap, err := backend.CreateTexture(renderer.TextureDesc{
		Name:   "shadow.directional",
		Width:  config.ShadowMapSize,
		Height: config.ShadowMapSize,
		Layers: 1,
		Depth:  true,
		Target: true,
		Pass:   renderer.PassDirectionalShadow,
	}, nil)
	if err != nil {
		o.Shutdown()
		return nil, err
	}
	o.shadowMaps = append(o.shadowMaps, dirMap)
	if config.MaxPointLights > 0 {
		cubeMap, err := backend.CreateTexture(renderer.TextureDesc{
			Name:   "shadow.point",
			Width:  config.ShadowMapSize / 2,
			Height: config.ShadowMapSize / 2,
			Layers: config.MaxPointLights * math.CubeFaceCount,
			Depth:  true,
			Target: true,
			Pass:   renderer.PassPointShadow,
		}, nil)
		if err != nil {
			o.Shutdown()
			return nil, err
		}
		o.shadowMaps = append(o.shadowMaps, cubeMap)
	}

	o.frameBuffers = make([]renderer.BufferHandle, config.FramesInFlight)
	for i := range o.frameBuffers {
		h, err := backend.CreateBuffer(renderer.BufferDesc{
			Name:        fmt.Sprintf("frame.uniforms.%d", i),
			Size:        uint64(o.frameUniformSize()),
			Usage:       renderer.BufferUsageUniform,
			HostVisible: true,
		})
		if err != nil {
			o.Shutdown()
			return nil, err
		}
		o.frameBuffers[i] = h
	}
	for kind := model.PipelineKind(0); kind < model.PipelineKindCount; kind++ {
		p, ok := registry.Pipeline(kind)
		if !ok {
			continue
		}
		sets := make([]renderer.BindingSetHandle, config.FramesInFlight)
		for i := range sets {
			sets[i], err = backend.CreateBindingSet(renderer.BindingSetDesc{
				Name:     fmt.Sprintf("frame.%s.%d", kind, i),
				Pipeline: p.Layout(),
				Set:      SetFrame,
				Buffers:  []renderer.BufferHandle{o.frameBuffers[i]},
				Textures: o.shadowMaps,
			})
			if err != nil {
				o.Shutdown()
				return nil, err
			}
		}
		o.frameSets[kind] = sets
	}
	return o, nil
}

func (o *Orchestrator) SetCamera(c components.Camera) {
	o.camera = c
}

func (o *Orchestrator) SetDirectionalLight(l *model.DirectionalLight) {
	o.directional = l
}

// AddPointLight returns false once MaxPointLights lights are registered.
func (o *Orchestrator) AddPointLight(l model.PointLight) bool {
	if uint32(len(o.points)) >= o.config.MaxPointLights {
		core.LogWarn("point light ignored: %d lights already registered", len(o.points))
		return false
	}
	o.points = append(o.points, l)
	return true
}

func (o *Orchestrator) ClearPointLights() {
	o.points = o.points[:0]
}

func (o *Orchestrator) viewProjection() (view, proj mgl32.Mat4) {
	if o.camera == nil {
		return mgl32.Ident4(), mgl32.Ident4()
	}
	return o.camera.GetTransform(), o.camera.GetProjection()
}

/**
 * @brief Tests every variant against the camera frustum and stores the result in
 * Visible. Runs before animation so hidden variants skip pose evaluation.
 */
func (o *Orchestrator) Cull() {
	if o.camera == nil {
		return
	}
	frustum := components.Frustum(o.camera)
	for kind := model.PipelineKind(0); kind < model.PipelineKindCount; kind++ {
		for _, v := range o.registry.Variants(kind) {
			v.SyncWorld()
			b := v.WorldBounds()
			v.Visible = frustum.ContainsBox(b.Center(), b.Extent())
		}
	}
}

// frame uniforms: view, proj, viewProj, camera position, directional light VP, direction, color,
// light counts, then per point light position, color+range and six face VPs
func (o *Orchestrator) frameUniformSize() int {
	return 3*64 + 16 + 64 + 16 + 16 + 16 + int(o.config.MaxPointLights)*(16+16+math.CubeFaceCount*64)
}

func (o *Orchestrator) frameUniforms() []byte {
	view, proj := o.viewProjection()
	buf := make([]byte, 0, o.frameUniformSize())
	buf = appendMat4(buf, view)
	buf = appendMat4(buf, proj)
	buf = appendMat4(buf, proj.Mul4(view))
	var eye mgl32.Vec3
	if o.camera != nil {
		eye = o.camera.GetPosition()
	}
	buf = putFloats(buf, eye.X(), eye.Y(), eye.Z(), 1)

	dl := model.DirectionalLight{Direction: mgl32.Vec3{0, -1, 0}, Extent: 1}
	if o.directional != nil {
		dl = *o.directional
	}
	buf = appendMat4(buf, dl.ViewProjection())
	buf = putFloats(buf, dl.Direction.X(), dl.Direction.Y(), dl.Direction.Z(), 0)
	buf = putFloats(buf, dl.Color.X(), dl.Color.Y(), dl.Color.Z(), 0)

	hasDirectional := uint32(0)
	if o.directional != nil {
		hasDirectional = 1
	}
	buf = binary.LittleEndian.AppendUint32(buf, hasDirectional)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(o.points)))
	buf = append(buf, make([]byte, 8)...)

	for i := uint32(0); i < o.config.MaxPointLights; i++ {
		var pl model.PointLight
		if int(i) < len(o.points) {
			pl = o.points[i]
		}
		buf = putFloats(buf, pl.Position.X(), pl.Position.Y(), pl.Position.Z(), 1)
		buf = putFloats(buf, pl.Color.X(), pl.Color.Y(), pl.Color.Z(), pl.Range)
		for f := math.CubeFace(0); f < math.CubeFaceCount; f++ {
			if int(i) < len(o.points) {
				buf = appendMat4(buf, pl.FaceViewProjection(f))
			} else {
				buf = appendMat4(buf, mgl32.Ident4())
			}
		}
	}
	return buf
}

func (o *Orchestrator) skinnableVariants() []*model.Variant {
	var out []*model.Variant
	for kind := model.PipelineKind(0); kind < model.PipelineKindCount; kind++ {
		p, ok := o.registry.Pipeline(kind)
		if !ok || !p.Skins() {
			continue
		}
		out = append(out, o.registry.Variants(kind)...)
	}
	return out
}

// RenderFrame records every pass of frame.
func (o *Orchestrator) RenderFrame(frame *renderer.FrameContext) error {
	fi := frame.FrameIndex
	cmd := frame.Commands
	if o.metrics != nil {
		o.metrics.ResetPasses()
	}

	if o.queries != nil {
		o.queries.Poll(fi)
	}
	if err := o.backend.WriteBuffer(o.frameBuffers[fi], 0, o.frameUniforms()); err != nil {
		return fmt.Errorf("frame uniforms: %w", err)
	}

	if o.skinning != nil {
		o.skinning.Record(frame, o.skinnableVariants())
	}
	if o.queries != nil {
		o.queries.Reset(cmd, fi)
	}

	o.renderPass(frame, renderer.PassDepth, 0, 0, 0, depthOrder)
	if o.directional != nil {
		o.renderPass(frame, renderer.PassDirectionalShadow, 0, 0, 0, depthOrder)
	}
	for l := range o.points {
		for f := uint32(0); f < math.CubeFaceCount; f++ {
			o.renderPass(frame, renderer.PassPointShadow, uint32(l)*math.CubeFaceCount+f, uint32(l), f, depthOrder)
		}
	}
	if o.queries != nil {
		o.renderOcclusion(frame)
	}
	o.renderPass(frame, renderer.PassDisplay, 0, 0, 0, displayOrder)
	return nil
}

func (o *Orchestrator) skip(pass renderer.PassKind, v *model.Variant) bool {
	if !v.Active {
		return true
	}
	if pass == renderer.PassDisplay || pass == renderer.PassDepth {
		return !v.Visible || (pass == renderer.PassDisplay && v.Occluded)
	}
	return false
}

/**
 * @brief Records one pass. For every pipeline and alpha sub-pass the essence
 * resources are bound once, then every drawable variant of the essence is rendered.
 */
func (o *Orchestrator) renderPass(frame *renderer.FrameContext, pass renderer.PassKind, layer, light, face uint32, alphas []assets.AlphaMode) {
	cmd := frame.Commands
	cmd.BeginPass(pass, layer)
	defer cmd.EndPass()

	if o.metrics != nil {
		for kind := model.PipelineKind(0); kind < model.PipelineKindCount; kind++ {
			if p, ok := o.registry.Pipeline(kind); !ok || !p.Active() {
				continue
			}
			for _, v := range o.registry.Variants(kind) {
				if o.skip(pass, v) {
					o.metrics.RecordSkip(pass.String())
				}
			}
		}
	}

	essences := o.registry.Essences()
	for _, alpha := range alphas {
		for kind := model.PipelineKind(0); kind < model.PipelineKindCount; kind++ {
			p, ok := o.registry.Pipeline(kind)
			if !ok || !p.Active() || !p.Participates(pass, alpha) {
				continue
			}
			var program renderer.PipelineHandle
			for _, e := range essences {
				if e.Kind != kind || len(e.DrawLists[alpha]) == 0 || e.Geometry == nil {
					continue
				}
				var drawable []*model.Variant
				for _, v := range e.Variants {
					if !o.skip(pass, v) {
						drawable = append(drawable, v)
					}
				}
				if len(drawable) == 0 {
					continue
				}
				if program == renderer.InvalidHandle {
					program = p.BindForGraphics(cmd, pass, alpha)
					cmd.BindBindingSet(program, SetFrame, o.frameSets[kind][frame.FrameIndex])
				}
				rc := &RenderContext{
					Frame:    frame,
					Pass:     pass,
					Alpha:    alpha,
					Light:    light,
					Face:     face,
					Pipeline: program,
					Metrics:  o.metrics,
				}
				rc.BindEssence(e)
				for _, v := range drawable {
					p.Render(rc, e, v)
				}
			}
		}
	}
}

/**
 * @brief Draws the bounding box of every active, on-screen variant inside an
 * occlusion query. Results are read back by Poll in a later frame.
 */
func (o *Orchestrator) renderOcclusion(frame *renderer.FrameContext) {
	cmd := frame.Commands
	fi := frame.FrameIndex
	pass := renderer.PassOcclusion
	cmd.BeginPass(pass, 0)
	defer cmd.EndPass()

	var program renderer.PipelineHandle
	for kind := model.PipelineKind(0); kind < model.PipelineKindCount; kind++ {
		p, ok := o.registry.Pipeline(kind)
		if !ok || !p.Active() || !p.Participates(pass, assets.AlphaModeOpaque) {
			continue
		}
		program = renderer.InvalidHandle
		for _, v := range o.registry.Variants(kind) {
			if !v.Active || !v.Visible || v.QuerySlot < 0 {
				if o.metrics != nil {
					o.metrics.RecordSkip(pass.String())
				}
				continue
			}
			if program == renderer.InvalidHandle {
				program = p.BindForGraphics(cmd, pass, assets.AlphaModeOpaque)
				cmd.BindBindingSet(program, SetFrame, o.frameSets[kind][fi])
				cmd.BindVertexBuffers(0, o.proxy.VertexBuffer, o.proxy.UVBuffer)
				cmd.BindIndexBuffer(o.proxy.IndexBuffer)
			}
			b := v.WorldBounds()
			c, ext := b.Center(), b.Extent()
			params := DrawParams{
				Model: mgl32.Translate3D(c.X(), c.Y(), c.Z()).Mul4(mgl32.Scale3D(ext.X(), ext.Y(), ext.Z())),
				Flags: DrawFlagProxy,
			}
			o.queries.Begin(cmd, fi, v)
			cmd.PushParameters(program, renderer.ShaderStageVertex|renderer.ShaderStageFragment, 0, params.Bytes())
			cmd.DrawIndexed(o.proxyIndexCount, 1, 0, 0)
			o.queries.End(cmd, fi, v)
			if o.metrics != nil {
				o.metrics.RecordDraw(pass.String())
			}
		}
	}
}

func (o *Orchestrator) Shutdown() error {
	for kind, sets := range o.frameSets {
		for _, bs := range sets {
			if bs != renderer.InvalidHandle {
				o.backend.DestroyBindingSet(bs)
			}
		}
		delete(o.frameSets, kind)
	}
	for _, h := range o.frameBuffers {
		if h != renderer.InvalidHandle {
			o.backend.DestroyBuffer(h)
		}
	}
	o.frameBuffers = nil
	for _, t := range o.shadowMaps {
		o.backend.DestroyTexture(t)
	}
	o.shadowMaps = nil
	if o.proxy != nil {
		o.geometry.Release(occlusionProxyKey)
		o.proxy = nil
	}
	return nil
}

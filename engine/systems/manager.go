package systems

import (
	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/model"
	"github.com/spaghettifunk/anima/engine/renderer"
)

/**
 * @brief Builds and owns every engine system. Systems receive their dependencies
 * explicitly; nothing is reachable through package state.
 */
type SystemManager struct {
	config   *core.EngineConfig
	renderer *renderer.Renderer
	events   *core.EventBus
	metrics  *core.Metrics

	cameraSystem   *CameraSystem
	jobSystem      *JobSystem
	textureSystem  *TextureSystem
	geometrySystem *GeometrySystem
	skinningStage  *SkinningStage
	queryPool      *QueryPool
	pipelines      []Pipeline
	registry       *Registry
	resourceCache  *ResourceCache
	orchestrator   *Orchestrator
}

func NewSystemManager(config *core.EngineConfig, r *renderer.Renderer, source assets.Source, events *core.EventBus, metrics *core.Metrics) (*SystemManager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	backend := r.Backend()
	sm := &SystemManager{
		config:   config,
		renderer: r,
		events:   events,
		metrics:  metrics,
	}

	var err error
	if sm.jobSystem, err = NewJobSystem(config.JobWorkers, config.JobQueueSize, config.MainQueueSize); err != nil {
		return nil, err
	}
	if sm.cameraSystem, err = NewCameraSystem(&CameraSystemConfig{MaxCameraCount: 16}); err != nil {
		sm.Shutdown()
		return nil, err
	}
	if sm.textureSystem, err = NewTextureSystem(backend); err != nil {
		sm.Shutdown()
		return nil, err
	}
	sm.geometrySystem = NewGeometrySystem(backend, sm.textureSystem)

	if sm.skinningStage, err = NewSkinningStage(backend, SkinningConfig{Workgroup: config.SkinningWorkgroup}, metrics); err != nil {
		sm.Shutdown()
		return nil, err
	}
	if sm.queryPool, err = NewQueryPool(backend, config.MaxVariants, config.FramesInFlight); err != nil {
		sm.Shutdown()
		return nil, err
	}
	for kind := model.PipelineKind(0); kind < model.PipelineKindCount; kind++ {
		p, err := NewPipeline(backend, PipelineConfig{
			Kind:             kind,
			FramesInFlight:   config.FramesInFlight,
			JointDirtyFrames: config.JointDirtyFrames,
			SkinningPipeline: sm.skinningStage.Pipeline(),
		})
		if err != nil {
			sm.Shutdown()
			return nil, err
		}
		sm.pipelines = append(sm.pipelines, p)
	}

	sm.registry = NewRegistry(backend, sm.pipelines, sm.queryPool, events)
	sm.resourceCache = NewResourceCache(source, sm.jobSystem, sm.geometrySystem, sm.registry, events)
	if sm.orchestrator, err = NewOrchestrator(backend, OrchestratorConfig{
		FramesInFlight: config.FramesInFlight,
		MaxPointLights: config.MaxPointLights,
	}, sm.registry, sm.skinningStage, sm.queryPool, sm.geometrySystem, metrics); err != nil {
		sm.Shutdown()
		return nil, err
	}
	core.LogInfo("systems initialized: %d pipelines, %d frames in flight", len(sm.pipelines), config.FramesInFlight)
	return sm, nil
}

func (sm *SystemManager) Registry() *Registry          { return sm.registry }
func (sm *SystemManager) Resources() *ResourceCache    { return sm.resourceCache }
func (sm *SystemManager) Jobs() *JobSystem             { return sm.jobSystem }
func (sm *SystemManager) Cameras() *CameraSystem       { return sm.cameraSystem }
func (sm *SystemManager) Orchestrator() *Orchestrator  { return sm.orchestrator }
func (sm *SystemManager) Skinning() *SkinningStage     { return sm.skinningStage }
func (sm *SystemManager) Geometry() *GeometrySystem    { return sm.geometrySystem }
func (sm *SystemManager) Queries() *QueryPool          { return sm.queryPool }
func (sm *SystemManager) Metrics() *core.Metrics       { return sm.metrics }
func (sm *SystemManager) Renderer() *renderer.Renderer { return sm.renderer }
func (sm *SystemManager) Config() *core.EngineConfig   { return sm.config }

/**
 * @brief Runs the CPU side of a frame: finished loads, deferred removals, cameras,
 * culling and then animation, propagation and joints of every variant.
 */
func (sm *SystemManager) Update(dt float32) {
	sm.jobSystem.Update()
	sm.registry.FlushRemovals()

	sm.cameraSystem.Update(dt)
	sm.orchestrator.SetCamera(sm.cameraSystem.Active())
	sm.orchestrator.Cull()

	for kind := model.PipelineKind(0); kind < model.PipelineKindCount; kind++ {
		for _, v := range sm.registry.Variants(kind) {
			if v.Active {
				v.Tick(dt)
			}
		}
	}
}

// Render records and submits one frame.
func (sm *SystemManager) Render() error {
	return sm.renderer.DrawFrame(sm.orchestrator.RenderFrame)
}

// Shutdown tears the systems down in reverse construction order. The device is drained first.
func (sm *SystemManager) Shutdown() error {
	if sm.renderer != nil {
		if err := sm.renderer.WaitIdle(); err != nil {
			core.LogError(err.Error())
		}
	}
	if sm.jobSystem != nil {
		if err := sm.jobSystem.Shutdown(); err != nil {
			return err
		}
	}
	if sm.registry != nil {
		if err := sm.registry.Shutdown(); err != nil {
			return err
		}
	}
	if sm.orchestrator != nil {
		if err := sm.orchestrator.Shutdown(); err != nil {
			return err
		}
	}
	for _, p := range sm.pipelines {
		p.Destroy()
	}
	sm.pipelines = nil
	if sm.queryPool != nil {
		if err := sm.queryPool.Shutdown(); err != nil {
			return err
		}
	}
	if sm.skinningStage != nil {
		if err := sm.skinningStage.Shutdown(); err != nil {
			return err
		}
	}
	if sm.geometrySystem != nil {
		if err := sm.geometrySystem.Shutdown(); err != nil {
			return err
		}
	}
	if sm.textureSystem != nil {
		if err := sm.textureSystem.Shutdown(); err != nil {
			return err
		}
	}
	if sm.cameraSystem != nil {
		if err := sm.cameraSystem.Shutdown(); err != nil {
			return err
		}
	}
	return nil
}

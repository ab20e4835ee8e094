package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/model"
)

// EssenceCallback receives true once the essence is registered, false when loading failed.
type EssenceCallback func(ok bool)

type essenceLoad struct {
	mesh     *assets.MeshData
	textures map[string]*assets.TextureData
}

type pendingEssence struct {
	kind      model.PipelineKind
	callbacks []EssenceCallback
}

/**
 * @brief Loads essences in the background and registers them on the main thread.
 * Concurrent requests for the same name share one load. The cache exclusively owns
 * the GPU geometry; essences only keep its key.
 */
type ResourceCache struct {
	source   assets.Source
	jobs     *JobSystem
	geometry *GeometrySystem
	registry *Registry
	events   *core.EventBus

	pending map[string]*pendingEssence
}

func NewResourceCache(source assets.Source, jobs *JobSystem, geometry *GeometrySystem, registry *Registry, events *core.EventBus) *ResourceCache {
	rc := &ResourceCache{
		source:   source,
		jobs:     jobs,
		geometry: geometry,
		registry: registry,
		events:   events,
		pending:  make(map[string]*pendingEssence),
	}
	registry.SetReleaser(rc)
	return rc
}

/**
 * @brief Requests the essence called name. callback runs exactly once, on the main
 * thread during JobSystem.Update, never from inside this call.
 */
func (rc *ResourceCache) AcquireEssence(name string, kind model.PipelineKind, callback EssenceCallback) {
	if callback == nil {
		callback = func(bool) {}
	}
	if e, ok := rc.registry.Essence(name); ok {
		if e.Kind != kind {
			core.LogWarn("essence '%s' is registered for pipeline %s, not %s", name, e.Kind, kind)
		}
		rc.jobs.Post(name, func() { callback(true) })
		return
	}
	if p, ok := rc.pending[name]; ok {
		p.callbacks = append(p.callbacks, callback)
		return
	}
	rc.pending[name] = &pendingEssence{kind: kind, callbacks: []EssenceCallback{callback}}

	rc.jobs.Submit(JobTask{
		Name:  "essence:" + name,
		Start: func() (interface{}, error) { return rc.load(name) },
		Complete: func(result interface{}, err error) {
			rc.finish(name, result, err)
		},
	})
}

// Pending reports whether a load of name is in flight.
func (rc *ResourceCache) Pending(name string) bool {
	_, ok := rc.pending[name]
	return ok
}

// load runs on a worker; it touches no GPU object.
func (rc *ResourceCache) load(name string) (*essenceLoad, error) {
	md, err := rc.source.LoadMesh(name)
	if err != nil {
		return nil, err
	}
	result := &essenceLoad{mesh: md, textures: make(map[string]*assets.TextureData)}
	for _, sm := range md.SubMeshes {
		for _, p := range sm.Primitives {
			for _, tex := range []string{p.Material.BaseColorTexture, p.Material.NormalTexture} {
				if tex == "" {
					continue
				}
				if _, ok := result.textures[tex]; ok {
					continue
				}
				data, err := rc.source.LoadTexture(tex)
				if err != nil {
					core.LogWarn("essence '%s': texture '%s' not loaded: %s", name, tex, err)
					result.textures[tex] = nil
					continue
				}
				result.textures[tex] = data
			}
		}
	}
	return result, nil
}

func (rc *ResourceCache) finish(name string, result interface{}, err error) {
	p := rc.pending[name]
	delete(rc.pending, name)
	if p == nil {
		return
	}
	ok := err == nil
	if ok {
		if err = rc.register(name, p.kind, result.(*essenceLoad)); err != nil {
			core.LogError("essence '%s' could not be registered: %s", name, err)
			ok = false
		}
	} else {
		core.LogError("essence '%s' could not be loaded: %s", name, err)
	}
	for _, cb := range p.callbacks {
		cb(ok)
	}
}

func (rc *ResourceCache) register(name string, kind model.PipelineKind, load *essenceLoad) error {
	pipeline, ok := rc.registry.Pipeline(kind)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownPipeline, kind)
	}
	// validate before anything reaches the GPU
	if err := load.mesh.Validate(); err != nil {
		return err
	}
	g, err := rc.geometry.Acquire(name, load.mesh, load.textures)
	if err != nil {
		return err
	}
	e, err := model.NewEssence(name, kind, load.mesh, g, name)
	if err != nil {
		rc.geometry.Release(name)
		return err
	}
	if err := pipeline.PrepareEssence(e); err != nil {
		rc.geometry.Release(name)
		return err
	}
	if err := rc.registry.AddEssence(e); err != nil {
		pipeline.ReleaseEssence(e)
		rc.geometry.Release(name)
		return err
	}

	core.LogInfo("essence '%s' loaded (%d nodes, %d clips)", name, len(e.Data.Nodes), len(e.Clips))
	if rc.events != nil {
		ctx := core.EventContext{}
		ctx.Data.C[0] = name
		rc.events.Fire(core.EVENT_CODE_ESSENCE_LOADED, rc, ctx)
	}
	return nil
}

// ReleaseEssence gives back the geometry of a destroyed essence.
func (rc *ResourceCache) ReleaseEssence(e *model.Essence) {
	if e.Geometry == nil {
		return
	}
	rc.geometry.Release(e.GeometryKey)
	e.Geometry = nil
}

/**
 * @brief Reacts to a file change under the asset directory. Essences without variants
 * are dropped so the next acquire reloads them; essences in use keep their data.
 */
func (rc *ResourceCache) AssetChanged(change assets.AssetChange) {
	if rc.events != nil {
		ctx := core.EventContext{}
		ctx.Data.C[0] = change.Name
		ctx.Data.C[1] = change.Path
		rc.events.Fire(core.EVENT_CODE_ASSET_CHANGED, rc, ctx)
	}
	e, ok := rc.registry.Essence(change.Name)
	if !ok {
		return
	}
	if e.HasVariants() {
		core.LogInfo("essence '%s' changed on disk but has %d variants; keeping the loaded data", change.Name, len(e.Variants))
		return
	}
	if err := rc.registry.DestroyEssence(change.Name); err == nil {
		core.LogInfo("essence '%s' dropped after a change on disk", change.Name)
	}
}

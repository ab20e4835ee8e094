package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/model"
	"github.com/spaghettifunk/anima/engine/renderer"
)

// EssenceReleaser gives back the shared GPU objects of an essence that is destroyed.
type EssenceReleaser interface {
	ReleaseEssence(e *model.Essence)
}

/**
 * @brief Owns every essence and variant. Variants are also kept in one flat list per
 * pipeline kind, which is what the render passes iterate.
 */
type Registry struct {
	backend   renderer.RendererBackend
	pipelines map[model.PipelineKind]Pipeline
	queries   *QueryPool
	events    *core.EventBus
	releaser  EssenceReleaser

	essences map[string]*model.Essence
	// insertion order of essences, kept for deterministic iteration
	order    []string
	variants [model.PipelineKindCount][]*model.Variant
	removals []*model.Variant
}

func NewRegistry(backend renderer.RendererBackend, pipelines []Pipeline, queries *QueryPool, events *core.EventBus) *Registry {
	r := &Registry{
		backend:   backend,
		pipelines: make(map[model.PipelineKind]Pipeline, len(pipelines)),
		queries:   queries,
		events:    events,
		essences:  make(map[string]*model.Essence),
	}
	for _, p := range pipelines {
		r.pipelines[p.Kind()] = p
	}
	return r
}

// SetReleaser installs the owner of the essences' geometry.
func (r *Registry) SetReleaser(releaser EssenceReleaser) {
	r.releaser = releaser
}

func (r *Registry) Pipeline(kind model.PipelineKind) (Pipeline, bool) {
	p, ok := r.pipelines[kind]
	return p, ok
}

func (r *Registry) AddEssence(e *model.Essence) error {
	if _, ok := r.essences[e.Name]; ok {
		return fmt.Errorf("%w: '%s'", core.ErrEssenceExists, e.Name)
	}
	if _, ok := r.pipelines[e.Kind]; !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownPipeline, e.Kind)
	}
	r.essences[e.Name] = e
	r.order = append(r.order, e.Name)
	return nil
}

func (r *Registry) Essence(name string) (*model.Essence, bool) {
	e, ok := r.essences[name]
	return e, ok
}

// Essences returns the registered essences in insertion order.
func (r *Registry) Essences() []*model.Essence {
	out := make([]*model.Essence, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.essences[name])
	}
	return out
}

func (r *Registry) EssenceCount() int {
	return len(r.essences)
}

// Variants returns the flat variant list of a pipeline kind.
func (r *Registry) Variants(kind model.PipelineKind) []*model.Variant {
	return r.variants[kind]
}

func (r *Registry) VariantCount() int {
	n := 0
	for _, list := range r.variants {
		n += len(list)
	}
	return n
}

/**
 * @brief Creates a variant of the named essence. An unknown name is a usage error:
 * it is logged and nil is returned.
 */
func (r *Registry) CreateVariant(name string) *model.Variant {
	e, ok := r.essences[name]
	if !ok {
		core.LogError("CreateVariant: %s", fmt.Errorf("%w: '%s'", core.ErrEssenceNotFound, name))
		return nil
	}
	p := r.pipelines[e.Kind]
	v, err := p.CreateVariant(e)
	if err != nil {
		core.LogError("CreateVariant: variant of '%s' could not be created: %s", name, err)
		return nil
	}
	e.AttachVariant(v)
	if r.queries != nil {
		r.queries.Acquire(v)
	}

	list := &r.variants[e.Kind]
	*list = append(*list, v)
	if len(*list) == 1 {
		p.Activate(true)
		r.fire(core.EVENT_CODE_PIPELINE_ACTIVATED, e.Kind)
	}
	core.LogDebug("variant %s of '%s' created", v.ID, name)
	return v
}

/**
 * @brief Schedules v for destruction. The GPU may still read its buffers, so the
 * removal happens in FlushRemovals at the next frame boundary.
 */
func (r *Registry) RemoveVariant(v *model.Variant) {
	if v == nil {
		return
	}
	for _, pending := range r.removals {
		if pending == v {
			return
		}
	}
	v.Active = false
	r.removals = append(r.removals, v)
}

func (r *Registry) PendingRemovals() int {
	return len(r.removals)
}

/**
 * @brief Destroys the variants scheduled with RemoveVariant. The device is drained
 * once for the whole batch.
 * @returns the number of variants destroyed.
 */
func (r *Registry) FlushRemovals() int {
	if len(r.removals) == 0 {
		return 0
	}
	if err := r.backend.WaitIdle(); err != nil {
		core.LogError("FlushRemovals: device drain failed: %s", err)
		return 0
	}

	removed := 0
	for _, v := range r.removals {
		e := v.Essence
		if !e.DetachVariant(v) {
			core.LogWarn("variant %s is not attached to '%s'", v.ID, e.Name)
			continue
		}
		list := &r.variants[e.Kind]
		for i, o := range *list {
			if o == v {
				*list = append((*list)[:i], (*list)[i+1:]...)
				break
			}
		}
		v.Detach()
		if r.queries != nil && v.QuerySlot >= 0 {
			r.queries.Release(v)
		}
		p := r.pipelines[e.Kind]
		p.DestroyVariant(v)
		removed++

		if len(*list) == 0 {
			p.Activate(false)
			r.fire(core.EVENT_CODE_PIPELINE_IDLE, e.Kind)
		}
	}
	r.removals = r.removals[:0]
	return removed
}

/**
 * @brief Destroys the named essence. Destroying an essence that still has variants
 * is a usage error and leaves it untouched.
 */
func (r *Registry) DestroyEssence(name string) error {
	e, ok := r.essences[name]
	if !ok {
		err := fmt.Errorf("%w: '%s'", core.ErrEssenceNotFound, name)
		core.LogError("DestroyEssence: %s", err)
		return err
	}
	if e.HasVariants() {
		err := fmt.Errorf("%w: '%s' has %d variants", core.ErrEssenceInUse, name, len(e.Variants))
		core.LogError("DestroyEssence: %s", err)
		return err
	}
	r.pipelines[e.Kind].ReleaseEssence(e)
	if r.releaser != nil {
		r.releaser.ReleaseEssence(e)
	}
	delete(r.essences, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	core.LogDebug("essence '%s' destroyed", name)
	return nil
}

// FreeUnusedEssences destroys every essence without variants and returns how many went away.
func (r *Registry) FreeUnusedEssences() int {
	freed := 0
	for _, e := range r.Essences() {
		if e.HasVariants() {
			continue
		}
		if r.DestroyEssence(e.Name) == nil {
			freed++
		}
	}
	return freed
}

// Shutdown destroys everything; the device is drained first.
func (r *Registry) Shutdown() error {
	for _, list := range r.variants {
		for _, v := range list {
			r.RemoveVariant(v)
		}
	}
	r.FlushRemovals()
	r.FreeUnusedEssences()
	return nil
}

func (r *Registry) fire(code core.SystemEventCode, kind model.PipelineKind) {
	if r.events == nil {
		return
	}
	ctx := core.EventContext{}
	ctx.Data.U32[0] = uint32(kind)
	r.events.Fire(code, r, ctx)
}

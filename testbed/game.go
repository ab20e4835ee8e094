package testbed

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima/engine"
	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/components"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/model"
	"github.com/spaghettifunk/anima/engine/renderer"
)

const (
	soldierCount   = 4
	soldierSpacing = 3
	// seconds between cross-fades of the whole crowd
	switchEvery    = 2.0
	crossFade      = 0.5
	logEveryFrames = 120
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	soldiers []*model.Variant
	floor    *model.Variant
	leader   *components.Transform
	camera   *components.ThirdPerson
	orbit    *components.Observer

	elapsed    float32
	sinceSwap  float32
	walking    bool
	frameCount uint64
}

func NewTestGame(config *engine.ApplicationConfig) (*TestGame, error) {
	if config == nil {
		config = &engine.ApplicationConfig{Name: "Anima Testbed"}
	}
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: config,
			State:             &gameState{walking: true},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnShutdown = tg.Shutdown

	return tg, nil
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(e *engine.Engine) error {
	core.LogInfo("initializing testbed...")
	st := g.state()

	e.Assets().RegisterMesh("Soldier", assets.Soldier())
	e.Assets().RegisterMesh("Cube", assets.UnitCube())

	cameras := e.Systems().Cameras()
	st.leader = components.NewTransform()
	st.camera = components.NewThirdPerson(16.0/9.0, st.leader, mgl32.Vec3{0, 3, 8})
	if err := cameras.Register("follow", st.camera); err != nil {
		return err
	}
	st.orbit = components.NewObserver(16.0/9.0, mgl32.Vec3{}, 14)
	st.orbit.AutoRotate = 0.3
	if err := cameras.Register("orbit", st.orbit); err != nil {
		return err
	}
	if err := cameras.SetActive("follow"); err != nil {
		return err
	}

	orchestrator := e.Systems().Orchestrator()
	orchestrator.SetDirectionalLight(&model.DirectionalLight{
		Direction: mgl32.Vec3{-0.4, -1, -0.3},
		Color:     mgl32.Vec3{1, 0.95, 0.9},
		Extent:    12,
	})
	orchestrator.AddPointLight(model.PointLight{
		Position: mgl32.Vec3{0, 3, 0},
		Color:    mgl32.Vec3{1, 0.6, 0.3},
		Range:    10,
	})

	e.Events().Register(core.EVENT_CODE_ASSET_CHANGED, g, g.onAssetChanged)

	e.Resources().AcquireEssence("Soldier", model.PipelinePBR, func(ok bool) {
		if !ok {
			core.LogError("soldier essence failed to load")
			return
		}
		for i := 0; i < soldierCount; i++ {
			v := e.Registry().CreateVariant("Soldier")
			if v == nil {
				continue
			}
			x := float32(i-soldierCount/2) * soldierSpacing
			if i == 0 {
				st.leader.SetPosition(mgl32.Vec3{x, 0, 0})
				v.Follow(st.leader)
			} else {
				v.SetWorldTransform(mgl32.Translate3D(x, 0, 0))
			}
			// stagger the crowd so they do not step in lockstep
			opts := e.DefaultTransition(true)
			opts.StartOffset = float32(i) * 0.25
			v.SetActiveAnimationByName("Walk", opts)
			st.soldiers = append(st.soldiers, v)
		}
		core.LogInfo("%d soldiers spawned", len(st.soldiers))
	})

	e.Resources().AcquireEssence("Cube", model.PipelineDebug, func(ok bool) {
		if !ok {
			core.LogError("cube essence failed to load")
			return
		}
		st.floor = e.Registry().CreateVariant("Cube")
		if st.floor != nil {
			st.floor.SetWorldTransform(mgl32.Translate3D(0, -1.05, 0).Mul4(mgl32.Scale3D(10, 0.05, 10)))
		}
	})
	return nil
}

func (g *TestGame) Update(e *engine.Engine, deltaTime float32) error {
	st := g.state()
	st.elapsed += deltaTime
	st.sinceSwap += deltaTime
	st.frameCount++

	if st.leader != nil && st.walking {
		st.leader.Translate(mgl32.Vec3{0, 0, -deltaTime})
	}

	if st.sinceSwap >= switchEvery && len(st.soldiers) > 0 {
		st.sinceSwap = 0
		st.walking = !st.walking
		clip := "Idle"
		if st.walking {
			clip = "Walk"
		}
		for _, v := range st.soldiers {
			v.SetActiveAnimationByName(clip, model.AnimationOptions{TransitionDuration: crossFade, Loop: true})
		}
		camera := "follow"
		if !st.walking {
			camera = "orbit"
		}
		if err := e.Systems().Cameras().SetActive(camera); err != nil {
			return err
		}
		core.LogInfo("crowd cross-fading to %s over %.1fs", clip, crossFade)
	}

	if st.frameCount%logEveryFrames == 0 {
		g.logMetrics(e)
	}
	return nil
}

func (g *TestGame) logMetrics(e *engine.Engine) {
	m := e.Metrics()
	core.LogInfo("frame %d: %.0f fps, %.3f ms, %d variants", e.FrameNumber(), m.FPS(), m.FrameTime(), e.Registry().VariantCount())
	for _, pass := range []renderer.PassKind{renderer.PassSkinning, renderer.PassDepth, renderer.PassOcclusion, renderer.PassDisplay} {
		stats := m.Pass(pass.String())
		core.LogDebug("  %s: %d draws, %d dispatches, %d skipped", pass, stats.Draws, stats.Dispatches, stats.Skipped)
	}
}

func (g *TestGame) Shutdown(e *engine.Engine) error {
	st := g.state()
	for _, v := range st.soldiers {
		v.Detach()
		e.Registry().RemoveVariant(v)
	}
	if st.floor != nil {
		e.Registry().RemoveVariant(st.floor)
	}
	removed := e.Registry().FlushRemovals()
	freed := e.Registry().FreeUnusedEssences()
	core.LogInfo("testbed shut down: %d variants removed, %d essences freed after %.1fs", removed, freed, st.elapsed)
	st.soldiers = nil
	st.floor = nil
	e.Events().Unregister(core.EVENT_CODE_ASSET_CHANGED, g)
	return nil
}

func (g *TestGame) onAssetChanged(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	core.LogInfo("asset '%s' changed (%s)", data.Data.C[0], data.Data.C[1])
	return false
}

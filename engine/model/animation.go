package model

import (
	"fmt"
	m "math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima/engine/assets"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/math"
)

type SamplerState uint8

const (
	SamplerIdle SamplerState = iota
	SamplerSingle
	SamplerBlending
)

func (s SamplerState) String() string {
	switch s {
	case SamplerIdle:
		return "idle"
	case SamplerSingle:
		return "single"
	case SamplerBlending:
		return "blending"
	}
	return fmt.Sprintf("sampler(%d)", uint8(s))
}

type AnimationOptions struct {
	// Cross-fade length in seconds. Zero switches instantly.
	TransitionDuration float32
	Loop               bool
	// Seconds into the clip to start from.
	StartOffset float32
}

type clipState struct {
	index    int
	time     float32
	loop     bool
	finished bool
	// the finished pose has been written
	settled bool
	// cached key index per channel
	keys []int
}

func newClipState(e *Essence, index int, opts AnimationOptions) clipState {
	return clipState{
		index: index,
		time:  opts.StartOffset + e.Clips[index].StartTime,
		loop:  opts.Loop,
		keys:  make([]int, len(e.Data.Animations[index].Channels)),
	}
}

type animationState struct {
	active      clipState
	previous    clipState
	hasActive   bool
	hasPrevious bool

	transition float32
	remaining  float32
}

func (a *animationState) state() SamplerState {
	switch {
	case !a.hasActive:
		return SamplerIdle
	case a.hasPrevious:
		return SamplerBlending
	}
	return SamplerSingle
}

// blendWeight goes from 0 (previous pose) to 1 (active pose) over the transition.
func (a *animationState) blendWeight() float32 {
	if !a.hasPrevious || a.transition <= 0 {
		return 1
	}
	return (a.transition - a.remaining) / a.transition
}

/**
 * @brief Makes clip index the active one. Nothing happens when it already is.
 * The clip that was active keeps playing as the previous clip and fades out over
 * opts.TransitionDuration.
 * @returns false if the index is out of range.
 */
func (v *Variant) SetActiveAnimation(index int, opts AnimationOptions) bool {
	e := v.Essence
	if index < 0 || index >= len(e.Clips) {
		core.LogError("essence '%s' has no animation %d", e.Name, index)
		return false
	}
	a := &v.anim
	if a.hasActive && a.active.index == index {
		return true
	}

	if a.hasActive && opts.TransitionDuration > 0 {
		if a.hasPrevious {
			v.markBlending(false)
		}
		a.previous = a.active
		a.hasPrevious = true
		a.transition = opts.TransitionDuration
		a.remaining = opts.TransitionDuration
		for i := range v.Nodes {
			v.Nodes[i].snapshotPrevious()
		}
	} else {
		v.endTransition()
	}

	a.active = newClipState(e, index, opts)
	a.hasActive = true
	if a.hasPrevious {
		v.markBlending(true)
	}
	return true
}

func (v *Variant) SetActiveAnimationByName(name string, opts AnimationOptions) bool {
	index := v.Essence.AnimationIndex(name)
	if index < 0 {
		core.LogError("essence '%s' has no animation named '%s'", v.Essence.Name, name)
		return false
	}
	return v.SetActiveAnimation(index, opts)
}

// StopAnimation returns the sampler to idle. The current pose is kept.
func (v *Variant) StopAnimation() {
	v.endTransition()
	v.anim.hasActive = false
}

func (v *Variant) SamplerState() SamplerState {
	return v.anim.state()
}

// ActiveAnimation returns -1 when idle.
func (v *Variant) ActiveAnimation() int {
	if !v.anim.hasActive {
		return -1
	}
	return v.anim.active.index
}

// PreviousAnimation returns -1 when not blending.
func (v *Variant) PreviousAnimation() int {
	if !v.anim.hasPrevious {
		return -1
	}
	return v.anim.previous.index
}

func (v *Variant) AnimationTime() float32 {
	return v.anim.active.time
}

func (v *Variant) AnimationFinished() bool {
	return v.anim.hasActive && v.anim.active.finished
}

func (v *Variant) TransitionRemaining() float32 {
	return v.anim.remaining
}

/**
 * @brief Advances the active clip (and the fading clip while blending) by dt and
 * writes the sampled poses into the nodes. Sampling is skipped while the variant
 * is outside the view; time keeps running so playback resumes in step.
 */
func (v *Variant) UpdateAnimation(dt float32) {
	a := &v.anim
	if !a.hasActive {
		return
	}

	v.stepClip(&a.active, false, dt)

	if a.hasPrevious {
		v.stepClip(&a.previous, true, dt)
		a.remaining -= dt
		if a.remaining <= 0 {
			v.endTransition()
		} else {
			v.markBlending(true)
		}
	}
}

func (v *Variant) stepClip(c *clipState, previous bool, dt float32) {
	clip := &v.Essence.Clips[c.index]
	if !c.finished {
		c.time += dt
		if c.time > clip.EndTime {
			if c.loop {
				length := clip.Duration()
				if length > 0 {
					c.time = clip.StartTime + float32(m.Mod(float64(c.time-clip.StartTime), float64(length)))
				} else {
					c.time = clip.StartTime
				}
			} else {
				c.time = clip.EndTime
				c.finished = true
			}
		}
	}

	if !v.Visible || c.settled {
		return
	}
	v.evaluate(c, previous)
	if c.finished {
		c.settled = true
	}
}

func (v *Variant) evaluate(c *clipState, previous bool) {
	anim := &v.Essence.Data.Animations[c.index]
	for ci, ch := range anim.Channels {
		a, b, u := sample(&anim.Samplers[ch.Sampler], c.time, &c.keys[ci])
		n := &v.Nodes[ch.Node]
		switch ch.Path {
		case assets.PathTranslate:
			t := math.LerpVec3(a.Vec3(), b.Vec3(), u)
			if previous {
				n.PrevTranslation = t
			} else {
				n.Translation = t
			}
		case assets.PathRotate:
			q := math.SlerpQuat(math.QuatFromXYZW(a), math.QuatFromXYZW(b), u)
			if previous {
				n.PrevRotation = q
			} else {
				n.Rotation = q
			}
		case assets.PathScale:
			sc := math.LerpVec3(a.Vec3(), b.Vec3(), u)
			if previous {
				n.PrevScale = sc
			} else {
				n.Scale = sc
			}
		}
		n.LocalValid = false
	}
}

// sample returns the keyframe pair bracketing t and the factor between them.
// key caches the lower bracket between calls and restarts from zero when time
// moved backwards.
func sample(s *assets.SamplerData, t float32, key *int) (a, b mgl32.Vec4, u float32) {
	if s.Interpolation != assets.InterpolationLinear {
		panic(fmt.Errorf("%w: %s", core.ErrUnsupportedInterpolation, s.Interpolation))
	}

	inputs := s.Inputs
	last := len(inputs) - 1
	if t <= inputs[0] {
		*key = 0
		return s.Outputs[0], s.Outputs[0], 0
	}
	if t >= inputs[last] {
		*key = last
		return s.Outputs[last], s.Outputs[last], 0
	}

	k := *key
	if k > last || inputs[k] > t {
		k = 0
	}
	for k < last && inputs[k+1] <= t {
		k++
	}
	*key = k

	t0, t1 := inputs[k], inputs[k+1]
	return s.Outputs[k], s.Outputs[k+1], (t - t0) / (t1 - t0)
}

// markBlending flags the nodes animated by either clip for blending and invalidates them.
func (v *Variant) markBlending(on bool) {
	a := &v.anim
	mark := func(clip int) {
		for _, n := range v.Essence.Clips[clip].Targets {
			v.Nodes[n].blend = on
			v.Nodes[n].LocalValid = false
		}
	}
	mark(a.active.index)
	if a.hasPrevious {
		mark(a.previous.index)
	}
}

func (v *Variant) endTransition() {
	a := &v.anim
	if a.hasPrevious {
		v.markBlending(false)
	}
	a.hasPrevious = false
	a.transition = 0
	a.remaining = 0
}

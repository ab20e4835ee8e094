package engine

import "github.com/spaghettifunk/anima/engine/core"

type ApplicationConfig struct {
	// The application name used in logs.
	Name string
	// Engine configuration. The defaults are used when nil.
	Engine *core.EngineConfig
	// Run returns after this many frames. Zero runs until quit or cancellation.
	MaxFrames uint64
	// Sleep away what is left of TargetFrameSeconds after each frame.
	LimitFrames        bool
	TargetFrameSeconds float64
	// Replaces the measured delta time when non-zero.
	FixedDelta float32
}

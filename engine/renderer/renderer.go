package renderer

import (
	"github.com/spaghettifunk/anima/engine/core"
)

type RendererType uint8

const (
	Vulkan RendererType = iota
	Headless
)

// Renderer is the frontend over a backend. It owns the frame begin/end bracket.
type Renderer struct {
	backend RendererBackend
}

func New(backend RendererBackend) *Renderer {
	return &Renderer{backend: backend}
}

func (r *Renderer) Backend() RendererBackend {
	return r.backend
}

func (r *Renderer) FramesInFlight() uint32 {
	return r.backend.FramesInFlight()
}

// DrawFrame opens a frame, lets record fill its command buffer and submits it.
func (r *Renderer) DrawFrame(record func(frame *FrameContext) error) error {
	frame, err := r.backend.BeginFrame()
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	if err := record(frame); err != nil {
		core.LogError("frame %d recording failed: %s", frame.FrameNumber, err)
		// the command buffer still has to be closed so the frame slot can be reused
		if endErr := r.backend.EndFrame(frame); endErr != nil {
			core.LogError(endErr.Error())
		}
		return err
	}
	if err := r.backend.EndFrame(frame); err != nil {
		core.LogError("RendererEndFrame failed. Application shutting down...")
		return err
	}
	return nil
}

// WaitIdle drains every frame in flight.
func (r *Renderer) WaitIdle() error {
	return r.backend.WaitIdle()
}

func (r *Renderer) Shutdown() error {
	if err := r.backend.WaitIdle(); err != nil {
		core.LogError(err.Error())
	}
	return r.backend.Shutdown()
}

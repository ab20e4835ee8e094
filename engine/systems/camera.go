package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima/engine/components"
	"github.com/spaghettifunk/anima/engine/core"
)

type cameraLookup struct {
	referenceCount uint16
	camera         components.Camera
}

type CameraSystem struct {
	Config  *CameraSystemConfig
	cameras map[string]*cameraLookup
	active  string
	// A default, non-registered camera that always exists as a fallback.
	DefaultCamera components.Camera
}

/** @brief The camera system configuration. */
type CameraSystemConfig struct {
	/** @brief The maximum number of named cameras that can be managed by the system. */
	MaxCameraCount uint16
	// Aspect ratio handed to newly created cameras.
	Aspect float32
}

func NewCameraSystem(config *CameraSystemConfig) (*CameraSystem, error) {
	if config.MaxCameraCount == 0 {
		err := fmt.Errorf("func NewCameraSystem - config.MaxCameraCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	if config.Aspect <= 0 {
		config.Aspect = 16.0 / 9.0
	}
	return &CameraSystem{
		Config:        config,
		cameras:       make(map[string]*cameraLookup, config.MaxCameraCount),
		active:        components.DEFAULT_CAMERA_NAME,
		DefaultCamera: components.NewFirstPerson(config.Aspect),
	}, nil
}

func (cs *CameraSystem) Shutdown() error {
	cs.cameras = make(map[string]*cameraLookup)
	cs.active = components.DEFAULT_CAMERA_NAME
	return nil
}

/**
 * @brief Registers a camera strategy under name. Registering an existing name
 * replaces the camera and keeps its reference count.
 */
func (cs *CameraSystem) Register(name string, camera components.Camera) error {
	if name == components.DEFAULT_CAMERA_NAME {
		return fmt.Errorf("cannot replace the default camera")
	}
	if l, ok := cs.cameras[name]; ok {
		l.camera = camera
		return nil
	}
	if len(cs.cameras) >= int(cs.Config.MaxCameraCount) {
		err := fmt.Errorf("func CameraSystem.Register failed to acquire new slot. Adjust camera system config to allow more")
		core.LogError(err.Error())
		return err
	}
	core.LogDebug("Registering camera named '%s'...", name)
	cs.cameras[name] = &cameraLookup{camera: camera}
	return nil
}

/**
 * @brief Acquires a camera by name. If one is not found a first person camera is
 * created. The reference counter is incremented.
 */
func (cs *CameraSystem) Acquire(name string) (components.Camera, error) {
	if name == components.DEFAULT_CAMERA_NAME {
		return cs.DefaultCamera, nil
	}
	l, ok := cs.cameras[name]
	if !ok {
		if err := cs.Register(name, components.NewFirstPerson(cs.Config.Aspect)); err != nil {
			return nil, err
		}
		l = cs.cameras[name]
	}
	l.referenceCount++
	return l.camera, nil
}

/**
 * @brief Releases a camera with the given name. When the counter reaches 0 the
 * camera is dropped and the slot is usable by a new one.
 */
func (cs *CameraSystem) Release(name string) {
	if name == components.DEFAULT_CAMERA_NAME {
		core.LogDebug("Cannot release default camera. Nothing was done.")
		return
	}
	l, ok := cs.cameras[name]
	if !ok {
		core.LogWarn("CameraSystem.Release failed lookup for '%s'. Nothing was done.", name)
		return
	}
	if l.referenceCount > 0 {
		l.referenceCount--
	}
	if l.referenceCount == 0 {
		delete(cs.cameras, name)
		if cs.active == name {
			cs.active = components.DEFAULT_CAMERA_NAME
		}
	}
}

// SetActive selects the camera used for rendering.
func (cs *CameraSystem) SetActive(name string) error {
	if name != components.DEFAULT_CAMERA_NAME {
		if _, ok := cs.cameras[name]; !ok {
			return fmt.Errorf("camera '%s' is not registered", name)
		}
	}
	cs.active = name
	return nil
}

func (cs *CameraSystem) Active() components.Camera {
	if l, ok := cs.cameras[cs.active]; ok {
		return l.camera
	}
	return cs.DefaultCamera
}

func (cs *CameraSystem) GetDefault() components.Camera {
	return cs.DefaultCamera
}

// Update advances every registered camera.
func (cs *CameraSystem) Update(dt float32) {
	cs.DefaultCamera.OnUpdate(dt)
	for _, l := range cs.cameras {
		l.camera.OnUpdate(dt)
	}
}

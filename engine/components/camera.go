package components

import (
	m "math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima/engine/math"
)

/** @brief The name of the default camera. */
const DEFAULT_CAMERA_NAME string = "default"

// 89 degrees; pitch is clamped to it to avoid gimbal lock.
const pitchLimit = float32(1.55334306)

/**
 * @brief A camera strategy. The orchestrator only needs the projection, the view
 * matrix and the eye position; OnUpdate lets the strategy follow its target.
 */
type Camera interface {
	GetProjection() mgl32.Mat4
	// GetTransform returns the view matrix.
	GetTransform() mgl32.Mat4
	GetPosition() mgl32.Vec3
	OnUpdate(dt float32)
}

// Target is anything a camera can look at or follow.
type Target interface {
	GetWorldPosition() mgl32.Vec3
}

/**
 * @brief Position, euler rotation (pitch, yaw, roll) and perspective parameters
 * shared by all camera strategies. The view matrix is rebuilt lazily.
 */
type CameraBase struct {
	Position      mgl32.Vec3
	EulerRotation mgl32.Vec3

	FovY   float32
	Aspect float32
	Near   float32
	Far    float32

	IsDirty    bool
	ViewMatrix mgl32.Mat4
}

func NewCameraBase(aspect float32) *CameraBase {
	c := &CameraBase{}
	c.Reset()
	c.Aspect = aspect
	return c
}

func (c *CameraBase) Reset() {
	c.Position = mgl32.Vec3{}
	c.EulerRotation = mgl32.Vec3{}
	c.FovY = mgl32.DegToRad(45)
	c.Aspect = 16.0 / 9.0
	c.Near = 0.1
	c.Far = 1000
	c.IsDirty = false
	c.ViewMatrix = mgl32.Ident4()
}

func (c *CameraBase) GetPosition() mgl32.Vec3 {
	return c.Position
}

func (c *CameraBase) SetPosition(position mgl32.Vec3) {
	c.Position = position
	c.IsDirty = true
}

func (c *CameraBase) GetEulerRotation() mgl32.Vec3 {
	return c.EulerRotation
}

func (c *CameraBase) SetEulerRotation(rotation mgl32.Vec3) {
	c.EulerRotation = rotation
	c.IsDirty = true
}

func (c *CameraBase) GetProjection() mgl32.Mat4 {
	return mgl32.Perspective(c.FovY, c.Aspect, c.Near, c.Far)
}

func (c *CameraBase) rotation() mgl32.Mat4 {
	return mgl32.Rotate3DY(c.EulerRotation.Y()).
		Mul3(mgl32.Rotate3DX(c.EulerRotation.X())).
		Mul3(mgl32.Rotate3DZ(c.EulerRotation.Z())).Mat4()
}

func (c *CameraBase) GetTransform() mgl32.Mat4 {
	if c.IsDirty {
		world := mgl32.Translate3D(c.Position.X(), c.Position.Y(), c.Position.Z()).Mul4(c.rotation())
		c.ViewMatrix = world.Inv()
		c.IsDirty = false
	}
	return c.ViewMatrix
}

func (c *CameraBase) OnUpdate(dt float32) {}

func (c *CameraBase) Forward() mgl32.Vec3 {
	return c.rotation().Col(2).Vec3().Mul(-1)
}

func (c *CameraBase) Backward() mgl32.Vec3 {
	return c.rotation().Col(2).Vec3()
}

func (c *CameraBase) Left() mgl32.Vec3 {
	return c.rotation().Col(0).Vec3().Mul(-1)
}

func (c *CameraBase) Right() mgl32.Vec3 {
	return c.rotation().Col(0).Vec3()
}

func (c *CameraBase) move(direction mgl32.Vec3, amount float32) {
	c.Position = c.Position.Add(direction.Mul(amount))
	c.IsDirty = true
}

func (c *CameraBase) MoveForward(amount float32)  { c.move(c.Forward(), amount) }
func (c *CameraBase) MoveBackward(amount float32) { c.move(c.Backward(), amount) }
func (c *CameraBase) MoveLeft(amount float32)     { c.move(c.Left(), amount) }
func (c *CameraBase) MoveRight(amount float32)    { c.move(c.Right(), amount) }
func (c *CameraBase) MoveUp(amount float32)       { c.move(mgl32.Vec3{0, 1, 0}, amount) }
func (c *CameraBase) MoveDown(amount float32)     { c.move(mgl32.Vec3{0, -1, 0}, amount) }

func (c *CameraBase) Yaw(amount float32) {
	c.EulerRotation[1] += amount
	c.IsDirty = true
}

func (c *CameraBase) Pitch(amount float32) {
	c.EulerRotation[0] = math.Clamp(c.EulerRotation[0]+amount, -pitchLimit, pitchLimit)
	c.IsDirty = true
}

// Frustum of the camera in world space.
func Frustum(c Camera) math.Frustum {
	return math.NewFrustumFromMatrix(c.GetProjection().Mul4(c.GetTransform()))
}

// FirstPerson is driven directly through the CameraBase movement methods.
type FirstPerson struct {
	*CameraBase
}

func NewFirstPerson(aspect float32) *FirstPerson {
	return &FirstPerson{CameraBase: NewCameraBase(aspect)}
}

/**
 * @brief Orbits a fixed point on a sphere. Yaw and pitch are the spherical angles,
 * Distance the radius.
 */
type Observer struct {
	*CameraBase
	Center   mgl32.Vec3
	Distance float32
	// Radians per second applied to the yaw on every update.
	AutoRotate float32

	yaw, pitch float32
}

func NewObserver(aspect float32, center mgl32.Vec3, distance float32) *Observer {
	o := &Observer{CameraBase: NewCameraBase(aspect), Center: center, Distance: distance}
	o.updatePosition()
	return o
}

func (o *Observer) Orbit(dyaw, dpitch float32) {
	o.yaw += dyaw
	o.pitch = math.Clamp(o.pitch+dpitch, -pitchLimit, pitchLimit)
	o.updatePosition()
}

func (o *Observer) Zoom(delta float32) {
	o.Distance = math.Clamp(o.Distance+delta, 0.1, o.Far)
	o.updatePosition()
}

func (o *Observer) OnUpdate(dt float32) {
	if o.AutoRotate != 0 {
		o.Orbit(o.AutoRotate*dt, 0)
	}
}

func (o *Observer) updatePosition() {
	cp := float32(m.Cos(float64(o.pitch)))
	x := o.Distance * cp * float32(m.Sin(float64(o.yaw)))
	y := o.Distance * float32(m.Sin(float64(o.pitch)))
	z := o.Distance * cp * float32(m.Cos(float64(o.yaw)))
	o.Position = o.Center.Add(mgl32.Vec3{x, y, z})
	// looking back at the center
	o.EulerRotation = mgl32.Vec3{-o.pitch, o.yaw, 0}
	o.IsDirty = true
}

/** @brief Follows a target from a fixed offset and looks at it. */
type ThirdPerson struct {
	*CameraBase
	Target Target
	Offset mgl32.Vec3
}

func NewThirdPerson(aspect float32, target Target, offset mgl32.Vec3) *ThirdPerson {
	tp := &ThirdPerson{CameraBase: NewCameraBase(aspect), Target: target, Offset: offset}
	tp.OnUpdate(0)
	return tp
}

func (tp *ThirdPerson) OnUpdate(dt float32) {
	if tp.Target == nil {
		return
	}
	tp.Position = tp.Target.GetWorldPosition().Add(tp.Offset)
	tp.IsDirty = true
}

func (tp *ThirdPerson) GetTransform() mgl32.Mat4 {
	if tp.Target == nil {
		return tp.CameraBase.GetTransform()
	}
	if tp.IsDirty {
		tp.ViewMatrix = mgl32.LookAtV(tp.Position, tp.Target.GetWorldPosition(), mgl32.Vec3{0, 1, 0})
		tp.IsDirty = false
	}
	return tp.ViewMatrix
}

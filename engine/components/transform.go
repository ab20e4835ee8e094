package components

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima/engine/math"
)

/**
 * @brief A scene transform with an optional parent. Listeners registered with
 * OnChange run after the world transform of this component or of any ancestor changed.
 */
type Transform struct {
	position mgl32.Vec3
	rotation mgl32.Quat
	scale    mgl32.Vec3

	parent   *Transform
	children []*Transform

	world      mgl32.Mat4
	worldDirty bool

	listeners  map[int]func()
	nextListen int
}

func NewTransform() *Transform {
	return &Transform{
		rotation:   mgl32.QuatIdent(),
		scale:      mgl32.Vec3{1, 1, 1},
		world:      mgl32.Ident4(),
		worldDirty: true,
		listeners:  make(map[int]func()),
	}
}

func NewTransformAt(position mgl32.Vec3) *Transform {
	t := NewTransform()
	t.position = position
	return t
}

func (t *Transform) Position() mgl32.Vec3 { return t.position }
func (t *Transform) Rotation() mgl32.Quat { return t.rotation }
func (t *Transform) Scale() mgl32.Vec3    { return t.scale }

func (t *Transform) SetPosition(p mgl32.Vec3) {
	t.position = p
	t.changed()
}

func (t *Transform) SetRotation(q mgl32.Quat) {
	t.rotation = q
	t.changed()
}

func (t *Transform) SetScale(s mgl32.Vec3) {
	t.scale = s
	t.changed()
}

func (t *Transform) Translate(delta mgl32.Vec3) {
	t.SetPosition(t.position.Add(delta))
}

// SetParent reparents t. A nil parent makes t a root.
func (t *Transform) SetParent(parent *Transform) {
	if t.parent != nil {
		siblings := t.parent.children
		for i, c := range siblings {
			if c == t {
				t.parent.children = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
	}
	t.parent = parent
	if parent != nil {
		parent.children = append(parent.children, t)
	}
	t.changed()
}

func (t *Transform) Parent() *Transform {
	return t.parent
}

func (t *Transform) GetLocalTransform() mgl32.Mat4 {
	return math.ComposeTRS(t.position, t.rotation, t.scale)
}

func (t *Transform) GetWorldTransform() mgl32.Mat4 {
	if t.worldDirty {
		local := t.GetLocalTransform()
		if t.parent != nil {
			t.world = t.parent.GetWorldTransform().Mul4(local)
		} else {
			t.world = local
		}
		t.worldDirty = false
	}
	return t.world
}

func (t *Transform) GetWorldPosition() mgl32.Vec3 {
	return t.GetWorldTransform().Col(3).Vec3()
}

// OnChange registers fn and returns a function that removes it.
func (t *Transform) OnChange(fn func()) func() {
	id := t.nextListen
	t.nextListen++
	t.listeners[id] = fn
	return func() { delete(t.listeners, id) }
}

func (t *Transform) changed() {
	t.worldDirty = true
	for _, fn := range t.listeners {
		fn()
	}
	for _, c := range t.children {
		c.changed()
	}
}

// Package sim steps the simulated mechanism at a fixed timestep and
// exposes its actuators to controllers.
package sim

import (
	"fmt"

	"github.com/simbridge/simbridge/internal/scene"
)

// Actuator is one simulated joint. Position is in radians (meters for
// prismatic joints) relative to simulation start. SetPosition writes the
// target directly; the world moves the joint to it (or toward it, when a
// max velocity is configured) on the next Step. All access is confined
// to the runner goroutine.
type Actuator struct {
	name   string
	typ    scene.JointType
	pos    float64
	vel    float64
	target float64
	maxVel float64
	limits *scene.Limits
}

func (a *Actuator) Name() string { return a.name }

func (a *Actuator) Type() scene.JointType { return a.typ }

func (a *Actuator) Position() float64 { return a.pos }

func (a *Actuator) Velocity() float64 { return a.vel }

// SetPosition writes the joint target, clamped to the joint's limits.
func (a *Actuator) SetPosition(target float64) {
	if a.limits != nil {
		if target < a.limits.Lower {
			target = a.limits.Lower
		} else if target > a.limits.Upper {
			target = a.limits.Upper
		}
	}
	a.target = target
}

func (a *Actuator) step(dt float64) {
	if !a.typ.Actuated() || dt <= 0 {
		a.vel = 0
		return
	}
	prev := a.pos
	d := a.target - a.pos
	if a.maxVel > 0 {
		step := a.maxVel * dt
		if d > step {
			d = step
		} else if d < -step {
			d = -step
		}
	}
	a.pos += d
	a.vel = (a.pos - prev) / dt
}

// World owns every joint actuator described by a scene.
type World struct {
	joints []*Actuator
	byName map[string]*Actuator
	time   float64
}

func NewWorld(sc *scene.Scene) (*World, error) {
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scene: %w", err)
	}
	w := &World{byName: make(map[string]*Actuator, len(sc.Joints))}
	for _, j := range sc.Joints {
		a := &Actuator{
			name:   j.Name,
			typ:    j.Type,
			pos:    j.Origin,
			target: j.Origin,
			maxVel: j.MaxVelocity,
			limits: j.Limits,
		}
		w.joints = append(w.joints, a)
		w.byName[j.Name] = a
	}
	return w, nil
}

// Step advances every actuated joint by dt seconds.
func (w *World) Step(dt float64) {
	for _, a := range w.joints {
		a.step(dt)
	}
	w.time += dt
}

// Time is the simulation time in seconds since start.
func (w *World) Time() float64 { return w.time }

func (w *World) Joint(name string) (*Actuator, bool) {
	a, ok := w.byName[name]
	return a, ok
}

// Resolve maps the named joints to actuators, excluding fixed joints.
// Unknown names are configuration errors. The result preserves the
// order of names; controllers resolve once at construction and keep the
// returned slice for their lifetime.
func (w *World) Resolve(names []string) ([]*Actuator, error) {
	out := make([]*Actuator, 0, len(names))
	for _, n := range names {
		a, ok := w.byName[n]
		if !ok {
			return nil, fmt.Errorf("unresolved joint reference %q", n)
		}
		if !a.typ.Actuated() {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Package scene models the persisted scene graph: rigid bodies in a
// parent/child tree, the joints connecting them, and the controllers
// declared per robot. Scenes are stored as JSON; field names are part of
// the persisted format.
package scene

import (
	"encoding/json"
	"fmt"
	"os"
)

type JointType string

const (
	Revolute  JointType = "revolute"
	Prismatic JointType = "prismatic"
	Fixed     JointType = "fixed"
)

// Actuated reports whether a joint of this type accepts position targets.
func (t JointType) Actuated() bool {
	return t == Revolute || t == Prismatic
}

type Body struct {
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
	Mass   float64 `json:"mass,omitempty"`
}

type Limits struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

type Joint struct {
	Name   string     `json:"name"`
	Type   JointType  `json:"type"`
	Parent string     `json:"parent"`
	Child  string     `json:"child"`
	Axis   [3]float64 `json:"axis,omitempty"`
	Limits *Limits    `json:"limits,omitempty"`
	// MaxVelocity caps how fast the simulated actuator tracks its
	// target, in rad/s (or m/s for prismatic). Zero means the target is
	// reached within one step.
	MaxVelocity float64 `json:"max_velocity,omitempty"`
	Origin      float64 `json:"origin,omitempty"`
}

// Controller declares a controller to be constructed at startup. Joints
// lists the claimed resources in command order.
type Controller struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Joints []string `json:"joints"`
}

// Robot groups the controllers managed by one controller manager.
type Robot struct {
	Name        string       `json:"name"`
	Controllers []Controller `json:"controllers"`
}

type Scene struct {
	Name   string  `json:"name,omitempty"`
	Bodies []Body  `json:"bodies"`
	Joints []Joint `json:"joints"`
	Robots []Robot `json:"robots"`
}

func Load(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scene
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scene %s: %w", path, err)
	}
	return &sc, nil
}

func Save(path string, sc *Scene) error {
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// Joint looks up a joint declaration by name.
func (s *Scene) Joint(name string) (*Joint, bool) {
	for i := range s.Joints {
		if s.Joints[i].Name == name {
			return &s.Joints[i], true
		}
	}
	return nil, false
}

// Managers returns, per controller name, the robots that claim it. A
// controller claimed by more than one robot is a configuration error
// caught by Validate and again at startup.
func (s *Scene) Managers() map[string][]string {
	claims := make(map[string][]string)
	for _, r := range s.Robots {
		for _, c := range r.Controllers {
			claims[c.Name] = append(claims[c.Name], r.Name)
		}
	}
	return claims
}

// Validate checks referential integrity of the scene graph.
func (s *Scene) Validate() error {
	bodies := make(map[string]bool, len(s.Bodies))
	for _, b := range s.Bodies {
		if b.Name == "" {
			return fmt.Errorf("body with empty name")
		}
		if bodies[b.Name] {
			return fmt.Errorf("duplicate body %q", b.Name)
		}
		bodies[b.Name] = true
	}
	for _, b := range s.Bodies {
		if b.Parent != "" && !bodies[b.Parent] {
			return fmt.Errorf("body %q: unknown parent %q", b.Name, b.Parent)
		}
	}

	joints := make(map[string]bool, len(s.Joints))
	for _, j := range s.Joints {
		if j.Name == "" {
			return fmt.Errorf("joint with empty name")
		}
		if joints[j.Name] {
			return fmt.Errorf("duplicate joint %q", j.Name)
		}
		joints[j.Name] = true
		switch j.Type {
		case Revolute, Prismatic, Fixed:
		default:
			return fmt.Errorf("joint %q: unknown type %q", j.Name, j.Type)
		}
		if !bodies[j.Parent] {
			return fmt.Errorf("joint %q: unknown parent body %q", j.Name, j.Parent)
		}
		if !bodies[j.Child] {
			return fmt.Errorf("joint %q: unknown child body %q", j.Name, j.Child)
		}
		if j.Limits != nil && j.Limits.Lower > j.Limits.Upper {
			return fmt.Errorf("joint %q: lower limit above upper", j.Name)
		}
		if j.MaxVelocity < 0 {
			return fmt.Errorf("joint %q: negative max_velocity", j.Name)
		}
	}

	controllers := make(map[string]bool)
	for _, r := range s.Robots {
		if r.Name == "" {
			return fmt.Errorf("robot with empty name")
		}
		for _, c := range r.Controllers {
			if c.Name == "" {
				return fmt.Errorf("robot %q: controller with empty name", r.Name)
			}
			if c.Type == "" {
				return fmt.Errorf("controller %q: empty type", c.Name)
			}
			for _, jn := range c.Joints {
				if !joints[jn] {
					return fmt.Errorf("controller %q: unknown joint %q", c.Name, jn)
				}
			}
			controllers[c.Name] = true
		}
	}
	for name, robots := range s.Managers() {
		if len(robots) > 1 {
			return fmt.Errorf("controller %q claimed by %d managers: %v", name, len(robots), robots)
		}
	}
	return nil
}

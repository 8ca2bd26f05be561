package manager

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/simbridge/simbridge/internal/bus"
	"github.com/simbridge/simbridge/internal/control"
	"github.com/simbridge/simbridge/internal/scene"
	"github.com/simbridge/simbridge/internal/sim"
	"github.com/simbridge/simbridge/internal/storage"
)

// Deps is everything a controller factory may wire in.
type Deps struct {
	World  *sim.World
	Bus    bus.Bus
	Period float64 // tick interval in seconds
	Store  *storage.Store
	Logger *zap.SugaredLogger
}

// Factory builds a controller from its scene declaration.
type Factory func(deps Deps, robot string, decl scene.Controller) (Controller, error)

// Registry maps controller type tags to factories.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}

	r.factories[control.TypeTrajectory] = func(deps Deps, robot string, decl scene.Controller) (Controller, error) {
		joints, err := resolveJoints(deps.World, decl.Joints)
		if err != nil {
			return nil, fmt.Errorf("controller %s: %w", decl.Name, err)
		}
		return control.NewTrajectoryController(control.TrajectoryConfig{
			Name:   decl.Name,
			Robot:  robot,
			Joints: joints,
			Period: deps.Period,
			Bus:    deps.Bus,
			Store:  deps.Store,
			Logger: deps.Logger,
		})
	}

	r.factories[control.TypeBroadcaster] = func(deps Deps, robot string, decl scene.Controller) (Controller, error) {
		joints, err := resolveJoints(deps.World, decl.Joints)
		if err != nil {
			return nil, fmt.Errorf("broadcaster %s: %w", decl.Name, err)
		}
		return control.NewStateBroadcaster(control.BroadcasterConfig{
			Name:   decl.Name,
			Robot:  robot,
			Joints: joints,
			Bus:    deps.Bus,
			Logger: deps.Logger,
		})
	}

	return r
}

func (r *Registry) Register(typeName string, f Factory) {
	r.factories[typeName] = f
}

func (r *Registry) New(deps Deps, robot string, decl scene.Controller) (Controller, error) {
	f, ok := r.factories[decl.Type]
	if !ok {
		return nil, fmt.Errorf("unknown controller type %q", decl.Type)
	}
	return f(deps, robot, decl)
}

func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

func resolveJoints(w *sim.World, names []string) ([]control.Joint, error) {
	actuators, err := w.Resolve(names)
	if err != nil {
		return nil, err
	}
	joints := make([]control.Joint, len(actuators))
	for i, a := range actuators {
		joints[i] = a
	}
	return joints, nil
}

// Build assembles one manager per robot in the scene. A controller
// claimed by more than one manager, or one whose construction fails, is
// a configuration error: that controller is skipped (its lifecycle
// never leaves STOPPED) and its peers are unaffected.
func Build(sc *scene.Scene, reg *Registry, deps Deps) ([]*Manager, []error) {
	var errs []error
	claims := sc.Managers()

	managers := make([]*Manager, 0, len(sc.Robots))
	for _, robot := range sc.Robots {
		m := New(robot.Name, deps.Logger)
		for _, decl := range robot.Controllers {
			if n := len(claims[decl.Name]); n != 1 {
				errs = append(errs, fmt.Errorf("controller %q claimed by %d managers %v, refusing to start it",
					decl.Name, n, claims[decl.Name]))
				continue
			}
			c, err := reg.New(deps, robot.Name, decl)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := m.Register(c); err != nil {
				errs = append(errs, err)
			}
		}
		managers = append(managers, m)
	}
	return managers, errs
}

// Package manager tracks the controllers of one robot: registration,
// start/stop lifecycle, claimed resources, and the per-tick fan-out.
package manager

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simbridge/simbridge/internal/control"
)

// Controller is what a manager runs. Both controller types in package
// control implement it.
type Controller interface {
	Name() string
	Type() string
	ClaimedJoints() []string
	State() control.Lifecycle
	Start() error
	Stop() error
	Tick(now float64)
}

// Info describes a registered controller for listings.
type Info struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Claimed []string `json:"claimed_joints,omitempty"`
	State   string   `json:"state"`
}

// Manager is the per-robot controller manager. Registration and
// lifecycle calls happen during assembly and shutdown; Tick runs on the
// runner goroutine.
type Manager struct {
	robot       string
	log         *zap.SugaredLogger
	controllers map[string]Controller
	order       []string
}

func New(robot string, log *zap.SugaredLogger) *Manager {
	return &Manager{
		robot:       robot,
		log:         log.Named(robot),
		controllers: make(map[string]Controller),
	}
}

func (m *Manager) Robot() string { return m.robot }

func (m *Manager) Register(c Controller) error {
	if _, exists := m.controllers[c.Name()]; exists {
		return fmt.Errorf("robot %s: controller %q already registered", m.robot, c.Name())
	}
	m.controllers[c.Name()] = c
	m.order = append(m.order, c.Name())
	return nil
}

// Unregister stops and removes a controller. Unknown names are an error.
func (m *Manager) Unregister(name string) error {
	c, exists := m.controllers[name]
	if !exists {
		return fmt.Errorf("robot %s: no controller %q", m.robot, name)
	}
	if err := c.Stop(); err != nil {
		return err
	}
	delete(m.controllers, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Start brings every registered controller up. A controller that fails
// to start stays STOPPED and does not prevent its peers from starting.
func (m *Manager) Start() error {
	var errs []error
	for _, name := range m.order {
		if err := m.controllers[name].Start(); err != nil {
			m.log.Errorw("controller failed to start", "controller", name, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop shuts every controller down. Idempotent.
func (m *Manager) Stop() error {
	var errs []error
	for _, name := range m.order {
		if err := m.controllers[name].Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tick fans one control cycle out to every controller, in registration
// order. Stopped controllers ignore it.
func (m *Manager) Tick(now float64) {
	for _, name := range m.order {
		m.controllers[name].Tick(now)
	}
}

func (m *Manager) Infos() []Info {
	infos := make([]Info, 0, len(m.order))
	for _, name := range m.order {
		c := m.controllers[name]
		infos = append(infos, Info{
			Name:    c.Name(),
			Type:    c.Type(),
			Claimed: c.ClaimedJoints(),
			State:   c.State().String(),
		})
	}
	return infos
}

package control

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/simbridge/simbridge/internal/bus"
	"github.com/simbridge/simbridge/internal/msg"
)

// TypeBroadcaster is the registered controller type tag.
const TypeBroadcaster = "joint_state_broadcaster"

type BroadcasterConfig struct {
	Name   string
	Robot  string
	Joints []Joint
	Bus    bus.Bus
	Logger *zap.SugaredLogger
}

// StateBroadcaster publishes raw joint state every tick. It is
// read-only: it drives nothing and therefore claims no resources.
type StateBroadcaster struct {
	name   string
	robot  string
	joints []Joint
	names  []string
	bus    bus.Bus
	topic  string
	log    *zap.SugaredLogger

	lifecycle atomic.Int32
}

func NewStateBroadcaster(cfg BroadcasterConfig) (*StateBroadcaster, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("broadcaster name must be set")
	}
	if len(cfg.Joints) == 0 {
		return nil, fmt.Errorf("broadcaster %s: no joints resolved", cfg.Name)
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("broadcaster %s: bus must be set", cfg.Name)
	}
	b := &StateBroadcaster{
		name:   cfg.Name,
		robot:  cfg.Robot,
		joints: cfg.Joints,
		bus:    cfg.Bus,
		topic:  fmt.Sprintf("%s/joint_states", cfg.Robot),
		log:    cfg.Logger.Named(cfg.Name),
	}
	b.names = make([]string, len(b.joints))
	for i, j := range b.joints {
		b.names[i] = j.Name()
	}
	return b, nil
}

func (b *StateBroadcaster) Name() string  { return b.name }
func (b *StateBroadcaster) Type() string  { return TypeBroadcaster }
func (b *StateBroadcaster) Robot() string { return b.robot }

func (b *StateBroadcaster) ClaimedJoints() []string { return nil }

func (b *StateBroadcaster) State() Lifecycle {
	return Lifecycle(b.lifecycle.Load())
}

func (b *StateBroadcaster) Start() error {
	if b.State() != Stopped {
		return nil
	}
	b.lifecycle.Store(int32(Initializing))
	if err := b.bus.Advertise(b.topic, msg.TypeJointStates); err != nil {
		b.lifecycle.Store(int32(Stopped))
		return fmt.Errorf("broadcaster %s: advertise: %w", b.name, err)
	}
	b.lifecycle.Store(int32(Running))
	b.log.Infow("broadcaster running", "topic", b.topic, "joints", b.names)
	return nil
}

func (b *StateBroadcaster) Stop() error {
	if b.State() == Stopped {
		return nil
	}
	if err := b.bus.Unadvertise(b.topic); err != nil {
		b.log.Warnw("unadvertise failed", "topic", b.topic, "err", err)
	}
	b.lifecycle.Store(int32(Stopped))
	return nil
}

func (b *StateBroadcaster) Tick(now float64) {
	if b.State() != Running {
		return
	}
	st := msg.JointStates{
		Names:      b.names,
		Positions:  make([]float64, len(b.joints)),
		Velocities: make([]float64, len(b.joints)),
		Time:       now,
	}
	for i, j := range b.joints {
		st.Positions[i] = j.Position()
		st.Velocities[i] = j.Velocity()
	}
	if err := b.bus.Publish(b.topic, st); err != nil {
		b.log.Warnw("joint state publish failed", "topic", b.topic, "err", err)
	}
}

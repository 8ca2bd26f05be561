package control

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simbridge/simbridge/internal/action"
	"github.com/simbridge/simbridge/internal/bus"
	"github.com/simbridge/simbridge/internal/metrics"
	"github.com/simbridge/simbridge/internal/msg"
	"github.com/simbridge/simbridge/internal/storage"
)

// TypeTrajectory is the registered controller type tag.
const TypeTrajectory = "follow_joint_trajectory"

// Joint is the controller's view of one simulated actuator. Positions
// are radians relative to simulation start. SetPosition writes the
// target directly; the simulation is expected to move the joint toward
// it before the next read.
type Joint interface {
	Name() string
	Position() float64
	Velocity() float64
	SetPosition(target float64)
}

// Lifecycle governs whether the tick handler does any work.
type Lifecycle int32

const (
	Stopped Lifecycle = iota
	Initializing
	Running
)

func (l Lifecycle) String() string {
	switch l {
	case Stopped:
		return "STOPPED"
	case Initializing:
		return "INITIALIZING"
	case Running:
		return "RUNNING"
	}
	return "UNKNOWN"
}

// TrajectoryConfig carries everything a TrajectoryController needs;
// the joint set is resolved by the caller (see sim.World.Resolve) so
// the controller itself holds no lookups.
type TrajectoryConfig struct {
	Name   string
	Robot  string
	Joints []Joint
	Period float64 // tick interval in seconds
	Bus    bus.Bus
	Store  *storage.Store // optional goal recording
	Logger *zap.SugaredLogger
}

// TrajectoryController executes follow-trajectory goals against its
// claimed joints. One goal is current at a time; a new goal preempts an
// active one explicitly. Tick is only ever called from the runner
// goroutine; goals arriving on transport goroutines are latched into
// the mailbox and consumed at the start of the next tick, while cancels
// only flip goal status and so are handled where they arrive.
type TrajectoryController struct {
	name   string
	robot  string
	joints []Joint
	names  []string
	index  map[string]int
	period float64

	bus        bus.Bus
	srv        *action.Server
	machine    *action.Machine
	store      *storage.Store
	log        *zap.SugaredLogger
	stateTopic string

	lifecycle atomic.Int32
	mailbox   chan msg.TrajectoryGoal

	// Per-goal execution state, tick-confined.
	handle   *action.GoalHandle
	order    []int // goal array index -> joints index
	goalTime float64
	wpIndex  int
	goalOpen bool
	tracker  *metrics.Tracker
	trace    *storage.Trace

	desired msg.JointState
	actual  msg.JointState
	errs    msg.JointState
}

func NewTrajectoryController(cfg TrajectoryConfig) (*TrajectoryController, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("controller name must be set")
	}
	if len(cfg.Joints) == 0 {
		return nil, fmt.Errorf("controller %s: no actuated joints resolved", cfg.Name)
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("controller %s: period must be positive, got %f", cfg.Name, cfg.Period)
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("controller %s: bus must be set", cfg.Name)
	}

	c := &TrajectoryController{
		name:       cfg.Name,
		robot:      cfg.Robot,
		joints:     cfg.Joints,
		period:     cfg.Period,
		bus:        cfg.Bus,
		store:      cfg.Store,
		log:        cfg.Logger.Named(cfg.Name),
		stateTopic: fmt.Sprintf("%s/%s/state", cfg.Robot, cfg.Name),
		mailbox:    make(chan msg.TrajectoryGoal, 16),
		tracker:    metrics.NewTracker(),
	}

	c.names = make([]string, len(c.joints))
	c.index = make(map[string]int, len(c.joints))
	for i, j := range c.joints {
		c.names[i] = j.Name()
		c.index[j.Name()] = i
	}

	ns := fmt.Sprintf("%s/%s/follow_joint_trajectory", cfg.Robot, cfg.Name)
	c.srv = action.NewServer(cfg.Bus, ns, c.log)
	c.machine = action.NewMachine(c.srv, c.log)

	n := len(c.joints)
	c.desired = msg.NewJointState(n)
	c.actual = msg.NewJointState(n)
	c.errs = msg.NewJointState(n)
	return c, nil
}

func (c *TrajectoryController) Name() string  { return c.name }
func (c *TrajectoryController) Type() string  { return TypeTrajectory }
func (c *TrajectoryController) Robot() string { return c.robot }

// ClaimedJoints is the claimed-resource descriptor: the joints this
// controller exclusively drives while running.
func (c *TrajectoryController) ClaimedJoints() []string {
	return append([]string(nil), c.names...)
}

func (c *TrajectoryController) State() Lifecycle {
	return Lifecycle(c.lifecycle.Load())
}

// Start brings the controller to RUNNING: snapshot arrays sized to the
// resolved joint count, state topic advertised, action endpoint up.
// Desired positions start at the joints' current positions so the first
// idle snapshots carry zero error.
func (c *TrajectoryController) Start() error {
	if c.State() != Stopped {
		return nil
	}
	c.lifecycle.Store(int32(Initializing))

	if err := c.bus.Advertise(c.stateTopic, msg.TypeControllerState); err != nil {
		c.lifecycle.Store(int32(Stopped))
		return fmt.Errorf("controller %s: advertise state topic: %w", c.name, err)
	}

	c.srv.OnGoalReceived(c.enqueueGoal)
	c.srv.OnCancelReceived(c.cancelReceived)
	if err := c.srv.Start(); err != nil {
		_ = c.bus.Unadvertise(c.stateTopic)
		c.lifecycle.Store(int32(Stopped))
		return fmt.Errorf("controller %s: action endpoint: %w", c.name, err)
	}

	for i, j := range c.joints {
		c.desired.Positions[i] = j.Position()
	}

	c.lifecycle.Store(int32(Running))
	c.log.Infow("controller running", "type", TypeTrajectory, "joints", c.names, "period", c.period)
	return nil
}

// Stop tears the controller down, canceling any active goal first.
// Idempotent: stopping a stopped controller is a no-op.
func (c *TrajectoryController) Stop() error {
	if c.State() == Stopped {
		return nil
	}
	c.machine.Cancel("", "controller stopped")
	if c.goalOpen && c.handle != nil {
		c.closeGoal(c.handle)
	}
	if err := c.srv.Close(); err != nil {
		c.log.Warnw("endpoint close failed", "err", err)
	}
	if err := c.bus.Unadvertise(c.stateTopic); err != nil {
		c.log.Warnw("unadvertise failed", "topic", c.stateTopic, "err", err)
	}
	c.lifecycle.Store(int32(Stopped))
	c.log.Infow("controller stopped")
	return nil
}

// enqueueGoal runs on the transport goroutine: latch only, no control
// work here.
func (c *TrajectoryController) enqueueGoal(g msg.TrajectoryGoal) {
	if c.State() != Running {
		c.reject(g.ID, "controller not running")
		return
	}
	select {
	case c.mailbox <- g:
	default:
		c.log.Warnw("command queue full, goal dropped", "goal", g.ID)
		c.reject(g.ID, "command queue full")
	}
}

// cancelReceived runs on the transport goroutine. The acknowledgement is
// emitted synchronously; the cancel itself only flips goal status, and
// the executor stops advancing when it observes it at the next tick.
func (c *TrajectoryController) cancelReceived(req msg.CancelRequest) {
	ack := msg.CancelAck{GoalID: req.GoalID}
	switch {
	case c.State() != Running:
		ack.Reason = "controller not running"
	case c.machine.Cancel(req.GoalID, "canceled by request"):
		ack.Accepted = true
	default:
		ack.Reason = "no active goal"
	}
	if err := c.srv.PublishCancelAck(ack); err != nil {
		c.log.Warnw("cancel ack publish failed", "err", err)
	}
}

// reject tells the issuer a goal was refused without creating a state
// machine instance for it.
func (c *TrajectoryController) reject(goalID, reason string) {
	res := msg.Result{GoalID: goalID, Status: msg.StatusAborted, Text: "rejected: " + reason}
	if err := c.srv.PublishResult(res); err != nil {
		c.log.Warnw("reject publish failed", "goal", goalID, "err", err)
	}
	c.log.Warnw("goal rejected", "goal", goalID, "reason", reason)
}

// Tick runs one control cycle. Within a tick: latched commands first,
// then the executor step, then publishing, so snapshots observe the
// state after this tick's control decision.
func (c *TrajectoryController) Tick(now float64) {
	if c.State() != Running {
		return
	}
	c.drainMailbox()
	c.executeStep()
	c.publish(now)
}

func (c *TrajectoryController) drainMailbox() {
	for {
		select {
		case g := <-c.mailbox:
			c.acceptGoal(g)
		default:
			return
		}
	}
}

// mapJointNames validates that goal names are exactly the controller's
// resolved joint set (any order) and returns goal index -> joints index.
func (c *TrajectoryController) mapJointNames(names []string) ([]int, error) {
	if len(names) != len(c.joints) {
		return nil, fmt.Errorf("goal names %d joints, controller drives %d", len(names), len(c.joints))
	}
	order := make([]int, len(names))
	seen := make(map[int]bool, len(names))
	for gi, n := range names {
		ji, ok := c.index[n]
		if !ok {
			return nil, fmt.Errorf("goal names unknown joint %q", n)
		}
		if seen[ji] {
			return nil, fmt.Errorf("goal names joint %q twice", n)
		}
		seen[ji] = true
		order[gi] = ji
	}
	return order, nil
}

func (c *TrajectoryController) acceptGoal(g msg.TrajectoryGoal) {
	order, err := c.mapJointNames(g.JointNames)
	if err != nil {
		c.reject(g.ID, err.Error())
		return
	}
	for i, pt := range g.Points {
		if len(pt.Positions) != len(g.JointNames) {
			c.reject(g.ID, fmt.Sprintf("waypoint %d has %d positions for %d joints", i, len(pt.Positions), len(g.JointNames)))
			return
		}
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}

	old := c.handle
	h, err := c.machine.Submit(action.Goal{ID: g.ID, JointNames: g.JointNames, Points: g.Points})
	if err != nil {
		c.reject(g.ID, err.Error())
		return
	}
	if old != nil && c.goalOpen {
		c.closeGoal(old)
	}

	// Acceptance resets the goal-relative clock and all accounting.
	c.handle = h
	c.order = order
	c.goalTime = 0
	c.wpIndex = 0
	c.goalOpen = true
	c.tracker.Reset()
	c.trace = nil
	if c.store != nil {
		c.trace = &storage.Trace{JointNames: c.names}
	}
	c.log.Infow("goal accepted", "goal", g.ID, "waypoints", len(g.Points))
}

// executeStep advances goal-relative time by one period and drives the
// joints toward the first waypoint at or past it. No interpolation
// between waypoints: tracking is step-wise by design of the protocol.
func (c *TrajectoryController) executeStep() {
	h := c.handle
	if h == nil {
		return
	}
	if h.Status() != msg.StatusActive {
		// Canceled or preempted out-of-band; close out the record once.
		if c.goalOpen {
			c.closeGoal(h)
		}
		return
	}
	g := h.Goal()

	if len(g.Points) == 0 {
		if err := h.Succeed("empty trajectory"); err == nil {
			c.closeGoal(h)
		}
		return
	}

	c.goalTime += c.period

	// The waypoint pointer only moves forward.
	for c.wpIndex < len(g.Points) && g.Points[c.wpIndex].TimeFromStart < c.goalTime {
		c.wpIndex++
	}
	idx := c.wpIndex
	completing := false
	if idx >= len(g.Points) {
		// Past the last waypoint: command the terminal configuration
		// one final time, then report success.
		idx = len(g.Points) - 1
		completing = true
	}
	pt := g.Points[idx]
	if len(pt.Positions) != len(g.JointNames) {
		if err := h.Abort(fmt.Sprintf("waypoint %d has %d positions for %d joints", idx, len(pt.Positions), len(g.JointNames))); err == nil {
			c.closeGoal(h)
		}
		return
	}

	// Read actual state for every joint before writing any target.
	for gi, ji := range c.order {
		j := c.joints[ji]
		c.actual.Positions[ji] = j.Position()
		c.actual.Velocities[ji] = j.Velocity()
		c.desired.Positions[ji] = pt.Positions[gi]
		if len(pt.Velocities) == len(g.JointNames) {
			c.desired.Velocities[ji] = pt.Velocities[gi]
		} else {
			c.desired.Velocities[ji] = 0
		}
		if len(pt.Accelerations) == len(g.JointNames) {
			c.desired.Accelerations[ji] = pt.Accelerations[gi]
		} else {
			c.desired.Accelerations[ji] = 0
		}
		c.errs.Positions[ji] = c.actual.Positions[ji] - c.desired.Positions[ji]
		c.errs.Velocities[ji] = c.actual.Velocities[ji] - c.desired.Velocities[ji]
	}
	for _, ji := range c.order {
		c.joints[ji].SetPosition(c.desired.Positions[ji])
	}

	c.tracker.Observe(c.desired.Positions, c.actual.Positions)
	if c.trace != nil {
		c.trace.Append(c.goalTime, c.desired.Positions, c.actual.Positions, c.errs.Positions)
	}

	if completing {
		if err := h.Succeed(c.tracker.Summary(len(c.names))); err == nil {
			c.closeGoal(h)
		}
	}
}

// closeGoal writes the finished goal's record to the store, once.
func (c *TrajectoryController) closeGoal(h *action.GoalHandle) {
	c.goalOpen = false
	trace := c.trace
	c.trace = nil
	if c.store == nil {
		return
	}
	g := h.Goal()
	rec := storage.GoalRecord{
		ID:         g.ID,
		Controller: c.name,
		Status:     h.Status().String(),
		Text:       h.ResultText(),
		Accepted:   g.Accepted,
		Finished:   time.Now(),
		Ticks:      c.tracker.Ticks(),
		JointNames: c.names,
		Metrics:    c.tracker.Values(),
	}
	if _, err := c.store.Save(rec, trace); err != nil {
		c.log.Warnw("goal record save failed", "goal", g.ID, "err", err)
	}
}

// publish emits the controller-state snapshot and, while a goal is
// active, its feedback mirror. Targets written this tick take effect at
// the next world step, so the reads below still observe this tick's
// pre-write positions. Publish failures never abort the loop.
func (c *TrajectoryController) publish(now float64) {
	for i, j := range c.joints {
		c.actual.Positions[i] = j.Position()
		c.actual.Velocities[i] = j.Velocity()
		c.errs.Positions[i] = c.actual.Positions[i] - c.desired.Positions[i]
		c.errs.Velocities[i] = c.actual.Velocities[i] - c.desired.Velocities[i]
	}

	state := msg.ControllerState{
		JointNames:    c.names,
		Desired:       c.desired.Clone(),
		Actual:        c.actual.Clone(),
		Error:         c.errs.Clone(),
		TimeFromStart: c.goalTime,
	}
	if err := c.bus.Publish(c.stateTopic, state); err != nil {
		c.log.Warnw("state publish failed", "topic", c.stateTopic, "err", err)
	}

	if h := c.handle; h != nil && h.Status() == msg.StatusActive {
		fb := msg.Feedback{GoalID: h.Goal().ID, State: state}
		if err := c.srv.PublishFeedback(fb); err != nil {
			c.log.Warnw("feedback publish failed", "err", err)
		}
	}
}

// Package action implements the action-protocol side of the bridge: the
// endpoint topics a goal issuer talks to, and the state machine that
// owns every goal's lifecycle.
package action

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simbridge/simbridge/internal/msg"
)

// ErrTerminal is returned by transitions attempted on a finished goal.
var ErrTerminal = errors.New("goal already in terminal state")

// Goal is an accepted trajectory request. Accepted is wall-clock
// acceptance time, kept for diagnostics only; control uses goal-relative
// time.
type Goal struct {
	ID         string
	JointNames []string
	Points     []msg.TrajectoryPoint
	Accepted   time.Time
}

// ResultSink receives terminal results and status transitions. The
// endpoint Server is the production sink.
type ResultSink interface {
	PublishResult(res msg.Result) error
	PublishStatus(st msg.StatusUpdate) error
}

// GoalHandle owns one goal's status. All readers of goal state go
// through it. Transitions happen on the control tick goroutine; Status
// is safe to read from anywhere.
type GoalHandle struct {
	goal Goal
	sink ResultSink
	log  *zap.SugaredLogger

	mu     sync.Mutex
	status msg.GoalStatus
	text   string
}

func newHandle(g Goal, sink ResultSink, log *zap.SugaredLogger) *GoalHandle {
	return &GoalHandle{goal: g, sink: sink, log: log, status: msg.StatusPending}
}

func (h *GoalHandle) Goal() *Goal { return &h.goal }

func (h *GoalHandle) Status() msg.GoalStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// ResultText returns the text carried by the terminal result, or empty
// while the goal is still running.
func (h *GoalHandle) ResultText() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.text
}

// transition moves the goal to a new status, publishing the status
// update and, for terminal states, the result. The lock makes the
// terminal transition exactly-once even when a cancel on the transport
// goroutine races the executor's own terminal transition, and latches
// the result text with the status so stored records carry it.
func (h *GoalHandle) transition(to msg.GoalStatus, text string) error {
	h.mu.Lock()
	from := h.status
	if from.Terminal() {
		h.mu.Unlock()
		return fmt.Errorf("%s -> %s: %w", from, to, ErrTerminal)
	}
	h.status = to
	if to.Terminal() {
		h.text = text
	}
	h.mu.Unlock()
	h.log.Infow("goal transition", "goal", h.goal.ID, "from", from.String(), "to", to.String())

	if err := h.sink.PublishStatus(msg.StatusUpdate{GoalID: h.goal.ID, Status: to}); err != nil {
		h.log.Warnw("status publish failed", "goal", h.goal.ID, "err", err)
	}
	if to.Terminal() {
		res := msg.Result{GoalID: h.goal.ID, Status: to, Text: text}
		if err := h.sink.PublishResult(res); err != nil {
			h.log.Warnw("result publish failed", "goal", h.goal.ID, "err", err)
		}
	}
	return nil
}

func (h *GoalHandle) accept() error {
	h.goal.Accepted = time.Now()
	return h.transition(msg.StatusActive, "")
}

func (h *GoalHandle) Succeed(text string) error { return h.transition(msg.StatusSucceeded, text) }
func (h *GoalHandle) Abort(text string) error   { return h.transition(msg.StatusAborted, text) }
func (h *GoalHandle) Cancel(text string) error  { return h.transition(msg.StatusCanceled, text) }
func (h *GoalHandle) Preempt(text string) error { return h.transition(msg.StatusPreempted, text) }

// Machine tracks the controller's single current goal. At most one goal
// is non-terminal at a time; submitting a new goal while one is active
// preempts the old one explicitly before the new one is accepted.
type Machine struct {
	sink ResultSink
	log  *zap.SugaredLogger

	mu      sync.Mutex
	current *GoalHandle
}

func NewMachine(sink ResultSink, log *zap.SugaredLogger) *Machine {
	return &Machine{sink: sink, log: log}
}

// Submit accepts g as the current goal, preempting any active one.
// Acceptance resets nothing in the executor; the controller does that on
// the handle it gets back.
func (m *Machine) Submit(g Goal) (*GoalHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && !m.current.Status().Terminal() {
		if err := m.current.Preempt(fmt.Sprintf("preempted by goal %s", g.ID)); err != nil {
			return nil, err
		}
	}
	h := newHandle(g, m.sink, m.log)
	if err := h.accept(); err != nil {
		return nil, err
	}
	m.current = h
	return h, nil
}

// Cancel flips the current goal to CANCELED if it is active and matches
// id (empty id matches any). It reports whether a goal was canceled; the
// executor observes the flipped status at its next tick.
func (m *Machine) Cancel(id, text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.Status().Terminal() {
		return false
	}
	if id != "" && id != m.current.goal.ID {
		return false
	}
	if err := m.current.Cancel(text); err != nil {
		return false
	}
	return true
}

// Current returns the current goal handle, which may be terminal, or
// nil if no goal was ever submitted.
func (m *Machine) Current() *GoalHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Active reports whether a goal is currently executing.
func (m *Machine) Active() bool {
	h := m.Current()
	return h != nil && h.Status() == msg.StatusActive
}

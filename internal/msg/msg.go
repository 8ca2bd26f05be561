// Package msg defines the wire records exchanged over the bridge's
// pub/sub topics. Field names are a compatibility surface with external
// control tooling and must not change.
package msg

// Type tags advertised alongside each record on the transport.
const (
	TypeTrajectoryGoal  = "simbridge/TrajectoryGoal"
	TypeCancelRequest   = "simbridge/CancelRequest"
	TypeFeedback        = "simbridge/Feedback"
	TypeResult          = "simbridge/Result"
	TypeStatusUpdate    = "simbridge/StatusUpdate"
	TypeCancelAck       = "simbridge/CancelAck"
	TypeControllerState = "simbridge/ControllerState"
	TypeJointStates     = "simbridge/JointStates"
)

// GoalStatus is the lifecycle state of a trajectory goal.
type GoalStatus uint8

const (
	StatusPending GoalStatus = iota
	StatusActive
	StatusSucceeded
	StatusAborted
	StatusCanceled
	StatusPreempted
)

var statusNames = map[GoalStatus]string{
	StatusPending:   "PENDING",
	StatusActive:    "ACTIVE",
	StatusSucceeded: "SUCCEEDED",
	StatusAborted:   "ABORTED",
	StatusCanceled:  "CANCELED",
	StatusPreempted: "PREEMPTED",
}

func (s GoalStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transitions are allowed from s.
func (s GoalStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusAborted, StatusCanceled, StatusPreempted:
		return true
	}
	return false
}

// TrajectoryPoint is one waypoint: a target joint configuration tagged
// with the goal-relative time it should be reached by. Positions are
// indexed parallel to the goal's joint_names list.
type TrajectoryPoint struct {
	Positions     []float64 `json:"positions"`
	Velocities    []float64 `json:"velocities,omitempty"`
	Accelerations []float64 `json:"accelerations,omitempty"`
	TimeFromStart float64   `json:"time_from_start"`
}

// TrajectoryGoal is a client request to follow a waypoint sequence.
// Waypoints are assumed monotonically non-decreasing in time_from_start.
type TrajectoryGoal struct {
	ID         string            `json:"goal_id"`
	JointNames []string          `json:"joint_names"`
	Points     []TrajectoryPoint `json:"points"`
}

// CancelRequest asks the controller to stop the current goal. An empty
// goal_id cancels whatever goal is active.
type CancelRequest struct {
	GoalID string `json:"goal_id,omitempty"`
}

// CancelAck tells the requester whether cancellation was accepted. It is
// emitted synchronously on receipt of the request, before the executor
// observes the cancellation.
type CancelAck struct {
	GoalID   string `json:"goal_id,omitempty"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// JointState holds per-joint arrays indexed parallel to a joint_names
// list.
type JointState struct {
	Positions     []float64 `json:"positions"`
	Velocities    []float64 `json:"velocities"`
	Accelerations []float64 `json:"accelerations"`
}

// ControllerState is the per-tick snapshot of the controller: what it
// commanded, what the simulation reports, and the difference.
type ControllerState struct {
	JointNames    []string   `json:"joint_names"`
	Desired       JointState `json:"desired"`
	Actual        JointState `json:"actual"`
	Error         JointState `json:"error"`
	TimeFromStart float64    `json:"time_from_start"`
}

// Feedback mirrors the controller state on the action channel while a
// goal is active.
type Feedback struct {
	GoalID string          `json:"goal_id"`
	State  ControllerState `json:"state"`
}

// Result is the terminal message for a goal.
type Result struct {
	GoalID string     `json:"goal_id"`
	Status GoalStatus `json:"status"`
	Text   string     `json:"text,omitempty"`
}

// StatusUpdate is published whenever a goal changes state.
type StatusUpdate struct {
	GoalID string     `json:"goal_id"`
	Status GoalStatus `json:"status"`
}

// JointStates is the broadcaster's periodic report of raw joint state,
// independent of any goal.
type JointStates struct {
	Names      []string  `json:"joint_names"`
	Positions  []float64 `json:"positions"`
	Velocities []float64 `json:"velocities"`
	Time       float64   `json:"time"`
}

// NewJointState allocates a JointState with all three arrays sized n.
func NewJointState(n int) JointState {
	return JointState{
		Positions:     make([]float64, n),
		Velocities:    make([]float64, n),
		Accelerations: make([]float64, n),
	}
}

// Clone deep-copies s so a published snapshot cannot alias the
// controller's scratch arrays.
func (s JointState) Clone() JointState {
	c := NewJointState(len(s.Positions))
	copy(c.Positions, s.Positions)
	copy(c.Velocities, s.Velocities)
	copy(c.Accelerations, s.Accelerations)
	return c
}

package control_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/simbridge/simbridge/internal/action"
	"github.com/simbridge/simbridge/internal/bus"
	"github.com/simbridge/simbridge/internal/control"
	"github.com/simbridge/simbridge/internal/msg"
	"github.com/simbridge/simbridge/internal/scene"
	"github.com/simbridge/simbridge/internal/sim"
	"github.com/simbridge/simbridge/internal/storage"
)

const period = 0.1

// rig wires a trajectory controller to a demo-scene world over an
// in-memory bus and records everything the controller publishes.
type rig struct {
	world *sim.World
	bus   *bus.Memory
	ctrl  *control.TrajectoryController
	ns    string

	results  []msg.Result
	statuses []msg.StatusUpdate
	feedback []msg.Feedback
	states   []msg.ControllerState
	acks     []msg.CancelAck
}

func newRig(store *storage.Store) *rig {
	world, err := sim.NewWorld(scene.Demo())
	Expect(err).NotTo(HaveOccurred())

	b := bus.NewMemory()
	joints, err := world.Resolve([]string{"shoulder", "elbow", "wrist_roll"})
	Expect(err).NotTo(HaveOccurred())

	resolved := make([]control.Joint, len(joints))
	for i, j := range joints {
		resolved[i] = j
	}

	ctrl, err := control.NewTrajectoryController(control.TrajectoryConfig{
		Name:   "arm_trajectory",
		Robot:  "arm",
		Joints: resolved,
		Period: period,
		Bus:    b,
		Store:  store,
		Logger: zap.NewNop().Sugar(),
	})
	Expect(err).NotTo(HaveOccurred())

	r := &rig{
		world: world,
		bus:   b,
		ctrl:  ctrl,
		ns:    "arm/arm_trajectory/follow_joint_trajectory",
	}

	sub := func(suffix, msgType string, handle func([]byte)) {
		Expect(b.Subscribe(action.Topic(r.ns, suffix), msgType, handle)).To(Succeed())
	}
	sub(action.ResultTopic, msg.TypeResult, func(data []byte) {
		var res msg.Result
		Expect(json.Unmarshal(data, &res)).To(Succeed())
		r.results = append(r.results, res)
	})
	sub(action.StatusTopic, msg.TypeStatusUpdate, func(data []byte) {
		var st msg.StatusUpdate
		Expect(json.Unmarshal(data, &st)).To(Succeed())
		r.statuses = append(r.statuses, st)
	})
	sub(action.FeedbackTopic, msg.TypeFeedback, func(data []byte) {
		var fb msg.Feedback
		Expect(json.Unmarshal(data, &fb)).To(Succeed())
		r.feedback = append(r.feedback, fb)
	})
	sub(action.CancelAckTopic, msg.TypeCancelAck, func(data []byte) {
		var ack msg.CancelAck
		Expect(json.Unmarshal(data, &ack)).To(Succeed())
		r.acks = append(r.acks, ack)
	})
	Expect(b.Subscribe("arm/arm_trajectory/state", msg.TypeControllerState, func(data []byte) {
		var st msg.ControllerState
		Expect(json.Unmarshal(data, &st)).To(Succeed())
		r.states = append(r.states, st)
	})).To(Succeed())

	return r
}

func (r *rig) start() {
	Expect(r.ctrl.Start()).To(Succeed())
	Expect(r.ctrl.State()).To(Equal(control.Running))
}

// sendGoal publishes over the goal topic, exercising the full endpoint
// path rather than poking the controller directly.
func (r *rig) sendGoal(g msg.TrajectoryGoal) {
	topic := action.Topic(r.ns, action.GoalTopic)
	Expect(r.bus.Advertise(topic, msg.TypeTrajectoryGoal)).To(Succeed())
	Expect(r.bus.Publish(topic, g)).To(Succeed())
}

func (r *rig) sendCancel(goalID string) {
	topic := action.Topic(r.ns, action.CancelTopic)
	Expect(r.bus.Advertise(topic, msg.TypeCancelRequest)).To(Succeed())
	Expect(r.bus.Publish(topic, msg.CancelRequest{GoalID: goalID})).To(Succeed())
}

// tick advances the world one period and runs one control cycle, the
// same ordering the runner uses.
func (r *rig) tick() {
	r.world.Step(period)
	r.ctrl.Tick(r.world.Time())
}

func (r *rig) resultsFor(goalID string) []msg.Result {
	var out []msg.Result
	for _, res := range r.results {
		if res.GoalID == goalID {
			out = append(out, res)
		}
	}
	return out
}

func (r *rig) jointPosition(name string) float64 {
	j, ok := r.world.Joint(name)
	Expect(ok).To(BeTrue())
	return j.Position()
}

var _ = Describe("TrajectoryController", func() {
	var r *rig

	BeforeEach(func() {
		r = newRig(nil)
		r.start()
	})

	AfterEach(func() {
		Expect(r.ctrl.Stop()).To(Succeed())
	})

	Describe("goal execution", func() {
		It("completes a single immediate waypoint in one tick", func() {
			r.sendGoal(msg.TrajectoryGoal{
				ID:         "g1",
				JointNames: []string{"shoulder", "elbow", "wrist_roll"},
				Points: []msg.TrajectoryPoint{
					{Positions: []float64{0.3, 0.2, 0.1}, TimeFromStart: 0},
				},
			})
			r.tick()

			results := r.resultsFor("g1")
			Expect(results).To(HaveLen(1))
			Expect(results[0].Status).To(Equal(msg.StatusSucceeded))

			// The terminal configuration was commanded before success.
			Expect(r.states).NotTo(BeEmpty())
			last := r.states[len(r.states)-1]
			Expect(last.Desired.Positions).To(Equal([]float64{0.3, 0.2, 0.1}))
		})

		It("steps through waypoints by goal-relative time", func() {
			r.sendGoal(msg.TrajectoryGoal{
				ID:         "g1",
				JointNames: []string{"shoulder", "elbow", "wrist_roll"},
				Points: []msg.TrajectoryPoint{
					{Positions: []float64{0.1, 0, 0}, TimeFromStart: 0.1},
					{Positions: []float64{0.2, 0, 0}, TimeFromStart: 0.2},
				},
			})

			r.tick()
			Expect(r.states[len(r.states)-1].Desired.Positions[0]).To(Equal(0.1))
			Expect(r.resultsFor("g1")).To(BeEmpty())

			r.tick()
			Expect(r.states[len(r.states)-1].Desired.Positions[0]).To(Equal(0.2))
			Expect(r.resultsFor("g1")).To(BeEmpty())

			// Past the last waypoint: final configuration again, then done.
			r.tick()
			Expect(r.states[len(r.states)-1].Desired.Positions[0]).To(Equal(0.2))
			results := r.resultsFor("g1")
			Expect(results).To(HaveLen(1))
			Expect(results[0].Status).To(Equal(msg.StatusSucceeded))
			Expect(results[0].Text).To(ContainSubstring("rms error"))
		})

		It("skips waypoints the tick grid jumps past", func() {
			r.sendGoal(msg.TrajectoryGoal{
				ID:         "g1",
				JointNames: []string{"shoulder", "elbow", "wrist_roll"},
				Points: []msg.TrajectoryPoint{
					{Positions: []float64{0.9, 0, 0}, TimeFromStart: 0},
					{Positions: []float64{0.2, 0, 0}, TimeFromStart: 0.2},
				},
			})

			// Goal time is already one period in on the first executing
			// tick, past the waypoint at zero: the selector lands on the
			// second waypoint straight away.
			r.tick()
			Expect(r.states[len(r.states)-1].Desired.Positions[0]).To(Equal(0.2))
			Expect(r.resultsFor("g1")).To(BeEmpty())

			r.tick()
			Expect(r.states[len(r.states)-1].Desired.Positions[0]).To(Equal(0.2))
			Expect(r.resultsFor("g1")).To(BeEmpty())

			r.tick()
			results := r.resultsFor("g1")
			Expect(results).To(HaveLen(1))
			Expect(results[0].Status).To(Equal(msg.StatusSucceeded))

			for _, st := range r.states {
				Expect(st.Desired.Positions[0]).NotTo(Equal(0.9), "skipped waypoint must never be commanded")
			}
		})

		It("succeeds an empty trajectory without commanding anything", func() {
			before := r.jointPosition("elbow")
			r.sendGoal(msg.TrajectoryGoal{
				ID:         "g1",
				JointNames: []string{"shoulder", "elbow", "wrist_roll"},
			})
			r.tick()
			r.tick()

			results := r.resultsFor("g1")
			Expect(results).To(HaveLen(1))
			Expect(results[0].Status).To(Equal(msg.StatusSucceeded))
			Expect(results[0].Text).To(Equal("empty trajectory"))
			Expect(r.jointPosition("elbow")).To(Equal(before))
		})

		It("accepts goal joint names in any order", func() {
			r.sendGoal(msg.TrajectoryGoal{
				ID:         "g1",
				JointNames: []string{"wrist_roll", "shoulder", "elbow"},
				Points: []msg.TrajectoryPoint{
					{Positions: []float64{0.3, 0.1, 0.2}, TimeFromStart: 0},
				},
			})
			r.tick()

			// Desired is reported in the controller's joint order.
			last := r.states[len(r.states)-1]
			Expect(last.JointNames).To(Equal([]string{"shoulder", "elbow", "wrist_roll"}))
			Expect(last.Desired.Positions).To(Equal([]float64{0.1, 0.2, 0.3}))
		})

		It("publishes feedback only while the goal is active", func() {
			r.sendGoal(msg.TrajectoryGoal{
				ID:         "g1",
				JointNames: []string{"shoulder", "elbow", "wrist_roll"},
				Points: []msg.TrajectoryPoint{
					{Positions: []float64{0.1, 0, 0}, TimeFromStart: 0.2},
				},
			})
			r.tick()
			Expect(r.feedback).To(HaveLen(1))
			Expect(r.feedback[0].GoalID).To(Equal("g1"))

			r.tick()
			r.tick()
			Expect(r.resultsFor("g1")).To(HaveLen(1))
			after := len(r.feedback)

			r.tick()
			Expect(r.feedback).To(HaveLen(after), "no feedback after the terminal result")
		})

		It("assigns an id to goals submitted without one", func() {
			r.sendGoal(msg.TrajectoryGoal{
				JointNames: []string{"shoulder", "elbow", "wrist_roll"},
				Points: []msg.TrajectoryPoint{
					{Positions: []float64{0, 0, 0}, TimeFromStart: 0},
				},
			})
			r.tick()
			Expect(r.results).To(HaveLen(1))
			Expect(r.results[0].GoalID).NotTo(BeEmpty())
		})
	})

	Describe("goal rejection", func() {
		It("rejects a goal naming unknown joints", func() {
			r.sendGoal(msg.TrajectoryGoal{
				ID:         "bad",
				JointNames: []string{"shoulder", "elbow", "gripper"},
				Points: []msg.TrajectoryPoint{
					{Positions: []float64{0, 0, 0}, TimeFromStart: 0},
				},
			})
			r.tick()

			results := r.resultsFor("bad")
			Expect(results).To(HaveLen(1))
			Expect(results[0].Status).To(Equal(msg.StatusAborted))
			Expect(results[0].Text).To(HavePrefix("rejected:"))
			Expect(r.statuses).To(BeEmpty(), "rejected goals never enter the state machine")
		})

		It("rejects a goal naming a subset of the claimed joints", func() {
			r.sendGoal(msg.TrajectoryGoal{
				ID:         "bad",
				JointNames: []string{"shoulder", "elbow"},
				Points: []msg.TrajectoryPoint{
					{Positions: []float64{0, 0}, TimeFromStart: 0},
				},
			})
			r.tick()
			results := r.resultsFor("bad")
			Expect(results).To(HaveLen(1))
			Expect(results[0].Text).To(HavePrefix("rejected:"))
		})

		It("rejects a goal whose waypoint width disagrees with its names", func() {
			r.sendGoal(msg.TrajectoryGoal{
				ID:         "bad",
				JointNames: []string{"shoulder", "elbow", "wrist_roll"},
				Points: []msg.TrajectoryPoint{
					{Positions: []float64{0, 0}, TimeFromStart: 0},
				},
			})
			r.tick()
			results := r.resultsFor("bad")
			Expect(results).To(HaveLen(1))
			Expect(results[0].Status).To(Equal(msg.StatusAborted))
		})

		It("does not disturb an active goal when a later goal is rejected", func() {
			r.sendGoal(msg.TrajectoryGoal{
				ID:         "good",
				JointNames: []string{"shoulder", "elbow", "wrist_roll"},
				Points: []msg.TrajectoryPoint{
					{Positions: []float64{0.1, 0, 0}, TimeFromStart: 0.5},
				},
			})
			r.tick()

			r.sendGoal(msg.TrajectoryGoal{
				ID:         "bad",
				JointNames: []string{"nope"},
			})
			r.tick()

			Expect(r.resultsFor("good")).To(BeEmpty())
			Expect(r.resultsFor("bad")).To(HaveLen(1))
		})
	})

	Describe("preemption", func() {
		It("preempts the active goal when a new one arrives", func() {
			r.sendGoal(msg.TrajectoryGoal{
				ID:         "g1",
				JointNames: []string{"shoulder", "elbow", "wrist_roll"},
				Points: []msg.TrajectoryPoint{
					{Positions: []float64{0.5, 0, 0}, TimeFromStart: 1.0},
				},
			})
			r.tick()

			r.sendGoal(msg.TrajectoryGoal{
				ID:         "g2",
				JointNames: []string{"shoulder", "elbow", "wrist_roll"},
				Points: []msg.TrajectoryPoint{
					{Positions: []float64{-0.5, 0, 0}, TimeFromStart: 0},
				},
			})
			r.tick()

			first := r.resultsFor("g1")
			Expect(first).To(HaveLen(1))
			Expect(first[0].Status).To(Equal(msg.StatusPreempted))
			Expect(first[0].Text).To(ContainSubstring("g2"))

			second := r.resultsFor("g2")
			Expect(second).To(HaveLen(1))
			Expect(second[0].Status).To(Equal(msg.StatusSucceeded))
		})

		It("restarts goal-relative time for the new goal", func() {
			r.sendGoal(msg.TrajectoryGoal{
				ID:         "g1",
				JointNames: []string{"shoulder", "elbow", "wrist_roll"},
				Points: []msg.TrajectoryPoint{
					{Positions: []float64{0.5, 0, 0}, TimeFromStart: 1.0},
				},
			})
			for i := 0; i < 5; i++ {
				r.tick()
			}
			Expect(r.states[len(r.states)-1].TimeFromStart).To(BeNumerically("~", 0.5, 1e-9))

			r.sendGoal(msg.TrajectoryGoal{
				ID:         "g2",
				JointNames: []string{"shoulder", "elbow", "wrist_roll"},
				Points: []msg.TrajectoryPoint{
					{Positions: []float64{-0.5, 0, 0}, TimeFromStart: 1.0},
				},
			})
			r.tick()
			Expect(r.states[len(r.states)-1].TimeFromStart).To(BeNumerically("~", 0.1, 1e-9))
		})
	})

	Describe("cancellation", func() {
		longGoal := msg.TrajectoryGoal{
			ID:         "g1",
			JointNames: []string{"shoulder", "elbow", "wrist_roll"},
			Points: []msg.TrajectoryPoint{
				{Positions: []float64{1.0, 1.0, 1.0}, TimeFromStart: 5.0},
			},
		}

		It("acknowledges synchronously and stops commanding", func() {
			r.sendGoal(longGoal)
			r.tick()
			r.tick()

			r.sendCancel("g1")
			// The ack arrives before any further tick.
			Expect(r.acks).To(HaveLen(1))
			Expect(r.acks[0].Accepted).To(BeTrue())

			results := r.resultsFor("g1")
			Expect(results).To(HaveLen(1))
			Expect(results[0].Status).To(Equal(msg.StatusCanceled))

			// Targets are frozen: the desired snapshot stops changing and
			// the joints coast to the last commanded targets.
			desiredAtCancel := r.states[len(r.states)-1].Desired.Positions
			for i := 0; i < 3; i++ {
				r.tick()
			}
			Expect(r.states[len(r.states)-1].Desired.Positions).To(Equal(desiredAtCancel))
		})

		It("rejects a cancel naming a different goal", func() {
			r.sendGoal(longGoal)
			r.tick()

			r.sendCancel("other")
			Expect(r.acks).To(HaveLen(1))
			Expect(r.acks[0].Accepted).To(BeFalse())
			Expect(r.acks[0].Reason).To(Equal("no active goal"))
			Expect(r.resultsFor("g1")).To(BeEmpty())
		})

		It("rejects a cancel when nothing is active", func() {
			r.sendCancel("")
			Expect(r.acks).To(HaveLen(1))
			Expect(r.acks[0].Accepted).To(BeFalse())
		})

		It("cancels whatever is active on an empty goal id", func() {
			r.sendGoal(longGoal)
			r.tick()

			r.sendCancel("")
			Expect(r.acks).To(HaveLen(1))
			Expect(r.acks[0].Accepted).To(BeTrue())
			Expect(r.resultsFor("g1")).To(HaveLen(1))
		})

		It("emits the cancel result exactly once across later ticks", func() {
			r.sendGoal(longGoal)
			r.tick()
			r.sendCancel("g1")
			for i := 0; i < 4; i++ {
				r.tick()
			}
			Expect(r.resultsFor("g1")).To(HaveLen(1))
		})
	})

	Describe("lifecycle", func() {
		It("rejects goals while stopped", func() {
			Expect(r.ctrl.Stop()).To(Succeed())
			Expect(r.ctrl.State()).To(Equal(control.Stopped))

			// The endpoint is down; nothing listens on the goal topic, so
			// publishing reaches no handler and no result is produced.
			topic := action.Topic(r.ns, action.GoalTopic)
			Expect(r.bus.Advertise(topic, msg.TypeTrajectoryGoal)).To(Succeed())
			Expect(r.bus.Publish(topic, msg.TrajectoryGoal{ID: "late"})).To(Succeed())
			Expect(r.resultsFor("late")).To(BeEmpty())
		})

		It("cancels the active goal on stop", func() {
			r.sendGoal(msg.TrajectoryGoal{
				ID:         "g1",
				JointNames: []string{"shoulder", "elbow", "wrist_roll"},
				Points: []msg.TrajectoryPoint{
					{Positions: []float64{1, 1, 1}, TimeFromStart: 5.0},
				},
			})
			r.tick()

			Expect(r.ctrl.Stop()).To(Succeed())
			results := r.resultsFor("g1")
			Expect(results).To(HaveLen(1))
			Expect(results[0].Status).To(Equal(msg.StatusCanceled))
			Expect(results[0].Text).To(Equal("controller stopped"))
		})

		It("is idempotent across repeated starts and stops", func() {
			Expect(r.ctrl.Start()).To(Succeed(), "second start is a no-op")
			Expect(r.ctrl.Stop()).To(Succeed())
			Expect(r.ctrl.Stop()).To(Succeed(), "second stop is a no-op")
			Expect(r.ctrl.Start()).To(Succeed(), "restart after stop")
			Expect(r.ctrl.State()).To(Equal(control.Running))
		})

		It("reports its claimed joints", func() {
			Expect(r.ctrl.ClaimedJoints()).To(Equal([]string{"shoulder", "elbow", "wrist_roll"}))
		})
	})

	Describe("recording", func() {
		It("persists a finished goal with metrics and trace", func() {
			store := storage.New(GinkgoT().TempDir())
			Expect(store.Init()).To(Succeed())
			rec := newRig(store)
			rec.start()
			defer rec.ctrl.Stop()

			rec.sendGoal(msg.TrajectoryGoal{
				ID:         "g1",
				JointNames: []string{"shoulder", "elbow", "wrist_roll"},
				Points: []msg.TrajectoryPoint{
					{Positions: []float64{0.1, 0.1, 0.1}, TimeFromStart: 0.1},
					{Positions: []float64{0.2, 0.2, 0.2}, TimeFromStart: 0.2},
				},
			})
			for i := 0; i < 3; i++ {
				rec.tick()
			}
			Expect(rec.resultsFor("g1")).To(HaveLen(1))

			saved, runID, err := store.Find("g1")
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.Status).To(Equal("SUCCEEDED"))
			Expect(saved.Text).To(ContainSubstring("rms error"))
			Expect(saved.Ticks).To(Equal(3))
			Expect(saved.Metrics).To(HaveKey("rms_error"))

			trace, err := store.LoadTrace(runID)
			Expect(err).NotTo(HaveOccurred())
			Expect(trace.Len()).To(Equal(3))
		})

		It("persists a canceled goal once", func() {
			store := storage.New(GinkgoT().TempDir())
			Expect(store.Init()).To(Succeed())
			rec := newRig(store)
			rec.start()
			defer rec.ctrl.Stop()

			rec.sendGoal(msg.TrajectoryGoal{
				ID:         "g1",
				JointNames: []string{"shoulder", "elbow", "wrist_roll"},
				Points: []msg.TrajectoryPoint{
					{Positions: []float64{1, 1, 1}, TimeFromStart: 5.0},
				},
			})
			rec.tick()
			rec.sendCancel("g1")
			rec.tick()
			rec.tick()

			saved, _, err := store.Find("g1")
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.Status).To(Equal("CANCELED"))
			Expect(saved.Text).To(Equal("canceled by request"))

			records, err := store.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
		})
	})
})

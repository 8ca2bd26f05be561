package control_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/simbridge/simbridge/internal/bus"
	"github.com/simbridge/simbridge/internal/control"
	"github.com/simbridge/simbridge/internal/msg"
	"github.com/simbridge/simbridge/internal/scene"
	"github.com/simbridge/simbridge/internal/sim"
)

var _ = Describe("StateBroadcaster", func() {
	var (
		world *sim.World
		b     *bus.Memory
		bc    *control.StateBroadcaster
		seen  []msg.JointStates
	)

	BeforeEach(func() {
		var err error
		world, err = sim.NewWorld(scene.Demo())
		Expect(err).NotTo(HaveOccurred())
		b = bus.NewMemory()

		joints, err := world.Resolve([]string{"shoulder", "elbow"})
		Expect(err).NotTo(HaveOccurred())
		resolved := make([]control.Joint, len(joints))
		for i, j := range joints {
			resolved[i] = j
		}

		bc, err = control.NewStateBroadcaster(control.BroadcasterConfig{
			Name:   "state_broadcaster",
			Robot:  "arm",
			Joints: resolved,
			Bus:    b,
			Logger: zap.NewNop().Sugar(),
		})
		Expect(err).NotTo(HaveOccurred())

		seen = nil
		Expect(b.Subscribe("arm/joint_states", msg.TypeJointStates, func(data []byte) {
			var st msg.JointStates
			Expect(json.Unmarshal(data, &st)).To(Succeed())
			seen = append(seen, st)
		})).To(Succeed())
	})

	It("claims no joints", func() {
		Expect(bc.ClaimedJoints()).To(BeEmpty())
	})

	It("publishes joint state every tick while running", func() {
		Expect(bc.Start()).To(Succeed())
		defer bc.Stop()

		j, _ := world.Joint("shoulder")
		j.SetPosition(0.4)
		world.Step(0.1)
		bc.Tick(world.Time())

		Expect(seen).To(HaveLen(1))
		Expect(seen[0].Names).To(Equal([]string{"shoulder", "elbow"}))
		Expect(seen[0].Positions[0]).To(BeNumerically("~", 0.2, 1e-9))
		Expect(seen[0].Time).To(BeNumerically("~", 0.1, 1e-9))
	})

	It("is silent before start and after stop", func() {
		bc.Tick(0.1)
		Expect(seen).To(BeEmpty())

		Expect(bc.Start()).To(Succeed())
		bc.Tick(0.2)
		Expect(bc.Stop()).To(Succeed())
		bc.Tick(0.3)
		Expect(seen).To(HaveLen(1))
	})

	It("is idempotent across repeated starts and stops", func() {
		Expect(bc.Start()).To(Succeed())
		Expect(bc.Start()).To(Succeed())
		Expect(bc.Stop()).To(Succeed())
		Expect(bc.Stop()).To(Succeed())
	})
})

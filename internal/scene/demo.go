package scene

// Demo returns a three joint arm with a trajectory controller and a
// joint state broadcaster, used by "scene init" and as a test fixture.
func Demo() *Scene {
	return &Scene{
		Name: "arm3",
		Bodies: []Body{
			{Name: "base", Mass: 4.0},
			{Name: "upper_arm", Parent: "base", Mass: 1.5},
			{Name: "forearm", Parent: "upper_arm", Mass: 1.0},
			{Name: "wrist", Parent: "forearm", Mass: 0.4},
			{Name: "tool_plate", Parent: "wrist", Mass: 0.1},
		},
		Joints: []Joint{
			{
				Name:        "shoulder",
				Type:        Revolute,
				Parent:      "base",
				Child:       "upper_arm",
				Axis:        [3]float64{0, 0, 1},
				Limits:      &Limits{Lower: -3.14, Upper: 3.14},
				MaxVelocity: 2.0,
			},
			{
				Name:        "elbow",
				Type:        Revolute,
				Parent:      "upper_arm",
				Child:       "forearm",
				Axis:        [3]float64{0, 1, 0},
				Limits:      &Limits{Lower: -2.5, Upper: 2.5},
				MaxVelocity: 2.5,
			},
			{
				Name:        "wrist_roll",
				Type:        Revolute,
				Parent:      "forearm",
				Child:       "wrist",
				Axis:        [3]float64{1, 0, 0},
				MaxVelocity: 4.0,
			},
			{
				Name:   "tool_mount",
				Type:   Fixed,
				Parent: "wrist",
				Child:  "tool_plate",
			},
		},
		Robots: []Robot{
			{
				Name: "arm",
				Controllers: []Controller{
					{
						Name:   "arm_trajectory",
						Type:   "follow_joint_trajectory",
						Joints: []string{"shoulder", "elbow", "wrist_roll"},
					},
					{
						Name:   "state_broadcaster",
						Type:   "joint_state_broadcaster",
						Joints: []string{"shoulder", "elbow", "wrist_roll"},
					},
				},
			},
		},
	}
}

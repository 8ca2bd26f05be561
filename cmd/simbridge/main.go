package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simbridge/simbridge/internal/action"
	"github.com/simbridge/simbridge/internal/analysis"
	"github.com/simbridge/simbridge/internal/bus"
	"github.com/simbridge/simbridge/internal/config"
	"github.com/simbridge/simbridge/internal/control"
	"github.com/simbridge/simbridge/internal/export"
	"github.com/simbridge/simbridge/internal/manager"
	"github.com/simbridge/simbridge/internal/msg"
	"github.com/simbridge/simbridge/internal/scene"
	"github.com/simbridge/simbridge/internal/sim"
	"github.com/simbridge/simbridge/internal/storage"
	"github.com/simbridge/simbridge/internal/tui"
)

var version = "0.1.0"

var (
	configFile string
	dataDir    string
	preset     string
	watchSpec  string
	jointIdx   int
	outFile    string
	plotErrors bool
	robotName  string
	ctrlName   string
	timeout    time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "simbridge",
		Short: "simulated robot control bridge",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "simbridge.yaml", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "data directory (overrides config)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the bridge",
		RunE:  runBridge,
	}
	runCmd.Flags().StringVar(&watchSpec, "watch", "", "open live view for robot/controller")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "configuration helpers",
	}
	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ok := config.Preset(preset)
			if !ok {
				return fmt.Errorf("unknown preset %q", preset)
			}
			if err := config.Save(configFile, cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", configFile)
			return nil
		},
	}
	configInitCmd.Flags().StringVar(&preset, "preset", "local", "config preset")
	configCmd.AddCommand(configInitCmd)

	sceneCmd := &cobra.Command{
		Use:   "scene",
		Short: "scene helpers",
	}
	sceneInitCmd := &cobra.Command{
		Use:   "init [file]",
		Short: "write the demo scene",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "scene.json"
			if len(args) > 0 {
				path = args[0]
			}
			if err := scene.Save(path, scene.Demo()); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	sceneValidateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "validate a scene file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scene.Load(args[0])
			if err != nil {
				return err
			}
			if err := sc.Validate(); err != nil {
				return err
			}
			fmt.Printf("%s: %d bodies, %d joints, %d robots\n", args[0], len(sc.Bodies), len(sc.Joints), len(sc.Robots))
			return nil
		},
	}
	sceneShowCmd := &cobra.Command{
		Use:   "show [file]",
		Short: "print a scene's joints and controllers",
		Args:  cobra.ExactArgs(1),
		RunE:  showScene,
	}
	sceneCmd.AddCommand(sceneInitCmd, sceneValidateCmd, sceneShowCmd)

	goalsCmd := &cobra.Command{
		Use:   "goals",
		Short: "stored goal executions",
	}
	goalsListCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored goals",
		RunE:  listGoals,
	}
	goalsShowCmd := &cobra.Command{
		Use:   "show [goal_id]",
		Short: "show one stored goal",
		Args:  cobra.ExactArgs(1),
		RunE:  showGoal,
	}
	goalsCmd.AddCommand(goalsListCmd, goalsShowCmd)

	analyzeCmd := &cobra.Command{
		Use:   "analyze [goal_id]",
		Short: "tracking statistics for a stored goal",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeGoal,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [goal_id]",
		Short: "plot a stored goal's trace",
		Args:  cobra.ExactArgs(1),
		RunE:  plotGoal,
	}

	exportCmd := &cobra.Command{
		Use:   "export [goal_id]",
		Short: "export a stored goal's trace to SVG",
		Args:  cobra.ExactArgs(1),
		RunE:  exportGoal,
	}
	exportCmd.Flags().IntVar(&jointIdx, "joint", 0, "joint index to plot")
	exportCmd.Flags().BoolVar(&plotErrors, "errors", false, "plot tracking error for all joints")
	exportCmd.Flags().StringVar(&outFile, "out", "trace.svg", "output file")

	watchCmd := &cobra.Command{
		Use:   "watch [robot] [controller]",
		Short: "live view of a remote controller",
		Args:  cobra.ExactArgs(2),
		RunE:  watchRemote,
	}

	sendCmd := &cobra.Command{
		Use:   "send [goal.json]",
		Short: "send a trajectory goal and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE:  sendGoal,
	}
	sendCmd.Flags().StringVar(&robotName, "robot", "arm", "robot name")
	sendCmd.Flags().StringVar(&ctrlName, "controller", "arm_trajectory", "controller name")
	sendCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "result wait timeout")

	cancelCmd := &cobra.Command{
		Use:   "cancel [goal_id]",
		Short: "cancel an active goal",
		Args:  cobra.ExactArgs(1),
		RunE:  cancelGoal,
	}
	cancelCmd.Flags().StringVar(&robotName, "robot", "arm", "robot name")
	cancelCmd.Flags().StringVar(&ctrlName, "controller", "arm_trajectory", "controller name")
	cancelCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "ack wait timeout")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("simbridge %s\n", version)
		},
	}

	rootCmd.AddCommand(runCmd, configCmd, sceneCmd, goalsCmd, analyzeCmd, plotCmd, exportCmd, watchCmd, sendCmd, cancelCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// storeDir resolves the data directory for read-only commands without
// requiring a config file to exist.
func storeDir() string {
	if dataDir != "" {
		return dataDir
	}
	if cfg, err := config.Load(configFile); err == nil {
		return cfg.DataDir
	}
	return config.DefaultDataDir
}

func openBus(cfg *config.Config) (bus.Bus, error) {
	switch cfg.Transport.Kind {
	case "nats":
		return bus.DialNATS(cfg.Transport.URL)
	default:
		return bus.NewMemory(), nil
	}
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	sc, err := scene.Load(cfg.Scene)
	if err != nil {
		return err
	}
	world, err := sim.NewWorld(sc)
	if err != nil {
		return err
	}

	b, err := openBus(cfg)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer b.Close()

	var store *storage.Store
	if cfg.Record {
		store = storage.New(cfg.DataDir)
		if err := store.Init(); err != nil {
			return err
		}
	}

	deps := manager.Deps{
		World:  world,
		Bus:    b,
		Period: cfg.Period(),
		Store:  store,
		Logger: log,
	}
	managers, buildErrs := manager.Build(sc, manager.NewRegistry(), deps)
	for _, err := range buildErrs {
		log.Errorw("controller skipped", "err", err)
	}
	if len(managers) == 0 {
		return fmt.Errorf("no controller managers built")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runner := sim.NewRunner(world, time.Duration(float64(time.Second)*cfg.Period()), nil, log)
	for _, m := range managers {
		if err := m.Start(); err != nil {
			log.Errorw("manager start", "robot", m.Robot(), "err", err)
		}
		runner.Add(m)
		defer m.Stop()
	}

	if watchSpec != "" {
		robot, controller, err := splitWatchSpec(watchSpec)
		if err != nil {
			return err
		}
		done := make(chan error, 1)
		go func() { done <- runner.Run(ctx) }()
		watchErr := tui.Watch(b, robot, controller)
		cancel()
		<-done
		return watchErr
	}

	err = runner.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

func splitWatchSpec(spec string) (robot, controller string, err error) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == '/' {
			return spec[:i], spec[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("watch spec must be robot/controller, got %q", spec)
}

func showScene(cmd *cobra.Command, args []string) error {
	sc, err := scene.Load(args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOINT\tTYPE\tPARENT\tCHILD\tLIMITS\tMAX VEL")
	for _, j := range sc.Joints {
		limits := "-"
		if j.Limits != nil {
			limits = fmt.Sprintf("[%.2f, %.2f]", j.Limits.Lower, j.Limits.Upper)
		}
		maxVel := "-"
		if j.MaxVelocity > 0 {
			maxVel = fmt.Sprintf("%.2f", j.MaxVelocity)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", j.Name, j.Type, j.Parent, j.Child, limits, maxVel)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, r := range sc.Robots {
		fmt.Printf("\nrobot %s:\n", r.Name)
		for _, c := range r.Controllers {
			fmt.Printf("  %s (%s) joints=%v\n", c.Name, c.Type, c.Joints)
		}
	}
	return nil
}

func listGoals(cmd *cobra.Command, args []string) error {
	st := storage.New(storeDir())
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no stored goals")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GOAL\tCONTROLLER\tSTATUS\tFINISHED\tTICKS")
	for _, run := range runs {
		fmt.Fprintf(w, "%.8s\t%s\t%s\t%s\t%d\n",
			run.ID,
			run.Controller,
			run.Status,
			run.Finished.Format("2006-01-02 15:04:05"),
			run.Ticks,
		)
	}
	return w.Flush()
}

func showGoal(cmd *cobra.Command, args []string) error {
	st := storage.New(storeDir())
	rec, runID, err := st.Find(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("goal: %s\n", rec.ID)
	fmt.Printf("run: %s\n", runID)
	fmt.Printf("controller: %s\n", rec.Controller)
	fmt.Printf("status: %s\n", rec.Status)
	if rec.Text != "" {
		fmt.Printf("text: %s\n", rec.Text)
	}
	fmt.Printf("accepted: %s\n", rec.Accepted.Format(time.RFC3339))
	fmt.Printf("finished: %s\n", rec.Finished.Format(time.RFC3339))
	fmt.Printf("ticks: %d\n", rec.Ticks)
	fmt.Printf("joints: %v\n", rec.JointNames)
	if len(rec.Metrics) > 0 {
		fmt.Println("metrics:")
		for name, val := range rec.Metrics {
			fmt.Printf("  %s: %.6f\n", name, val)
		}
	}
	return nil
}

func analyzeGoal(cmd *cobra.Command, args []string) error {
	st := storage.New(storeDir())
	rec, runID, err := st.Find(args[0])
	if err != nil {
		return err
	}
	tr, err := st.LoadTrace(runID)
	if err != nil {
		return err
	}
	reports, err := analysis.Analyze(tr)
	if err != nil {
		return err
	}

	fmt.Printf("goal %.8s  %s  %d samples\n\n", rec.ID, rec.Status, tr.Len())
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOINT\tRMS ERROR\tMAX ERROR\tDOMINANT")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.2f Hz\n", r.Name, r.RMSError, r.MaxError, r.DominantHz)
	}
	return w.Flush()
}

func plotGoal(cmd *cobra.Command, args []string) error {
	st := storage.New(storeDir())
	rec, runID, err := st.Find(args[0])
	if err != nil {
		return err
	}
	tr, err := st.LoadTrace(runID)
	if err != nil {
		return err
	}

	fmt.Printf("goal %.8s  %s  %d samples\n\n", rec.ID, rec.Status, tr.Len())
	for j, name := range tr.JointNames {
		desired := make([]float64, tr.Len())
		actual := make([]float64, tr.Len())
		for i := range tr.Times {
			desired[i] = tr.Desired[i][j]
			actual[i] = tr.Actual[i][j]
		}
		graph := asciigraph.PlotMany([][]float64{desired, actual},
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(name+" (desired, actual)"),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func exportGoal(cmd *cobra.Command, args []string) error {
	st := storage.New(storeDir())
	_, runID, err := st.Find(args[0])
	if err != nil {
		return err
	}
	tr, err := st.LoadTrace(runID)
	if err != nil {
		return err
	}

	var svg string
	if plotErrors {
		svg, err = export.ErrorToSVG(tr, 800, 400)
	} else {
		svg, err = export.TraceToSVG(tr, jointIdx, 800, 400)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(outFile, []byte(svg), 0644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", outFile)
	return nil
}

func watchRemote(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Transport.Kind != "nats" {
		return fmt.Errorf("watch needs a networked transport; transport is %q", cfg.Transport.Kind)
	}
	b, err := bus.DialNATS(cfg.Transport.URL)
	if err != nil {
		return err
	}
	defer b.Close()
	return tui.Watch(b, args[0], args[1])
}

func actionNS(robot, controller string) string {
	return robot + "/" + controller + "/" + control.TypeTrajectory
}

func sendGoal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Transport.Kind != "nats" {
		return fmt.Errorf("send needs a networked transport; transport is %q", cfg.Transport.Kind)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var goal msg.TrajectoryGoal
	if err := json.Unmarshal(data, &goal); err != nil {
		return fmt.Errorf("parse goal: %w", err)
	}

	b, err := bus.DialNATS(cfg.Transport.URL)
	if err != nil {
		return err
	}
	defer b.Close()

	ns := actionNS(robotName, ctrlName)
	results := make(chan msg.Result, 1)
	err = b.Subscribe(action.Topic(ns, action.ResultTopic), msg.TypeResult, func(data []byte) {
		var res msg.Result
		if json.Unmarshal(data, &res) == nil {
			select {
			case results <- res:
			default:
			}
		}
	})
	if err != nil {
		return err
	}

	if err := b.Advertise(action.Topic(ns, action.GoalTopic), msg.TypeTrajectoryGoal); err != nil {
		return err
	}
	if err := b.Publish(action.Topic(ns, action.GoalTopic), goal); err != nil {
		return err
	}
	fmt.Printf("sent goal to %s\n", ns)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case res := <-results:
			if goal.ID != "" && res.GoalID != goal.ID {
				continue
			}
			fmt.Printf("result: %s %s\n", res.Status, res.Text)
			return nil
		case <-deadline.C:
			return fmt.Errorf("no result within %s", timeout)
		}
	}
}

func cancelGoal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Transport.Kind != "nats" {
		return fmt.Errorf("cancel needs a networked transport; transport is %q", cfg.Transport.Kind)
	}
	b, err := bus.DialNATS(cfg.Transport.URL)
	if err != nil {
		return err
	}
	defer b.Close()

	ns := actionNS(robotName, ctrlName)
	acks := make(chan msg.CancelAck, 1)
	err = b.Subscribe(action.Topic(ns, action.CancelAckTopic), msg.TypeCancelAck, func(data []byte) {
		var ack msg.CancelAck
		if json.Unmarshal(data, &ack) == nil {
			select {
			case acks <- ack:
			default:
			}
		}
	})
	if err != nil {
		return err
	}

	if err := b.Advertise(action.Topic(ns, action.CancelTopic), msg.TypeCancelRequest); err != nil {
		return err
	}
	if err := b.Publish(action.Topic(ns, action.CancelTopic), msg.CancelRequest{GoalID: args[0]}); err != nil {
		return err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case ack := <-acks:
		if ack.Accepted {
			fmt.Printf("cancel accepted for %s\n", ack.GoalID)
		} else {
			fmt.Printf("cancel rejected: %s\n", ack.Reason)
		}
		return nil
	case <-deadline.C:
		return fmt.Errorf("no ack within %s", timeout)
	}
}

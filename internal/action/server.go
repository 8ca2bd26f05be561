package action

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/simbridge/simbridge/internal/bus"
	"github.com/simbridge/simbridge/internal/msg"
)

// Topic suffixes under an action namespace.
const (
	GoalTopic      = "goal"
	CancelTopic    = "cancel"
	FeedbackTopic  = "feedback"
	ResultTopic    = "result"
	StatusTopic    = "status"
	CancelAckTopic = "cancel_ack"
)

// Topic joins an action namespace and a suffix.
func Topic(namespace, suffix string) string {
	return namespace + "/" + suffix
}

// Server is the action-protocol endpoint for one controller: it owns
// the goal/cancel subscriptions and the feedback/result/status
// advertisements under a namespace. Goal and cancel handlers run on the
// transport's goroutine; the controller latches them into its mailbox.
type Server struct {
	bus bus.Bus
	ns  string
	log *zap.SugaredLogger

	onGoal   func(msg.TrajectoryGoal)
	onCancel func(msg.CancelRequest)

	mu      sync.Mutex
	started bool
}

func NewServer(b bus.Bus, namespace string, log *zap.SugaredLogger) *Server {
	return &Server{bus: b, ns: namespace, log: log}
}

// OnGoalReceived registers the goal handler. Must be called before Start.
func (s *Server) OnGoalReceived(h func(msg.TrajectoryGoal)) { s.onGoal = h }

// OnCancelReceived registers the cancel handler. Must be called before Start.
func (s *Server) OnCancelReceived(h func(msg.CancelRequest)) { s.onCancel = h }

// Start advertises the outgoing topics and subscribes to goal/cancel.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	outgoing := []struct{ topic, msgType string }{
		{Topic(s.ns, FeedbackTopic), msg.TypeFeedback},
		{Topic(s.ns, ResultTopic), msg.TypeResult},
		{Topic(s.ns, StatusTopic), msg.TypeStatusUpdate},
		{Topic(s.ns, CancelAckTopic), msg.TypeCancelAck},
	}
	for _, t := range outgoing {
		if err := s.bus.Advertise(t.topic, t.msgType); err != nil {
			return err
		}
	}

	err := s.bus.Subscribe(Topic(s.ns, GoalTopic), msg.TypeTrajectoryGoal, func(data []byte) {
		var g msg.TrajectoryGoal
		if err := json.Unmarshal(data, &g); err != nil {
			s.log.Warnw("malformed goal message", "ns", s.ns, "err", err)
			return
		}
		if s.onGoal != nil {
			s.onGoal(g)
		}
	})
	if err != nil {
		return err
	}

	err = s.bus.Subscribe(Topic(s.ns, CancelTopic), msg.TypeCancelRequest, func(data []byte) {
		var c msg.CancelRequest
		if err := json.Unmarshal(data, &c); err != nil {
			s.log.Warnw("malformed cancel message", "ns", s.ns, "err", err)
			return
		}
		if s.onCancel != nil {
			s.onCancel(c)
		}
	})
	if err != nil {
		return err
	}

	s.started = true
	return nil
}

// Close tears the endpoint down. Idempotent; closing a never-started or
// already-closed server is a no-op.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	for _, suffix := range []string{GoalTopic, CancelTopic} {
		if err := s.bus.Unsubscribe(Topic(s.ns, suffix)); err != nil {
			s.log.Warnw("unsubscribe failed", "topic", Topic(s.ns, suffix), "err", err)
		}
	}
	for _, suffix := range []string{FeedbackTopic, ResultTopic, StatusTopic, CancelAckTopic} {
		if err := s.bus.Unadvertise(Topic(s.ns, suffix)); err != nil {
			s.log.Warnw("unadvertise failed", "topic", Topic(s.ns, suffix), "err", err)
		}
	}
	s.started = false
	return nil
}

func (s *Server) PublishFeedback(fb msg.Feedback) error {
	return s.bus.Publish(Topic(s.ns, FeedbackTopic), fb)
}

func (s *Server) PublishResult(res msg.Result) error {
	return s.bus.Publish(Topic(s.ns, ResultTopic), res)
}

func (s *Server) PublishStatus(st msg.StatusUpdate) error {
	return s.bus.Publish(Topic(s.ns, StatusTopic), st)
}

func (s *Server) PublishCancelAck(ack msg.CancelAck) error {
	return s.bus.Publish(Topic(s.ns, CancelAckTopic), ack)
}

// Package tui provides a live terminal view of a running controller,
// fed by the same bus topics external clients consume.
package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/simbridge/simbridge/internal/action"
	"github.com/simbridge/simbridge/internal/bus"
	"github.com/simbridge/simbridge/internal/control"
	"github.com/simbridge/simbridge/internal/msg"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
)

const historyLen = 120

type stateMsg msg.ControllerState
type statusMsg msg.StatusUpdate
type resultMsg msg.Result

type model struct {
	robot      string
	controller string

	state  *msg.ControllerState
	status *msg.StatusUpdate
	result *msg.Result

	cursor  int
	history []float64

	events chan tea.Msg
	width  int
	height int
}

func newModel(robot, controller string, events chan tea.Msg) model {
	return model{
		robot:      robot,
		controller: controller,
		history:    make([]float64, 0, historyLen),
		events:     events,
		width:      80,
		height:     24,
	}
}

func (m model) wait() tea.Cmd {
	return func() tea.Msg { return <-m.events }
}

func (m model) Init() tea.Cmd { return m.wait() }

func (m model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		switch message.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
				m.history = m.history[:0]
			}
		case "down", "j":
			if m.state != nil && m.cursor < len(m.state.JointNames)-1 {
				m.cursor++
				m.history = m.history[:0]
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = message.Width
		m.height = message.Height
		return m, nil
	case stateMsg:
		st := msg.ControllerState(message)
		m.state = &st
		if m.cursor < len(st.Error.Positions) {
			m.history = append(m.history, st.Error.Positions[m.cursor])
			if len(m.history) > historyLen {
				m.history = m.history[1:]
			}
		}
		return m, m.wait()
	case statusMsg:
		su := msg.StatusUpdate(message)
		m.status = &su
		return m, m.wait()
	case resultMsg:
		res := msg.Result(message)
		m.result = &res
		return m, m.wait()
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString("\n   " + cyan.Render(m.robot+"/"+m.controller) + "  " + m.statusLine() + "\n")
	b.WriteString(dimmer.Render("   "+strings.Repeat("─", 56)) + "\n\n")

	if m.state == nil {
		b.WriteString(dim.Render("   waiting for controller state...") + "\n")
	} else {
		b.WriteString("   " + dim.Render(fmt.Sprintf("%-14s %10s %10s %10s", "joint", "desired", "actual", "error")) + "\n")
		for i, name := range m.state.JointNames {
			row := fmt.Sprintf("%-14s %10.4f %10.4f %10.4f",
				name,
				at(m.state.Desired.Positions, i),
				at(m.state.Actual.Positions, i),
				at(m.state.Error.Positions, i))
			if i == m.cursor {
				b.WriteString("   " + cyan.Render("▸ ") + white.Render(row) + "\n")
			} else {
				b.WriteString("     " + dim.Render(row) + "\n")
			}
		}
		b.WriteString("\n   " + dim.Render(fmt.Sprintf("t=%.2fs", m.state.TimeFromStart)) + "\n")
	}

	if len(m.history) > 1 {
		gw := m.width - 14
		if gw > 60 {
			gw = 60
		}
		graph := asciigraph.Plot(m.history,
			asciigraph.Height(6),
			asciigraph.Width(gw),
			asciigraph.Precision(4))
		b.WriteString("\n" + magenta.Render(indent(graph, "   ")) + "\n")
	}

	if m.result != nil {
		b.WriteString("\n   " + m.renderResult() + "\n")
	}

	b.WriteString("\n" + dim.Render("   ↑↓ joint   q quit") + "\n")
	return b.String()
}

func (m model) statusLine() string {
	if m.status == nil {
		return dimmer.Render("○ idle")
	}
	switch m.status.Status {
	case msg.StatusActive:
		return green.Render("● " + m.status.Status.String())
	case msg.StatusSucceeded:
		return green.Render("○ " + m.status.Status.String())
	case msg.StatusAborted:
		return red.Render("○ " + m.status.Status.String())
	default:
		return yellow.Render("○ " + m.status.Status.String())
	}
}

func (m model) renderResult() string {
	style := green
	switch m.result.Status {
	case msg.StatusAborted:
		style = red
	case msg.StatusSucceeded:
	default:
		style = yellow
	}
	return style.Render(fmt.Sprintf("%s  %s", m.result.Status, m.result.Text))
}

func at(xs []float64, i int) float64 {
	if i < len(xs) {
		return xs[i]
	}
	return 0
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}

// Watch subscribes to a controller's state, status and result topics
// and blocks until the user quits.
func Watch(b bus.Bus, robot, controller string) error {
	events := make(chan tea.Msg, 64)
	ns := robot + "/" + controller + "/" + control.TypeTrajectory

	subs := []struct {
		topic   string
		msgType string
		decode  func([]byte) (tea.Msg, bool)
	}{
		{robot + "/" + controller + "/state", msg.TypeControllerState, func(data []byte) (tea.Msg, bool) {
			var st msg.ControllerState
			if err := json.Unmarshal(data, &st); err != nil {
				return nil, false
			}
			return stateMsg(st), true
		}},
		{action.Topic(ns, action.StatusTopic), msg.TypeStatusUpdate, func(data []byte) (tea.Msg, bool) {
			var su msg.StatusUpdate
			if err := json.Unmarshal(data, &su); err != nil {
				return nil, false
			}
			return statusMsg(su), true
		}},
		{action.Topic(ns, action.ResultTopic), msg.TypeResult, func(data []byte) (tea.Msg, bool) {
			var res msg.Result
			if err := json.Unmarshal(data, &res); err != nil {
				return nil, false
			}
			return resultMsg(res), true
		}},
	}
	for _, s := range subs {
		decode := s.decode
		err := b.Subscribe(s.topic, s.msgType, func(data []byte) {
			if ev, ok := decode(data); ok {
				select {
				case events <- ev:
				default:
				}
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", s.topic, err)
		}
		defer b.Unsubscribe(s.topic)
	}

	p := tea.NewProgram(newModel(robot, controller, events), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

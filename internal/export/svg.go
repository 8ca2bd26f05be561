// Package export renders recorded goal traces to SVG for offline
// inspection of tracking quality.
package export

import (
	"fmt"
	"os"
	"strings"

	"github.com/simbridge/simbridge/internal/storage"
)

const (
	colorDesired = "#00ff00"
	colorActual  = "#00aaff"
	colorError   = "#ff5555"
)

type series struct {
	label string
	color string
	ys    []float64
}

// TraceToSVG plots desired and actual positions for one joint of a
// recorded trace, with time on the horizontal axis.
func TraceToSVG(tr *storage.Trace, joint int, width, height int) (string, error) {
	if tr == nil || tr.Len() < 2 {
		return "", fmt.Errorf("trace too short to plot")
	}
	if joint < 0 || joint >= len(tr.JointNames) {
		return "", fmt.Errorf("joint index %d out of range (%d joints)", joint, len(tr.JointNames))
	}

	name := tr.JointNames[joint]
	all := []series{
		{label: name + " desired", color: colorDesired, ys: column(tr.Desired, joint)},
		{label: name + " actual", color: colorActual, ys: column(tr.Actual, joint)},
	}
	return render(tr.Times, all, width, height), nil
}

// ErrorToSVG plots the tracking error of every joint on shared axes.
func ErrorToSVG(tr *storage.Trace, width, height int) (string, error) {
	if tr == nil || tr.Len() < 2 {
		return "", fmt.Errorf("trace too short to plot")
	}
	var all []series
	for j, name := range tr.JointNames {
		all = append(all, series{
			label: name + " error",
			color: colorError,
			ys:    column(tr.Error, j),
		})
	}
	return render(tr.Times, all, width, height), nil
}

// WriteSVG renders a single joint's desired/actual plot to a file.
func WriteSVG(path string, tr *storage.Trace, joint int, width, height int) error {
	svg, err := TraceToSVG(tr, joint, width, height)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(svg), 0644)
}

func column(rows [][]float64, j int) []float64 {
	out := make([]float64, 0, len(rows))
	for _, row := range rows {
		if j < len(row) {
			out = append(out, row[j])
		}
	}
	return out
}

func render(xs []float64, all []series, width, height int) string {
	minX, maxX := xs[0], xs[0]
	for _, x := range xs {
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
	}
	minY, maxY := all[0].ys[0], all[0].ys[0]
	for _, s := range all {
		for _, y := range s.ys {
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minY -= rangeY * 0.1
	maxY += rangeY * 0.1
	rangeY = maxY - minY

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height))

	for _, s := range all {
		sb.WriteString(fmt.Sprintf(`<path fill="none" stroke="%s" stroke-width="1.5" d="M`, s.color))
		n := min(len(xs), len(s.ys))
		for i := 0; i < n; i++ {
			x := (xs[i] - minX) / rangeX * float64(width)
			y := float64(height) - (s.ys[i]-minY)/rangeY*float64(height)
			if i == 0 {
				sb.WriteString(fmt.Sprintf("%.1f,%.1f", x, y))
			} else {
				sb.WriteString(fmt.Sprintf(" L%.1f,%.1f", x, y))
			}
		}
		sb.WriteString("\"/>\n")
	}

	// Legend
	for i, s := range all {
		y := 16 + i*16
		sb.WriteString(fmt.Sprintf(`<text x="8" y="%d" fill="%s" font-family="monospace" font-size="12">%s</text>
`, y, s.color, s.label))
	}

	sb.WriteString("</svg>")
	return sb.String()
}

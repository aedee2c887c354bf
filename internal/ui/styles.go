// Package ui renders activities for the terminal.
package ui

import (
	"fmt"

	"github.com/alfredjeanlab/spine/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent  = 74  // blue
	colorMuted   = 245 // medium gray
	colorHigh    = 214 // orange
	colorCrit    = 203 // red
	colorSuccess = 114 // green
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderPriority colors a priority by urgency.
func RenderPriority(p model.Priority) string {
	switch p {
	case model.PriorityCritical:
		return paint(colorCrit, string(p))
	case model.PriorityHigh:
		return paint(colorHigh, string(p))
	case model.PriorityLow:
		return paint(colorMuted, string(p))
	}
	return string(p)
}

// RenderAction colors a stream delta action.
func RenderAction(a model.DeltaAction) string {
	switch a {
	case model.ActionCreated:
		return paint(colorSuccess, string(a))
	case model.ActionUpdated:
		return paint(colorAccent, string(a))
	}
	return paint(colorMuted, string(a))
}

// UnreadMarker is a dot for unread activities and a space otherwise.
func UnreadMarker(read bool) string {
	if read {
		return " "
	}
	return paint(colorAccent, "●")
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// RenderCommand colors a command name in help output.
func RenderCommand(s string) string { return paint(colorSuccess, s) }

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lalithlochan/beacon/internal/client"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	badgeStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

	severityColors = map[string]lipgloss.Color{
		"info":    lipgloss.Color("39"),
		"success": lipgloss.Color("42"),
		"warning": lipgloss.Color("214"),
		"error":   lipgloss.Color("196"),
	}
)

func badge(severity string) string {
	color, ok := severityColors[severity]
	if !ok {
		color = severityColors["info"]
		severity = "info"
	}
	return badgeStyle.Foreground(color).Render(strings.ToUpper(severity))
}

// renderToast formats a freshly received notification.
func renderToast(n client.Notification) string {
	line := lipgloss.JoinHorizontal(lipgloss.Top,
		badge(n.Type),
		" ",
		titleStyle.Render(n.Title),
	)
	if n.Message == "" {
		return line
	}
	return lipgloss.JoinVertical(lipgloss.Left, line, "  "+n.Message)
}

// renderItem formats one history entry; unread entries get a marker.
func renderItem(n client.Notification) string {
	marker := " "
	if !n.Read {
		marker = "•"
	}
	return fmt.Sprintf("%s %s %s %s", marker, badge(n.Type), titleStyle.Render(n.Title), dimStyle.Render(n.Timestamp))
}

func renderStatus(unread, total int) string {
	return dimStyle.Render(fmt.Sprintf("%d unread of %d", unread, total))
}

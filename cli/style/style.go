package style

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	Primary = lipgloss.Color("#7C3AED")
	Blue    = lipgloss.Color("#3B82F6")
	Green   = lipgloss.Color("#10B981")
	Red     = lipgloss.Color("#EF4444")
	Yellow  = lipgloss.Color("#F59E0B")
	Cyan    = lipgloss.Color("#06B6D4")
	Dim     = lipgloss.Color("#6B7280")
	White   = lipgloss.Color("#F9FAFB")

	Subtitle = lipgloss.NewStyle().Foreground(Dim).Italic(true)
	Bold     = lipgloss.NewStyle().Bold(true).Foreground(White)
	DimText  = lipgloss.NewStyle().Foreground(Dim)

	Healthy   = lipgloss.NewStyle().Foreground(Green).Bold(true)
	Unhealthy = lipgloss.NewStyle().Foreground(Red).Bold(true)
	Warning   = lipgloss.NewStyle().Foreground(Yellow)

	DotHealthy   = Healthy.Render("●")
	DotUnhealthy = Unhealthy.Render("●")
	DotDim       = DimText.Render("●")

	Banner = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		MarginBottom(1)

	StepRunning = lipgloss.NewStyle().Foreground(Yellow).Bold(true)
	StepDone    = lipgloss.NewStyle().Foreground(Green)
	StepFailed  = lipgloss.NewStyle().Foreground(Red).Bold(true)

	TableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(Dim).
			PaddingRight(2)

	CardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#374151")).
			Padding(1, 2).
			MarginBottom(1)

	ErrorBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Red).
			Foreground(Red).
			Padding(0, 1).
			MarginTop(1)

	SuccessBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Green).
			Foreground(Green).
			Padding(0, 1).
			MarginTop(1)

	Key = lipgloss.NewStyle().Foreground(Dim).Width(14)
	Val = lipgloss.NewStyle().Foreground(White)
)

// Slot renders a slot tag in its blue/green colour.
func Slot(id string) string {
	c := Blue
	if strings.TrimSpace(id) == "B" {
		c = Green
	}
	return lipgloss.NewStyle().Foreground(c).Bold(true).Render(id)
}

// Outcome colours a deployment outcome.
func Outcome(o string) string {
	switch strings.TrimSpace(o) {
	case "success":
		return Healthy.Render(o)
	case "aborted":
		return Warning.Render(o)
	default:
		return Unhealthy.Render(o)
	}
}

func HealthDot(known bool) string {
	if known {
		return DotHealthy
	}
	return DotDim
}

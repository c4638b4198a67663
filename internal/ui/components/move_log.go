package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	confirmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("42")).
			Padding(0, 1)

	undoneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(0, 1)

	logHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	subTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	placeholderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Italic(true).
				Padding(0, 1)
)

// MoveResult is one finished board move.
type MoveResult struct {
	Title string
	From  string
	To    string
	OK    bool
}

func (r MoveResult) line() string {
	return fmt.Sprintf("%s: %s → %s", r.Title, r.From, r.To)
}

// MoveLog lists recent confirmed and undone moves, oldest first.
type MoveLog struct {
	Confirmed []MoveResult
	Undone    []MoveResult
	Width     int
	Title     string
}

func NewMoveLog(width int) *MoveLog {
	return &MoveLog{
		Confirmed: make([]MoveResult, 0),
		Undone:    make([]MoveResult, 0),
		Width:     width,
		Title:     "Moves",
	}
}

// Add records res, keeping at most limit entries per list. A limit of zero
// keeps everything.
func (l *MoveLog) Add(res MoveResult, limit int) {
	if res.OK {
		l.Confirmed = appendWithLimit(l.Confirmed, res, limit)
	} else {
		l.Undone = appendWithLimit(l.Undone, res, limit)
	}
}

func appendWithLimit(s []MoveResult, res MoveResult, limit int) []MoveResult {
	s = append(s, res)
	if limit > 0 && len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}

func (l *MoveLog) View() string {
	var boxes []string
	if len(l.Confirmed) > 0 {
		boxes = append(boxes, l.renderBox("Confirmed", l.Confirmed, confirmedStyle, "✓"))
	}
	if len(l.Undone) > 0 {
		boxes = append(boxes, l.renderBox("Undone", l.Undone, undoneStyle, "✗"))
	}

	content := placeholderStyle.Render("No moves yet")
	if len(boxes) > 0 {
		content = strings.Join(boxes, "\n")
	}
	if l.Title == "" {
		return content
	}
	return logHeaderStyle.Render(l.Title) + "\n" + content
}

func (l *MoveLog) renderBox(title string, moves []MoveResult, style lipgloss.Style, icon string) string {
	subTitle := subTitleStyle.Foreground(style.GetForeground()).Render(title)

	// Width covers padding but not the border.
	boxWidth := max(l.Width-style.GetHorizontalBorderSize(), 0)
	// Two columns go to the icon and its space.
	textWidth := max(l.Width-style.GetHorizontalFrameSize()-2, 0)

	var lines []string
	for _, m := range moves {
		wrapped := lipgloss.NewStyle().Width(textWidth).Render(m.line())
		for i, line := range strings.Split(wrapped, "\n") {
			if i == 0 {
				lines = append(lines, fmt.Sprintf("%s %s", icon, line))
			} else {
				lines = append(lines, "  "+line)
			}
		}
	}

	return style.Width(boxWidth).Render(subTitle + "\n" + strings.Join(lines, "\n"))
}

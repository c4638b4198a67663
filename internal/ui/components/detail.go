package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/nick-dorsch/trellis/pkg/models"
)

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	bodyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	scrollbarTrackStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("236"))

	scrollbarHandleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("241"))
)

// Detail shows the selected task in a scrollable pane.
type Detail struct {
	viewport viewport.Model
	content  string
	ready    bool
}

func NewDetail(width, height int) *Detail {
	return &Detail{viewport: viewport.New(width, height)}
}

func (d *Detail) SetSize(width, height int) {
	vpWidth := width
	if width > 0 {
		vpWidth = width - 1
	}
	if !d.ready {
		d.viewport = viewport.New(vpWidth, height)
		d.ready = true
	} else {
		d.viewport.Width = vpWidth
		d.viewport.Height = height
	}
	d.render()
}

// SetTask shows t, or a placeholder when t is nil.
func (d *Detail) SetTask(t *models.Task, blocked bool) {
	if t == nil {
		d.content = "No task selected"
	} else {
		d.content = RenderTask(t, blocked)
	}
	d.render()
	d.viewport.GotoTop()
}

func (d *Detail) render() {
	content := d.content
	if w := d.viewport.Width; w > 0 {
		content = bodyStyle.Width(w).Render(content)
	}
	d.viewport.SetContent(content)
}

func (d *Detail) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	d.viewport, cmd = d.viewport.Update(msg)
	return cmd
}

func (d *Detail) View() string {
	if !d.ready {
		return ""
	}
	if d.viewport.TotalLineCount() <= d.viewport.Height {
		return d.viewport.View()
	}

	h := d.viewport.Height
	handle := int(float64(h-1) * d.viewport.ScrollPercent())

	var sb strings.Builder
	for i := 0; i < h; i++ {
		if i == handle {
			sb.WriteString(scrollbarHandleStyle.Render("┃"))
		} else {
			sb.WriteString(scrollbarTrackStyle.Render("│"))
		}
		if i < h-1 {
			sb.WriteString("\n")
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, d.viewport.View(), sb.String())
}

// RenderTask formats the fields of t shown in the detail pane.
func RenderTask(t *models.Task, blocked bool) string {
	var sb strings.Builder
	sb.WriteString(t.Title + "\n")
	field := func(label, value string) {
		if value == "" {
			value = "-"
		}
		sb.WriteString(labelStyle.Render(label+": ") + value + "\n")
	}
	field("Status", string(t.Status))
	field("Assignee", models.Deref(t.Assignee))
	field("Feature", models.Deref(t.FeatureID))
	field("Module", models.Deref(t.ModuleID))
	if t.DueDate != nil {
		field("Due", t.DueDate.Format("2006-01-02"))
	}
	field("Logged", formatSeconds(t.LoggedSeconds()))
	field("Comments", fmt.Sprint(t.CommentsCount))
	if ids := t.BlockedBy(); len(ids) > 0 {
		field("Blocked by", strings.Join(ids, ", "))
	}
	if blocked {
		sb.WriteString(warnStyle.Render("Blocked by an unfinished dependency") + "\n")
	}
	if t.HasBeenReproved {
		sb.WriteString(warnStyle.Render("Reproved in QA") + "\n")
	}
	for _, l := range t.Links {
		sb.WriteString(labelStyle.Render("Link: ") + l.URL + "\n")
	}
	if t.Description != "" {
		sb.WriteString("\n" + t.Description + "\n")
	}
	return sb.String()
}

func formatSeconds(s int64) string {
	if s == 0 {
		return ""
	}
	return fmt.Sprintf("%dh %02dm", s/3600, (s%3600)/60)
}

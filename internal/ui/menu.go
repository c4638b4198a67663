// Package ui holds the launcher shown when trellis runs without a command,
// and the components shared with the board.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	logoStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	groupStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Bold(true).MarginTop(1)
	itemStyle         = lipgloss.NewStyle().PaddingLeft(2)
	selectedItemStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("86")).Bold(true)
	descStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	hintStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1)
)

const logo = `
 ▀█▀ █▀█ █▀▀ █   █   █ █▀▀
  █  █▀▄ █▀▀ █   █   █ ▀▀█
  ▀  ▀ ▀ ▀▀▀ ▀▀▀ ▀▀▀ ▀ ▀▀▀
`

// MenuItem is a command offered by the launcher. Items sharing a Group are
// listed under one heading.
type MenuItem struct {
	Name        string
	Description string
	Group       string
}

var defaultItems = []MenuItem{
	{"board", "interactive task board", "Work"},
	{"status", "task and feature counts", "Work"},
	{"list-tasks", "tasks in the current project", "Work"},
	{"list-features", "features and their status", "Work"},
	{"cycles", "report dependency cycles", "Work"},
	{"web", "start the HTTP API", "Serve"},
	{"mcp", "serve tools over stdio", "Serve"},
	{"init", "create the database", "Setup"},
}

type menuKeys struct {
	Up     key.Binding
	Down   key.Binding
	Select key.Binding
	Quit   key.Binding
}

var keys = menuKeys{
	Up:     key.NewBinding(key.WithKeys("up", "k")),
	Down:   key.NewBinding(key.WithKeys("down", "j")),
	Select: key.NewBinding(key.WithKeys("enter")),
	Quit:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c")),
}

type MenuModel struct {
	choices  []MenuItem
	cursor   int
	selected string
	quitting bool
}

func NewMenuModel() MenuModel {
	return MenuModel{choices: defaultItems}
}

func (m MenuModel) Init() tea.Cmd {
	return nil
}

func (m MenuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(km, keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(km, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(km, keys.Down):
		if m.cursor < len(m.choices)-1 {
			m.cursor++
		}
	case key.Matches(km, keys.Select):
		m.selected = m.choices[m.cursor].Name
		return m, tea.Quit
	default:
		// 1-9 pick an entry directly.
		if s := km.String(); len(s) == 1 && s[0] >= '1' && s[0] <= '9' {
			if i := int(s[0] - '1'); i < len(m.choices) {
				m.cursor = i
				m.selected = m.choices[i].Name
				return m, tea.Quit
			}
		}
	}
	return m, nil
}

func (m MenuModel) View() string {
	if m.quitting || m.selected != "" {
		return ""
	}

	var s strings.Builder
	s.WriteString(logoStyle.Render(logo))

	group := ""
	for i, choice := range m.choices {
		if choice.Group != group {
			group = choice.Group
			s.WriteString(groupStyle.Render(group) + "\n")
		}
		line := fmt.Sprintf("%d %-14s", i+1, choice.Name)
		if m.cursor == i {
			s.WriteString(selectedItemStyle.Render("> " + line))
		} else {
			s.WriteString(itemStyle.Render("  " + line))
		}
		s.WriteString(descStyle.Render(choice.Description) + "\n")
	}

	s.WriteString(hintStyle.Render("j/k move · enter or 1-9 select · q quit") + "\n")
	return s.String()
}

// Selected is the chosen command name, or "" while nothing is chosen.
func (m MenuModel) Selected() string {
	return m.selected
}

// RunMenu shows the launcher and returns the chosen command name, or "" when
// the user quit.
func RunMenu() (string, error) {
	p := tea.NewProgram(NewMenuModel())
	final, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("menu failed: %w", err)
	}
	return final.(MenuModel).Selected(), nil
}

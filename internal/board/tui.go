package board

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	apperr "github.com/nick-dorsch/trellis/internal/errors"
	"github.com/nick-dorsch/trellis/internal/ui/components"
	"github.com/nick-dorsch/trellis/pkg/models"
)

var (
	orbStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Bold(true)

	headerTextStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Padding(1, 2)

	columnTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("252"))

	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	focusedColumnStyle = columnStyle.
				BorderForeground(lipgloss.Color("39"))

	cardStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	selectedCardStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("86"))

	blockedCardStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Italic(true)

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)
)

var columnTitles = map[models.TaskStatus]string{
	models.TaskStatusTodo:       "To Do",
	models.TaskStatusInProgress: "In Progress",
	models.TaskStatusReadyForQA: "Ready for QA",
	models.TaskStatusInTesting:  "In Testing",
	models.TaskStatusApproved:   "Approved",
	models.TaskStatusDone:       "Done",
}

type keyMap struct {
	Left      key.Binding
	Right     key.Binding
	Up        key.Binding
	Down      key.Binding
	MoveLeft  key.Binding
	MoveRight key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.MoveLeft, k.MoveRight, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Left, k.Right, k.Up, k.Down},
		{k.MoveLeft, k.MoveRight},
		{k.Help, k.Quit},
	}
}

var defaultKeys = keyMap{
	Left: key.NewBinding(
		key.WithKeys("h", "left"),
		key.WithHelp("h/←", "previous column"),
	),
	Right: key.NewBinding(
		key.WithKeys("l", "right"),
		key.WithHelp("l/→", "next column"),
	),
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "previous task"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "next task"),
	),
	MoveLeft: key.NewBinding(
		key.WithKeys("[", "shift+left"),
		key.WithHelp("[", "move task left"),
	),
	MoveRight: key.NewBinding(
		key.WithKeys("]", "shift+right"),
		key.WithHelp("]", "move task right"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "toggle help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// Model is the interactive board.
type Model struct {
	ctx    context.Context
	board  *Board
	keys   keyMap
	help   help.Model
	moves  *components.MoveLog
	detail *components.Detail

	col      int
	row      int
	status   string
	width    int
	height   int
	ready    bool
	quitting bool
}

func NewModel(ctx context.Context, b *Board) *Model {
	moves := components.NewMoveLog(0)
	moves.Title = "Recent Moves"
	m := &Model{
		ctx:    ctx,
		board:  b,
		keys:   defaultKeys,
		help:   help.New(),
		moves:  moves,
		detail: components.NewDetail(0, 0),
	}
	m.refreshDetail()
	return m
}

func (m *Model) Init() tea.Cmd {
	return m.pollEvents()
}

func (m *Model) pollEvents() tea.Cmd {
	return func() tea.Msg {
		select {
		case e := <-m.board.Events():
			return e
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.recalculateLayout()
		case key.Matches(msg, m.keys.Left):
			m.focusColumn(m.col - 1)
		case key.Matches(msg, m.keys.Right):
			m.focusColumn(m.col + 1)
		case key.Matches(msg, m.keys.Up):
			m.focusRow(m.row - 1)
		case key.Matches(msg, m.keys.Down):
			m.focusRow(m.row + 1)
		case key.Matches(msg, m.keys.MoveLeft):
			m.moveSelected(-1)
		case key.Matches(msg, m.keys.MoveRight):
			m.moveSelected(1)
		default:
			if cmd := m.detail.Update(msg); cmd != nil {
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.recalculateLayout()

	case Event:
		m.handleEvent(msg)
		cmds = append(cmds, m.pollEvents())
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleEvent(e Event) {
	switch e.Kind {
	case EventConfirmed:
		m.moves.Add(components.MoveResult{Title: e.Title, From: string(e.From), To: string(e.To), OK: true}, 50)
	case EventUndone:
		m.moves.Add(components.MoveResult{Title: e.Title, From: string(e.From), To: string(e.To)}, 50)
		m.status = e.Message
	case EventRejected, EventError:
		m.status = e.Message
	}
	m.focusRow(m.row)
}

func (m *Model) column() []*models.Task {
	return m.board.View().Column(models.TaskStatuses[m.col])
}

// Selected returns the task under the cursor, or nil.
func (m *Model) Selected() *models.Task {
	col := m.column()
	if m.row < 0 || m.row >= len(col) {
		return nil
	}
	return col[m.row]
}

func (m *Model) focusColumn(col int) {
	if col < 0 || col >= len(models.TaskStatuses) {
		return
	}
	m.col = col
	m.focusRow(m.row)
}

func (m *Model) focusRow(row int) {
	n := len(m.column())
	if row >= n {
		row = n - 1
	}
	if row < 0 {
		row = 0
	}
	m.row = row
	m.refreshDetail()
}

func (m *Model) refreshDetail() {
	t := m.Selected()
	m.detail.SetTask(t, t != nil && m.board.View().Blocked.Has(t.ID))
}

// moveSelected moves the selected task dir columns over. The cursor follows
// the task when the move is accepted.
func (m *Model) moveSelected(dir int) {
	t := m.Selected()
	next := m.col + dir
	if t == nil || next < 0 || next >= len(models.TaskStatuses) {
		return
	}

	if _, err := m.board.Move(m.ctx, t.ID, DropTarget{Column: models.TaskStatuses[next]}); err != nil {
		m.status = apperr.UserMessage(err)
		return
	}
	m.status = ""
	m.col = next
	for i, other := range m.column() {
		if other.ID == t.ID {
			m.row = i
		}
	}
	m.refreshDetail()
}

func (m *Model) sidebarWidth() int {
	w := m.width / 4
	if w < 24 {
		w = 24
	}
	return w
}

func (m *Model) recalculateLayout() {
	if !m.ready {
		return
	}
	m.moves.Width = m.sidebarWidth() - 2
	h := m.availableHeight() - lipgloss.Height(m.moves.View()) - 1
	if h < 3 {
		h = 3
	}
	m.detail.SetSize(m.sidebarWidth()-2, h)
}

func (m *Model) availableHeight() int {
	h := m.height - lipgloss.Height(m.renderHeader()) - lipgloss.Height(m.renderHelp())
	if h < 0 {
		h = 0
	}
	return h
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading board..."
	}

	header := m.renderHeader()
	available := m.availableHeight()

	columnsWidth := m.width - m.sidebarWidth()
	colWidth := columnsWidth/len(models.TaskStatuses) - 2
	if colWidth < 8 {
		colWidth = 8
	}

	v := m.board.View()
	cols := make([]string, 0, len(models.TaskStatuses))
	for i, status := range models.TaskStatuses {
		cols = append(cols, m.renderColumn(v, status, i == m.col, colWidth, available-2))
	}
	columns := lipgloss.JoinHorizontal(lipgloss.Top, cols...)

	sidebar := lipgloss.NewStyle().
		Width(m.sidebarWidth()-1).
		Height(available).
		Border(lipgloss.NormalBorder(), false, false, false, true).
		BorderForeground(lipgloss.Color("240")).
		Render(m.moves.View() + "\n" + m.detail.View())

	main := lipgloss.JoinHorizontal(lipgloss.Top, columns, sidebar)
	return header + "\n" + main + "\n" + m.renderHelp()
}

func (m *Model) renderColumn(v *View, status models.TaskStatus, focused bool, width, height int) string {
	tasks := v.Column(status)

	var sb strings.Builder
	sb.WriteString(columnTitleStyle.Render(fmt.Sprintf("%s (%d)", columnTitles[status], len(tasks))))
	for i, t := range tasks {
		sb.WriteString("\n")
		title := truncate(t.Title, width-2)
		style := cardStyle
		prefix := "  "
		if v.Blocked.Has(t.ID) {
			style = blockedCardStyle
			prefix = "⊘ "
		}
		if focused && i == m.row {
			style = selectedCardStyle
		}
		sb.WriteString(style.Render(prefix + title))
	}

	style := columnStyle
	if focused {
		style = focusedColumnStyle
	}
	if height < 1 {
		height = 1
	}
	return style.Width(width).Height(height).Render(sb.String())
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

func (m *Model) renderHeader() string {
	v := m.board.View()
	text := fmt.Sprintf("Trellis Board | Project: %s | Tasks: %d | Snapshot: %d", m.board.projectID, len(v.Tasks), v.Epoch)
	if v.Optimistic {
		text += " | Saving..."
	}

	orb := orbStyle.Render("⬤")
	header := lipgloss.JoinHorizontal(lipgloss.Center, orb, "  ", headerTextStyle.Render(text))
	if m.status != "" {
		header += "\n" + statusStyle.Render(m.status)
	}

	width := m.width - 4
	if width < 0 {
		width = 0
	}
	return headerStyle.Width(width).Render(header)
}

func (m *Model) renderHelp() string {
	return statsStyle.Render(m.help.View(m.keys))
}

// Run shows the board for b until the user quits or ctx is cancelled.
// The board is attached to src for the lifetime of the program.
func Run(ctx context.Context, b *Board, src Source) error {
	unsubscribe := b.Attach(ctx, src)
	defer unsubscribe()

	p := tea.NewProgram(NewModel(ctx, b), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	b.Wait()

	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

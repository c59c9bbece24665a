package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/redapid/server/cmd/redapidctl/internal/client"
)

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "inspect_process":
		content = m.renderInspectProcess()
	case "inspect_program":
		content = m.renderInspectProgram()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m InspectModel) renderInspectProcess() string {
	data, ok := m.data.(client.ProcessDetail)
	if !ok {
		return "Invalid data type for inspect_process"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Process Details"))
	b.WriteString("\n\n")

	state := data.State.String()
	rows := [][2]string{
		{"Process ID", fmt.Sprintf("%d", data.ProcessID)},
		{"State", state},
		{"PID", fmt.Sprintf("%d", data.PID)},
		{"UID", fmt.Sprintf("%d", data.UID)},
		{"GID", fmt.Sprintf("%d", data.GID)},
		{"Executable", data.Executable},
	}
	if data.ExitCode != 0 {
		rows = append(rows, [2]string{"Exit Code", fmt.Sprintf("%d", data.ExitCode)})
	}

	for _, row := range rows {
		label := LabelStyle.Render(row[0] + ":")
		value := row[1]
		if row[0] == "State" {
			value = StateStyle(state).Render(value)
		} else {
			value = ValueStyle.Render(value)
		}
		b.WriteString(fmt.Sprintf("%s %s\n", label, value))
	}

	return BoxStyle.Render(b.String())
}

func (m InspectModel) renderInspectProgram() string {
	data, ok := m.data.(client.ProgramDetail)
	if !ok {
		return "Invalid data type for inspect_program"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Program Details"))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Identifier:"),
		ValueStyle.Render(data.Identifier)))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Directory:"),
		ValueStyle.Render(data.Directory)))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Executable:"),
		ValueStyle.Render(data.Executable)))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Start Condition:"),
		ValueStyle.Render(fmt.Sprintf("%d", data.StartCondition))))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Repeat Mode:"),
		ValueStyle.Render(fmt.Sprintf("%d", data.RepeatMode))))

	if data.LastProcessID != 0 {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Last Process:"),
			ValueStyle.Render(fmt.Sprintf("%d", data.LastProcessID))))
	}

	if data.LastSchedulerError != "" {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("Last Scheduler Error"))
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render(data.LastSchedulerError))
		b.WriteString("\n")
	}

	return BoxStyle.Render(b.String())
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}

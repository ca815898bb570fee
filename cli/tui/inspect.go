package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/forge/cli/reader"
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
	case "inspect_graph":
		content = m.renderInspectGraph()
	case "inspect_pool":
		content = m.renderInspectPool()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m InspectModel) renderInspectGraph() string {
	data, ok := m.data.(*reader.InspectGraphResponse)
	if !ok {
		return "Invalid data type for inspect_graph"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Rule Graph"))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Product:"),
		ValueStyle.Render(data.Product)))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Root:"),
		ValueStyle.Render(data.Root)))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Instances:"),
		ValueStyle.Render(fmt.Sprintf("%d", len(data.Instances)))))

	for _, inst := range data.Instances {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("  • %s -> %s\n", inst.Rule, inst.Output))
		for _, e := range inst.Edges {
			b.WriteString(fmt.Sprintf("      %s => %s\n", e.Key, e.Provider))
		}
	}

	return BoxStyle.Render(b.String())
}

func (m InspectModel) renderInspectPool() string {
	data, ok := m.data.(*reader.InspectPoolResponse)
	if !ok {
		return "Invalid data type for inspect_pool"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Remote Cache Pool"))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Name:"),
		ValueStyle.Render(data.Name)))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Strategy:"),
		ValueStyle.Render(data.Strategy)))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Endpoints:"),
		ValueStyle.Render(fmt.Sprintf("%d", len(data.Endpoints)))))

	if data.StickyTTLMs != nil {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Sticky TTL:"),
			ValueStyle.Render(fmt.Sprintf("%dms", *data.StickyTTLMs))))
	}

	for _, e := range data.Endpoints {
		b.WriteString(fmt.Sprintf("  • %s (%s)\n", e.Name, e.URL))
	}

	for _, w := range data.Warnings {
		b.WriteString(WarningStyle.Render("  ! "+w) + "\n")
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

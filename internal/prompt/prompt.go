// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package prompt asks the developer which device profile to emulate.
// The prompt only appears on an interactive terminal with no profile
// preselected; CI and scripted runs fall through to the default.
package prompt

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/forkbombeu/devrig/internal/avd"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	detailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Select key.Binding
	Quit   key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Select: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
		Quit:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "cancel")),
	}
}

type model struct {
	profiles []avd.DeviceProfile
	cursor   int
	keys     keyMap
	chosen   *avd.DeviceProfile
	aborted  bool
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.aborted = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.profiles)-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keys.Select):
			p := m.profiles[m.cursor]
			m.chosen = &p
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Select a device profile"))
	sb.WriteString("\n\n")
	for i, p := range m.profiles {
		detail := detailStyle.Render(fmt.Sprintf("%dx%d @ %ddpi, %s RAM", p.Width, p.Height, p.Density, p.RAM))
		if i == m.cursor {
			sb.WriteString(fmt.Sprintf("  %s %s  %s\n", cursorStyle.Render("▶"), selectedStyle.Render(p.Name), detail))
		} else {
			sb.WriteString(fmt.Sprintf("    %s  %s\n", p.Name, detail))
		}
	}
	sb.WriteString("\n")
	sb.WriteString(helpStyle.Render("  ↑/↓ move  •  enter select  •  q cancel"))
	sb.WriteString("\n")
	return sb.String()
}

// ErrAborted means the developer cancelled the prompt.
var ErrAborted = fmt.Errorf("device selection cancelled")

// ChooseProfile resolves the device profile for this run. A preselected
// name wins; otherwise an interactive terminal gets the picker and
// everything else gets the default profile.
func ChooseProfile(preselected string) (avd.DeviceProfile, error) {
	if preselected != "" {
		return avd.ProfileByName(preselected)
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) || !isatty.IsTerminal(os.Stdout.Fd()) {
		return avd.DefaultProfile(), nil
	}
	return runPicker()
}

func runPicker() (avd.DeviceProfile, error) {
	m := model{profiles: avd.Catalog(), keys: defaultKeyMap()}
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return avd.DeviceProfile{}, fmt.Errorf("device prompt: %w", err)
	}
	result := final.(model)
	if result.aborted || result.chosen == nil {
		return avd.DeviceProfile{}, ErrAborted
	}
	return *result.chosen, nil
}

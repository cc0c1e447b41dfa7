package tui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	promptStyle = lipgloss.NewStyle().Bold(true)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// ErrPromptAborted is returned when the user cancels the slot prompt.
var ErrPromptAborted = fmt.Errorf("prompt aborted")

type slotModel struct {
	input   textinput.Model
	slot    int
	errText string
	aborted bool
}

func newSlotModel() slotModel {
	input := textinput.New()
	input.Placeholder = "1"
	input.CharLimit = 1
	input.Width = 4
	input.Focus()
	return slotModel{input: input}
}

func (m slotModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m slotModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.aborted = true
			return m, tea.Quit
		case tea.KeyEnter:
			slot, err := strconv.Atoi(m.input.Value())
			if err != nil || slot < 1 || slot > 8 {
				m.errText = "Slot out of range"
				return m, nil
			}
			m.slot = slot
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m slotModel) View() string {
	view := promptStyle.Render("Choose a program slot to upload to:") + " " + m.input.View() + "\n"
	view += helpStyle.Render("Type a slot number from 1 to 8, inclusive") + "\n"
	if m.errText != "" {
		view += errStyle.Render(m.errText) + "\n"
	}
	return view
}

// PromptSlot interactively asks for a program slot.
func PromptSlot() (int, error) {
	final, err := tea.NewProgram(newSlotModel()).Run()
	if err != nil {
		return 0, err
	}
	m := final.(slotModel)
	if m.aborted {
		return 0, ErrPromptAborted
	}
	return m.slot, nil
}

package cli

import (
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fahmaliyi/totpvault/vault"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
	msgStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("57")).Foreground(lipgloss.Color("0"))
	expiringStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

type tickMsg time.Time

type clearMsg struct{}

type watchModel struct {
	vault  *vault.Vault
	names  []string
	bar    progress.Model
	cursor int
	now    time.Time
	msg    string
}

// RunTUI shows live codes for every entry, refreshed each second.
func RunTUI(v *vault.Vault) error {
	m := watchModel{
		vault: v,
		names: v.List(),
		bar:   progress.New(progress.WithSolidFill("2"), progress.WithWidth(12), progress.WithoutPercentage()),
		now:   time.Now(),
	}

	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Init() tea.Cmd {
	return tick()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.now = time.Time(msg)
		return m, tick()

	case clearMsg:
		m.msg = ""
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "j", "down":
			if m.cursor < len(m.names)-1 {
				m.cursor++
			}
		case "k", "up":
			if m.cursor > 0 {
				m.cursor--
			}
		case "c", "enter":
			if len(m.names) == 0 {
				break
			}
			code, _, err := m.vault.Code(m.names[m.cursor], m.now)
			if err != nil {
				m.msg = err.Error()
				break
			}
			clipboard.WriteAll(code)
			m.msg = "Code copied! (clipboard clears in 30s)"
			go func() {
				time.Sleep(30 * time.Second)
				clipboard.WriteAll("")
			}()
			return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return clearMsg{} })
		}
	}
	return m, nil
}

func (m watchModel) View() string {
	s := titleStyle.Render("TOTP Entries") + "\n\n"
	if len(m.names) == 0 {
		s += "vault is empty\n"
	}
	for i, name := range m.names {
		entry, err := m.vault.Entry(name)
		if err != nil {
			continue
		}
		code := entry.Code(m.now)
		remaining := entry.Remaining(m.now)

		left := fmt.Sprintf("%2ds", remaining)
		if remaining <= 5 {
			left = expiringStyle.Render(left)
		}
		line := fmt.Sprintf("%-24s  %-10s  %s %s",
			name, code, m.bar.ViewAs(float64(remaining)/float64(entry.Period)), left)
		if i == m.cursor {
			line = selectedStyle.Render(line)
		}
		s += line + "\n"
	}
	if m.msg != "" {
		s += "\n" + msgStyle.Render(m.msg)
	}
	s += "\nCommands: j/k=move, c/enter=copy, q=quit"
	return s
}

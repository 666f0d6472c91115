package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"outreach-control/internal/queue"
)

// KeyMap represents the key bindings for the queue browser
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Refresh key.Binding
	Details key.Binding
	Back    key.Binding
	Quit    key.Binding
}

// DefaultKeyMap returns the default key bindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Details: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "details"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// JobLoader supplies the browser with a fresh job list on refresh
type JobLoader func() []*queue.SendJob

// QueueBrowser is the interactive queue view model
type QueueBrowser struct {
	table    table.Model
	jobs     []*queue.SendJob
	load     JobLoader
	keys     KeyMap
	useColor bool
	detail   *queue.SendJob
	quitting bool
}

// IsInteractive reports whether stdout is a terminal
func IsInteractive() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// NewQueueBrowser creates the browser over an initial job list
func NewQueueBrowser(jobs []*queue.SendJob, load JobLoader) *QueueBrowser {
	columns := []table.Column{
		{Title: "JOB", Width: 18},
		{Title: "STATUS", Width: 12},
		{Title: "ATTEMPTS", Width: 8},
		{Title: "DOMAIN", Width: 22},
		{Title: "LAST ERROR", Width: 12},
		{Title: "NEXT ATTEMPT", Width: 20},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(jobRows(jobs)),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	useColor := IsInteractive()
	if useColor {
		s := table.DefaultStyles()
		s.Header = s.Header.
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240")).
			BorderBottom(true).
			Bold(false)
		s.Selected = s.Selected.
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57")).
			Bold(false)
		t.SetStyles(s)
	}

	return &QueueBrowser{
		table:    t,
		jobs:     jobs,
		load:     load,
		keys:     DefaultKeyMap(),
		useColor: useColor,
	}
}

// Run starts the bubbletea program and blocks until quit
func (m *QueueBrowser) Run() error {
	_, err := tea.NewProgram(m).Run()
	return err
}

// Init implements tea.Model
func (m *QueueBrowser) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m *QueueBrowser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.detail != nil {
			if key.Matches(msg, m.keys.Back) || key.Matches(msg, m.keys.Details) {
				m.detail = nil
			}
			if key.Matches(msg, m.keys.Quit) {
				m.quitting = true
				return m, tea.Quit
			}
			return m, nil
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			if m.load != nil {
				m.jobs = m.load()
				m.table.SetRows(jobRows(m.jobs))
			}
			return m, nil
		case key.Matches(msg, m.keys.Details):
			if cursor := m.table.Cursor(); cursor >= 0 && cursor < len(m.jobs) {
				m.detail = m.jobs[cursor]
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model
func (m *QueueBrowser) View() string {
	if m.quitting {
		return ""
	}
	if m.detail != nil {
		return m.detailView()
	}

	help := "↑/↓ move · enter details · r refresh · q quit"
	if m.useColor {
		help = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(help)
	}
	return m.table.View() + "\n" + help + "\n"
}

func (m *QueueBrowser) detailView() string {
	job := m.detail
	out := fmt.Sprintf("Job:        %s\n", job.JobID)
	out += fmt.Sprintf("Status:     %s\n", string(job.Status))
	out += fmt.Sprintf("Draft:      %s\n", job.DraftID)
	out += fmt.Sprintf("Tracking:   %s\n", job.TrackingID)
	out += fmt.Sprintf("Domain:     %s\n", job.ToDomain)
	out += fmt.Sprintf("Variant:    %s\n", job.ABVariant)
	out += fmt.Sprintf("Attempts:   %d\n", job.Attempts)
	out += fmt.Sprintf("Created:    %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.LastErrorCode != "" {
		out += fmt.Sprintf("Last error: %s (%s)\n", string(job.LastErrorCode), job.LastErrorMessageHash)
	}
	if !job.NextAttemptAt.IsZero() {
		out += fmt.Sprintf("Next try:   %s\n", job.NextAttemptAt.Format(time.RFC3339))
	}
	if job.SentAt != nil {
		out += fmt.Sprintf("Sent:       %s (message %s)\n", job.SentAt.Format(time.RFC3339), job.MessageID)
	}
	return out + "\nesc back · q quit\n"
}

func jobRows(jobs []*queue.SendJob) []table.Row {
	rows := make([]table.Row, len(jobs))
	for i, job := range jobs {
		next := ""
		if !job.NextAttemptAt.IsZero() {
			next = job.NextAttemptAt.Format("2006-01-02 15:04")
		}
		rows[i] = table.Row{
			job.JobID,
			string(job.Status),
			fmt.Sprintf("%d", job.Attempts),
			truncate(job.ToDomain, 22),
			string(job.LastErrorCode),
			next,
		}
	}
	return rows
}

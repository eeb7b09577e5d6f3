package main

import (
	"fmt"
	"strings"

	"github.com/CUknot/project_chat/client"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// sessionUpdatedMsg is sent whenever the session's visible state changed.
type sessionUpdatedMsg struct{}

// sessionClosedMsg is sent once the session stops publishing updates.
type sessionClosedMsg struct{}

type model struct {
	session *client.Session
	title   string
	input   textinput.Model
	notice  string
	height  int
}

func newModel(session *client.Session, title string) model {
	ti := textinput.New()
	ti.Placeholder = "Type your message here"
	ti.Focus()
	ti.CharLimit = 1000
	ti.Width = 60

	return model{session: session, title: title, input: ti}
}

func waitForUpdate(s *client.Session) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-s.Updates(); !ok {
			return sessionClosedMsg{}
		}
		return sessionUpdatedMsg{}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForUpdate(m.session))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.input.Width = msg.Width - 4
		return m, nil

	case sessionUpdatedMsg:
		return m, waitForUpdate(m.session)

	case sessionClosedMsg:
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyCtrlD:
			m.session.DismissBanner()
			m.notice = ""
			return m, nil
		case tea.KeyCtrlR:
			m.notice = m.retryLatestFailure()
			return m, nil
		case tea.KeyEnter:
			if !m.session.CanCompose() {
				return m, nil
			}
			text := m.input.Value()
			if strings.TrimSpace(text) == "" {
				return m, nil
			}
			if _, err := m.session.Send(text); err != nil {
				m.notice = err.Error()
				return m, nil
			}
			m.notice = ""
			m.input.Reset()
			return m, nil
		}
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) retryLatestFailure() string {
	list := m.session.Messages()
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Temporary && list[i].Status == client.StatusError {
			if err := m.session.Retry(list[i].ID); err != nil {
				return err.Error()
			}
			return ""
		}
	}
	return "nothing to retry"
}

func statusLabel(s client.Status) string {
	switch s {
	case client.StatusSending:
		return " (sending…)"
	case client.StatusSentLocally:
		return " (sent)"
	case client.StatusError:
		return " (failed to send, ctrl+r to retry)"
	default:
		return ""
	}
}

func (m model) View() string {
	var b strings.Builder

	indicator := "○"
	if m.session.Status() == client.StateConnected {
		indicator = "●"
	}
	fmt.Fprintf(&b, "%s  %s %s\n", m.title, indicator, m.session.Status())

	if banner := m.session.Banner(); banner != "" {
		fmt.Fprintf(&b, "! %s  [ctrl+d to dismiss]\n", banner)
	}
	b.WriteString("\n")

	list := m.session.Messages()
	if m.height > 8 && len(list) > m.height-8 {
		list = list[len(list)-(m.height-8):]
	}
	for _, msg := range list {
		name := msg.SenderName
		if name == "" {
			name = msg.Sender
		}
		fmt.Fprintf(&b, "[%s] %s: %s%s\n", msg.Timestamp.Local().Format("15:04"), name, msg.Content, statusLabel(msg.Status))
	}

	b.WriteString("\n")
	if m.session.CanCompose() {
		b.WriteString(m.input.View())
	} else {
		b.WriteString("(read-only: waiting for connection or access)")
	}
	if m.notice != "" {
		fmt.Fprintf(&b, "\n%s", m.notice)
	}
	b.WriteString("\n[Enter] send  [ctrl+r] retry  [esc] quit")
	return b.String()
}

package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/charla-chat/charla/internal/room"
	"github.com/charla-chat/charla/internal/types"
)

type viewUpdateMsg []types.Message

type noticeMsg room.Notice

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitForView(), m.waitForNotice())
}

// waitForView blocks on the controller's latest-wins update channel and
// re-arms itself after every delivery.
func (m *Model) waitForView() tea.Cmd {
	return func() tea.Msg {
		return viewUpdateMsg(<-m.controller.Updates())
	}
}

func (m *Model) waitForNotice() tea.Cmd {
	return func() tea.Msg {
		return noticeMsg(<-m.notices)
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case viewUpdateMsg:
		prev := m.messages
		m.messages = []types.Message(msg)
		if m.notify {
			notifyNewMessages(prev, m.messages, m.self.UserID, m.roomID)
		}
		atBottom := m.viewport.AtBottom()
		m.refreshViewport(atBottom)
		if atBottom {
			m.markVisibleRead()
		}
		return m, m.waitForView()

	case noticeMsg:
		m.status = noticeText(room.Notice(msg))
		return m, m.waitForNotice()

	case tea.KeyMsg:
		return m.updateKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "enter":
		m.handleSubmit()
		return m, nil

	case "ctrl+r":
		m.retryNewestFailed()
		return m, nil

	case "ctrl+y":
		m.copyLastMessage()
		return m, nil

	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		if m.viewport.AtBottom() {
			m.markVisibleRead()
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleSubmit() {
	body := strings.TrimSpace(m.input.Value())
	if body == "" {
		return
	}
	m.controller.SendMessage(types.Draft{Body: body, Kind: types.MessageKindText})
	m.input.Reset()
	m.status = ""
	m.refreshViewport(true)
}

// retryNewestFailed resubmits the most recent failed message, if any.
func (m *Model) retryNewestFailed() {
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.Status == types.DeliveryFailed && msg.CorrelationID != "" {
			m.controller.RetryMessage(msg.CorrelationID)
			m.status = "reintentando…"
			return
		}
	}
	m.status = "nothing to retry"
}

// markVisibleRead records read receipts for confirmed messages from other
// senders once the bottom of the window is on screen.
func (m *Model) markVisibleRead() {
	var ids []string
	for _, msg := range m.messages {
		if !msg.Confirmed() || msg.SenderID == m.self.UserID {
			continue
		}
		if msg.HasReadBy(m.self.UserID) {
			continue
		}
		ids = append(ids, msg.ID)
	}
	if len(ids) > 0 {
		m.controller.MarkRead(ids)
	}
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	viewportHeight := height - m.input.Height() - 2
	if viewportHeight < 1 {
		viewportHeight = 1
	}
	if !m.ready {
		m.viewport = viewport.New(width, viewportHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = viewportHeight
	}
	m.input.SetWidth(width)
	m.refreshViewport(true)
}

func (m *Model) refreshViewport(scrollToBottom bool) {
	if !m.ready {
		return
	}
	m.viewport.SetContent(renderMessages(m.messages, m.self.UserID, m.width))
	if scrollToBottom {
		m.viewport.GotoBottom()
	}
}

func noticeText(n room.Notice) string {
	switch n.Kind {
	case room.NoticeValidationRejected:
		return "mensaje rechazado: " + n.Reason
	case room.NoticeRetryExhausted:
		return "no se pudo enviar el mensaje"
	case room.NoticeStreamError:
		return "conexión perdida: " + n.Reason
	}
	return n.Reason
}

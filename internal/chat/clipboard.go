package chat

import (
	"github.com/atotto/clipboard"
)

// copyLastMessage copies the newest message body to the system clipboard.
func (m *Model) copyLastMessage() {
	if len(m.messages) == 0 {
		m.status = "nothing to copy"
		return
	}
	body := m.messages[len(m.messages)-1].Body
	if err := clipboard.WriteAll(body); err != nil {
		m.status = "copy failed: " + err.Error()
		return
	}
	m.status = "copied"
}

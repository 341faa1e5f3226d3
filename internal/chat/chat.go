// Package chat implements the terminal UI for one room: a viewport over
// the merged message view, a composer, and delivery markers that track
// each message from optimistic to read.
package chat

import (
	"context"
	"fmt"
	"log"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/charla-chat/charla/internal/backend"
	"github.com/charla-chat/charla/internal/room"
	"github.com/charla-chat/charla/internal/types"
)

// Options configure a chat session.
type Options struct {
	Backend  backend.Backend
	Gate     room.Gate
	Identity types.Identity
	RoomID   string
	Logger   *log.Logger
	Notify   bool // desktop notifications for messages from others
}

// Run starts the chat UI and blocks until the user quits.
func Run(ctx context.Context, opts Options) error {
	model, err := NewModel(ctx, opts)
	if err != nil {
		return err
	}
	// Set window title (ANSI OSC sequence)
	fmt.Printf("\033]0;charla · %s\007", opts.RoomID)

	program := tea.NewProgram(model)
	_, err = program.Run()
	model.Close()
	return err
}

// Model implements the chat UI.
type Model struct {
	controller *room.Controller
	roomID     string
	self       types.Identity
	notify     bool

	viewport viewport.Model
	input    textarea.Model
	messages []types.Message
	notices  chan room.Notice
	status   string
	width    int
	height   int
	ready    bool
}

// NewModel creates a model and starts the room controller behind it.
func NewModel(ctx context.Context, opts Options) (*Model, error) {
	m := &Model{
		roomID:  opts.RoomID,
		self:    opts.Identity,
		notify:  opts.Notify,
		input:   newInputModel(),
		notices: make(chan room.Notice, 16),
	}

	m.controller = room.NewController(room.Options{
		Backend:  opts.Backend,
		Gate:     opts.Gate,
		Identity: opts.Identity,
		RoomID:   opts.RoomID,
		Logger:   opts.Logger,
		OnNotice: func(n room.Notice) {
			select {
			case m.notices <- n:
			default:
			}
		},
	})
	if err := m.controller.Start(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Close tears down the room controller.
func (m *Model) Close() {
	m.controller.Close()
}

func newInputModel() textarea.Model {
	input := textarea.New()
	input.Placeholder = "Escribe un mensaje…"
	input.Prompt = "┃ "
	input.CharLimit = 2000
	input.SetHeight(1)
	input.ShowLineNumbers = false
	input.Focus()
	return input
}

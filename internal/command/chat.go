package command

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/charla-chat/charla/internal/chat"
	"github.com/charla-chat/charla/internal/core"
	"github.com/charla-chat/charla/internal/moderation"
)

// NewChatCmd creates the chat command.
func NewChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <room>",
		Short: "Interactive chat in a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonMode(cmd) {
				return fmt.Errorf("--json not supported for interactive chat")
			}

			// Logging to stderr would tear the UI apart; keep a session log
			// next to the store instead.
			logger, closeLog := chatLogger(cmd)
			defer closeLog()

			session, err := OpenSession(cmd, logger)
			if err != nil {
				return err
			}
			defer session.Close()

			gate := moderation.NewGate()
			wordlist, _ := cmd.Flags().GetString("wordlist")
			if wordlist == "" {
				wordlist = session.Config.Wordlist
			}
			if wordlist != "" {
				if err := gate.LoadWordlist(wordlist); err != nil {
					return err
				}
				stop, err := moderation.WatchWordlist(cmd.Context(), wordlist, gate, logger)
				if err != nil {
					return err
				}
				defer stop()
			}

			notify, _ := cmd.Flags().GetBool("notify")
			return chat.Run(cmd.Context(), chat.Options{
				Backend:  session.Backend,
				Gate:     gate,
				Identity: session.Identity,
				RoomID:   args[0],
				Logger:   logger,
				Notify:   notify,
			})
		},
	}

	cmd.Flags().Bool("notify", true, "desktop notifications for new messages")
	cmd.Flags().String("wordlist", "", "path to a moderation wordlist (hot-reloaded)")
	return cmd
}

func chatLogger(cmd *cobra.Command) (*log.Logger, func()) {
	cfg, err := core.ReadConfig()
	if err != nil || cfg == nil {
		cfg = &core.Config{}
	}
	dir, err := resolveDataDir(cmd, cfg)
	if err != nil {
		return log.New(io.Discard, "", 0), func() {}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return log.New(io.Discard, "", 0), func() {}
	}
	f, err := os.OpenFile(filepath.Join(dir, "charla.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return log.New(io.Discard, "", 0), func() {}
	}
	return log.New(f, "", log.LstdFlags), func() { _ = f.Close() }
}

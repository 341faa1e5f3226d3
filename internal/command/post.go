package command

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/charla-chat/charla/internal/backend"
	"github.com/charla-chat/charla/internal/core"
	"github.com/charla-chat/charla/internal/types"
)

// NewPostCmd creates the post command: a one-shot send without the UI.
func NewPostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post <room> <message>",
		Short: "Post a message to a room",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := OpenSession(cmd, nil)
			if err != nil {
				return err
			}
			defer session.Close()

			roomID, body := args[0], args[1]
			var replyTo *string
			if ref, _ := cmd.Flags().GetString("reply-to"); ref != "" {
				replyTo = &ref
			}

			id, err := session.Backend.Send(cmd.Context(), roomID, backend.Outgoing{
				CorrelationID: core.NewCorrelationID(),
				Sender:        session.Identity,
				Body:          body,
				Kind:          types.MessageKindText,
				ReplyTo:       replyTo,
			})
			if err != nil {
				return fmt.Errorf("send to %s: %w", roomID, err)
			}

			if jsonMode(cmd) {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"id":   id,
					"room": roomID,
					"from": session.Identity.UserID,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] posted to #%s as %s\n", id, roomID, session.Identity.UserID)
			return nil
		},
	}

	cmd.Flags().StringP("reply-to", "r", "", "message id this post replies to")
	return cmd
}

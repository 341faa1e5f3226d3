package command

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewBlockCmd creates the block command.
func NewBlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block <user>",
		Short: "Block a user (hides their messages everywhere)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := OpenSession(cmd, nil)
			if err != nil {
				return err
			}
			defer session.Close()

			target := strings.TrimPrefix(args[0], "@")
			if target == session.Identity.UserID {
				return fmt.Errorf("cannot block yourself")
			}
			if err := session.Block(cmd.Context(), target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "blocked %s\n", target)
			return nil
		},
	}
}

// NewUnblockCmd creates the unblock command.
func NewUnblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <user>",
		Short: "Remove a block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := OpenSession(cmd, nil)
			if err != nil {
				return err
			}
			defer session.Close()

			target := strings.TrimPrefix(args[0], "@")
			if err := session.Unblock(cmd.Context(), target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unblocked %s\n", target)
			return nil
		},
	}
}

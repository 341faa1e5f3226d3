package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "charla"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Charla - optimistic chat for small rooms",
		Long:          "Charla is a chat client and relay with optimistic sends, delivery receipts, and block filtering.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("relay", "", "relay URL (overrides config; empty means local store)")
	cmd.PersistentFlags().String("data-dir", "", "local store directory (overrides config)")
	cmd.PersistentFlags().String("user", "", "user id to act as (overrides config)")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")

	cmd.AddCommand(
		NewChatCmd(),
		NewPostCmd(),
		NewRoomsCmd(),
		NewBlockCmd(),
		NewUnblockCmd(),
		NewWhoamiCmd(),
		NewConfigCmd(),
		NewServeCmd(),
	)

	return cmd
}

func Execute() error {
	return NewRootCmd(Version).Execute()
}

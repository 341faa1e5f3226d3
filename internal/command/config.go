package command

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/charla-chat/charla/internal/core"
)

// NewWhoamiCmd creates the whoami command.
func NewWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the active identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := core.ReadConfig()
			if err != nil {
				return err
			}
			identity := core.GuestIdentity()
			if cfg != nil && cfg.Identity.UserID != "" {
				identity = cfg.Identity
			}
			if user, _ := cmd.Flags().GetString("user"); user != "" {
				identity.UserID = user
			}

			if jsonMode(cmd) {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(identity)
			}
			kind := "guest"
			if identity.Authenticated {
				kind = "authenticated"
			}
			name := identity.DisplayName
			if name == "" {
				name = identity.UserID
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %s) · window %d\n",
				name, identity.UserID, kind, identity.WindowLimit())
			return nil
		},
	}
}

// NewConfigCmd creates the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage local configuration",
	}
	cmd.AddCommand(newConfigSetCmd(), newConfigShowCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := core.ReadConfig()
			if err != nil {
				return err
			}
			if cfg == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no config yet; defaults in effect")
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update identity and connection settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := core.ReadConfig()
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = &core.Config{Version: 1, Identity: core.GuestIdentity()}
			}

			if v, _ := cmd.Flags().GetString("name"); v != "" {
				cfg.Identity.DisplayName = v
			}
			if v, _ := cmd.Flags().GetString("id"); v != "" {
				cfg.Identity.UserID = v
				cfg.Identity.Authenticated = true
			}
			if v, _ := cmd.Flags().GetString("avatar"); v != "" {
				cfg.Identity.Avatar = v
			}
			if cmd.Flags().Changed("relay") {
				v, _ := cmd.Flags().GetString("relay")
				cfg.RelayURL = v
			}
			if v, _ := cmd.Flags().GetString("wordlist"); v != "" {
				cfg.Wordlist = v
			}

			if err := core.WriteConfig(*cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config saved")
			return nil
		},
	}

	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("id", "", "stable user id (marks the identity authenticated)")
	cmd.Flags().String("avatar", "", "avatar character")
	cmd.Flags().String("wordlist", "", "default moderation wordlist path")
	return cmd
}

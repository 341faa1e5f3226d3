package command

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/charla-chat/charla/internal/backend/local"
	"github.com/charla-chat/charla/internal/core"
	"github.com/charla-chat/charla/internal/moderation"
	"github.com/charla-chat/charla/internal/relay"
)

// NewServeCmd creates the serve command: run a relay for other clients.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a charla relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(os.Stderr, "", log.LstdFlags)

			cfg, err := core.ReadConfig()
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = &core.Config{}
			}
			dataDir, err := resolveDataDir(cmd, cfg)
			if err != nil {
				return err
			}
			store, err := local.Open(filepath.Join(dataDir, "relay.db"), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var gate *moderation.Gate
			wordlist, _ := cmd.Flags().GetString("wordlist")
			if wordlist == "" {
				wordlist = cfg.Wordlist
			}
			if wordlist != "" {
				gate = moderation.NewGate()
				if err := gate.LoadWordlist(wordlist); err != nil {
					return err
				}
				stopWatch, err := moderation.WatchWordlist(ctx, wordlist, gate, logger)
				if err != nil {
					return err
				}
				defer stopWatch()
			}

			origins, _ := cmd.Flags().GetStringSlice("origin")
			addr, _ := cmd.Flags().GetString("addr")

			srv := relay.New(relay.Options{
				Store:          store,
				Gate:           gate,
				Logger:         logger,
				AllowedOrigins: origins,
			})
			return srv.Run(ctx, addr)
		},
	}

	cmd.Flags().String("addr", ":8787", "listen address")
	cmd.Flags().String("wordlist", "", "path to a moderation wordlist (hot-reloaded)")
	cmd.Flags().StringSlice("origin", nil, "allowed CORS origins (default: all)")
	return cmd
}

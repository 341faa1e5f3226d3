package command

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/charla-chat/charla/internal/backend"
	"github.com/charla-chat/charla/internal/backend/local"
	"github.com/charla-chat/charla/internal/backend/ws"
	"github.com/charla-chat/charla/internal/core"
	"github.com/charla-chat/charla/internal/types"
)

// Session is the resolved command context: identity plus a connected
// backend, either the local store or a relay connection.
type Session struct {
	Config   core.Config
	Identity types.Identity
	Backend  backend.Backend
	Local    *local.Store // non-nil in local mode
	WS       *ws.Client   // non-nil in relay mode
	RelayURL string
	Logger   *log.Logger

	closers []func()
}

// OpenSession resolves config and flags into a connected session.
func OpenSession(cmd *cobra.Command, logger *log.Logger) (*Session, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	cfg, err := core.ReadConfig()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &core.Config{Version: 1, Identity: core.GuestIdentity()}
	}

	identity := cfg.Identity
	if identity.UserID == "" {
		identity = core.GuestIdentity()
	}
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		identity.UserID = user
		identity.Authenticated = false
	}

	s := &Session{Config: *cfg, Identity: identity, Logger: logger}

	relayURL, _ := cmd.Flags().GetString("relay")
	if relayURL == "" {
		relayURL = cfg.RelayURL
	}
	if relayURL != "" {
		client, err := ws.Dial(cmd.Context(), relayURL, identity, logger)
		if err != nil {
			return nil, err
		}
		s.Backend = client
		s.WS = client
		s.RelayURL = relayURL
		s.closers = append(s.closers, func() { _ = client.Close() })
		return s, nil
	}

	dataDir, err := resolveDataDir(cmd, cfg)
	if err != nil {
		return nil, err
	}
	store, err := local.Open(filepath.Join(dataDir, "charla.db"), logger)
	if err != nil {
		return nil, err
	}
	s.Backend = store
	s.Local = store
	s.closers = append(s.closers, func() { _ = store.Close() })
	return s, nil
}

func resolveDataDir(cmd *cobra.Command, cfg *core.Config) (string, error) {
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		return dir, nil
	}
	if cfg.DataDir != "" {
		return cfg.DataDir, nil
	}
	return core.DefaultDataDir()
}

func (s *Session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Block records a block against userID with whichever backend is active.
func (s *Session) Block(ctx context.Context, userID string) error {
	switch {
	case s.Local != nil:
		return s.Local.Block(ctx, s.Identity.UserID, userID)
	case s.WS != nil:
		return s.WS.Block(ctx, userID)
	}
	return fmt.Errorf("no backend")
}

// Unblock removes a block against userID.
func (s *Session) Unblock(ctx context.Context, userID string) error {
	switch {
	case s.Local != nil:
		return s.Local.Unblock(ctx, s.Identity.UserID, userID)
	case s.WS != nil:
		return s.WS.Unblock(ctx, userID)
	}
	return fmt.Errorf("no backend")
}

func jsonMode(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

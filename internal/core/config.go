package core

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/charla-chat/charla/internal/types"
)

// Config stores the local user identity and connection settings.
type Config struct {
	Version  int            `json:"version"`
	Identity types.Identity `json:"identity"`
	RelayURL string         `json:"relay_url,omitempty"`
	DataDir  string         `json:"data_dir,omitempty"`
	Wordlist string         `json:"wordlist,omitempty"`
}

func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "charla", "charla-config.json"), nil
}

func ensureConfigDir() (string, error) {
	path, err := configPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// ReadConfig reads the config file if present. Returns nil without error
// when no config exists yet.
func ReadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// WriteConfig writes the config to disk.
func WriteConfig(config Config) error {
	path, err := ensureConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

// DefaultDataDir returns the fallback location for the local message store.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "charla"), nil
}

// GuestIdentity provisions a throwaway guest identity.
func GuestIdentity() types.Identity {
	return types.Identity{
		UserID:      "guest-" + NewCorrelationID()[:8],
		DisplayName: "Guest",
	}
}

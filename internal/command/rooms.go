package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

// NewRoomsCmd creates the rooms command.
func NewRoomsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List known rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := OpenSession(cmd, nil)
			if err != nil {
				return err
			}
			defer session.Close()

			var rooms []string
			if session.Local != nil {
				rooms, err = session.Local.ListRooms(cmd.Context())
				if err != nil {
					return err
				}
			} else {
				rooms, err = fetchRelayRooms(session.RelayURL)
				if err != nil {
					return err
				}
			}

			if jsonMode(cmd) {
				if rooms == nil {
					rooms = []string{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"rooms": rooms})
			}
			if len(rooms) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no rooms yet")
				return nil
			}
			for _, room := range rooms {
				fmt.Fprintf(cmd.OutOrStdout(), "#%s\n", room)
			}
			return nil
		},
	}
}

func fetchRelayRooms(relayURL string) ([]string, error) {
	url := strings.TrimSuffix(relayURL, "/") + "/api/rooms"
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay returned %s", resp.Status)
	}
	var payload struct {
		Rooms []string `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Rooms, nil
}

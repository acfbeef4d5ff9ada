package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"roomrelay/backend/internal/api/handler"
	"roomrelay/backend/internal/config"
	"roomrelay/backend/internal/log"
	"roomrelay/backend/internal/registry"
	"roomrelay/backend/internal/storage"
)

var (
	configPath string
	tokenTTL   time.Duration
	tokenUser  string
	serverURL  string
)

// env is what the data commands need; opened lazily so that token and
// hash-password work without a database.
type env struct {
	cfg     *config.Config
	rooms   *registry.Registry
	release func()
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Init(cfg.Log)

	db, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db); err != nil {
		return nil, err
	}
	store := storage.NewStorageService(db)

	roomStore, release, err := registry.OpenStore(ctx, cfg, store)
	if err != nil {
		return nil, err
	}
	rooms := registry.New(roomStore)
	return &env{
		cfg:   cfg,
		rooms: rooms,
		release: func() {
			rooms.Close()
			release()
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		},
	}, nil
}

var rootCmd = &cobra.Command{
	Use:           "admin",
	Short:         "Operator tools for the room relay",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Inspect and edit the room registry",
}

var roomsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered rooms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.release()

		ids, err := e.rooms.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

var roomsAddCmd = &cobra.Command{
	Use:   "add <room-id>",
	Short: "Register a room without payment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := registry.ValidateID(args[0]); err != nil {
			return err
		}
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.release()

		if err := e.rooms.Add(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Room %s registered.\n", args[0])
		return nil
	},
}

var purgeUserCmd = &cobra.Command{
	Use:   "purge-user <room-id> <user>",
	Short: "Delete every message of a user through the running server",
	Long: "Asks the running server to delete the user's messages, so the room's\n" +
		"live session drops them and connected clients are resynced.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := registry.ValidateID(args[0]); err != nil {
			return err
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		server := serverURL
		if server == "" {
			server = fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
		}
		token, err := handler.IssueAdminToken(cfg.Admin.JWTSecret, tokenUser, 5*time.Minute)
		if err != nil {
			return err
		}

		n, err := purgeUser(cmd.Context(), http.DefaultClient, server, token, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d messages of %s in %s.\n", n, args[1], args[0])
		return nil
	},
}

type purgeResponse struct {
	Success bool   `json:"success"`
	Deleted int    `json:"deleted"`
	Error   string `json:"error"`
}

// purgeUser calls the server's moderation endpoint and returns how many
// messages were deleted.
func purgeUser(ctx context.Context, client *http.Client, server, token, roomID, user string) (int, error) {
	body, err := json.Marshal(map[string]string{"user": user})
	if err != nil {
		return 0, err
	}
	endpoint := strings.TrimSuffix(server, "/") + "/api/admin/rooms/" + url.PathEscape(roomID) + "/purge-user"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("reach server at %s: %w", server, err)
	}
	defer resp.Body.Close()

	var out purgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("server answered %s: %w", resp.Status, err)
	}
	if resp.StatusCode != http.StatusOK || !out.Success {
		return 0, fmt.Errorf("server answered %s: %s", resp.Status, out.Error)
	}
	return out.Deleted, nil
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin token for the chat socket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		token, err := handler.IssueAdminToken(cfg.Admin.JWTSecret, tokenUser, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Print a bcrypt hash for admin.password_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(hash))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "directory containing config.yaml")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenUser, "user", "admin", "token subject")
	purgeUserCmd.Flags().StringVar(&serverURL, "server", "", "base URL of the running server (default http://127.0.0.1:<server.port>)")
	purgeUserCmd.Flags().StringVar(&tokenUser, "as", "admin", "admin name recorded in the server log")

	roomsCmd.AddCommand(roomsListCmd, roomsAddCmd)
	rootCmd.AddCommand(roomsCmd, purgeUserCmd, tokenCmd, hashPasswordCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

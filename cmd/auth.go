package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/marcus/sn/internal/output"
	"github.com/marcus/sn/internal/syncconfig"
	"github.com/marcus/sn/internal/syncerr"
	"github.com/spf13/cobra"
)

const loginTimeout = 15 * time.Second

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Manage sync credentials",
	GroupID: "account",
}

var authLoginCmd = &cobra.Command{
	Use:     "login",
	Aliases: []string{"signin"},
	Short:   "Store an API key for the sync server",
	Long: `Verify an API key against the server and store it in auth.json.
Entries blocked by a rejected key become due again.

Examples:
  sn auth login --key snk_...
  sn auth login --server https://sync.example.com
  echo $KEY | sn auth login`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := syncconfig.Load()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}

		serverURL, _ := cmd.Flags().GetString("server")
		if serverURL == "" {
			serverURL = settings.ServerURL
		}
		serverURL = strings.TrimRight(serverURL, "/")

		key, _ := cmd.Flags().GetString("key")
		if key == "" {
			key, err = readAPIKey()
			if err != nil {
				output.Error("%v", err)
				return err
			}
		}

		s := *settings
		s.ServerURL = serverURL
		s.APIKey = key

		ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
		defer cancel()
		who, err := newClient(&s).WhoAmI(ctx)
		if err != nil {
			output.Error("login failed: %v", err)
			return err
		}

		creds := &syncconfig.AuthCredentials{
			APIKey:    key,
			UserID:    who.UserID,
			Email:     who.Email,
			ServerURL: serverURL,
			DeviceID:  settings.DeviceID,
		}
		if err := syncconfig.SaveAuth(creds); err != nil {
			output.Error("save credentials: %v", err)
			return err
		}

		if n, err := unblockAfterLogin(); err != nil {
			output.Warning("credentials saved but outbox not updated: %v", err)
		} else if n > 0 {
			fmt.Printf("Requeued %d entries blocked on authentication\n", n)
		}

		label := who.Email
		if label == "" {
			label = who.UserID
		}
		output.Success("Logged in as %s", label)
		return nil
	},
}

// unblockAfterLogin clears the auth-required flag and makes entries that
// failed on a rejected key due again. A directory without a store is fine.
func unblockAfterLogin() (int, error) {
	store, err := openStore(nil)
	if err != nil {
		return 0, nil
	}
	defer store.Close()

	if err := store.ClearAuthRequired(); err != nil {
		return 0, err
	}
	return store.RetryAll(syncerr.KindUnauthenticated)
}

func readAPIKey() (string, error) {
	var key string
	if output.IsInteractive() {
		err := huh.NewInput().
			Title("API key").
			EchoMode(huh.EchoModePassword).
			Value(&key).
			Run()
		if err != nil {
			return "", err
		}
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read api key: %w", err)
		}
		key = line
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("api key required")
	}
	return key, nil
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.ClearAuth(); err != nil {
			output.Error("logout: %v", err)
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"whoami"},
	Short:   "Show stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := syncconfig.Load()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}
		if !isAuthenticated(settings) {
			fmt.Println("Not logged in.")
			return nil
		}

		creds, err := syncconfig.LoadAuth()
		if err != nil {
			output.Error("load auth: %v", err)
			return err
		}

		keyPrefix := settings.APIKey
		if len(keyPrefix) > 12 {
			keyPrefix = keyPrefix[:12] + "..."
		}
		if creds != nil && creds.Email != "" {
			fmt.Printf("Email:  %s\n", creds.Email)
		}
		fmt.Printf("User:   %s\n", settings.UserID)
		fmt.Printf("Server: %s\n", settings.ServerURL)
		fmt.Printf("Key:    %s\n", keyPrefix)
		fmt.Printf("Device: %s\n", settings.DeviceID)

		if check, _ := cmd.Flags().GetBool("check"); check {
			ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
			defer cancel()
			if _, err := newClient(settings).WhoAmI(ctx); err != nil {
				output.Error("server check failed: %v", err)
				return err
			}
			output.Success("Key accepted by server")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd, authLogoutCmd, authStatusCmd)

	authLoginCmd.Flags().String("key", "", "API key (prompted when omitted)")
	authLoginCmd.Flags().String("server", "", "Sync server URL")
	authStatusCmd.Flags().Bool("check", false, "Verify the key against the server")
}

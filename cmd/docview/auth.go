package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgallion1/docview/internal/appctx"
	"github.com/spf13/cobra"
)

var (
	loginToken    string
	loginUserID   string
	loginUsername string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an access token for the knowledge-base API",
	Long: `Saves the access token and user in the session file. Without --token the
token is read from standard input.

Examples:
  docview login --token "$TOKEN" --user-id 42
  echo "$TOKEN" | docview login --user-id 42`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.Logout(); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		cmd.Println("Logged out.")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "access token")
	loginCmd.Flags().StringVar(&loginUserID, "user-id", "", "user id sent as X-User-ID")
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "display name")
	rootCmd.AddCommand(loginCmd, logoutCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	token := loginToken
	if token == "" {
		cmd.Print("Access token: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read token: %w", err)
		}
		token = line
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("access token is required")
	}

	info := appctx.AuthInfo{
		AccessToken: token,
		User:        appctx.User{ID: loginUserID, Username: loginUsername},
	}
	if err := app.Session.Save(info); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	log.Info("logged in", "user_id", loginUserID, "session_file", cfg.SessionFile)
	cmd.Println("Logged in.")
	return nil
}

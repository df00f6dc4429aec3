package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmcdole/shelfsync/internal/adapter/source/audiobookshelf"
	"github.com/mmcdole/shelfsync/internal/domain"
)

var loginCmd = &cobra.Command{
	Use:   "login [server-url]",
	Short: "Log in to an Audiobookshelf server",
	Long:  `Prompts for a username and password and stores the server's API token in the config file.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := configStore.ClearCredentials(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	serverURL := cfg.Server.URL
	if len(args) == 1 {
		serverURL = args[0]
	}
	for serverURL == "" {
		input, err := audiobookshelf.PromptForServerURL()
		if err != nil {
			return err
		}
		if input == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "Server URL cannot be empty. Please try again.")
			continue
		}
		serverURL = input
	}
	serverURL = strings.TrimRight(serverURL, "/")

	var flow domain.AuthFlow = audiobookshelf.NewAuthFlow(logger)
	result, err := flow.Run(context.Background(), serverURL)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if err := configStore.SaveCredentials(serverURL, result.Token, result.Username); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	logger.Info("logged in", "server", serverURL, "user", result.Username)
	fmt.Fprintf(cmd.OutOrStdout(), "Credentials saved to %s\n", configStore.Path())
	return nil
}

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/config"
	"github.com/jonathan/apply-autopilot/internal/types"
	"github.com/jonathan/apply-autopilot/internal/vault"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	credUserID   string
	credIdentity string
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage sealed portal credentials",
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Seal and store a user's portal login",
	Long: `Prompt for the portal password (or read one line from stdin when it is not a
terminal), seal it with CREDENTIALS_KEY, and store it for the user.`,
	RunE: runCredentialsSet,
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove a user's stored portal login",
	RunE:  runCredentialsDelete,
}

var credentialsKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new random CREDENTIALS_KEY",
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, err := vault.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	credentialsSetCmd.Flags().StringVar(&credUserID, "user", "", "User ID (UUID) (required)")
	credentialsSetCmd.Flags().StringVar(&credIdentity, "identity", "", "Portal login identity, usually an email (required)")
	_ = credentialsSetCmd.MarkFlagRequired("user")
	_ = credentialsSetCmd.MarkFlagRequired("identity")

	credentialsDeleteCmd.Flags().StringVar(&credUserID, "user", "", "User ID (UUID) (required)")
	_ = credentialsDeleteCmd.MarkFlagRequired("user")

	credentialsCmd.AddCommand(credentialsSetCmd, credentialsDeleteCmd, credentialsKeygenCmd)
	rootCmd.AddCommand(credentialsCmd)
}

func runCredentialsSet(cmd *cobra.Command, _ []string) error {
	userID, err := uuid.Parse(credUserID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.CredentialsKey == "" {
		return fmt.Errorf("CREDENTIALS_KEY environment variable is required")
	}

	secret, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Portal password: ")
	if err != nil {
		return err
	}
	if secret.Empty() {
		return fmt.Errorf("password must not be empty")
	}

	database, err := connectDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.SetCredentials(cmd.Context(), userID, credIdentity, secret); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored credentials for %s\n", userID)
	return nil
}

func runCredentialsDelete(cmd *cobra.Command, _ []string) error {
	userID, err := uuid.Parse(credUserID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	database, err := connectDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.DeleteCredentials(cmd.Context(), userID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted credentials for %s\n", userID)
	return nil
}

// readSecret reads a secret without echo from a terminal, or one line from
// any other reader.
func readSecret(in io.Reader, out io.Writer, prompt string) (types.Secret, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, prompt)
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return types.Secret{}, fmt.Errorf("failed to read password: %w", err)
		}
		return types.NewSecret(string(raw)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return types.Secret{}, fmt.Errorf("failed to read password: %w", err)
	}
	return types.NewSecret(strings.TrimRight(line, "\r\n")), nil
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/config"
	"github.com/jonathan/apply-autopilot/internal/types"
	"github.com/spf13/cobra"
)

var (
	profileUserID    string
	profileFile      string
	profileSearchURL string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the applicant profile and saved search",
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store a user's profile and optionally their saved search URL",
	RunE:  runProfileSet,
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a user's stored profile and saved search URL",
	RunE:  runProfileShow,
}

func init() {
	profileSetCmd.Flags().StringVar(&profileUserID, "user", "", "User ID (UUID) (required)")
	profileSetCmd.Flags().StringVar(&profileFile, "file", "", "Path to a JSON profile")
	profileSetCmd.Flags().StringVar(&profileSearchURL, "search-url", "", "Saved search URL used when a start request names none")
	_ = profileSetCmd.MarkFlagRequired("user")

	profileShowCmd.Flags().StringVar(&profileUserID, "user", "", "User ID (UUID) (required)")
	_ = profileShowCmd.MarkFlagRequired("user")

	profileCmd.AddCommand(profileSetCmd, profileShowCmd)
	rootCmd.AddCommand(profileCmd)
}

func runProfileSet(cmd *cobra.Command, _ []string) error {
	userID, err := uuid.Parse(profileUserID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	if profileFile == "" && profileSearchURL == "" {
		return fmt.Errorf("nothing to store, pass --file and/or --search-url")
	}

	var profile *types.UserProfile
	if profileFile != "" {
		profile, err = loadProfile(profileFile)
		if err != nil {
			return err
		}
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

	if profile != nil {
		if err := database.UpsertProfile(cmd.Context(), userID, *profile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored profile for %s\n", userID)
	}
	if profileSearchURL != "" {
		if err := database.SetFinalSearchURL(cmd.Context(), userID, profileSearchURL); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored search URL for %s\n", userID)
	}
	return nil
}

func runProfileShow(cmd *cobra.Command, _ []string) error {
	userID, err := uuid.Parse(profileUserID)
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

	profile, err := database.GetProfile(cmd.Context(), userID)
	if err != nil {
		return err
	}
	searchURL, err := database.GetFinalSearchURL(cmd.Context(), userID)
	if err != nil {
		return err
	}

	out := struct {
		Profile   types.UserProfile `json:"profile"`
		SearchURL string            `json:"search_url,omitempty"`
	}{profile, searchURL}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// loadProfile reads and validates a JSON profile file.
func loadProfile(path string) (*types.UserProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	var profile types.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile JSON: %w", err)
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	return &profile, nil
}

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/normalize"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import transactions from statement files",
	}

	cmd.AddCommand(importCSVCmd())
	cmd.AddCommand(importOFXCmd())
	cmd.AddCommand(importProfileCmd())

	return cmd
}

func importCSVCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "csv [account-id] [file]",
		Short: "Import a CSV export using a column profile",
		Long: `Import a CSV statement export. The column profile describes how to read
the file: which columns hold the amount, date, and name, the date layout,
delimiter, rows to skip, and optional per-field extraction or lookup
rules. Load the profile from a JSON file with --profile, or reuse one
stored on an institution link with --link.`,
		Args: cobra.ExactArgs(2),
		RunE: runImportCSV,
	}

	cmd.Flags().String("profile", "", "Path to a column profile JSON file")
	cmd.Flags().String("link", "", "Use the profile stored on this institution link")

	return cmd
}

func runImportCSV(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	userID := actingUser()

	app, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	profilePath, _ := cmd.Flags().GetString("profile")
	linkID, _ := cmd.Flags().GetString("link")

	var profile *model.CSVProfile
	switch {
	case profilePath != "":
		data, err := os.ReadFile(profilePath)
		if err != nil {
			return fmt.Errorf("failed to read profile: %w", err)
		}
		profile = &model.CSVProfile{}
		if err := json.Unmarshal(data, profile); err != nil {
			return fmt.Errorf("failed to parse profile: %w", err)
		}
	case linkID != "":
		link, err := app.store.GetLink(ctx, userID, linkID)
		if err != nil {
			return err
		}
		if link.CSVProfile == nil {
			return fmt.Errorf("link %s has no stored import profile", linkID)
		}
		profile = link.CSVProfile
	default:
		return fmt.Errorf("provide --profile or --link")
	}

	file, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	txns, err := normalize.ParseCSV(file, *profile)
	if err != nil {
		return err
	}

	stats, err := app.ledger.ImportTransactions(ctx, userID, args[0], txns)
	if err != nil {
		return err
	}

	slog.Info("Imported CSV file", "imported", stats.Imported, "skipped", stats.Skipped)
	return nil
}

func importOFXCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ofx [account-id] [file]",
		Short: "Import an OFX/QFX statement file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			file, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer func() { _ = file.Close() }()

			txns, err := normalize.ParseOFX(file)
			if err != nil {
				return err
			}

			stats, err := app.ledger.ImportTransactions(ctx, actingUser(), args[0], txns)
			if err != nil {
				return err
			}

			slog.Info("Imported OFX file", "imported", stats.Imported, "skipped", stats.Skipped)
			return nil
		},
	}
}

func importProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile [link-id] [profile.json]",
		Short: "Store a CSV column profile on an institution link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read profile: %w", err)
			}
			var profile model.CSVProfile
			if err := json.Unmarshal(data, &profile); err != nil {
				return fmt.Errorf("failed to parse profile: %w", err)
			}

			if err := app.store.SetLinkCSVProfile(ctx, actingUser(), args[0], &profile); err != nil {
				return err
			}
			slog.Info("Stored import profile", "link_id", args[0])
			return nil
		},
	}
}

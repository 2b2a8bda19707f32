package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/syncer"
	"golang.org/x/sync/errgroup"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [link-id]",
		Short: "Pull transaction updates from linked institutions",
		Long: `Sync fetches incremental transaction updates for a link and applies
them to the ledger: new transactions are created, provider-side edits are
applied in place, withdrawn transactions are removed, and account balances
are recomputed. Each page is committed atomically with its cursor, so an
interrupted sync resumes where it stopped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSync,
	}

	cmd.Flags().Bool("all", false, "Sync every linked institution in parallel")
	cmd.Flags().String("backfill-start", "", "Backfill history from this date (YYYY-MM-DD) instead of syncing")
	cmd.Flags().String("backfill-end", "", "Backfill history up to this date (default: today)")

	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	userID := actingUser()

	app, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	orch, err := app.orchestrator()
	if err != nil {
		return err
	}

	all, _ := cmd.Flags().GetBool("all")
	backfillStart, _ := cmd.Flags().GetString("backfill-start")

	var links []model.InstitutionLink
	switch {
	case all:
		links, err = app.store.ListLinks(ctx, userID)
		if err != nil {
			return err
		}
		if len(links) == 0 {
			slog.Info("No institutions linked")
			return nil
		}
	case len(args) == 1:
		link, err := app.store.GetLink(ctx, userID, args[0])
		if err != nil {
			return err
		}
		links = []model.InstitutionLink{*link}
	default:
		return fmt.Errorf("provide a link id or --all")
	}

	if backfillStart != "" {
		if len(links) != 1 {
			return fmt.Errorf("backfill works on a single link")
		}
		return runBackfill(cmd, orch, userID, links[0].ID)
	}

	bar := progressbar.NewOptions(len(links),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Syncing institutions..."),
	)

	// Links sync in parallel; the per-link lock still serializes competing
	// syncs of the same link.
	g, gctx := errgroup.WithContext(ctx)
	for i := range links {
		link := links[i]
		g.Go(func() error {
			stats, err := orch.Sync(gctx, userID, link.ID)
			_ = bar.Add(1)
			if err != nil {
				return fmt.Errorf("%s: %w", link.InstitutionName, err)
			}
			slog.Info("Synced institution",
				"institution", link.InstitutionName,
				"added", stats.Added,
				"modified", stats.Modified,
				"removed", stats.Removed,
				"skipped", stats.Skipped)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	return nil
}

func runBackfill(cmd *cobra.Command, orch *syncer.Orchestrator, userID, linkID string) error {
	startStr, _ := cmd.Flags().GetString("backfill-start")
	endStr, _ := cmd.Flags().GetString("backfill-end")

	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return fmt.Errorf("invalid --backfill-start date: %w", err)
	}
	end := time.Now().UTC()
	if endStr != "" {
		if end, err = time.Parse("2006-01-02", endStr); err != nil {
			return fmt.Errorf("invalid --backfill-end date: %w", err)
		}
	}

	stats, err := orch.Backfill(cmd.Context(), userID, linkID, start, end)
	if err != nil {
		return err
	}
	slog.Info("Backfill finished", "added", stats.Added, "skipped", stats.Skipped, "pages", stats.Pages)
	return nil
}

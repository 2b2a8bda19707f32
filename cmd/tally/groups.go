package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tallyhq/tally/internal/common"
)

func groupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Group related transactions into movements",
		Long: `Groups tie related transactions together: a transfer's two legs, a
purchase and its refund. A group always has at least two members; dropping
below two dissolves it automatically.`,
	}

	cmd.AddCommand(groupsListCmd())
	cmd.AddCommand(groupsPairCmd())
	cmd.AddCommand(groupsAttachCmd())
	cmd.AddCommand(groupsDetachCmd())
	cmd.AddCommand(groupsMergeCmd())

	return cmd
}

func groupsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List groups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			userID := actingUser()
			list, err := app.store.ListGroups(ctx, userID)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				slog.Info("No groups found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tName\tDate\tMembers\tTotal")
			for i := range list {
				summary, err := app.groups.Summarize(ctx, userID, list[i].ID)
				if errors.Is(err, common.ErrConversionUnavailable) {
					members, countErr := app.store.CountGroupMembers(ctx, list[i].ID)
					if countErr != nil {
						return countErr
					}
					fmt.Fprintf(w, "%s\t%s\t\t%d\t(unavailable)\n", list[i].ID, list[i].Name, members)
					continue
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					summary.ID,
					summary.Name,
					summary.Timestamp.Format("2006-01-02"),
					summary.Members,
					summary.AmountDefault.StringFixed(2))
			}
			return w.Flush()
		},
	}
}

func groupsPairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair [transaction-id] [transaction-id]",
		Short: "Create a group from two transactions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			group, err := app.groups.Pair(ctx, actingUser(), args[0], args[1])
			if err != nil {
				return err
			}
			slog.Info("Created group", "group_id", group.ID, "name", group.Name)
			return nil
		},
	}
}

func groupsAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach [group-id] [transaction-id]",
		Short: "Add a transaction to an existing group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			return app.groups.Attach(ctx, actingUser(), args[0], args[1])
		},
	}
}

func groupsDetachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detach [transaction-id]",
		Short: "Remove a transaction from its group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			return app.groups.Detach(ctx, actingUser(), args[0])
		},
	}
}

func groupsMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge [group-id] [group-id]...",
		Short: "Merge two or more groups into one",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			merged, err := app.groups.Merge(ctx, actingUser(), args...)
			if err != nil {
				return err
			}
			slog.Info("Merged groups", "group_id", merged.ID)
			return nil
		},
	}
}

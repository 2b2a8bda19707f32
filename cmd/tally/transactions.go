package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/tallyhq/tally/internal/ledger"
	"github.com/tallyhq/tally/internal/service"
)

func transactionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"tx"},
		Short:   "List and edit transactions",
	}

	cmd.AddCommand(transactionsListCmd())
	cmd.AddCommand(transactionsAddCmd())
	cmd.AddCommand(transactionsUpdateCmd())
	cmd.AddCommand(transactionsDeleteCmd())
	cmd.AddCommand(transactionsResetCmd())

	return cmd
}

func transactionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions",
		RunE:  runTransactionsList,
	}

	cmd.Flags().String("account", "", "Filter by account id")
	cmd.Flags().String("start", "", "Earliest date (YYYY-MM-DD)")
	cmd.Flags().String("end", "", "Latest date (YYYY-MM-DD)")
	cmd.Flags().Int("limit", 50, "Maximum rows to show")
	cmd.Flags().Int("offset", 0, "Rows to skip")

	return cmd
}

func runTransactionsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	app, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	filter := service.TransactionFilter{}
	filter.AccountID, _ = cmd.Flags().GetString("account")
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	filter.Offset, _ = cmd.Flags().GetInt("offset")

	if startStr, _ := cmd.Flags().GetString("start"); startStr != "" {
		start, err := time.Parse("2006-01-02", startStr)
		if err != nil {
			return fmt.Errorf("invalid --start date: %w", err)
		}
		filter.Start = &start
	}
	if endStr, _ := cmd.Flags().GetString("end"); endStr != "" {
		end, err := time.Parse("2006-01-02", endStr)
		if err != nil {
			return fmt.Errorf("invalid --end date: %w", err)
		}
		filter.End = &end
	}

	txns, err := app.store.ListTransactions(ctx, actingUser(), filter)
	if err != nil {
		return err
	}
	if len(txns) == 0 {
		slog.Info("No transactions found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDate\tName\tAmount\tBalance\tSource")
	for i := range txns {
		txn := &txns[i]
		source := "manual"
		if txn.IsProviderOwned() {
			source = "synced"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			txn.ID,
			txn.Timestamp.Format("2006-01-02"),
			txn.Name,
			txn.Amount.StringFixed(2),
			txn.AccountBalance.StringFixed(2),
			source)
	}
	return w.Flush()
}

func transactionsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [account-id] [amount] [name]",
		Short: "Add a manual transaction",
		Long: `Add a manual transaction to an account.

Amounts are credit-positive: money received is positive, money spent is
negative (quote negative amounts, e.g. "-42.17").`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}

			timestamp := time.Now().UTC()
			if dateStr, _ := cmd.Flags().GetString("date"); dateStr != "" {
				if timestamp, err = time.Parse("2006-01-02", dateStr); err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
			}
			category, _ := cmd.Flags().GetString("category")

			txn, err := app.ledger.AddTransaction(ctx, actingUser(), args[0], amount, timestamp, args[2], category)
			if err != nil {
				return err
			}

			slog.Info("Added transaction",
				"transaction_id", txn.ID,
				"balance", txn.AccountBalance.StringFixed(2))
			return nil
		},
	}

	cmd.Flags().String("date", "", "Transaction date (YYYY-MM-DD, default: now)")
	cmd.Flags().String("category", "", "Category id")

	return cmd
}

func transactionsUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [transaction-id]",
		Short: "Edit a manual transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			var upd ledger.TransactionUpdate
			if amountStr, _ := cmd.Flags().GetString("amount"); amountStr != "" {
				amount, err := decimal.NewFromString(amountStr)
				if err != nil {
					return fmt.Errorf("invalid --amount: %w", err)
				}
				upd.Amount = &amount
			}
			if dateStr, _ := cmd.Flags().GetString("date"); dateStr != "" {
				date, err := time.Parse("2006-01-02", dateStr)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				upd.Timestamp = &date
			}
			if cmd.Flags().Changed("name") {
				name, _ := cmd.Flags().GetString("name")
				upd.Name = &name
			}
			if cmd.Flags().Changed("category") {
				category, _ := cmd.Flags().GetString("category")
				upd.CategoryID = &category
			}

			txn, err := app.ledger.UpdateTransaction(ctx, actingUser(), args[0], upd)
			if err != nil {
				return err
			}

			slog.Info("Updated transaction", "transaction_id", txn.ID)
			return nil
		},
	}

	cmd.Flags().String("amount", "", "New amount")
	cmd.Flags().String("date", "", "New date (YYYY-MM-DD)")
	cmd.Flags().String("name", "", "New name")
	cmd.Flags().String("category", "", "New category id (empty clears)")

	return cmd
}

func transactionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [transaction-id]",
		Short: "Delete a manual transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if err := app.ledger.DeleteTransaction(ctx, actingUser(), args[0]); err != nil {
				return err
			}
			slog.Info("Deleted transaction", "transaction_id", args[0])
			return nil
		},
	}
}

func transactionsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset [transaction-id]",
		Short: "Restore a synced transaction to its provider data",
		Long: `Reset discards local edits on a synced transaction and re-derives its
name, amount, and timestamp from the provider's stored payload, applying
the institution's current name rewrite. Category and group assignments
are kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			txn, err := app.ledger.ResetToProviderData(ctx, actingUser(), args[0])
			if err != nil {
				return err
			}
			slog.Info("Reset transaction", "transaction_id", txn.ID, "name", txn.Name)
			return nil
		},
	}
}

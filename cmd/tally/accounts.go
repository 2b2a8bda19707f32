package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/tallyhq/tally/internal/model"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage accounts",
	}

	cmd.AddCommand(accountsListCmd())
	cmd.AddCommand(accountsAddCmd())
	cmd.AddCommand(accountsDeleteCmd())

	return cmd
}

func accountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			accounts, err := app.store.ListAccounts(ctx, actingUser())
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				slog.Info("No accounts found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tName\tType\tCurrency\tSource")
			for i := range accounts {
				account := &accounts[i]
				source := "manual"
				if account.IsInstitutional() {
					source = "linked"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					account.ID, account.Name, account.Subtype, account.Currency, source)
			}
			return w.Flush()
		},
	}
}

func accountsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Create a manual account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			currency, _ := cmd.Flags().GetString("currency")
			if currency == "" {
				currency = app.cfg.DefaultCurrency
			}
			subtype, _ := cmd.Flags().GetString("type")
			balanceStr, _ := cmd.Flags().GetString("balance")
			balance, err := decimal.NewFromString(balanceStr)
			if err != nil {
				return fmt.Errorf("invalid --balance: %w", err)
			}

			account := model.NewManualAccount(actingUser(), args[0], currency, model.AccountSubtype(subtype), balance)
			if err := account.Validate(); err != nil {
				return err
			}
			if err := app.store.CreateAccount(ctx, account); err != nil {
				return err
			}

			slog.Info("Created account", "account_id", account.ID, "name", account.Name)
			return nil
		},
	}

	cmd.Flags().String("currency", "", "ISO 4217 currency code (default: configured default)")
	cmd.Flags().String("type", "cash", "Account type (depository, credit, loan, investment, cash, property, ledger)")
	cmd.Flags().String("balance", "0", "Initial balance")

	return cmd
}

func accountsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [account-id]",
		Short: "Delete a manual account and its transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if err := app.ledger.DeleteAccount(ctx, actingUser(), args[0]); err != nil {
				return err
			}
			slog.Info("Deleted account", "account_id", args[0])
			return nil
		},
	}
}
